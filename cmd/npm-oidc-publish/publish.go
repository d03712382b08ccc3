package main

import (
	"fmt"
	"os"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/npmcli/oidc-attest/internal/oidcprovider"
	"github.com/npmcli/oidc-attest/internal/policy"
	"github.com/npmcli/oidc-attest/pkg/publish"
)

func newPublishCmd() *cobra.Command {
	var (
		tarballPath string
		packageName string
		version     string
		basename    string
		owner       string
		repository  string
		workflow    string
	)

	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish a prepared package tarball using the current CI identity",
		RunE: func(cmd *cobra.Command, args []string) error {
			tarball, err := os.ReadFile(tarballPath)
			if err != nil {
				return fmt.Errorf("reading tarball: %w", err)
			}

			req := publish.Request{
				PackageName:    packageName,
				PackageVersion: version,
				TarballBytes:   tarball,
				Basename:       basename,
			}
			if owner != "" && repository != "" {
				req.Publisher = &policy.TrustedPublisher{
					Type:       policy.PublisherGitHubAction,
					Owner:      owner,
					Repository: repository,
					Workflow:   workflow,
				}
			}

			pipeline := publish.NewPipeline(nil, oidcprovider.OSEnviron{}, clockwork.NewRealClock())

			logrus.Debug("starting keyless publish")
			result, err := pipeline.Publish(cmd.Context(), req)
			if err != nil {
				return err
			}

			logrus.Infof("published %s@%s, rekor entry %s (log index %d)", packageName, version, result.RekorEntryUUID, result.RekorLogIndex)
			return nil
		},
	}

	cmd.Flags().StringVar(&tarballPath, "tarball", "", "path to the prepared package tarball")
	cmd.Flags().StringVar(&packageName, "package", "", "package name, e.g. @scope/name")
	cmd.Flags().StringVar(&version, "version", "", "package version being published")
	cmd.Flags().StringVar(&basename, "basename", "", "tarball filename stem, e.g. name-1.0.0")
	cmd.Flags().StringVar(&owner, "owner", "", "expected repository owner for trusted-publisher enforcement")
	cmd.Flags().StringVar(&repository, "repository", "", "expected repository name for trusted-publisher enforcement")
	cmd.Flags().StringVar(&workflow, "workflow", "", "expected workflow path substring for trusted-publisher enforcement")

	_ = cmd.MarkFlagRequired("tarball")
	_ = cmd.MarkFlagRequired("package")
	_ = cmd.MarkFlagRequired("version")
	_ = cmd.MarkFlagRequired("basename")

	return cmd
}
