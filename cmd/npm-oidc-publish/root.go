package main

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var verbosity string

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "npm-oidc-publish",
		Short:         "Publish an npm package using keyless OIDC provenance",
		Long:          `npm-oidc-publish turns a CI workload's OIDC identity into a signed, transparency-logged SLSA provenance attestation and publishes a package under it.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level, err := logrus.ParseLevel(verbosity)
			if err != nil {
				return err
			}
			logrus.SetOutput(os.Stdout)
			logrus.SetLevel(level)
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&verbosity, "verbose", "v", logrus.InfoLevel.String(), "Verbosity level (debug, info, warn, error, fatal, panic)")

	cmd.AddCommand(newPublishCmd())
	cmd.AddCommand(newKeygenCmd())

	return cmd
}
