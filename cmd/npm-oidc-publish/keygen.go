package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/npmcli/oidc-attest/pkg/keyring"
)

func newKeygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate an Ed25519 keypair for offline package signing",
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := keyring.Generate()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), key.PublicPEM)
			fmt.Fprintf(cmd.OutOrStdout(), "key id: %s\n", key.KeyID)
			return nil
		},
	}
}
