package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"cardiavue.org/internal/auth"
)

func newHashPasswordCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password",
		Short: "Print a bcrypt digest for a password read from stdin",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			password, err := opts.readSecret(cmd, "Password: ")
			if err != nil {
				return err
			}
			digest, err := auth.NewHasher(opts.bcryptCost).Hash(password)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), digest)
			return nil
		},
	}
}
