package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"cardiavue.org/internal/auth"
	"cardiavue.org/internal/store/pg"
)

func newUserCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage principals",
	}
	cmd.AddCommand(
		newUserCreateCmd(opts),
		newUserSetActiveCmd(opts, "activate", true),
		newUserSetActiveCmd(opts, "deactivate", false),
		newUserListCmd(opts),
	)
	return cmd
}

func newUserCreateCmd(opts *rootOptions) *cobra.Command {
	var in auth.NewUser

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an active principal; the password is read from stdin",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			password, err := opts.readSecret(cmd, "Password: ")
			if err != nil {
				return err
			}
			in.Password = password
			return opts.withUsers(cmd, func(ctx context.Context, store auth.UserStore) error {
				p, err := auth.RegisterUser(ctx, store, auth.NewHasher(opts.bcryptCost), in)
				if errors.Is(err, auth.ErrConflict) {
					return fmt.Errorf("user %q already exists", in.Username)
				}
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "created %s (%s)\n", p.Username, p.Role)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&in.Username, "username", "", "Login name (case-sensitive)")
	cmd.Flags().StringVar(&in.Role, "role", "", "Role: admin, doctor or nurse")
	cmd.Flags().StringVar(&in.Email, "email", "", "Contact email")
	cmd.Flags().StringVar(&in.FullName, "full-name", "", "Display name")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func newUserSetActiveCmd(opts *rootOptions, verb string, active bool) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <username>",
		Short: verb + " a principal; deactivation revokes all outstanding sessions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withUsers(cmd, func(ctx context.Context, store auth.UserStore) error {
				err := store.SetActive(ctx, args[0], active)
				if errors.Is(err, auth.ErrNotFound) {
					return fmt.Errorf("user %q not found", args[0])
				}
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%sd %s\n", verb, args[0])
				return nil
			})
		},
	}
}

func newUserListCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List principals",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withUsers(cmd, func(ctx context.Context, store auth.UserStore) error {
				users, err := store.ListUsers(ctx)
				if err != nil {
					return err
				}
				if opts.output == "json" {
					return printJSON(cmd.OutOrStdout(), users)
				}
				rows := make([][]string, 0, len(users))
				for _, u := range users {
					rows = append(rows, []string{u.Username, string(u.Role), strconv.FormatBool(u.Active), u.Email})
				}
				return printTable(cmd.OutOrStdout(), []string{"USERNAME", "ROLE", "ACTIVE", "EMAIL"}, rows)
			})
		},
	}
}

func (o *rootOptions) withUsers(cmd *cobra.Command, fn func(context.Context, auth.UserStore) error) error {
	db, err := o.open()
	if err != nil {
		return err
	}
	defer db.Close()
	ctx, cancel := context.WithTimeout(cmd.Context(), o.timeout)
	defer cancel()
	return fn(ctx, pg.New(db))
}
