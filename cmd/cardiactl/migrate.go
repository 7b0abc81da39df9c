package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"cardiavue.org/internal/auth"
	"cardiavue.org/internal/migrate"
	"cardiavue.org/internal/store/pg"
)

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or inspect schema migrations",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return opts.withManager(cmd, func(ctx context.Context, m *migrate.Manager) error {
					if err := m.Up(ctx); err != nil {
						return err
					}
					_, _ = fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the most recent migration",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return opts.withManager(cmd, func(ctx context.Context, m *migrate.Manager) error {
					if err := m.Down(ctx); err != nil {
						return err
					}
					_, _ = fmt.Fprintln(cmd.OutOrStdout(), "rolled back one migration")
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "List embedded migrations and whether they are applied",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return opts.withManager(cmd, func(ctx context.Context, m *migrate.Manager) error {
					states, err := m.Status(ctx)
					if err != nil {
						return err
					}
					if opts.output == "json" {
						return printJSON(cmd.OutOrStdout(), states)
					}
					rows := make([][]string, 0, len(states))
					for _, s := range states {
						applied := "pending"
						if s.Applied {
							applied = "applied"
						}
						rows = append(rows, []string{fmt.Sprint(s.Version), s.Source, applied})
					}
					return printTable(cmd.OutOrStdout(), []string{"VERSION", "SOURCE", "STATE"}, rows)
				})
			},
		},
	)
	return cmd
}

func newSeedCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Load the demo users, clinics, patients and transmissions once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withManager(cmd, func(ctx context.Context, m *migrate.Manager) error {
				store := pg.New(m.DB())
				applied, err := m.SeedDemo(ctx, store, store, auth.NewHasher(opts.bcryptCost))
				if err != nil {
					return err
				}
				if len(applied) == 0 {
					_, _ = fmt.Fprintln(cmd.OutOrStdout(), "demo data already present")
					return nil
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "applied seeds: %s\n", strings.Join(applied, ", "))
				return nil
			})
		},
	}
}

func (o *rootOptions) withManager(cmd *cobra.Command, fn func(context.Context, *migrate.Manager) error) error {
	db, err := o.open()
	if err != nil {
		return err
	}
	defer db.Close()
	ctx, cancel := context.WithTimeout(cmd.Context(), o.timeout)
	defer cancel()
	return fn(ctx, migrate.NewManager(db))
}
