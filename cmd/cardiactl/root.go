package main

import (
	"bufio"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/term"

	"cardiavue.org/internal/obs"
)

const dsnEnv = "CARDIAVUE_PG_DSN"

// env carries the process dependencies so tests can swap them.
type env struct {
	openDB       func(dsn string) (*sql.DB, error)
	isTerminal   func() bool
	readPassword func() ([]byte, error)
}

func defaultEnv() env {
	return env{
		openDB: func(dsn string) (*sql.DB, error) { return sql.Open("pgx", dsn) },
		isTerminal: func() bool {
			return term.IsTerminal(int(os.Stdin.Fd()))
		},
		readPassword: func() ([]byte, error) {
			return term.ReadPassword(int(os.Stdin.Fd()))
		},
	}
}

type rootOptions struct {
	env        env
	dsn        string
	bcryptCost int
	timeout    time.Duration
	output     string
}

func newRootCmd(e env) *cobra.Command {
	opts := &rootOptions{env: e}

	cmd := &cobra.Command{
		Use:           "cardiactl",
		Short:         "Administer the CardiaVue database and user accounts",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.dsn, "dsn", os.Getenv(dsnEnv), "PostgreSQL DSN (default $"+dsnEnv+")")
	cmd.PersistentFlags().IntVar(&opts.bcryptCost, "bcrypt-cost", bcrypt.DefaultCost, "bcrypt work factor for new password digests")
	cmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", time.Minute, "Overall deadline for database work")
	cmd.PersistentFlags().StringVarP(&opts.output, "output", "o", "table", "Output format: table or json")

	cmd.AddCommand(
		newMigrateCmd(opts),
		newSeedCmd(opts),
		newUserCmd(opts),
		newHashPasswordCmd(opts),
		newVersionCmd(),
	)
	return cmd
}

func (o *rootOptions) open() (*sql.DB, error) {
	if strings.TrimSpace(o.dsn) == "" {
		return nil, errors.New("missing DSN: provide --dsn or " + dsnEnv)
	}
	db, err := o.env.openDB(o.dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	return db, nil
}

// readSecret reads a password from stdin: without echo on a terminal,
// otherwise the first line of piped input.
func (o *rootOptions) readSecret(cmd *cobra.Command, prompt string) (string, error) {
	if o.env.isTerminal() {
		_, _ = fmt.Fprint(cmd.ErrOrStderr(), prompt)
		raw, err := o.env.readPassword()
		_, _ = fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return string(raw), nil
	}
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read password: %w", err)
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", errors.New("empty password on stdin")
	}
	return line, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "cardiactl %s (%s)\n", obs.Version, obs.Commit)
			return nil
		},
	}
}
