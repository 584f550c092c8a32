// Package cli builds the odyssey command tree.
package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
)

// Exit codes returned by main.
const (
	ExitSuccess      = 0
	ExitFailure      = 1
	ExitCommandError = 2
)

// Env supplies the runtime pieces commands need. Constructors are called
// lazily so that help and flag errors never touch Postgres or Redis.
type Env struct {
	Serve    func(ctx context.Context) error
	Migrator func() (Migrator, error)
	Jobs     func() (*JobsCLI, error)
}

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Format string
}

// NewRootCommand creates the odyssey root command. Running it without a
// subcommand starts the HTTP API.
func NewRootCommand(env Env) *cobra.Command {
	opts := &RootOptions{}
	cmd := &cobra.Command{
		Use:           "odyssey",
		Short:         "Odyssey integration posting service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.Format != "text" && opts.Format != "json" {
				return fmt.Errorf("invalid format %q: must be text or json", opts.Format)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, env)
		},
	}
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(newServeCommand(env))
	cmd.AddCommand(newMigrateCommand(env, opts))
	cmd.AddCommand(newJobsCommand(env, opts))
	return cmd
}

func newServeCommand(env Env) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, env)
		},
	}
}

func runServe(cmd *cobra.Command, env Env) error {
	if env.Serve == nil {
		return fmt.Errorf("serve: not configured")
	}
	return env.Serve(cmd.Context())
}

// render writes v as JSON or through text.
func render(w io.Writer, opts *RootOptions, v any, text func(io.Writer)) error {
	if opts.Format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(w)
	return nil
}
