package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// Migrator applies the embedded schema.
type Migrator interface {
	Up() error
	Down() error
	Version() (uint, bool, error)
	Close() error
}

type migrationStatus struct {
	Version uint `json:"version"`
	Dirty   bool `json:"dirty"`
}

func newMigrateCommand(env Env, opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}
	cmd.AddCommand(
		migrateStep("up", "Apply all pending migrations", env, opts, Migrator.Up),
		migrateStep("down", "Roll back the latest migration", env, opts, Migrator.Down),
		migrateStep("version", "Print the current schema version", env, opts, nil),
	)
	return cmd
}

func migrateStep(use, short string, env Env, opts *RootOptions, step func(Migrator) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			if env.Migrator == nil {
				return fmt.Errorf("migrate: not configured")
			}
			m, err := env.Migrator()
			if err != nil {
				return err
			}
			defer func() {
				if closeErr := m.Close(); closeErr != nil && err == nil {
					err = closeErr
				}
			}()
			if step != nil {
				if err := step(m); err != nil {
					return fmt.Errorf("migrate %s: %w", use, err)
				}
			}
			version, dirty, err := m.Version()
			if err != nil {
				return fmt.Errorf("migrate version: %w", err)
			}
			status := migrationStatus{Version: version, Dirty: dirty}
			return render(cmd.OutOrStdout(), opts, status, func(w io.Writer) {
				fmt.Fprintf(w, "schema version %d (dirty=%t)\n", status.Version, status.Dirty)
			})
		},
	}
}
