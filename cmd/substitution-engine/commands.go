// cmd/substitution-engine/commands.go
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"substitution-engine/internal/common/config"
	"substitution-engine/internal/store/postgres"
	"substitution-engine/pkg/registry"
)

// runOnce builds the engine, runs fn against it and prints the result as JSON.
func runOnce(cmd *cobra.Command, opts *rootOptions, fn func(ctx context.Context, a *app) (interface{}, error)) error {
	cfg, err := opts.load()
	if err != nil {
		return fmt.Errorf("config load failed: %w", err)
	}
	a, err := newApp(cmd.Context(), cfg, appOptions{withSideEffects: true})
	if err != nil {
		return err
	}
	defer a.close()

	out, err := fn(cmd.Context(), a)
	if out != nil {
		if werr := printJSON(cmd.OutOrStdout(), out); werr != nil {
			return werr
		}
	}
	return err
}

// result drops typed nil pointers so failed calls print nothing.
func result[T any](v *T, err error) (interface{}, error) {
	if v == nil {
		return nil, err
	}
	return v, err
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newSweepCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one expired-timer sweep and print the processed count",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runOnce(cmd, opts, func(ctx context.Context, a *app) (interface{}, error) {
				return result(a.engine.RunExpiredTimerSweep(ctx))
			})
		},
	}
}

func newResolveCmd(opts *rootOptions) *cobra.Command {
	var (
		postingID   string
		candidacyID string
		accept      bool
	)
	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Record a holder's accept or decline",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runOnce(cmd, opts, func(ctx context.Context, a *app) (interface{}, error) {
				return result(a.engine.ResolveConfirmation(ctx, postingID, candidacyID, accept))
			})
		},
	}
	cmd.Flags().StringVar(&postingID, "posting", "", "posting id")
	cmd.Flags().StringVar(&candidacyID, "candidacy", "", "candidacy id")
	cmd.Flags().BoolVar(&accept, "accept", false, "accept the slot (omit to decline)")
	_ = cmd.MarkFlagRequired("posting")
	_ = cmd.MarkFlagRequired("candidacy")
	return cmd
}

func newSelectCmd(opts *rootOptions) *cobra.Command {
	var postingID string
	cmd := &cobra.Command{
		Use:   "select",
		Short: "Promote the first waiting candidate of an open posting",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runOnce(cmd, opts, func(ctx context.Context, a *app) (interface{}, error) {
				return result(a.engine.SelectInitialCandidate(ctx, postingID))
			})
		},
	}
	cmd.Flags().StringVar(&postingID, "posting", "", "posting id")
	_ = cmd.MarkFlagRequired("posting")
	return cmd
}

func newApplyCmd(opts *rootOptions) *cobra.Command {
	var postingID, professionalID string
	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Enqueue a professional on a posting",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runOnce(cmd, opts, func(ctx context.Context, a *app) (interface{}, error) {
				return result(a.engine.Apply(ctx, postingID, professionalID))
			})
		},
	}
	cmd.Flags().StringVar(&postingID, "posting", "", "posting id")
	cmd.Flags().StringVar(&professionalID, "professional", "", "professional id")
	_ = cmd.MarkFlagRequired("posting")
	_ = cmd.MarkFlagRequired("professional")
	return cmd
}

func newPublishCmd(opts *rootOptions) *cobra.Command {
	var postingID string
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Open a draft posting for applications",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runOnce(cmd, opts, func(ctx context.Context, a *app) (interface{}, error) {
				return result(a.engine.PublishPosting(ctx, postingID))
			})
		},
	}
	cmd.Flags().StringVar(&postingID, "posting", "", "posting id")
	_ = cmd.MarkFlagRequired("posting")
	return cmd
}

func newCancelCmd(opts *rootOptions) *cobra.Command {
	var postingID string
	cmd := &cobra.Command{
		Use:   "cancel",
		Short: "Cancel a posting and release its queue",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runOnce(cmd, opts, func(ctx context.Context, a *app) (interface{}, error) {
				return result(a.engine.CancelPosting(ctx, postingID))
			})
		},
	}
	cmd.Flags().StringVar(&postingID, "posting", "", "posting id")
	_ = cmd.MarkFlagRequired("posting")
	return cmd
}

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the Postgres schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return fmt.Errorf("config load failed: %w", err)
			}
			if cfg.Substitution.Store != config.StorePostgres {
				return fmt.Errorf("migrate needs substitution.store=%s", config.StorePostgres)
			}
			cfg.Database.Postgres.AutoMigrate = false

			a, err := newApp(cmd.Context(), cfg, appOptions{})
			if err != nil {
				return err
			}
			defer a.close()

			if err := postgres.Migrate(cmd.Context(), a.pg.DB); err != nil {
				return err
			}
			a.log.Info("schema applied", nil)
			return nil
		},
	}
}

func newRegistryCmd() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "registry",
		Short: "Inspect the workflow activity registry",
	}
	validate := &cobra.Command{
		Use:   "validate",
		Short: "Validate the embedded registry, or the file given by --path",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var (
				reg *registry.ActivityRegistry
				err error
			)
			if path != "" {
				reg, err = registry.LoadRegistry(path)
			} else {
				reg, err = registry.Default()
			}
			if err != nil {
				return fmt.Errorf("failed to load registry: %w", err)
			}
			if err := reg.Validate(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Registry validation passed. Found %d activities.\n", len(reg.Activities))
			return nil
		},
	}
	validate.Flags().StringVar(&path, "path", "", "path to an activities.json file")
	cmd.AddCommand(validate)
	return cmd
}
