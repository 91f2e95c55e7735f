package agentdata

import (
	"context"
	"errors"
	"fmt"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"github.com/torusai/agentdata/pkg/client"
	"github.com/torusai/agentdata/pkg/models"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath   string
	EnvFile      string
	DatabaseURL  string
	ContentStore string
	Port         string
	ReadOnly     bool
	LogLevel     string

	config  *Config
	appOpts []Option
}

// NewRootCommand creates the root command for the agentdata CLI. appOpts are
// passed to New for every subcommand that builds an App.
func NewRootCommand(appOpts ...Option) *cobra.Command {
	opts := &RootOptions{appOpts: appOpts}

	cmd := &cobra.Command{
		Use:           "agentdata",
		Short:         "agentdata - AI agent data ingestion and sync service",
		Long:          "Stores agent submissions in a record store and replicates them to a content-addressed store.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			config, err := LoadConfig(opts.ConfigPath, opts.EnvFile)
			if err != nil {
				return err
			}
			opts.applyFlags(cmd, config)
			opts.config = config
			return nil
		},
	}

	// Global flags
	flags := cmd.PersistentFlags()
	flags.StringVarP(&opts.ConfigPath, "config", "c", "", "path to a YAML config file")
	flags.StringVar(&opts.EnvFile, "env-file", "", "path to a .env file loaded before reading the environment")
	flags.StringVar(&opts.DatabaseURL, "database-url", "", "PostgreSQL DSN or sqlite://path")
	flags.StringVar(&opts.ContentStore, "content-store", "", "content store backend (surrealdb|memory)")
	flags.StringVar(&opts.Port, "port", "", "HTTP listen port")
	flags.BoolVar(&opts.ReadOnly, "read-only", false, "start in read-only maintenance mode")
	flags.StringVar(&opts.LogLevel, "log-level", "", "log level (debug|info|warn|error)")

	// Add subcommands
	cmd.AddCommand(newRunCommand(opts))
	cmd.AddCommand(newMigrateCommand(opts))
	cmd.AddCommand(newSyncCommand(opts))
	cmd.AddCommand(newRequeueCommand(opts))
	cmd.AddCommand(newStatsCommand(opts))

	return cmd
}

// applyFlags overrides config with the flags set on the command line.
func (o *RootOptions) applyFlags(cmd *cobra.Command, config *Config) {
	flags := cmd.Flags()
	if flags.Changed("database-url") {
		config.DatabaseURL = o.DatabaseURL
	}
	if flags.Changed("content-store") {
		config.ContentStore = o.ContentStore
	}
	if flags.Changed("port") {
		config.ServerPort = o.Port
	}
	if flags.Changed("read-only") {
		config.ReadOnly = o.ReadOnly
	}
	if flags.Changed("log-level") {
		config.LogLevel = o.LogLevel
	}
}

// withApp creates an App from the loaded config, runs fn and closes the App.
func (o *RootOptions) withApp(ctx context.Context, fn func(*App) error) error {
	app, err := New(ctx, o.config, o.appOpts...)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}
	defer app.Close()
	return fn(app)
}

func newRunCommand(opts *RootOptions) *cobra.Command {
	var migrate bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Serve the HTTP API and run scheduled sync cycles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd.Context(), func(app *App) error {
				if migrate {
					if err := app.Migrate(cmd.Context()); err != nil {
						return err
					}
				}
				if err := app.Run(cmd.Context()); err != nil {
					return fmt.Errorf("server failed: %w", err)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", false, "run database migrations before serving")
	return cmd
}

func newMigrateCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the record store schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd.Context(), func(app *App) error {
				return app.Migrate(cmd.Context())
			})
		},
	}
}

func newSyncCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one sync cycle and print its result as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd.Context(), func(app *App) error {
				result, err := app.RunSync(cmd.Context())
				if err != nil {
					return fmt.Errorf("sync failed: %w", err)
				}
				return writeJSON(cmd, result)
			})
		},
	}
}

func newRequeueCommand(opts *RootOptions) *cobra.Command {
	var allFailed bool
	cmd := &cobra.Command{
		Use:   "requeue [record-id]",
		Short: "Move failed records back to pending",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if allFailed == (len(args) == 1) {
				return errors.New("pass either a record ID or --all-failed")
			}
			return opts.withApp(cmd.Context(), func(app *App) error {
				if allFailed {
					n, err := app.RequeueFailed(cmd.Context())
					if err != nil {
						return err
					}
					return writeJSON(cmd, map[string]int64{"requeued": n})
				}
				id, err := models.ParseRecordID(args[0])
				if err != nil {
					return fmt.Errorf("invalid record ID %q: %w", args[0], err)
				}
				requeued, err := app.Requeue(cmd.Context(), id)
				if err != nil {
					return err
				}
				return writeJSON(cmd, client.RequeueResponse{RecordID: id, Requeued: requeued})
			})
		},
	}
	cmd.Flags().BoolVar(&allFailed, "all-failed", false, "requeue every failed record")
	return cmd
}

func newStatsCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print record counts by sync status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd.Context(), func(app *App) error {
				counts, err := app.Stats(cmd.Context())
				if err != nil {
					return err
				}
				return writeJSON(cmd, counts)
			})
		},
	}
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Main is the entry point for the agentdata binary. It can be called directly
// from tests without building the binary.
//
//	agentdata migrate
//	agentdata run --port 8080
//	agentdata sync --content-store memory
//	agentdata requeue --all-failed
//	agentdata stats
//
// Configuration comes from --config, the environment (DATABASE_URL,
// CONTENT_STORE, SURREALDB_URL, SYNC_BATCH_SIZE, SYNC_SCHEDULE, ...) and the
// global flags, in increasing precedence.
func Main(ctx context.Context, args []string, appOpts ...Option) error {
	cmd := NewRootCommand(appOpts...)
	cmd.SetArgs(args)
	return cmd.ExecuteContext(ctx)
}
