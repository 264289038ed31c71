// Package main is the entry point of the medical examination assistant API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/medical-examination-assistant/internal/api"
	"github.com/medical-examination-assistant/internal/bootstrap"
	"github.com/medical-examination-assistant/internal/config"
	"github.com/medical-examination-assistant/internal/database"
	"github.com/medical-examination-assistant/internal/domain"
	"github.com/medical-examination-assistant/internal/setup"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "medexam-server",
		Short:         "Medical examination assistant API server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().String("config", "", "path to the YAML configuration file")

	rootCmd.AddCommand(serveCmd(), migrateCmd(), comparisonsCmd(), setupCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// loadConfig reads and validates the configuration named by --config
func loadConfig(cmd *cobra.Command) (*config.Manager, *logrus.Logger, error) {
	path, _ := cmd.Flags().GetString("config")
	manager, err := config.NewManagerWithFile(path)
	if err != nil {
		return nil, nil, err
	}
	if err := manager.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return manager, bootstrap.NewLogger(manager.GetConfig().Logging), nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			manager, logger, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger.WithField("version", api.Version).Info("Starting medical examination assistant")

			app, err := bootstrap.New(ctx, manager, logger, bootstrap.Options{Metrics: true, AutoMigrate: true})
			if err != nil {
				return fmt.Errorf("failed to initialize: %w", err)
			}
			defer app.Close()

			services := api.Services{
				Store:       app.Store,
				Comparisons: app.Comparisons,
				Speech:      app.Speech,
				Pipeline:    app.Pipeline,
				Matcher:     app.Matcher,
				Patients:    app.Patients,
				Sessions:    app.Sessions,
				Dashboard:   app.Dashboard,
			}
			if app.Telemetry != nil {
				services.Metrics = app.Telemetry.Metrics
				services.MetricsHandler = app.Telemetry.Handler
			}

			server := api.NewServer(app.Config, services, logger)
			if err := server.Start(ctx); err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			logger.Info("Server stopped")
			return nil
		},
	}
}

// migrationStep runs against an open migration runner
type migrationStep func(context.Context, *database.MigrationRunner) error

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the PostgreSQL schema",
	}

	run := func(fn migrationStep) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			manager, logger, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if driver := manager.GetConfig().Storage.Driver; driver != domain.StoragePostgres {
				return fmt.Errorf("migrations apply to the postgres driver only (configured: %s)", driver)
			}
			ctx := cmd.Context()
			return bootstrap.Migrate(ctx, manager, logger, func(r *database.MigrationRunner) error {
				return fn(ctx, r)
			})
		}
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			RunE: run(func(ctx context.Context, r *database.MigrationRunner) error {
				return r.Up(ctx)
			}),
		},
		downCmd(run),
		&cobra.Command{
			Use:   "version",
			Short: "Print the current schema version",
			RunE: run(func(_ context.Context, r *database.MigrationRunner) error {
				state, err := r.Version()
				if err != nil {
					return err
				}
				fmt.Println(state)
				return nil
			}),
		},
	)
	return cmd
}

func downCmd(run func(migrationStep) func(*cobra.Command, []string) error) *cobra.Command {
	var steps int
	cmd := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		RunE: run(func(ctx context.Context, r *database.MigrationRunner) error {
			return r.Down(ctx, steps)
		}),
	}
	cmd.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back, 0 for all")
	return cmd
}

func comparisonsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "comparisons",
		Short: "Export or import AI-vs-doctor comparison records",
	}

	withApp := func(cmd *cobra.Command, fn func(*bootstrap.App) error) error {
		manager, logger, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		app, err := bootstrap.New(cmd.Context(), manager, logger, bootstrap.Options{})
		if err != nil {
			return err
		}
		defer app.Close()
		return fn(app)
	}

	export := &cobra.Command{
		Use:   "export",
		Short: "Write every comparison record as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			out, _ := cmd.Flags().GetString("out")
			return withApp(cmd, func(app *bootstrap.App) error {
				if out == "" || out == "-" {
					return app.Comparisons.ExportJSON(cmd.Context(), os.Stdout)
				}
				f, err := os.Create(out)
				if err != nil {
					return err
				}
				if err := app.Comparisons.ExportJSON(cmd.Context(), f); err != nil {
					_ = f.Close()
					return err
				}
				return f.Close()
			})
		},
	}
	export.Flags().String("out", "-", "output file, - for stdout")

	imp := &cobra.Command{
		Use:   "import",
		Short: "Load comparison records from a JSON export, skipping existing ids",
		RunE: func(cmd *cobra.Command, _ []string) error {
			in, _ := cmd.Flags().GetString("in")
			if in == "" {
				return errors.New("--in is required")
			}
			return withApp(cmd, func(app *bootstrap.App) error {
				f, err := os.Open(in)
				if err != nil {
					return err
				}
				defer f.Close()

				imported, skipped, err := app.Comparisons.ImportJSON(cmd.Context(), f)
				if err != nil {
					return err
				}
				app.Logger.WithFields(logrus.Fields{
					"imported": imported,
					"skipped":  skipped,
				}).Info("Comparisons imported")
				return nil
			})
		},
	}
	imp.Flags().String("in", "", "JSON file produced by export")

	cmd.AddCommand(export, imp)
	return cmd
}

func setupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Register the MCP server with Claude Desktop",
	}

	configPath := func(cmd *cobra.Command) (string, error) {
		if path, _ := cmd.Flags().GetString("client-config"); path != "" {
			return path, nil
		}
		return setup.DefaultConfigPath()
	}

	register := &cobra.Command{
		Use:   "register",
		Short: "Add or update the server entry",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := configPath(cmd)
			if err != nil {
				return err
			}
			binary, _ := cmd.Flags().GetString("binary")
			appConfig, _ := cmd.Flags().GetString("config")
			envPairs, _ := cmd.Flags().GetStringSlice("env")

			env := make(map[string]string, len(envPairs))
			for _, pair := range envPairs {
				key, value, ok := strings.Cut(pair, "=")
				if !ok {
					return fmt.Errorf("invalid --env %q, expected KEY=VALUE", pair)
				}
				env[key] = value
			}

			entry, err := setup.Register(path, setup.Options{BinaryPath: binary, ConfigFile: appConfig, Env: env})
			if err != nil {
				return err
			}
			fmt.Printf("Registered %s in %s\n  command: %s %s\nRestart Claude Desktop to load it.\n",
				setup.ServerKey, path, entry.Command, strings.Join(entry.Args, " "))
			return nil
		},
	}
	register.Flags().String("binary", "", "path to the mcp-server binary (searched when empty)")
	register.Flags().StringSlice("env", nil, "environment passed to the server, KEY=VALUE")

	status := &cobra.Command{
		Use:   "status",
		Short: "Check the registration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := configPath(cmd)
			if err != nil {
				return err
			}
			st, err := setup.Check(path)
			if err != nil {
				return err
			}
			fmt.Printf("Config:     %s\nRegistered: %t\n", st.ConfigPath, st.Registered)
			if st.Registered {
				fmt.Printf("Command:    %s %s\n", st.Entry.Command, strings.Join(st.Entry.Args, " "))
			}
			for _, issue := range st.Issues {
				fmt.Printf("  ! %s\n", issue)
			}
			return nil
		},
	}

	remove := &cobra.Command{
		Use:   "remove",
		Short: "Remove the server entry",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := configPath(cmd)
			if err != nil {
				return err
			}
			return setup.Unregister(path)
		},
	}

	cmd.PersistentFlags().String("client-config", "", "Claude Desktop config file (OS default when empty)")
	cmd.AddCommand(register, status, remove)
	return cmd
}
