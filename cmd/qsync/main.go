package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"quotesync/internal/app"
	"quotesync/internal/config"
	"quotesync/internal/database"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig loads .env from the working directory, then the config file.
// It returns the config and the path it was read from.
func loadConfig() (*config.Config, string, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, "", fmt.Errorf("getting defaults: %w", err)
	}
	if err := config.LoadDotEnv(".env"); err != nil {
		return nil, "", err
	}

	path := defaults.ConfigPath
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", fmt.Errorf("reading config: %w", err)
	}
	return cfg, path, nil
}

// newApp reads the config and creates an App. The caller must defer a.Close().
// operation identifies the CLI command being run (e.g. "SyncRun", "PreviewRun").
func newApp(ctx context.Context, operation string) (*app.App, error) {
	cfg, _, err := loadConfig()
	if err != nil {
		return nil, err
	}

	a, err := app.New(ctx, cfg, operation)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

var rootCmd = &cobra.Command{
	Use:          "qsync",
	Short:        "Quote file storage, previews and snapshot sync",
	SilenceUsage: true,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		if err := config.Init(defaults.ConfigPath, defaults.Config()); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults.ConfigPath)
		fmt.Printf("Base Dir:   %s\n", defaults.BaseDir)
		fmt.Printf("Local Root: %s\n", defaults.LocalRoot)
		fmt.Println("Run `qsync migrate` to create the registry.")
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, path, err := loadConfig()
		if err != nil {
			return err
		}

		fmt.Printf("Configuration from %s:\n\n", path)
		fmt.Printf("Base Dir:    %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:     %s\n", cfg.LogDir)
		fmt.Printf("Storage:     %s\n", cfg.StorageType())
		fmt.Printf("Local Root:  %s\n", cfg.Storage.LocalRoot)
		if cfg.StorageType() == "remote" {
			fmt.Printf("S3 Bucket:   %s\n", cfg.S3.Bucket)
			fmt.Printf("S3 Endpoint: %s\n", valueOr(cfg.S3.Endpoint, "(aws default)"))
		}
		fmt.Printf("Registry:    %s %s\n", cfg.Database.Type, cfg.Database.Path)
		fmt.Printf("Summary:     %s\n", cfg.Summary.Type)
		fmt.Printf("Encryption:  %s\n", cfg.Encryption.Type)
		fmt.Printf("Previews:    %s %v\n", enabled(cfg.Preview.Enabled), cfg.Preview.SizeClasses)
		fmt.Printf("Sync:        max_attempts=%d poll=%s\n", cfg.Sync.MaxAttempts, cfg.Sync.PollInterval.Duration)
		return nil
	},
}

// migrate command
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply registry and summary store migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		if schema, _ := cmd.Flags().GetBool("schema"); schema {
			out, err := database.Schema(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Print(out)
			return nil
		}

		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}

		if status, _ := cmd.Flags().GetBool("status"); status {
			st, err := app.MigrationStatus(cfg)
			if err != nil {
				return err
			}
			fmt.Printf("Registry version: %d (latest %d)\n", st.Version, st.Latest)
			switch {
			case st.Dirty:
				printWarn("Registry is dirty; a previous migration failed")
			case st.Pending() > 0:
				printWarn(fmt.Sprintf("%d migrations pending", st.Pending()))
			default:
				printOK("Registry is up to date")
			}
			return nil
		}

		if err := app.Migrate(cmd.Context(), cfg); err != nil {
			return err
		}
		printOK("Migrations applied")
		return nil
	},
}

// run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the sync and preview workers until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		serveHTTP, _ := cmd.Flags().GetBool("http")

		ctx, stop := signalContext()
		defer stop()

		cfg, path, err := loadConfig()
		if err != nil {
			return err
		}
		a, err := app.New(ctx, cfg, "Run")
		if err != nil {
			return fmt.Errorf("initializing app: %w", err)
		}
		defer a.Close()

		reload := make(chan os.Signal, 1)
		signal.Notify(reload, syscall.SIGHUP)
		defer signal.Stop(reload)

		return a.Run(ctx, app.RunOptions{ServeHTTP: serveHTTP, Reload: reload, ConfigPath: path})
	},
}

// serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve local files and the file listing API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()

		a, err := newApp(ctx, "Serve")
		if err != nil {
			return err
		}
		defer a.Close()

		return a.Serve(ctx)
	},
}

func init() {
	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.Flags().Bool("status", false, "Report the registry schema version without migrating")
	migrateCmd.Flags().Bool("schema", false, "Print the registry schema")
	migrateCmd.MarkFlagsMutuallyExclusive("status", "schema")
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().Bool("http", false, "Also serve the HTTP endpoint")
	rootCmd.AddCommand(serveCmd)
}
