package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sakif/backchat/internal/config"
	"github.com/sakif/backchat/internal/server"
)

// newRootCmd builds the backchat command. Run without a subcommand it
// behaves like "serve".
func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "backchat",
		Short: "Session token server for Facebook and Google sign-in",
		Long: `backchat exchanges identity provider access tokens for local user
accounts. POST / with access_token and provider returns the user, creating
the account on first sight.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runServe,
	}
	root.SetVersionTemplate(`{{printf "backchat version %s\n" .Version}}`)

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server (default)",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	})
	root.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Create the database schema and exit",
		Args:  cobra.NoArgs,
		RunE:  runMigrate,
	})
	return root
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup(cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv, err := server.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to create server", slog.String("error", err.Error()))
		return err
	}

	// Start blocks until SIGINT/SIGTERM, then drains and closes.
	if err := srv.Start(ctx); err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
		return err
	}
	return nil
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup(cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	db, err := server.OpenDatabase(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		logger.Error("failed to open database", slog.String("error", err.Error()))
		return err
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		logger.Error("migration failed", slog.String("error", err.Error()))
		return err
	}
	logger.Info("schema up to date", slog.String("dialect", string(db.Dialect())))
	return nil
}

// setup loads the configuration and builds the process logger.
func setup(stderr io.Writer) (config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(stderr, "backchat: %v\n", err)
		return config.Config{}, nil, err
	}

	logger, err := newLogger(cfg, os.Stdout)
	if err != nil {
		return config.Config{}, nil, err
	}
	slog.SetDefault(logger)
	return cfg, logger, nil
}

// newLogger creates the structured logger: text by default, JSON when
// BACKCHAT_LOG_FORMAT=json.
func newLogger(cfg config.Config, w io.Writer) (*slog.Logger, error) {
	level, err := cfg.SlogLevel()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}

	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}
