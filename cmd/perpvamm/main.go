package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	_ "github.com/lib/pq"
	"github.com/spf13/cobra"

	"PerpVAMM/internal/config"
)

const configFlagName = "config"

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "perpvamm:", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "perpvamm",
		Short:         "Perpetual futures clearing house on a virtual AMM",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String(configFlagName, "", "Path to a YAML config file (PERPVAMM_* variables override it)")

	root.AddCommand(serveCmd(), migrateCmd(), projectionsCmd(), verifyCmd())
	return root
}

func configPath(cmd *cobra.Command) string {
	path, _ := cmd.Flags().GetString(configFlagName)
	return path
}

// openDB opens and pings the Postgres pool.
func openDB(ctx context.Context, cfg config.PostgresConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres open: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return db, nil
}

// withDB runs fn against the database named by the config flag, without
// validating the rest of the config.
func withDB(cmd *cobra.Command, fn func(ctx context.Context, db *sql.DB) error) error {
	cfg, err := config.Read(configPath(cmd))
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	db, err := openDB(ctx, cfg.Postgres)
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(ctx, db)
}
