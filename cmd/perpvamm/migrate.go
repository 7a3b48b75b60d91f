package main

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"PerpVAMM/internal/core"
	"PerpVAMM/internal/persistence"
	"PerpVAMM/internal/projection"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withDB(cmd, func(ctx context.Context, db *sql.DB) error {
					if err := persistence.NewMigrator(db).Up(ctx); err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the last applied migration",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withDB(cmd, func(ctx context.Context, db *sql.DB) error {
					if err := persistence.NewMigrator(db).Down(ctx); err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), "rolled back last migration")
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "pending",
			Short: "List migrations not yet applied",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withDB(cmd, func(ctx context.Context, db *sql.DB) error {
					pending, err := persistence.NewMigrator(db).Pending(ctx)
					if err != nil {
						return err
					}
					for _, f := range pending {
						fmt.Fprintln(cmd.OutOrStdout(), f)
					}
					return nil
				})
			},
		},
	)
	return cmd
}

func projectionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "projections",
		Short: "Maintain the read-side projections",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "rebuild",
		Short: "Rebuild balances and funding payments from the history tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withDB(cmd, func(ctx context.Context, db *sql.DB) error {
				if err := projection.RebuildProjections(ctx, db); err != nil {
					return err
				}
				wm, err := projection.Watermark(ctx, db)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "projections rebuilt up to sequence %d\n", wm)
				return nil
			})
		},
	})
	return cmd
}

func verifyCmd() *cobra.Command {
	var pageSize int
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Walk the persisted output chain and check every hash link",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withDB(cmd, func(ctx context.Context, db *sql.DB) error {
				genesis := core.GenesisHash()
				n, err := persistence.NewRecoveryLoader(db).VerifyChain(ctx, genesis, pageSize)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d outputs verified from genesis %s\n", n, hex.EncodeToString(genesis[:]))
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&pageSize, "page-size", 1000, "Outputs read per query")
	return cmd
}
