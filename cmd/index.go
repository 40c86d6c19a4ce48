package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the catalog schema and the search index",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		sync, err := initSearch(st)
		if err != nil {
			return err
		}
		if sync != nil {
			if err := sync.EnsureIndex(ctx); err != nil {
				return err
			}
			fmt.Printf("Index %s ready\n", sync.Index())
		}
		fmt.Printf("Store (%s) migrated\n", cfg.Store.Driver)
		return nil
	},
}

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Push every binding not yet in the search index",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
		defer cancel()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		sync, err := requireSearch(st)
		if err != nil {
			return err
		}
		if err := sync.EnsureIndex(ctx); err != nil {
			return err
		}

		n, err := sync.ReindexUnindexed(ctx)
		fmt.Printf("Bindings indexed: %d\n", n)
		return err
	},
}

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete index documents whose binding no longer exists",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
		defer cancel()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		sync, err := requireSearch(st)
		if err != nil {
			return err
		}

		n, err := sync.PruneOrphans(ctx)
		fmt.Printf("Orphan documents deleted: %d\n", n)
		return err
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(reindexCmd)
	rootCmd.AddCommand(pruneCmd)
}
