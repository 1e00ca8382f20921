package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/larkpipe/internal/config"
	"github.com/nextlevelbuilder/larkpipe/internal/store"
)

func retentionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retention",
		Short: "Run one retention sweep and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			stores, err := openStores(cfg)
			if err != nil {
				return err
			}
			sweeper, err := store.NewRetentionSweeper(stores, retentionPolicy(cfg))
			if err != nil {
				return err
			}
			pairings, swept, err := sweeper.SweepOnce(context.Background())
			if err != nil {
				return err
			}
			fmt.Printf("Removed %d expired pairing requests, %d idle sessions.\n", pairings, swept)
			return nil
		},
	}
}
