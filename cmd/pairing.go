package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/larkpipe/internal/config"
	"github.com/nextlevelbuilder/larkpipe/internal/store"
)

func openStoresFromConfig() (*store.Stores, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return openStores(cfg)
}

func pairingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pairing",
		Short: "Manage DM pairing requests",
	}
	cmd.AddCommand(pairingListCmd())
	cmd.AddCommand(pairingApproveCmd())
	cmd.AddCommand(pairingRevokeCmd())
	return cmd
}

func pairingListCmd() *cobra.Command {
	var channel string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List pending pairing requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			stores, err := openStoresFromConfig()
			if err != nil {
				return err
			}
			reqs, err := stores.Pairing.ListPending(context.Background(), channel)
			if err != nil {
				return fmt.Errorf("list pending: %w", err)
			}
			if len(reqs) == 0 {
				fmt.Println("No pending pairing requests.")
				return nil
			}
			for _, req := range reqs {
				name := req.DisplayName
				if name == "" {
					name = "(unknown)"
				}
				fmt.Printf("%-10s  %-24s  %-10s  %s  %s\n",
					req.Channel, req.ExternalID, req.Code, name,
					req.CreatedAt.Format("2006-01-02 15:04"))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&channel, "channel", "", "filter by channel")
	return cmd
}

func pairingApproveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "approve <code>",
		Short: "Approve a pairing request by code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stores, err := openStoresFromConfig()
			if err != nil {
				return err
			}
			req, err := stores.Pairing.Approve(context.Background(), args[0])
			if err != nil {
				return fmt.Errorf("approve: %w", err)
			}
			fmt.Printf("Approved %s on %s.\n", req.ExternalID, req.Channel)
			return nil
		},
	}
}

func pairingRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <channel> <external-id>",
		Short: "Revoke an approved sender",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			stores, err := openStoresFromConfig()
			if err != nil {
				return err
			}
			if err := stores.Pairing.Revoke(context.Background(), args[0], args[1]); err != nil {
				return fmt.Errorf("revoke: %w", err)
			}
			fmt.Printf("Revoked %s on %s.\n", args[1], args[0])
			return nil
		},
	}
}
