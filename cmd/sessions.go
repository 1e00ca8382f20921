package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func sessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect and clear stored sessions",
	}
	cmd.AddCommand(sessionsListCmd())
	cmd.AddCommand(sessionsClearCmd())
	return cmd
}

func sessionsListCmd() *cobra.Command {
	var account string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			stores, err := openStoresFromConfig()
			if err != nil {
				return err
			}
			infos, err := stores.Sessions.List(context.Background(), account)
			if err != nil {
				return fmt.Errorf("list sessions: %w", err)
			}
			if len(infos) == 0 {
				fmt.Println("No sessions.")
				return nil
			}
			for _, info := range infos {
				fmt.Printf("%-60s  %4d turns  updated %s\n",
					info.Key, info.TurnCount, info.Updated.Format("2006-01-02 15:04"))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&account, "account", "", "filter by account id")
	return cmd
}

func sessionsClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear <session-key>",
		Short: "Delete one session and its history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stores, err := openStoresFromConfig()
			if err != nil {
				return err
			}
			if err := stores.Sessions.Delete(context.Background(), args[0]); err != nil {
				return fmt.Errorf("delete session: %w", err)
			}
			fmt.Printf("Deleted %s.\n", args[0])
			return nil
		},
	}
}
