package main

import (
	"context"
	"fmt"
	"os"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/chadiek/prescreen/internal/auth"
	"github.com/chadiek/prescreen/internal/records"
)

var (
	recordsEmail    string
	recordsPassword string
)

var recordsCmd = &cobra.Command{
	Use:   "records",
	Short: "Inspect stored questionnaire records",
}

var recordsListCmd = &cobra.Command{
	Use:   "list",
	Short: "Print the signed-in user's records, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withUser(cmd.Context(), func(ctx context.Context, store records.Store, userID string) error {
			list, err := store.List(ctx, userID)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(list)
		})
	},
}

var recordsDeleteCmd = &cobra.Command{
	Use:   "delete <record-id>",
	Short: "Delete one of the signed-in user's records",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withUser(cmd.Context(), func(ctx context.Context, store records.Store, userID string) error {
			if err := store.Delete(ctx, userID, args[0]); err != nil {
				return err
			}
			fmt.Printf("deleted %s\n", args[0])
			return nil
		})
	},
}

func init() {
	recordsCmd.PersistentFlags().StringVar(&recordsEmail, "email", "", "Sign in with this email instead of the stored session")
	recordsCmd.PersistentFlags().StringVar(&recordsPassword, "password", "", "Password for --email")
	recordsCmd.AddCommand(recordsListCmd)
	recordsCmd.AddCommand(recordsDeleteCmd)
}

// withUser opens the configured store, resolves the user and runs fn.
func withUser(ctx context.Context, fn func(ctx context.Context, store records.Store, userID string) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	store, _, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open record store: %w", err)
	}
	defer closeStore()

	state := auth.NewState(store)
	if recordsEmail != "" {
		if _, err := state.Login(ctx, recordsEmail, recordsPassword); err != nil {
			return err
		}
	} else if err := state.Init(ctx); err != nil {
		return err
	}
	userID, ok := state.UserID()
	if !ok {
		return fmt.Errorf("%w: pass --email and --password", records.ErrNotLoggedIn)
	}
	return fn(ctx, store, userID)
}
