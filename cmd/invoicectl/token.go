package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"invoicer/internal/auth"
)

func newTokenCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage API tokens",
	}

	var userID, label string
	create := &cobra.Command{
		Use:   "create",
		Short: "Issue a new API token and print it once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == "" {
				return fmt.Errorf("--user is required")
			}
			repo, err := opts.openRepository()
			if err != nil {
				return err
			}
			defer repo.Close()
			if _, err := repo.GetUser(cmd.Context(), userID); err != nil {
				return fmt.Errorf("token for %s: %w", userID, err)
			}
			token, err := auth.NewAuthenticator(repo, nil).Issue(cmd.Context(), userID, label)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	create.Flags().StringVar(&userID, "user", "", "user ID")
	create.Flags().StringVar(&label, "label", "cli", "token label")

	cmd.AddCommand(create)
	return cmd
}
