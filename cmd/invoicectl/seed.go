package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"invoicer/internal/storage/memory"
)

func newSeedCmd(opts *rootOptions) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Import users, profiles and matchings from a YAML seed file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			seed, err := memory.LoadSeed(file)
			if err != nil {
				return err
			}
			repo, err := opts.openRepository()
			if err != nil {
				return err
			}
			defer repo.Close()
			if err := seed.Apply(cmd.Context(), repo); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d users from %s\n", len(seed.Users), file)
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "data/seed.yaml", "seed file")
	return cmd
}
