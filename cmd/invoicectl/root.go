package main

import (
	"github.com/spf13/cobra"

	"invoicer/internal/cli"
	"invoicer/internal/config"
	"invoicer/internal/storage"
)

type rootOptions struct {
	dbPath string
	debug  bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "invoicectl",
		Short: "Operate an invoicer installation",
		Long: `invoicectl manages the invoicer SQLite database and renders invoices offline.

Example:
  invoicectl migrate up
  invoicectl seed --file data/seed.yaml
  invoicectl token create --user u1 --label laptop
  invoicectl render --seed data/seed.yaml --user u1 --month 2025-03 --out march.pdf`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			cli.LoadEnvFile()
			level := "info"
			if opts.debug {
				level = "debug"
			}
			cli.SetupLogger(level)
			if opts.dbPath == "" {
				opts.dbPath = config.Load().SQLiteDBPath
			}
		},
	}
	root.PersistentFlags().StringVar(&opts.dbPath, "db", "", "SQLite database path (default $SQLITE_DB_PATH)")
	root.PersistentFlags().BoolVar(&opts.debug, "debug", false, "enable debug logging")

	root.AddCommand(
		newMigrateCmd(opts),
		newSeedCmd(opts),
		newTokenCmd(opts),
		newRenderCmd(),
	)
	return root
}

func (o *rootOptions) openRepository() (*storage.SQLiteRepository, error) {
	return storage.NewSQLiteRepository(o.dbPath)
}
