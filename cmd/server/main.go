/*
main.go - Application entry point

PURPOSE:
  Command line for the tenant ledger. Loads configuration, opens the SQLite
  store and dispatches to a subcommand.

COMMANDS:
  serve     Start the HTTP API with graceful shutdown
  summary   Print the portfolio aging summary as of now (or --as-of)
  seed      Reset the store and load a demo scenario

FLAGS:
  --config  TOML configuration file (default: ledger.toml, optional)
  --db      SQLite database path, overrides configuration
            Use ":memory:" for an in-memory database

ENVIRONMENT:
  See config/config.go. LEDGER_* variables override the file.

EXAMPLES:
  # Run with file database
  ./server serve --db=./data/ledger.db

  # Seed a demo scenario then serve it
  ./server seed --scenario settlement-demo && ./server serve

  # Portfolio snapshot for a past date
  ./server summary --as-of 2024-06-30

SEE ALSO:
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/warp/tenant-ledger/config"
	"github.com/warp/tenant-ledger/store/sqlite"
)

// app carries what PersistentPreRunE sets up for every subcommand.
type app struct {
	cnf   *config.Configuration
	store *sqlite.Store
}

func preRun(a *app, configFile, dbPath *string) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cnf, err := config.InitConfig(*configFile)
		if err != nil {
			return fmt.Errorf("error loading config: %w", err)
		}
		if *dbPath != "" {
			cnf.DataSource.Path = *dbPath
		}

		store, err := sqlite.New(cnf.DataSource.Path)
		if err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}

		a.cnf = cnf
		a.store = store.WithCommitRetries(cnf.CommitRetries())
		return nil
	}
}

func postRun(a *app) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if a.store == nil {
			return nil
		}
		return a.store.Close()
	}
}

func newCLI() *cobra.Command {
	var configFile, dbPath string
	a := &app{}

	rootCmd := &cobra.Command{
		Use:           "server",
		Short:         "Tenant ledger and settlement allocation engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "ledger.toml", "TOML configuration file")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "SQLite database path (overrides config)")

	rootCmd.PersistentPreRunE = preRun(a, &configFile, &dbPath)
	rootCmd.PersistentPostRunE = postRun(a)

	rootCmd.AddCommand(serveCommand(a))
	rootCmd.AddCommand(summaryCommand(a))
	rootCmd.AddCommand(seedCommand(a))

	return rootCmd
}

func main() {
	defer func() {
		if rec := recover(); rec != nil {
			logrus.Error(rec)
			os.Exit(1)
		}
	}()

	if err := newCLI().Execute(); err != nil {
		logrus.WithError(err).Error("command failed")
		os.Exit(1)
	}
}
