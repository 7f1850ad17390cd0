package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/warp/tenant-ledger/api"
)

func seedCommand(a *app) *cobra.Command {
	var scenarioID string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Reset the store and load a demo scenario",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := api.LoadScenarioData(cmd.Context(), a.store, scenarioID, time.Now().UTC()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "loaded scenario %s into %s\n", scenarioID, a.cnf.DataSource.Path)
			return nil
		},
	}

	ids := make([]string, 0, len(api.Scenarios()))
	for _, s := range api.Scenarios() {
		ids = append(ids, s.ID)
	}
	cmd.Flags().StringVar(&scenarioID, "scenario", "settlement-demo", "Scenario to load: "+strings.Join(ids, ", "))
	return cmd
}
