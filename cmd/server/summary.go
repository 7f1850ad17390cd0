package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"github.com/warp/tenant-ledger/ledger"
)

func summaryCommand(a *app) *cobra.Command {
	var asOfFlag string
	var outstandingOnly bool

	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Print the portfolio aging summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			asOf := time.Now().UTC()
			if asOfFlag != "" {
				t, err := time.Parse("2006-01-02", asOfFlag)
				if err != nil {
					return fmt.Errorf("invalid --as-of: %w", err)
				}
				asOf = t
			}

			txs, err := a.store.Transactions(cmd.Context(), ledger.TransactionQuery{})
			if err != nil {
				return err
			}

			balances := ledger.BalancesByTenant(txs, asOf)
			if outstandingOnly {
				balances = ledger.WithOutstanding(balances)
			}
			printSummary(cmd.OutOrStdout(), ledger.SummarizePortfolio(txs, asOf), balances, asOf)
			return nil
		},
	}

	cmd.Flags().StringVar(&asOfFlag, "as-of", "", "Valuation date YYYY-MM-DD (default: today)")
	cmd.Flags().BoolVar(&outstandingOnly, "outstanding", true, "Only list tenants with an outstanding balance")
	return cmd
}

func printSummary(w io.Writer, s ledger.PortfolioSummary, balances []ledger.TenantBalance, asOf time.Time) {
	tenants := ledger.BucketTenants(balances)

	fmt.Fprintf(w, "Portfolio as of %s\n", asOf.Format("2006-01-02"))
	fmt.Fprintf(w, "  tenants      %d\n", s.TotalTenants)
	fmt.Fprintf(w, "  outstanding  %s\n", s.TotalOutstanding.StringFixed(2))
	fmt.Fprintf(w, "  overdue      %s\n", s.TotalOverdue.StringFixed(2))
	fmt.Fprintf(w, "  paid         %s\n", s.TotalPaid.StringFixed(2))
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  %-8s %12s %8s\n", "bucket", "amount", "tenants")
	fmt.Fprintf(w, "  %-8s %12s %8d\n", ledger.Bucket0To30, s.Aging.Days0To30.StringFixed(2), tenants.Days0To30)
	fmt.Fprintf(w, "  %-8s %12s %8d\n", ledger.Bucket30To60, s.Aging.Days30To60.StringFixed(2), tenants.Days30To60)
	fmt.Fprintf(w, "  %-8s %12s %8d\n", ledger.Bucket60To90, s.Aging.Days60To90.StringFixed(2), tenants.Days60To90)
	fmt.Fprintf(w, "  %-8s %12s %8d\n", ledger.Bucket90Plus, s.Aging.Days90Plus.StringFixed(2), tenants.Days90Plus)

	if len(balances) == 0 {
		return
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  %-14s %12s %12s %6s\n", "tenant", "outstanding", "overdue", "days")
	for _, b := range balances {
		fmt.Fprintf(w, "  %-14s %12s %12s %6d\n",
			b.TenantID, b.OutstandingBalance.StringFixed(2), b.OverdueBalance.StringFixed(2), b.DaysOverdue)
	}
}
