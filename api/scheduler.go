/*
scheduler.go - Periodic portfolio metrics refresh

PURPOSE:
  The portfolio aging gauges only move when someone asks for a summary.
  This scheduler recomputes the summary on an interval so /metrics stays
  current for dashboards that never call the API.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Reads every transaction through the Reader and calls SummarizePortfolio
  - Read-only: never writes to the store

CONFIGURATION:
  - CheckInterval: How often to refresh (default: 1 minute)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewPortfolioScheduler(store)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: GetPortfolioSummary (on-demand refresh)
  - metrics/metrics.go: Gauges
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/warp/tenant-ledger/ledger"
	"github.com/warp/tenant-ledger/metrics"
)

// PortfolioScheduler refreshes portfolio gauges in the background.
type PortfolioScheduler struct {
	Reader        ledger.Reader
	CheckInterval time.Duration
	Enabled       bool

	now    func() time.Time
	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex

	stateMu sync.Mutex
	lastRun time.Time
}

// NewPortfolioScheduler creates a new scheduler.
func NewPortfolioScheduler(reader ledger.Reader) *PortfolioScheduler {
	return &PortfolioScheduler{
		Reader:        reader,
		CheckInterval: time.Minute,
		Enabled:       true,
		now:           func() time.Time { return time.Now().UTC() },
		stop:          make(chan struct{}),
	}
}

// Start begins the scheduler.
func (ps *PortfolioScheduler) Start() {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if !ps.Enabled || ps.CheckInterval <= 0 {
		logrus.Info("portfolio scheduler disabled")
		return
	}

	ps.ticker = time.NewTicker(ps.CheckInterval)
	ps.wg.Add(1)

	go ps.run()

	logrus.WithField("interval", ps.CheckInterval).Info("portfolio scheduler started")
}

// Stop stops the scheduler.
func (ps *PortfolioScheduler) Stop() {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if ps.ticker != nil {
		ps.ticker.Stop()
		close(ps.stop)
		ps.wg.Wait()
		ps.ticker = nil
		logrus.Info("portfolio scheduler stopped")
	}
}

func (ps *PortfolioScheduler) run() {
	defer ps.wg.Done()

	// Run immediately on start
	ps.refresh(context.Background())

	for {
		select {
		case <-ps.ticker.C:
			ps.refresh(context.Background())
		case <-ps.stop:
			return
		}
	}
}

// RunNow triggers an immediate refresh and returns the computed summary.
func (ps *PortfolioScheduler) RunNow(ctx context.Context) (ledger.PortfolioSummary, error) {
	return ps.refresh(ctx)
}

// LastRun returns when the gauges were last refreshed, zero if never.
func (ps *PortfolioScheduler) LastRun() time.Time {
	ps.stateMu.Lock()
	defer ps.stateMu.Unlock()
	return ps.lastRun
}

func (ps *PortfolioScheduler) refresh(ctx context.Context) (ledger.PortfolioSummary, error) {
	txs, err := ps.Reader.Transactions(ctx, ledger.TransactionQuery{})
	if err != nil {
		logrus.WithError(err).Warn("portfolio refresh failed")
		return ledger.PortfolioSummary{}, err
	}

	asOf := ps.now()
	summary := ledger.SummarizePortfolio(txs, asOf)
	metrics.ObservePortfolio(summary)

	ps.stateMu.Lock()
	ps.lastRun = asOf
	ps.stateMu.Unlock()

	logrus.WithFields(logrus.Fields{
		"tenants":     summary.TotalTenants,
		"outstanding": summary.TotalOutstanding.String(),
	}).Debug("portfolio metrics refreshed")
	return summary, nil
}
