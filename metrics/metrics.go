// Package metrics exposes Prometheus instruments for the settlement workflow.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/warp/tenant-ledger/ledger"
)

// ─── Settlement ─────────────────────────────────────────────────────────────

var SessionsOpened = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "ledger",
	Subsystem: "settlement",
	Name:      "sessions_opened_total",
	Help:      "Settlement sessions opened.",
})

var AllocationsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "ledger",
	Subsystem: "settlement",
	Name:      "allocations_rejected_total",
	Help:      "Proposal cell edits rejected, by reason.",
}, []string{"reason"})

var Commits = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "ledger",
	Subsystem: "settlement",
	Name:      "commits_total",
	Help:      "Allocation commits, by outcome.",
}, []string{"outcome"})

var CommitDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "ledger",
	Subsystem: "settlement",
	Name:      "commit_duration_seconds",
	Help:      "Latency of the external allocation commit.",
	Buckets:   prometheus.DefBuckets,
})

// ─── Portfolio ──────────────────────────────────────────────────────────────

var PortfolioOutstanding = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "ledger",
	Subsystem: "portfolio",
	Name:      "outstanding",
	Help:      "Outstanding money per aging bucket at the last summary.",
}, []string{"bucket"})

// ObserveRejection counts a rejected cell edit under a stable reason label.
func ObserveRejection(err error) {
	AllocationsRejected.WithLabelValues(rejectionReason(err)).Inc()
}

// ObserveCommit records the outcome and latency of one commit attempt.
func ObserveCommit(started time.Time, err error) {
	CommitDuration.Observe(time.Since(started).Seconds())
	switch {
	case err == nil:
		Commits.WithLabelValues("success").Inc()
	case errors.Is(err, ledger.ErrEmptyProposal):
		Commits.WithLabelValues("empty").Inc()
	default:
		Commits.WithLabelValues("failure").Inc()
	}
}

// ObservePortfolio publishes the aging buckets of a summary.
func ObservePortfolio(s ledger.PortfolioSummary) {
	PortfolioOutstanding.WithLabelValues(ledger.Bucket0To30.String()).Set(s.Aging.Days0To30.InexactFloat64())
	PortfolioOutstanding.WithLabelValues(ledger.Bucket30To60.String()).Set(s.Aging.Days30To60.InexactFloat64())
	PortfolioOutstanding.WithLabelValues(ledger.Bucket60To90.String()).Set(s.Aging.Days60To90.InexactFloat64())
	PortfolioOutstanding.WithLabelValues(ledger.Bucket90Plus.String()).Set(s.Aging.Days90Plus.InexactFloat64())
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, ledger.ErrInvalidAmount):
		return "validation"
	case errors.Is(err, ledger.ErrCapacityExceeded):
		return "capacity"
	case ledger.IsNotFound(err):
		return "unknown"
	case errors.Is(err, ledger.ErrCommitInProgress):
		return "busy"
	default:
		return "other"
	}
}
