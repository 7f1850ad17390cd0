/*
session.go - Settlement Allocator session

PURPOSE:
  Wraps a Proposal with the interactive lifecycle of one settlement dialog:
  one tenant, one single-writer session.

STATE MACHINE:
  Empty --set(non-zero)--> Editing --commit--> Committing --ok--> Empty
                           ^                              |
                           +------------ error -----------+
  Editing --set(last cell to 0)--> Empty
  any --Discard--> Empty (no external effect)

COMMIT:
  - Empty proposal or missing tenant: ErrEmptyProposal, nothing written
  - Committer called once with every entry, under the session's timeout
  - Failure (including timeout): CommitFailureError, entries retained
  - Success: proposal cleared; capacities move to their post-commit values.
    Aggregates derived elsewhere are stale and must be refetched by the caller.

CONCURRENCY:
  Not safe for concurrent use. Callers serialize access (see api/sessions.go).
*/
package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

type SessionState string

const (
	StateEmpty      SessionState = "empty"
	StateEditing    SessionState = "editing"
	StateCommitting SessionState = "committing"
)

// DefaultCommitTimeout bounds one external commit round trip.
const DefaultCommitTimeout = 10 * time.Second

type Session struct {
	proposal  Proposal
	state     SessionState
	committer Committer
	timeout   time.Duration
}

type SessionOption func(*Session)

// WithCommitTimeout overrides DefaultCommitTimeout. Non-positive values are ignored.
func WithCommitTimeout(d time.Duration) SessionOption {
	return func(s *Session) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// NewSession starts a session over an empty proposal.
func NewSession(proposal Proposal, committer Committer, opts ...SessionOption) *Session {
	s := &Session{
		proposal:  proposal.Clear(),
		state:     StateEmpty,
		committer: committer,
		timeout:   DefaultCommitTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Session) State() SessionState { return s.state }
func (s *Session) Proposal() Proposal  { return s.proposal }

// CanCommit reports whether the commit action should be enabled.
func (s *Session) CanCommit() bool {
	return s.state == StateEditing && s.proposal.TenantID() != "" && !s.proposal.IsEmpty()
}

// SetAllocation applies one cell edit. A rejected edit leaves the session as it was.
func (s *Session) SetAllocation(instrumentID, invoiceID string, amount decimal.Decimal) error {
	if s.state == StateCommitting {
		return ErrCommitInProgress
	}
	next, err := s.proposal.Set(instrumentID, invoiceID, amount)
	if err != nil {
		return err
	}
	s.proposal = next
	s.state = s.editingState()
	return nil
}

// Commit writes the proposal through the committer in one call.
func (s *Session) Commit(ctx context.Context) (CommitReceipt, error) {
	if s.state == StateCommitting {
		return CommitReceipt{}, ErrCommitInProgress
	}
	if !s.CanCommit() {
		return CommitReceipt{}, ErrEmptyProposal
	}

	entries := s.proposal.Entries()
	s.state = StateCommitting

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	receipt, err := s.committer.CommitAllocations(ctx, s.proposal.TenantID(), entries)
	if err != nil {
		s.state = StateEditing
		return CommitReceipt{}, &CommitFailureError{
			TenantID: s.proposal.TenantID(),
			Entries:  len(entries),
			Err:      err,
		}
	}

	s.proposal = s.proposal.Settle()
	s.state = StateEmpty
	return receipt, nil
}

// Discard drops every proposed cell. It never touches external state.
func (s *Session) Discard() {
	s.proposal = s.proposal.Clear()
	s.state = StateEmpty
}

func (s *Session) editingState() SessionState {
	if s.proposal.IsEmpty() {
		return StateEmpty
	}
	return StateEditing
}
