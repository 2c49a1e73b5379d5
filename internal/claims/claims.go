// Package claims owns the claim record and its lifecycle.
//
// Flow:
//  1. Claimant submits a claim with bill receipts → persisted as pending
//  2. Rule engine and fraud scorer run at submission
//  3. Both recommend auto_approve → approved; any rejection → rejected;
//     anything flagged for review stays pending
//  4. An adjuster decides pending claims; approved and rejected are terminal
//
// Writes use optimistic concurrency: every claim carries a version, and an
// update only lands when the caller's version matches the stored one.
package claims

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tmorrow/claimcore/internal/fraud"
	"github.com/tmorrow/claimcore/internal/rules"
)

var (
	ErrClaimNotFound      = errors.New("claims: not found")
	ErrVersionConflict    = errors.New("claims: version conflict")
	ErrIllegalTransition  = errors.New("claims: illegal status transition")
	ErrInvariantViolation = errors.New("claims: store invariant violated")
)

// Status represents the lifecycle state of a claim.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// ValidStatus reports whether s names a known status.
func ValidStatus(s Status) bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected:
		return true
	}
	return false
}

// RiskAnnotation is the fraud scorer's verdict as carried on the claim
// record. Nil until the engine has assessed the claim.
type RiskAnnotation struct {
	Score   int             `json:"score"`
	Level   fraud.RiskLevel `json:"level"`
	Reasons []string        `json:"reasons,omitempty"`
}

// Claim is one insurance claim record.
type Claim struct {
	ID          string          `json:"id"`
	PolicyID    string          `json:"policyId"`
	Claimant    string          `json:"username"`
	Amount      string          `json:"claimedAmt"`
	Status      Status          `json:"claimStatus"`
	Validated   bool            `json:"validated"`
	ReceiptIDs  []string        `json:"billReceipts,omitempty"`
	Risk        *RiskAnnotation `json:"risk,omitempty"`
	DecidedBy   string          `json:"decidedBy,omitempty"`
	DecidedAt   *time.Time      `json:"decidedAt,omitempty"`
	Version     int64           `json:"version"`
	SubmittedAt time.Time       `json:"submittedAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// IsTerminal returns true once the claim can no longer change status.
func (c *Claim) IsTerminal() bool {
	return c.Status == StatusApproved || c.Status == StatusRejected
}

// CanTransition reports whether a claim may move from one status to another.
// Only pending claims move; approved and rejected are terminal.
func CanTransition(from, to Status) bool {
	if from != StatusPending {
		return false
	}
	return to == StatusApproved || to == StatusRejected
}

// StatusCounts is the per-status claim tally the dashboard shows.
type StatusCounts struct {
	Pending  int64 `json:"pending"`
	Approved int64 `json:"approved"`
	Rejected int64 `json:"rejected"`
}

// Total sums all buckets.
func (s StatusCounts) Total() int64 {
	return s.Pending + s.Approved + s.Rejected
}

// Store persists claim records.
//
// Update enforces optimistic concurrency: it only writes when the claim's
// Version field matches the stored version, and bumps the version on success.
// A mismatch returns ErrVersionConflict with the store unchanged.
type Store interface {
	Create(ctx context.Context, c *Claim) error
	Get(ctx context.Context, id string) (*Claim, error)
	Update(ctx context.Context, c *Claim) error
	List(ctx context.Context, status Status, limit, offset int) ([]*Claim, error)
	CountByStatus(ctx context.Context) (StatusCounts, error)
	RecentByPolicy(ctx context.Context, policyID string, since time.Time) ([]fraud.HistoricalClaim, error)
}

// Event is a lifecycle notification pushed to realtime subscribers.
type Event struct {
	Type           string               `json:"type"` // "claim.submitted" or "claim.decided"
	ClaimID        string               `json:"claimId"`
	PolicyID       string               `json:"policyId"`
	Status         Status               `json:"status"`
	Recommendation rules.Recommendation `json:"recommendation,omitempty"`
	RiskLevel      fraud.RiskLevel      `json:"riskLevel,omitempty"`
	At             time.Time            `json:"at"`
}

// Notifier publishes lifecycle events. The realtime hub implements this; the
// indirection keeps claims from importing the transport.
type Notifier interface {
	NotifyClaim(event Event)
}

// transitionError builds an ErrIllegalTransition with both states named.
func transitionError(from, to Status) error {
	return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
}
