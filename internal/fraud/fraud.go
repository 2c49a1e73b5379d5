// Package fraud scores submitted claims for fraud risk.
//
// An assessment combines a base risk score (from an external provider when
// configured, a local heuristic otherwise) with duplicate detection over the
// recent claim history of the same policy. The numeric score maps to a risk
// level, and the level to a routing recommendation.
package fraud

import (
	"context"
	"errors"
	"time"

	"github.com/tmorrow/claimcore/internal/rules"
)

var (
	ErrAssessmentNotFound = errors.New("fraud: assessment not found")
	ErrDependencyTimeout  = errors.New("fraud: score lookup timed out")
)

// RiskLevel buckets a numeric score.
type RiskLevel string

const (
	LevelLow      RiskLevel = "low"
	LevelMedium   RiskLevel = "medium"
	LevelHigh     RiskLevel = "high"
	LevelCritical RiskLevel = "critical"
)

// LevelForScore maps a 0-100 score to a risk level.
func LevelForScore(score int) RiskLevel {
	switch {
	case score >= 90:
		return LevelCritical
	case score >= 75:
		return LevelHigh
	case score >= 50:
		return LevelMedium
	default:
		return LevelLow
	}
}

// Assessment is one fraud scoring run over a claim.
type Assessment struct {
	ID             string               `json:"id"`
	ClaimID        string               `json:"claimId"`
	PolicyID       string               `json:"policyId"`
	Score          int                  `json:"score"`
	Level          RiskLevel            `json:"level"`
	Reasons        []string             `json:"reasons,omitempty"`
	Duplicate      bool                 `json:"duplicate"`
	DuplicateOfID  string               `json:"duplicateOfId,omitempty"`
	Recommendation rules.Recommendation `json:"recommendation"`
	AssessedAt     time.Time            `json:"assessedAt"`
}

// Store persists fraud assessments.
type Store interface {
	Record(ctx context.Context, a *Assessment) error
	GetByClaim(ctx context.Context, claimID string) (*Assessment, error)
	ListByLevel(ctx context.Context, levels []RiskLevel, limit int) ([]*Assessment, error)
}

// HistoricalClaim is the slice of a past claim that duplicate detection needs.
type HistoricalClaim struct {
	ID          string
	PolicyID    string
	Claimant    string
	Amount      float64
	SubmittedAt time.Time
}

// History supplies recent claims for duplicate matching. The claims store
// implements this; the indirection keeps fraud from importing claims.
type History interface {
	RecentByPolicy(ctx context.Context, policyID string, since time.Time) ([]HistoricalClaim, error)
}
