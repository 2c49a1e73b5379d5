package fraud

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/tmorrow/claimcore/internal/idgen"
	"github.com/tmorrow/claimcore/internal/logging"
	"github.com/tmorrow/claimcore/internal/metrics"
	"github.com/tmorrow/claimcore/internal/rules"
)

// duplicateScoreFloor is the minimum score once a duplicate match is found.
const duplicateScoreFloor = 85

// Options tunes the scorer when the rule catalog does not override them.
type Options struct {
	WindowDays int     // duplicate lookback window
	Tolerance  float64 // amount match tolerance as a fraction, e.g. 0.01
}

// Scorer assesses claims for fraud risk.
type Scorer struct {
	provider ScoreProvider
	fallback ScoreProvider
	history  History
	catalog  rules.Catalog
	store    Store
	opts     Options
}

// NewScorer builds a scorer. provider may equal the static fallback; catalog
// and store may be nil (no rule override, no persistence).
func NewScorer(provider ScoreProvider, history History, catalog rules.Catalog, store Store, opts Options) *Scorer {
	if opts.WindowDays <= 0 {
		opts.WindowDays = 30
	}
	if opts.Tolerance <= 0 {
		opts.Tolerance = 0.01
	}
	return &Scorer{
		provider: provider,
		fallback: NewStaticProvider(),
		history:  history,
		catalog:  catalog,
		store:    store,
		opts:     opts,
	}
}

// AssessInput is the claim snapshot a fraud assessment runs against.
type AssessInput struct {
	ClaimID     string
	PolicyID    string
	Claimant    string
	Amount      float64
	SubmittedAt time.Time
}

// Assess scores one claim. The base score comes from the configured provider.
// A timed-out lookup fails the assessment with ErrDependencyTimeout so the
// caller can surface it and retry; nothing is recorded. Other provider
// failures degrade to the local heuristic with the degradation noted in the
// reasons. Duplicate matches floor the score at 85.
func (s *Scorer) Assess(ctx context.Context, in AssessInput) (*Assessment, error) {
	a := &Assessment{
		ID:         idgen.WithPrefix("frd"),
		ClaimID:    in.ClaimID,
		PolicyID:   in.PolicyID,
		AssessedAt: time.Now().UTC(),
	}

	scoreIn := ScoreInput{
		ClaimID:  in.ClaimID,
		PolicyID: in.PolicyID,
		Claimant: in.Claimant,
		Amount:   in.Amount,
	}

	score, err := s.provider.Score(ctx, scoreIn)
	if err != nil {
		if errors.Is(err, ErrDependencyTimeout) {
			// A timeout is not a verdict. The claim keeps no assessment and
			// the submission fails so the caller can retry.
			logging.Claim(ctx, in.ClaimID).Warn("external score lookup timed out")
			return nil, fmt.Errorf("score lookup: %w", err)
		}
		logging.Claim(ctx, in.ClaimID).Warn("external score lookup failed, using local heuristic", "error", err)
		score, err = s.fallback.Score(ctx, scoreIn)
		if err != nil {
			return nil, fmt.Errorf("fallback score: %w", err)
		}
		a.Reasons = append(a.Reasons, "external risk score unavailable")
	}

	if score >= 50 {
		a.Reasons = append(a.Reasons, fmt.Sprintf("base risk score %d", score))
	}

	dupActive, windowDays := s.duplicateWindow(ctx)
	if dupActive && s.history != nil {
		since := in.SubmittedAt.AddDate(0, 0, -windowDays)
		match, err := s.findDuplicate(ctx, in, since)
		if err != nil {
			return nil, fmt.Errorf("duplicate lookup: %w", err)
		}
		if match != "" {
			a.Duplicate = true
			a.DuplicateOfID = match
			a.Reasons = append(a.Reasons, "duplicate claim detected")
			if score < duplicateScoreFloor {
				score = duplicateScoreFloor
			}
			metrics.DuplicateClaimsTotal.Inc()
		}
	}

	a.Score = score
	a.Level = LevelForScore(score)
	a.Recommendation = recommendationForLevel(a.Level)

	if s.store != nil {
		if err := s.store.Record(ctx, a); err != nil {
			return nil, fmt.Errorf("record assessment: %w", err)
		}
	}

	metrics.FraudAssessmentsTotal.WithLabelValues(string(a.Level)).Inc()
	logging.Claim(ctx, in.ClaimID).Debug("fraud assessed",
		"score", a.Score,
		"level", a.Level,
		"duplicate", a.Duplicate)

	return a, nil
}

// duplicateWindow resolves the lookback window. The Duplicate Detection
// catalog rule overrides the configured default; deactivating that rule turns
// duplicate matching off entirely.
func (s *Scorer) duplicateWindow(ctx context.Context) (bool, int) {
	if s.catalog == nil {
		return true, s.opts.WindowDays
	}
	r, err := s.catalog.Get(ctx, "rule_duplicate_detection")
	if err != nil {
		// Missing rule means the operator removed it. Fall back to defaults
		// rather than silently skipping the check.
		return true, s.opts.WindowDays
	}
	if !r.Active {
		return false, 0
	}
	if r.Params.WindowDays > 0 {
		return true, r.Params.WindowDays
	}
	return true, s.opts.WindowDays
}

// findDuplicate returns the ID of the first prior claim on the same policy
// from the same claimant whose amount is within tolerance.
func (s *Scorer) findDuplicate(ctx context.Context, in AssessInput, since time.Time) (string, error) {
	prior, err := s.history.RecentByPolicy(ctx, in.PolicyID, since)
	if err != nil {
		return "", err
	}
	for _, p := range prior {
		if p.ID == in.ClaimID {
			continue
		}
		if p.Claimant != in.Claimant {
			continue
		}
		if amountsMatch(p.Amount, in.Amount, s.opts.Tolerance) {
			return p.ID, nil
		}
	}
	return "", nil
}

// amountsMatch reports whether two amounts are within tolerance of the
// larger one.
func amountsMatch(a, b, tolerance float64) bool {
	larger := math.Max(math.Abs(a), math.Abs(b))
	if larger == 0 {
		return true
	}
	return math.Abs(a-b) <= larger*tolerance
}

func recommendationForLevel(level RiskLevel) rules.Recommendation {
	switch level {
	case LevelCritical, LevelHigh:
		return rules.RecommendReview
	default:
		return rules.RecommendApprove
	}
}
