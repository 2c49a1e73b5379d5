package rules

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/tmorrow/claimcore/internal/idgen"
	"github.com/tmorrow/claimcore/internal/logging"
	"github.com/tmorrow/claimcore/internal/metrics"
)

// Input is the claim snapshot a rule evaluation runs against.
type Input struct {
	ClaimID      string
	PolicyID     string
	ClaimantName string
	Amount       float64

	// PreAuthorized is set when the submission carries a pre-authorization
	// attachment. High-value claims without one are flagged for review.
	PreAuthorized bool

	// Optional enrichment. Predicates pass when the data is absent.
	ClaimantAge       int   // 0 = unknown
	ProviderInNetwork *bool // nil = unknown
}

// RuleResult is the verdict of a single rule against a claim.
type RuleResult struct {
	RuleID   string   `json:"ruleId"`
	RuleName string   `json:"ruleName"`
	Type     Type     `json:"type"`
	Priority Priority `json:"priority"`
	Outcome  Outcome  `json:"outcome"`
	Reason   string   `json:"reason,omitempty"`
}

// Evaluation is one full rule-engine run over a claim.
type Evaluation struct {
	ID             string         `json:"id"`
	ClaimID        string         `json:"claimId"`
	Results        []RuleResult   `json:"results"`
	Recommendation Recommendation `json:"recommendation"`
	EvaluatedAt    time.Time      `json:"evaluatedAt"`
}

// EvaluationStore persists evaluation runs.
type EvaluationStore interface {
	Record(ctx context.Context, ev *Evaluation) error
	ListByClaim(ctx context.Context, claimID string) ([]*Evaluation, error)
}

// Evaluator runs the active rule set against claims.
type Evaluator struct {
	catalog Catalog
	store   EvaluationStore
}

// NewEvaluator creates an evaluator over the given catalog. The store may be
// nil when callers do not need evaluation history.
func NewEvaluator(catalog Catalog, store EvaluationStore) *Evaluator {
	return &Evaluator{catalog: catalog, store: store}
}

// Evaluate runs every active rule against the claim in priority order and
// derives a combined recommendation:
//
//   - any fail        -> auto_reject
//   - else any warn   -> manual_review
//   - else            -> auto_approve
//
// An empty active rule set approves; a claim with nothing to check has
// nothing blocking it.
func (e *Evaluator) Evaluate(ctx context.Context, in Input) (*Evaluation, error) {
	start := time.Now()

	active, err := e.catalog.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active rules: %w", err)
	}
	SortByPriority(active)

	ev := &Evaluation{
		ID:          idgen.WithPrefix("eval"),
		ClaimID:     in.ClaimID,
		Results:     make([]RuleResult, 0, len(active)),
		EvaluatedAt: time.Now().UTC(),
	}

	failures, warnings := 0, 0
	for _, r := range active {
		res := applyRule(r, in)
		ev.Results = append(ev.Results, res)
		switch res.Outcome {
		case OutcomeFail:
			failures++
		case OutcomeWarn:
			warnings++
		}
	}

	switch {
	case failures > 0:
		ev.Recommendation = RecommendReject
	case warnings > 0:
		ev.Recommendation = RecommendReview
	default:
		ev.Recommendation = RecommendApprove
	}

	if e.store != nil {
		if err := e.store.Record(ctx, ev); err != nil {
			return nil, fmt.Errorf("record evaluation: %w", err)
		}
	}

	metrics.RuleEvaluationsTotal.WithLabelValues(string(ev.Recommendation)).Inc()
	metrics.EvaluationDuration.Observe(time.Since(start).Seconds())
	logging.Claim(ctx, in.ClaimID).Debug("rules evaluated",
		"rules", len(active),
		"recommendation", ev.Recommendation)

	return ev, nil
}

// applyRule dispatches a rule to the predicate its type names.
func applyRule(r *Rule, in Input) RuleResult {
	res := RuleResult{
		RuleID:   r.ID,
		RuleName: r.Name,
		Type:     r.Type,
		Priority: r.Priority,
		Outcome:  OutcomePass,
	}

	switch r.Type {
	case TypeThreshold:
		if in.Amount > r.Params.MaxAmount {
			res.Outcome = OutcomeFail
			res.Reason = fmt.Sprintf("amount %.2f exceeds maximum %.2f", in.Amount, r.Params.MaxAmount)
		}
	case TypeFraud:
		// The engine-side fraud check is the static one: conspicuously round
		// amounts. Duplicate matching needs claim history and runs in the
		// fraud scorer, which reads this rule's window parameter.
		if isRoundAmount(in.Amount) {
			res.Outcome = OutcomeWarn
			res.Reason = fmt.Sprintf("round amount %.2f is a weak fraud signal", in.Amount)
		}
	case TypeAuthorization:
		if in.Amount > r.Params.AuthThreshold && !in.PreAuthorized {
			res.Outcome = OutcomeWarn
			res.Reason = fmt.Sprintf("amount %.2f above %.2f requires pre-authorization", in.Amount, r.Params.AuthThreshold)
		}
	case TypeValidation:
		if in.ProviderInNetwork != nil && !*in.ProviderInNetwork {
			res.Outcome = OutcomeFail
			res.Reason = "provider is outside the network"
		}
	case TypeEligibility:
		if in.ClaimantAge > 0 {
			min, max := r.Params.MinClaimantAge, r.Params.MaxClaimantAge
			if (min > 0 && in.ClaimantAge < min) || (max > 0 && in.ClaimantAge > max) {
				res.Outcome = OutcomeFail
				res.Reason = fmt.Sprintf("claimant age %d outside eligible range", in.ClaimantAge)
			}
		}
	}

	return res
}

// isRoundAmount reports whether an amount of at least $1,000 is an exact
// multiple of $1,000. Legitimate medical bills rarely land on round numbers.
func isRoundAmount(amount float64) bool {
	if amount < 1000 {
		return false
	}
	return math.Mod(amount, 1000) == 0
}
