// Package rules holds the evaluation rule catalog and the engine that runs
// active rules against a submitted claim.
//
// Rules are data, not code: each rule row names a type, a priority, and the
// parameters its predicate needs. The evaluator maps the type to a built-in
// predicate, so adjusters can tune thresholds without a deploy.
package rules

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrRuleNotFound = errors.New("rules: not found")
)

// Type selects the built-in predicate a rule runs.
type Type string

const (
	TypeThreshold     Type = "threshold"
	TypeFraud         Type = "fraud"
	TypeAuthorization Type = "authorization"
	TypeValidation    Type = "validation"
	TypeEligibility   Type = "eligibility"
)

// ValidTypes lists every recognized rule type.
var ValidTypes = []Type{TypeThreshold, TypeFraud, TypeAuthorization, TypeValidation, TypeEligibility}

// Priority orders rule evaluation. Higher priorities run first; ties break
// by rule ID so evaluation order is deterministic.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// priorityRank maps priority to sort weight, highest first.
var priorityRank = map[Priority]int{
	PriorityCritical: 0,
	PriorityHigh:     1,
	PriorityMedium:   2,
	PriorityLow:      3,
}

// Outcome is the verdict of one rule against one claim.
type Outcome string

const (
	OutcomePass Outcome = "pass"
	OutcomeWarn Outcome = "warn"
	OutcomeFail Outcome = "fail"
)

// Recommendation is the combined verdict of an evaluation run.
type Recommendation string

const (
	RecommendApprove Recommendation = "auto_approve"
	RecommendReview  Recommendation = "manual_review"
	RecommendReject  Recommendation = "auto_reject"
)

// Params carries the tunable inputs for a rule's predicate. Fields unused by
// the rule's type are ignored.
type Params struct {
	MaxAmount      float64 `json:"maxAmount,omitempty"`      // threshold: reject above this
	WindowDays     int     `json:"windowDays,omitempty"`     // fraud: duplicate lookback window
	AuthThreshold  float64 `json:"authThreshold,omitempty"`  // authorization: flag above this
	MinClaimantAge int     `json:"minClaimantAge,omitempty"` // eligibility
	MaxClaimantAge int     `json:"maxClaimantAge,omitempty"` // eligibility
}

// Rule is one catalog entry.
type Rule struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Type        Type      `json:"type"`
	Priority    Priority  `json:"priority"`
	Active      bool      `json:"active"`
	Params      Params    `json:"params"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Validate checks the catalog invariants for a rule.
func (r *Rule) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("rules: name is required")
	}
	if _, ok := priorityRank[r.Priority]; !ok {
		return fmt.Errorf("rules: unknown priority %q", r.Priority)
	}
	switch r.Type {
	case TypeThreshold:
		if r.Params.MaxAmount <= 0 {
			return fmt.Errorf("rules: threshold rule requires positive maxAmount")
		}
	case TypeFraud:
		if r.Params.WindowDays < 0 {
			return fmt.Errorf("rules: fraud rule windowDays must not be negative")
		}
	case TypeAuthorization:
		if r.Params.AuthThreshold <= 0 {
			return fmt.Errorf("rules: authorization rule requires positive authThreshold")
		}
	case TypeValidation, TypeEligibility:
		// No required params.
	default:
		return fmt.Errorf("rules: unknown rule type %q", r.Type)
	}
	return nil
}

// Catalog persists the rule set.
type Catalog interface {
	Upsert(ctx context.Context, r *Rule) error
	Get(ctx context.Context, id string) (*Rule, error)
	List(ctx context.Context) ([]*Rule, error)
	ListActive(ctx context.Context) ([]*Rule, error)
	SetActive(ctx context.Context, id string, active bool) (*Rule, error)
}

// SortByPriority orders rules highest priority first, ties broken by ID.
// Mutates the slice in place.
func SortByPriority(list []*Rule) {
	for i := 1; i < len(list); i++ {
		for j := i; j > 0 && lessByPriority(list[j], list[j-1]); j-- {
			list[j], list[j-1] = list[j-1], list[j]
		}
	}
}

func lessByPriority(a, b *Rule) bool {
	ra, rb := priorityRank[a.Priority], priorityRank[b.Priority]
	if ra != rb {
		return ra < rb
	}
	return a.ID < b.ID
}

// SeedRules returns the default catalog installed on first boot.
func SeedRules() []*Rule {
	now := time.Now().UTC()
	return []*Rule{
		{
			ID:          "rule_max_claim_amount",
			Name:        "Maximum Claim Amount",
			Description: "Reject claims exceeding the maximum payable amount",
			Type:        TypeThreshold,
			Priority:    PriorityHigh,
			Active:      true,
			Params:      Params{MaxAmount: 50000},
			CreatedAt:   now,
			UpdatedAt:   now,
		},
		{
			ID:          "rule_duplicate_detection",
			Name:        "Duplicate Detection",
			Description: "Flag claims matching a recent claim on the same policy",
			Type:        TypeFraud,
			Priority:    PriorityCritical,
			Active:      true,
			Params:      Params{WindowDays: 30},
			CreatedAt:   now,
			UpdatedAt:   now,
		},
		{
			ID:          "rule_pre_authorization",
			Name:        "Pre-Authorization",
			Description: "Flag high-value claims lacking pre-authorization for review",
			Type:        TypeAuthorization,
			Priority:    PriorityMedium,
			Active:      true,
			Params:      Params{AuthThreshold: 10000},
			CreatedAt:   now,
			UpdatedAt:   now,
		},
		{
			ID:          "rule_network_provider",
			Name:        "Network Provider Check",
			Description: "Reject claims from providers outside the network",
			Type:        TypeValidation,
			Priority:    PriorityMedium,
			Active:      false,
			CreatedAt:   now,
			UpdatedAt:   now,
		},
		{
			ID:          "rule_age_restrictions",
			Name:        "Age-Based Restrictions",
			Description: "Reject claims for claimants outside the eligible age range",
			Type:        TypeEligibility,
			Priority:    PriorityLow,
			Active:      true,
			Params:      Params{MinClaimantAge: 18, MaxClaimantAge: 120},
			CreatedAt:   now,
			UpdatedAt:   now,
		},
	}
}

// Seed installs the default rules into an empty catalog. A catalog that
// already has rules is left untouched.
func Seed(ctx context.Context, c Catalog) error {
	existing, err := c.List(ctx)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}
	for _, r := range SeedRules() {
		if err := c.Upsert(ctx, r); err != nil {
			return err
		}
	}
	return nil
}
