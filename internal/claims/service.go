package claims

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tmorrow/claimcore/internal/audit"
	"github.com/tmorrow/claimcore/internal/fraud"
	"github.com/tmorrow/claimcore/internal/idgen"
	"github.com/tmorrow/claimcore/internal/logging"
	"github.com/tmorrow/claimcore/internal/metrics"
	"github.com/tmorrow/claimcore/internal/receipts"
	"github.com/tmorrow/claimcore/internal/retry"
	"github.com/tmorrow/claimcore/internal/rules"
	"github.com/tmorrow/claimcore/internal/traces"
	"github.com/tmorrow/claimcore/internal/validation"
)

// EngineActor is the recorded decider for transitions the engine makes.
const EngineActor = "engine"

// casAttempts bounds the optimistic-write retry loop.
const casAttempts = 3

// Service implements the claim lifecycle: submission with inline evaluation,
// and manual decisions on claims the engine held for review.
type Service struct {
	store     Store
	receipts  receipts.Store
	evaluator *rules.Evaluator
	scorer    *fraud.Scorer
	auditLog  audit.Logger
	notifier  Notifier
	agg       *Aggregator

	maxReceiptSize int64
}

// NewService creates the lifecycle service. evaluator and scorer are
// required; auditLog, notifier, and agg may be nil.
func NewService(store Store, receiptStore receipts.Store, evaluator *rules.Evaluator, scorer *fraud.Scorer) *Service {
	return &Service{
		store:     store,
		receipts:  receiptStore,
		evaluator: evaluator,
		scorer:    scorer,
	}
}

// WithAuditLogger attaches an audit logger. Returns the service for chaining.
func (s *Service) WithAuditLogger(l audit.Logger) *Service {
	s.auditLog = l
	return s
}

// WithNotifier attaches a realtime notifier.
func (s *Service) WithNotifier(n Notifier) *Service {
	s.notifier = n
	return s
}

// WithAggregator attaches the count aggregator.
func (s *Service) WithAggregator(a *Aggregator) *Service {
	s.agg = a
	return s
}

// WithMaxReceiptSize caps uploaded receipt files.
func (s *Service) WithMaxReceiptSize(max int64) *Service {
	s.maxReceiptSize = max
	return s
}

// ReceiptUpload is one uploaded bill receipt file.
type ReceiptUpload struct {
	Filename    string
	ContentType string
	Content     []byte
}

// SubmitRequest carries a new claim.
type SubmitRequest struct {
	PolicyID string
	Claimant string
	Amount   string
	Receipts []ReceiptUpload
}

// SubmitResult is what the claimant gets back: the stored claim plus the
// engine's verdicts.
type SubmitResult struct {
	Claim      *Claim            `json:"claim"`
	Evaluation *rules.Evaluation `json:"evaluation,omitempty"`
	Assessment *fraud.Assessment `json:"assessment,omitempty"`
}

// Submit validates and persists a new claim, runs the rule engine and fraud
// scorer, and applies the combined verdict:
//
//   - engine says auto_reject                  -> rejected
//   - both engine and fraud say auto_approve   -> approved
//   - anything flagged for review              -> stays pending
//
// Rule-engine failures leave the claim pending for a human. A risk-score
// timeout fails the whole submission with fraud.ErrDependencyTimeout: the
// claim stays pending with no assessment attached, and the caller retries.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	ctx, span := traces.StartSpan(ctx, "claims.Submit")
	defer span.End()

	errs := validation.Validate(
		validation.Required("policyId", req.PolicyID),
		validation.Required("username", req.Claimant),
		validation.Required("claimedAmt", req.Amount),
		validation.MaxLength("policyId", req.PolicyID, validation.MaxStringLength),
		validation.MaxLength("username", req.Claimant, validation.MaxStringLength),
		validation.PositiveAmount("claimedAmt", req.Amount),
	)
	if len(req.Receipts) == 0 {
		errs = append(errs, validation.ValidationError{
			Field: "billReceipts", Message: "at least one bill receipt is required",
		})
	}
	if len(errs) > 0 {
		return nil, errs
	}

	amount, err := strconv.ParseFloat(req.Amount, 64)
	if err != nil {
		// PositiveAmount already vetted the format; this is belt and braces.
		return nil, validation.ValidationErrors{{Field: "claimedAmt", Message: "not a valid amount"}}
	}

	now := time.Now().UTC()
	claim := &Claim{
		ID:          idgen.WithPrefix("clm"),
		PolicyID:    validation.SanitizeString(req.PolicyID, validation.MaxStringLength),
		Claimant:    validation.SanitizeString(req.Claimant, validation.MaxStringLength),
		Amount:      req.Amount,
		Status:      StatusPending,
		SubmittedAt: now,
		UpdatedAt:   now,
	}
	span.SetAttributes(traces.ClaimID(claim.ID), traces.PolicyID(claim.PolicyID))

	for _, up := range req.Receipts {
		r, err := receipts.New(claim.ID, up.Filename, up.ContentType, up.Content, s.maxReceiptSize)
		if err != nil {
			return nil, fmt.Errorf("receipt %q: %w", up.Filename, err)
		}
		if err := s.receipts.Create(ctx, r, up.Content); err != nil {
			return nil, fmt.Errorf("store receipt %q: %w", up.Filename, err)
		}
		claim.ReceiptIDs = append(claim.ReceiptIDs, r.ID)
	}

	if err := s.store.Create(ctx, claim); err != nil {
		return nil, fmt.Errorf("create claim: %w", err)
	}
	if s.agg != nil {
		s.agg.Apply("", StatusPending)
	}
	_ = audit.Record(ctx, s.auditLog, claim.ID, "submit", "", string(StatusPending), "claim submitted")

	result := &SubmitResult{Claim: claim}
	s.notify("claim.submitted", claim, "")

	ev, evalErr := s.evaluator.Evaluate(ctx, rules.Input{
		ClaimID:       claim.ID,
		PolicyID:      claim.PolicyID,
		ClaimantName:  claim.Claimant,
		Amount:        amount,
		PreAuthorized: hasPreAuthMarker(req.Receipts),
	})
	if evalErr != nil {
		logging.Claim(ctx, claim.ID).Error("rule evaluation failed, claim held for review", "error", evalErr)
		metrics.ClaimsSubmittedTotal.WithLabelValues(string(StatusPending)).Inc()
		return result, nil
	}
	result.Evaluation = ev

	assessment, scoreErr := s.scorer.Assess(ctx, fraud.AssessInput{
		ClaimID:     claim.ID,
		PolicyID:    claim.PolicyID,
		Claimant:    claim.Claimant,
		Amount:      amount,
		SubmittedAt: claim.SubmittedAt,
	})
	if scoreErr != nil {
		if errors.Is(scoreErr, fraud.ErrDependencyTimeout) {
			// The claim is already persisted as pending with no assessment;
			// the caller gets the timeout and retries.
			logging.Claim(ctx, claim.ID).Error("risk score lookup timed out, submission failed", "error", scoreErr)
			metrics.ClaimsSubmittedTotal.WithLabelValues(string(StatusPending)).Inc()
			return nil, fmt.Errorf("fraud assessment: %w", scoreErr)
		}
		logging.Claim(ctx, claim.ID).Error("fraud assessment failed, claim held for review", "error", scoreErr)
		metrics.ClaimsSubmittedTotal.WithLabelValues(string(StatusPending)).Inc()
		return result, nil
	}
	result.Assessment = assessment
	span.SetAttributes(
		traces.Recommendation(string(ev.Recommendation)),
		traces.RiskLevel(string(assessment.Level)))

	risk := &RiskAnnotation{
		Score:   assessment.Score,
		Level:   assessment.Level,
		Reasons: append([]string(nil), assessment.Reasons...),
	}
	meta := engineMeta{
		recommendation: ev.Recommendation,
		evaluationID:   ev.ID,
		assessmentID:   assessment.ID,
	}

	verdict, reason := combineVerdicts(ev, assessment)
	if verdict == StatusPending {
		// Annotate the claim and mark it validated by the engine even though
		// it needs a human decision.
		if err := s.annotate(ctx, claim, risk, true); err != nil {
			logging.Claim(ctx, claim.ID).Warn("could not annotate claim", "error", err)
		}
		metrics.ClaimsSubmittedTotal.WithLabelValues(string(StatusPending)).Inc()
		return result, nil
	}

	// The annotation lands before the decision so the decided claim carries
	// the risk verdict that produced it.
	if err := s.annotate(ctx, claim, risk, false); err != nil {
		logging.Claim(ctx, claim.ID).Warn("could not annotate claim", "error", err)
	}
	decided, err := s.transition(ctx, claim.ID, verdict, EngineActor, reason, meta)
	if err != nil {
		logging.Claim(ctx, claim.ID).Error("engine decision failed, claim held for review", "error", err)
		metrics.ClaimsSubmittedTotal.WithLabelValues(string(StatusPending)).Inc()
		return result, nil
	}
	result.Claim = decided
	metrics.ClaimsSubmittedTotal.WithLabelValues(string(verdict)).Inc()
	return result, nil
}

// hasPreAuthMarker reports whether any uploaded receipt is a
// pre-authorization document, recognized by its filename.
func hasPreAuthMarker(uploads []ReceiptUpload) bool {
	for _, up := range uploads {
		name := strings.ToLower(up.Filename)
		if strings.Contains(name, "preauth") || strings.Contains(name, "pre-auth") || strings.Contains(name, "pre_auth") {
			return true
		}
	}
	return false
}

// engineMeta ties an engine-driven transition back to the evaluation and
// assessment that produced it. Manual decisions carry the zero value.
type engineMeta struct {
	recommendation rules.Recommendation
	evaluationID   string
	assessmentID   string
}

// combineVerdicts folds the rule recommendation and fraud recommendation
// into a lifecycle move. Reject beats review beats approve.
func combineVerdicts(ev *rules.Evaluation, a *fraud.Assessment) (Status, string) {
	if ev.Recommendation == rules.RecommendReject {
		return StatusRejected, "rejected by rule evaluation"
	}
	if ev.Recommendation == rules.RecommendReview || a.Recommendation == rules.RecommendReview {
		return StatusPending, ""
	}
	return StatusApproved, "approved by rule evaluation and fraud screening"
}

// annotate writes the engine's risk verdict onto the claim with the usual
// CAS loop, optionally marking it validated.
func (s *Service) annotate(ctx context.Context, claim *Claim, risk *RiskAnnotation, validated bool) error {
	return retry.Do(ctx, casAttempts, 10*time.Millisecond, func() error {
		current, err := s.store.Get(ctx, claim.ID)
		if err != nil {
			return retry.Permanent(err)
		}
		current.Risk = risk
		if validated {
			current.Validated = true
		}
		if err := s.store.Update(ctx, current); err != nil {
			if errors.Is(err, ErrVersionConflict) {
				metrics.VersionConflictsTotal.Inc()
				return err
			}
			return retry.Permanent(err)
		}
		*claim = *current
		return nil
	})
}

// Decide applies a manual decision to a pending claim.
//
// expectedVersion > 0 makes the write strictly conditional: a stale version
// fails with ErrVersionConflict and the caller re-reads. expectedVersion <= 0
// lets the service re-read and retry a bounded number of times, which is the
// contract the intake UI uses.
func (s *Service) Decide(ctx context.Context, id string, expectedVersion int64, decision Status, actor, reason string) (*Claim, error) {
	ctx, span := traces.StartSpan(ctx, "claims.Decide")
	defer span.End()
	span.SetAttributes(traces.ClaimID(id), traces.ClaimStatus(string(decision)))

	if decision != StatusApproved && decision != StatusRejected {
		return nil, validation.ValidationErrors{{Field: "claimStatus", Message: "decision must be approved or rejected"}}
	}
	if actor == "" {
		actor = "adjuster"
	}

	if expectedVersion > 0 {
		return s.decideVersioned(ctx, id, expectedVersion, decision, actor, reason)
	}
	return s.transition(ctx, id, decision, actor, reason, engineMeta{})
}

// decideVersioned performs one conditional write against the caller's view.
func (s *Service) decideVersioned(ctx context.Context, id string, version int64, decision Status, actor, reason string) (*Claim, error) {
	claim, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanTransition(claim.Status, decision) {
		return nil, transitionError(claim.Status, decision)
	}
	from := claim.Status

	claim.Version = version
	applyDecision(claim, decision, actor)
	if err := s.store.Update(ctx, claim); err != nil {
		if errors.Is(err, ErrVersionConflict) {
			metrics.VersionConflictsTotal.Inc()
		}
		return nil, err
	}

	s.finishTransition(ctx, claim, from, actor, reason, engineMeta{})
	return claim, nil
}

// transition re-reads and retries on conflict, up to casAttempts.
func (s *Service) transition(ctx context.Context, id string, decision Status, actor, reason string, meta engineMeta) (*Claim, error) {
	var claim *Claim
	var from Status

	err := retry.Do(ctx, casAttempts, 10*time.Millisecond, func() error {
		current, err := s.store.Get(ctx, id)
		if err != nil {
			return retry.Permanent(err)
		}
		if !CanTransition(current.Status, decision) {
			return retry.Permanent(transitionError(current.Status, decision))
		}
		from = current.Status
		applyDecision(current, decision, actor)
		if err := s.store.Update(ctx, current); err != nil {
			if errors.Is(err, ErrVersionConflict) {
				metrics.VersionConflictsTotal.Inc()
				return err
			}
			return retry.Permanent(err)
		}
		claim = current
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.finishTransition(ctx, claim, from, actor, reason, meta)
	return claim, nil
}

func applyDecision(c *Claim, decision Status, actor string) {
	now := time.Now().UTC()
	c.Status = decision
	c.Validated = true
	c.DecidedBy = actor
	c.DecidedAt = &now
}

// finishTransition records the side effects of a landed decision.
func (s *Service) finishTransition(ctx context.Context, c *Claim, from Status, actor, reason string, meta engineMeta) {
	if s.agg != nil {
		s.agg.Apply(from, c.Status)
	}
	metrics.ClaimTransitionsTotal.WithLabelValues(actor, string(c.Status)).Inc()
	_ = audit.RecordEntry(ctx, s.auditLog, &audit.Entry{
		ClaimID:      c.ID,
		Operation:    "decide",
		FromStatus:   string(from),
		ToStatus:     string(c.Status),
		Reason:       reason,
		EvaluationID: meta.evaluationID,
		AssessmentID: meta.assessmentID,
	})
	s.notify("claim.decided", c, meta.recommendation)

	logging.Claim(ctx, c.ID).Info("claim decided",
		"from", from,
		"to", c.Status,
		"actor", actor)
}

// notify publishes a lifecycle event. The risk level rides on the claim's
// annotation once the engine has assessed it.
func (s *Service) notify(eventType string, c *Claim, recommendation rules.Recommendation) {
	if s.notifier == nil {
		return
	}
	var level fraud.RiskLevel
	if c.Risk != nil {
		level = c.Risk.Level
	}
	s.notifier.NotifyClaim(Event{
		Type:           eventType,
		ClaimID:        c.ID,
		PolicyID:       c.PolicyID,
		Status:         c.Status,
		Recommendation: recommendation,
		RiskLevel:      level,
		At:             time.Now().UTC(),
	})
}

// Get returns one claim.
func (s *Service) Get(ctx context.Context, id string) (*Claim, error) {
	return s.store.Get(ctx, id)
}

// List returns claims, optionally filtered by status.
func (s *Service) List(ctx context.Context, status Status, limit, offset int) ([]*Claim, error) {
	if status != "" && !ValidStatus(status) {
		return nil, validation.ValidationErrors{{Field: "status", Message: "unknown status"}}
	}
	return s.store.List(ctx, status, limit, offset)
}

// Counts returns the per-status tally, preferring the aggregator's cache.
func (s *Service) Counts(ctx context.Context) (StatusCounts, error) {
	if s.agg != nil {
		return s.agg.Counts(ctx)
	}
	return s.store.CountByStatus(ctx)
}
