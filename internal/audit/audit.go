// Package audit records every claim state transition as an immutable log
// entry: who changed the claim, from what status to what status, and why.
package audit

import (
	"context"
	"database/sql"
	"sync"
	"time"
)

type contextKey string

const (
	ctxActorType contextKey = "audit_actor_type"
	ctxActorID   contextKey = "audit_actor_id"
	ctxIPAddress contextKey = "audit_ip"
	ctxRequestID contextKey = "audit_request_id"
)

// WithActor attaches actor info to the context for audit logging.
func WithActor(ctx context.Context, actorType, actorID string) context.Context {
	ctx = context.WithValue(ctx, ctxActorType, actorType)
	ctx = context.WithValue(ctx, ctxActorID, actorID)
	return ctx
}

// WithIP attaches the client IP for audit logging.
func WithIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, ctxIPAddress, ip)
}

// WithRequestID attaches a request ID for audit correlation.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ctxRequestID, requestID)
}

// ActorFromContext extracts actor info attached by the middleware. The actor
// type defaults to "system" so engine-driven transitions are attributed even
// when no request context is present.
func ActorFromContext(ctx context.Context) (actorType, actorID, ip, requestID string) {
	if v, ok := ctx.Value(ctxActorType).(string); ok {
		actorType = v
	} else {
		actorType = "system"
	}
	if v, ok := ctx.Value(ctxActorID).(string); ok {
		actorID = v
	}
	if v, ok := ctx.Value(ctxIPAddress).(string); ok {
		ip = v
	}
	if v, ok := ctx.Value(ctxRequestID).(string); ok {
		requestID = v
	}
	return
}

// Entry is a single audit log record for a claim transition. Engine-driven
// transitions carry the IDs of the evaluation and fraud assessment that
// triggered them.
type Entry struct {
	ID           int64     `json:"id"`
	ClaimID      string    `json:"claimId"`
	ActorType    string    `json:"actorType"`
	ActorID      string    `json:"actorId,omitempty"`
	Operation    string    `json:"operation"`
	FromStatus   string    `json:"fromStatus,omitempty"`
	ToStatus     string    `json:"toStatus,omitempty"`
	Reason       string    `json:"reason,omitempty"`
	EvaluationID string    `json:"evaluationId,omitempty"`
	AssessmentID string    `json:"assessmentId,omitempty"`
	RequestID    string    `json:"requestId,omitempty"`
	IPAddress    string    `json:"ipAddress,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Logger persists audit entries.
type Logger interface {
	Log(ctx context.Context, entry *Entry) error
	Query(ctx context.Context, claimID string, from, to time.Time, operation string, limit int) ([]*Entry, error)
}

// Record builds an entry from the context actor and logs it. Returns the
// logger's error; callers decide whether audit failure is fatal.
func Record(ctx context.Context, l Logger, claimID, operation, fromStatus, toStatus, reason string) error {
	return RecordEntry(ctx, l, &Entry{
		ClaimID:    claimID,
		Operation:  operation,
		FromStatus: fromStatus,
		ToStatus:   toStatus,
		Reason:     reason,
	})
}

// RecordEntry stamps the caller's entry with the context actor and the
// current time, then logs it. Use this form when the entry carries more
// than Record's arguments, such as the evaluation behind an engine decision.
func RecordEntry(ctx context.Context, l Logger, entry *Entry) error {
	if l == nil {
		return nil
	}
	entry.ActorType, entry.ActorID, entry.IPAddress, entry.RequestID = ActorFromContext(ctx)
	entry.CreatedAt = time.Now().UTC()
	return l.Log(ctx, entry)
}

// --- PostgresLogger ---

// PostgresLogger writes audit entries to PostgreSQL.
type PostgresLogger struct {
	db *sql.DB
}

// NewPostgresLogger creates an audit logger backed by PostgreSQL.
func NewPostgresLogger(db *sql.DB) *PostgresLogger {
	return &PostgresLogger{db: db}
}

func (l *PostgresLogger) Log(ctx context.Context, entry *Entry) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO audit_log (claim_id, actor_type, actor_id, operation, from_status, to_status, reason, evaluation_id, assessment_id, request_id, ip_address, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW())
	`, entry.ClaimID, entry.ActorType, entry.ActorID, entry.Operation,
		entry.FromStatus, entry.ToStatus, entry.Reason,
		entry.EvaluationID, entry.AssessmentID, entry.RequestID, entry.IPAddress)
	return err
}

func (l *PostgresLogger) Query(ctx context.Context, claimID string, from, to time.Time, operation string, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = 100
	}

	var query string
	var args []interface{}

	if operation != "" {
		query = `SELECT id, claim_id, actor_type, COALESCE(actor_id, ''), operation,
			COALESCE(from_status, ''), COALESCE(to_status, ''), COALESCE(reason, ''),
			COALESCE(evaluation_id, ''), COALESCE(assessment_id, ''),
			COALESCE(request_id, ''), COALESCE(ip_address, ''), created_at
			FROM audit_log WHERE claim_id = $1 AND created_at >= $2 AND created_at <= $3 AND operation = $4
			ORDER BY created_at DESC LIMIT $5`
		args = []interface{}{claimID, from, to, operation, limit}
	} else {
		query = `SELECT id, claim_id, actor_type, COALESCE(actor_id, ''), operation,
			COALESCE(from_status, ''), COALESCE(to_status, ''), COALESCE(reason, ''),
			COALESCE(evaluation_id, ''), COALESCE(assessment_id, ''),
			COALESCE(request_id, ''), COALESCE(ip_address, ''), created_at
			FROM audit_log WHERE claim_id = $1 AND created_at >= $2 AND created_at <= $3
			ORDER BY created_at DESC LIMIT $4`
		args = []interface{}{claimID, from, to, limit}
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanEntries(rows)
}

// --- MemoryLogger ---

// MemoryLogger stores audit entries in memory for demo/testing.
type MemoryLogger struct {
	entries []*Entry
	nextID  int64
	mu      sync.RWMutex
}

// NewMemoryLogger creates an in-memory audit logger.
func NewMemoryLogger() *MemoryLogger {
	return &MemoryLogger{}
}

func (l *MemoryLogger) Log(_ context.Context, entry *Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.nextID++
	cp := *entry
	cp.ID = l.nextID
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	l.entries = append(l.entries, &cp)
	return nil
}

func (l *MemoryLogger) Query(_ context.Context, claimID string, from, to time.Time, operation string, limit int) ([]*Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}

	var result []*Entry
	// Reverse iteration gives descending order.
	for i := len(l.entries) - 1; i >= 0 && len(result) < limit; i-- {
		e := l.entries[i]
		if e.ClaimID != claimID {
			continue
		}
		if !from.IsZero() && e.CreatedAt.Before(from) {
			continue
		}
		if !to.IsZero() && e.CreatedAt.After(to) {
			continue
		}
		if operation != "" && e.Operation != operation {
			continue
		}
		cp := *e
		result = append(result, &cp)
	}
	return result, nil
}

// Entries returns all stored audit entries (for testing).
func (l *MemoryLogger) Entries() []*Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	result := make([]*Entry, len(l.entries))
	copy(result, l.entries)
	return result
}

func scanEntries(rows *sql.Rows) ([]*Entry, error) {
	var entries []*Entry
	for rows.Next() {
		e := &Entry{}
		if err := rows.Scan(&e.ID, &e.ClaimID, &e.ActorType, &e.ActorID, &e.Operation,
			&e.FromStatus, &e.ToStatus, &e.Reason,
			&e.EvaluationID, &e.AssessmentID,
			&e.RequestID, &e.IPAddress, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

var (
	_ Logger = (*PostgresLogger)(nil)
	_ Logger = (*MemoryLogger)(nil)
)
