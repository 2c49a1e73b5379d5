package fraud

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"

	"github.com/tmorrow/claimcore/internal/rules"
)

// PostgresStore persists fraud assessments in PostgreSQL. One row per claim;
// re-assessment overwrites.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed assessment store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Record(ctx context.Context, a *Assessment) error {
	reasons, err := json.Marshal(a.Reasons)
	if err != nil {
		return fmt.Errorf("marshal reasons: %w", err)
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO fraud_assessments (id, claim_id, policy_id, score, level, reasons, duplicate, duplicate_of_id, recommendation, assessed_at)
		VALUES ($1, $2, $3, $4, $5, $6::JSONB, $7, $8, $9, $10)
		ON CONFLICT (claim_id) DO UPDATE SET
			id = EXCLUDED.id,
			score = EXCLUDED.score,
			level = EXCLUDED.level,
			reasons = EXCLUDED.reasons,
			duplicate = EXCLUDED.duplicate,
			duplicate_of_id = EXCLUDED.duplicate_of_id,
			recommendation = EXCLUDED.recommendation,
			assessed_at = EXCLUDED.assessed_at`,
		a.ID, a.ClaimID, a.PolicyID, a.Score, string(a.Level), reasons,
		a.Duplicate, nullString(a.DuplicateOfID), string(a.Recommendation), a.AssessedAt)
	return err
}

func (p *PostgresStore) GetByClaim(ctx context.Context, claimID string) (*Assessment, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, claim_id, policy_id, score, level, reasons, duplicate, COALESCE(duplicate_of_id, ''), recommendation, assessed_at
		FROM fraud_assessments WHERE claim_id = $1`, claimID)

	a, err := scanAssessment(row)
	if err == sql.ErrNoRows {
		return nil, ErrAssessmentNotFound
	}
	return a, err
}

func (p *PostgresStore) ListByLevel(ctx context.Context, levels []RiskLevel, limit int) ([]*Assessment, error) {
	if limit <= 0 {
		limit = 100
	}

	var rows *sql.Rows
	var err error
	if len(levels) > 0 {
		names := make([]string, len(levels))
		for i, l := range levels {
			names[i] = string(l)
		}
		rows, err = p.db.QueryContext(ctx, `
			SELECT id, claim_id, policy_id, score, level, reasons, duplicate, COALESCE(duplicate_of_id, ''), recommendation, assessed_at
			FROM fraud_assessments WHERE level = ANY($1)
			ORDER BY assessed_at DESC LIMIT $2`, pq.Array(names), limit)
	} else {
		rows, err = p.db.QueryContext(ctx, `
			SELECT id, claim_id, policy_id, score, level, reasons, duplicate, COALESCE(duplicate_of_id, ''), recommendation, assessed_at
			FROM fraud_assessments
			ORDER BY assessed_at DESC LIMIT $1`, limit)
	}
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Assessment
	for rows.Next() {
		a, err := scanAssessment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanAssessment(sc scanner) (*Assessment, error) {
	a := &Assessment{}
	var (
		level          string
		reasons        []byte
		recommendation string
	)
	err := sc.Scan(&a.ID, &a.ClaimID, &a.PolicyID, &a.Score, &level, &reasons,
		&a.Duplicate, &a.DuplicateOfID, &recommendation, &a.AssessedAt)
	if err != nil {
		return nil, err
	}
	a.Level = RiskLevel(level)
	a.Recommendation = rules.Recommendation(recommendation)
	if len(reasons) > 0 {
		if err := json.Unmarshal(reasons, &a.Reasons); err != nil {
			return nil, fmt.Errorf("unmarshal reasons for assessment %s: %w", a.ID, err)
		}
	}
	return a, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

var _ Store = (*PostgresStore)(nil)
