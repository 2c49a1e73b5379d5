package rules

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// PostgresCatalog persists the rule catalog in PostgreSQL. Rule params are
// stored as JSONB so new parameters do not need schema changes.
type PostgresCatalog struct {
	db *sql.DB
}

// NewPostgresCatalog creates a PostgreSQL-backed catalog.
func NewPostgresCatalog(db *sql.DB) *PostgresCatalog {
	return &PostgresCatalog{db: db}
}

func (p *PostgresCatalog) Upsert(ctx context.Context, r *Rule) error {
	if err := r.Validate(); err != nil {
		return err
	}

	params, err := json.Marshal(r.Params)
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}

	now := time.Now().UTC()
	row := p.db.QueryRowContext(ctx, `
		INSERT INTO rules (id, name, description, rule_type, priority, active, params, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7::JSONB, $8, $8)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			rule_type = EXCLUDED.rule_type,
			priority = EXCLUDED.priority,
			active = EXCLUDED.active,
			params = EXCLUDED.params,
			updated_at = EXCLUDED.updated_at
		RETURNING created_at, updated_at`,
		r.ID, r.Name, r.Description, string(r.Type), string(r.Priority), r.Active, params, now)

	return row.Scan(&r.CreatedAt, &r.UpdatedAt)
}

func (p *PostgresCatalog) Get(ctx context.Context, id string) (*Rule, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, name, COALESCE(description, ''), rule_type, priority, active, params, created_at, updated_at
		FROM rules WHERE id = $1`, id)

	r, err := scanRule(row)
	if err == sql.ErrNoRows {
		return nil, ErrRuleNotFound
	}
	return r, err
}

func (p *PostgresCatalog) List(ctx context.Context) ([]*Rule, error) {
	return p.list(ctx, `
		SELECT id, name, COALESCE(description, ''), rule_type, priority, active, params, created_at, updated_at
		FROM rules`)
}

func (p *PostgresCatalog) ListActive(ctx context.Context) ([]*Rule, error) {
	return p.list(ctx, `
		SELECT id, name, COALESCE(description, ''), rule_type, priority, active, params, created_at, updated_at
		FROM rules WHERE active = TRUE`)
}

func (p *PostgresCatalog) list(ctx context.Context, query string) ([]*Rule, error) {
	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// Priority order lives in application code, not SQL: the rank of
	// "critical" vs "high" is an engine concern.
	SortByPriority(result)
	return result, nil
}

func (p *PostgresCatalog) SetActive(ctx context.Context, id string, active bool) (*Rule, error) {
	res, err := p.db.ExecContext(ctx, `
		UPDATE rules SET active = $2, updated_at = NOW()
		WHERE id = $1 AND active <> $2`, id, active)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Either missing or already in the requested state. Get distinguishes.
		return p.Get(ctx, id)
	}
	return p.Get(ctx, id)
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRule(sc scanner) (*Rule, error) {
	r := &Rule{}
	var (
		ruleType string
		priority string
		params   []byte
	)
	err := sc.Scan(&r.ID, &r.Name, &r.Description, &ruleType, &priority, &r.Active, &params, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	r.Type = Type(ruleType)
	r.Priority = Priority(priority)
	if len(params) > 0 {
		if err := json.Unmarshal(params, &r.Params); err != nil {
			return nil, fmt.Errorf("unmarshal params for rule %s: %w", r.ID, err)
		}
	}
	return r, nil
}

var _ Catalog = (*PostgresCatalog)(nil)

// PostgresEvaluationStore persists evaluation runs in PostgreSQL.
type PostgresEvaluationStore struct {
	db *sql.DB
}

// NewPostgresEvaluationStore creates a PostgreSQL-backed evaluation store.
func NewPostgresEvaluationStore(db *sql.DB) *PostgresEvaluationStore {
	return &PostgresEvaluationStore{db: db}
}

func (p *PostgresEvaluationStore) Record(ctx context.Context, ev *Evaluation) error {
	results, err := json.Marshal(ev.Results)
	if err != nil {
		return fmt.Errorf("marshal results: %w", err)
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO evaluations (id, claim_id, results, recommendation, evaluated_at)
		VALUES ($1, $2, $3::JSONB, $4, $5)`,
		ev.ID, ev.ClaimID, results, string(ev.Recommendation), ev.EvaluatedAt)
	return err
}

func (p *PostgresEvaluationStore) ListByClaim(ctx context.Context, claimID string) ([]*Evaluation, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, claim_id, results, recommendation, evaluated_at
		FROM evaluations WHERE claim_id = $1
		ORDER BY evaluated_at DESC`, claimID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Evaluation
	for rows.Next() {
		ev := &Evaluation{}
		var (
			results        []byte
			recommendation string
		)
		if err := rows.Scan(&ev.ID, &ev.ClaimID, &results, &recommendation, &ev.EvaluatedAt); err != nil {
			return nil, err
		}
		ev.Recommendation = Recommendation(recommendation)
		if len(results) > 0 {
			if err := json.Unmarshal(results, &ev.Results); err != nil {
				return nil, fmt.Errorf("unmarshal results for evaluation %s: %w", ev.ID, err)
			}
		}
		result = append(result, ev)
	}
	return result, rows.Err()
}

var _ EvaluationStore = (*PostgresEvaluationStore)(nil)
