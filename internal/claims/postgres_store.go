package claims

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/tmorrow/claimcore/internal/fraud"
)

// PostgresStore persists claims in PostgreSQL. Optimistic concurrency rides
// on a version column: updates are conditional on the caller's version.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed claim store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Create(ctx context.Context, c *Claim) error {
	if c.Version == 0 {
		c.Version = 1
	}
	riskScore, riskLevel, riskReasons, err := riskColumns(c.Risk)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO claims (id, policy_id, claimant, amount, status, validated, receipt_ids, risk_score, risk_level, risk_reasons, decided_by, decided_at, version, submitted_at, updated_at)
		VALUES ($1, $2, $3, $4::NUMERIC(14,2), $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $14)`,
		c.ID, c.PolicyID, c.Claimant, c.Amount, string(c.Status), c.Validated,
		pq.Array(c.ReceiptIDs), riskScore, riskLevel, riskReasons,
		nullString(c.DecidedBy), c.DecidedAt, c.Version, c.SubmittedAt)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Claim, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, policy_id, claimant, amount::TEXT, status, validated, receipt_ids,
		       risk_score, risk_level, risk_reasons,
		       COALESCE(decided_by, ''), decided_at, version, submitted_at, updated_at
		FROM claims WHERE id = $1`, id)

	c, err := scanClaim(row)
	if err == sql.ErrNoRows {
		return nil, ErrClaimNotFound
	}
	return c, err
}

// Update is a compare-and-swap on the version column. Zero rows affected
// means either the claim is gone or someone got there first; a follow-up
// read distinguishes the two.
func (p *PostgresStore) Update(ctx context.Context, c *Claim) error {
	riskScore, riskLevel, riskReasons, err := riskColumns(c.Risk)
	if err != nil {
		return err
	}
	row := p.db.QueryRowContext(ctx, `
		UPDATE claims SET
			status = $3,
			validated = $4,
			receipt_ids = $5,
			risk_score = $6,
			risk_level = $7,
			risk_reasons = $8,
			decided_by = $9,
			decided_at = $10,
			version = version + 1,
			updated_at = NOW()
		WHERE id = $1 AND version = $2
		RETURNING version, updated_at`,
		c.ID, c.Version, string(c.Status), c.Validated,
		pq.Array(c.ReceiptIDs), riskScore, riskLevel, riskReasons,
		nullString(c.DecidedBy), c.DecidedAt)

	err = row.Scan(&c.Version, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		var stored int64
		check := p.db.QueryRowContext(ctx, `SELECT version FROM claims WHERE id = $1`, c.ID)
		if checkErr := check.Scan(&stored); checkErr == sql.ErrNoRows {
			return ErrClaimNotFound
		} else if checkErr != nil {
			return checkErr
		}
		return fmt.Errorf("%w: claim %s at version %d, caller has %d",
			ErrVersionConflict, c.ID, stored, c.Version)
	}
	return err
}

func (p *PostgresStore) List(ctx context.Context, status Status, limit, offset int) ([]*Claim, error) {
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	var rows *sql.Rows
	var err error
	if status != "" {
		rows, err = p.db.QueryContext(ctx, `
			SELECT id, policy_id, claimant, amount::TEXT, status, validated, receipt_ids,
			       risk_score, risk_level, risk_reasons,
			       COALESCE(decided_by, ''), decided_at, version, submitted_at, updated_at
			FROM claims WHERE status = $1
			ORDER BY submitted_at ASC, id ASC
			LIMIT $2 OFFSET $3`, string(status), limit, offset)
	} else {
		rows, err = p.db.QueryContext(ctx, `
			SELECT id, policy_id, claimant, amount::TEXT, status, validated, receipt_ids,
			       risk_score, risk_level, risk_reasons,
			       COALESCE(decided_by, ''), decided_at, version, submitted_at, updated_at
			FROM claims
			ORDER BY submitted_at ASC, id ASC
			LIMIT $1 OFFSET $2`, limit, offset)
	}
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Claim
	for rows.Next() {
		c, err := scanClaim(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

func (p *PostgresStore) CountByStatus(ctx context.Context) (StatusCounts, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM claims GROUP BY status`)
	if err != nil {
		return StatusCounts{}, err
	}
	defer func() { _ = rows.Close() }()

	var counts StatusCounts
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return StatusCounts{}, err
		}
		switch Status(status) {
		case StatusPending:
			counts.Pending = n
		case StatusApproved:
			counts.Approved = n
		case StatusRejected:
			counts.Rejected = n
		}
	}
	return counts, rows.Err()
}

func (p *PostgresStore) RecentByPolicy(ctx context.Context, policyID string, since time.Time) ([]fraud.HistoricalClaim, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, policy_id, claimant, amount, submitted_at
		FROM claims
		WHERE policy_id = $1 AND submitted_at >= $2
		ORDER BY submitted_at ASC`, policyID, since)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []fraud.HistoricalClaim
	for rows.Next() {
		var h fraud.HistoricalClaim
		if err := rows.Scan(&h.ID, &h.PolicyID, &h.Claimant, &h.Amount, &h.SubmittedAt); err != nil {
			return nil, err
		}
		result = append(result, h)
	}
	return result, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanClaim(sc scanner) (*Claim, error) {
	c := &Claim{}
	var (
		status      string
		receiptIDs  pq.StringArray
		riskScore   sql.NullInt64
		riskLevel   sql.NullString
		riskReasons []byte
		decidedAt   sql.NullTime
	)
	err := sc.Scan(&c.ID, &c.PolicyID, &c.Claimant, &c.Amount, &status, &c.Validated,
		&receiptIDs, &riskScore, &riskLevel, &riskReasons,
		&c.DecidedBy, &decidedAt, &c.Version, &c.SubmittedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	c.Status = Status(status)
	c.ReceiptIDs = []string(receiptIDs)
	if riskScore.Valid {
		risk := &RiskAnnotation{
			Score: int(riskScore.Int64),
			Level: fraud.RiskLevel(riskLevel.String),
		}
		if len(riskReasons) > 0 {
			if err := json.Unmarshal(riskReasons, &risk.Reasons); err != nil {
				return nil, fmt.Errorf("claim %s: decode risk reasons: %w", c.ID, err)
			}
		}
		c.Risk = risk
	}
	if decidedAt.Valid {
		t := decidedAt.Time
		c.DecidedAt = &t
	}
	return c, nil
}

// riskColumns flattens the nullable risk annotation into its three columns.
func riskColumns(r *RiskAnnotation) (sql.NullInt64, sql.NullString, []byte, error) {
	if r == nil {
		return sql.NullInt64{}, sql.NullString{}, nil, nil
	}
	reasons, err := json.Marshal(r.Reasons)
	if err != nil {
		return sql.NullInt64{}, sql.NullString{}, nil, fmt.Errorf("encode risk reasons: %w", err)
	}
	return sql.NullInt64{Int64: int64(r.Score), Valid: true},
		sql.NullString{String: string(r.Level), Valid: true},
		reasons, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

var _ Store = (*PostgresStore)(nil)
