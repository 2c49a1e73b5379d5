package receipts

import (
	"context"
	"database/sql"
)

// PostgresStore persists receipt metadata and content in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed receipt store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Create(ctx context.Context, r *Receipt, content []byte) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO receipts (
			id, claim_id, filename, content_type, size_bytes,
			sha256, content, uploaded_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		r.ID, r.ClaimID, r.Filename, r.ContentType, r.SizeBytes,
		r.SHA256, content, r.UploadedAt,
	)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Receipt, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, claim_id, filename, content_type, size_bytes, sha256, uploaded_at
		FROM receipts WHERE id = $1`, id)

	r, err := scanReceipt(row)
	if err == sql.ErrNoRows {
		return nil, ErrReceiptNotFound
	}
	return r, err
}

func (p *PostgresStore) GetContent(ctx context.Context, id string) ([]byte, error) {
	var content []byte
	err := p.db.QueryRowContext(ctx,
		`SELECT content FROM receipts WHERE id = $1`, id).Scan(&content)
	if err == sql.ErrNoRows {
		return nil, ErrReceiptNotFound
	}
	return content, err
}

func (p *PostgresStore) ListByClaim(ctx context.Context, claimID string) ([]*Receipt, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, claim_id, filename, content_type, size_bytes, sha256, uploaded_at
		FROM receipts
		WHERE claim_id = $1
		ORDER BY uploaded_at ASC`, claimID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Receipt
	for rows.Next() {
		r, err := scanReceipt(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanReceipt(sc scanner) (*Receipt, error) {
	r := &Receipt{}
	err := sc.Scan(
		&r.ID, &r.ClaimID, &r.Filename, &r.ContentType, &r.SizeBytes,
		&r.SHA256, &r.UploadedAt,
	)
	if err != nil {
		return nil, err
	}
	return r, nil
}

var _ Store = (*PostgresStore)(nil)
