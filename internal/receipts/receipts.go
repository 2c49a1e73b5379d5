// Package receipts stores the bill receipt files uploaded with a claim.
//
// A receipt is kept as opaque bytes plus metadata. Claims reference receipts
// by ID; the claim record itself never carries file content.
package receipts

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/tmorrow/claimcore/internal/idgen"
)

var (
	ErrReceiptNotFound = errors.New("receipts: not found")
	ErrTooLarge        = errors.New("receipts: file exceeds size limit")
	ErrEmptyFile       = errors.New("receipts: file is empty")
)

// Receipt is the stored metadata for one uploaded bill receipt.
type Receipt struct {
	ID          string    `json:"id"`
	ClaimID     string    `json:"claimId"`
	Filename    string    `json:"filename"`
	ContentType string    `json:"contentType"`
	SizeBytes   int64     `json:"sizeBytes"`
	SHA256      string    `json:"sha256"`
	UploadedAt  time.Time `json:"uploadedAt"`
}

// Store persists receipt metadata and content.
type Store interface {
	Create(ctx context.Context, r *Receipt, content []byte) error
	Get(ctx context.Context, id string) (*Receipt, error)
	GetContent(ctx context.Context, id string) ([]byte, error)
	ListByClaim(ctx context.Context, claimID string) ([]*Receipt, error)
}

// New builds a Receipt for uploaded content, computing its SHA-256 and
// enforcing the size limit. maxSize <= 0 means unlimited.
func New(claimID, filename, contentType string, content []byte, maxSize int64) (*Receipt, error) {
	if len(content) == 0 {
		return nil, ErrEmptyFile
	}
	if maxSize > 0 && int64(len(content)) > maxSize {
		return nil, fmt.Errorf("%w: %d bytes (limit %d)", ErrTooLarge, len(content), maxSize)
	}

	sum := sha256.Sum256(content)
	return &Receipt{
		ID:          idgen.WithPrefix("rcpt"),
		ClaimID:     claimID,
		Filename:    filename,
		ContentType: contentType,
		SizeBytes:   int64(len(content)),
		SHA256:      hex.EncodeToString(sum[:]),
		UploadedAt:  time.Now().UTC(),
	}, nil
}
