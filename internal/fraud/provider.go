package fraud

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"time"

	"github.com/tmorrow/claimcore/internal/metrics"
)

// ScoreInput is the claim snapshot a provider scores.
type ScoreInput struct {
	ClaimID  string  `json:"claimId"`
	PolicyID string  `json:"policyId"`
	Claimant string  `json:"claimant"`
	Amount   float64 `json:"amount"`
}

// ScoreProvider produces a base 0-100 risk score for a claim.
type ScoreProvider interface {
	Score(ctx context.Context, in ScoreInput) (int, error)
}

// StaticProvider scores claims with a local heuristic. It backs the demo
// deployment and is the fallback when the external provider is unreachable.
type StaticProvider struct{}

// NewStaticProvider creates the heuristic score provider.
func NewStaticProvider() *StaticProvider {
	return &StaticProvider{}
}

func (p *StaticProvider) Score(_ context.Context, in ScoreInput) (int, error) {
	score := 10
	if in.Amount >= 10000 {
		score += 20
	}
	if in.Amount >= 50000 {
		score += 25
	}
	if in.Amount >= 1000 && math.Mod(in.Amount, 1000) == 0 {
		score += 15
	}
	if score > 100 {
		score = 100
	}
	return score, nil
}

// HTTPProvider asks an external risk-scoring service for the base score.
type HTTPProvider struct {
	baseURL string
	client  *http.Client
}

// NewHTTPProvider creates a provider against the given service URL. The
// timeout bounds the whole lookup; a slow scorer must not hold up claim
// submission indefinitely.
func NewHTTPProvider(baseURL string, timeout time.Duration) *HTTPProvider {
	return &HTTPProvider{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

type scoreResponse struct {
	Score int `json:"score"`
}

func (p *HTTPProvider) Score(ctx context.Context, in ScoreInput) (int, error) {
	u, err := url.JoinPath(p.baseURL, "/score")
	if err != nil {
		return 0, fmt.Errorf("build score url: %w", err)
	}

	body, err := json.Marshal(in)
	if err != nil {
		return 0, fmt.Errorf("marshal score request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("build score request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			metrics.ScoreLookupTimeoutsTotal.Inc()
			return 0, fmt.Errorf("%w: %v", ErrDependencyTimeout, err)
		}
		return 0, fmt.Errorf("score lookup: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("score lookup: unexpected status %d", resp.StatusCode)
	}

	var out scoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("decode score response: %w", err)
	}
	if out.Score < 0 || out.Score > 100 {
		return 0, fmt.Errorf("score lookup: score %d out of range", out.Score)
	}
	return out.Score, nil
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}

var (
	_ ScoreProvider = (*StaticProvider)(nil)
	_ ScoreProvider = (*HTTPProvider)(nil)
)
