package fraud

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHTTPProvider_Score(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/score" || r.Method != http.MethodPost {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"score": 42}`))
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL, time.Second)
	score, err := p.Score(context.Background(), ScoreInput{ClaimID: "clm_1", Amount: 100})
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if score != 42 {
		t.Errorf("score = %d, want 42", score)
	}
}

func TestHTTPProvider_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL, 20*time.Millisecond)
	_, err := p.Score(context.Background(), ScoreInput{ClaimID: "clm_1"})
	if !errors.Is(err, ErrDependencyTimeout) {
		t.Errorf("err = %v, want ErrDependencyTimeout", err)
	}
}

func TestHTTPProvider_RejectsOutOfRangeScore(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"score": 250}`))
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL, time.Second)
	if _, err := p.Score(context.Background(), ScoreInput{}); err == nil {
		t.Error("expected error for out-of-range score")
	}
}
