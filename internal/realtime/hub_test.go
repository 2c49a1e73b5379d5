package realtime

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/tmorrow/claimcore/internal/claims"
)

func testEnvelope(eventType, policyID string, status claims.Status) *Envelope {
	return &Envelope{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Claim: claims.Event{
			Type:     eventType,
			ClaimID:  "clm_1",
			PolicyID: policyID,
			Status:   status,
		},
	}
}

func TestShouldSend_Filters(t *testing.T) {
	h := NewHub(slog.Default())

	tests := []struct {
		name string
		sub  Subscription
		env  *Envelope
		want bool
	}{
		{
			"all events",
			Subscription{AllEvents: true},
			testEnvelope("claim.submitted", "pol_1", claims.StatusPending),
			true,
		},
		{
			"matching event type",
			Subscription{EventTypes: []string{"claim.decided"}},
			testEnvelope("claim.decided", "pol_1", claims.StatusApproved),
			true,
		},
		{
			"non-matching event type",
			Subscription{EventTypes: []string{"claim.decided"}},
			testEnvelope("claim.submitted", "pol_1", claims.StatusPending),
			false,
		},
		{
			"matching policy",
			Subscription{PolicyIDs: []string{"pol_1", "pol_2"}},
			testEnvelope("claim.submitted", "pol_2", claims.StatusPending),
			true,
		},
		{
			"non-matching policy",
			Subscription{PolicyIDs: []string{"pol_1"}},
			testEnvelope("claim.submitted", "pol_9", claims.StatusPending),
			false,
		},
		{
			"matching status",
			Subscription{Statuses: []string{"approved"}},
			testEnvelope("claim.decided", "pol_1", claims.StatusApproved),
			true,
		},
		{
			"non-matching status",
			Subscription{Statuses: []string{"approved"}},
			testEnvelope("claim.decided", "pol_1", claims.StatusRejected),
			false,
		},
		{
			"empty subscription matches everything",
			Subscription{},
			testEnvelope("claim.submitted", "pol_1", claims.StatusPending),
			true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &Client{hub: h, sub: tt.sub}
			if got := h.shouldSend(client, tt.env); got != tt.want {
				t.Errorf("shouldSend = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNotifyClaim_DoesNotBlockWhenFull(t *testing.T) {
	h := NewHub(slog.Default())

	// No Run loop draining the channel: fill it past capacity.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			h.NotifyClaim(claims.Event{Type: "claim.submitted", ClaimID: "clm_1"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("NotifyClaim blocked on a full broadcast channel")
	}
}

func TestRun_ShutsDownCleanly(t *testing.T) {
	h := NewHub(slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(stopped)
	}()

	cancel()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("hub did not stop after context cancellation")
	}
}
