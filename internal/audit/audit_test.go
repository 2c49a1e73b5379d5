package audit

import (
	"context"
	"testing"
	"time"
)

func TestRecord_AttachesActorFromContext(t *testing.T) {
	ctx := context.Background()
	ctx = WithActor(ctx, "adjuster", "adj_001")
	ctx = WithIP(ctx, "10.0.0.5")
	ctx = WithRequestID(ctx, "req_abc")

	l := NewMemoryLogger()
	if err := Record(ctx, l, "clm_1", "decide", "pending", "approved", "manual review complete"); err != nil {
		t.Fatalf("Record: %v", err)
	}

	entries := l.Entries()
	if len(entries) != 1 {
		t.Fatalf("expected 1 audit entry, got %d", len(entries))
	}

	e := entries[0]
	if e.ActorType != "adjuster" {
		t.Errorf("expected actorType 'adjuster', got %q", e.ActorType)
	}
	if e.ActorID != "adj_001" {
		t.Errorf("expected actorID 'adj_001', got %q", e.ActorID)
	}
	if e.IPAddress != "10.0.0.5" {
		t.Errorf("expected ip '10.0.0.5', got %q", e.IPAddress)
	}
	if e.RequestID != "req_abc" {
		t.Errorf("expected requestID 'req_abc', got %q", e.RequestID)
	}
	if e.FromStatus != "pending" || e.ToStatus != "approved" {
		t.Errorf("expected pending->approved, got %q->%q", e.FromStatus, e.ToStatus)
	}
}

func TestRecord_DefaultsToSystemActor(t *testing.T) {
	l := NewMemoryLogger()
	if err := Record(context.Background(), l, "clm_1", "submit", "", "pending", "claim submitted"); err != nil {
		t.Fatalf("Record: %v", err)
	}

	entries := l.Entries()
	if len(entries) != 1 {
		t.Fatalf("expected 1 audit entry, got %d", len(entries))
	}
	if entries[0].ActorType != "system" {
		t.Errorf("expected actorType 'system', got %q", entries[0].ActorType)
	}
}

func TestRecordEntry_CarriesDecisionRefs(t *testing.T) {
	l := NewMemoryLogger()
	err := RecordEntry(context.Background(), l, &Entry{
		ClaimID:      "clm_1",
		Operation:    "decide",
		FromStatus:   "pending",
		ToStatus:     "approved",
		EvaluationID: "evl_9",
		AssessmentID: "frd_4",
	})
	if err != nil {
		t.Fatalf("RecordEntry: %v", err)
	}

	entries := l.Entries()
	if len(entries) != 1 {
		t.Fatalf("expected 1 audit entry, got %d", len(entries))
	}
	e := entries[0]
	if e.EvaluationID != "evl_9" || e.AssessmentID != "frd_4" {
		t.Errorf("refs = %q/%q, want evl_9/frd_4", e.EvaluationID, e.AssessmentID)
	}
	if e.ActorType != "system" {
		t.Errorf("expected actorType 'system', got %q", e.ActorType)
	}
	if e.CreatedAt.IsZero() {
		t.Error("expected CreatedAt to be stamped")
	}
}

func TestRecord_NilLoggerIsNoop(t *testing.T) {
	if err := Record(context.Background(), nil, "clm_1", "submit", "", "pending", ""); err != nil {
		t.Fatalf("Record with nil logger: %v", err)
	}
}

func TestMemoryLogger_QueryFilters(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLogger()

	_ = l.Log(ctx, &Entry{ClaimID: "clm_1", Operation: "submit", ToStatus: "pending"})
	_ = l.Log(ctx, &Entry{ClaimID: "clm_1", Operation: "decide", FromStatus: "pending", ToStatus: "approved"})
	_ = l.Log(ctx, &Entry{ClaimID: "clm_2", Operation: "submit", ToStatus: "pending"})

	all, err := l.Query(ctx, "clm_1", time.Time{}, time.Time{}, "", 0)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 entries for clm_1, got %d", len(all))
	}
	// Descending order: most recent first.
	if all[0].Operation != "decide" {
		t.Errorf("expected most recent entry first, got operation %q", all[0].Operation)
	}

	decides, err := l.Query(ctx, "clm_1", time.Time{}, time.Time{}, "decide", 0)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(decides) != 1 || decides[0].Operation != "decide" {
		t.Fatalf("expected 1 decide entry, got %d", len(decides))
	}
}
