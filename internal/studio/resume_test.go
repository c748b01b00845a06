package studio

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestResumeOneFinishesOrphanedGeneration(t *testing.T) {
	var submits int32
	srv := fakeFal(t, &submits)
	defer srv.Close()

	db := newStubDB(10)
	svc := newTestService(t, db, srv.URL)

	reqID := uuid.NewString()
	token := uuid.NewString()
	db.gens[reqID] = &genRecord{ID: reqID, Phase: "POLLING", ChargeToken: token}
	db.orphan = &orphanRow{
		ID:          reqID,
		UserID:      "u1",
		Kind:        "IMAGE",
		ModelID:     "nano-banana",
		Prompt:      "a red fox",
		Settings:    []byte(`{"aspect_ratio":"1:1"}`),
		ProviderRef: "fal_queue|nano-banana|fal-req-1",
		ChargeToken: token,
	}

	claimed, err := svc.ResumeOne(context.Background(), 2*time.Minute)
	if err != nil {
		t.Fatalf("ResumeOne: %v", err)
	}
	if !claimed {
		t.Fatal("stale row was not claimed")
	}

	if db.gens[reqID].Phase != "COMPLETED" {
		t.Fatalf("phase = %q, want COMPLETED", db.gens[reqID].Phase)
	}
	if db.assets != 1 {
		t.Fatalf("assets = %d, want 1", db.assets)
	}
	if !db.charges[token] {
		t.Fatal("charge must land on the token persisted at submit time")
	}
	if db.credits != 7 {
		t.Fatalf("credits = %d, want 7", db.credits)
	}
	// Resumption picks up the existing queue job; it never re-submits.
	if got := atomic.LoadInt32(&submits); got != 0 {
		t.Fatalf("resume submitted %d new jobs", got)
	}
}

func TestResumeOneIdlesWhenNothingIsStale(t *testing.T) {
	db := newStubDB(10)
	svc := newTestService(t, db, "http://example.invalid")

	claimed, err := svc.ResumeOne(context.Background(), 2*time.Minute)
	if err != nil {
		t.Fatalf("ResumeOne: %v", err)
	}
	if claimed {
		t.Fatal("claimed a row from an empty table")
	}
}

func TestResumeMalformedRefFailsTheRow(t *testing.T) {
	db := newStubDB(10)
	svc := newTestService(t, db, "http://example.invalid")

	reqID := uuid.NewString()
	db.gens[reqID] = &genRecord{ID: reqID, Phase: "POLLING", ChargeToken: uuid.NewString()}
	db.orphan = &orphanRow{
		ID:          reqID,
		UserID:      "u1",
		Kind:        "IMAGE",
		ModelID:     "nano-banana",
		Prompt:      "p",
		ProviderRef: "garbage",
		ChargeToken: db.gens[reqID].ChargeToken,
	}

	claimed, err := svc.ResumeOne(context.Background(), 2*time.Minute)
	if !claimed {
		t.Fatal("the malformed row must still be claimed")
	}
	if err == nil || !strings.Contains(err.Error(), "malformed provider ref") {
		t.Fatalf("want malformed ref error, got %v", err)
	}
	if db.gens[reqID].Phase != "FAILED" {
		t.Fatalf("phase = %q, want FAILED", db.gens[reqID].Phase)
	}
	if len(db.charges) != 0 {
		t.Fatal("failed resume must not charge")
	}
}
