package main

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/shortontech/consentry/internal/engine"
	"github.com/shortontech/consentry/internal/store"
	"github.com/shortontech/consentry/pkg/config"
)

func TestInitializeSinks(t *testing.T) {
	ctx := context.Background()

	t.Run("log sink", func(t *testing.T) {
		sinks := initializeSinks(ctx, config.Config{Outputs: []string{"log"}})
		if len(sinks) != 1 || sinks[0].Name() != "log" {
			t.Errorf("sinks = %v", sinks)
		}
	})

	t.Run("unknown output skipped", func(t *testing.T) {
		sinks := initializeSinks(ctx, config.Config{Outputs: []string{"log", "carrier-pigeon"}})
		if len(sinks) != 1 {
			t.Errorf("expected 1 sink, got %d", len(sinks))
		}
	})

	t.Run("pg without dsn skipped", func(t *testing.T) {
		sinks := initializeSinks(ctx, config.Config{Outputs: []string{"pg"}})
		if len(sinks) != 0 {
			t.Errorf("expected 0 sinks, got %d", len(sinks))
		}
	})

	t.Run("empty outputs", func(t *testing.T) {
		sinks := initializeSinks(ctx, config.Config{})
		if len(sinks) != 0 {
			t.Errorf("expected 0 sinks, got %d", len(sinks))
		}
	})
}

func TestOpenStoreFallsBackToMemory(t *testing.T) {
	kv := openStore(config.Config{})
	defer kv.Close()
	if _, ok := kv.(*store.MemStore); !ok {
		t.Errorf("expected MemStore, got %T", kv)
	}
}

func TestScriptedObservationsDriveTheLedger(t *testing.T) {
	ledger := engine.New(engine.Config{
		KV:  store.NewMemStore(),
		Log: zerolog.Nop(),
	})

	for _, o := range scriptedObservations() {
		ledger.Apply(o)
	}

	_, page, badge, tracked := ledger.State(1)
	if !tracked {
		t.Fatal("context 1 not tracked")
	}
	// Two third-party firings retained; the first-party call is not.
	if len(page.Firings) != 2 {
		t.Fatalf("firings = %d, want 2", len(page.Firings))
	}
	// Pre-consent GA hit plus post-reject Facebook hit.
	if len(page.Violations) != 2 {
		t.Fatalf("violations = %d, want 2", len(page.Violations))
	}
	if page.Violations[0].Type != engine.ViolationPreConsent {
		t.Errorf("first violation = %q", page.Violations[0].Type)
	}
	if page.Violations[1].Type != engine.ViolationRejectIgnored {
		t.Errorf("second violation = %q", page.Violations[1].Type)
	}
	if page.Firings[0].Headers == nil {
		t.Error("header summary missing on first firing")
	}
	if badge.Status != "warn" {
		t.Errorf("badge = %+v", badge)
	}
}
