package services_test

import (
	"context"
	"testing"

	"github.com/EPFL-ENAC/AddLidar/internal/services"
)

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithRunID(ctx, "run-1")
	ctx = services.WithUnitKey(ctx, "mission/capture")
	ctx = services.WithPhase(ctx, "classify")

	if id, ok := services.RunIDFromContext(ctx); !ok || id != "run-1" {
		t.Fatalf("unexpected run id: %v %v", id, ok)
	}
	if key, ok := services.UnitKeyFromContext(ctx); !ok || key != "mission/capture" {
		t.Fatalf("unexpected unit key: %v %v", key, ok)
	}
	if phase, ok := services.PhaseFromContext(ctx); !ok || phase != "classify" {
		t.Fatalf("unexpected phase: %v %v", phase, ok)
	}
}

func TestBlankValuesPreserveContext(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithPhase(ctx, "")
	ctx = services.WithUnitKey(ctx, "")
	if _, ok := services.PhaseFromContext(ctx); ok {
		t.Fatal("expected no phase for blank value")
	}
	if _, ok := services.UnitKeyFromContext(ctx); ok {
		t.Fatal("expected no unit key for blank value")
	}
}
