package services

import "context"

type contextKey string

const (
	runIDKey   contextKey = "run_id"
	unitKeyKey contextKey = "unit_key"
	phaseKey   contextKey = "phase"
)

// WithRunID annotates context with the scan run identifier.
func WithRunID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, runIDKey, id)
}

// RunIDFromContext extracts the scan run identifier if present.
func RunIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(runIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithUnitKey annotates context with the folder or mission key being processed.
func WithUnitKey(ctx context.Context, key string) context.Context {
	if key == "" {
		return ctx
	}
	return context.WithValue(ctx, unitKeyKey, key)
}

// UnitKeyFromContext returns the unit key if present.
func UnitKeyFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(unitKeyKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithPhase annotates context with the scan phase name.
func WithPhase(ctx context.Context, phase string) context.Context {
	if phase == "" {
		return ctx
	}
	return context.WithValue(ctx, phaseKey, phase)
}

// PhaseFromContext returns the phase name if present.
func PhaseFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(phaseKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}
