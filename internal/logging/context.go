package logging

import (
	"context"
	"log/slog"

	"github.com/EPFL-ENAC/AddLidar/internal/services"
)

const (
	// FieldComponent is the structured logging key for component names.
	FieldComponent = "component"
	// FieldRunID identifies one scan invocation.
	FieldRunID = "run_id"
	// FieldUnitKey is the folder key (mission/capture) or mission key being processed.
	FieldUnitKey = "unit_key"
	// FieldUnitKind is "folder" or "marker".
	FieldUnitKind = "unit_kind"
	// FieldPhase names the scan phase (walk, stats, state_get, state_upsert, state_touch, dispatch).
	FieldPhase = "phase"
	// FieldClassification is the change classification of a unit.
	FieldClassification = "classification"
	// FieldEventType tags log lines with a machine-readable event name.
	FieldEventType = "event_type"
	// FieldErrorHint suggests the next step to an operator.
	FieldErrorHint = "error_hint"
	// FieldErrorKind is the failure category from services.Kind.
	FieldErrorKind = "error_kind"
)

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 3)
	if id, ok := services.RunIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldRunID, id))
	}
	if key, ok := services.UnitKeyFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldUnitKey, key))
	}
	if phase, ok := services.PhaseFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldPhase, phase))
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(attrsToArgs(fields)...)
}
