package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrConnectivity    = errors.New("connectivity error")
	ErrFilesystem      = errors.New("filesystem error")
	ErrStats           = errors.New("stats error")
	ErrSubmission      = errors.New("submission error")
	ErrConfiguration   = errors.New("configuration error")
	ErrMalformedRecord = errors.New("malformed record")
)

// Wrap builds an error message that includes phase and unit context while
// tagging it with the provided marker for later classification. The marker
// should be one of the exported sentinel errors above.
func Wrap(marker error, phase, unitKey, message string, err error) error {
	detail := buildDetail(phase, unitKey, message)
	if marker == nil {
		marker = ErrConnectivity
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Kind returns a short label for the marker carried by err. Unknown errors
// report "unknown".
func Kind(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrConnectivity):
		return "connectivity"
	case errors.Is(err, ErrFilesystem):
		return "filesystem"
	case errors.Is(err, ErrStats):
		return "stats"
	case errors.Is(err, ErrSubmission):
		return "submission"
	case errors.Is(err, ErrConfiguration):
		return "configuration"
	case errors.Is(err, ErrMalformedRecord):
		return "malformed_record"
	default:
		return "unknown"
	}
}

// IsFatal reports whether err must abort the run before scanning. Only
// configuration failures are fatal; everything else is a per-unit or
// per-batch failure.
func IsFatal(err error) bool {
	return errors.Is(err, ErrConfiguration)
}

func buildDetail(phase, unitKey, message string) string {
	parts := make([]string, 0, 3)
	if phase = strings.TrimSpace(phase); phase != "" {
		parts = append(parts, phase)
	}
	if unitKey = strings.TrimSpace(unitKey); unitKey != "" {
		parts = append(parts, unitKey)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "scan failure"
	}
	return strings.Join(parts, ": ")
}
