package state_test

import (
	"errors"
	"testing"

	"github.com/EPFL-ENAC/AddLidar/internal/services"
	"github.com/EPFL-ENAC/AddLidar/internal/state"
)

func TestParseStatus(t *testing.T) {
	for _, s := range state.AllStatuses() {
		got, ok := state.ParseStatus(" " + string(s) + " ")
		if !ok || got != s {
			t.Fatalf("ParseStatus(%q) = %q, %v", s, got, ok)
		}
	}
	if _, ok := state.ParseStatus("running"); ok {
		t.Fatal("expected unknown status to be rejected")
	}
	if got, ok := state.ParseStatus("SUCCESS"); !ok || got != state.StatusSuccess {
		t.Fatalf("expected case-insensitive parse, got %q %v", got, ok)
	}
}

func TestStatusComplete(t *testing.T) {
	var absent *state.Status
	if absent.Complete() {
		t.Fatal("absent status must not be complete")
	}
	cases := map[state.Status]bool{
		state.StatusPending: false,
		state.StatusFailed:  false,
		state.StatusSuccess: true,
		state.StatusEmpty:   true,
	}
	for s, want := range cases {
		if got := state.StatusPtr(s).Complete(); got != want {
			t.Fatalf("%s.Complete() = %v, want %v", s, got, want)
		}
	}
}

func TestSplitFolderKey(t *testing.T) {
	mission, capture, err := state.SplitFolderKey("m1/c1")
	if err != nil || mission != "m1" || capture != "c1" {
		t.Fatalf("unexpected split: %q %q %v", mission, capture, err)
	}
	for _, bad := range []string{"", "m1", "m1/c1/x", "../c1", "/c1"} {
		if _, _, err := state.SplitFolderKey(bad); !errors.Is(err, services.ErrMalformedRecord) {
			t.Fatalf("expected malformed error for %q, got %v", bad, err)
		}
	}
}

func TestFolderRecordValidate(t *testing.T) {
	rec := &state.FolderRecord{FolderKey: "m1/c1", MissionKey: "m1", Status: state.StatusPtr(state.StatusFailed)}
	if err := rec.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rec.MissionKey = "other"
	if err := rec.Validate(); !errors.Is(err, services.ErrMalformedRecord) {
		t.Fatalf("expected mission mismatch to be malformed, got %v", err)
	}
	bad := state.Status("bogus")
	rec = &state.FolderRecord{FolderKey: "m1/c1", Status: &bad}
	if err := rec.Validate(); !errors.Is(err, services.ErrMalformedRecord) {
		t.Fatalf("expected unknown status to be malformed, got %v", err)
	}
}

func TestMarkerRecordValidate(t *testing.T) {
	if err := (&state.MarkerRecord{MissionKey: "m1"}).Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := (&state.MarkerRecord{MissionKey: "m1/c1"}).Validate(); !errors.Is(err, services.ErrMalformedRecord) {
		t.Fatalf("expected malformed error, got %v", err)
	}
}
