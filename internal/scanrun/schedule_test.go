package scanrun_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/EPFL-ENAC/AddLidar/internal/scanrun"
	"github.com/EPFL-ENAC/AddLidar/internal/services"
)

func TestSchedulerRunsImmediately(t *testing.T) {
	s, err := scanrun.NewScheduler(nil)
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	var runs atomic.Int32
	done := make(chan struct{}, 1)
	err = s.Every(context.Background(), time.Hour, func(context.Context) (*scanrun.Result, error) {
		if runs.Add(1) == 1 {
			done <- struct{}{}
		}
		return &scanrun.Result{RunID: "r"}, nil
	})
	if err != nil {
		t.Fatalf("Every: %v", err)
	}
	s.Start()
	defer s.Stop()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("scan did not start immediately")
	}
}

func TestSchedulerRejectsNonPositiveInterval(t *testing.T) {
	s, err := scanrun.NewScheduler(nil)
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	defer s.Stop()
	err = s.Every(context.Background(), 0, func(context.Context) (*scanrun.Result, error) { return nil, nil })
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}
