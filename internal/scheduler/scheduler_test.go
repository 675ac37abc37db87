package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestTickFiresOncePerLocalDay(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Tokyo")
	if err != nil {
		t.Fatal(err)
	}
	var runs int32
	job, err := Daily("judgment", "00:05", func(context.Context) error {
		atomic.AddInt32(&runs, 1)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	s := New(loc, nil, job)
	ctx := context.Background()

	if got := s.Tick(ctx, time.Date(2025, 1, 8, 0, 4, 0, 0, loc)); len(got) != 0 {
		t.Fatalf("fired early: %v", got)
	}
	if got := s.Tick(ctx, time.Date(2025, 1, 8, 0, 5, 30, 0, loc)); len(got) != 1 {
		t.Fatalf("did not fire: %v", got)
	}
	if got := s.Tick(ctx, time.Date(2025, 1, 8, 0, 6, 0, 0, loc)); len(got) != 0 {
		t.Fatalf("fired twice: %v", got)
	}
	if got := s.Tick(ctx, time.Date(2025, 1, 9, 0, 5, 0, 0, loc)); len(got) != 1 {
		t.Fatalf("next day not fired: %v", got)
	}
	if atomic.LoadInt32(&runs) != 2 {
		t.Fatalf("runs %d", runs)
	}
}

func TestTickSkipsPastGrace(t *testing.T) {
	job, _ := Daily("morning", "08:00", func(context.Context) error { return nil })
	s := New(time.UTC, nil, job)
	if got := s.Tick(context.Background(), time.Date(2025, 1, 8, 15, 0, 0, 0, time.UTC)); len(got) != 0 {
		t.Fatalf("fired outside grace: %v", got)
	}
}

func TestTickContinuesAfterFailure(t *testing.T) {
	bad, _ := Daily("bad", "20:00", func(context.Context) error { return errors.New("boom") })
	good, _ := Daily("good", "20:00", func(context.Context) error { return nil })
	s := New(time.UTC, nil, bad, good)
	got := s.Tick(context.Background(), time.Date(2025, 1, 8, 20, 1, 0, 0, time.UTC))
	if len(got) != 2 {
		t.Fatalf("fired %v", got)
	}
}

func TestDailyRejectsBadClock(t *testing.T) {
	if _, err := Daily("x", "25:00", func(context.Context) error { return nil }); err == nil {
		t.Fatal("expected error")
	}
}
