// Package scheduler runs the daily judgment and reminder jobs in-process
// for deployments without an external cron.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"submit/internal/config"
)

// Job is a routine fired once per local day at a wall-clock time.
type Job struct {
	Name   string
	Hour   int
	Minute int
	Run    func(ctx context.Context) error
}

// Daily builds a job from an "HH:MM" clock.
func Daily(name, clock string, run func(ctx context.Context) error) (Job, error) {
	h, m, err := config.ParseClock(clock)
	if err != nil {
		return Job{}, fmt.Errorf("job %s: %w", name, err)
	}
	return Job{Name: name, Hour: h, Minute: m, Run: run}, nil
}

// Grace bounds how late a job may still fire after its clock time. A
// process started in the afternoon does not send the morning reminder.
const Grace = 10 * time.Minute

type Scheduler struct {
	Jobs     []Job
	Loc      *time.Location
	Log      *zap.Logger
	Interval time.Duration
	Now      func() time.Time

	mu         sync.Mutex
	lastFired  map[string]string
	processing sync.Mutex
}

func New(loc *time.Location, log *zap.Logger, jobs ...Job) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{Jobs: jobs, Loc: loc, Log: log, Interval: time.Minute, Now: time.Now}
}

// Start ticks until ctx is done. A tick that arrives while the previous
// one is still running is skipped.
func (s *Scheduler) Start(ctx context.Context) {
	interval := s.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		if s.processing.TryLock() {
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer s.processing.Unlock()
				s.Tick(ctx, s.now())
			}()
		} else {
			s.Log.Warn("previous tick still running, skipping")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Tick fires every job whose clock time passed within Grace and that has
// not fired yet on now's local day. It returns the names fired.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) []string {
	var fired []string
	for _, job := range s.due(now) {
		if ctx.Err() != nil {
			break
		}
		start := time.Now()
		s.Log.Info("job started", zap.String("job", job.Name))
		if err := job.Run(ctx); err != nil {
			s.Log.Error("job failed", zap.String("job", job.Name), zap.Error(err))
		} else {
			s.Log.Info("job finished", zap.String("job", job.Name), zap.Duration("took", time.Since(start)))
		}
		fired = append(fired, job.Name)
	}
	return fired
}

// due claims the jobs to run at now, marking them fired for the day.
func (s *Scheduler) due(now time.Time) []Job {
	loc := s.Loc
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	day := local.Format("2006-01-02")
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastFired == nil {
		s.lastFired = map[string]string{}
	}
	var jobs []Job
	for _, job := range s.Jobs {
		at := time.Date(local.Year(), local.Month(), local.Day(), job.Hour, job.Minute, 0, 0, loc)
		if local.Before(at) || !local.Before(at.Add(Grace)) {
			continue
		}
		if s.lastFired[job.Name] == day {
			continue
		}
		s.lastFired[job.Name] = day
		jobs = append(jobs, job)
	}
	return jobs
}

func (s *Scheduler) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}
