package ratelimit

import (
	"context"
	"sync"
	"time"
)

type window struct {
	count int
	reset time.Time
}

// Memory keeps windows in a process-local map. It is only correct for a
// single instance; use Redis when the service is scaled out.
type Memory struct {
	mu      sync.Mutex
	windows map[string]window
	Now     func() time.Time
}

func NewMemory() *Memory {
	return &Memory{windows: map[string]window{}, Now: time.Now}
}

func (m *Memory) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

func (m *Memory) Allow(_ context.Context, key string, rule Rule) (Result, error) {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.windows == nil {
		m.windows = map[string]window{}
	}
	w, ok := m.windows[key]
	if !ok || !now.Before(w.reset) {
		w = window{reset: windowStart(now, rule.Window).Add(rule.Window)}
	}
	w.count++
	m.windows[key] = w
	return result(w.count, rule, w.reset), nil
}

// Sweep drops expired windows and returns how many were removed.
func (m *Memory) Sweep() int {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k, w := range m.windows {
		if !now.Before(w.reset) {
			delete(m.windows, k)
			n++
		}
	}
	return n
}

// Run sweeps every interval until ctx is done.
func (m *Memory) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

// Len reports the number of tracked windows.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.windows)
}
