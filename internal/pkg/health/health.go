// Package health reports whether the dependencies of the registration
// pipeline are reachable.
package health

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Check probes one dependency.
type Check func(ctx context.Context) error

// Result is the state of one check.
type Result struct {
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
	TookMS  int64  `json:"took_ms"`
}

// Report is the aggregate of all checks.
type Report struct {
	Healthy   bool              `json:"healthy"`
	Checks    map[string]Result `json:"checks"`
	CheckedAt time.Time         `json:"checked_at"`
}

// Checker runs named checks concurrently.
type Checker struct {
	checks  map[string]Check
	timeout time.Duration
}

func NewChecker(timeout time.Duration) *Checker {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Checker{checks: make(map[string]Check), timeout: timeout}
}

// Add registers a check under name. Call it before the first Run.
func (c *Checker) Add(name string, check Check) *Checker {
	c.checks[name] = check
	return c
}

func (c *Checker) Run(ctx context.Context) Report {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	report := Report{Healthy: true, Checks: make(map[string]Result, len(c.checks)), CheckedAt: time.Now().UTC()}
	var mu sync.Mutex
	var wg sync.WaitGroup
	for name, check := range c.checks {
		wg.Add(1)
		go func(name string, check Check) {
			defer wg.Done()
			start := time.Now()
			err := check(ctx)
			res := Result{Healthy: err == nil, TookMS: time.Since(start).Milliseconds()}
			if err != nil {
				res.Error = err.Error()
			}
			mu.Lock()
			report.Checks[name] = res
			if err != nil {
				report.Healthy = false
			}
			mu.Unlock()
		}(name, check)
	}
	wg.Wait()
	return report
}

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

func PingCheck(p Pinger) Check {
	return func(ctx context.Context) error {
		return p.PingContext(ctx)
	}
}

// WritableDirCheck creates and removes a probe file below dir.
func WritableDirCheck(dir string) Check {
	return func(ctx context.Context) error {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
		f, err := os.CreateTemp(dir, ".health-*")
		if err != nil {
			return fmt.Errorf("write %s: %w", dir, err)
		}
		name := f.Name()
		_ = f.Close()
		return os.Remove(filepath.Clean(name))
	}
}
