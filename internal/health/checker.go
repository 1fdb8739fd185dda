// Package health probes the services an agent depends on, such as the x402
// facilitator and the run ledger, and tracks whether each is reachable.
package health

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Status is the health of one dependency.
type Status string

const (
	StatusUnknown  Status = "unknown"
	StatusHealthy  Status = "healthy"
	StatusDegraded Status = "degraded"
)

// Config holds health check configuration.
type Config struct {
	CheckInterval time.Duration
	ProbeTimeout  time.Duration
	FailThreshold int
}

// ProbeFunc returns nil when the dependency is reachable.
type ProbeFunc func(ctx context.Context) error

// Target is one named dependency.
type Target struct {
	Name  string
	Probe ProbeFunc
}

// MetricsRecordFunc is an optional callback for recording probe results.
type MetricsRecordFunc func(target string, success bool)

// Checker runs periodic dependency probes.
type Checker struct {
	targets    []Target
	mu         sync.RWMutex
	failCounts map[string]int
	status     map[string]Status
	cfg        Config
	onMetrics  MetricsRecordFunc
	logger     *zap.Logger
}

// New creates a Checker. Every target starts out unknown.
func New(targets []Target, cfg Config, logger *zap.Logger) *Checker {
	if cfg.CheckInterval == 0 {
		cfg.CheckInterval = time.Minute
	}
	if cfg.ProbeTimeout == 0 {
		cfg.ProbeTimeout = 5 * time.Second
	}
	if cfg.FailThreshold == 0 {
		cfg.FailThreshold = 3
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	status := make(map[string]Status, len(targets))
	for _, t := range targets {
		status[t.Name] = StatusUnknown
	}
	return &Checker{
		targets:    targets,
		failCounts: make(map[string]int),
		status:     status,
		cfg:        cfg,
		logger:     logger,
	}
}

// SetMetricsRecord configures the metrics recording callback.
func (c *Checker) SetMetricsRecord(fn MetricsRecordFunc) {
	c.onMetrics = fn
}

// Start probes every target once, then on every tick until ctx is done.
func (c *Checker) Start(ctx context.Context) {
	c.CheckAll(ctx)

	ticker := time.NewTicker(c.cfg.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.CheckAll(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// CheckAll probes all targets concurrently.
func (c *Checker) CheckAll(ctx context.Context) {
	var wg sync.WaitGroup
	for _, t := range c.targets {
		wg.Add(1)
		go func(t Target) {
			defer wg.Done()
			pctx, cancel := context.WithTimeout(ctx, c.cfg.ProbeTimeout)
			err := t.Probe(pctx)
			cancel()
			c.observe(t.Name, err)
		}(t)
	}
	wg.Wait()
}

func (c *Checker) observe(name string, err error) {
	success := err == nil
	if c.onMetrics != nil {
		c.onMetrics(name, success)
	}

	c.mu.Lock()
	prev := c.status[name]
	if success {
		c.failCounts[name] = 0
		c.status[name] = StatusHealthy
	} else {
		c.failCounts[name]++
		if c.failCounts[name] >= c.cfg.FailThreshold {
			c.status[name] = StatusDegraded
		}
	}
	count := c.failCounts[name]
	curr := c.status[name]
	c.mu.Unlock()

	switch {
	case prev == StatusDegraded && curr == StatusHealthy:
		c.logger.Info("health: recovered", zap.String("target", name))
	case prev != StatusDegraded && curr == StatusDegraded:
		c.logger.Warn("health: degraded",
			zap.String("target", name),
			zap.Int("fail_count", count),
			zap.Error(err),
		)
	case !success:
		c.logger.Debug("health: probe failed", zap.String("target", name), zap.Error(err))
	}
}

// Snapshot returns the status of every target.
func (c *Checker) Snapshot() map[string]Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]Status, len(c.status))
	for k, v := range c.status {
		out[k] = v
	}
	return out
}

// Names returns the target names in sorted order.
func (c *Checker) Names() []string {
	names := make([]string, 0, len(c.targets))
	for _, t := range c.targets {
		names = append(names, t.Name)
	}
	sort.Strings(names)
	return names
}

// HTTPProbe returns a probe that tries HEAD then GET on url. Any response
// below 500 counts as reachable; a facilitator answering 404 or 405 on a
// probe path is still up.
func HTTPProbe(hc *http.Client, url string) ProbeFunc {
	if hc == nil {
		hc = http.DefaultClient
	}
	return func(ctx context.Context) error {
		var lastErr error
		for _, method := range []string{http.MethodHead, http.MethodGet} {
			req, err := http.NewRequestWithContext(ctx, method, url, nil)
			if err != nil {
				return err
			}
			resp, err := hc.Do(req)
			if err != nil {
				lastErr = err
				continue
			}
			resp.Body.Close()
			if resp.StatusCode < 500 {
				return nil
			}
			lastErr = fmt.Errorf("%s %s: HTTP %d", method, url, resp.StatusCode)
		}
		return lastErr
	}
}
