package health

import (
	"context"
	"time"
)

// CheckType represents the type of health check
type CheckType string

const (
	CheckTypeHTTP CheckType = "http"
	CheckTypeTCP  CheckType = "tcp"
)

// Result represents the outcome of a health check
type Result struct {
	Healthy   bool
	Message   string
	CheckedAt time.Time
	Duration  time.Duration
}

// Checker probes one upstream dependency
type Checker interface {
	Check(ctx context.Context) Result
	Type() CheckType
}

// Config controls how often an upstream is probed and when it flips to unhealthy
type Config struct {
	Interval time.Duration
	Timeout  time.Duration

	// Retries is the number of consecutive failures before marking as unhealthy
	Retries int
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		Interval: 30 * time.Second,
		Timeout:  5 * time.Second,
		Retries:  3,
	}
}

// Status tracks the current health of one upstream
type Status struct {
	ConsecutiveFailures  int
	ConsecutiveSuccesses int
	LastCheck            time.Time
	LastResult           Result
	Healthy              bool
}

// NewStatus creates a Status that starts healthy
func NewStatus() *Status {
	return &Status{Healthy: true}
}

// Update folds a new result into the status. A single success restores
// health; Retries consecutive failures are needed to lose it.
func (s *Status) Update(result Result, config Config) {
	s.LastCheck = result.CheckedAt
	s.LastResult = result

	if result.Healthy {
		s.ConsecutiveSuccesses++
		s.ConsecutiveFailures = 0
		s.Healthy = true
		return
	}

	s.ConsecutiveFailures++
	s.ConsecutiveSuccesses = 0
	if s.ConsecutiveFailures >= config.Retries {
		s.Healthy = false
	}
}
