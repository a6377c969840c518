package health

import (
	"context"
	"sync"
	"time"

	"github.com/cuemby/eventsync/pkg/log"
	"github.com/cuemby/eventsync/pkg/metrics"
	"github.com/rs/zerolog"
)

// Monitor probes upstream dependencies on an interval and reports each one
// as a component of the process health
type Monitor struct {
	config Config
	logger zerolog.Logger

	mu     sync.Mutex
	probes map[string]*probe
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type probe struct {
	checker Checker
	status  *Status
}

// NewMonitor creates a monitor. Zero config fields take their defaults.
func NewMonitor(config Config) *Monitor {
	defaults := DefaultConfig()
	if config.Interval <= 0 {
		config.Interval = defaults.Interval
	}
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	if config.Retries <= 0 {
		config.Retries = defaults.Retries
	}
	return &Monitor{
		config: config,
		logger: log.WithComponent("health"),
		probes: make(map[string]*probe),
	}
}

// Add registers a checker reported under component. It must be called before Start.
func (m *Monitor) Add(component string, checker Checker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.probes[component] = &probe{checker: checker, status: NewStatus()}
}

// Start runs every probe once and then on each interval until Stop
func (m *Monitor) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)

	m.mu.Lock()
	m.cancel = cancel
	names := make([]string, 0, len(m.probes))
	for name := range m.probes {
		names = append(names, name)
	}
	m.mu.Unlock()

	for _, name := range names {
		m.wg.Add(1)
		go m.loop(ctx, name)
	}
}

// Stop cancels every probe and waits for them to return
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.wg.Wait()
}

// Status returns the current status of component
func (m *Monitor) Status(component string) (Status, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.probes[component]
	if !ok {
		return Status{}, false
	}
	return *p.status, true
}

func (m *Monitor) loop(ctx context.Context, name string) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	m.check(ctx, name)
	for {
		select {
		case <-ticker.C:
			m.check(ctx, name)
		case <-ctx.Done():
			return
		}
	}
}

// check runs one probe and reports the result
func (m *Monitor) check(ctx context.Context, name string) {
	m.mu.Lock()
	p := m.probes[name]
	m.mu.Unlock()

	checkCtx, cancel := context.WithTimeout(ctx, m.config.Timeout)
	defer cancel()
	result := p.checker.Check(checkCtx)
	if ctx.Err() != nil {
		return
	}

	m.mu.Lock()
	wasHealthy := p.status.Healthy
	p.status.Update(result, m.config)
	healthy := p.status.Healthy
	m.mu.Unlock()

	metrics.UpdateComponent(name, healthy, result.Message)
	if wasHealthy != healthy {
		m.logger.Warn().
			Str("upstream", name).
			Bool("healthy", healthy).
			Str("result", result.Message).
			Msg("upstream health changed")
	}
}
