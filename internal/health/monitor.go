package health

import (
	"sort"
	"sync"
	"time"

	"montage/internal/resilience"
)

// Status grades a dependency or the service as a whole.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// worse orders statuses so aggregation can keep the most severe one.
func worse(a, b Status) Status {
	rank := map[Status]int{StatusHealthy: 0, StatusDegraded: 1, StatusUnhealthy: 2}
	if rank[b] > rank[a] {
		return b
	}
	return a
}

// Dependency is the point-in-time health record for one collaborator.
type Dependency struct {
	Name                string    `json:"name"`
	Status              Status    `json:"status"`
	Critical            bool      `json:"critical"`
	BreakerState        string    `json:"breaker_state"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastFailure         time.Time `json:"last_failure,omitempty"`
	Detail              string    `json:"detail,omitempty"`
}

// Report is a read-only snapshot of overall service health.
type Report struct {
	Status       Status       `json:"status"`
	Dependencies []Dependency `json:"dependencies"`
	GeneratedAt  time.Time    `json:"generated_at"`
}

// Monitor derives dependency health from breaker state and registered
// critical flags. Reading a snapshot never triggers outbound probes.
type Monitor struct {
	breakers *resilience.BreakerSet

	mu       sync.RWMutex
	critical map[string]bool
	details  map[string]string
}

// NewMonitor builds a monitor over the shared breaker registry.
func NewMonitor(breakers *resilience.BreakerSet) *Monitor {
	return &Monitor{
		breakers: breakers,
		critical: make(map[string]bool),
		details:  make(map[string]string),
	}
}

// Register declares a dependency and whether it is critical to the
// pipeline. Registration pins the dependency into every report even
// before its breaker sees traffic.
func (m *Monitor) Register(name string, critical bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.critical[name] = critical
	m.breakers.For(name)
}

// SetDetail attaches a freeform note to a dependency, shown in reports.
func (m *Monitor) SetDetail(name, detail string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.details[name] = detail
}

// Snapshot produces the current health report. A critical dependency
// with an open breaker makes the whole service unhealthy; any other
// non-healthy dependency degrades it.
func (m *Monitor) Snapshot() Report {
	m.mu.RLock()
	critical := make(map[string]bool, len(m.critical))
	for name, flag := range m.critical {
		critical[name] = flag
	}
	details := make(map[string]string, len(m.details))
	for name, detail := range m.details {
		details[name] = detail
	}
	m.mu.RUnlock()

	stats := m.breakers.Snapshot()
	report := Report{Status: StatusHealthy, GeneratedAt: time.Now().UTC()}

	names := make([]string, 0, len(stats))
	for name := range stats {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		stat := stats[name]
		dep := Dependency{
			Name:                name,
			Status:              gradeBreaker(stat),
			Critical:            critical[name],
			BreakerState:        stat.State.String(),
			ConsecutiveFailures: stat.ConsecutiveFailures,
			LastFailure:         stat.LastFailureTime,
			Detail:              details[name],
		}
		report.Dependencies = append(report.Dependencies, dep)

		switch {
		case dep.Status == StatusUnhealthy && dep.Critical:
			report.Status = StatusUnhealthy
		case dep.Status != StatusHealthy:
			report.Status = worse(report.Status, StatusDegraded)
		}
	}

	return report
}

func gradeBreaker(stat resilience.BreakerStats) Status {
	switch stat.State {
	case resilience.BreakerOpen:
		return StatusUnhealthy
	case resilience.BreakerHalfOpen:
		return StatusDegraded
	default:
		if stat.ConsecutiveFailures > 0 {
			return StatusDegraded
		}
		return StatusHealthy
	}
}
