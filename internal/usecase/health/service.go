package health

import (
	"context"
	"sync"
	"time"
)

// Status represents the aggregated health status.
type Status string

const (
	// Healthy indicates all components are operational.
	Healthy Status = "ok"
	// Degraded indicates an optional component is failing; queries still run
	// against the catalog.
	Degraded Status = "degraded"
	// Unhealthy indicates the catalog database is unreachable.
	Unhealthy Status = "error"
)

// CheckResult represents an individual component health check outcome.
type CheckResult string

const (
	// CheckOK indicates a passing health check.
	CheckOK CheckResult = "ok"
	// CheckError indicates a failing or timed out health check.
	CheckError CheckResult = "error"
)

// DefaultCheckTimeout bounds each component ping.
const DefaultCheckTimeout = 2 * time.Second

// Report aggregates health check results.
type Report struct {
	Status Status
	Checks map[string]CheckResult
}

// Serving reports whether the engine can answer queries.
func (r Report) Serving() bool { return r.Status != Unhealthy }

type component struct {
	name     string
	pinger   Pinger
	required bool
}

// Service pings the catalog and the optional result cache concurrently.
type Service struct {
	components []component
	timeout    time.Duration
}

// New creates a Service. cache can be nil when the result cache is disabled.
func New(db, cache Pinger) *Service {
	s := &Service{
		components: []component{{name: "database", pinger: db, required: true}},
		timeout:    DefaultCheckTimeout,
	}
	if cache != nil {
		s.components = append(s.components, component{name: "cache", pinger: cache})
	}
	return s
}

// WithTimeout returns a copy bounding each ping by d.
func (s *Service) WithTimeout(d time.Duration) *Service {
	c := *s
	c.timeout = d
	return &c
}

// Check runs every component check. A failing required component makes the
// report Unhealthy, a failing optional one Degraded.
func (s *Service) Check(ctx context.Context) Report {
	results := make([]CheckResult, len(s.components))
	var wg sync.WaitGroup
	for i, c := range s.components {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pctx, cancel := context.WithTimeout(ctx, s.timeout)
			defer cancel()
			results[i] = CheckOK
			if err := c.pinger.Ping(pctx); err != nil {
				results[i] = CheckError
			}
		}()
	}
	wg.Wait()

	r := Report{Status: Healthy, Checks: make(map[string]CheckResult, len(s.components))}
	for i, c := range s.components {
		r.Checks[c.name] = results[i]
		if results[i] == CheckOK {
			continue
		}
		switch {
		case c.required:
			r.Status = Unhealthy
		case r.Status == Healthy:
			r.Status = Degraded
		}
	}
	return r
}
