package core

import "context"

// StatsReporter contributes process counters to the health response. Stats
// is called on every health request and must be safe for concurrent use.
type StatsReporter interface {
	Stats() map[string]any
}

// StatsFunc adapts a plain function to the StatsReporter interface.
type StatsFunc func() map[string]any

// Stats implements StatsReporter.
func (f StatsFunc) Stats() map[string]any {
	return f()
}

// ProbeFunc adapts a named check function to the HealthProbe interface.
type ProbeFunc struct {
	ProbeName string
	Fn        func(ctx context.Context) error
}

// Name implements HealthProbe.
func (p ProbeFunc) Name() string {
	return p.ProbeName
}

// Check implements HealthProbe.
func (p ProbeFunc) Check(ctx context.Context) error {
	return p.Fn(ctx)
}
