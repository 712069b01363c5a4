package measure

import (
	"sync"
)

type DefaultMeasure struct {
	mu    sync.RWMutex
	Steps map[string]Metric
}

func NewDefaultMeasure() *DefaultMeasure {
	return &DefaultMeasure{
		Steps: make(map[string]Metric),
	}
}

// AddMetric registers a metric for name, replacing any previous one.
func (m *DefaultMeasure) AddMetric(name string) Metric {
	mt := &DefaultMetric{
		mu: &sync.Mutex{},
	}
	m.mu.Lock()
	m.Steps[name] = mt
	m.mu.Unlock()

	return mt
}

// GetMetric returns the metric of name, nil when unknown.
func (m *DefaultMeasure) GetMetric(name string) Metric {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.Steps[name]
}

// AllMetrics returns a copy of the metrics by name.
func (m *DefaultMeasure) AllMetrics() map[string]Metric {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]Metric, len(m.Steps))
	for name, mt := range m.Steps {
		out[name] = mt
	}

	return out
}

var _ Measure = (*DefaultMeasure)(nil)
