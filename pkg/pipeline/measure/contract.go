package measure

import (
	"time"

	"github.com/askiada/cgemflow/pkg/pipeline/model"
)

type Measure interface {
	AddMetric(name string) Metric
	GetMetric(name string) Metric
	AllMetrics() map[string]Metric
}

type Metric interface {
	AddDuration(elapsed time.Duration)
	AddFailure()
	AVGDuration() time.Duration
	MaxDuration() time.Duration
	Invocations() int64
	Failures() int64
	SetTotalDuration(endDuration time.Duration)
	GetTotalDuration() time.Duration
	SetStatus(status model.Status)
	Status() model.Status
}
