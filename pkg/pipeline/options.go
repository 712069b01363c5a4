package pipeline

import (
	"log/slog"
	"time"

	"github.com/askiada/cgemflow/pkg/pipeline/model"
)

// Option configures a Pipeline.
type Option func(p *Pipeline)

// WorkDir sets the root of the per-invocation working directories.
func WorkDir(dir string) Option {
	return func(p *Pipeline) {
		p.workDir = dir
	}
}

// OutDir sets the directory artifacts are published to. It defaults to the
// "outdir" parameter, then to ./results.
func OutDir(dir string) Option {
	return func(p *Pipeline) {
		p.outDir = dir
	}
}

// MaxParallel limits the number of invocations running at the same time
// across all stages.
func MaxParallel(n int) Option {
	return func(p *Pipeline) {
		p.maxParallel = n
	}
}

// InvocationTimeout bounds every invocation. Zero disables the timeout.
func InvocationTimeout(d time.Duration) Option {
	return func(p *Pipeline) {
		p.timeout = d
	}
}

// Retries sets how many times a failed invocation is run again. Zero, the
// default, never retries.
func Retries(n uint64) Option {
	return func(p *Pipeline) {
		p.retries = n
	}
}

// RetryInterval sets the initial backoff between retries.
func RetryInterval(d time.Duration) Option {
	return func(p *Pipeline) {
		p.retryInterval = d
	}
}

// WithExecutor replaces the process executor.
func WithExecutor(e Executor) Option {
	return func(p *Pipeline) {
		p.executor = e
	}
}

// Logger sets the structured logger.
func Logger(l *slog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = l
	}
}

// Hooks registers pipeline hooks such as measure and drawer.
func Hooks(hooks ...model.PipelineOption) Option {
	return func(p *Pipeline) {
		p.hooks = append(p.hooks, hooks...)
	}
}
