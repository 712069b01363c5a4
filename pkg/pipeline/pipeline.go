package pipeline

import (
	"context"
	"log/slog"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/dominikbraun/graph"
	"github.com/pkg/errors"
	"golang.org/x/sync/semaphore"

	"github.com/askiada/cgemflow/pkg/pipeline/input"
	"github.com/askiada/cgemflow/pkg/pipeline/model"
	"github.com/askiada/cgemflow/pkg/pipeline/param"
)

const defaultOutDir = "results"

// Pipeline is a graph of stages run over a resolved parameter set.
type Pipeline struct {
	params *param.Set

	sources    map[string]struct{}
	sourceSeqs map[string]input.Sequence
	stages     []*Stage
	byName     map[string]*Stage

	mu      sync.Mutex
	planned bool
	graph   graph.Graph[string, *Stage]
	order   []string
	parents map[string][]string

	workDir       string
	outDir        string
	maxParallel   int
	timeout       time.Duration
	retries       uint64
	retryInterval time.Duration
	executor      Executor
	logger        *slog.Logger
	hooks         []model.PipelineOption
}

// New creates a new pipeline.
func New(params *param.Set, opts ...Option) (*Pipeline, error) {
	pipe := &Pipeline{
		params:        params,
		sources:       make(map[string]struct{}),
		sourceSeqs:    make(map[string]input.Sequence),
		byName:        make(map[string]*Stage),
		workDir:       "work",
		maxParallel:   runtime.NumCPU(),
		retryInterval: time.Second,
		executor:      &ProcessExecutor{},
		logger:        slog.New(slog.DiscardHandler),
	}
	if v, ok := params.Get("outdir"); ok {
		pipe.outDir = v.String()
	}

	for _, opt := range opts {
		opt(pipe)
	}

	if pipe.outDir == "" {
		pipe.outDir = defaultOutDir
	}
	if pipe.maxParallel < 1 {
		pipe.maxParallel = 1
	}

	var err error
	pipe.workDir, err = filepath.Abs(pipe.workDir)
	if err != nil {
		return nil, errors.Wrap(err, "unable to resolve work directory")
	}
	pipe.outDir, err = filepath.Abs(pipe.outDir)
	if err != nil {
		return nil, errors.Wrap(err, "unable to resolve output directory")
	}

	for _, hook := range pipe.hooks {
		err := hook.New()
		if err != nil {
			return nil, errors.Wrap(err, "unable to apply pipeline option")
		}
	}

	return pipe, nil
}

// Params returns the parameter set of the pipeline.
func (p *Pipeline) Params() *param.Set {
	return p.params
}

// OutDir returns the absolute output directory.
func (p *Pipeline) OutDir() string {
	return p.outDir
}

// WorkDir returns the absolute root of the working directories.
func (p *Pipeline) WorkDir() string {
	return p.workDir
}

// AddSource registers a named item sequence replicated stages can iterate over.
func (p *Pipeline) AddSource(name string, seq input.Sequence) error {
	if p == nil {
		return ErrPipelineMustBeSet
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.planned {
		return ErrAlreadyPlanned
	}
	if _, ok := p.sources[name]; ok {
		return errors.Wrap(ErrDuplicateSource, name)
	}
	p.sources[name] = struct{}{}
	p.sourceSeqs[name] = seq

	return nil
}

// AddStage appends a stage. Validation happens in Plan.
func (p *Pipeline) AddStage(st *Stage) error {
	if p == nil {
		return ErrPipelineMustBeSet
	}
	if st == nil {
		return ErrStageMustBeSet
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.planned {
		return ErrAlreadyPlanned
	}
	if _, ok := p.byName[st.Name]; ok {
		return errors.Wrap(ErrDuplicateStage, st.Name)
	}
	p.stages = append(p.stages, st)
	p.byName[st.Name] = st

	return nil
}

// Plan validates the stage graph and computes the execution order. It is
// called by Run and only does the work once.
func (p *Pipeline) Plan() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.planned {
		return nil
	}

	g, err := p.buildGraph()
	if err != nil {
		return err
	}
	order, err := p.stageOrder(g)
	if err != nil {
		return err
	}
	predecessors, err := g.PredecessorMap()
	if err != nil {
		return errors.Wrap(err, "unable to get stage parents")
	}

	parents := make(map[string][]string, len(order))
	for _, name := range order {
		for _, parent := range order {
			if _, ok := predecessors[name][parent]; ok {
				parents[name] = append(parents[name], parent)
			}
		}
	}

	for _, name := range order {
		infos := []*model.StageInfo{}
		for _, parent := range parents[name] {
			infos = append(infos, p.byName[parent].info())
		}
		if len(infos) == 0 {
			infos = append(infos, model.StartStage)
		}
		for _, hook := range p.hooks {
			err := hook.PrepareStage(infos, p.byName[name].info())
			if err != nil {
				return errors.Wrapf(err, "unable to prepare stage %s", name)
			}
		}
	}

	p.graph = g
	p.order = order
	p.parents = parents
	p.planned = true

	return nil
}

// Order returns the planned execution order.
func (p *Pipeline) Order() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	return append([]string(nil), p.order...)
}

// Parents returns the planned upstream stages of name.
func (p *Pipeline) Parents(name string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	return append([]string(nil), p.parents[name]...)
}

// Run plans the pipeline if needed, runs every stage in dependency order and
// waits for all of them to finish. The returned error is the first fatal
// error; the result is always set once planning succeeded.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	err := p.Plan()
	if err != nil {
		return nil, err
	}

	r := newRun(p)
	errcList := &errorChans{}

	for _, name := range p.order {
		st := p.byName[name]
		errC := make(chan error, 1)
		errcList.add(newErrorChan(name, errC))

		go func() {
			defer close(errC)
			err := r.runStage(ctx, st)
			if err != nil {
				errC <- err
			}
		}()
	}

	// Wait for all stages to finish.
	errs := waitForPipeline(errcList.list...)

	res := r.result(errs)
	if res.err == nil && ctx.Err() != nil {
		res.err = errors.Wrap(ctx.Err(), "pipeline stopped")
		res.Errors = append(res.Errors, res.err)
	}
	p.logger.Info("pipeline finished",
		"status", res.Status(),
		"elapsed", res.Elapsed,
		"published", len(res.Published),
	)

	err = p.finishRun()
	if err != nil && res.err == nil {
		res.err = err
		res.Errors = append(res.Errors, err)
	}

	return res, res.err
}

func (p *Pipeline) finishRun() error {
	for _, hook := range p.hooks {
		err := hook.Finish()
		if err != nil {
			return errors.Wrap(err, "unable to finish pipeline option")
		}
	}

	return nil
}

func (p *Pipeline) newSemaphore() *semaphore.Weighted {
	return semaphore.NewWeighted(int64(p.maxParallel))
}
