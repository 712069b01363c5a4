package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/askiada/cgemflow/pkg/pipeline/input"
	"github.com/askiada/cgemflow/pkg/pipeline/model"
)

// run holds the state of one execution of a pipeline.
type run struct {
	p         *Pipeline
	sem       *semaphore.Weighted
	artifacts *artifactStore
	futures   map[string]*stageFuture
	start     time.Time

	mu        sync.Mutex
	firstErr  error
	stopped   bool
	published []string
}

func newRun(p *Pipeline) *run {
	r := &run{
		p:         p,
		sem:       p.newSemaphore(),
		artifacts: newArtifactStore(),
		futures:   make(map[string]*stageFuture, len(p.order)),
		start:     time.Now(),
	}
	for _, name := range p.order {
		r.futures[name] = newStageFuture(name)
	}

	return r
}

// stop records err and prevents any further stage from starting.
func (r *run) stop(st *Stage, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.firstErr == nil {
		r.firstErr = errors.Wrap(err, st.Name)
	}
	r.stopped = true
}

func (r *run) isStopped() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.stopped
}

func (r *run) runStage(ctx context.Context, st *Stage) error {
	fut := r.futures[st.Name]
	res := fut.result
	defer close(fut.done)

	inherited := r.waitParents(st)
	switch {
	case inherited != "":
		r.finishStage(st, inherited, 0)
		return nil
	case r.isStopped() || ctx.Err() != nil:
		r.finishStage(st, model.StatusNotRun, 0)
		return nil
	}

	if st.When != nil {
		enabled, err := st.When(r.p.params)
		if err != nil {
			err = errors.Wrap(err, "unable to evaluate condition")
			res.Err = err
			r.stop(st, err)
			r.finishStage(st, model.StatusFailed, 0)

			return err
		}
		if !enabled {
			r.finishStage(st, model.StatusSkipped, 0)
			return nil
		}
	}

	start := time.Now()
	res.Status = model.StatusRunning
	r.p.logger.Info("stage started", "stage", st.Name)

	invs, err := r.invocations(st)
	if err == nil {
		res.Invocations = len(invs)
		err = r.fanOut(ctx, st, invs)
	}
	if err != nil {
		res.Err = err
		r.stop(st, err)
		r.finishStage(st, model.StatusFailed, time.Since(start))

		return err
	}

	r.finishStage(st, model.StatusSucceeded, time.Since(start))

	return nil
}

func (r *run) finishStage(st *Stage, status model.Status, elapsed time.Duration) {
	res := r.futures[st.Name].result
	res.Status = status
	res.Elapsed = elapsed

	level := r.p.logger.Info
	if status == model.StatusFailed {
		level = r.p.logger.Error
	}
	level("stage finished", "stage", st.Name, "status", status, "elapsed", elapsed)

	for _, hook := range r.p.hooks {
		err := hook.OnStageDone(st.info(), status, elapsed)
		if err != nil {
			r.p.logger.Warn("stage hook failed", "stage", st.Name, "error", err)
		}
	}
}

// invocations lists the invocations of st. A replicated stage gets one per
// item of its source, sorted by path.
func (r *run) invocations(st *Stage) ([]*Invocation, error) {
	stageDir := filepath.Join(r.p.workDir, st.Name)

	if st.ForEach == "" {
		return []*Invocation{{
			Stage:   st.Name,
			Key:     singleKey,
			WorkDir: filepath.Join(stageDir, singleKey),
			Params:  r.p.params,
		}}, nil
	}

	var handles []input.FileHandle
	if seq := r.p.sourceSeqs[st.ForEach]; seq != nil {
		var err error
		handles, err = input.Collect(seq)
		if err != nil {
			return nil, errors.Wrapf(err, "unable to enumerate %s", st.ForEach)
		}
	}
	if len(handles) == 0 {
		return nil, &NoInputsError{Stage: st.Name, Source: st.ForEach}
	}
	sort.Slice(handles, func(i, j int) bool {
		return handles[i].Path < handles[j].Path
	})

	invs := make([]*Invocation, 0, len(handles))
	keys := make(map[string]struct{}, len(handles))
	for i, fh := range handles {
		key := uniqueKey(keys, fh)
		item := fh
		invs = append(invs, &Invocation{
			Stage:   st.Name,
			Key:     key,
			Index:   i,
			Item:    &item,
			WorkDir: filepath.Join(stageDir, key),
			Params:  r.p.params,
		})
	}

	return invs, nil
}

func uniqueKey(keys map[string]struct{}, fh input.FileHandle) string {
	candidates := []string{fh.Stem(), fh.Name()}
	for _, key := range candidates {
		if _, ok := keys[key]; !ok && key != singleKey {
			keys[key] = struct{}{}
			return key
		}
	}
	for i := 2; ; i++ {
		key := fmt.Sprintf("%s_%d", fh.Stem(), i)
		if _, ok := keys[key]; !ok {
			keys[key] = struct{}{}
			return key
		}
	}
}

// fanOut runs every invocation of st. A failed invocation does not stop its
// siblings. The first error is returned once all of them are done.
func (r *run) fanOut(ctx context.Context, st *Stage, invs []*Invocation) error {
	var grp errgroup.Group
	grp.SetLimit(r.p.maxParallel)

	for _, inv := range invs {
		grp.Go(func() error {
			return r.invoke(ctx, st, inv)
		})
	}

	return grp.Wait()
}

func (r *run) invoke(ctx context.Context, st *Stage, inv *Invocation) error {
	start := time.Now()

	err := r.sem.Acquire(ctx, 1)
	if err == nil {
		err = r.execInvocation(ctx, st, inv)
		r.sem.Release(1)
	} else {
		err = errors.Wrapf(err, "invocation %s not started", inv.Key)
	}
	elapsed := time.Since(start)

	res := r.futures[st.Name].result
	r.mu.Lock()
	if err != nil {
		res.Failed[inv.Key] = err
	} else {
		res.Succeeded = append(res.Succeeded, inv.Key)
	}
	r.mu.Unlock()

	if err != nil {
		r.p.logger.Error("invocation failed", "stage", st.Name, "item", inv.Key, "elapsed", elapsed, "error", err)
	} else {
		r.p.logger.Debug("invocation succeeded", "stage", st.Name, "item", inv.Key, "elapsed", elapsed)
	}

	for _, hook := range r.p.hooks {
		hookErr := hook.OnInvocationDone(st.info(), inv.Key, elapsed, err)
		if hookErr != nil {
			r.p.logger.Warn("invocation hook failed", "stage", st.Name, "item", inv.Key, "error", hookErr)
		}
	}

	return err
}

func (r *run) execInvocation(ctx context.Context, st *Stage, inv *Invocation) error {
	err := os.RemoveAll(inv.WorkDir)
	if err != nil {
		return errors.Wrapf(err, "unable to clean %s", inv.WorkDir)
	}
	err = os.MkdirAll(inv.WorkDir, 0o755)
	if err != nil {
		return errors.Wrapf(err, "unable to create %s", inv.WorkDir)
	}

	err = r.bindInputs(st, inv)
	if err != nil {
		return err
	}

	argv, err := st.Command(inv)
	if err != nil {
		return errors.Wrap(err, "unable to build command")
	}
	if len(argv) == 0 {
		return errors.Wrap(ErrMissingCommand, "empty command")
	}

	err = r.execute(ctx, st, inv, argv)
	if err != nil {
		return err
	}

	outputs, err := r.collectOutputs(st, inv)
	if err != nil {
		return err
	}

	var files []string
	for _, out := range st.Outputs {
		r.artifacts.add(&Artifact{
			Stage: st.Name,
			Name:  out.Name,
			Key:   inv.Key,
			Item:  inv.Item,
			Paths: outputs[out.Name],
		})
		files = append(files, outputs[out.Name]...)
	}

	if st.Publish == "" || len(files) == 0 {
		return nil
	}

	published, err := r.p.publish(st, files)
	r.mu.Lock()
	r.published = append(r.published, published...)
	r.mu.Unlock()

	return err
}

// execute runs argv, retrying with an exponential backoff when retries are
// enabled.
func (r *run) execute(ctx context.Context, st *Stage, inv *Invocation, argv []string) error {
	if r.p.retries == 0 {
		return r.executeOnce(ctx, st, inv, argv)
	}

	operation := func() error {
		err := r.executeOnce(ctx, st, inv, argv)
		if err != nil && ctx.Err() != nil {
			return backoff.Permanent(err)
		}

		return err
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(newBackOff(r.p.retryInterval), r.p.retries), ctx)

	return backoff.RetryNotify(operation, policy, func(err error, next time.Duration) {
		r.p.logger.Warn("invocation failed, retrying", "stage", st.Name, "item", inv.Key, "next", next, "error", err)
	})
}

// newBackOff returns the exponential policy between attempts. Only the retry
// count bounds it: long invocations must not exhaust a wall-clock budget.
func newBackOff(interval time.Duration, opts ...backoff.ExponentialBackOffOpts) *backoff.ExponentialBackOff {
	opts = append([]backoff.ExponentialBackOffOpts{
		backoff.WithInitialInterval(interval),
		backoff.WithMaxElapsedTime(0),
	}, opts...)

	return backoff.NewExponentialBackOff(opts...)
}

func (r *run) executeOnce(ctx context.Context, st *Stage, inv *Invocation, argv []string) error {
	timeout := r.p.timeout
	if st.Timeout > 0 {
		timeout = st.Timeout
	}

	execCtx := ctx
	cancel := func() {}
	if timeout > 0 {
		execCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	res, err := r.p.executor.Execute(execCtx, &Command{Args: argv, Dir: inv.WorkDir})
	if res != nil {
		logErr := writeLogs(inv.WorkDir, res)
		if logErr != nil {
			r.p.logger.Warn("unable to keep command output", "stage", st.Name, "item", inv.Key, "error", logErr)
		}
	}

	execErr := &StageExecutionError{
		Stage:    st.Name,
		Item:     inv.Key,
		Command:  argv,
		ExitCode: -1,
		Output:   tail(res),
	}
	if res != nil {
		execErr.ExitCode = res.ExitCode
	}

	switch {
	case timeout > 0 && ctx.Err() == nil && errors.Is(execCtx.Err(), context.DeadlineExceeded):
		execErr.ExitCode = -1
		execErr.Err = errors.Wrapf(ErrInvocationTimeout, "after %s", timeout)
	case err != nil:
		execErr.Err = err
	case res == nil:
		execErr.Err = errors.New("executor returned no result")
	case res.ExitCode != 0:
	default:
		return nil
	}

	return execErr
}

// collectOutputs resolves the declared outputs of st. Hidden files only
// match patterns whose base name starts with a dot.
func (r *run) collectOutputs(st *Stage, inv *Invocation) (map[string][]string, error) {
	outputs := make(map[string][]string, len(st.Outputs))

	for _, out := range st.Outputs {
		pattern, err := out.Path(inv)
		if err != nil {
			return nil, errors.Wrapf(err, "unable to resolve output %s", out.Name)
		}
		if !filepath.IsAbs(pattern) {
			pattern = filepath.Join(inv.WorkDir, pattern)
		}

		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid output pattern %q", pattern)
		}

		hiddenPattern := strings.HasPrefix(filepath.Base(pattern), ".")
		files := []string{}
		for _, match := range matches {
			if !hiddenPattern && strings.HasPrefix(filepath.Base(match), ".") {
				continue
			}
			info, err := os.Stat(match)
			if err != nil || info.IsDir() {
				continue
			}
			files = append(files, match)
		}
		sort.Strings(files)

		if len(files) == 0 {
			return nil, &MissingOutputError{Stage: st.Name, Item: inv.Key, Output: out.Name, Pattern: pattern}
		}
		outputs[out.Name] = files
	}

	return outputs, nil
}

func (r *run) result(errs []error) *Result {
	res := &Result{
		Order:     append([]string(nil), r.p.order...),
		Stages:    make(map[string]*StageResult, len(r.futures)),
		Artifacts: r.artifacts.all(r.p.order),
		Errors:    errs,
		Elapsed:   time.Since(r.start),
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for name, fut := range r.futures {
		sort.Strings(fut.result.Succeeded)
		res.Stages[name] = fut.result
	}
	res.Published = append([]string(nil), r.published...)
	sort.Strings(res.Published)

	res.err = r.firstErr
	if res.err == nil && len(errs) > 0 {
		res.err = errs[0]
	}

	return res
}
