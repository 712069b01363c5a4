package pipeline

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/askiada/cgemflow/pkg/pipeline/model"
)

// stageFuture is closed once its stage reaches a final status. A stage
// waits on the futures of all its upstream stages before starting, which
// makes every collected input complete.
type stageFuture struct {
	done   chan struct{}
	result *StageResult
}

func newStageFuture(name string) *stageFuture {
	return &stageFuture{
		done: make(chan struct{}),
		result: &StageResult{
			Name:   name,
			Status: model.StatusPending,
			Failed: make(map[string]error),
		},
	}
}

// waitParents blocks until every upstream stage of st is done and returns the
// status st inherits from them, or "" when st may run.
func (r *run) waitParents(st *Stage) model.Status {
	inherited := model.Status("")
	for _, parent := range r.p.parents[st.Name] {
		fut := r.futures[parent]
		<-fut.done

		switch fut.result.Status {
		case model.StatusFailed, model.StatusNotRun:
			inherited = model.StatusNotRun
		case model.StatusSkipped:
			if inherited == "" {
				inherited = model.StatusSkipped
			}
		}
	}

	return inherited
}

// bindInputs links the upstream artifacts of every input of st into the
// invocation working directory.
func (r *run) bindInputs(st *Stage, inv *Invocation) error {
	inv.Inputs = make(map[string][]string, len(st.Inputs))
	inv.inputDirs = make(map[string]string, len(st.Inputs))

	for _, in := range st.Inputs {
		upstream := r.p.byName[in.Stage]
		perItem := !in.Collect && upstream.ForEach != ""

		dir := filepath.Join(inv.WorkDir, inputsDir, in.dir())
		err := os.MkdirAll(dir, 0o755)
		if err != nil {
			return errors.Wrapf(err, "unable to create input directory %s", dir)
		}
		inv.inputDirs[in.Name] = dir

		staged := []string{}
		for _, art := range r.artifacts.get(in.Stage, in.Output) {
			if perItem && art.Key != inv.Key {
				continue
			}
			for _, path := range art.Paths {
				dest := filepath.Join(dir, filepath.Base(path))
				if prev, err := os.Readlink(dest); err == nil {
					return errors.Wrapf(ErrInputCollision, "input %s: %s and %s", in.Name, prev, path)
				}

				err := os.Symlink(path, dest)
				if err != nil {
					return errors.Wrapf(err, "unable to stage %s", path)
				}
				staged = append(staged, dest)
			}
		}
		inv.Inputs[in.Name] = staged
	}

	return nil
}
