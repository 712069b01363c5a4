package pipeline

import (
	"time"

	"github.com/askiada/cgemflow/pkg/pipeline/model"
)

// StageResult is the outcome of one stage.
type StageResult struct {
	Name        string
	Status      model.Status
	Invocations int
	// Succeeded lists the keys of the successful invocations, sorted.
	Succeeded []string
	// Failed maps the key of every failed invocation to its error.
	Failed  map[string]error
	Elapsed time.Duration
	Err     error
}

// Result is the outcome of a pipeline run.
type Result struct {
	Order     []string
	Stages    map[string]*StageResult
	Artifacts []*Artifact
	// Published lists every file copied to the output directory.
	Published []string
	Errors    []error
	Elapsed   time.Duration

	err error
}

// Err returns the first fatal error of the run.
func (r *Result) Err() error {
	return r.err
}

// Status is succeeded when the run had no fatal error.
func (r *Result) Status() model.Status {
	if r.err != nil {
		return model.StatusFailed
	}

	return model.StatusSucceeded
}

// Stage returns the result of the stage name, nil when unknown.
func (r *Result) Stage(name string) *StageResult {
	return r.Stages[name]
}

// ArtifactsOf returns the artifacts of a stage output, sorted by key.
func (r *Result) ArtifactsOf(stage, output string) []*Artifact {
	out := []*Artifact{}
	for _, art := range r.Artifacts {
		if art.Stage == stage && art.Name == output {
			out = append(out, art)
		}
	}

	return out
}
