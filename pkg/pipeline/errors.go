package pipeline

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

var (
	ErrPipelineMustBeSet = errors.New("p must be set")
	ErrStageMustBeSet    = errors.New("stage must be set")
	ErrEmptyStageName    = errors.New("stage name must be set")
	ErrMissingCommand    = errors.New("stage command must be set")
	ErrDuplicateStage    = errors.New("duplicate stage")
	ErrDuplicateSource   = errors.New("duplicate source")
	ErrDuplicateInput    = errors.New("duplicate input")
	ErrDuplicateOutput   = errors.New("duplicate output")
	ErrUnknownStage      = errors.New("unknown stage")
	ErrUnknownSource     = errors.New("unknown source")
	ErrUnknownOutput     = errors.New("unknown output")
	ErrCollectRequired   = errors.New("input from a replicated stage must be collected")
	ErrCycle             = errors.New("stage dependencies form a cycle")
	ErrInvalidPublish    = errors.New("publish path must be local to the output directory")
	ErrInvalidInputDir   = errors.New("input directory must be a single local path element")
	ErrInputCollision    = errors.New("two staged inputs share the same file name")
	ErrInvocationTimeout = errors.New("invocation timed out")
	ErrAlreadyPlanned    = errors.New("pipeline already planned")
)

// StageExecutionError is returned when an external tool exits with a non
// zero code, cannot be started or times out.
type StageExecutionError struct {
	Stage   string
	Item    string
	Command []string
	// ExitCode is -1 when the process did not exit on its own.
	ExitCode int
	// Output is the tail of the captured stderr, or stdout when stderr is empty.
	Output string
	Err    error
}

func (e *StageExecutionError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "stage %q", e.Stage)
	if e.Item != "" && e.Item != singleKey {
		fmt.Fprintf(&b, " item %q", e.Item)
	}
	switch {
	case e.Err != nil:
		fmt.Fprintf(&b, " failed: %v", e.Err)
	default:
		fmt.Fprintf(&b, " failed with exit code %d", e.ExitCode)
	}
	fmt.Fprintf(&b, "\ncommand: %s", strings.Join(e.Command, " "))
	if e.Output != "" {
		fmt.Fprintf(&b, "\noutput:\n%s", e.Output)
	}

	return b.String()
}

func (e *StageExecutionError) Unwrap() error {
	return e.Err
}

// MissingOutputError is returned when a declared output was not produced.
type MissingOutputError struct {
	Stage   string
	Item    string
	Output  string
	Pattern string
}

func (e *MissingOutputError) Error() string {
	return fmt.Sprintf("stage %q item %q did not produce output %q (%s)", e.Stage, e.Item, e.Output, e.Pattern)
}

// PublishError is returned when an artifact cannot be copied to the output
// directory. The artifact itself stays available to downstream stages.
type PublishError struct {
	Stage string
	Path  string
	Dest  string
	Err   error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("stage %q unable to publish %s to %s: %v", e.Stage, e.Path, e.Dest, e.Err)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}

// NoInputsError is returned when a replicated stage has nothing to run on.
type NoInputsError struct {
	Stage  string
	Source string
}

func (e *NoInputsError) Error() string {
	return fmt.Sprintf("stage %q found no inputs in source %q", e.Stage, e.Source)
}

type errorChans struct {
	mu   sync.Mutex
	list []*errorChan
}

func (ec *errorChans) add(errChan *errorChan) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.list = append(ec.list, errChan)
}

type errorChan struct {
	c    <-chan error
	name string
}

func newErrorChan(name string, c <-chan error) *errorChan {
	return &errorChan{
		c:    c,
		name: name,
	}
}

// mergeErrors merges multiple channels of errors.
// Based on https://blog.golang.org/pipelines.
func mergeErrors(cs ...*errorChan) <-chan error {
	var wg sync.WaitGroup
	// The output channel can hold one error per input channel so a stage
	// never blocks on reporting, even when nobody reads yet.
	out := make(chan error, len(cs))

	output := func(c *errorChan) {
		defer wg.Done()
		if c.c == nil {
			return
		}
		for n := range c.c {
			out <- errors.Wrap(n, c.name)
		}
	}
	wg.Add(len(cs))
	for _, c := range cs {
		go output(c)
	}

	go func() {
		wg.Wait()
		close(out)
	}()

	return out
}

// waitForPipeline drains every error channel and returns all errors once
// every stage has reported.
func waitForPipeline(errs ...*errorChan) []error {
	var all []error
	for err := range mergeErrors(errs...) {
		if err != nil {
			all = append(all, err)
		}
	}

	return all
}
