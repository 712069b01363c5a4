package pipeline

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const (
	stdoutFile = ".command.out"
	stderrFile = ".command.err"

	tailLines = 20
	tailBytes = 4096
)

// Command is a subprocess to run.
type Command struct {
	Args []string
	Dir  string
	Env  []string
}

// ExecResult holds what a finished subprocess left behind.
type ExecResult struct {
	// ExitCode is -1 when the process was killed or never started.
	ExitCode int
	Stdout   []byte
	Stderr   []byte
}

// Executor runs subprocesses.
type Executor interface {
	// Execute runs cmd and waits for it. A non zero exit is reported through
	// ExecResult.ExitCode with a nil error; the error is set when the
	// process could not be started or was stopped by ctx.
	Execute(ctx context.Context, cmd *Command) (*ExecResult, error)
}

// ExecutorFunc adapts a function to an Executor.
type ExecutorFunc func(ctx context.Context, cmd *Command) (*ExecResult, error)

// Execute calls f.
func (f ExecutorFunc) Execute(ctx context.Context, cmd *Command) (*ExecResult, error) {
	return f(ctx, cmd)
}

// ProcessExecutor runs commands as local processes.
type ProcessExecutor struct {
	// WaitDelay bounds the wait for the output pipes after the process was
	// killed. Zero means two seconds.
	WaitDelay time.Duration
}

// Execute runs cmd with its output captured in memory.
func (e *ProcessExecutor) Execute(ctx context.Context, cmd *Command) (*ExecResult, error) {
	if len(cmd.Args) == 0 {
		return nil, errors.New("empty command")
	}

	proc := exec.CommandContext(ctx, cmd.Args[0], cmd.Args[1:]...) //nolint:gosec // commands come from the pipeline definition
	proc.Dir = cmd.Dir
	if len(cmd.Env) > 0 {
		proc.Env = append(os.Environ(), cmd.Env...)
	}
	proc.WaitDelay = e.WaitDelay
	if proc.WaitDelay == 0 {
		proc.WaitDelay = 2 * time.Second
	}

	var stdout, stderr bytes.Buffer
	proc.Stdout = &stdout
	proc.Stderr = &stderr

	err := proc.Run()
	res := &ExecResult{
		ExitCode: -1,
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
	}

	if ctx.Err() != nil {
		return res, errors.Wrap(ctx.Err(), "process stopped")
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		res.ExitCode = 0
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
	default:
		return res, errors.Wrapf(err, "unable to start %s", cmd.Args[0])
	}

	return res, nil
}

// writeLogs keeps the captured output next to the invocation outputs.
func writeLogs(dir string, res *ExecResult) error {
	err := os.WriteFile(filepath.Join(dir, stdoutFile), res.Stdout, 0o644) //nolint:gosec
	if err != nil {
		return errors.Wrap(err, "unable to write stdout")
	}
	err = os.WriteFile(filepath.Join(dir, stderrFile), res.Stderr, 0o644) //nolint:gosec
	if err != nil {
		return errors.Wrap(err, "unable to write stderr")
	}

	return nil
}

// tail returns the last lines of stderr, or of stdout when stderr is empty.
func tail(res *ExecResult) string {
	if res == nil {
		return ""
	}
	out := res.Stderr
	if len(bytes.TrimSpace(out)) == 0 {
		out = res.Stdout
	}
	text := strings.TrimRight(string(out), "\n")
	if len(text) > tailBytes {
		text = text[len(text)-tailBytes:]
	}

	lines := strings.Split(text, "\n")
	if len(lines) > tailLines {
		lines = lines[len(lines)-tailLines:]
	}

	return strings.Join(lines, "\n")
}
