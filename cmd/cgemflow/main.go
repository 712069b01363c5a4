package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
)

const (
	exitFailure = 1
	exitUsage   = 2
)

// ExitError carries the process exit code of a failed command.
type ExitError struct {
	Code    int
	Message string
}

func (e *ExitError) Error() string {
	return e.Message
}

func usageError(format string, args ...any) error {
	return &ExitError{Code: exitUsage, Message: fmt.Sprintf(format, args...)}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Stdout, os.Stderr, os.Args[1:])
	stop()

	if err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			if exitErr.Message != "" {
				fmt.Fprintln(os.Stderr, exitErr.Message)
			}
			os.Exit(exitErr.Code)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitFailure)
	}
}

const usage = `cgemflow runs genome-scale metabolic modelling workflows.

Usage:
  cgemflow <command> [options]

Commands:
  run         run a pipeline
  graph       print the stage graph of a pipeline as DOT
  params      list the parameters of a pipeline
  taxa-table  build the taxa table of a community
  medium      extract a medium from a media database

Run "cgemflow <command> -h" for the options of a command.
`

func run(ctx context.Context, outW, errW io.Writer, args []string) error {
	if len(args) == 0 {
		fmt.Fprint(errW, usage)
		return &ExitError{Code: exitUsage}
	}

	switch args[0] {
	case "run":
		return runCmd(ctx, outW, errW, args[1:])
	case "graph":
		return graphCmd(outW, errW, args[1:])
	case "params":
		return paramsCmd(outW, errW, args[1:])
	case "taxa-table":
		return taxaTableCmd(errW, args[1:])
	case "medium":
		return mediumCmd(errW, args[1:])
	case "-h", "-help", "--help", "help":
		fmt.Fprint(outW, usage)
		return nil
	default:
		fmt.Fprint(errW, usage)
		return usageError("unknown command %q", args[0])
	}
}
