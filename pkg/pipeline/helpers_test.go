package pipeline_test

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/askiada/cgemflow/pkg/pipeline"
	"github.com/askiada/cgemflow/pkg/pipeline/input"
	"github.com/askiada/cgemflow/pkg/pipeline/param"
)

type call struct {
	args  []string
	dir   string
	start time.Time
	end   time.Time
}

// fakeTool understands a handful of programs:
//
//	write <file>...          creates the files in the working directory
//	sleep <duration> <file>... waits then writes
//	fail                      exits with code 1
//	flaky <file>...           fails the first time it runs in a directory
type fakeTool struct {
	mu    sync.Mutex
	calls []call
	flaky map[string]int
}

func newFakeTool() *fakeTool {
	return &fakeTool{flaky: map[string]int{}}
}

func (f *fakeTool) Execute(ctx context.Context, cmd *pipeline.Command) (*pipeline.ExecResult, error) {
	c := call{args: cmd.Args, dir: cmd.Dir, start: time.Now()}
	defer func() {
		c.end = time.Now()
		f.mu.Lock()
		f.calls = append(f.calls, c)
		f.mu.Unlock()
	}()

	write := func(names []string) (*pipeline.ExecResult, error) {
		for _, name := range names {
			err := os.WriteFile(filepath.Join(cmd.Dir, name), []byte(name+"\n"), 0o600)
			if err != nil {
				return &pipeline.ExecResult{ExitCode: 1, Stderr: []byte(err.Error())}, nil
			}
		}
		return &pipeline.ExecResult{Stdout: []byte("ok\n")}, nil
	}

	switch cmd.Args[0] {
	case "write":
		return write(cmd.Args[1:])
	case "sleep":
		d, err := time.ParseDuration(cmd.Args[1])
		if err != nil {
			return nil, err
		}
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return &pipeline.ExecResult{ExitCode: -1}, ctx.Err()
		}
		return write(cmd.Args[2:])
	case "fail":
		return &pipeline.ExecResult{ExitCode: 1, Stderr: []byte("boom\n")}, nil
	case "flaky":
		f.mu.Lock()
		seen := f.flaky[cmd.Dir]
		f.flaky[cmd.Dir]++
		f.mu.Unlock()
		if seen == 0 {
			return &pipeline.ExecResult{ExitCode: 1, Stderr: []byte("transient\n")}, nil
		}
		return write(cmd.Args[1:])
	default:
		return &pipeline.ExecResult{ExitCode: 127, Stderr: []byte("unknown program")}, nil
	}
}

func (f *fakeTool) callsIn(stage string) []call {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := []call{}
	for _, c := range f.calls {
		if strings.Contains(c.dir, string(filepath.Separator)+stage+string(filepath.Separator)) {
			out = append(out, c)
		}
	}

	return out
}

func newParams(t *testing.T, values map[string]string) *param.Set {
	t.Helper()

	decls := make([]param.Decl, 0, len(values))
	for name := range values {
		kind := param.KindString
		if name == "exchanges" || name == "elasticities" {
			kind = param.KindBool
		}
		decls = append(decls, param.Decl{Name: name, Kind: kind})
	}
	set, err := param.NewResolver(param.WithArgs(values), param.WithEnvPrefix("")).ResolveAll(decls)
	require.NoError(t, err)

	return set
}

func genomesDir(t *testing.T, names ...string) string {
	t.Helper()

	dir := t.TempDir()
	for _, name := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name+".fasta"), []byte(">"+name+"\nMKV\n"), 0o600))
	}

	return dir
}

type env struct {
	work string
	out  string
	tool *fakeTool
}

func newPipe(t *testing.T, params *param.Set, opts ...pipeline.Option) (*pipeline.Pipeline, *env) {
	t.Helper()

	root := t.TempDir()
	e := &env{
		work: filepath.Join(root, "work"),
		out:  filepath.Join(root, "results"),
		tool: newFakeTool(),
	}
	base := []pipeline.Option{
		pipeline.WorkDir(e.work),
		pipeline.OutDir(e.out),
		pipeline.MaxParallel(4),
		pipeline.WithExecutor(e.tool),
	}
	pipe, err := pipeline.New(params, append(base, opts...)...)
	require.NoError(t, err)

	return pipe, e
}

// listFiles returns the paths of all regular files under dir, relative to dir.
func listFiles(t *testing.T, dir string) []string {
	t.Helper()

	out := []string{}
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			rel, err := filepath.Rel(dir, path)
			if err != nil {
				return err
			}
			out = append(out, rel)
		}
		return nil
	})
	require.NoError(t, err)
	sort.Strings(out)

	return out
}

// reconstructStage writes <stem>.xml for each genome, or fails for the stems
// listed in failing.
func reconstructStage(failing ...string) *pipeline.Stage {
	fails := map[string]struct{}{}
	for _, f := range failing {
		fails[f] = struct{}{}
	}

	return &pipeline.Stage{
		Name:    "reconstruct",
		ForEach: "genomes",
		Outputs: []pipeline.Output{{
			Name: "model",
			Path: func(inv *pipeline.Invocation) (string, error) {
				return inv.Item.Stem() + ".xml", nil
			},
		}},
		Command: func(inv *pipeline.Invocation) ([]string, error) {
			if _, ok := fails[inv.Key]; ok {
				return []string{"fail"}, nil
			}
			return []string{"write", inv.Item.Stem() + ".xml"}, nil
		},
		Publish: "gems",
	}
}

func communityStage() *pipeline.Stage {
	return &pipeline.Stage{
		Name:   "build_community",
		Inputs: []pipeline.Input{pipeline.InputFrom("gems", "reconstruct.model", true)},
		Outputs: []pipeline.Output{
			pipeline.StaticOutput("manifest", "manifest.csv"),
			pipeline.StaticOutput("models", "*.pickle"),
		},
		Command: func(*pipeline.Invocation) ([]string, error) {
			return []string{"write", "manifest.csv", "community.pickle"}, nil
		},
		Publish: "community",
	}
}

func addGenomes(t *testing.T, pipe *pipeline.Pipeline, dir string) {
	t.Helper()
	require.NoError(t, pipe.AddSource("genomes", input.Enumerate(filepath.Join(dir, "*.fasta"))))
}
