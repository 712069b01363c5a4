package pipeline

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/askiada/cgemflow/pkg/pipeline/input"
	"github.com/askiada/cgemflow/pkg/pipeline/model"
	"github.com/askiada/cgemflow/pkg/pipeline/param"
)

// singleKey is the invocation key of a stage that is not replicated.
const singleKey = "_"

// CommandFunc builds the argument vector of one invocation. The first element
// is the program.
type CommandFunc func(inv *Invocation) ([]string, error)

// ConditionFunc decides whether a conditional stage runs.
type ConditionFunc func(params *param.Set) (bool, error)

// OutputFunc returns the path or glob pattern of an output. Relative
// patterns are resolved against the invocation working directory.
type OutputFunc func(inv *Invocation) (string, error)

// Input binds the output of an upstream stage to a stage.
type Input struct {
	// Name is the key of the staged paths in Invocation.Inputs.
	Name   string
	Stage  string
	Output string
	// Dir is the staging directory of the files, shared by the inputs naming
	// the same Dir. It defaults to Name.
	Dir string
	// Collect waits for every invocation of the upstream stage and binds all
	// of their files at once.
	Collect bool
}

// Output declares a file set a stage must produce.
type Output struct {
	Name string
	Path OutputFunc
}

// StaticOutput declares an output with a fixed pattern.
func StaticOutput(name, pattern string) Output {
	return Output{
		Name: name,
		Path: func(*Invocation) (string, error) { return pattern, nil },
	}
}

// Stage describes one step of the pipeline.
type Stage struct {
	Name string
	// ForEach names the source the stage is replicated over. A stage without
	// ForEach runs once.
	ForEach string
	Inputs  []Input
	Outputs []Output
	// When makes the stage conditional. A nil When always runs.
	When    ConditionFunc
	Command CommandFunc
	// Publish is the sub directory of the output directory receiving the
	// outputs. "." publishes at the root, "" does not publish.
	Publish string
	// Timeout overrides the pipeline invocation timeout when positive.
	Timeout time.Duration
}

func (s *Stage) info() *model.StageInfo {
	return &model.StageInfo{
		Name:        s.Name,
		ForEach:     s.ForEach,
		Publish:     s.Publish,
		Conditional: s.When != nil,
	}
}

func (s *Stage) output(name string) (Output, bool) {
	for _, out := range s.Outputs {
		if out.Name == name {
			return out, true
		}
	}

	return Output{}, false
}

// Invocation is one execution of a stage.
type Invocation struct {
	Stage string
	// Key identifies the invocation inside the stage: the item stem for a
	// replicated stage, "_" otherwise.
	Key   string
	Index int
	// Item is nil for a stage that is not replicated.
	Item    *input.FileHandle
	WorkDir string
	Params  *param.Set
	// Inputs holds the staged paths of each bound input.
	Inputs map[string][]string

	inputDirs map[string]string
}

// Input returns the staged paths of the input name.
func (inv *Invocation) Input(name string) []string {
	return inv.Inputs[name]
}

// InputPath returns the first staged path of the input name.
func (inv *Invocation) InputPath(name string) string {
	paths := inv.Inputs[name]
	if len(paths) == 0 {
		return ""
	}

	return paths[0]
}

// InputDir returns the directory holding the staged files of the input name.
func (inv *Invocation) InputDir(name string) string {
	if dir, ok := inv.inputDirs[name]; ok {
		return dir
	}

	return filepath.Join(inv.WorkDir, inputsDir, name)
}

func (in Input) dir() string {
	if in.Dir != "" {
		return in.Dir
	}

	return in.Name
}

const inputsDir = "inputs"

func splitFrom(from string) (string, string) {
	stage, output, ok := strings.Cut(from, ".")
	if !ok {
		return from, ""
	}

	return stage, output
}

// InputFrom builds an input from a "stage.output" reference.
func InputFrom(name, from string, collect bool) Input {
	stage, output := splitFrom(from)

	return Input{
		Name:    name,
		Stage:   stage,
		Output:  output,
		Collect: collect,
	}
}
