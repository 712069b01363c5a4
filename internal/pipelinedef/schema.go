package pipelinedef

import (
	"github.com/hashicorp/hcl/v2"
)

// fileRoot decodes every top level construct of a pipeline file.
type fileRoot struct {
	Description string        `hcl:"description,optional"`
	Params      []*paramBlock `hcl:"param,block"`
	Items       []*itemsBlock `hcl:"items,block"`
	Stages      []*stageBlock `hcl:"stage,block"`
}

type paramBlock struct {
	Name        string         `hcl:"name,label"`
	Type        string         `hcl:"type,optional"`
	Description string         `hcl:"description,optional"`
	Default     hcl.Expression `hcl:"default,optional"`
	Required    bool           `hcl:"required,optional"`
	MustExist   bool           `hcl:"must_exist,optional"`
	Columns     []string       `hcl:"columns,optional"`
}

// itemsBlock declares a named item source: either the files matching a glob
// pattern, or the rows of a TSV table naming one file per row.
type itemsBlock struct {
	Name    string         `hcl:"name,label"`
	Pattern hcl.Expression `hcl:"pattern,optional"`
	Table   hcl.Expression `hcl:"table,optional"`
	// PathColumn is the table column holding the item file.
	PathColumn string `hcl:"path_column,optional"`
	// Columns are exposed as item attributes. Files lists those that name
	// files which must exist.
	Columns []string `hcl:"columns,optional"`
	Files   []string `hcl:"files,optional"`
}

type stageBlock struct {
	Name    string         `hcl:"name,label"`
	ForEach string         `hcl:"for_each,optional"`
	When    hcl.Expression `hcl:"when,optional"`
	Command hcl.Expression `hcl:"command"`
	Timeout string         `hcl:"timeout,optional"`
	Publish string         `hcl:"publish,optional"`
	Inputs  []*inputBlock  `hcl:"input,block"`
	Outputs []*outputBlock `hcl:"output,block"`
}

type inputBlock struct {
	Name    string `hcl:"name,label"`
	From    string `hcl:"from"`
	Collect bool   `hcl:"collect,optional"`
	Dir     string `hcl:"dir,optional"`
}

type outputBlock struct {
	Name string         `hcl:"name,label"`
	Path hcl.Expression `hcl:"path"`
}

// defined tells an attribute written in the file from the placeholder gohcl
// leaves for an absent optional expression.
func defined(expr hcl.Expression) bool {
	if expr == nil {
		return false
	}
	rng := expr.Range()

	return rng.End.Byte > rng.Start.Byte
}
