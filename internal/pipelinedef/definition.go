// Package pipelinedef loads pipeline definitions written in HCL and compiles
// them into pipeline stages.
//
// A definition declares its parameters, the named item sources replicated
// stages iterate over and the stages themselves. An item source is a glob
// pattern or a TSV table with one item file per row. Command, output and
// condition attributes are expressions evaluated for every invocation against
// the param, item, input, task and self variables.
package pipelinedef

import (
	"embed"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/pkg/errors"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"

	"github.com/askiada/cgemflow/internal/tables"
	"github.com/askiada/cgemflow/pkg/pipeline/param"
)

var (
	ErrUnknownPipeline    = errors.New("unknown pipeline")
	ErrInvalidDeclaration = errors.New("invalid declaration")
	ErrInvalidReference   = errors.New("invalid reference")
	ErrEmptyCommand       = errors.New("command evaluated to an empty list")
)

//go:embed pipelines/*.hcl
var builtins embed.FS

const builtinDir = "pipelines"

// Builtins returns the names of the embedded pipelines, sorted.
func Builtins() []string {
	entries, err := fs.ReadDir(builtins, builtinDir)
	if err != nil {
		return nil
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, strings.TrimSuffix(entry.Name(), ".hcl"))
	}
	sort.Strings(names)

	return names
}

// Load returns the embedded pipeline called nameOrPath, or parses the file at
// that path.
func Load(nameOrPath string) (*Definition, error) {
	src, err := builtins.ReadFile(path.Join(builtinDir, nameOrPath+".hcl"))
	if err == nil {
		return Parse(src, nameOrPath+".hcl")
	}

	src, err = os.ReadFile(nameOrPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, errors.Wrapf(ErrUnknownPipeline, "%q is neither a file nor one of %s", nameOrPath, strings.Join(Builtins(), ", "))
		}

		return nil, errors.Wrapf(err, "unable to read pipeline %s", nameOrPath)
	}

	return Parse(src, nameOrPath)
}

// Definition is a parsed and checked pipeline file.
type Definition struct {
	Name        string
	Description string
	// Self is the program the self variable points to. It defaults to the
	// running executable.
	Self string

	decls  []param.Decl
	items  []*itemsBlock
	stages []*stageBlock
	// timeouts holds the parsed stage timeouts by stage name.
	timeouts map[string]time.Duration
}

// Parse decodes and checks the pipeline file src. The name of the definition
// is the base name of filename without its extension.
func Parse(src []byte, filename string) (*Definition, error) {
	file, diags := hclparse.NewParser().ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, errors.Wrapf(diags, "unable to parse %s", filename)
	}

	var root fileRoot
	diags = gohcl.DecodeBody(file.Body, nil, &root)
	if diags.HasErrors() {
		return nil, errors.Wrapf(diags, "unable to decode %s", filename)
	}

	def := &Definition{
		Name:        strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename)),
		Description: root.Description,
		items:       root.Items,
		stages:      root.Stages,
		timeouts:    make(map[string]time.Duration),
	}

	for _, pb := range root.Params {
		decl, err := newDecl(pb)
		if err != nil {
			return nil, errors.Wrapf(err, "%s: param %q", filename, pb.Name)
		}
		def.decls = append(def.decls, decl)
	}

	err := def.check()
	if err != nil {
		return nil, errors.Wrap(err, filename)
	}

	return def, nil
}

// Decls returns the parameter declarations in file order.
func (d *Definition) Decls() []param.Decl {
	return append([]param.Decl(nil), d.decls...)
}

// Stages returns the stage names in file order.
func (d *Definition) Stages() []string {
	names := make([]string, 0, len(d.stages))
	for _, sb := range d.stages {
		names = append(names, sb.Name)
	}

	return names
}

func newDecl(pb *paramBlock) (param.Decl, error) {
	kind, err := param.ParseKind(pb.Type)
	if err != nil {
		return param.Decl{}, err
	}

	decl := param.Decl{
		Name:        pb.Name,
		Kind:        kind,
		Description: pb.Description,
		Required:    pb.Required,
	}

	if defined(pb.Default) {
		val, diags := pb.Default.Value(&hcl.EvalContext{Functions: functions()})
		if diags.HasErrors() {
			return param.Decl{}, errors.Wrap(diags, "unable to evaluate default")
		}
		if !val.IsNull() {
			str, err := convert.Convert(val, cty.String)
			if err != nil {
				return param.Decl{}, errors.Wrapf(ErrInvalidDeclaration, "default must be a single value: %v", err)
			}
			decl.Default = str.AsString()
			decl.HasDefault = true
		}
	}

	if (pb.MustExist || len(pb.Columns) > 0) && kind != param.KindPath {
		return param.Decl{}, errors.Wrap(ErrInvalidDeclaration, "must_exist and columns need a path parameter")
	}
	decl.Validate = pathValidator(pb.MustExist, pb.Columns)

	return decl, nil
}

func pathValidator(mustExist bool, columns []string) func(param.Value) error {
	switch {
	case len(columns) > 0:
		return func(v param.Value) error {
			return tables.ValidateHeader(v.String(), columns...)
		}
	case mustExist:
		return func(v param.Value) error {
			_, err := os.Stat(v.String())
			return err
		}
	default:
		return nil
	}
}

// check validates names, references and stage attributes. The stage graph
// itself is checked by pipeline.Plan.
func (d *Definition) check() error {
	params := make(map[string]struct{}, len(d.decls))
	for _, decl := range d.decls {
		if _, ok := params[decl.Name]; ok {
			return errors.Wrapf(param.ErrDuplicateParameter, "param %q", decl.Name)
		}
		params[decl.Name] = struct{}{}
	}

	for _, ib := range d.items {
		err := checkItems(ib, params)
		if err != nil {
			return errors.Wrapf(err, "items %q", ib.Name)
		}
	}

	for _, sb := range d.stages {
		err := d.checkStage(sb, params)
		if err != nil {
			return errors.Wrapf(err, "stage %q", sb.Name)
		}
	}

	return nil
}

func checkItems(ib *itemsBlock, params map[string]struct{}) error {
	sc := scope{"param": params, "self": nil}

	switch {
	case defined(ib.Pattern) && defined(ib.Table):
		return errors.Wrap(ErrInvalidDeclaration, "pattern and table are exclusive")
	case defined(ib.Pattern):
		if ib.PathColumn != "" || len(ib.Columns) > 0 || len(ib.Files) > 0 {
			return errors.Wrap(ErrInvalidDeclaration, "path_column, columns and files need a table")
		}

		return errors.Wrap(checkRefs(ib.Pattern, sc), "pattern")
	case !defined(ib.Table):
		return errors.Wrap(ErrInvalidDeclaration, "one of pattern or table is required")
	}

	if ib.PathColumn == "" {
		return errors.Wrap(ErrInvalidDeclaration, "a table needs path_column")
	}

	columns := set(ib.Columns...)
	for _, column := range ib.Columns {
		if !hclsyntax.ValidIdentifier(column) {
			return errors.Wrapf(ErrInvalidDeclaration, "column %q is not a valid attribute name", column)
		}
		if _, ok := set(itemAttrs...)[column]; ok {
			return errors.Wrapf(ErrInvalidDeclaration, "column %q shadows item.%s", column, column)
		}
	}
	for _, column := range ib.Files {
		if _, ok := columns[column]; !ok {
			return errors.Wrapf(ErrInvalidDeclaration, "file column %q is not one of columns", column)
		}
	}

	return errors.Wrap(checkRefs(ib.Table, sc), "table")
}

func (d *Definition) checkStage(sb *stageBlock, params map[string]struct{}) error {
	if !defined(sb.Command) {
		return errors.Wrap(ErrInvalidDeclaration, "command is required")
	}

	if sb.Timeout != "" {
		timeout, err := time.ParseDuration(sb.Timeout)
		if err != nil || timeout <= 0 {
			return errors.Wrapf(ErrInvalidDeclaration, "timeout %q must be a positive duration", sb.Timeout)
		}
		d.timeouts[sb.Name] = timeout
	}

	if defined(sb.When) {
		err := checkRefs(sb.When, scope{"param": params})
		if err != nil {
			return errors.Wrap(err, "when")
		}
	}

	inputs := make(map[string]struct{}, len(sb.Inputs))
	for _, ib := range sb.Inputs {
		stage, output, ok := strings.Cut(ib.From, ".")
		if !ok || stage == "" || output == "" || strings.Contains(output, ".") {
			return errors.Wrapf(ErrInvalidReference, "input %q: from must be stage.output, got %q", ib.Name, ib.From)
		}
		inputs[ib.Name] = struct{}{}
	}

	sc := scope{
		"param": params,
		"input": inputs,
		"task":  set("workdir", "stage", "key"),
		"self":  nil,
	}
	if sb.ForEach != "" {
		attrs := append([]string(nil), itemAttrs...)
		for _, ib := range d.items {
			if ib.Name == sb.ForEach {
				attrs = append(attrs, ib.Columns...)
			}
		}
		sc["item"] = set(attrs...)
	}

	err := checkRefs(sb.Command, sc)
	if err != nil {
		return errors.Wrap(err, "command")
	}
	for _, ob := range sb.Outputs {
		if !defined(ob.Path) {
			return errors.Wrapf(ErrInvalidDeclaration, "output %q: path is required", ob.Name)
		}
		err := checkRefs(ob.Path, sc)
		if err != nil {
			return errors.Wrapf(err, "output %q", ob.Name)
		}
	}

	return nil
}

// scope maps the variables an expression may use to their known attributes.
// A nil attribute set accepts no attribute access.
type scope map[string]map[string]struct{}

func set(names ...string) map[string]struct{} {
	out := make(map[string]struct{}, len(names))
	for _, name := range names {
		out[name] = struct{}{}
	}

	return out
}

func checkRefs(expr hcl.Expression, sc scope) error {
	for _, traversal := range expr.Variables() {
		root := traversal.RootName()
		attrs, ok := sc[root]
		if !ok {
			return errors.Wrapf(ErrInvalidReference, "%s: %s is not available here", traversal.SourceRange(), root)
		}
		if len(traversal) < 2 {
			continue
		}
		attr, ok := traversal[1].(hcl.TraverseAttr)
		if !ok {
			continue
		}
		if _, ok := attrs[attr.Name]; !ok {
			return errors.Wrapf(ErrInvalidReference, "%s: unknown %s.%s", traversal.SourceRange(), root, attr.Name)
		}
	}

	return nil
}
