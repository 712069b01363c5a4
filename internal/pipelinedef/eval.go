package pipelinedef

import (
	"github.com/hashicorp/hcl/v2"
	"github.com/pkg/errors"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"

	"github.com/askiada/cgemflow/pkg/pipeline"
	"github.com/askiada/cgemflow/pkg/pipeline/param"
)

func functions() map[string]function.Function {
	return map[string]function.Function{
		"format":  stdlib.FormatFunc,
		"join":    stdlib.JoinFunc,
		"upper":   stdlib.UpperFunc,
		"lower":   stdlib.LowerFunc,
		"concat":  stdlib.ConcatFunc,
		"flatten": stdlib.FlattenFunc,
		"replace": stdlib.ReplaceFunc,
	}
}

// evaluator builds evaluation contexts for one resolved parameter set.
type evaluator struct {
	decls  []param.Decl
	params cty.Value
	self   string
	funcs  map[string]function.Function
}

func newEvaluator(decls []param.Decl, params *param.Set, self string) *evaluator {
	return &evaluator{
		decls:  decls,
		params: paramObject(decls, params),
		self:   self,
		funcs:  functions(),
	}
}

// paramObject exposes every declared parameter. Booleans are cty booleans,
// other kinds keep their resolved text so numbers reach commands unchanged.
// Unset parameters are null.
func paramObject(decls []param.Decl, params *param.Set) cty.Value {
	attrs := make(map[string]cty.Value, len(decls))
	for _, decl := range decls {
		val, ok := params.Get(decl.Name)
		switch {
		case decl.Kind == param.KindBool && ok:
			attrs[decl.Name] = cty.BoolVal(val.Bool())
		case decl.Kind == param.KindBool:
			attrs[decl.Name] = cty.NullVal(cty.Bool)
		case ok:
			attrs[decl.Name] = cty.StringVal(val.String())
		default:
			attrs[decl.Name] = cty.NullVal(cty.String)
		}
	}
	if len(attrs) == 0 {
		return cty.EmptyObjectVal
	}

	return cty.ObjectVal(attrs)
}

func (e *evaluator) baseContext() *hcl.EvalContext {
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"param": e.params,
			"self":  cty.StringVal(e.self),
		},
		Functions: e.funcs,
	}
}

func (e *evaluator) invocationContext(inv *pipeline.Invocation) *hcl.EvalContext {
	ctx := e.baseContext()
	ctx.Variables["task"] = cty.ObjectVal(map[string]cty.Value{
		"workdir": cty.StringVal(inv.WorkDir),
		"stage":   cty.StringVal(inv.Stage),
		"key":     cty.StringVal(inv.Key),
	})

	if inv.Item != nil {
		attrs := make(map[string]cty.Value, len(inv.Item.Fields)+len(itemAttrs))
		for name, value := range inv.Item.Fields {
			attrs[name] = cty.StringVal(value)
		}
		attrs["path"] = cty.StringVal(inv.Item.Path)
		attrs["name"] = cty.StringVal(inv.Item.Name())
		attrs["stem"] = cty.StringVal(inv.Item.Stem())
		attrs["index"] = cty.NumberIntVal(int64(inv.Index))
		ctx.Variables["item"] = cty.ObjectVal(attrs)
	}

	inputs := make(map[string]cty.Value, len(inv.Inputs))
	for name, paths := range inv.Inputs {
		list := cty.ListValEmpty(cty.String)
		if len(paths) > 0 {
			vals := make([]cty.Value, 0, len(paths))
			for _, p := range paths {
				vals = append(vals, cty.StringVal(p))
			}
			list = cty.ListVal(vals)
		}
		inputs[name] = cty.ObjectVal(map[string]cty.Value{
			"path":  cty.StringVal(inv.InputPath(name)),
			"paths": list,
			"dir":   cty.StringVal(inv.InputDir(name)),
		})
	}
	ctx.Variables["input"] = cty.ObjectVal(inputs)

	return ctx
}

func (e *evaluator) evalString(expr hcl.Expression, ctx *hcl.EvalContext) (string, error) {
	val, diags := expr.Value(ctx)
	if diags.HasErrors() {
		return "", diags
	}
	if val.IsNull() {
		return "", errors.Errorf("%s: value is null", expr.Range())
	}

	str, err := convert.Convert(val, cty.String)
	if err != nil {
		return "", errors.Wrapf(err, "%s", expr.Range())
	}

	return str.AsString(), nil
}

func (e *evaluator) evalBool(expr hcl.Expression, ctx *hcl.EvalContext) (bool, error) {
	val, diags := expr.Value(ctx)
	if diags.HasErrors() {
		return false, diags
	}
	if val.IsNull() {
		return false, nil
	}

	b, err := convert.Convert(val, cty.Bool)
	if err != nil {
		return false, errors.Wrapf(err, "%s", expr.Range())
	}

	return b.True(), nil
}

// evalArgs evaluates a command. Nested lists are flattened and null elements
// dropped.
func (e *evaluator) evalArgs(expr hcl.Expression, ctx *hcl.EvalContext) ([]string, error) {
	val, diags := expr.Value(ctx)
	if diags.HasErrors() {
		return nil, diags
	}

	args, err := flattenArgs(val)
	if err != nil {
		return nil, errors.Wrapf(err, "%s", expr.Range())
	}
	if len(args) == 0 {
		return nil, errors.Wrapf(ErrEmptyCommand, "%s", expr.Range())
	}

	return args, nil
}

func flattenArgs(val cty.Value) ([]string, error) {
	if val.IsNull() {
		return nil, nil
	}
	if !val.IsWhollyKnown() {
		return nil, errors.New("command has unknown values")
	}

	ty := val.Type()
	if ty.IsListType() || ty.IsTupleType() || ty.IsSetType() {
		out := []string{}
		for it := val.ElementIterator(); it.Next(); {
			_, elem := it.Element()
			args, err := flattenArgs(elem)
			if err != nil {
				return nil, err
			}
			out = append(out, args...)
		}

		return out, nil
	}

	str, err := convert.Convert(val, cty.String)
	if err != nil {
		return nil, err
	}

	return []string{str.AsString()}, nil
}
