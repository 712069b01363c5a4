package pipelinedef

import (
	"os"

	"github.com/pkg/errors"

	"github.com/askiada/cgemflow/pkg/pipeline"
	"github.com/askiada/cgemflow/pkg/pipeline/input"
	"github.com/askiada/cgemflow/pkg/pipeline/param"
)

// Build compiles the definition into a planned pipeline over params. Item
// patterns and tables are evaluated here; the files are only listed when the
// run starts.
func (d *Definition) Build(params *param.Set, opts ...pipeline.Option) (*pipeline.Pipeline, error) {
	ev := newEvaluator(d.decls, params, d.self())

	return d.assemble(params, ev, func(ib *itemsBlock) (input.Sequence, error) {
		if defined(ib.Table) {
			table, err := ev.evalString(ib.Table, ev.baseContext())
			if err != nil {
				return nil, errors.Wrapf(err, "unable to evaluate the table of items %q", ib.Name)
			}

			return tableItems(table, ib.PathColumn, ib.Columns, ib.Files), nil
		}

		pattern, err := ev.evalString(ib.Pattern, ev.baseContext())
		if err != nil {
			return nil, errors.Wrapf(err, "unable to evaluate the pattern of items %q", ib.Name)
		}

		return input.Enumerate(pattern), nil
	}, opts...)
}

// Plan compiles the definition without parameters. Sources are empty and no
// expression is evaluated, which is enough to validate and draw the graph.
func (d *Definition) Plan(opts ...pipeline.Option) (*pipeline.Pipeline, error) {
	ev := newEvaluator(d.decls, nil, d.self())

	return d.assemble(nil, ev, func(*itemsBlock) (input.Sequence, error) {
		return input.Files(), nil
	}, opts...)
}

func (d *Definition) assemble(
	params *param.Set,
	ev *evaluator,
	source func(*itemsBlock) (input.Sequence, error),
	opts ...pipeline.Option,
) (*pipeline.Pipeline, error) {
	pipe, err := pipeline.New(params, opts...)
	if err != nil {
		return nil, err
	}

	for _, ib := range d.items {
		seq, err := source(ib)
		if err != nil {
			return nil, err
		}
		err = pipe.AddSource(ib.Name, seq)
		if err != nil {
			return nil, err
		}
	}

	for _, sb := range d.stages {
		err := pipe.AddStage(d.stage(sb, ev))
		if err != nil {
			return nil, err
		}
	}

	err = pipe.Plan()
	if err != nil {
		return nil, errors.Wrapf(err, "invalid pipeline %s", d.Name)
	}

	return pipe, nil
}

func (d *Definition) stage(sb *stageBlock, ev *evaluator) *pipeline.Stage {
	st := &pipeline.Stage{
		Name:    sb.Name,
		ForEach: sb.ForEach,
		Publish: sb.Publish,
		Timeout: d.timeouts[sb.Name],
		Command: func(inv *pipeline.Invocation) ([]string, error) {
			return ev.evalArgs(sb.Command, ev.invocationContext(inv))
		},
	}

	for _, ib := range sb.Inputs {
		in := pipeline.InputFrom(ib.Name, ib.From, ib.Collect)
		in.Dir = ib.Dir
		st.Inputs = append(st.Inputs, in)
	}

	for _, ob := range sb.Outputs {
		st.Outputs = append(st.Outputs, pipeline.Output{
			Name: ob.Name,
			Path: func(inv *pipeline.Invocation) (string, error) {
				return ev.evalString(ob.Path, ev.invocationContext(inv))
			},
		})
	}

	if defined(sb.When) {
		st.When = func(params *param.Set) (bool, error) {
			cond := newEvaluator(d.decls, params, ev.self)
			return cond.evalBool(sb.When, cond.baseContext())
		}
	}

	return st
}

func (d *Definition) self() string {
	if d.Self != "" {
		return d.Self
	}

	exe, err := os.Executable()
	if err != nil {
		return os.Args[0]
	}

	return exe
}
