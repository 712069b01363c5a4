package pipeline

import (
	"path/filepath"

	"github.com/dominikbraun/graph"
	"github.com/pkg/errors"
)

func stageHash(s *Stage) string {
	return s.Name
}

// buildGraph validates the stages and links every stage to the stages it
// reads from.
func (p *Pipeline) buildGraph() (graph.Graph[string, *Stage], error) {
	g := graph.New(stageHash, graph.Directed(), graph.PreventCycles())

	for _, st := range p.stages {
		err := validateStage(st, p.sources)
		if err != nil {
			return nil, err
		}

		err = g.AddVertex(st)
		if errors.Is(err, graph.ErrVertexAlreadyExists) {
			return nil, errors.Wrap(ErrDuplicateStage, st.Name)
		}
		if err != nil {
			return nil, errors.Wrapf(err, "unable to add stage %s", st.Name)
		}
	}

	for _, st := range p.stages {
		for _, in := range st.Inputs {
			upstream, err := g.Vertex(in.Stage)
			if err != nil {
				return nil, errors.Wrapf(ErrUnknownStage, "stage %s input %s reads from %q", st.Name, in.Name, in.Stage)
			}
			if _, ok := upstream.output(in.Output); !ok {
				return nil, errors.Wrapf(ErrUnknownOutput, "stage %s input %s reads %s.%s", st.Name, in.Name, in.Stage, in.Output)
			}
			if upstream.ForEach != "" && !in.Collect && upstream.ForEach != st.ForEach {
				return nil, errors.Wrapf(ErrCollectRequired, "stage %s input %s", st.Name, in.Name)
			}

			err = g.AddEdge(in.Stage, st.Name)
			switch {
			case errors.Is(err, graph.ErrEdgeAlreadyExists):
			case errors.Is(err, graph.ErrEdgeCreatesCycle):
				return nil, errors.Wrapf(ErrCycle, "%s -> %s", in.Stage, st.Name)
			case err != nil:
				return nil, errors.Wrapf(err, "unable to link %s to %s", in.Stage, st.Name)
			}
		}
	}

	return g, nil
}

func validateStage(st *Stage, sources map[string]struct{}) error {
	if st == nil {
		return ErrStageMustBeSet
	}
	if st.Name == "" {
		return ErrEmptyStageName
	}
	if st.Command == nil {
		return errors.Wrap(ErrMissingCommand, st.Name)
	}
	if st.ForEach != "" {
		if _, ok := sources[st.ForEach]; !ok {
			return errors.Wrapf(ErrUnknownSource, "stage %s iterates over %q", st.Name, st.ForEach)
		}
	}
	if st.Publish != "" && st.Publish != "." && !filepath.IsLocal(st.Publish) {
		return errors.Wrapf(ErrInvalidPublish, "stage %s publishes to %q", st.Name, st.Publish)
	}

	inputs := make(map[string]struct{}, len(st.Inputs))
	for _, in := range st.Inputs {
		if _, ok := inputs[in.Name]; ok {
			return errors.Wrapf(ErrDuplicateInput, "stage %s input %s", st.Name, in.Name)
		}
		inputs[in.Name] = struct{}{}

		if dir := in.dir(); !filepath.IsLocal(dir) || filepath.Base(dir) != dir {
			return errors.Wrapf(ErrInvalidInputDir, "stage %s input %s stages into %q", st.Name, in.Name, dir)
		}
	}

	outputs := make(map[string]struct{}, len(st.Outputs))
	for _, out := range st.Outputs {
		if _, ok := outputs[out.Name]; ok {
			return errors.Wrapf(ErrDuplicateOutput, "stage %s output %s", st.Name, out.Name)
		}
		outputs[out.Name] = struct{}{}
	}

	return nil
}

// stageOrder returns a topological order of the stages, ties broken by
// declaration order.
func (p *Pipeline) stageOrder(g graph.Graph[string, *Stage]) ([]string, error) {
	declared := make(map[string]int, len(p.stages))
	for i, st := range p.stages {
		declared[st.Name] = i
	}

	order, err := graph.StableTopologicalSort(g, func(a, b string) bool {
		return declared[a] < declared[b]
	})
	if err != nil {
		return nil, errors.Wrap(err, "unable to sort stages")
	}

	return order, nil
}
