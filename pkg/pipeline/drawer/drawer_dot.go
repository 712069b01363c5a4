package drawer

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/template"
	"time"

	"github.com/dominikbraun/graph"
	"github.com/pkg/errors"
	"gopkg.in/go-playground/colors.v1" //nolint

	"github.com/askiada/cgemflow/internal/store"
	"github.com/askiada/cgemflow/pkg/pipeline/measure"
	"github.com/askiada/cgemflow/pkg/pipeline/model"
)

// DOTDrawer is a drawer that writes the pipeline graph in the graphviz DOT
// language.
type DOTDrawer struct {
	graph    graph.Graph[string, string]
	store    store.CustomStore[string, string]
	fileName string
}

// NewDOTDrawer creates a new DOT drawer. Draw writes to fileName.
func NewDOTDrawer(fileName string) *DOTDrawer {
	st := store.NewMemoryStore[string, string]()

	return &DOTDrawer{
		fileName: fileName,
		store:    st,
		graph:    graph.NewWithStore(graph.StringHash, st, graph.Directed()),
	}
}

// AddStage adds a stage to the pipeline graph.
func (d *DOTDrawer) AddStage(stage *model.StageInfo) error {
	attrs := map[string]string{"shape": "box"}

	switch {
	case stage.Name == model.StartStage.Name || stage.Name == model.EndStage.Name:
		attrs["shape"] = "circle"
	case stage.ForEach != "":
		attrs["shape"] = "box3d"
	}

	if stage.Conditional {
		attrs["style"] = "dashed"
	}

	err := d.graph.AddVertex(stage.Name, graph.VertexAttributes(attrs))
	if err != nil {
		return errors.Wrapf(err, "unable to add vertex %s", stage.Name)
	}

	return nil
}

// AddLink adds a link between an upstream and a downstream stage.
func (d *DOTDrawer) AddLink(parentName, childName string) error {
	err := d.graph.AddEdge(parentName, childName)
	if err != nil && !errors.Is(err, graph.ErrEdgeAlreadyExists) {
		return errors.Wrapf(err, "unable to add edge from %s to %s", parentName, childName)
	}

	return nil
}

var statusRGB = map[model.Status][3]uint8{
	model.StatusSucceeded: {0x9b, 0xe5, 0x9b},
	model.StatusFailed:    {0xf0, 0x80, 0x80},
	model.StatusSkipped:   {0xd3, 0xd3, 0xd3},
	model.StatusNotRun:    {0xf5, 0xf5, 0xf5},
}

// SetStatus fills the stage with the colour of its final status.
func (d *DOTDrawer) SetStatus(stageName string, status model.Status) error {
	rgb, ok := statusRGB[status]
	if !ok {
		return nil
	}

	fill, err := colors.RGB(rgb[0], rgb[1], rgb[2])
	if err != nil {
		return errors.Wrap(err, "unable to get colour")
	}

	_, props, err := d.store.Vertex(stageName)
	if err != nil {
		return errors.Wrapf(err, "unable to get vertex %s", stageName)
	}

	// conditional stages keep their dashed border once filled
	style := "filled"
	if strings.Contains(props.Attributes["style"], "dashed") {
		style = "filled,dashed"
	}

	err = d.store.UpdateVertex(stageName,
		graph.VertexAttribute("style", style),
		graph.VertexAttribute("fillcolor", fill.ToHEX().String()),
		graph.VertexAttribute("tooltip", string(status)),
	)
	if err != nil {
		return errors.Wrapf(err, "unable to update vertex %s", stageName)
	}

	return nil
}

// SetTotalTime sets the total time for the stage.
func (d *DOTDrawer) SetTotalTime(stageName string, startTime time.Time) error {
	err := d.store.UpdateVertex(stageName, graph.VertexAttribute("xlabel", time.Since(startTime).Round(time.Millisecond).String()))
	if err != nil {
		return errors.Wrap(err, "unable to set total time")
	}

	return nil
}

const maxRGB = 240

// AddMeasure labels every stage with its timings, colours the edges after the
// duration of their upstream stage and highlights the critical path.
func (d *DOTDrawer) AddMeasure(msr measure.Measure) error {
	metrics := msr.AllMetrics()

	var minTotal, maxTotal time.Duration
	for name, metric := range metrics {
		if name == model.StartStage.Name || name == model.EndStage.Name {
			continue
		}

		total := metric.GetTotalDuration()
		if total == 0 {
			continue
		}
		if minTotal == 0 || total < minTotal {
			minTotal = total
		}
		if total > maxTotal {
			maxTotal = total
		}
	}

	edges, err := d.graph.Edges()
	if err != nil {
		return errors.Wrap(err, "unable to list edges")
	}

	for name, metric := range metrics {
		if name == model.StartStage.Name || name == model.EndStage.Name {
			continue
		}

		label := stageLabel(metric)
		if label == "" {
			continue
		}

		err := d.store.UpdateVertex(name, graph.VertexAttribute("xlabel", label))
		if err != nil {
			return errors.Wrapf(err, "unable to update vertex %s", name)
		}
	}

	for _, edge := range edges {
		metric, ok := metrics[edge.Source]
		if !ok || metric.GetTotalDuration() == 0 {
			continue
		}

		colour, err := durationColour(metric.GetTotalDuration(), minTotal, maxTotal)
		if err != nil {
			return err
		}

		err = d.graph.UpdateEdge(edge.Source, edge.Target,
			graph.EdgeAttribute("label", metric.GetTotalDuration().String()),
			graph.EdgeAttribute("fontcolor", "blue"),
			graph.EdgeAttribute("color", colour),
		)
		if err != nil {
			return errors.Wrap(err, "unable to update edge")
		}
	}

	err = d.highlightCriticalPath(msr)
	if err != nil {
		return errors.Wrap(err, "unable to highlight critical path")
	}

	return nil
}

func stageLabel(metric measure.Metric) string {
	label := ""
	if avg := metric.AVGDuration(); avg != 0 {
		label = "avg: " + avg.String()
	}

	if total := metric.GetTotalDuration(); total > 0 {
		if label != "" {
			label += ", "
		}
		label += "total: " + total.String()
	}

	if n := metric.Invocations(); n > 1 || metric.Failures() > 0 {
		label += fmt.Sprintf(", %d/%d ok", n-metric.Failures(), n)
	}

	return label
}

// durationColour goes from blue for the fastest stage to red for the slowest.
func durationColour(curr, minValue, maxValue time.Duration) (string, error) {
	fraction := 1.0
	if maxValue > minValue {
		fraction = float64(curr-minValue) / float64(maxValue-minValue)
	}

	red := maxRGB * fraction
	blue := maxRGB - red

	colour, err := colors.RGB(uint8(red), 0, uint8(blue)) //nolint
	if err != nil {
		return "", errors.Wrap(err, "unable to get colour")
	}

	return colour.ToHEX().String(), nil
}

// CriticalPath returns the chain of stages from start to end with the largest
// summed total duration.
func (d *DOTDrawer) CriticalPath(msr measure.Measure) ([]string, time.Duration, error) {
	err := d.closeGraph()
	if err != nil {
		return nil, 0, err
	}

	order, err := graph.StableTopologicalSort(d.graph, func(a, b string) bool { return a < b })
	if err != nil {
		return nil, 0, errors.Wrap(err, "unable to sort stages")
	}

	predecessors, err := d.graph.PredecessorMap()
	if err != nil {
		return nil, 0, errors.Wrap(err, "unable to get predecessors")
	}

	weight := func(name string) time.Duration {
		metric := msr.GetMetric(name)
		if metric == nil || name == model.StartStage.Name || name == model.EndStage.Name {
			return 0
		}

		return metric.GetTotalDuration()
	}

	dist := make(map[string]time.Duration, len(order))
	prev := make(map[string]string, len(order))

	for _, name := range order {
		best := time.Duration(-1)
		for parent := range predecessors[name] {
			if dist[parent] > best || (dist[parent] == best && parent < prev[name]) {
				best = dist[parent]
				prev[name] = parent
			}
		}
		if best < 0 {
			best = 0
		}
		dist[name] = best + weight(name)
	}

	path := []string{model.EndStage.Name}
	for curr := model.EndStage.Name; curr != model.StartStage.Name; {
		parent, ok := prev[curr]
		if !ok {
			return nil, 0, errors.Errorf("%s is not reachable from %s", model.EndStage.Name, model.StartStage.Name)
		}
		path = append([]string{parent}, path...)
		curr = parent
	}

	return path, dist[model.EndStage.Name], nil
}

func (d *DOTDrawer) highlightCriticalPath(msr measure.Measure) error {
	path, _, err := d.CriticalPath(msr)
	if err != nil {
		return err
	}

	for i := 1; i < len(path); i++ {
		err := d.graph.UpdateEdge(path[i-1], path[i], graph.EdgeAttribute("penwidth", "3"))
		if err != nil {
			return errors.Wrap(err, "unable to update edge")
		}
	}

	return nil
}

// closeGraph links every stage without downstream stage to the end vertex.
func (d *DOTDrawer) closeGraph() error {
	adjacencyMap, err := d.graph.AdjacencyMap()
	if err != nil {
		return errors.Wrap(err, "unable to get adjacency map")
	}

	if _, ok := adjacencyMap[model.EndStage.Name]; !ok {
		return errors.Errorf("missing %s vertex", model.EndStage.Name)
	}

	for vertex, adjacencies := range adjacencyMap {
		if vertex == model.EndStage.Name || len(adjacencies) > 0 {
			continue
		}

		err := d.AddLink(vertex, model.EndStage.Name)
		if err != nil {
			return err
		}
	}

	return nil
}

// Render writes the DOT description of the pipeline to w.
func (d *DOTDrawer) Render(w io.Writer) error {
	err := d.closeGraph()
	if err != nil {
		return err
	}

	return dot(d.graph, w, GraphAttribute("rankdir", "LR"))
}

// Draw creates a DOT file with the pipeline graph.
func (d *DOTDrawer) Draw() error {
	file, err := os.Create(d.fileName)
	if err != nil {
		return errors.Wrapf(err, "unable to create file %s", d.fileName)
	}
	defer file.Close()

	err = d.Render(file)
	if err != nil {
		return errors.Wrapf(err, "unable to create dot file %s", d.fileName)
	}

	return errors.Wrapf(file.Close(), "unable to close %s", d.fileName)
}

//nolint:lll //this is a template
const dotTemplate = `strict {{.GraphType}} {
{{- range $k, $v := .Attributes}}
	{{$k}}="{{$v}}";
{{- end}}
{{- range $s := .Statements}}
	"{{.Source}}" {{if .Target}}{{$.EdgeOperator}} "{{.Target}}" [ {{range .EdgeAttributes}}{{.Key}}="{{.Value}}", {{end}}weight={{.EdgeWeight}} ]{{else}}[ {{range .HTMLAttributes}}{{.Key}}={{.Value}}, {{end}}{{range .SourceAttributes}}{{.Key}}="{{.Value}}", {{end}}weight={{.SourceWeight}} ]{{end}};
{{- end}}
}
`

type attribute struct {
	Key   string
	Value string
}

type description struct {
	GraphType    string
	Attributes   map[string]string
	EdgeOperator string
	Statements   []statement
}

type statement struct {
	Source           string
	Target           string
	SourceAttributes []attribute
	HTMLAttributes   []attribute
	EdgeAttributes   []attribute
	SourceWeight     int
	EdgeWeight       int
}

func dot(g graph.Graph[string, string], wrt io.Writer, options ...func(*description)) error {
	desc, err := generateDOT(g, options...)
	if err != nil {
		return fmt.Errorf("failed to generate DOT description: %w", err)
	}

	return renderDOT(wrt, desc)
}

// GraphAttribute is a functional option for the DOT description.
func GraphAttribute(key, value string) func(*description) {
	return func(d *description) {
		d.Attributes[key] = value
	}
}

func sortedAttributes(m map[string]string) []attribute {
	out := make([]attribute, 0, len(m))
	for k, v := range m {
		out = append(out, attribute{Key: k, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })

	return out
}

func generateDOT(gra graph.Graph[string, string], options ...func(*description)) (description, error) {
	desc := description{
		GraphType:    "graph",
		Attributes:   make(map[string]string),
		EdgeOperator: "--",
		Statements:   make([]statement, 0),
	}

	for _, option := range options {
		option(&desc)
	}

	if gra.Traits().IsDirected {
		desc.GraphType = "digraph"
		desc.EdgeOperator = "->"
	}

	adjacencyMap, err := gra.AdjacencyMap()
	if err != nil {
		return desc, errors.Wrap(err, "unable to get adjacency map")
	}

	vertices := make([]string, 0, len(adjacencyMap))
	for vertex := range adjacencyMap {
		vertices = append(vertices, vertex)
	}
	sort.Strings(vertices)

	for _, vertex := range vertices {
		_, sourceProperties, err := gra.VertexWithProperties(vertex)
		if err != nil {
			return desc, errors.Wrap(err, "unable to get vertex properties")
		}

		htmlAttributes := make(map[string]string)

		if xlabel, ok := sourceProperties.Attributes["xlabel"]; ok {
			htmlAttributes["label"] = fmt.Sprintf(`<%s <BR /> <FONT POINT-SIZE="12">%s</FONT>>`, vertex, xlabel)

			delete(sourceProperties.Attributes, "xlabel")
		}

		desc.Statements = append(desc.Statements, statement{
			Source:           vertex,
			SourceWeight:     sourceProperties.Weight,
			SourceAttributes: sortedAttributes(sourceProperties.Attributes),
			HTMLAttributes:   sortedAttributes(htmlAttributes),
		})

		targets := make([]string, 0, len(adjacencyMap[vertex]))
		for target := range adjacencyMap[vertex] {
			targets = append(targets, target)
		}
		sort.Strings(targets)

		for _, target := range targets {
			edge := adjacencyMap[vertex][target]
			desc.Statements = append(desc.Statements, statement{
				Source:         vertex,
				Target:         target,
				EdgeWeight:     edge.Properties.Weight,
				EdgeAttributes: sortedAttributes(edge.Properties.Attributes),
			})
		}
	}

	return desc, nil
}

func renderDOT(wrt io.Writer, desc description) error {
	tpl, err := template.New("dotTemplate").Parse(dotTemplate)
	if err != nil {
		return fmt.Errorf("failed to parse template: %w", err)
	}

	err = tpl.Execute(wrt, desc)
	if err != nil {
		return errors.Wrap(err, "unable to execute template")
	}

	return nil
}

var _ Drawer = (*DOTDrawer)(nil)
