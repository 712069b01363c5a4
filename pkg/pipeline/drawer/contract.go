package drawer

import (
	"io"
	"time"

	"github.com/askiada/cgemflow/pkg/pipeline/measure"
	"github.com/askiada/cgemflow/pkg/pipeline/model"
)

// Drawer is an interface that defines the methods for drawing a pipeline.
type Drawer interface {
	// AddStage adds a stage to the pipeline drawer.
	AddStage(stage *model.StageInfo) error
	// AddLink adds a link between an upstream and a downstream stage.
	AddLink(parentName, childName string) error
	// SetStatus colours the stage after its final status.
	SetStatus(stageName string, status model.Status) error
	// SetTotalTime sets the total time for the stage.
	SetTotalTime(stageName string, startTime time.Time) error
	// AddMeasure adds a measure to the pipeline drawer.
	AddMeasure(measure measure.Measure) error
	// Render writes the DOT description of the pipeline to w.
	Render(w io.Writer) error
	// Draw creates a file with the pipeline graph.
	Draw() error
}
