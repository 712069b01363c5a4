package drawer

import (
	"time"

	"github.com/pkg/errors"

	"github.com/askiada/cgemflow/pkg/pipeline/measure"
	"github.com/askiada/cgemflow/pkg/pipeline/model"
)

type pipelineDrawer struct {
	Drawer
	m         measure.Measure
	startTime time.Time
}

func (pd *pipelineDrawer) New() error {
	pd.startTime = time.Now()

	err := pd.AddStage(model.StartStage)
	if err != nil {
		return errors.Wrap(err, "unable to add start stage to drawer")
	}
	err = pd.AddStage(model.EndStage)
	if err != nil {
		return errors.Wrap(err, "unable to add end stage to drawer")
	}

	return nil
}

func (pd *pipelineDrawer) PrepareStage(parents []*model.StageInfo, stage *model.StageInfo) error {
	err := pd.AddStage(stage)
	if err != nil {
		return err
	}

	for _, parent := range parents {
		err := pd.AddLink(parent.Name, stage.Name)
		if err != nil {
			return err
		}
	}

	return nil
}

func (pd *pipelineDrawer) OnStageDone(stage *model.StageInfo, status model.Status, _ time.Duration) error {
	return pd.SetStatus(stage.Name, status)
}

func (pd *pipelineDrawer) OnInvocationDone(*model.StageInfo, string, time.Duration, error) error {
	return nil
}

func (pd *pipelineDrawer) Finish() error {
	err := pd.SetTotalTime(model.EndStage.Name, pd.startTime)
	if err != nil {
		return errors.Wrap(err, "unable to set total time")
	}

	if pd.m != nil {
		err = pd.AddMeasure(pd.m)
		if err != nil {
			return errors.Wrap(err, "unable to add measure")
		}
	}

	err = pd.Draw()
	if err != nil {
		return errors.Wrap(err, "unable to draw pipeline")
	}

	return nil
}

// PipelineDrawer draws the stage graph, coloured with the stage statuses, when
// the pipeline finishes. measure is optional.
func PipelineDrawer(drawer Drawer, measure measure.Measure) model.PipelineOption {
	return &pipelineDrawer{Drawer: drawer, m: measure}
}
