package measure

import (
	"time"

	"github.com/askiada/cgemflow/pkg/pipeline/model"
)

type pipelineMeasure struct {
	Measure
	startTime time.Time
}

func (pm *pipelineMeasure) New() error {
	pm.startTime = time.Now()
	pm.AddMetric(model.StartStage.Name)
	pm.AddMetric(model.EndStage.Name)

	return nil
}

func (pm *pipelineMeasure) PrepareStage(_ []*model.StageInfo, stage *model.StageInfo) error {
	pm.AddMetric(stage.Name)

	return nil
}

func (pm *pipelineMeasure) OnInvocationDone(stage *model.StageInfo, _ string, elapsed time.Duration, err error) error {
	mt := pm.GetMetric(stage.Name)
	if mt == nil {
		mt = pm.AddMetric(stage.Name)
	}
	mt.AddDuration(elapsed)
	if err != nil {
		mt.AddFailure()
	}

	return nil
}

func (pm *pipelineMeasure) OnStageDone(stage *model.StageInfo, status model.Status, elapsed time.Duration) error {
	mt := pm.GetMetric(stage.Name)
	if mt == nil {
		mt = pm.AddMetric(stage.Name)
	}
	mt.SetTotalDuration(elapsed)
	mt.SetStatus(status)

	return nil
}

func (pm *pipelineMeasure) Finish() error {
	end := pm.GetMetric(model.EndStage.Name)
	if end != nil {
		end.SetTotalDuration(time.Since(pm.startTime))
	}

	return nil
}

// PipelineMeasure records invocation and stage durations into measure.
func PipelineMeasure(measure Measure) model.PipelineOption {
	return &pipelineMeasure{Measure: measure}
}
