package model

import "time"

// PipelineOption defines the interface for pipeline hooks.
type PipelineOption interface {
	// New initialises the pipeline option.
	New() error

	pipelineStageOption
	pipelineInvocationOption

	// Finish runs after the pipeline is finished, whatever its outcome.
	Finish() error
}

// pipelineStageOption defines the interface for stage hooks.
type pipelineStageOption interface {
	// PrepareStage runs once per stage, in topological order, before the run starts.
	// Stages without upstream stage get StartStage as parent.
	PrepareStage(parents []*StageInfo, stage *StageInfo) error
	// OnStageDone runs when the stage reaches a final status.
	OnStageDone(stage *StageInfo, status Status, elapsed time.Duration) error
}

// pipelineInvocationOption defines the interface for invocation hooks.
type pipelineInvocationOption interface {
	// OnInvocationDone runs after every invocation of a stage. item is the
	// invocation key, err is nil on success.
	OnInvocationDone(stage *StageInfo, item string, elapsed time.Duration, err error) error
}
