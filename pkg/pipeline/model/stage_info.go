package model

// Status is the outcome of a stage.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	// StatusSkipped is set on conditional stages that were disabled, and on
	// their dependants.
	StatusSkipped Status = "skipped"
	// StatusNotRun is set on stages that never started because an upstream
	// stage failed or the run was stopped.
	StatusNotRun Status = "not_run"
)

// Done reports whether s is final.
func (s Status) Done() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusSkipped, StatusNotRun:
		return true
	default:
		return false
	}
}

// StageInfo describes a stage to the hooks.
type StageInfo struct {
	Name string
	// ForEach is the source the stage is replicated over, empty for a
	// single invocation.
	ForEach string
	// Publish is the sub directory of the output directory, empty when the
	// stage is not published.
	Publish     string
	Conditional bool
}

var (
	StartStage = &StageInfo{Name: "start"}
	EndStage   = &StageInfo{Name: "end"}
)
