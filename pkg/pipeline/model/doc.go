// Package model provides the data structures shared by the pipeline package
// and its hooks.
// It defines the stage information passed to hooks, the stage statuses,
// and the PipelineOption interface implemented by measure and drawer.
package model
