// Package param resolves the typed parameter set of a pipeline run.
//
// A parameter is declared once with a kind, an optional default and a
// required flag. Values are looked up, in order, in explicit invocation
// arguments, a YAML parameters file, the environment and finally the declared
// default. The resulting Set is immutable and shared by every stage.
package param
