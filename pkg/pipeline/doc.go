// Package pipeline runs a graph of stages, each stage wrapping an external
// command.
//
// A stage declares the artifacts it reads from upstream stages, the command
// it runs and the outputs it must produce. Stages are linked into a directed
// acyclic graph and started as soon as every upstream stage is done. A stage
// can be replicated over a source of input files, one invocation per file, and
// a downstream stage can collect the outputs of all the replicas at once.
//
// Every invocation runs in its own working directory. Its inputs are linked
// into the directory, its stdout and stderr are kept next to its outputs, and
// its outputs are checked before being recorded as artifacts and copied to
// the output directory.
//
// The first failure stops the pipeline from starting new stages. Invocations
// already scheduled for the failing stage still run and keep their artifacts,
// so a rerun only needs to fix what failed.
package pipeline
