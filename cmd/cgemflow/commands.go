package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/pkg/errors"

	"github.com/askiada/cgemflow/internal/logging"
	"github.com/askiada/cgemflow/internal/pipelinedef"
	"github.com/askiada/cgemflow/internal/tables"
	"github.com/askiada/cgemflow/pkg/pipeline"
	"github.com/askiada/cgemflow/pkg/pipeline/drawer"
	"github.com/askiada/cgemflow/pkg/pipeline/measure"
	"github.com/askiada/cgemflow/pkg/pipeline/model"
	"github.com/askiada/cgemflow/pkg/pipeline/param"
)

// paramArgs collects repeated -p name=value flags.
type paramArgs []string

func (p *paramArgs) String() string {
	return strings.Join(*p, ",")
}

func (p *paramArgs) Set(value string) error {
	*p = append(*p, value)
	return nil
}

// parseFlags reports true when help was requested.
func parseFlags(fs *flag.FlagSet, args []string) (bool, error) {
	err := fs.Parse(args)
	if errors.Is(err, flag.ErrHelp) {
		return true, nil
	}
	if err != nil {
		return false, &ExitError{Code: exitUsage, Message: err.Error()}
	}
	if fs.NArg() > 0 {
		return false, usageError("unexpected argument %q", fs.Arg(0))
	}

	return false, nil
}

func pipelineFlag(fs *flag.FlagSet) *string {
	return fs.String("pipeline", "cgem", "built-in pipeline ("+strings.Join(pipelinedef.Builtins(), ", ")+") or path of a pipeline file")
}

func loadPipeline(nameOrPath string) (*pipelinedef.Definition, error) {
	def, err := pipelinedef.Load(nameOrPath)
	if err != nil {
		return nil, usageError("%v", err)
	}

	return def, nil
}

func resolveParams(def *pipelinedef.Definition, pairs []string, paramsFile string) (*param.Set, error) {
	args, err := param.ParseArgs(pairs)
	if err != nil {
		return nil, err
	}

	opts := []param.ResolverOption{param.WithArgs(args)}
	if paramsFile != "" {
		values, err := param.LoadFile(paramsFile)
		if err != nil {
			return nil, err
		}
		opts = append(opts, param.WithFile(values))
	}

	return param.NewResolver(opts...).ResolveAll(def.Decls())
}

func runCmd(ctx context.Context, outW, errW io.Writer, args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(errW)

	pipelineName := pipelineFlag(fs)
	var pairs paramArgs
	fs.Var(&pairs, "p", "parameter value as name=value, repeatable")
	paramsFile := fs.String("params-file", "", "YAML file of parameter values")
	workDir := fs.String("work-dir", "work", "root of the per-invocation working directories")
	maxParallel := fs.Int("max-parallel", runtime.NumCPU(), "maximum number of invocations running at once")
	timeout := fs.Duration("timeout", 0, "timeout of every invocation, 0 disables it")
	retries := fs.Uint64("retries", 0, "number of retries of a failed invocation")
	retryInterval := fs.Duration("retry-interval", time.Second, "initial wait before a retry")
	withDAG := fs.String("with-dag", "", "write the stage graph annotated with statuses and timings to this DOT file")
	logLevel := fs.String("log-level", "info", "log level: "+strings.Join(logging.Levels, ", "))
	logFormat := fs.String("log-format", "text", "log format: "+strings.Join(logging.Formats, ", "))

	help, err := parseFlags(fs, args)
	if help || err != nil {
		return err
	}

	logger, err := logging.New(*logLevel, *logFormat, errW)
	if err != nil {
		return usageError("%v", err)
	}

	def, err := loadPipeline(*pipelineName)
	if err != nil {
		return err
	}

	params, err := resolveParams(def, pairs, *paramsFile)
	if err != nil {
		return usageError("%v", err)
	}

	msr := measure.NewDefaultMeasure()
	hooks := []model.PipelineOption{measure.PipelineMeasure(msr)}
	if *withDAG != "" {
		hooks = append(hooks, drawer.PipelineDrawer(drawer.NewDOTDrawer(*withDAG), msr))
	}

	pipe, err := def.Build(params,
		pipeline.WorkDir(*workDir),
		pipeline.MaxParallel(*maxParallel),
		pipeline.InvocationTimeout(*timeout),
		pipeline.Retries(*retries),
		pipeline.RetryInterval(*retryInterval),
		pipeline.Logger(logger),
		pipeline.Hooks(hooks...),
	)
	if err != nil {
		return usageError("%v", err)
	}

	logger.Info("pipeline started",
		"pipeline", def.Name,
		"stages", len(pipe.Order()),
		"workdir", pipe.WorkDir(),
		"outdir", pipe.OutDir(),
	)

	res, err := pipe.Run(ctx)
	if res != nil {
		printSummary(outW, res, pipe.OutDir())
	}
	if err != nil {
		return &ExitError{Code: exitFailure, Message: err.Error()}
	}

	return nil
}

func printSummary(w io.Writer, res *pipeline.Result, outDir string) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STAGE\tSTATUS\tINVOCATIONS\tELAPSED\tFAILED")
	for _, name := range res.Order {
		st := res.Stage(name)
		failed := make([]string, 0, len(st.Failed))
		for key := range st.Failed {
			failed = append(failed, key)
		}
		sort.Strings(failed)
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n",
			name, st.Status, st.Invocations, st.Elapsed.Round(time.Millisecond), strings.Join(failed, ","))
	}
	tw.Flush()

	fmt.Fprintf(w, "%s: %d files published to %s in %s\n",
		res.Status(), len(res.Published), outDir, res.Elapsed.Round(time.Millisecond))
}

func graphCmd(outW, errW io.Writer, args []string) error {
	fs := flag.NewFlagSet("graph", flag.ContinueOnError)
	fs.SetOutput(errW)
	pipelineName := pipelineFlag(fs)

	help, err := parseFlags(fs, args)
	if help || err != nil {
		return err
	}

	def, err := loadPipeline(*pipelineName)
	if err != nil {
		return err
	}

	dag := drawer.NewDOTDrawer("")
	_, err = def.Plan(pipeline.Hooks(drawer.PipelineDrawer(dag, nil)))
	if err != nil {
		return usageError("%v", err)
	}

	return dag.Render(outW)
}

func paramsCmd(outW, errW io.Writer, args []string) error {
	fs := flag.NewFlagSet("params", flag.ContinueOnError)
	fs.SetOutput(errW)
	pipelineName := pipelineFlag(fs)

	help, err := parseFlags(fs, args)
	if help || err != nil {
		return err
	}

	def, err := loadPipeline(*pipelineName)
	if err != nil {
		return err
	}

	if def.Description != "" {
		fmt.Fprintf(outW, "%s: %s\n\n", def.Name, def.Description)
	}

	resolver := param.NewResolver()
	tw := tabwriter.NewWriter(outW, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tTYPE\tREQUIRED\tDEFAULT\tENV\tDESCRIPTION")
	for _, decl := range def.Decls() {
		dflt := "-"
		if decl.HasDefault {
			dflt = strconv.Quote(decl.Default)
		}
		fmt.Fprintf(tw, "%s\t%s\t%t\t%s\t%s\t%s\n",
			decl.Name, decl.Kind, decl.Required, dflt, resolver.EnvName(decl.Name), decl.Description)
	}

	return tw.Flush()
}

func taxaTableCmd(errW io.Writer, args []string) error {
	fs := flag.NewFlagSet("taxa-table", flag.ContinueOnError)
	fs.SetOutput(errW)
	sampleID := fs.String("sample-id", "", "sample the community belongs to")
	abundances := fs.String("abundances", "", "abundance table with id, taxonomy and abundance columns")
	gemsDir := fs.String("gems-dir", "", "directory of the .xml or .json models")
	basePath := fs.String("base-path", "", "directory written in the file column instead of gems-dir")
	out := fs.String("out", "taxa_table.tsv", "output file")

	help, err := parseFlags(fs, args)
	if help || err != nil {
		return err
	}
	if *sampleID == "" || *abundances == "" || *gemsDir == "" {
		return usageError("taxa-table needs -sample-id, -abundances and -gems-dir")
	}

	rows, err := tables.BuildTaxaTable(*sampleID, *abundances, *gemsDir, *basePath)
	if err != nil {
		return errors.Wrap(err, "unable to build taxa table")
	}

	return tables.WriteTaxaTable(*out, rows)
}

func mediumCmd(errW io.Writer, args []string) error {
	fs := flag.NewFlagSet("medium", flag.ContinueOnError)
	fs.SetOutput(errW)
	mediaDB := fs.String("media-db", "", "media database with medium and compound columns")
	mediumID := fs.String("medium-id", "", "medium to extract")
	compartment := fs.String("compartment", "e", "compartment of the exchange reactions")
	maxUptake := fs.Float64("max-uptake", 1000, "maximum uptake of every compound")
	out := fs.String("out", "medium.tsv", "output file")

	help, err := parseFlags(fs, args)
	if help || err != nil {
		return err
	}
	if *mediaDB == "" || *mediumID == "" {
		return usageError("medium needs -media-db and -medium-id")
	}

	rows, err := tables.ExtractMedium(*mediaDB, *mediumID, *compartment, *maxUptake)
	if err != nil {
		return errors.Wrap(err, "unable to extract medium")
	}

	return tables.WriteMedium(*out, rows)
}
