package pipelinedef_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askiada/cgemflow/internal/pipelinedef"
	"github.com/askiada/cgemflow/internal/tables"
	"github.com/askiada/cgemflow/pkg/pipeline"
	"github.com/askiada/cgemflow/pkg/pipeline/model"
	"github.com/askiada/cgemflow/pkg/pipeline/param"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func resolve(t *testing.T, def *pipelinedef.Definition, args map[string]string) *param.Set {
	t.Helper()

	set, err := param.NewResolver(param.WithArgs(args), param.WithEnvPrefix("")).ResolveAll(def.Decls())
	require.NoError(t, err)

	return set
}

// flagValue returns the argument following name.
func flagValue(args []string, name string) string {
	for i, arg := range args {
		if arg == name && i+1 < len(args) {
			return args[i+1]
		}
	}

	return ""
}

// fakeTools pretends to be carve, the micom scripts and the cgemflow helpers
// by writing the files their flags ask for.
type fakeTools struct {
	mu    sync.Mutex
	calls map[string][][]string
}

func newFakeTools() *fakeTools {
	return &fakeTools{calls: map[string][][]string{}}
}

func (f *fakeTools) Execute(_ context.Context, cmd *pipeline.Command) (*pipeline.ExecResult, error) {
	args := cmd.Args
	var tool string
	var files []string

	switch {
	case args[0] == "carve":
		tool, files = "carve", []string{flagValue(args, "-o")}
	case args[0] == "cgemflow":
		tool, files = args[1], []string{flagValue(args, "-out")}
	case args[0] == "python3" && len(args) > 2:
		tool = args[2]
		switch tool {
		case "build_cgem":
			files = []string{"manifest.csv", "S1.pickle"}
		case "get_exchanges":
			// the script loads every manifest model from --outdir
			_, err := os.Stat(filepath.Join(flagValue(args, "--outdir"), "S1.pickle"))
			if err != nil {
				return &pipeline.ExecResult{ExitCode: 1, Stderr: []byte(err.Error())}, nil
			}
			files = []string{flagValue(args, "--out_exchanges")}
		case "get_elasticities":
			files = []string{flagValue(args, "--out_elasticities")}
		}
	case args[0] == "echo":
		tool = "echo"
	default:
		return &pipeline.ExecResult{ExitCode: 127, Stderr: []byte("unknown program")}, nil
	}

	for _, name := range files {
		err := os.WriteFile(filepath.Join(cmd.Dir, name), []byte(tool+"\n"), 0o600)
		if err != nil {
			return &pipeline.ExecResult{ExitCode: 1, Stderr: []byte(err.Error())}, nil
		}
	}

	f.mu.Lock()
	f.calls[tool] = append(f.calls[tool], args)
	f.mu.Unlock()

	return &pipeline.ExecResult{}, nil
}

func (f *fakeTools) argv(tool string) [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.calls[tool]
}

type fixture struct {
	dir     string
	genomes string
	outdir  string
	args    map[string]string
}

func newFixture(t *testing.T) fixture {
	t.Helper()

	dir := t.TempDir()
	genomes := filepath.Join(dir, "genomes")
	writeFile(t, genomes, "MAG1.faa", ">p1\nMKV\n")
	writeFile(t, genomes, "MAG2.faa", ">p2\nMKL\n")

	outdir := filepath.Join(dir, "results")

	return fixture{
		dir:     dir,
		genomes: genomes,
		outdir:  outdir,
		args: map[string]string{
			"genomes_dir":      genomes,
			"media_file":       writeFile(t, dir, "media_db.tsv", "medium\tcompound\nM9\tglc__D\n"),
			"medium_id":        "M9",
			"universe":         writeFile(t, dir, "universe.xml", "<sbml/>"),
			"abundances":       writeFile(t, dir, "abundances.tsv", "id\ttaxonomy\tabundance\nMAG1\tBacteroides\t0.4\n"),
			"sample_id":        "S1",
			"outdir":           outdir,
			"threads":          "4",
			"abundance_cutoff": "0.01",
		},
	}
}

func TestBuiltins(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{"cgem", "community", "reconstruct", "reconstruct_config", "smetana"}, pipelinedef.Builtins())

	tcs := map[string]struct {
		stages []string
	}{
		"cgem":               {stages: []string{"reconstruct", "medium", "taxa_table", "build_community", "exchanges", "elasticities"}},
		"community":          {stages: []string{"medium", "taxa_table", "build_community", "exchanges", "elasticities"}},
		"reconstruct":        {stages: []string{"reconstruct"}},
		"reconstruct_config": {stages: []string{"reconstruct"}},
		"smetana":            {stages: []string{"reconstruct", "smetana"}},
	}

	for name, tc := range tcs {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			def, err := pipelinedef.Load(name)
			require.NoError(t, err)
			assert.Equal(t, name, def.Name)
			assert.NotEmpty(t, def.Description)
			assert.Equal(t, tc.stages, def.Stages())

			pipe, err := def.Plan(pipeline.WorkDir(t.TempDir()))
			require.NoError(t, err)
			assert.ElementsMatch(t, tc.stages, pipe.Order())
		})
	}
}

func TestCGEMGraph(t *testing.T) {
	t.Parallel()

	def, err := pipelinedef.Load("cgem")
	require.NoError(t, err)
	pipe, err := def.Plan(pipeline.WorkDir(t.TempDir()))
	require.NoError(t, err)

	assert.Equal(t, []string{"reconstruct"}, pipe.Parents("taxa_table"))
	assert.Equal(t, []string{"taxa_table"}, pipe.Parents("build_community"))
	assert.ElementsMatch(t, []string{"build_community", "medium"}, pipe.Parents("exchanges"))
	assert.Equal(t, []string{"build_community"}, pipe.Parents("elasticities"))
	assert.Empty(t, pipe.Parents("medium"))
}

func TestLoad(t *testing.T) {
	t.Parallel()

	_, err := pipelinedef.Load("metagenome")
	require.ErrorIs(t, err, pipelinedef.ErrUnknownPipeline)
	assert.Contains(t, err.Error(), "cgem, community, reconstruct, reconstruct_config, smetana")

	path := writeFile(t, t.TempDir(), "mine.hcl", `
stage "hello" {
  command = ["echo", "hello"]
}
`)
	def, err := pipelinedef.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "mine", def.Name)
	assert.Equal(t, []string{"hello"}, def.Stages())
}

func TestParseErrors(t *testing.T) {
	t.Parallel()

	tcs := map[string]struct {
		src     string
		wantErr error
	}{
		"syntax": {
			src: `stage "a" {`,
		},
		"unknown attribute": {
			src: `stage "a" {
  command = ["echo"]
  retries = 2
}`,
		},
		"missing command": {
			src: `stage "a" {
  publish = "."
}`,
			wantErr: pipelinedef.ErrInvalidDeclaration,
		},
		"missing output path": {
			src: `stage "a" {
  command = ["echo"]
  output "log" {}
}`,
			wantErr: pipelinedef.ErrInvalidDeclaration,
		},
		"items without pattern or table": {
			src:     `items "genomes" {}`,
			wantErr: pipelinedef.ErrInvalidDeclaration,
		},
		"items with pattern and table": {
			src: `items "genomes" {
  pattern     = "*.faa"
  table       = "config.tsv"
  path_column = "genome"
}`,
			wantErr: pipelinedef.ErrInvalidDeclaration,
		},
		"table without path_column": {
			src:     `items "genomes" { table = "config.tsv" }`,
			wantErr: pipelinedef.ErrInvalidDeclaration,
		},
		"columns on a pattern": {
			src: `items "genomes" {
  pattern = "*.faa"
  columns = ["universe"]
}`,
			wantErr: pipelinedef.ErrInvalidDeclaration,
		},
		"column shadows item attribute": {
			src: `items "genomes" {
  table       = "config.tsv"
  path_column = "genome"
  columns     = ["stem"]
}`,
			wantErr: pipelinedef.ErrInvalidDeclaration,
		},
		"file column not declared": {
			src: `items "genomes" {
  table       = "config.tsv"
  path_column = "genome"
  columns     = ["medium_id"]
  files       = ["universe"]
}`,
			wantErr: pipelinedef.ErrInvalidDeclaration,
		},
		"undeclared table column": {
			src: `items "genomes" {
  table       = "config.tsv"
  path_column = "genome"
  columns     = ["universe"]
}
stage "a" {
  for_each = "genomes"
  command  = ["echo", item.medium_id]
}`,
			wantErr: pipelinedef.ErrInvalidReference,
		},
		"bad kind": {
			src:     `param "threads" { type = "int" }`,
			wantErr: param.ErrInvalidKind,
		},
		"must_exist on a string": {
			src:     `param "sample_id" { must_exist = true }`,
			wantErr: pipelinedef.ErrInvalidDeclaration,
		},
		"list default": {
			src:     `param "solvers" { default = ["scip", "gurobi"] }`,
			wantErr: pipelinedef.ErrInvalidDeclaration,
		},
		"duplicate param": {
			src: `param "solver" {}
param "solver" {}`,
			wantErr: param.ErrDuplicateParameter,
		},
		"item outside for_each": {
			src: `stage "a" {
  command = ["echo", item.path]
}`,
			wantErr: pipelinedef.ErrInvalidReference,
		},
		"unknown param": {
			src: `stage "a" {
  command = ["echo", param.solver]
}`,
			wantErr: pipelinedef.ErrInvalidReference,
		},
		"unknown input": {
			src: `stage "a" {
  command = ["echo", input.models.path]
}`,
			wantErr: pipelinedef.ErrInvalidReference,
		},
		"unknown item attribute": {
			src: `items "genomes" { pattern = "*.faa" }
stage "a" {
  for_each = "genomes"
  command  = ["echo", item.size]
}`,
			wantErr: pipelinedef.ErrInvalidReference,
		},
		"task in condition": {
			src: `stage "a" {
  when    = task.key == "_"
  command = ["echo"]
}`,
			wantErr: pipelinedef.ErrInvalidReference,
		},
		"input pattern uses item": {
			src:     `items "genomes" { pattern = item.path }`,
			wantErr: pipelinedef.ErrInvalidReference,
		},
		"bad from": {
			src: `stage "a" {
  command = ["echo"]
  input "models" { from = "reconstruct" }
}`,
			wantErr: pipelinedef.ErrInvalidReference,
		},
		"bad timeout": {
			src: `stage "a" {
  command = ["echo"]
  timeout = "soon"
}`,
			wantErr: pipelinedef.ErrInvalidDeclaration,
		},
	}

	for name, tc := range tcs {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			_, err := pipelinedef.Parse([]byte(tc.src), "test.hcl")
			require.Error(t, err)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
			}
		})
	}
}

func TestDecls(t *testing.T) {
	t.Parallel()

	def, err := pipelinedef.Load("cgem")
	require.NoError(t, err)

	decls := map[string]param.Decl{}
	for _, decl := range def.Decls() {
		decls[decl.Name] = decl
	}

	tcs := map[string]struct {
		kind        param.Kind
		def         string
		hasDefault  bool
		required    bool
		hasValidate bool
	}{
		"genomes_dir":      {kind: param.KindPath, required: true, hasValidate: true},
		"abundances":       {kind: param.KindPath, required: true, hasValidate: true},
		"sample_id":        {kind: param.KindString, required: true},
		"abundance_cutoff": {kind: param.KindNumber, def: "0.01", hasDefault: true},
		"threads":          {kind: param.KindNumber, def: "10", hasDefault: true},
		"solver":           {kind: param.KindString, def: "hybrid", hasDefault: true},
		"exchanges":        {kind: param.KindBool, def: "true", hasDefault: true},
		"elasticities":     {kind: param.KindBool, def: "false", hasDefault: true},
		"outdir":           {kind: param.KindPath, def: "./results", hasDefault: true},
	}

	for name, tc := range tcs {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			decl, ok := decls[name]
			require.True(t, ok)
			assert.Equal(t, tc.kind, decl.Kind)
			assert.Equal(t, tc.def, decl.Default)
			assert.Equal(t, tc.hasDefault, decl.HasDefault)
			assert.Equal(t, tc.required, decl.Required)
			assert.Equal(t, tc.hasValidate, decl.Validate != nil)
		})
	}
}

func TestDeclValidation(t *testing.T) {
	t.Parallel()

	def, err := pipelinedef.Load("community")
	require.NoError(t, err)

	dir := t.TempDir()
	args := map[string]string{
		"gems_dir":   dir,
		"media_file": writeFile(t, dir, "media_db.tsv", "medium\tcompound\n"),
		"medium_id":  "M9",
		"abundances": writeFile(t, dir, "abundances.tsv", "id\tabundance\n"),
		"sample_id":  "S1",
	}

	_, err = param.NewResolver(param.WithArgs(args), param.WithEnvPrefix("")).ResolveAll(def.Decls())
	var invalidErr *param.InvalidParameterError
	require.True(t, errors.As(err, &invalidErr))
	assert.Equal(t, "abundances", invalidErr.Name)
	var missingErr *tables.MissingColumnsError
	require.True(t, errors.As(err, &missingErr))
	assert.Equal(t, []string{"taxonomy"}, missingErr.Missing)

	args["abundances"] = writeFile(t, dir, "abundances.tsv", "id\ttaxonomy\tabundance\n")
	args["gems_dir"] = filepath.Join(dir, "missing")
	_, err = param.NewResolver(param.WithArgs(args), param.WithEnvPrefix("")).ResolveAll(def.Decls())
	require.True(t, errors.As(err, &invalidErr))
	assert.Equal(t, "gems_dir", invalidErr.Name)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestBuildCGEM(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	def, err := pipelinedef.Load("cgem")
	require.NoError(t, err)
	def.Self = "cgemflow"

	tools := newFakeTools()
	workDir := filepath.Join(fx.dir, "work")
	pipe, err := def.Build(resolve(t, def, fx.args), pipeline.WorkDir(workDir), pipeline.WithExecutor(tools))
	require.NoError(t, err)

	res, err := pipe.Run(t.Context())
	require.NoError(t, err)
	assert.Equal(t, model.StatusSucceeded, res.Stage("exchanges").Status)
	assert.Equal(t, model.StatusSkipped, res.Stage("elasticities").Status)
	assert.Equal(t, []string{"MAG1", "MAG2"}, res.Stage("reconstruct").Succeeded)

	carve := tools.argv("carve")
	require.Len(t, carve, 2)
	for _, args := range carve {
		stem := strings.TrimSuffix(filepath.Base(args[len(args)-1]), ".faa")
		assert.Equal(t, stem+".xml", flagValue(args, "-o"))
		assert.Equal(t, "scip", flagValue(args, "--solver"))
		assert.Equal(t, "M9", flagValue(args, "--init"))
		assert.Equal(t, fx.args["media_file"], flagValue(args, "--mediadb"))
		assert.Equal(t, filepath.Join(fx.genomes, stem+".faa"), args[len(args)-1])
	}

	taxa := tools.argv("taxa-table")
	require.Len(t, taxa, 1)
	assert.Equal(t, filepath.Join(workDir, "taxa_table", "_", "inputs", "gems"), flagValue(taxa[0], "-gems-dir"))
	assert.Equal(t, filepath.Join(fx.outdir, "gems"), flagValue(taxa[0], "-base-path"))
	assert.Equal(t, "S1", flagValue(taxa[0], "-sample-id"))

	build := tools.argv("build_cgem")
	require.Len(t, build, 1)
	assert.Equal(t, "0.01", flagValue(build[0], "--abundance_cutoff"))
	assert.Equal(t, "4", flagValue(build[0], "--threads"))
	assert.Equal(t, "hybrid", flagValue(build[0], "--solver"))
	assert.Equal(t, filepath.Join(workDir, "build_community", "_"), flagValue(build[0], "--outdir"))
	assert.Equal(t, filepath.Join(workDir, "build_community", "_", "inputs", "taxa_table", "taxa_table.tsv"), flagValue(build[0], "--taxa_table"))

	exchanges := tools.argv("get_exchanges")
	require.Len(t, exchanges, 1)
	community := filepath.Join(workDir, "exchanges", "_", "inputs", "community")
	assert.Equal(t, filepath.Join(community, "manifest.csv"), flagValue(exchanges[0], "--manifest"))
	assert.Equal(t, community, flagValue(exchanges[0], "--outdir"))
	assert.FileExists(t, filepath.Join(community, "S1.pickle"))
	assert.Equal(t, "0.5", flagValue(exchanges[0], "--growth_tradeoff"))
	assert.Empty(t, tools.argv("get_elasticities"))

	for _, published := range []string{
		"gems/MAG1.xml",
		"gems/MAG2.xml",
		"medium.tsv",
		"taxa_table.tsv",
		"community/manifest.csv",
		"community/S1.pickle",
		"exchanges.tsv",
	} {
		assert.FileExists(t, filepath.Join(fx.outdir, published))
	}
}

func TestBuildCommunity(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	gems := filepath.Join(dir, "gems")
	writeFile(t, gems, "MAG1.xml", "<sbml/>")
	outdir := filepath.Join(dir, "results")

	def, err := pipelinedef.Load("community")
	require.NoError(t, err)
	def.Self = "cgemflow"

	tools := newFakeTools()
	workDir := filepath.Join(dir, "work")
	args := map[string]string{
		"gems_dir":   gems,
		"media_file": writeFile(t, dir, "media_db.tsv", "medium\tcompound\nM9\tglc__D\n"),
		"medium_id":  "M9",
		"abundances": writeFile(t, dir, "abundances.tsv", "id\ttaxonomy\tabundance\nMAG1\tBacteroides\t0.4\n"),
		"sample_id":  "S1",
		"outdir":     outdir,
		"cutoff":     "0.001",
	}
	pipe, err := def.Build(resolve(t, def, args), pipeline.WorkDir(workDir), pipeline.WithExecutor(tools))
	require.NoError(t, err)

	res, err := pipe.Run(t.Context())
	require.NoError(t, err)
	assert.Equal(t, model.StatusSucceeded, res.Stage("exchanges").Status)

	taxa := tools.argv("taxa-table")
	require.Len(t, taxa, 1)
	assert.Equal(t, gems, flagValue(taxa[0], "-gems-dir"))
	assert.Empty(t, flagValue(taxa[0], "-base-path"))

	build := tools.argv("build_cgem")
	require.Len(t, build, 1)
	assert.Equal(t, "0.001", flagValue(build[0], "--abundance_cutoff"))
	assert.Equal(t, "gurobi", flagValue(build[0], "--solver"))

	exchanges := tools.argv("get_exchanges")
	require.Len(t, exchanges, 1)
	community := filepath.Join(workDir, "exchanges", "_", "inputs", "community")
	assert.Equal(t, community, flagValue(exchanges[0], "--outdir"))
	assert.Equal(t, filepath.Join(community, "manifest.csv"), flagValue(exchanges[0], "--manifest"))
	assert.Equal(t, filepath.Join(workDir, "exchanges", "_", "inputs", "medium", "medium.tsv"), flagValue(exchanges[0], "--media_file"))
	assert.FileExists(t, filepath.Join(outdir, "exchanges.tsv"))
}

func TestBuildCGEMElasticities(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	fx.args["exchanges"] = "false"
	fx.args["elasticities"] = "true"
	fx.args["solver"] = "gurobi"

	def, err := pipelinedef.Load("cgem")
	require.NoError(t, err)
	def.Self = "cgemflow"

	tools := newFakeTools()
	workDir := filepath.Join(fx.dir, "work")
	pipe, err := def.Build(resolve(t, def, fx.args), pipeline.WorkDir(workDir), pipeline.WithExecutor(tools))
	require.NoError(t, err)

	res, err := pipe.Run(t.Context())
	require.NoError(t, err)
	assert.Equal(t, model.StatusSkipped, res.Stage("exchanges").Status)
	assert.Equal(t, model.StatusSucceeded, res.Stage("elasticities").Status)

	elasticities := tools.argv("get_elasticities")
	require.Len(t, elasticities, 1)
	assert.Equal(t,
		filepath.Join(workDir, "elasticities", "_", "inputs", "models", "S1.pickle"),
		flagValue(elasticities[0], "--cgem_pickle"),
	)
	assert.Equal(t, "gurobi", flagValue(tools.argv("build_cgem")[0], "--solver"))
	assert.FileExists(t, filepath.Join(fx.outdir, "elasticities.tsv"))
	assert.NoFileExists(t, filepath.Join(fx.outdir, "exchanges.tsv"))
}

func newConfigFixture(t *testing.T, rows string) (string, map[string]string) {
	t.Helper()

	dir := t.TempDir()
	writeFile(t, dir, "genomes/MAG1.faa", ">p1\nMKV\n")
	writeFile(t, dir, "genomes/MAG2.faa", ">p2\nMKL\n")
	writeFile(t, dir, "gram_neg.xml", "<sbml/>")
	writeFile(t, dir, "gram_pos.xml", "<sbml/>")
	writeFile(t, dir, "media_db.tsv", "medium\tcompound\nM9\tglc__D\nLB\tnh4\n")

	return dir, map[string]string{
		"config": writeFile(t, dir, "config.tsv", "genome\tuniverse\tmedia_file\tmedium_id\n"+rows),
		"outdir": filepath.Join(dir, "results"),
	}
}

func TestBuildReconstructConfig(t *testing.T) {
	t.Parallel()

	dir, args := newConfigFixture(t, "genomes/MAG1.faa\tgram_neg.xml\tmedia_db.tsv\tM9\n"+
		"genomes/MAG2.faa\tgram_pos.xml\tmedia_db.tsv\tLB\n\n")

	def, err := pipelinedef.Load("reconstruct_config")
	require.NoError(t, err)

	tools := newFakeTools()
	pipe, err := def.Build(resolve(t, def, args), pipeline.WorkDir(filepath.Join(dir, "work")), pipeline.WithExecutor(tools))
	require.NoError(t, err)

	res, err := pipe.Run(t.Context())
	require.NoError(t, err)
	assert.Equal(t, []string{"MAG1", "MAG2"}, res.Stage("reconstruct").Succeeded)

	tcs := map[string]struct {
		universe string
		medium   string
	}{
		"MAG1": {universe: "gram_neg.xml", medium: "M9"},
		"MAG2": {universe: "gram_pos.xml", medium: "LB"},
	}

	carve := tools.argv("carve")
	require.Len(t, carve, len(tcs))
	for _, argv := range carve {
		genome := argv[len(argv)-1]
		stem := strings.TrimSuffix(filepath.Base(genome), ".faa")
		tc, ok := tcs[stem]
		require.True(t, ok, stem)

		assert.Equal(t, filepath.Join(dir, "genomes", stem+".faa"), genome)
		assert.Equal(t, filepath.Join(dir, tc.universe), flagValue(argv, "--universe-file"))
		assert.Equal(t, tc.medium, flagValue(argv, "--init"))
		assert.Equal(t, tc.medium, flagValue(argv, "--gapfill"))
		assert.Equal(t, filepath.Join(dir, "media_db.tsv"), flagValue(argv, "--mediadb"))
		assert.Equal(t, "scip", flagValue(argv, "--solver"))
		assert.FileExists(t, filepath.Join(dir, "results", "gems", stem+".xml"))
	}
}

func TestBuildReconstructConfigErrors(t *testing.T) {
	t.Parallel()

	tcs := map[string]struct {
		rows     string
		wantErr  error
		wantText string
	}{
		"missing universe": {
			rows:     "genomes/MAG1.faa\tgram_neg.xml\tmedia_db.tsv\tM9\ngenomes/MAG2.faa\tmissing.xml\tmedia_db.tsv\tLB\n",
			wantErr:  pipelinedef.ErrMissingItemFile,
			wantText: "line 3",
		},
		"missing genome": {
			rows:     "genomes/MAG3.faa\tgram_neg.xml\tmedia_db.tsv\tM9\n",
			wantErr:  pipelinedef.ErrMissingItemFile,
			wantText: "column genome",
		},
		"empty media file": {
			rows:     "genomes/MAG1.faa\tgram_neg.xml\t\tM9\n",
			wantErr:  pipelinedef.ErrMissingItemFile,
			wantText: "column media_file is empty",
		},
	}

	for name, tc := range tcs {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			dir, args := newConfigFixture(t, tc.rows)
			def, err := pipelinedef.Load("reconstruct_config")
			require.NoError(t, err)

			tools := newFakeTools()
			pipe, err := def.Build(resolve(t, def, args), pipeline.WorkDir(filepath.Join(dir, "work")), pipeline.WithExecutor(tools))
			require.NoError(t, err)

			res, err := pipe.Run(t.Context())
			require.ErrorIs(t, err, tc.wantErr)
			assert.Contains(t, err.Error(), tc.wantText)
			assert.Equal(t, model.StatusFailed, res.Stage("reconstruct").Status)
			assert.Empty(t, tools.argv("carve"))
		})
	}
}

func TestReconstructConfigHeader(t *testing.T) {
	t.Parallel()

	def, err := pipelinedef.Load("reconstruct_config")
	require.NoError(t, err)

	dir := t.TempDir()
	args := map[string]string{"config": writeFile(t, dir, "config.tsv", "genome\tuniverse\tmedium_id\n")}

	_, err = param.NewResolver(param.WithArgs(args), param.WithEnvPrefix("")).ResolveAll(def.Decls())
	var missingErr *tables.MissingColumnsError
	require.True(t, errors.As(err, &missingErr))
	assert.Equal(t, []string{"media_file"}, missingErr.Missing)
}

func TestCommandEvaluation(t *testing.T) {
	t.Parallel()

	src := []byte(`
param "flag" {
  type    = "bool"
  default = false
}

param "name" {
  default = "MAG"
}

param "unset" {}

stage "hello" {
  command = [
    "echo", ["a", ["b"]], null, param.unset,
    param.flag ? "--flag" : null,
    3, upper(param.name), join("-", ["x", "y"]), task.stage,
  ]
}
`)

	tcs := map[string]struct {
		flag     string
		wantArgs []string
	}{
		"flag off": {
			flag:     "false",
			wantArgs: []string{"echo", "a", "b", "3", "MAG", "x-y", "hello"},
		},
		"flag on": {
			flag:     "true",
			wantArgs: []string{"echo", "a", "b", "--flag", "3", "MAG", "x-y", "hello"},
		},
	}

	for name, tc := range tcs {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			def, err := pipelinedef.Parse(src, "hello.hcl")
			require.NoError(t, err)

			tools := newFakeTools()
			pipe, err := def.Build(
				resolve(t, def, map[string]string{"flag": tc.flag}),
				pipeline.WorkDir(t.TempDir()),
				pipeline.OutDir(t.TempDir()),
				pipeline.WithExecutor(tools),
			)
			require.NoError(t, err)

			_, err = pipe.Run(t.Context())
			require.NoError(t, err)
			require.Len(t, tools.argv("echo"), 1)
			assert.Equal(t, tc.wantArgs, tools.argv("echo")[0])
		})
	}
}

func TestEmptyCommand(t *testing.T) {
	t.Parallel()

	def, err := pipelinedef.Parse([]byte(`
param "extra" {}

stage "empty" {
  command = [param.extra]
}
`), "empty.hcl")
	require.NoError(t, err)

	tools := newFakeTools()
	pipe, err := def.Build(
		resolve(t, def, nil),
		pipeline.WorkDir(t.TempDir()),
		pipeline.OutDir(t.TempDir()),
		pipeline.WithExecutor(tools),
	)
	require.NoError(t, err)

	res, err := pipe.Run(t.Context())
	require.ErrorIs(t, err, pipelinedef.ErrEmptyCommand)
	assert.Equal(t, model.StatusFailed, res.Stage("empty").Status)
	assert.Empty(t, tools.argv("echo"))
}
