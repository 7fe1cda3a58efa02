package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/alister-chowdhury/shader-explorer/pkg/analysis"
	"github.com/alister-chowdhury/shader-explorer/pkg/config"
	"github.com/alister-chowdhury/shader-explorer/pkg/future"
	"github.com/alister-chowdhury/shader-explorer/pkg/history"
	"github.com/alister-chowdhury/shader-explorer/pkg/preflight"
	"github.com/alister-chowdhury/shader-explorer/pkg/rga"
	"github.com/alister-chowdhury/shader-explorer/pkg/toolreg"
	"github.com/alister-chowdhury/shader-explorer/pkg/version"
)

type toolsReport struct {
	Passed   bool              `json:"passed" yaml:"passed"`
	Summary  string            `json:"summary" yaml:"summary"`
	Tools    []toolreg.Tool    `json:"tools" yaml:"tools"`
	Features toolreg.Features  `json:"features" yaml:"features"`
	Versions map[string]string `json:"versions,omitempty" yaml:"versions,omitempty"`
}

func runTools(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("tools", a.stderr)
	format := fs.String("format", "", "output format: table, json or yaml")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	f, err := resolveFormat(*format, a.stdout)
	if err != nil {
		return err
	}

	results, err := preflight.Run(ctx, preflight.Options{Tools: a.tools, Executor: a.executor})
	if err != nil {
		return err
	}

	if f == formatTable {
		fmt.Fprint(a.stdout, preflight.FormatResults(results))
	} else {
		report := toolsReport{
			Passed:   results.Passed,
			Summary:  results.Summary,
			Tools:    a.tools.List(),
			Features: a.tools.Features(),
			Versions: map[string]string{},
		}
		for _, c := range results.Checks {
			if c.Version != "" {
				report.Versions[c.Name] = c.Version
			}
		}
		if err := encode(a.stdout, f, report); err != nil {
			return err
		}
	}

	if !results.Passed {
		return errors.New(results.Summary)
	}
	return nil
}

func runTargets(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("targets", a.stderr)
	format := fs.String("format", "", "output format: table, json or yaml")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	f, err := resolveFormat(*format, a.stdout)
	if err != nil {
		return err
	}

	discovery, err := a.discovery()
	if err != nil {
		return err
	}
	targets, err := discovery.Discover(ctx).Get()
	if err != nil {
		return fmt.Errorf("target discovery failed: %w", err)
	}
	if !a.tools.Found(toolreg.RGA) {
		a.logger.Warn("rga was not found; no targets can be listed")
	}

	if f != formatTable {
		return encode(a.stdout, f, targets)
	}
	rows := make([][]string, 0, len(targets))
	for _, t := range targets {
		rows = append(rows, []string{t.Name, t.Family, strings.Join(t.Products, ", ")})
	}
	return table(a.stdout, []string{"TARGET", "FAMILY", "PRODUCTS"}, rows)
}

type stageReport struct {
	Stage     rga.Stage `json:"stage" yaml:"stage"`
	Analysis  string    `json:"analysis,omitempty" yaml:"analysis,omitempty"`
	ISA       string    `json:"isa,omitempty" yaml:"isa,omitempty"`
	ParsedISA string    `json:"parsed_isa,omitempty" yaml:"parsed_isa,omitempty"`
	CFG       string    `json:"cfg,omitempty" yaml:"cfg,omitempty"`
	CFGSVG    string    `json:"cfg_svg,omitempty" yaml:"cfg_svg,omitempty"`
	CFGPNG    string    `json:"cfg_png,omitempty" yaml:"cfg_png,omitempty"`
}

type compileReport struct {
	ID       string        `json:"id" yaml:"id"`
	Target   string        `json:"target" yaml:"target"`
	Mode     string        `json:"mode" yaml:"mode"`
	ExitCode int           `json:"exit_code" yaml:"exit_code"`
	Duration time.Duration `json:"duration" yaml:"duration"`
	Stdout   string        `json:"stdout,omitempty" yaml:"stdout,omitempty"`
	Stderr   string        `json:"stderr,omitempty" yaml:"stderr,omitempty"`
	Stages   []stageReport `json:"stages" yaml:"stages"`
}

// newStageReport lists the stage's artifacts. Image paths are planned before
// rendering, so only the ones rendered in this run are reported.
func newStageReport(s *rga.CompiledShader, svg, png bool) stageReport {
	r := stageReport{
		Stage:     s.Stage,
		Analysis:  s.Analysis,
		ISA:       s.ISA,
		ParsedISA: s.ParsedISA,
		CFG:       s.CFG,
	}
	if svg {
		r.CFGSVG = s.CFGSVG
	}
	if png {
		r.CFGPNG = s.CFGPNG
	}
	return r
}

func runCompile(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("compile", a.stderr)
	target := fs.String("target", a.cfg.DefaultTarget, "target to compile for, e.g. gfx1030")
	online := fs.Bool("online", a.cfg.Online, "compile through the installed driver")
	out := fs.String("out", a.cfg.ResolvedOutputDir(), "directory receiving the stage artifacts")
	svg := fs.Bool("svg", false, "render control flow graphs as SVG")
	png := fs.Bool("png", false, "render control flow graphs as PNG")
	checkTarget := fs.Bool("check-target", false, "warn when rga does not list the target")
	format := fs.String("format", "", "output format: table, json or yaml")
	sources := make(map[rga.Stage]*string)
	for _, s := range rga.AllStages() {
		sources[s] = fs.String(string(s), "", fmt.Sprintf("%s stage source file", s))
	}
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	f, err := resolveFormat(*format, a.stdout)
	if err != nil {
		return err
	}

	req := &rga.CompileRequest{
		Target:    *target,
		Mode:      rga.ModeOffline,
		Stages:    make(map[rga.Stage]string),
		OutputDir: *out,
	}
	if *online {
		req.Mode = rga.ModeOnline
	}
	for s, path := range sources {
		if *path != "" {
			req.Stages[s] = *path
		}
	}
	if len(req.Stages) == 0 {
		return usagef("no stages given; pass -comp or any of -vert, -geom, -frag")
	}
	if err := os.MkdirAll(*out, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	if a.cfg.HistoryPath() != "" {
		if _, err := a.openJournal(); err != nil {
			a.logger.Warn("compile history unavailable: %v", err)
		}
	}

	var discovered *future.Task[[]rga.DeviceCapability]
	if *checkTarget {
		d, err := a.discovery()
		if err != nil {
			return err
		}
		discovered = d.Discover(ctx)
	}

	compiler := rga.NewCompiler(a.rgaConfig())
	res, err := compiler.Compile(ctx, req)
	if err != nil {
		if res != nil && res.Stdout != "" {
			fmt.Fprintln(a.stderr, res.Stdout)
		}
		return err
	}

	rendered := make(map[string]bool)
	for _, s := range req.RequestedStages() {
		shader := res.Stage(s)
		if !shader.HasCFG() {
			continue
		}
		if *svg {
			if rerr := shader.EnsureCFGSVGRendered(ctx); rerr != nil {
				a.logger.Warn("%s: svg not rendered: %v", s, rerr)
			} else {
				rendered[string(s)+".svg"] = true
			}
		}
		if *png {
			if rerr := shader.EnsureCFGPNGRendered(ctx); rerr != nil {
				a.logger.Warn("%s: png not rendered: %v", s, rerr)
			} else {
				rendered[string(s)+".png"] = true
			}
		}
	}

	if discovered != nil {
		warnUnknownTarget(a, discovered, req.Target)
	}

	report := compileReport{
		ID:       res.ID,
		Target:   req.Target,
		Mode:     req.Mode.String(),
		ExitCode: res.ExitCode,
		Duration: res.Duration,
		Stdout:   res.Stdout,
		Stderr:   res.Stderr,
	}
	for _, s := range req.RequestedStages() {
		report.Stages = append(report.Stages, newStageReport(res.Stage(s), rendered[string(s)+".svg"], rendered[string(s)+".png"]))
	}

	if f != formatTable {
		return encode(a.stdout, f, report)
	}
	if res.Stdout != "" {
		fmt.Fprintln(a.stdout, strings.TrimRight(res.Stdout, "\n"))
	}
	var rows [][]string
	for _, st := range report.Stages {
		for _, kv := range [][2]string{
			{"analysis", st.Analysis}, {"isa", st.ISA}, {"parsedisa", st.ParsedISA},
			{"cfg", st.CFG}, {"cfg.svg", st.CFGSVG}, {"cfg.png", st.CFGPNG},
		} {
			if kv[1] != "" {
				rows = append(rows, []string{string(st.Stage), kv[0], kv[1]})
			}
		}
	}
	return table(a.stdout, []string{"STAGE", "ARTIFACT", "PATH"}, rows)
}

func warnUnknownTarget(a *app, task *future.Task[[]rga.DeviceCapability], target string) {
	targets, err := task.Get()
	if err != nil {
		a.logger.Warn("target check skipped: %v", err)
		return
	}
	for _, t := range targets {
		if strings.EqualFold(t.Target, target) {
			return
		}
	}
	a.logger.Warn("target %s is not listed by rga", target)
}

// openStage parses -stage and opens the stage's artifacts under out.
func openStage(a *app, out, stageName string) (*rga.CompiledShader, error) {
	if stageName == "" {
		return nil, usagef("-stage is required")
	}
	stage, err := rga.ParseStage(stageName)
	if err != nil {
		return nil, &usageError{msg: err.Error()}
	}
	return rga.NewCompiler(a.rgaConfig()).Open(out, stage)
}

func runRender(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("render", a.stderr)
	out := fs.String("out", a.cfg.ResolvedOutputDir(), "directory holding the stage artifacts")
	stageName := fs.String("stage", "", "stage to render: comp, vert, geom or frag")
	image := fs.String("image", "svg", "image format: svg, png or both")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	wantSVG, wantPNG := false, false
	switch *image {
	case "svg":
		wantSVG = true
	case "png":
		wantPNG = true
	case "both":
		wantSVG, wantPNG = true, true
	default:
		return usagef("unknown image format %q", *image)
	}

	shader, err := openStage(a, *out, *stageName)
	if err != nil {
		return err
	}
	if !shader.HasCFG() {
		return fmt.Errorf("no control flow graph for %s in %s", shader.Stage, *out)
	}
	if wantSVG {
		if err := shader.EnsureCFGSVGRendered(ctx); err != nil {
			return err
		}
		fmt.Fprintln(a.stdout, shader.CFGSVG)
	}
	if wantPNG {
		if err := shader.EnsureCFGPNGRendered(ctx); err != nil {
			return err
		}
		fmt.Fprintln(a.stdout, shader.CFGPNG)
	}
	return nil
}

type analyzeReport struct {
	Stage     rga.Stage               `json:"stage" yaml:"stage"`
	Occupancy *analysis.Occupancy     `json:"occupancy,omitempty" yaml:"occupancy,omitempty"`
	Limiter   string                  `json:"limiter,omitempty" yaml:"limiter,omitempty"`
	Resources analysis.Record         `json:"resources,omitempty" yaml:"resources,omitempty"`
	Registers *analysis.RegisterUsage `json:"registers,omitempty" yaml:"registers,omitempty"`
	Labels    map[string]uint64       `json:"labels,omitempty" yaml:"labels,omitempty"`
}

func runAnalyze(_ context.Context, a *app, args []string) error {
	fs := newFlagSet("analyze", a.stderr)
	out := fs.String("out", a.cfg.ResolvedOutputDir(), "directory holding the stage artifacts")
	stageName := fs.String("stage", "", "stage to analyze: comp, vert, geom or frag")
	format := fs.String("format", "", "output format: table, json or yaml")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	f, err := resolveFormat(*format, a.stdout)
	if err != nil {
		return err
	}

	shader, err := openStage(a, *out, *stageName)
	if err != nil {
		return err
	}

	report := analyzeReport{Stage: shader.Stage}
	if shader.HasAnalysis() {
		occ, record, err := analysis.EstimateFile(shader.Analysis)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", shader.Analysis, err)
		}
		report.Occupancy = &occ
		report.Limiter = occ.Limiter()
		report.Resources = record
	}
	if shader.HasISA() {
		data, err := os.ReadFile(shader.ISA)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", shader.ISA, err)
		}
		usage := analysis.CountRegisters(string(data))
		report.Registers = &usage
		report.Labels = analysis.ExtractLabelOffsets(string(data))
	}

	if f != formatTable {
		return encode(a.stdout, f, report)
	}

	var rows [][]string
	if o := report.Occupancy; o != nil {
		rows = append(rows,
			[]string{"occupancy.sgpr", percent(o.SGPR)},
			[]string{"occupancy.vgpr", percent(o.VGPR)},
			[]string{"occupancy.lds", percent(o.LDS)},
			[]string{"occupancy.overall", percent(o.Overall)},
		)
		if report.Limiter != "" {
			rows = append(rows, []string{"limiter", report.Limiter})
		}
	}
	if r := report.Registers; r != nil {
		rows = append(rows,
			[]string{"registers.sgpr", strconv.Itoa(r.SGPRs)},
			[]string{"registers.vgpr", strconv.Itoa(r.VGPRs)},
		)
	}
	for _, label := range analysis.SortedLabels(report.Labels) {
		rows = append(rows, []string{"label." + label, fmt.Sprintf("0x%x", report.Labels[label])})
	}
	return table(a.stdout, []string{"METRIC", "VALUE"}, rows)
}

func percent(v float64) string {
	return strconv.FormatFloat(v*100, 'f', 1, 64) + "%"
}

func runHistory(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("history", a.stderr)
	limit := fs.Int("limit", 20, "maximum sessions to list; 0 lists all")
	id := fs.String("id", "", "show one session with its artifacts")
	prune := fs.Int("prune", -1, "keep only the newest n sessions")
	format := fs.String("format", "", "output format: table, json or yaml")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	f, err := resolveFormat(*format, a.stdout)
	if err != nil {
		return err
	}

	j, err := a.openJournal()
	if err != nil {
		return err
	}

	if *prune >= 0 {
		n, err := j.Prune(ctx, *prune)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.stdout, "pruned %d sessions\n", n)
		return nil
	}

	if *id != "" {
		s, err := j.Get(ctx, *id)
		if errors.Is(err, history.ErrSessionNotFound) {
			return usagef("no session %q", *id)
		}
		if err != nil {
			return err
		}
		if f != formatTable {
			return encode(a.stdout, f, s)
		}
		rows := make([][]string, 0, len(s.Artifacts))
		for _, art := range s.Artifacts {
			rows = append(rows, []string{art.Stage, art.Kind, art.Path})
		}
		fmt.Fprintf(a.stdout, "%s  %s  %s  %s\n", s.ID, s.CreatedAt.Local().Format(time.DateTime), s.Target, s.Mode)
		return table(a.stdout, []string{"STAGE", "ARTIFACT", "PATH"}, rows)
	}

	sessions, err := j.List(ctx, *limit)
	if err != nil {
		return err
	}
	if f != formatTable {
		return encode(a.stdout, f, sessions)
	}
	rows := make([][]string, 0, len(sessions))
	for _, s := range sessions {
		rows = append(rows, []string{
			s.ID,
			s.CreatedAt.Local().Format(time.DateTime),
			s.Target,
			s.Mode,
			strconv.Itoa(s.ExitCode),
			strconv.Itoa(s.ArtifactCount),
			s.Duration.Round(time.Millisecond).String(),
		})
	}
	return table(a.stdout, []string{"ID", "CREATED", "TARGET", "MODE", "EXIT", "ARTIFACTS", "DURATION"}, rows)
}

func runConfig(_ context.Context, a *app, args []string) error {
	fs := newFlagSet("config", a.stderr)
	write := fs.Bool("write", false, "write the effective configuration to .shaderx/config.json")
	format := fs.String("format", formatYAML, "output format: json or yaml")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if *format != formatJSON && *format != formatYAML {
		return usagef("unknown format %q (want json or yaml)", *format)
	}

	if *write {
		if err := config.Save(a.cfg, a.cfg.ProjectDir()); err != nil {
			return err
		}
		fmt.Fprintln(a.stdout, config.Path(a.cfg.ProjectDir()))
		return nil
	}
	return encode(a.stdout, *format, a.cfg)
}

func runVersion(_ context.Context, a *app, args []string) error {
	if err := parseFlags(newFlagSet("version", a.stderr), args); err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "shaderx %s\n", version.String())
	return nil
}
