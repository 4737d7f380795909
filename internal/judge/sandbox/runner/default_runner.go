package runner

import (
	"context"
	"fmt"
	"math"
	"path"
	"strings"

	"gavel/internal/judge/model"
	"gavel/internal/judge/registry"
	"gavel/internal/judge/sandbox/engine"
	"gavel/internal/judge/sandbox/result"
	"gavel/internal/judge/sandbox/security"
	"gavel/internal/judge/sandbox/spec"

	"github.com/google/shlex"
)

const (
	// boxDir is the scratch dir's mount point inside the sandbox.
	boxDir = "/box"

	compileCPUTimeMs  int64 = 20000
	compileWallTimeMs int64 = 30000
	compileMemoryMB   int64 = 1024
	compilePIDs       int64 = 64

	runPIDs     int64 = 16
	runOutputMB int64 = 8
	runStackMB  int64 = 64

	// wallClockFactor pads the wall deadline over the CPU deadline so a
	// busy host does not turn a passing run into a timeout.
	wallClockFactor = 2
)

// DefaultRunner executes compile and run tasks through the sandbox engine.
type DefaultRunner struct {
	engine engine.Engine
}

// NewDefaultRunner creates a runner over the given engine.
func NewDefaultRunner(eng engine.Engine) (*DefaultRunner, error) {
	if eng == nil {
		return nil, fmt.Errorf("engine is required")
	}
	return &DefaultRunner{engine: eng}, nil
}

// Compile runs the language's compile command in the compile profile.
func (r *DefaultRunner) Compile(ctx context.Context, req CompileRequest) (result.CompileResult, error) {
	if !req.Language.Compiled() {
		return result.CompileResult{OK: true}, nil
	}
	cmd, err := buildCommand(req.Language.CompileCmd, req.Language)
	if err != nil {
		return result.CompileResult{}, fmt.Errorf("build compile command: %w", err)
	}

	runSpec := spec.RunSpec{
		ExecutionID: req.ExecutionID,
		TestID:      "compile",
		WorkDir:     boxDir,
		Cmd:         cmd,
		Env:         req.Language.Env,
		StderrPath:  path.Join(boxDir, "compile.log"),
		BindMounts: []spec.MountSpec{
			{Source: req.WorkDir, Target: boxDir},
		},
		Profile: security.ProfileCompile,
		Limits: spec.ResourceLimit{
			CPUTimeMs:  compileCPUTimeMs,
			WallTimeMs: compileWallTimeMs,
			MemoryMB:   compileMemoryMB,
			StackMB:    runStackMB,
			OutputMB:   runOutputMB,
			PIDs:       compilePIDs,
		},
	}

	raw, err := r.engine.Run(ctx, runSpec)
	if err != nil {
		return result.CompileResult{}, err
	}
	return result.CompileResult{
		OK:          raw.ExitCode == 0,
		ExitCode:    raw.ExitCode,
		TimeMs:      raw.TimeMs,
		MemoryKB:    raw.MemoryKB,
		Diagnostics: raw.Stderr,
		Truncated:   raw.StderrTruncated,
	}, nil
}

// Run executes one test case in the run profile and maps the raw result
// to an outcome tag.
func (r *DefaultRunner) Run(ctx context.Context, req RunRequest) (RunOutcome, error) {
	cmd, err := buildCommand(req.Language.RunCmd, req.Language)
	if err != nil {
		return RunOutcome{}, fmt.Errorf("build run command: %w", err)
	}

	limits := applyMultipliers(req.Limits, req.Language)
	stdinPath := ""
	if req.StdinPath != "" {
		stdinPath = path.Join(boxDir, path.Base(req.StdinPath))
	}

	runSpec := spec.RunSpec{
		ExecutionID: req.ExecutionID,
		TestID:      req.TestID,
		WorkDir:     boxDir,
		Cmd:         cmd,
		Env:         req.Language.Env,
		StdinPath:   stdinPath,
		StdoutPath:  path.Join(boxDir, fmt.Sprintf("stdout-%s.txt", req.TestID)),
		StderrPath:  path.Join(boxDir, fmt.Sprintf("stderr-%s.txt", req.TestID)),
		BindMounts: []spec.MountSpec{
			{Source: req.WorkDir, Target: boxDir},
		},
		Profile: security.ProfileRun,
		Limits:  limits,
	}

	raw, err := r.engine.Run(ctx, runSpec)
	if err != nil {
		return RunOutcome{}, err
	}
	return RunOutcome{
		Outcome: mapRunOutcome(raw, limits),
		Raw:     raw,
	}, nil
}

// buildCommand tokenizes a command template and resolves the {src} and
// {bin} placeholders to in-sandbox paths.
func buildCommand(template string, lang registry.Language) ([]string, error) {
	if template == "" {
		return nil, fmt.Errorf("command template is empty")
	}
	tokens, err := shlex.Split(template)
	if err != nil {
		return nil, fmt.Errorf("tokenize command: %w", err)
	}
	src := path.Join(boxDir, lang.SourceFile)
	bin := path.Join(boxDir, lang.BinaryFile)
	out := make([]string, 0, len(tokens))
	for _, token := range tokens {
		token = strings.ReplaceAll(token, "{src}", src)
		token = strings.ReplaceAll(token, "{bin}", bin)
		out = append(out, token)
	}
	return out, nil
}

// applyMultipliers scales nominal limits by the language multipliers and
// fills in the fixed run-profile limits.
func applyMultipliers(nominal model.ResourceLimits, lang registry.Language) spec.ResourceLimit {
	cpuMs := scaleLimit(nominal.TimeLimitMS, lang.TimeMultiplier)
	memoryMB := scaleLimit(nominal.MemoryLimitKB, lang.MemoryMultiplier) / 1024
	if memoryMB <= 0 {
		memoryMB = 1
	}
	return spec.ResourceLimit{
		CPUTimeMs:  cpuMs,
		WallTimeMs: cpuMs * wallClockFactor,
		MemoryMB:   memoryMB,
		StackMB:    runStackMB,
		OutputMB:   runOutputMB,
		PIDs:       runPIDs,
	}
}

func scaleLimit(value int64, multiplier float64) int64 {
	if value <= 0 {
		return 0
	}
	if multiplier <= 0 {
		multiplier = 1
	}
	return int64(math.Ceil(float64(value) * multiplier))
}

// mapRunOutcome classifies a raw run result against the enforced limits.
// Wrong-answer classification happens later, at output comparison.
func mapRunOutcome(raw result.RunResult, limits spec.ResourceLimit) model.Outcome {
	switch {
	case raw.ExitCode == -1:
		return model.OutcomeTimeLimit
	case limits.CPUTimeMs > 0 && raw.TimeMs > limits.CPUTimeMs:
		return model.OutcomeTimeLimit
	case raw.OomKilled:
		return model.OutcomeMemoryLimit
	case limits.MemoryMB > 0 && raw.MemoryKB > limits.MemoryMB*1024:
		return model.OutcomeMemoryLimit
	case limits.OutputMB > 0 && raw.OutputKB > limits.OutputMB*1024:
		return model.OutcomeOutputLimit
	case raw.ExitCode != 0:
		return model.OutcomeRuntimeError
	default:
		return model.OutcomeAccepted
	}
}
