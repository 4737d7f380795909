package runner

import (
	"context"

	"gavel/internal/judge/model"
	"gavel/internal/judge/registry"
	"gavel/internal/judge/sandbox/result"
)

// CompileRequest describes one compilation task.
type CompileRequest struct {
	ExecutionID string
	Language    registry.Language
	// WorkDir is the host scratch dir already holding the source file.
	WorkDir string
}

// RunRequest describes one test case execution.
type RunRequest struct {
	ExecutionID string
	TestID      string
	Language    registry.Language
	WorkDir     string
	// StdinPath is a host path inside WorkDir with the case input.
	StdinPath string
	// Limits are the nominal problem limits; the runner applies the
	// language multipliers before enforcement.
	Limits model.ResourceLimits
}

// RunOutcome pairs the raw sandbox data with the mapped outcome tag.
// OutcomeAccepted here means "ran cleanly"; output comparison happens in
// the verdict engine.
type RunOutcome struct {
	Outcome model.Outcome
	Raw     result.RunResult
}

// Runner orchestrates compile and run workflows against the engine.
type Runner interface {
	Compile(ctx context.Context, req CompileRequest) (result.CompileResult, error)
	Run(ctx context.Context, req RunRequest) (RunOutcome, error)
}
