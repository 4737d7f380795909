package engine

import (
	"context"

	"gavel/internal/judge/sandbox/result"
	"gavel/internal/judge/sandbox/spec"
)

// Engine executes a RunSpec inside an isolated sandbox.
type Engine interface {
	Run(ctx context.Context, runSpec spec.RunSpec) (result.RunResult, error)

	// KillExecution terminates every process group still tracked for the
	// execution id. Used for cancellation and the shutdown sweep.
	KillExecution(ctx context.Context, executionID string) error
}
