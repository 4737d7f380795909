// Package sandbox is the execution manager used by the judge workers. It
// validates inputs, owns per-execution scratch areas, and tracks every
// live execution so shutdown can sweep them.
package sandbox

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gavel/internal/judge/model"
	"gavel/internal/judge/registry"
	"gavel/internal/judge/sandbox/engine"
	"gavel/internal/judge/sandbox/result"
	"gavel/internal/judge/sandbox/runner"
	"gavel/pkg/errors"
	"gavel/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// OpenRequest starts one compile+run cycle for one submission.
type OpenRequest struct {
	Language string
	// Source is the complete program fed to the compiler/interpreter.
	Source string
}

// CaseRun executes one test case within an open execution.
type CaseRun struct {
	TestID string
	Stdin  string
	Limits model.ResourceLimits
}

// Execution is one isolated compile+run cycle. Not safe for concurrent
// use; each worker owns exactly one at a time.
type Execution interface {
	ID() string
	Compile(ctx context.Context) (result.CompileResult, error)
	Run(ctx context.Context, caseRun CaseRun) (runner.RunOutcome, error)
	// Close kills anything still running and destroys the scratch area.
	Close() error
}

// Sandbox opens executions and sweeps them on shutdown.
type Sandbox interface {
	Open(ctx context.Context, req OpenRequest) (Execution, error)
	Shutdown(ctx context.Context) error
}

// Manager implements Sandbox over the engine and runner.
type Manager struct {
	registry *registry.Registry
	runner   runner.Runner
	engine   engine.Engine
	workRoot string

	mu     sync.Mutex
	active map[string]*execution
}

// NewManager creates a sandbox manager. workRoot is the host directory
// under which per-execution scratch dirs are created.
func NewManager(reg *registry.Registry, run runner.Runner, eng engine.Engine, workRoot string) (*Manager, error) {
	if reg == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if run == nil {
		return nil, fmt.Errorf("runner is required")
	}
	if eng == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if workRoot == "" {
		return nil, fmt.Errorf("work root is required")
	}
	if err := os.MkdirAll(workRoot, 0750); err != nil {
		return nil, fmt.Errorf("create work root: %w", err)
	}
	return &Manager{
		registry: reg,
		runner:   run,
		engine:   eng,
		workRoot: workRoot,
		active:   make(map[string]*execution),
	}, nil
}

// Open validates the request, allocates a scratch area and writes the
// source file. Rejections happen before any resource is scheduled.
func (m *Manager) Open(ctx context.Context, req OpenRequest) (Execution, error) {
	lang, err := m.registry.Get(req.Language)
	if err != nil {
		return nil, err
	}
	if err := m.registry.ValidateSource(req.Source); err != nil {
		return nil, err
	}

	execID := uuid.NewString()
	workDir := filepath.Join(m.workRoot, execID)
	if err := os.MkdirAll(workDir, 0750); err != nil {
		return nil, errors.Wrapf(err, errors.JudgeSystemError, "create scratch dir for execution %s", execID)
	}

	srcPath := filepath.Join(workDir, lang.SourceFile)
	if err := os.WriteFile(srcPath, []byte(req.Source), 0640); err != nil {
		_ = os.RemoveAll(workDir)
		return nil, errors.Wrapf(err, errors.JudgeSystemError, "write source for execution %s", execID)
	}

	exec := &execution{
		id:       execID,
		language: lang,
		workDir:  workDir,
		manager:  m,
	}
	m.mu.Lock()
	m.active[execID] = exec
	m.mu.Unlock()
	return exec, nil
}

// Shutdown kills and removes every execution still tracked as active.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	leftover := make([]*execution, 0, len(m.active))
	for _, exec := range m.active {
		leftover = append(leftover, exec)
	}
	m.mu.Unlock()

	for _, exec := range leftover {
		logger.Warn(ctx, "sweeping leftover sandbox execution", zap.String("execution_id", exec.id))
		if err := exec.Close(); err != nil {
			logger.Warn(ctx, "sweep execution failed", zap.String("execution_id", exec.id), zap.Error(err))
		}
	}
	return nil
}

func (m *Manager) release(exec *execution) {
	m.mu.Lock()
	delete(m.active, exec.id)
	m.mu.Unlock()
}

type execution struct {
	id       string
	language registry.Language
	workDir  string
	manager  *Manager
	closed   bool
}

func (e *execution) ID() string {
	return e.id
}

func (e *execution) Compile(ctx context.Context) (result.CompileResult, error) {
	return e.manager.runner.Compile(ctx, runner.CompileRequest{
		ExecutionID: e.id,
		Language:    e.language,
		WorkDir:     e.workDir,
	})
}

func (e *execution) Run(ctx context.Context, caseRun CaseRun) (runner.RunOutcome, error) {
	if caseRun.TestID == "" {
		return runner.RunOutcome{}, fmt.Errorf("test id is required")
	}
	stdinPath := filepath.Join(e.workDir, fmt.Sprintf("stdin-%s.txt", caseRun.TestID))
	if err := os.WriteFile(stdinPath, []byte(caseRun.Stdin), 0640); err != nil {
		return runner.RunOutcome{}, errors.Wrapf(err, errors.JudgeSystemError, "write stdin for case %s", caseRun.TestID)
	}
	return e.manager.runner.Run(ctx, runner.RunRequest{
		ExecutionID: e.id,
		TestID:      caseRun.TestID,
		Language:    e.language,
		WorkDir:     e.workDir,
		StdinPath:   stdinPath,
		Limits:      caseRun.Limits,
	})
}

func (e *execution) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true
	_ = e.manager.engine.KillExecution(context.Background(), e.id)
	e.manager.release(e)
	if err := os.RemoveAll(e.workDir); err != nil {
		return fmt.Errorf("remove scratch dir: %w", err)
	}
	return nil
}
