package sandbox_test

import (
	"context"
	"os"
	"strings"
	"testing"

	"gavel/internal/judge/model"
	"gavel/internal/judge/registry"
	"gavel/internal/judge/sandbox"
	"gavel/internal/judge/sandbox/result"
	"gavel/internal/judge/sandbox/runner"
	"gavel/internal/judge/sandbox/spec"
	"gavel/pkg/errors"
)

type fakeRunner struct {
	compileCalls int
	lastWorkDir  string
	runCalls     []runner.RunRequest
	outcome      model.Outcome
}

func (f *fakeRunner) Compile(ctx context.Context, req runner.CompileRequest) (result.CompileResult, error) {
	f.compileCalls++
	f.lastWorkDir = req.WorkDir
	return result.CompileResult{OK: true}, nil
}

func (f *fakeRunner) Run(ctx context.Context, req runner.RunRequest) (runner.RunOutcome, error) {
	f.runCalls = append(f.runCalls, req)
	outcome := f.outcome
	if outcome == "" {
		outcome = model.OutcomeAccepted
	}
	return runner.RunOutcome{Outcome: outcome, Raw: result.RunResult{ExitCode: 0, Stdout: "ok"}}, nil
}

type fakeKillEngine struct {
	killed []string
}

func (f *fakeKillEngine) Run(ctx context.Context, runSpec spec.RunSpec) (result.RunResult, error) {
	return result.RunResult{}, nil
}

func (f *fakeKillEngine) KillExecution(ctx context.Context, executionID string) error {
	f.killed = append(f.killed, executionID)
	return nil
}

func newManager(t *testing.T) (*sandbox.Manager, *fakeRunner, *fakeKillEngine) {
	t.Helper()
	run := &fakeRunner{}
	eng := &fakeKillEngine{}
	mgr, err := sandbox.NewManager(registry.New(registry.DefaultBounds()), run, eng, t.TempDir())
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return mgr, run, eng
}

func TestOpenRejectsUnknownLanguage(t *testing.T) {
	mgr, _, _ := newManager(t)
	_, err := mgr.Open(context.Background(), sandbox.OpenRequest{Language: "cobol", Source: "x"})
	if !errors.Is(err, errors.LanguageNotSupported) {
		t.Fatalf("expected LanguageNotSupported, got %v", err)
	}
}

func TestOpenRejectsOversizedSource(t *testing.T) {
	mgr, _, _ := newManager(t)
	_, err := mgr.Open(context.Background(), sandbox.OpenRequest{
		Language: "cpp",
		Source:   strings.Repeat("a", 60*1024),
	})
	if !errors.Is(err, errors.CodeTooLarge) {
		t.Fatalf("expected CodeTooLarge, got %v", err)
	}
}

func TestOpenWritesSourceFile(t *testing.T) {
	mgr, _, _ := newManager(t)
	exec, err := mgr.Open(context.Background(), sandbox.OpenRequest{Language: "cpp", Source: "int main(){}"})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer exec.Close()
	if exec.ID() == "" {
		t.Fatal("execution must have an id")
	}
}

func TestExecutionIDsAreUnique(t *testing.T) {
	mgr, _, _ := newManager(t)
	seen := make(map[string]bool)
	for i := 0; i < 16; i++ {
		exec, err := mgr.Open(context.Background(), sandbox.OpenRequest{Language: "python", Source: "print(1)"})
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		if seen[exec.ID()] {
			t.Fatalf("duplicate execution id %s", exec.ID())
		}
		seen[exec.ID()] = true
		_ = exec.Close()
	}
}

func TestRunWritesStdinAndDelegates(t *testing.T) {
	mgr, run, _ := newManager(t)
	exec, err := mgr.Open(context.Background(), sandbox.OpenRequest{Language: "cpp", Source: "int main(){}"})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer exec.Close()

	out, err := exec.Run(context.Background(), sandbox.CaseRun{
		TestID: "t1",
		Stdin:  "3 4\n",
		Limits: model.ResourceLimits{TimeLimitMS: 1000, MemoryLimitKB: 64 * 1024},
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out.Outcome != model.OutcomeAccepted {
		t.Fatalf("expected accepted, got %s", out.Outcome)
	}
	if len(run.runCalls) != 1 {
		t.Fatalf("expected 1 run call, got %d", len(run.runCalls))
	}
	data, err := os.ReadFile(run.runCalls[0].StdinPath)
	if err != nil {
		t.Fatalf("stdin file not written: %v", err)
	}
	if string(data) != "3 4\n" {
		t.Fatalf("stdin content mismatch: %q", data)
	}
}

func TestCloseDestroysScratchDir(t *testing.T) {
	mgr, run, eng := newManager(t)
	exec, err := mgr.Open(context.Background(), sandbox.OpenRequest{Language: "cpp", Source: "int main(){}"})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := exec.Compile(context.Background()); err != nil {
		t.Fatalf("compile: %v", err)
	}
	workDir := run.lastWorkDir
	if err := exec.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := os.Stat(workDir); !os.IsNotExist(err) {
		t.Fatalf("scratch dir should be removed, stat err = %v", err)
	}
	if len(eng.killed) != 1 || eng.killed[0] != exec.ID() {
		t.Fatalf("close should kill the execution, killed = %v", eng.killed)
	}
	// Close is idempotent.
	if err := exec.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestShutdownSweepsActiveExecutions(t *testing.T) {
	mgr, _, eng := newManager(t)
	exec1, _ := mgr.Open(context.Background(), sandbox.OpenRequest{Language: "cpp", Source: "int main(){}"})
	exec2, _ := mgr.Open(context.Background(), sandbox.OpenRequest{Language: "python", Source: "print(1)"})

	if err := mgr.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if len(eng.killed) != 2 {
		t.Fatalf("expected both executions killed, got %v", eng.killed)
	}
	_ = exec1
	_ = exec2
}
