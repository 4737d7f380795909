package runner_test

import (
	"context"
	"testing"

	"gavel/internal/judge/model"
	"gavel/internal/judge/registry"
	"gavel/internal/judge/sandbox/result"
	"gavel/internal/judge/sandbox/runner"
	"gavel/internal/judge/sandbox/spec"
)

type fakeEngine struct {
	lastSpec spec.RunSpec
	result   result.RunResult
	err      error
}

func (f *fakeEngine) Run(ctx context.Context, runSpec spec.RunSpec) (result.RunResult, error) {
	f.lastSpec = runSpec
	return f.result, f.err
}

func (f *fakeEngine) KillExecution(ctx context.Context, executionID string) error {
	return nil
}

func cppLang(t *testing.T) registry.Language {
	t.Helper()
	lang, err := registry.New(registry.DefaultBounds()).Get("cpp")
	if err != nil {
		t.Fatalf("get cpp: %v", err)
	}
	return lang
}

func pythonLang(t *testing.T) registry.Language {
	t.Helper()
	lang, err := registry.New(registry.DefaultBounds()).Get("python")
	if err != nil {
		t.Fatalf("get python: %v", err)
	}
	return lang
}

func TestCompileSkipsInterpreted(t *testing.T) {
	eng := &fakeEngine{}
	r, err := runner.NewDefaultRunner(eng)
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	res, err := r.Compile(context.Background(), runner.CompileRequest{
		ExecutionID: "exec-1",
		Language:    pythonLang(t),
		WorkDir:     t.TempDir(),
	})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if !res.OK {
		t.Fatal("interpreted compile should succeed without running")
	}
	if len(eng.lastSpec.Cmd) != 0 {
		t.Fatal("engine should not run for interpreted languages")
	}
}

func TestCompileCommandSubstitution(t *testing.T) {
	eng := &fakeEngine{result: result.RunResult{ExitCode: 0}}
	r, _ := runner.NewDefaultRunner(eng)
	_, err := r.Compile(context.Background(), runner.CompileRequest{
		ExecutionID: "exec-1",
		Language:    cppLang(t),
		WorkDir:     t.TempDir(),
	})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	cmd := eng.lastSpec.Cmd
	foundSrc, foundBin := false, false
	for _, token := range cmd {
		if token == "/box/main.cpp" {
			foundSrc = true
		}
		if token == "/box/main" {
			foundBin = true
		}
	}
	if !foundSrc || !foundBin {
		t.Fatalf("placeholders not resolved, cmd = %v", cmd)
	}
}

func TestCompileFailureCapturesDiagnostics(t *testing.T) {
	eng := &fakeEngine{result: result.RunResult{ExitCode: 1, Stderr: "main.cpp:3: error"}}
	r, _ := runner.NewDefaultRunner(eng)
	res, err := r.Compile(context.Background(), runner.CompileRequest{
		ExecutionID: "exec-1",
		Language:    cppLang(t),
		WorkDir:     t.TempDir(),
	})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if res.OK {
		t.Fatal("non-zero compile exit should not be OK")
	}
	if res.Diagnostics == "" {
		t.Fatal("diagnostics should carry compiler stderr")
	}
}

func TestRunAppliesTimeMultiplier(t *testing.T) {
	eng := &fakeEngine{result: result.RunResult{ExitCode: 0}}
	r, _ := runner.NewDefaultRunner(eng)
	_, err := r.Run(context.Background(), runner.RunRequest{
		ExecutionID: "exec-1",
		TestID:      "t1",
		Language:    pythonLang(t),
		WorkDir:     t.TempDir(),
		Limits:      model.ResourceLimits{TimeLimitMS: 1000, MemoryLimitKB: 256 * 1024},
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if eng.lastSpec.Limits.CPUTimeMs != 5000 {
		t.Fatalf("expected python 1s limit scaled to 5000ms, got %d", eng.lastSpec.Limits.CPUTimeMs)
	}
	if eng.lastSpec.Limits.MemoryMB != 512 {
		t.Fatalf("expected memory doubled to 512MB, got %d", eng.lastSpec.Limits.MemoryMB)
	}
	if eng.lastSpec.Limits.WallTimeMs <= eng.lastSpec.Limits.CPUTimeMs {
		t.Fatal("wall deadline should exceed cpu deadline")
	}
}

func TestRunOutcomeMapping(t *testing.T) {
	cases := []struct {
		name string
		raw  result.RunResult
		want model.Outcome
	}{
		{"clean exit", result.RunResult{ExitCode: 0, TimeMs: 10}, model.OutcomeAccepted},
		{"killed by wall timer", result.RunResult{ExitCode: -1}, model.OutcomeTimeLimit},
		{"cpu over limit", result.RunResult{ExitCode: 0, TimeMs: 9999}, model.OutcomeTimeLimit},
		{"oom killed", result.RunResult{ExitCode: 137, OomKilled: true}, model.OutcomeMemoryLimit},
		{"memory over limit", result.RunResult{ExitCode: 0, MemoryKB: 600 * 1024}, model.OutcomeMemoryLimit},
		{"output flood", result.RunResult{ExitCode: 0, OutputKB: 9 * 1024}, model.OutcomeOutputLimit},
		{"nonzero exit", result.RunResult{ExitCode: 2}, model.OutcomeRuntimeError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			eng := &fakeEngine{result: tc.raw}
			r, _ := runner.NewDefaultRunner(eng)
			out, err := r.Run(context.Background(), runner.RunRequest{
				ExecutionID: "exec-1",
				TestID:      "t1",
				Language:    cppLang(t),
				WorkDir:     t.TempDir(),
				Limits:      model.ResourceLimits{TimeLimitMS: 2000, MemoryLimitKB: 256 * 1024},
			})
			if err != nil {
				t.Fatalf("run: %v", err)
			}
			if out.Outcome != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, out.Outcome)
			}
		})
	}
}
