package service_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"gavel/internal/common/cache"
	"gavel/internal/contest/scoring"
	"gavel/internal/judge/model"
	"gavel/internal/judge/queue"
	"gavel/internal/judge/registry"
	"gavel/internal/judge/repository"
	"gavel/internal/judge/sandbox"
	"gavel/internal/judge/sandbox/result"
	"gavel/internal/judge/sandbox/runner"
	"gavel/internal/judge/service"
	appErr "gavel/pkg/errors"
)

type fakeSubmissions struct {
	mu   sync.Mutex
	subs map[string]*model.Submission
}

func newFakeSubmissions() *fakeSubmissions {
	return &fakeSubmissions{subs: make(map[string]*model.Submission)}
}

func (f *fakeSubmissions) Create(ctx context.Context, sub *model.Submission) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *sub
	f.subs[sub.ID] = &cp
	return nil
}

func (f *fakeSubmissions) GetByID(ctx context.Context, id string) (*model.Submission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub, ok := f.subs[id]
	if !ok {
		return nil, appErr.Newf(appErr.SubmissionNotFound, "submission %s not found", id)
	}
	cp := *sub
	return &cp, nil
}

func (f *fakeSubmissions) MarkRunning(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if sub, ok := f.subs[id]; ok {
		sub.Status = model.StatusRunning
	}
	return nil
}

func (f *fakeSubmissions) SaveVerdict(ctx context.Context, sub *model.Submission) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *sub
	f.subs[sub.ID] = &cp
	return nil
}

func (f *fakeSubmissions) ListByContest(ctx context.Context, contestID string, limit int) ([]*model.Submission, error) {
	return nil, nil
}

type fakeProblems struct {
	problems map[string]*model.Problem
}

func (f *fakeProblems) GetByID(ctx context.Context, id string) (*model.Problem, error) {
	p, ok := f.problems[id]
	if !ok {
		return nil, appErr.Newf(appErr.ProblemNotFound, "problem %s not found", id)
	}
	return p, nil
}

func (f *fakeProblems) Invalidate(ctx context.Context, id string) error { return nil }

// runFn scripts the sandbox behaviour per case input.
type runFn func(caseRun sandbox.CaseRun) (runner.RunOutcome, error)

type fakeSandbox struct {
	compileOK   bool
	diagnostics string
	run         runFn

	// openFailures makes the first N Open calls fail.
	openFailures int

	mu        sync.Mutex
	openCalls int
}

func (f *fakeSandbox) Open(ctx context.Context, req sandbox.OpenRequest) (sandbox.Execution, error) {
	f.mu.Lock()
	f.openCalls++
	n := f.openCalls
	f.mu.Unlock()
	if n <= f.openFailures {
		return nil, fmt.Errorf("mkdir scratch: no space left on device")
	}
	return &fakeExecution{sandbox: f}, nil
}

func (f *fakeSandbox) opens() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.openCalls
}

func (f *fakeSandbox) Shutdown(ctx context.Context) error { return nil }

type fakeExecution struct {
	sandbox *fakeSandbox
}

func (e *fakeExecution) ID() string { return "exec-test" }

func (e *fakeExecution) Compile(ctx context.Context) (result.CompileResult, error) {
	return result.CompileResult{OK: e.sandbox.compileOK, Diagnostics: e.sandbox.diagnostics}, nil
}

func (e *fakeExecution) Run(ctx context.Context, caseRun sandbox.CaseRun) (runner.RunOutcome, error) {
	return e.sandbox.run(caseRun)
}

func (e *fakeExecution) Close() error { return nil }

func cleanRun(stdout string) runner.RunOutcome {
	return runner.RunOutcome{
		Outcome: model.OutcomeAccepted,
		Raw:     result.RunResult{Stdout: stdout, TimeMs: 10, MemoryKB: 1024},
	}
}

// echoInput runs every case cleanly and prints the case input verbatim.
func echoInput(caseRun sandbox.CaseRun) (runner.RunOutcome, error) {
	return cleanRun(caseRun.Stdin), nil
}

func stdinProblem(id string, mode model.ScoringMode, cases ...model.TestCase) *model.Problem {
	return &model.Problem{
		ID:          id,
		Title:       "test problem",
		ScoringMode: mode,
		IOMode:      model.IOModeStdin,
		Limits:      model.ResourceLimits{TimeLimitMS: 1000, MemoryLimitKB: 65536},
		TestCases:   cases,
	}
}

type env struct {
	svc   *service.Service
	subs  *fakeSubmissions
	score *scoring.Engine
}

func newEnv(t *testing.T, problems map[string]*model.Problem, box *fakeSandbox) *env {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	redisCache, err := cache.NewRedisCacheWithClient(client)
	if err != nil {
		t.Fatalf("create cache: %v", err)
	}

	pool, err := queue.NewPool(2)
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	subs := newFakeSubmissions()
	score := scoring.NewEngine(redisCache, nil)

	svc, err := service.NewService(service.Config{
		Registry:    registry.New(registry.DefaultBounds()),
		Sandbox:     box,
		Pool:        pool,
		Submissions: subs,
		Problems:    &fakeProblems{problems: problems},
		StatusRepo:  repository.NewStatusRepository(redisCache, time.Hour),
		Scoring:     score,
		RetryBase:   time.Millisecond,
		RetryCap:    5 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	svc.Start()
	t.Cleanup(func() { svc.Shutdown(context.Background()) })
	return &env{svc: svc, subs: subs, score: score}
}

func waitJudged(t *testing.T, subs *fakeSubmissions, id string) *model.Submission {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		sub, err := subs.GetByID(context.Background(), id)
		if err == nil && sub.Status == model.StatusJudged {
			return sub
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("submission %s never reached judged state", id)
	return nil
}

func TestSubmitAccepted(t *testing.T) {
	problems := map[string]*model.Problem{
		"p1": stdinProblem("p1", model.ScoringICPC,
			model.TestCase{Ordinal: 1, Input: "1 2\n", Expected: "1 2\n"},
			model.TestCase{Ordinal: 2, Input: "3 4\n", Expected: "3 4"},
		),
	}
	e := newEnv(t, problems, &fakeSandbox{compileOK: true, run: echoInput})

	sub, err := e.svc.Submit(context.Background(), service.SubmitRequest{
		TeamID: "team1", ProblemID: "p1", Language: "cpp", Code: "int main() {}",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	judged := waitJudged(t, e.subs, sub.ID)
	if judged.Verdict != model.OutcomeAccepted {
		t.Fatalf("expected accepted, got %s (%+v)", judged.Verdict, judged.CaseResults)
	}
	if judged.PassedCases != 2 || judged.TotalCases != 2 {
		t.Fatalf("expected 2/2 cases, got %d/%d", judged.PassedCases, judged.TotalCases)
	}
}

func TestSubmitWrongAnswerShortCircuits(t *testing.T) {
	var runs int32
	var mu sync.Mutex
	problems := map[string]*model.Problem{
		"p1": stdinProblem("p1", model.ScoringICPC,
			model.TestCase{Ordinal: 1, Input: "a\n", Expected: "b\n"},
			model.TestCase{Ordinal: 2, Input: "c\n", Expected: "c\n"},
		),
	}
	box := &fakeSandbox{compileOK: true, run: func(caseRun sandbox.CaseRun) (runner.RunOutcome, error) {
		mu.Lock()
		runs++
		mu.Unlock()
		return echoInput(caseRun)
	}}
	e := newEnv(t, problems, box)

	sub, err := e.svc.Submit(context.Background(), service.SubmitRequest{
		TeamID: "team1", ProblemID: "p1", Language: "cpp", Code: "int main() {}",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	judged := waitJudged(t, e.subs, sub.ID)
	if judged.Verdict != model.OutcomeWrongAnswer {
		t.Fatalf("expected wrong answer, got %s", judged.Verdict)
	}
	mu.Lock()
	defer mu.Unlock()
	if runs != 1 {
		t.Fatalf("first failure must stop the run, executed %d cases", runs)
	}
}

func TestSubmitPartialRunsAllCases(t *testing.T) {
	problems := map[string]*model.Problem{
		"p1": stdinProblem("p1", model.ScoringPartial,
			model.TestCase{Ordinal: 1, Input: "ok\n", Expected: "ok\n", Points: 30},
			model.TestCase{Ordinal: 2, Input: "no\n", Expected: "yes\n", Points: 30},
			model.TestCase{Ordinal: 3, Input: "ok2\n", Expected: "ok2\n", Points: 40},
		),
	}
	e := newEnv(t, problems, &fakeSandbox{compileOK: true, run: echoInput})

	sub, err := e.svc.Submit(context.Background(), service.SubmitRequest{
		TeamID: "team1", ProblemID: "p1", Language: "python", Code: "print(input())",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	judged := waitJudged(t, e.subs, sub.ID)
	if judged.Points != 70 {
		t.Fatalf("expected 70 points, got %d", judged.Points)
	}
	if judged.PassedCases != 2 || judged.TotalCases != 3 {
		t.Fatalf("expected 2/3, got %d/%d", judged.PassedCases, judged.TotalCases)
	}
}

func TestSubmitCompileError(t *testing.T) {
	problems := map[string]*model.Problem{
		"p1": stdinProblem("p1", model.ScoringICPC,
			model.TestCase{Ordinal: 1, Input: "1\n", Expected: "1\n"},
		),
	}
	box := &fakeSandbox{compileOK: false, diagnostics: "main.cpp:1: expected ';'", run: echoInput}
	e := newEnv(t, problems, box)

	sub, err := e.svc.Submit(context.Background(), service.SubmitRequest{
		TeamID: "team1", ProblemID: "p1", Language: "cpp", Code: "int main() {",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	judged := waitJudged(t, e.subs, sub.ID)
	if judged.Verdict != model.OutcomeCompileError {
		t.Fatalf("expected compile error, got %s", judged.Verdict)
	}
	if len(judged.CaseResults) != 1 || !strings.Contains(judged.CaseResults[0].Detail, "expected ';'") {
		t.Fatalf("diagnostics not preserved: %+v", judged.CaseResults)
	}
}

func TestSubmitRetriesInfraErrors(t *testing.T) {
	var mu sync.Mutex
	attempts := 0
	problems := map[string]*model.Problem{
		"p1": stdinProblem("p1", model.ScoringICPC,
			model.TestCase{Ordinal: 1, Input: "1\n", Expected: "1\n"},
		),
	}
	box := &fakeSandbox{compileOK: true, run: func(caseRun sandbox.CaseRun) (runner.RunOutcome, error) {
		mu.Lock()
		attempts++
		n := attempts
		mu.Unlock()
		if n < 3 {
			return runner.RunOutcome{}, fmt.Errorf("cgroup flake")
		}
		return echoInput(caseRun)
	}}
	e := newEnv(t, problems, box)

	sub, err := e.svc.Submit(context.Background(), service.SubmitRequest{
		TeamID: "team1", ProblemID: "p1", Language: "cpp", Code: "int main() {}",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	judged := waitJudged(t, e.subs, sub.ID)
	if judged.Verdict != model.OutcomeAccepted {
		t.Fatalf("expected accepted after retries, got %s", judged.Verdict)
	}
	mu.Lock()
	defer mu.Unlock()
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestSubmitRetriesTransientOpenFailure(t *testing.T) {
	problems := map[string]*model.Problem{
		"p1": stdinProblem("p1", model.ScoringICPC,
			model.TestCase{Ordinal: 1, Input: "1\n", Expected: "1\n"},
		),
	}
	box := &fakeSandbox{compileOK: true, run: echoInput, openFailures: 2}
	e := newEnv(t, problems, box)

	sub, err := e.svc.Submit(context.Background(), service.SubmitRequest{
		TeamID: "team1", ProblemID: "p1", Language: "cpp", Code: "int main() {}",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	judged := waitJudged(t, e.subs, sub.ID)
	if judged.Verdict != model.OutcomeAccepted {
		t.Fatalf("expected accepted after scratch-area retries, got %s", judged.Verdict)
	}
	if got := box.opens(); got != 3 {
		t.Fatalf("expected 3 open attempts, got %d", got)
	}
}

func TestSubmitRejectsOutOfBoundsLimits(t *testing.T) {
	problems := map[string]*model.Problem{
		"p1": {
			ID:          "p1",
			ScoringMode: model.ScoringICPC,
			IOMode:      model.IOModeStdin,
			Limits:      model.ResourceLimits{TimeLimitMS: 600000, MemoryLimitKB: 65536},
			TestCases: []model.TestCase{
				{Ordinal: 1, Input: "1\n", Expected: "1\n"},
			},
		},
	}
	e := newEnv(t, problems, &fakeSandbox{compileOK: true, run: echoInput})

	_, err := e.svc.Submit(context.Background(), service.SubmitRequest{
		TeamID: "team1", ProblemID: "p1", Language: "cpp", Code: "int main() {}",
	})
	if !appErr.Is(err, appErr.LimitOutOfBounds) {
		t.Fatalf("expected LimitOutOfBounds, got %v", err)
	}
}

func TestSubmitMissingExpectedOutputFails(t *testing.T) {
	// A non-sample case with no expected output and no data pack is a
	// configuration error, not a silent compare against "".
	problems := map[string]*model.Problem{
		"p1": stdinProblem("p1", model.ScoringICPC,
			model.TestCase{Ordinal: 1, Input: "1\n", Expected: ""},
		),
	}
	e := newEnv(t, problems, &fakeSandbox{compileOK: true, run: echoInput})

	sub, err := e.svc.Submit(context.Background(), service.SubmitRequest{
		TeamID: "team1", ProblemID: "p1", Language: "cpp", Code: "int main() {}",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	judged := waitJudged(t, e.subs, sub.ID)
	if judged.Verdict != model.OutcomeInternalError {
		t.Fatalf("expected internal error verdict, got %s", judged.Verdict)
	}
}

func TestSubmitParamsProblem(t *testing.T) {
	problems := map[string]*model.Problem{
		"p1": {
			ID:          "p1",
			ScoringMode: model.ScoringICPC,
			IOMode:      model.IOModeParams,
			Limits:      model.ResourceLimits{TimeLimitMS: 1000, MemoryLimitKB: 65536},
			TestCases: []model.TestCase{
				{Ordinal: 1, Params: `[2, 3]`, ExpectedReturn: "5.0000001", DeclaredType: "double"},
			},
		},
	}
	box := &fakeSandbox{compileOK: true, run: func(caseRun sandbox.CaseRun) (runner.RunOutcome, error) {
		return cleanRun("5.0"), nil
	}}
	e := newEnv(t, problems, box)

	sub, err := e.svc.Submit(context.Background(), service.SubmitRequest{
		TeamID: "team1", ProblemID: "p1", Language: "python",
		Code: "def solve(a, b):\n    return a + b",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	judged := waitJudged(t, e.subs, sub.ID)
	if judged.Verdict != model.OutcomeAccepted {
		t.Fatalf("float return within tolerance should pass, got %s", judged.Verdict)
	}
}

func TestSubmitRejectsUnknownLanguage(t *testing.T) {
	e := newEnv(t, map[string]*model.Problem{}, &fakeSandbox{compileOK: true, run: echoInput})
	_, err := e.svc.Submit(context.Background(), service.SubmitRequest{
		TeamID: "team1", ProblemID: "p1", Language: "cobol", Code: "x",
	})
	if !appErr.Is(err, appErr.LanguageNotSupported) {
		t.Fatalf("expected LanguageNotSupported, got %v", err)
	}
}

func TestSubmitRejectsUnknownProblem(t *testing.T) {
	e := newEnv(t, map[string]*model.Problem{}, &fakeSandbox{compileOK: true, run: echoInput})
	_, err := e.svc.Submit(context.Background(), service.SubmitRequest{
		TeamID: "team1", ProblemID: "ghost", Language: "cpp", Code: "int main() {}",
	})
	if !appErr.Is(err, appErr.ProblemNotFound) {
		t.Fatalf("expected ProblemNotFound, got %v", err)
	}
}

func TestStatusFallsBackToStore(t *testing.T) {
	problems := map[string]*model.Problem{
		"p1": stdinProblem("p1", model.ScoringICPC,
			model.TestCase{Ordinal: 1, Input: "1\n", Expected: "1\n"},
		),
	}
	e := newEnv(t, problems, &fakeSandbox{compileOK: true, run: echoInput})

	sub, err := e.svc.Submit(context.Background(), service.SubmitRequest{
		TeamID: "team1", ProblemID: "p1", Language: "cpp", Code: "int main() {}",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitJudged(t, e.subs, sub.ID)

	record, err := e.svc.Status(context.Background(), sub.ID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if record.Status != model.StatusJudged {
		t.Fatalf("expected judged status, got %s", record.Status)
	}
}

func TestScoreboardFedByVerdicts(t *testing.T) {
	problems := map[string]*model.Problem{
		"p1": stdinProblem("p1", model.ScoringICPC,
			model.TestCase{Ordinal: 1, Input: "1\n", Expected: "1\n"},
		),
	}
	e := newEnv(t, problems, &fakeSandbox{compileOK: true, run: echoInput})
	if err := e.score.RegisterContest(scoring.Contest{ID: "c1", StartTime: time.Now().Add(-time.Hour)}); err != nil {
		t.Fatalf("register contest: %v", err)
	}

	sub, err := e.svc.Submit(context.Background(), service.SubmitRequest{
		TeamID: "team1", ProblemID: "p1", ContestID: "c1", Language: "cpp", Code: "int main() {}",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitJudged(t, e.subs, sub.ID)

	rows, err := e.svc.Leaderboard(context.Background(), "c1", false)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if len(rows) != 1 || rows[0].TeamID != "team1" || rows[0].Solved != 1 {
		t.Fatalf("scoreboard not updated: %+v", rows)
	}
}
