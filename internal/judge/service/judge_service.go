// Package service orchestrates the judge pipeline: accept a submission,
// queue it, compile and run it in the sandbox, compare output, persist
// the verdict and feed the contest scoreboard.
package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"gavel/internal/contest/scoring"
	"gavel/internal/judge/model"
	"gavel/internal/judge/queue"
	"gavel/internal/judge/registry"
	"gavel/internal/judge/repository"
	"gavel/internal/judge/sandbox"
	"gavel/internal/judge/sandbox/result"
	"gavel/internal/judge/sandbox/runner"
	"gavel/internal/judge/template"
	"gavel/internal/judge/verdict"
	appErr "gavel/pkg/errors"
	"gavel/pkg/utils/logger"
)

const (
	defaultRetryAttempts = 3
	defaultRetryBase     = 500 * time.Millisecond
	defaultRetryCap      = 5 * time.Second
)

// Service is the judge core facade used by the HTTP layer and the CLI.
type Service struct {
	registry    *registry.Registry
	sandbox     sandbox.Sandbox
	pool        *queue.Pool
	submissions repository.SubmissionStore
	problems    repository.ProblemStore
	statusRepo  *repository.StatusRepository
	publisher   repository.EventPublisher
	scoring     *scoring.Engine
	dataPacks   *repository.DataPackCache

	retryAttempts int
	retryBase     time.Duration
	retryCap      time.Duration
}

// Config holds service dependencies and settings. Publisher, Scoring and
// DataPacks are optional; everything else is required.
type Config struct {
	Registry    *registry.Registry
	Sandbox     sandbox.Sandbox
	Pool        *queue.Pool
	Submissions repository.SubmissionStore
	Problems    repository.ProblemStore
	StatusRepo  *repository.StatusRepository
	Publisher   repository.EventPublisher
	Scoring     *scoring.Engine
	DataPacks   *repository.DataPackCache

	RetryAttempts int
	RetryBase     time.Duration
	RetryCap      time.Duration
}

// NewService creates the judge service.
func NewService(cfg Config) (*Service, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if cfg.Sandbox == nil {
		return nil, fmt.Errorf("sandbox is required")
	}
	if cfg.Pool == nil {
		return nil, fmt.Errorf("worker pool is required")
	}
	if cfg.Submissions == nil {
		return nil, fmt.Errorf("submission store is required")
	}
	if cfg.Problems == nil {
		return nil, fmt.Errorf("problem store is required")
	}
	if cfg.StatusRepo == nil {
		return nil, fmt.Errorf("status repository is required")
	}
	s := &Service{
		registry:      cfg.Registry,
		sandbox:       cfg.Sandbox,
		pool:          cfg.Pool,
		submissions:   cfg.Submissions,
		problems:      cfg.Problems,
		statusRepo:    cfg.StatusRepo,
		publisher:     cfg.Publisher,
		scoring:       cfg.Scoring,
		dataPacks:     cfg.DataPacks,
		retryAttempts: cfg.RetryAttempts,
		retryBase:     cfg.RetryBase,
		retryCap:      cfg.RetryCap,
	}
	if s.retryAttempts <= 0 {
		s.retryAttempts = defaultRetryAttempts
	}
	if s.retryBase <= 0 {
		s.retryBase = defaultRetryBase
	}
	if s.retryCap <= 0 {
		s.retryCap = defaultRetryCap
	}
	return s, nil
}

// Start launches the worker pool.
func (s *Service) Start() {
	s.pool.Start()
}

// Shutdown drains the pool and sweeps the sandbox.
func (s *Service) Shutdown(ctx context.Context) {
	s.pool.Shutdown()
	if err := s.sandbox.Shutdown(ctx); err != nil {
		logger.Warn(ctx, "sandbox shutdown failed", zap.Error(err))
	}
}

// SubmitRequest is one incoming submission.
type SubmitRequest struct {
	TeamID    string `json:"team_id" binding:"required"`
	ProblemID string `json:"problem_id" binding:"required"`
	ContestID string `json:"contest_id"`
	Language  string `json:"language" binding:"required"`
	Code      string `json:"code" binding:"required"`
}

// Submit validates, persists and queues a submission. Validation failures
// reject synchronously; anything after the enqueue surfaces through the
// status endpoint.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*model.Submission, error) {
	lang, err := s.registry.Get(req.Language)
	if err != nil {
		return nil, err
	}
	if err := s.registry.ValidateSource(req.Code); err != nil {
		return nil, err
	}
	problem, err := s.problems.GetByID(ctx, req.ProblemID)
	if err != nil {
		return nil, err
	}
	if err := s.registry.ValidateLimits(problem.Limits); err != nil {
		return nil, err
	}
	for _, tc := range problem.TestCases {
		if err := s.registry.ValidateLimits(tc.EffectiveLimits(problem.Limits)); err != nil {
			return nil, err
		}
	}
	if problem.IOMode == model.IOModeParams {
		// Reject a broken wrapper template before anything is queued.
		if _, err := template.AssembleProgram(problem, lang, req.Code); err != nil {
			return nil, err
		}
	}

	sub := &model.Submission{
		ID:          uuid.NewString(),
		TeamID:      req.TeamID,
		ProblemID:   req.ProblemID,
		ContestID:   req.ContestID,
		Language:    req.Language,
		Code:        req.Code,
		Status:      model.StatusPending,
		TotalCases:  len(problem.TestCases),
		SubmittedAt: time.Now().UTC(),
	}
	if err := s.submissions.Create(ctx, sub); err != nil {
		return nil, err
	}
	if err := s.statusRepo.Save(ctx, repository.RecordFromSubmission(sub)); err != nil {
		logger.Warn(ctx, "save pending status failed", zap.String("submission_id", sub.ID), zap.Error(err))
	}

	job := queue.Job{
		ID:      sub.ID,
		Execute: func(jobCtx context.Context) error { return s.judge(jobCtx, sub.ID) },
		Fail:    func(jobCtx context.Context, jobErr error) { s.failSubmission(jobCtx, sub.ID, jobErr) },
	}
	if err := s.pool.Enqueue(job); err != nil {
		return nil, appErr.Wrapf(err, appErr.ServiceUnavailable, "queue submission %s", sub.ID)
	}
	return sub, nil
}

// Status returns the live view of a submission, falling back to the
// durable store once the cache entry has expired.
func (s *Service) Status(ctx context.Context, submissionID string) (repository.StatusRecord, error) {
	record, err := s.statusRepo.Get(ctx, submissionID)
	if err == nil {
		return record, nil
	}
	if !appErr.Is(err, appErr.NotFound) {
		return repository.StatusRecord{}, err
	}
	sub, err := s.submissions.GetByID(ctx, submissionID)
	if err != nil {
		return repository.StatusRecord{}, err
	}
	return repository.RecordFromSubmission(sub), nil
}

// LanguageInfo is the public view of a registry entry.
type LanguageInfo struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Version  string `json:"version"`
	Compiled bool   `json:"compiled"`
}

// Languages lists the supported languages.
func (s *Service) Languages() []LanguageInfo {
	langs := s.registry.List()
	out := make([]LanguageInfo, 0, len(langs))
	for _, l := range langs {
		out = append(out, LanguageInfo{ID: l.ID, Name: l.Name, Version: l.Version, Compiled: l.Compiled()})
	}
	return out
}

// Signature returns the author-visible function declaration for a
// parameter-based problem in the given language.
func (s *Service) Signature(ctx context.Context, problemID, language string) (string, error) {
	lang, err := s.registry.Get(language)
	if err != nil {
		return "", err
	}
	problem, err := s.problems.GetByID(ctx, problemID)
	if err != nil {
		return "", err
	}
	if problem.IOMode != model.IOModeParams {
		return "", appErr.Newf(appErr.InvalidParams, "problem %s is not parameter-based", problemID)
	}
	return template.RenderSignature(problem, lang)
}

// PoolStatus reports worker pool occupancy.
func (s *Service) PoolStatus() queue.PoolStatus {
	return s.pool.Status()
}

// Leaderboard returns contest standings, frozen or full.
func (s *Service) Leaderboard(ctx context.Context, contestID string, frozen bool) ([]scoring.Row, error) {
	if s.scoring == nil {
		return nil, appErr.New(appErr.ServiceUnavailable).WithMessage("scoring is not configured")
	}
	return s.scoring.Standings(ctx, contestID, frozen)
}

// judge is the worker procedure for one submission.
func (s *Service) judge(ctx context.Context, submissionID string) error {
	sub, err := s.submissions.GetByID(ctx, submissionID)
	if err != nil {
		return err
	}
	if err := s.submissions.MarkRunning(ctx, sub.ID); err != nil {
		return err
	}
	sub.Status = model.StatusRunning
	s.saveStatus(ctx, sub)

	problem, err := s.problems.GetByID(ctx, sub.ProblemID)
	if err != nil {
		return err
	}
	lang, err := s.registry.Get(sub.Language)
	if err != nil {
		return err
	}

	source := sub.Code
	if problem.IOMode == model.IOModeParams {
		source, err = template.AssembleProgram(problem, lang, sub.Code)
		if err != nil {
			return err
		}
	}

	var exec sandbox.Execution
	err = s.retryInfra(ctx, "open sandbox", func() error {
		var openErr error
		exec, openErr = s.sandbox.Open(ctx, sandbox.OpenRequest{Language: sub.Language, Source: source})
		return openErr
	})
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := exec.Close(); closeErr != nil {
			logger.Warn(ctx, "close execution failed",
				zap.String("execution_id", exec.ID()), zap.Error(closeErr))
		}
	}()

	if lang.Compiled() {
		// Compile diagnostics are a verdict, not a failure; only the
		// error return retries.
		var compileRes result.CompileResult
		err = s.retryInfra(ctx, "compile", func() error {
			var compileErr error
			compileRes, compileErr = exec.Compile(ctx)
			return compileErr
		})
		if err != nil {
			return err
		}
		if !compileRes.OK {
			sub.Verdict = model.OutcomeCompileError
			sub.CaseResults = []model.CaseResult{{
				Outcome: model.OutcomeCompileError,
				Detail:  compileRes.Diagnostics,
			}}
			return s.finalize(ctx, sub)
		}
	}

	packDir := ""
	if problem.DataPack != nil {
		if s.dataPacks == nil {
			return appErr.New(appErr.DataPackError).WithMessage("problem requires a data pack but none is configured")
		}
		packDir, err = s.dataPacks.Ensure(ctx, problem.DataPack)
		if err != nil {
			return err
		}
	}

	cases := append([]model.TestCase(nil), problem.TestCases...)
	sort.Slice(cases, func(i, j int) bool { return cases[i].Ordinal < cases[j].Ordinal })

	results := make([]model.CaseResult, 0, len(cases))
	for _, tc := range cases {
		cr, err := s.runCase(ctx, exec, problem, tc, packDir)
		if err != nil {
			return err
		}
		results = append(results, cr)
		if cr.TimeMS > sub.TimeMS {
			sub.TimeMS = cr.TimeMS
		}
		if cr.MemoryKB > sub.MemoryKB {
			sub.MemoryKB = cr.MemoryKB
		}
		// ICPC stops at the first failure; partial scoring runs every case.
		if problem.ScoringMode != model.ScoringPartial && !cr.Passed {
			break
		}
	}

	judgment := verdict.Aggregate(results, problem.ScoringMode)
	sub.Verdict = judgment.Outcome
	sub.Points = judgment.Points
	sub.PassedCases = judgment.Passed
	sub.TotalCases = len(cases)
	sub.CaseResults = results
	return s.finalize(ctx, sub)
}

// runCase executes one test case, retrying judge-side failures with
// exponential backoff. Verdict outcomes never retry.
func (s *Service) runCase(ctx context.Context, exec sandbox.Execution, problem *model.Problem, tc model.TestCase, packDir string) (model.CaseResult, error) {
	input, expected, err := resolveCase(tc, problem.IOMode, packDir)
	if err != nil {
		return model.CaseResult{}, err
	}
	limits := s.registry.ClampLimits(tc.EffectiveLimits(problem.Limits))

	caseRun := sandbox.CaseRun{
		TestID: fmt.Sprintf("case-%d", tc.Ordinal),
		Stdin:  input,
		Limits: limits,
	}

	var res runner.RunOutcome
	err = s.retryInfra(ctx, fmt.Sprintf("case %d", tc.Ordinal), func() error {
		var runErr error
		res, runErr = exec.Run(ctx, caseRun)
		return runErr
	})
	if err != nil {
		return model.CaseResult{}, err
	}
	return judgeCase(problem, tc, expected, res), nil
}

// retryInfra runs one judge-side step with bounded exponential backoff.
// Only infrastructure errors reach it; verdict outcomes are results, not
// errors, and pass straight through.
func (s *Service) retryInfra(ctx context.Context, step string, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < s.retryAttempts; attempt++ {
		if attempt > 0 {
			delay := queue.ComputeBackoff(attempt-1, s.retryBase, s.retryCap)
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return appErr.Wrap(ctx.Err(), appErr.Timeout)
			case <-timer.C:
			}
			logger.Info(ctx, "retrying judge step",
				zap.String("step", step),
				zap.Int("attempt", attempt+1))
		}
		if err := fn(); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return appErr.Wrapf(lastErr, appErr.JudgeSystemError, "%s failed after %d attempts", step, s.retryAttempts)
}

// judgeCase maps a clean run to accepted or wrong_answer by comparing
// output; a run that already failed keeps the sandbox outcome.
func judgeCase(problem *model.Problem, tc model.TestCase, expected string, res runner.RunOutcome) model.CaseResult {
	cr := model.CaseResult{
		Ordinal:  tc.Ordinal,
		Outcome:  res.Outcome,
		TimeMS:   res.Raw.TimeMs,
		MemoryKB: res.Raw.MemoryKB,
		Points:   tc.Points,
	}
	if cr.Points <= 0 {
		cr.Points = 1
	}
	if res.Outcome == model.OutcomeAccepted {
		matched := false
		if problem.IOMode == model.IOModeParams {
			matched = verdict.CompareReturn(expected, res.Raw.Stdout, tc.DeclaredType)
		} else {
			matched = verdict.CompareOutput(expected, res.Raw.Stdout)
		}
		if matched {
			cr.Passed = true
		} else {
			cr.Outcome = model.OutcomeWrongAnswer
		}
	}
	if !cr.Passed && res.Raw.Stderr != "" {
		cr.Detail = res.Raw.Stderr
	}
	return cr
}

func resolveCase(tc model.TestCase, ioMode model.IOMode, packDir string) (string, string, error) {
	input, expected := tc.Input, tc.Expected
	if ioMode == model.IOModeParams {
		return tc.Params, tc.ExpectedReturn, nil
	}
	if packDir == "" {
		if expected == "" && !tc.IsSample {
			return "", "", appErr.Newf(appErr.TestCaseInvalid, "case %d has no expected output", tc.Ordinal)
		}
		return input, expected, nil
	}
	// Inline data wins; the pack backs cases whose payloads were too big
	// for the problem row.
	if input == "" {
		data, err := os.ReadFile(filepath.Join(packDir, fmt.Sprintf("%d.in", tc.Ordinal)))
		if err != nil {
			return "", "", appErr.Wrapf(err, appErr.TestCaseNotFound, "read packed input for case %d", tc.Ordinal)
		}
		input = string(data)
	}
	if expected == "" {
		data, err := os.ReadFile(filepath.Join(packDir, fmt.Sprintf("%d.out", tc.Ordinal)))
		if err != nil {
			return "", "", appErr.Wrapf(err, appErr.TestCaseNotFound, "read packed answer for case %d", tc.Ordinal)
		}
		expected = string(data)
	}
	return input, expected, nil
}

// finalize stamps the terminal state, persists it everywhere and feeds
// the scoreboard.
func (s *Service) finalize(ctx context.Context, sub *model.Submission) error {
	now := time.Now().UTC()
	sub.Status = model.StatusJudged
	sub.JudgedAt = &now
	if err := s.submissions.SaveVerdict(ctx, sub); err != nil {
		return err
	}
	s.saveStatus(ctx, sub)

	if s.publisher != nil {
		if err := s.publisher.PublishSubmissionJudged(ctx, sub); err != nil {
			logger.Warn(ctx, "publish judged event failed",
				zap.String("submission_id", sub.ID), zap.Error(err))
		}
	}
	if s.scoring != nil && sub.ContestID != "" {
		if err := s.scoring.RecordSubmission(ctx, sub); err != nil {
			logger.Warn(ctx, "record submission in standings failed",
				zap.String("submission_id", sub.ID), zap.Error(err))
		}
	}
	return nil
}

// failSubmission is the pool's Fail callback: it parks the submission in
// a terminal internal-error state so it never shows as stuck.
func (s *Service) failSubmission(ctx context.Context, submissionID string, cause error) {
	logger.Error(ctx, "judging failed",
		zap.String("submission_id", submissionID), zap.Error(cause))
	sub, err := s.submissions.GetByID(ctx, submissionID)
	if err != nil {
		logger.Error(ctx, "load failed submission", zap.String("submission_id", submissionID), zap.Error(err))
		return
	}
	sub.Verdict = model.OutcomeInternalError
	sub.Points = 0
	if err := s.finalize(ctx, sub); err != nil {
		logger.Error(ctx, "persist failed submission", zap.String("submission_id", submissionID), zap.Error(err))
	}
}

func (s *Service) saveStatus(ctx context.Context, sub *model.Submission) {
	if err := s.statusRepo.Save(ctx, repository.RecordFromSubmission(sub)); err != nil {
		logger.Warn(ctx, "save status failed", zap.String("submission_id", sub.ID), zap.Error(err))
	}
}
