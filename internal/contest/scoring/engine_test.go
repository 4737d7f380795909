package scoring_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"gavel/internal/contest/scoring"
	"gavel/internal/judge/model"
	appErr "gavel/pkg/errors"
)

var contestStart = time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

func newEngine(t *testing.T, contest scoring.Contest) *scoring.Engine {
	t.Helper()
	e := scoring.NewEngine(nil, nil)
	if err := e.RegisterContest(contest); err != nil {
		t.Fatalf("register contest: %v", err)
	}
	return e
}

func record(t *testing.T, e *scoring.Engine, team, problem string, verdict model.Outcome, minute int) {
	t.Helper()
	at := contestStart.Add(time.Duration(minute) * time.Minute)
	err := e.RecordSubmission(context.Background(), &model.Submission{
		ID:        team + problem + at.String(),
		ContestID: "c1",
		TeamID:    team,
		ProblemID: problem,
		Verdict:   verdict,
		JudgedAt:  &at,
	})
	if err != nil {
		t.Fatalf("record submission: %v", err)
	}
}

func findRow(t *testing.T, rows []scoring.Row, team string) scoring.Row {
	t.Helper()
	for _, r := range rows {
		if r.TeamID == team {
			return r
		}
	}
	t.Fatalf("team %s not on board", team)
	return scoring.Row{}
}

func TestPenaltyCountsRejectsBeforeAccept(t *testing.T) {
	e := newEngine(t, scoring.Contest{ID: "c1", StartTime: contestStart})

	record(t, e, "alpha", "A", model.OutcomeWrongAnswer, 10)
	record(t, e, "alpha", "A", model.OutcomeTimeLimit, 20)
	record(t, e, "alpha", "A", model.OutcomeAccepted, 45)
	// Attempts after the accept change nothing.
	record(t, e, "alpha", "A", model.OutcomeWrongAnswer, 50)

	rows, err := e.Standings(context.Background(), "c1", false)
	if err != nil {
		t.Fatalf("standings: %v", err)
	}
	row := findRow(t, rows, "alpha")
	if row.Solved != 1 {
		t.Fatalf("expected 1 solved, got %d", row.Solved)
	}
	if want := 45 + 2*20; row.Penalty != want {
		t.Fatalf("expected penalty %d, got %d", want, row.Penalty)
	}
	if cell := row.Problems["A"]; cell.Attempts != 3 {
		t.Fatalf("expected 3 counted attempts, got %d", cell.Attempts)
	}
}

func TestCompileErrorsAreFree(t *testing.T) {
	e := newEngine(t, scoring.Contest{ID: "c1", StartTime: contestStart})

	record(t, e, "alpha", "A", model.OutcomeCompileError, 5)
	record(t, e, "alpha", "A", model.OutcomeAccepted, 30)

	rows, _ := e.Standings(context.Background(), "c1", false)
	row := findRow(t, rows, "alpha")
	if row.Penalty != 30 {
		t.Fatalf("compile error must not add penalty: got %d", row.Penalty)
	}
}

func TestUnsolvedProblemAddsNoPenalty(t *testing.T) {
	e := newEngine(t, scoring.Contest{ID: "c1", StartTime: contestStart})

	record(t, e, "alpha", "A", model.OutcomeAccepted, 15)
	record(t, e, "alpha", "B", model.OutcomeWrongAnswer, 40)
	record(t, e, "alpha", "B", model.OutcomeWrongAnswer, 60)

	rows, _ := e.Standings(context.Background(), "c1", false)
	row := findRow(t, rows, "alpha")
	if row.Solved != 1 || row.Penalty != 15 {
		t.Fatalf("expected 1 solved / 15 penalty, got %d / %d", row.Solved, row.Penalty)
	}
}

func TestCompetitionRanking(t *testing.T) {
	e := newEngine(t, scoring.Contest{ID: "c1", StartTime: contestStart})

	// alpha and beta tie on 1 solved / 30 penalty; gamma trails.
	record(t, e, "alpha", "A", model.OutcomeAccepted, 30)
	record(t, e, "beta", "B", model.OutcomeAccepted, 30)
	record(t, e, "gamma", "A", model.OutcomeAccepted, 90)

	rows, err := e.Standings(context.Background(), "c1", false)
	if err != nil {
		t.Fatalf("standings: %v", err)
	}
	if findRow(t, rows, "alpha").Rank != 1 || findRow(t, rows, "beta").Rank != 1 {
		t.Fatalf("tied teams must share rank 1: %+v", rows)
	}
	if findRow(t, rows, "gamma").Rank != 3 {
		t.Fatalf("team after a two-way tie gets rank 3, got %d", findRow(t, rows, "gamma").Rank)
	}
}

func TestFreezeHidesLateVerdicts(t *testing.T) {
	freeze := contestStart.Add(60 * time.Minute)
	e := newEngine(t, scoring.Contest{ID: "c1", StartTime: contestStart, FreezeTime: freeze})

	record(t, e, "alpha", "A", model.OutcomeAccepted, 30)

	before, err := e.Standings(context.Background(), "c1", true)
	if err != nil {
		t.Fatalf("standings: %v", err)
	}

	// Verdicts landing after the freeze must not change the frozen view.
	record(t, e, "alpha", "B", model.OutcomeAccepted, 70)
	record(t, e, "beta", "A", model.OutcomeAccepted, 65)

	after, err := e.Standings(context.Background(), "c1", true)
	if err != nil {
		t.Fatalf("standings: %v", err)
	}

	rowBefore := findRow(t, before, "alpha")
	rowAfter := findRow(t, after, "alpha")
	if rowAfter.Solved != rowBefore.Solved || rowAfter.Penalty != rowBefore.Penalty {
		t.Fatalf("frozen board changed: before %+v after %+v", rowBefore, rowAfter)
	}
	if rowAfter.Problems["B"].Pending != 1 {
		t.Fatalf("late verdict should show as pending, got %+v", rowAfter.Problems["B"])
	}

	// The unfrozen board sees everything.
	full, _ := e.Standings(context.Background(), "c1", false)
	if findRow(t, full, "alpha").Solved != 2 {
		t.Fatalf("unfrozen board must include late verdicts: %+v", full)
	}
}

func TestFreezeBoundaryIsInclusive(t *testing.T) {
	freeze := contestStart.Add(60 * time.Minute)
	e := newEngine(t, scoring.Contest{ID: "c1", StartTime: contestStart, FreezeTime: freeze})

	// Judged exactly at the freeze instant: still visible.
	record(t, e, "alpha", "A", model.OutcomeAccepted, 60)
	// One minute later: hidden.
	record(t, e, "alpha", "B", model.OutcomeAccepted, 61)

	rows, err := e.Standings(context.Background(), "c1", true)
	if err != nil {
		t.Fatalf("standings: %v", err)
	}
	row := findRow(t, rows, "alpha")
	if row.Solved != 1 || row.Penalty != 60 {
		t.Fatalf("verdict at the freeze instant must count: got %d solved / %d penalty", row.Solved, row.Penalty)
	}
	if cell := row.Problems["A"]; !cell.Solved || cell.Pending != 0 {
		t.Fatalf("expected A solved with nothing pending, got %+v", cell)
	}
	if cell := row.Problems["B"]; cell.Solved || cell.Pending != 1 {
		t.Fatalf("expected B pending, got %+v", cell)
	}
}

func TestStandingsUnknownContest(t *testing.T) {
	e := scoring.NewEngine(nil, nil)
	if _, err := e.Standings(context.Background(), "nope", false); !appErr.Is(err, appErr.ContestNotFound) {
		t.Fatalf("expected ContestNotFound, got %v", err)
	}
}

func TestConcurrentRecording(t *testing.T) {
	e := newEngine(t, scoring.Contest{ID: "c1", StartTime: contestStart})

	var wg sync.WaitGroup
	teams := []string{"t1", "t2", "t3", "t4"}
	errs := make(chan error, len(teams)*2)
	submit := func(team string, verdict model.Outcome, minute int) {
		at := contestStart.Add(time.Duration(minute) * time.Minute)
		errs <- e.RecordSubmission(context.Background(), &model.Submission{
			ContestID: "c1", TeamID: team, ProblemID: "A",
			Verdict: verdict, JudgedAt: &at,
		})
	}
	for _, team := range teams {
		team := team
		wg.Add(1)
		go func() {
			defer wg.Done()
			submit(team, model.OutcomeWrongAnswer, 10)
			submit(team, model.OutcomeAccepted, 20)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("record submission: %v", err)
		}
	}

	rows, err := e.Standings(context.Background(), "c1", false)
	if err != nil {
		t.Fatalf("standings: %v", err)
	}
	if len(rows) != len(teams) {
		t.Fatalf("expected %d rows, got %d", len(teams), len(rows))
	}
	for _, row := range rows {
		if row.Solved != 1 || row.Penalty != 40 {
			t.Fatalf("team %s: expected 1 solved / 40 penalty, got %d / %d", row.TeamID, row.Solved, row.Penalty)
		}
	}
}
