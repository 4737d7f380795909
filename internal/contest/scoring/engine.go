// Package scoring maintains live contest standings: ICPC penalty time,
// competition ranking and the scoreboard freeze window.
package scoring

import (
	"context"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"gavel/internal/common/cache"
	"gavel/internal/judge/model"
	appErr "gavel/pkg/errors"
	"gavel/pkg/utils/logger"
)

// DefaultPenaltyPerReject is the classic ICPC charge, in minutes, for
// each failed attempt before the first accepted one.
const DefaultPenaltyPerReject = 20

const standingsKeyPrefix = "standings:"

// Contest is the scoring configuration of one contest.
type Contest struct {
	ID        string
	StartTime time.Time

	// FreezeTime hides verdicts judged after it from the public board;
	// a verdict judged exactly at the freeze instant is still shown.
	// Zero means the board never freezes.
	FreezeTime time.Time

	// PenaltyPerReject overrides the 20 minute default when positive.
	PenaltyPerReject int
}

func (c Contest) penaltyPerReject() int {
	if c.PenaltyPerReject > 0 {
		return c.PenaltyPerReject
	}
	return DefaultPenaltyPerReject
}

// ProblemCell is one team's state on one problem as shown on the board.
type ProblemCell struct {
	ProblemID string `json:"problem_id"`
	Solved    bool   `json:"solved"`
	// Attempts counts judged tries up to and including the solving one.
	Attempts int `json:"attempts"`
	// PenaltyMinutes is this problem's contribution to the team total;
	// zero unless solved.
	PenaltyMinutes int `json:"penalty_minutes"`
	// Pending counts verdicts hidden by the freeze.
	Pending int `json:"pending"`
}

// Row is one team's scoreboard line.
type Row struct {
	Rank     int                    `json:"rank"`
	TeamID   string                 `json:"team_id"`
	Solved   int                    `json:"solved"`
	Penalty  int                    `json:"penalty"`
	Problems map[string]ProblemCell `json:"problems"`
}

// attempt is one judged submission in arrival order.
type attempt struct {
	verdict  model.Outcome
	judgedAt time.Time
}

type teamState struct {
	problems map[string][]attempt
}

type contestState struct {
	contest Contest
	teams   map[string]*teamState
}

// Publisher is the slice of the event publisher the engine needs.
type Publisher interface {
	PublishStandingsUpdated(ctx context.Context, contestID, teamID string) error
}

const lockStripes = 32

// Engine accumulates judged submissions and serves standings. State is
// partitioned per contest; a striped mutex keeps concurrent verdicts for
// different contests from serializing on one lock.
type Engine struct {
	stripes [lockStripes]sync.Mutex

	mu       sync.RWMutex
	contests map[string]*contestState

	cache     cache.Cache
	publisher Publisher
}

// NewEngine creates a scoring engine. cache and publisher may be nil;
// the engine then skips the scoreboard snapshot and event emission.
func NewEngine(cacheClient cache.Cache, publisher Publisher) *Engine {
	return &Engine{
		contests:  make(map[string]*contestState),
		cache:     cacheClient,
		publisher: publisher,
	}
}

func (e *Engine) stripe(contestID string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(contestID))
	return &e.stripes[h.Sum32()%lockStripes]
}

// RegisterContest makes a contest known to the engine. Re-registering
// replaces the configuration but keeps recorded attempts.
func (e *Engine) RegisterContest(contest Contest) error {
	if contest.ID == "" {
		return appErr.ValidationError("contest_id", "required")
	}
	if contest.StartTime.IsZero() {
		return appErr.ValidationError("start_time", "required")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if state, ok := e.contests[contest.ID]; ok {
		state.contest = contest
		return nil
	}
	e.contests[contest.ID] = &contestState{
		contest: contest,
		teams:   make(map[string]*teamState),
	}
	return nil
}

func (e *Engine) state(contestID string) (*contestState, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	state, ok := e.contests[contestID]
	if !ok {
		return nil, appErr.Newf(appErr.ContestNotFound, "contest %s is not registered", contestID)
	}
	return state, nil
}

// RecordSubmission folds one judged submission into the standings.
// Compile errors never count as attempts; neither do judge-side failures.
func (e *Engine) RecordSubmission(ctx context.Context, sub *model.Submission) error {
	if sub == nil || sub.ContestID == "" {
		return appErr.ValidationError("contest_id", "required")
	}
	if sub.TeamID == "" || sub.ProblemID == "" {
		return appErr.ValidationError("team_id/problem_id", "required")
	}
	if sub.JudgedAt == nil {
		return appErr.ValidationError("judged_at", "required")
	}
	if sub.Verdict == model.OutcomeCompileError || sub.Verdict == model.OutcomeInternalError {
		return nil
	}

	state, err := e.state(sub.ContestID)
	if err != nil {
		return err
	}

	lock := e.stripe(sub.ContestID)
	lock.Lock()
	team, ok := state.teams[sub.TeamID]
	if !ok {
		team = &teamState{problems: make(map[string][]attempt)}
		state.teams[sub.TeamID] = team
	}
	team.problems[sub.ProblemID] = append(team.problems[sub.ProblemID], attempt{
		verdict:  sub.Verdict,
		judgedAt: *sub.JudgedAt,
	})
	solved, penalty := tally(state.contest, team, time.Time{})
	lock.Unlock()

	e.snapshot(ctx, sub.ContestID, sub.TeamID, solved, penalty)
	if e.publisher != nil {
		if err := e.publisher.PublishStandingsUpdated(ctx, sub.ContestID, sub.TeamID); err != nil {
			logger.Warn(ctx, "publish standings event failed",
				zap.String("contest_id", sub.ContestID), zap.Error(err))
		}
	}
	return nil
}

// snapshot mirrors the team's score into the contest sorted set so
// external readers get cheap top-N queries without holding engine locks.
// Score orders by solved count first, then by lower penalty.
func (e *Engine) snapshot(ctx context.Context, contestID, teamID string, solved, penalty int) {
	if e.cache == nil {
		return
	}
	score := float64(solved)*1e6 - float64(penalty)
	err := e.cache.ZAdd(ctx, standingsKeyPrefix+contestID, cache.ZMember{
		Score:  score,
		Member: teamID,
	})
	if err != nil {
		logger.Warn(ctx, "standings snapshot failed",
			zap.String("contest_id", contestID), zap.Error(err))
	}
}

// Standings computes the scoreboard. With frozen true, verdicts judged
// after the contest freeze time are hidden and shown as pending;
// the visible rows are identical no matter how many frozen verdicts have
// arrived since.
func (e *Engine) Standings(ctx context.Context, contestID string, frozen bool) ([]Row, error) {
	state, err := e.state(contestID)
	if err != nil {
		return nil, err
	}

	cutoff := time.Time{}
	if frozen && !state.contest.FreezeTime.IsZero() {
		cutoff = state.contest.FreezeTime
	}

	lock := e.stripe(contestID)
	lock.Lock()
	rows := make([]Row, 0, len(state.teams))
	for teamID, team := range state.teams {
		row := Row{TeamID: teamID, Problems: make(map[string]ProblemCell, len(team.problems))}
		for problemID, attempts := range team.problems {
			cell := problemCell(state.contest, problemID, attempts, cutoff)
			row.Problems[problemID] = cell
			if cell.Solved {
				row.Solved++
				row.Penalty += cell.PenaltyMinutes
			}
		}
		rows = append(rows, row)
	}
	lock.Unlock()

	rank(rows)
	return rows, nil
}

// tally computes a single team's solved count and total penalty.
func tally(contest Contest, team *teamState, cutoff time.Time) (int, int) {
	solved, penalty := 0, 0
	for problemID, attempts := range team.problems {
		cell := problemCell(contest, problemID, attempts, cutoff)
		if cell.Solved {
			solved++
			penalty += cell.PenaltyMinutes
		}
	}
	return solved, penalty
}

// problemCell folds one problem's attempts. Attempts after the first
// accepted one are ignored entirely; attempts judged after the cutoff
// are pending.
func problemCell(contest Contest, problemID string, attempts []attempt, cutoff time.Time) ProblemCell {
	cell := ProblemCell{ProblemID: problemID}
	rejects := 0
	for _, a := range attempts {
		if !cutoff.IsZero() && a.judgedAt.After(cutoff) {
			cell.Pending++
			continue
		}
		if cell.Solved {
			continue
		}
		cell.Attempts++
		if a.verdict == model.OutcomeAccepted {
			cell.Solved = true
			minutes := int(a.judgedAt.Sub(contest.StartTime) / time.Minute)
			if minutes < 0 {
				minutes = 0
			}
			cell.PenaltyMinutes = minutes + rejects*contest.penaltyPerReject()
		} else {
			rejects++
		}
	}
	return cell
}

// rank sorts rows and assigns competition ranking: ties share a rank and
// the team after a tie gets its one-based position, not the next rank.
func rank(rows []Row) {
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Solved != rows[j].Solved {
			return rows[i].Solved > rows[j].Solved
		}
		if rows[i].Penalty != rows[j].Penalty {
			return rows[i].Penalty < rows[j].Penalty
		}
		return rows[i].TeamID < rows[j].TeamID
	})
	for i := range rows {
		if i > 0 && rows[i].Solved == rows[i-1].Solved && rows[i].Penalty == rows[i-1].Penalty {
			rows[i].Rank = rows[i-1].Rank
			continue
		}
		rows[i].Rank = i + 1
	}
}
