// Package verdict compares program output against expected answers and
// aggregates per-case outcomes into a submission-level verdict.
package verdict

import (
	"encoding/json"
	"math"
	"strings"

	"gavel/internal/judge/model"
)

// Judgment is the submission-level aggregate.
type Judgment struct {
	Outcome model.Outcome
	Points  int
	Passed  int
	Total   int
}

// Normalize applies the output comparison contract: trailing spaces, tabs
// and carriage returns are stripped from every line, trailing blank lines
// are dropped, and internal whitespace is never collapsed.
func Normalize(s string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t\r")
	}
	end := len(lines)
	for end > 0 && lines[end-1] == "" {
		end--
	}
	return strings.Join(lines[:end], "\n")
}

// CompareOutput checks a raw stdin/stdout case.
func CompareOutput(expected, produced string) bool {
	return Normalize(expected) == Normalize(produced)
}

const floatTolerance = 1e-6

// CompareReturn checks a parameter/return case by type-aware equality.
// Both sides are parsed as JSON; numeric comparison uses an absolute
// tolerance only when the case declares a floating type, and falls back
// to exact text comparison when either side is not valid JSON.
func CompareReturn(expected, produced, declaredType string) bool {
	var want, got interface{}
	if err := json.Unmarshal([]byte(strings.TrimSpace(expected)), &want); err != nil {
		return strings.TrimSpace(expected) == strings.TrimSpace(produced)
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(produced)), &got); err != nil {
		return false
	}
	return equalValue(want, got, isFloatingType(declaredType))
}

func isFloatingType(declaredType string) bool {
	switch strings.ToLower(strings.TrimSpace(declaredType)) {
	case "float", "float32", "float64", "double", "float[]", "double[]":
		return true
	default:
		return false
	}
}

func equalValue(want, got interface{}, floating bool) bool {
	switch w := want.(type) {
	case float64:
		g, ok := got.(float64)
		if !ok {
			return false
		}
		if floating {
			return math.Abs(w-g) <= floatTolerance
		}
		return w == g
	case []interface{}:
		g, ok := got.([]interface{})
		if !ok || len(w) != len(g) {
			return false
		}
		for i := range w {
			if !equalValue(w[i], g[i], floating) {
				return false
			}
		}
		return true
	case map[string]interface{}:
		g, ok := got.(map[string]interface{})
		if !ok || len(w) != len(g) {
			return false
		}
		for key, wv := range w {
			gv, exists := g[key]
			if !exists || !equalValue(wv, gv, floating) {
				return false
			}
		}
		return true
	default:
		return want == got
	}
}

// Aggregate folds per-case results into the submission verdict.
//
// ICPC: the first failing case decides the outcome; points are binary.
// Partial: the worst outcome is reported, points sum over passed cases.
func Aggregate(results []model.CaseResult, mode model.ScoringMode) Judgment {
	j := Judgment{Outcome: model.OutcomeAccepted, Total: len(results)}

	maxPoints := 0
	for _, r := range results {
		maxPoints += r.Points
		if r.Passed {
			j.Passed++
		}
	}

	switch mode {
	case model.ScoringPartial:
		points := 0
		for _, r := range results {
			if r.Passed {
				points += r.Points
			} else if worseThan(r.Outcome, j.Outcome) {
				j.Outcome = r.Outcome
			}
		}
		j.Points = points
	default:
		for _, r := range results {
			if !r.Passed {
				j.Outcome = r.Outcome
				j.Points = 0
				return j
			}
		}
		j.Points = maxPoints
	}
	return j
}

// worseThan orders outcomes by severity for the partial-mode summary tag.
var outcomeSeverity = map[model.Outcome]int{
	model.OutcomeAccepted:      0,
	model.OutcomeWrongAnswer:   1,
	model.OutcomeOutputLimit:   2,
	model.OutcomeTimeLimit:     3,
	model.OutcomeMemoryLimit:   4,
	model.OutcomeRuntimeError:  5,
	model.OutcomeCompileError:  6,
	model.OutcomeInternalError: 7,
}

func worseThan(a, b model.Outcome) bool {
	return outcomeSeverity[a] > outcomeSeverity[b]
}
