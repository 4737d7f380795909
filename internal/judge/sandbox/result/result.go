// Package result defines raw sandbox execution results.
package result

// RunResult captures raw data from one sandboxed process run.
// Outcome mapping happens in the runner, not here.
type RunResult struct {
	ExitCode   int
	TimeMs     int64
	WallTimeMs int64
	MemoryKB   int64
	OutputKB   int64

	// Stdout/Stderr are truncated at the engine's byte ceiling; the
	// truncation flags record whether anything was dropped.
	Stdout          string
	Stderr          string
	StdoutTruncated bool
	StderrTruncated bool

	OomKilled bool
}

// CompileResult contains the outcome of a compile step.
type CompileResult struct {
	OK          bool
	ExitCode    int
	TimeMs      int64
	MemoryKB    int64
	Diagnostics string
	Truncated   bool
}
