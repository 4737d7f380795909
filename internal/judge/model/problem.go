package model

// ScoringMode selects how per-case outcomes aggregate into a verdict.
type ScoringMode string

const (
	// ScoringICPC is all-or-nothing: first failing case decides the verdict.
	ScoringICPC ScoringMode = "icpc"
	// ScoringPartial sums per-case points; every case runs.
	ScoringPartial ScoringMode = "partial"
)

// IOMode selects how a test case feeds and checks the program.
type IOMode string

const (
	// IOModeStdin is a raw stdin/stdout pair.
	IOModeStdin IOMode = "stdin"
	// IOModeParams is a structured parameters/expected-return pair judged
	// through the per-language wrapper template.
	IOModeParams IOMode = "params"
)

// Problem carries everything the judge core needs to run one submission.
// CRUD on problems lives in the external layer; the core only reads.
type Problem struct {
	ID          string      `json:"id"`
	Title       string      `json:"title"`
	ScoringMode ScoringMode `json:"scoring_mode"`
	IOMode      IOMode      `json:"io_mode"`

	Limits ResourceLimits `json:"limits"`

	// FunctionName and per-language template overrides, used only when
	// IOMode is params. Empty entries fall back to registry defaults.
	FunctionName string            `json:"function_name,omitempty"`
	Wrappers     map[string]string `json:"wrappers,omitempty"`
	Signatures   map[string]string `json:"signatures,omitempty"`

	TestCases []TestCase `json:"test_cases"`

	// DataPack optionally references a compressed archive of large test
	// files in object storage.
	DataPack *DataPackRef `json:"data_pack,omitempty"`
}

// TestCase belongs to exactly one problem.
// Non-sample cases must carry a non-empty expected output.
type TestCase struct {
	Ordinal  int    `json:"ordinal"`
	Input    string `json:"input"`
	Expected string `json:"expected"`

	// Params/ExpectedReturn are used instead of Input/Expected when the
	// problem is parameter-based. DeclaredType drives numeric tolerance.
	Params         string `json:"params,omitempty"`
	ExpectedReturn string `json:"expected_return,omitempty"`
	DeclaredType   string `json:"declared_type,omitempty"`

	IsSample bool `json:"is_sample"`
	Points   int  `json:"points"`

	// Per-case overrides; zero means inherit the problem limit.
	TimeLimitMS   int64 `json:"time_limit_ms,omitempty"`
	MemoryLimitKB int64 `json:"memory_limit_kb,omitempty"`
}

// EffectiveLimits resolves the per-case limits against the problem defaults.
func (tc TestCase) EffectiveLimits(defaults ResourceLimits) ResourceLimits {
	limits := defaults
	if tc.TimeLimitMS > 0 {
		limits.TimeLimitMS = tc.TimeLimitMS
	}
	if tc.MemoryLimitKB > 0 {
		limits.MemoryLimitKB = tc.MemoryLimitKB
	}
	return limits
}

// DataPackRef points at a zstd-compressed tar of test data in object storage.
type DataPackRef struct {
	Bucket    string `json:"bucket"`
	ObjectKey string `json:"object_key"`
	SHA256    string `json:"sha256"`
	SizeBytes int64  `json:"size_bytes"`
}
