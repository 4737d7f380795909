package registry

import (
	"sort"

	"gavel/internal/judge/model"
	"gavel/pkg/errors"
)

// Language is one row of the static language table. Command templates use
// {src} and {bin} placeholders resolved inside the sandbox scratch dir.
type Language struct {
	ID         string `yaml:"id"`
	Name       string `yaml:"name"`
	Version    string `yaml:"version"`
	SourceFile string `yaml:"sourceFile"`
	BinaryFile string `yaml:"binaryFile"`

	// CompileCmd is empty for interpreted languages.
	CompileCmd string `yaml:"compileCmd"`
	RunCmd     string `yaml:"runCmd"`

	Env []string `yaml:"env"`

	// Interpreted runtimes get a longer effective deadline and more
	// memory headroom for the same nominal limit.
	TimeMultiplier   float64 `yaml:"timeMultiplier"`
	MemoryMultiplier float64 `yaml:"memoryMultiplier"`

	// Wrapper is the default I/O harness for parameter-based problems,
	// containing exactly one user-code marker. Signature is the
	// author-visible declaration with a placeholder body.
	Wrapper   string `yaml:"wrapper"`
	Signature string `yaml:"signature"`
}

// Compiled reports whether the language has a compile step.
func (l Language) Compiled() bool {
	return l.CompileCmd != ""
}

// Registry is the immutable language table, loaded once at startup.
type Registry struct {
	languages map[string]Language
	bounds    Bounds
}

// New builds a registry from the built-in table and optional overrides.
// Override entries replace built-ins with the same id.
func New(bounds Bounds, overrides ...Language) *Registry {
	languages := make(map[string]Language, len(builtinLanguages))
	for _, lang := range builtinLanguages {
		languages[lang.ID] = lang
	}
	for _, lang := range overrides {
		if lang.ID == "" {
			continue
		}
		if lang.TimeMultiplier <= 0 {
			lang.TimeMultiplier = 1
		}
		if lang.MemoryMultiplier <= 0 {
			lang.MemoryMultiplier = 1
		}
		languages[lang.ID] = lang
	}
	return &Registry{languages: languages, bounds: bounds.withDefaults()}
}

// Get returns the language for the given id.
func (r *Registry) Get(id string) (Language, error) {
	lang, ok := r.languages[id]
	if !ok {
		return Language{}, errors.Newf(errors.LanguageNotSupported, "language %q is not supported", id)
	}
	return lang, nil
}

// List returns all registered languages ordered by id.
func (r *Registry) List() []Language {
	out := make([]Language, 0, len(r.languages))
	for _, lang := range r.languages {
		out = append(out, lang)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Bounds returns the configured limit bounds.
func (r *Registry) Bounds() Bounds {
	return r.bounds
}

// ValidateSource rejects oversized source before any resource is scheduled.
func (r *Registry) ValidateSource(code string) error {
	if len(code) == 0 {
		return errors.New(errors.InvalidParams).WithMessage("source code is empty")
	}
	if int64(len(code)) > r.bounds.MaxSourceBytes {
		return errors.Newf(errors.CodeTooLarge, "source code is %d bytes, limit is %d", len(code), r.bounds.MaxSourceBytes)
	}
	return nil
}

// ValidateLimits rejects limits outside the registry bounds.
func (r *Registry) ValidateLimits(limits model.ResourceLimits) error {
	b := r.bounds
	if limits.TimeLimitMS < b.MinTimeMS || limits.TimeLimitMS > b.MaxTimeMS {
		return errors.Newf(errors.LimitOutOfBounds, "time limit %dms outside [%d, %d]", limits.TimeLimitMS, b.MinTimeMS, b.MaxTimeMS)
	}
	if limits.MemoryLimitKB < b.MinMemoryKB || limits.MemoryLimitKB > b.MaxMemoryKB {
		return errors.Newf(errors.LimitOutOfBounds, "memory limit %dKB outside [%d, %d]", limits.MemoryLimitKB, b.MinMemoryKB, b.MaxMemoryKB)
	}
	return nil
}

// ClampLimits forces limits into the registry bounds, filling zeros with
// the bound minimums.
func (r *Registry) ClampLimits(limits model.ResourceLimits) model.ResourceLimits {
	b := r.bounds
	if limits.TimeLimitMS < b.MinTimeMS {
		limits.TimeLimitMS = b.MinTimeMS
	}
	if limits.TimeLimitMS > b.MaxTimeMS {
		limits.TimeLimitMS = b.MaxTimeMS
	}
	if limits.MemoryLimitKB < b.MinMemoryKB {
		limits.MemoryLimitKB = b.MinMemoryKB
	}
	if limits.MemoryLimitKB > b.MaxMemoryKB {
		limits.MemoryLimitKB = b.MaxMemoryKB
	}
	return limits
}

// Bounds are the configurable validation limits for submissions.
type Bounds struct {
	MinTimeMS      int64 `yaml:"minTimeMS"`
	MaxTimeMS      int64 `yaml:"maxTimeMS"`
	MinMemoryKB    int64 `yaml:"minMemoryKB"`
	MaxMemoryKB    int64 `yaml:"maxMemoryKB"`
	MaxSourceBytes int64 `yaml:"maxSourceBytes"`
}

// DefaultBounds returns 1-30s, 32-512MB, 50KB source.
func DefaultBounds() Bounds {
	return Bounds{
		MinTimeMS:      1000,
		MaxTimeMS:      30000,
		MinMemoryKB:    32 * 1024,
		MaxMemoryKB:    512 * 1024,
		MaxSourceBytes: 50 * 1024,
	}
}

func (b Bounds) withDefaults() Bounds {
	d := DefaultBounds()
	if b.MinTimeMS <= 0 {
		b.MinTimeMS = d.MinTimeMS
	}
	if b.MaxTimeMS <= 0 {
		b.MaxTimeMS = d.MaxTimeMS
	}
	if b.MinMemoryKB <= 0 {
		b.MinMemoryKB = d.MinMemoryKB
	}
	if b.MaxMemoryKB <= 0 {
		b.MaxMemoryKB = d.MaxMemoryKB
	}
	if b.MaxSourceBytes <= 0 {
		b.MaxSourceBytes = d.MaxSourceBytes
	}
	return b
}
