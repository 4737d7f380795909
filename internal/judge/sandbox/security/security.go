// Package security defines isolation profiles applied to sandboxed processes.
package security

import "fmt"

// IsolationProfile describes the security envelope for one task type.
type IsolationProfile struct {
	// RootFS is the host path bind-mounted read-only as the sandbox root.
	RootFS string
	// SeccompProfile is a file of newline-separated syscall rules applied
	// by the in-sandbox init helper. Empty means the built-in default set.
	SeccompProfile string
	// DisableNetwork adds a network namespace with no interfaces.
	DisableNetwork bool
}

// Profile names used by the judge core.
const (
	ProfileCompile = "compile"
	ProfileRun     = "run"
)

// Resolver maps profile names to isolation profiles.
type Resolver struct {
	profiles map[string]IsolationProfile
}

// NewResolver creates a resolver over a static profile table.
func NewResolver(profiles map[string]IsolationProfile) *Resolver {
	copied := make(map[string]IsolationProfile, len(profiles))
	for name, p := range profiles {
		copied[name] = p
	}
	return &Resolver{profiles: copied}
}

// DefaultProfiles returns the standard compile/run profile pair for the
// given rootfs. Both deny network; compile keeps a wider syscall surface.
func DefaultProfiles(rootFS string) map[string]IsolationProfile {
	return map[string]IsolationProfile{
		ProfileCompile: {
			RootFS:         rootFS,
			SeccompProfile: "compile.seccomp",
			DisableNetwork: true,
		},
		ProfileRun: {
			RootFS:         rootFS,
			SeccompProfile: "run.seccomp",
			DisableNetwork: true,
		},
	}
}

// Resolve returns the isolation profile for a name.
func (r *Resolver) Resolve(profile string) (IsolationProfile, error) {
	p, ok := r.profiles[profile]
	if !ok {
		return IsolationProfile{}, fmt.Errorf("unknown isolation profile %q", profile)
	}
	return p, nil
}
