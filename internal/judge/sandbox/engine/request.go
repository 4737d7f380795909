package engine

import (
	"gavel/internal/judge/sandbox/security"
	"gavel/internal/judge/sandbox/spec"
)

// initRequest is the wire format fed to the sandbox-init helper on stdin.
// cmd/sandbox-init keeps a mirrored copy of this structure.
type initRequest struct {
	RunSpec       spec.RunSpec
	Isolation     security.IsolationProfile
	EnableSeccomp bool
	EnableCgroup  bool
	EnableNs      bool
}
