//go:build linux

package engine

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"gavel/internal/judge/sandbox/spec"
)

func durationFromMs(ms int64) time.Duration {
	if ms <= 0 {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}

func cpuTimeMs(state *os.ProcessState) int64 {
	if state == nil {
		return 0
	}
	if usage, ok := state.SysUsage().(*syscall.Rusage); ok {
		user := time.Duration(usage.Utime.Sec)*time.Second + time.Duration(usage.Utime.Usec)*time.Microsecond
		sys := time.Duration(usage.Stime.Sec)*time.Second + time.Duration(usage.Stime.Usec)*time.Microsecond
		return (user + sys).Milliseconds()
	}
	return 0
}

func stdoutSizeKB(path string) int64 {
	if path == "" {
		return 0
	}
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size() / 1024
}

// readLimitedFile reads at most maxBytes from path and reports whether the
// file held more than that.
func readLimitedFile(path string, maxBytes int64) (string, bool) {
	if path == "" {
		return "", false
	}
	file, err := os.Open(path)
	if err != nil {
		return "", false
	}
	defer file.Close()
	data, err := io.ReadAll(io.LimitReader(file, maxBytes))
	if err != nil {
		return "", false
	}
	truncated := false
	if info, err := file.Stat(); err == nil && info.Size() > maxBytes {
		truncated = true
	}
	return string(data), truncated
}

// resolveHostPath maps a path inside the sandbox back to its host location
// through the bind mount table. Paths already outside the mounts (or when
// namespaces are off) pass through unchanged.
func resolveHostPath(path string, runSpec spec.RunSpec) string {
	if path == "" {
		return ""
	}
	for _, mount := range runSpec.BindMounts {
		if mount.Target == "" || mount.Source == "" {
			continue
		}
		if path == mount.Target {
			return mount.Source
		}
		prefix := strings.TrimSuffix(mount.Target, "/") + "/"
		if strings.HasPrefix(path, prefix) {
			return filepath.Join(mount.Source, strings.TrimPrefix(path, prefix))
		}
	}
	return path
}
