package version

import (
	"runtime"
	"strings"
	"testing"
)

func TestString(t *testing.T) {
	// Save original values
	origVersion := Version
	origCommit := GitCommit
	origBuildTime := BuildTime

	// Restore after test
	defer func() {
		Version = origVersion
		GitCommit = origCommit
		BuildTime = origBuildTime
	}()

	Version = "1.2.3"
	GitCommit = "abc123"
	BuildTime = "2026-01-01"

	result := String()
	if !strings.Contains(result, "Flywheel") {
		t.Errorf("expected version string to contain product name, got %q", result)
	}
	if !strings.Contains(result, "1.2.3") {
		t.Errorf("expected version string to contain version, got %q", result)
	}
	if !strings.Contains(result, "abc123") {
		t.Errorf("expected version string to contain commit, got %q", result)
	}
}

func TestInfo(t *testing.T) {
	info := Info()

	if info["goVersion"] != runtime.Version() {
		t.Errorf("expected goVersion %q, got %q", runtime.Version(), info["goVersion"])
	}
	if info["platform"] == "" {
		t.Error("expected platform to be set")
	}
	if info["version"] == "" {
		t.Error("expected version to be set")
	}
}
