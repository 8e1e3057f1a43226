package version

import "testing"

func TestString(t *testing.T) {
	Version, GitSHA, BuildTime = "v1.2.0", "abc1234", "2026-10-01T00:00:00Z"
	t.Cleanup(func() { Version, GitSHA, BuildTime = "dev", "unknown", "unknown" })

	if got, want := String(), "v1.2.0 (abc1234, built 2026-10-01T00:00:00Z)"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
