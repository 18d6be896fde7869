package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func restore(t *testing.T) {
	v, bt, gc, gv := Version, BuildTime, GitCommit, GoVersion
	t.Cleanup(func() {
		Version, BuildTime, GitCommit, GoVersion = v, bt, gc, gv
	})
}

func TestSetInfo(t *testing.T) {
	restore(t)

	SetInfo("1.0.0", "2026-01-01T00:00:00Z", "abc123", "go1.26")

	assert.Equal(t, "1.0.0", Version)
	assert.Equal(t, "2026-01-01T00:00:00Z", BuildTime)
	assert.Equal(t, "abc123", GitCommit)
	assert.Equal(t, "go1.26", GoVersion)
}

func TestSetInfoEmptyValues(t *testing.T) {
	restore(t)
	Version = "test-version"

	SetInfo("", "", "", "")

	assert.Equal(t, "test-version", Version)
}

func TestSummaryAndDetails(t *testing.T) {
	restore(t)
	SetInfo("1.2.3", "2026-06-15T10:30:00Z", "deadbeef", "go1.26")

	assert.Equal(t, "simcron 1.2.3 (commit deadbeef, built 2026-06-15T10:30:00Z, go1.26)", Summary())
	assert.Contains(t, Details(), "Version: 1.2.3")
	assert.Contains(t, Details(), "Git Commit: deadbeef")
}
