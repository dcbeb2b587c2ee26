package context

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetVersion(t *testing.T) {
	t.Parallel()

	vi, err := GetVersion()
	require.NoError(t, err)
	assert.NotEmpty(t, vi.Semantic)
	assert.Contains(t, vi.String(), vi.Go)
}

func TestVersionInfoString(t *testing.T) {
	t.Parallel()

	vi := &VersionInfo{Semantic: "v1.2.0", Commit: "0123456789abcdef", Dirty: true, Go: "go1.24.2"}
	assert.Equal(t, "v1.2.0 (0123456789ab-dirty), go1.24.2", vi.String())

	vi = &VersionInfo{Semantic: "v1.2.0", Go: "go1.24.2"}
	assert.Equal(t, "v1.2.0, go1.24.2", vi.String())
}
