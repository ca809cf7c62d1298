package util

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDict(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dict.txt")
	require.NoError(t, os.WriteFile(path, []byte("a\r\nb\n\nc\n"), 0o644))

	lines, err := LoadDict(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "", "c"}, lines)
}

func TestLoadDict_Missing(t *testing.T) {
	_, err := LoadDict(filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
}

func TestParseFloats(t *testing.T) {
	values, skipped, err := ParseFloats(strings.NewReader("0.1\n\n  0.25 \nabc\n3e-2\n"))
	require.NoError(t, err)
	assert.Equal(t, []float64{0.1, 0.25, 0.03}, values)
	assert.Equal(t, 1, skipped)
}

func TestParseFloats_SkipsNonFinite(t *testing.T) {
	values, skipped, err := ParseFloats(strings.NewReader("NaN\n0.2\n+Inf\n-inf\n0.1\n"))
	require.NoError(t, err)
	assert.Equal(t, []float64{0.2, 0.1}, values)
	assert.Equal(t, 3, skipped)
}
