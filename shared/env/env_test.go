package env

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadEnvFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("CURVE_WATCH_TEST_VAR=hello\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("CURVE_WATCH_TEST_VAR") })

	LoadEnv(path)
	assert.Equal(t, "hello", os.Getenv("CURVE_WATCH_TEST_VAR"))
}

func TestLoadEnvMissingFileIsFine(t *testing.T) {
	assert.NotPanics(t, func() { LoadEnv(filepath.Join(t.TempDir(), "nope.env")) })
}

func TestLoadEnvVariableTrims(t *testing.T) {
	t.Setenv("CURVE_WATCH_TRIM", "  v  ")
	assert.Equal(t, "v", loadEnvVariable("CURVE_WATCH_TRIM", false))
	assert.Equal(t, "", loadEnvVariable("CURVE_WATCH_UNSET_VAR", true))
}
