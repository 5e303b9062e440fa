package envutil

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteAndLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, WriteDotEnv(path, map[string]string{
		"TIFFIN_TEST_ADDR": ":9090",
		"TIFFIN_TEST_NAME": "morning meals",
	}, false))

	err := WriteDotEnv(path, map[string]string{"X": "1"}, false)
	assert.Error(t, err, "existing file must not be overwritten without force")

	t.Setenv("TIFFIN_TEST_ADDR", ":7000")
	require.NoError(t, LoadDotEnv(path))
	t.Cleanup(func() { _ = os.Unsetenv("TIFFIN_TEST_NAME") })

	assert.Equal(t, ":7000", os.Getenv("TIFFIN_TEST_ADDR"), "existing variables win")
	assert.Equal(t, "morning meals", os.Getenv("TIFFIN_TEST_NAME"))
}

func TestLoadDotEnvMissingFile(t *testing.T) {
	assert.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), "missing.env")))
}

func TestTypedGetters(t *testing.T) {
	t.Setenv("TIFFIN_TEST_TTL", "90m")
	t.Setenv("TIFFIN_TEST_BAD_TTL", "soon")
	t.Setenv("TIFFIN_TEST_JSON", "true")

	assert.Equal(t, 90*time.Minute, Duration("TIFFIN_TEST_TTL", time.Hour))
	assert.Equal(t, time.Hour, Duration("TIFFIN_TEST_BAD_TTL", time.Hour))
	assert.True(t, Bool("TIFFIN_TEST_JSON", false))
	assert.Equal(t, "fallback", String("TIFFIN_TEST_UNSET", "fallback"))
}
