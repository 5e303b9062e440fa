package tiffincli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestSetupWritesEnvFile(t *testing.T) {
	envFile := filepath.Join(t.TempDir(), ".env")

	_, err := execute(t, "setup", "--env-file", envFile)
	require.ErrorContains(t, err, "--admin-password is required")

	_, err = execute(t, "setup", "--env-file", envFile, "--admin-password", "short")
	require.ErrorContains(t, err, "invalid admin password")

	out, err := execute(t, "setup", "--env-file", envFile, "--admin-password", "a-long-password", "--data-dir", "/var/lib/tiffin")
	require.NoError(t, err)
	assert.Contains(t, out, "wrote "+envFile)

	values, err := godotenv.Read(envFile)
	require.NoError(t, err)
	assert.Equal(t, "admin", values["ADMIN_USERNAME"])
	assert.Equal(t, "/var/lib/tiffin", values["DATA_DIR"])
	assert.Equal(t, "Asia/Kolkata", values["TIME_ZONE"])

	info, err := os.Stat(envFile)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	_, err = execute(t, "setup", "--env-file", envFile, "--admin-password", "a-long-password")
	require.ErrorContains(t, err, "already exists")
}

func TestRunRejectsUnknownTarget(t *testing.T) {
	t.Setenv("LOG_LEVEL", "error")
	_, err := execute(t, "run", "worker", "--env-file", filepath.Join(t.TempDir(), "missing.env"))
	require.Error(t, err)
}

func TestBackupRestoreAndBills(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, "missing.env")
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("DATA_DIR", filepath.Join(dir, "data"))

	out, err := execute(t, "bills", "generate", "--month", "2024-03", "--env-file", envFile)
	require.NoError(t, err)
	assert.Contains(t, out, "generated 0 bills for 2024-03")

	_, err = execute(t, "bills", "generate", "--month", "March", "--env-file", envFile)
	require.Error(t, err)

	backup := filepath.Join(dir, "store.bak.xz")
	_, err = execute(t, "backup", "--out", backup, "--env-file", envFile)
	require.NoError(t, err)
	info, err := os.Stat(backup)
	require.NoError(t, err)
	assert.Positive(t, info.Size())

	_, err = execute(t, "backup", "--out", backup, "--env-file", envFile)
	require.Error(t, err, "existing backups are never overwritten")

	t.Setenv("DATA_DIR", filepath.Join(dir, "restored"))
	out, err = execute(t, "restore", "--in", backup, "--env-file", envFile)
	require.NoError(t, err)
	assert.Contains(t, out, "restored")
}

func TestMenuImportRequiresKnownVendor(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("DATA_DIR", filepath.Join(dir, "data"))
	menu := filepath.Join(dir, "menu.yaml")
	require.NoError(t, os.WriteFile(menu, []byte("monday:\n  lunch: Dal rice\n"), 0o600))

	_, err := execute(t, "menu", "import", "--vendor", "nobody@example.com", "--file", menu, "--env-file", filepath.Join(dir, "x.env"))
	require.ErrorContains(t, err, "find vendor")

	_, err = execute(t, "menu", "import", "--file", menu, "--env-file", filepath.Join(dir, "x.env"))
	require.ErrorContains(t, err, "--vendor and --file are required")
}
