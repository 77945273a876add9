package logging

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeLogFile(t *testing.T, dir, name string, size int, age time.Duration) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0o644))
	modTime := time.Now().Add(-age)
	require.NoError(t, os.Chtimes(path, modTime, modTime))
	return path
}

func TestIsLogFileName(t *testing.T) {
	require.True(t, isLogFileName("gateway.log"))
	require.True(t, isLogFileName("gateway.log.gz"))
	require.True(t, isLogFileName("GATEWAY.LOG"))
	require.False(t, isLogFileName("gateway.json"))
}

func TestEnforceSizeLimitRemovesOldestFirstUntilUnderBudget(t *testing.T) {
	dir := t.TempDir()
	oldest := writeLogFile(t, dir, "gateway-1.log", 100, 3*time.Hour)
	writeLogFile(t, dir, "gateway-2.log", 100, 2*time.Hour)
	newest := writeLogFile(t, dir, "gateway-3.log", 100, time.Hour)

	deleted, err := enforceSizeLimit(dir, 150, "")
	require.NoError(t, err)
	require.Equal(t, 2, deleted)

	_, err = os.Stat(oldest)
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(newest)
	require.NoError(t, err)
}

func TestEnforceSizeLimitNeverRemovesProtectedPath(t *testing.T) {
	dir := t.TempDir()
	protected := writeLogFile(t, dir, "gateway.log", 200, 4*time.Hour)
	writeLogFile(t, dir, "gateway-old.log", 100, 5*time.Hour)

	_, err := enforceSizeLimit(dir, 50, protected)
	require.NoError(t, err)

	_, err = os.Stat(protected)
	require.NoError(t, err, "the active log file must survive even over budget")
}

func TestEnforceSizeLimitNoOpUnderBudget(t *testing.T) {
	dir := t.TempDir()
	writeLogFile(t, dir, "gateway.log", 10, time.Hour)

	deleted, err := enforceSizeLimit(dir, 1<<20, "")
	require.NoError(t, err)
	require.Zero(t, deleted)
}

func TestEnforceSizeLimitIgnoresNonLogFiles(t *testing.T) {
	dir := t.TempDir()
	writeLogFile(t, dir, "gateway.log", 500, 3*time.Hour)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "data.jsonl"), make([]byte, 500), 0o644))

	deleted, err := enforceSizeLimit(dir, 10, "")
	require.NoError(t, err)
	require.Equal(t, 1, deleted, "only the .log file counts toward the budget")
}
