package signature

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	c, err := New(t.TempDir(), 7)
	require.NoError(t, err)
	c.Start()
	t.Cleanup(c.Stop)
	return c
}

func TestSaveThenLookupReturnsSameContent(t *testing.T) {
	c := newTestCache(t)
	c.Save("req-1", "tool-1", "sig-abc", "because", "claude-opus-4-5")

	e, ok := c.Lookup("req-1", "tool-1")
	require.True(t, ok)
	require.Equal(t, "sig-abc", e.Signature)
	require.Equal(t, "because", e.Reasoning)
	require.Equal(t, "claude-opus-4-5", e.Model)
}

func TestLookupSurvivesHotMapEviction(t *testing.T) {
	c := newTestCache(t)
	c.Save("req-2", "tool-2", "sig-xyz", "", "gemini-2.5-pro")

	require.Eventually(t, func() bool {
		c.hotMu.RLock()
		_, stillHot := c.hot[key("req-2", "tool-2")]
		c.hotMu.RUnlock()
		return !stillHot
	}, 3*time.Second, 20*time.Millisecond, "entry should be persisted and evicted from the hot map")

	e, ok := c.Lookup("req-2", "tool-2")
	require.True(t, ok)
	require.Equal(t, "sig-xyz", e.Signature)
}

func TestLookupByToolCallIDAlone(t *testing.T) {
	c := newTestCache(t)
	c.Save("req-3", "tool-3", "sig-3", "", "gpt-5")

	e, ok := c.LookupByToolCallID("tool-3")
	require.True(t, ok)
	require.Equal(t, "sig-3", e.Signature)
}

func TestLookupMissingReturnsFalse(t *testing.T) {
	c := newTestCache(t)
	_, ok := c.Lookup("nope", "nope")
	require.False(t, ok)
}

func TestMigrationOnReadRewritesIntoTodaysLog(t *testing.T) {
	dir := t.TempDir()
	yesterday := time.Now().UTC().AddDate(0, 0, -1).Format("2006-01-02")
	sigDir := filepath.Join(dir, "signatures")
	require.NoError(t, os.MkdirAll(sigDir, 0o700))

	record := `{"signature":"old-sig","reasoning":"","request_id":"req-old","tool_call_id":"tool-old","model":"claude-opus-4-5","created_at":"2020-01-01T00:00:00Z"}`
	require.NoError(t, os.WriteFile(filepath.Join(sigDir, yesterday+".jsonl"), []byte(record+"\n"), 0o600))
	idxLinePayload := `{"k":"req-old:tool-old","o":0,"l":` + strconv.Itoa(len(record)) + `}` + "\n"
	require.NoError(t, os.WriteFile(filepath.Join(sigDir, yesterday+".idx"), []byte(idxLinePayload), 0o600))

	c, err := New(dir, 7)
	require.NoError(t, err)
	c.Start()
	t.Cleanup(c.Stop)

	e, ok := c.Lookup("req-old", "tool-old")
	require.True(t, ok)
	require.Equal(t, "old-sig", e.Signature)

	require.Eventually(t, func() bool {
		today := time.Now().UTC().Format("2006-01-02")
		data, err := os.ReadFile(filepath.Join(sigDir, today+".jsonl"))
		return err == nil && len(data) > 0
	}, 3*time.Second, 20*time.Millisecond, "migrated entry should be flushed into today's log")
}

func TestRetentionSweepRemovesOldFiles(t *testing.T) {
	dir := t.TempDir()
	sigDir := filepath.Join(dir, "signatures")
	require.NoError(t, os.MkdirAll(sigDir, 0o700))

	old := time.Now().UTC().AddDate(0, 0, -10).Format("2006-01-02")
	recent := time.Now().UTC().Format("2006-01-02")
	require.NoError(t, os.WriteFile(filepath.Join(sigDir, old+".jsonl"), []byte("{}\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(sigDir, old+".idx"), []byte("{}\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(sigDir, recent+".jsonl"), []byte("{}\n"), 0o600))

	c, err := New(dir, 2)
	require.NoError(t, err)
	require.NoError(t, c.RetentionSweep())

	_, err = os.Stat(filepath.Join(sigDir, old+".jsonl"))
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(sigDir, recent+".jsonl"))
	require.NoError(t, err)
}
