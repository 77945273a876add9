package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	keys := []string{
		"HOST", "PORT", "API_USER_AGENT", "TIMEOUT", "PROXY", "API_KEY",
		"RETRY_STATUS_CODES", "RETRY_MAX_ATTEMPTS", "DEBUG", "ENDPOINT_MODE",
		"GOOGLE_CLIENT_ID", "GOOGLE_CLIENT_SECRET", "DATA_DIR", "WEBUI_PASSWORD",
		"GEMINI3_MEDIA_RESOLUTION", "POSTGRES_DSN",
	}
	for _, k := range keys {
		prev, had := os.LookupEnv(k)
		require.NoError(t, os.Unsetenv(k))
		t.Cleanup(func() {
			if had {
				_ = os.Setenv(k, prev)
			}
		})
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg := Load(nil)
	require.Equal(t, DefaultHost, cfg.Host)
	require.Equal(t, DefaultPort, cfg.Port)
	require.Equal(t, DefaultEndpointMode, cfg.EndpointMode)
	require.Equal(t, []int{429, 500}, cfg.RetryStatusCodes)
	require.Equal(t, "off", cfg.Debug)
	require.Equal(t, DefaultGoogleClientID, cfg.EffectiveGoogleClientID())
	require.Equal(t, DefaultGoogleClientSecret, cfg.EffectiveGoogleClientSecret())
}

func TestLoadHonorsEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("ENDPOINT_MODE", "production")
	t.Setenv("RETRY_STATUS_CODES", "500, 503 ,429")
	t.Setenv("GOOGLE_CLIENT_ID", "custom-id")

	cfg := Load(nil)
	require.Equal(t, 9090, cfg.Port)
	require.Equal(t, "production", cfg.EndpointMode)
	require.Equal(t, []int{500, 503, 429}, cfg.RetryStatusCodes)
	require.Equal(t, "custom-id", cfg.EffectiveGoogleClientID())
}

func TestApplyDebugFlagOverridesEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("DEBUG", "low")
	cfg := Load([]string{"-debug", "high"})
	require.Equal(t, "high", cfg.Debug)
}

func TestYAMLOverlayAppliesOverEnv(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	t.Setenv("DATA_DIR", dir)
	t.Setenv("PROXY", "http://env-proxy:8080")

	overlay := "proxy: http://yaml-proxy:8080\nendpoint_mode: production\nretry_max_attempts: 7\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(overlay), 0o644))

	cfg := Load(nil)
	require.Equal(t, "http://yaml-proxy:8080", cfg.Proxy)
	require.Equal(t, "production", cfg.EndpointMode)
	require.Equal(t, 7, cfg.RetryMaxAttempts)
}

func TestTimeoutConvertsMillisecondsToDuration(t *testing.T) {
	clearEnv(t)
	t.Setenv("TIMEOUT", "5000")
	cfg := Load(nil)
	require.Equal(t, 5*time.Second, cfg.Timeout())
}

func TestSnapshotStoreAndLoadAreConcurrencySafe(t *testing.T) {
	clearEnv(t)
	cfg := Load(nil)
	snap := NewSnapshot(cfg)
	require.Equal(t, cfg, snap.Load())

	updated := *cfg
	updated.Debug = "high"
	snap.Store(&updated)
	require.Equal(t, "high", snap.Load().Debug)
}
