package background

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arcrelay/cagateway/internal/signature"
)

func TestStartRetentionSweepStartsAndStops(t *testing.T) {
	cache, err := signature.New(t.TempDir(), 7)
	require.NoError(t, err)
	cache.Start()
	t.Cleanup(cache.Stop)

	r, err := StartRetentionSweep(cache)
	require.NoError(t, err)
	require.NotNil(t, r)
	r.Stop()
}
