package claude

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildModelsResponseShape(t *testing.T) {
	out := BuildModelsResponse([]string{"claude-opus-4-5", "gemini-2.5-flash"})

	var decoded struct {
		Data []ModelItem `json:"data"`
	}
	require.NoError(t, json.Unmarshal(out, &decoded))
	require.Len(t, decoded.Data, 2)
	require.Equal(t, "claude-opus-4-5", decoded.Data[0].ID)
	require.Equal(t, "model", decoded.Data[0].Type)
	require.Equal(t, "claude-opus-4-5", decoded.Data[0].DisplayName)
}

func TestBuildModelsResponseEmpty(t *testing.T) {
	out := BuildModelsResponse(nil)
	var decoded struct {
		Data []ModelItem `json:"data"`
	}
	require.NoError(t, json.Unmarshal(out, &decoded))
	require.Empty(t, decoded.Data)
}
