package reply

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

func TestConvertHistoryMapsRolesAndAppendsUserText(t *testing.T) {
	got := ConvertHistory([]Message{
		{Role: RoleUser, Text: "hello"},
		{Role: RoleModel, Text: "I see you."},
		{Role: RoleUser, Text: "   "},
	}, "who am I?")

	require.Len(t, got, 3)
	assert.Equal(t, string(genai.RoleUser), got[0].Role)
	assert.Equal(t, string(genai.RoleModel), got[1].Role)
	assert.Equal(t, "I see you.", got[1].Parts[0].Text)
	assert.Equal(t, string(genai.RoleUser), got[2].Role)
	assert.Equal(t, "who am I?", got[2].Parts[0].Text)
}

func TestBuildConfig(t *testing.T) {
	cfg := BuildConfig("You are MirrorMind.")
	require.NotNil(t, cfg.Temperature)
	assert.InDelta(t, 0.9, *cfg.Temperature, 1e-6)
	assert.Equal(t, int32(2048), cfg.MaxOutputTokens)
	require.NotNil(t, cfg.SystemInstruction)
	assert.Equal(t, "You are MirrorMind.", cfg.SystemInstruction.Parts[0].Text)

	assert.Nil(t, BuildConfig("").SystemInstruction)
}
