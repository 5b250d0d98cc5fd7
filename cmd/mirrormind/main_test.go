package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigCommandMasksSecrets(t *testing.T) {
	for _, key := range []string{"GEMINI_API_KEY", "D_ID_API_KEY", "DATABASE_URL", "MIRRORMIND_CONFIG", "APP_LOG_FORMAT"} {
		t.Setenv(key, "")
	}
	path := filepath.Join(t.TempDir(), "mirrormind.yaml")
	require.NoError(t, os.WriteFile(path, []byte("gemini_api_key: AIzaSyTopSecretValue\ndialogue_terminal_cap: 4\n"), 0o600))

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"config", "--config", path})
	require.NoError(t, root.Execute())

	text := out.String()
	assert.Contains(t, text, "GEMINI_API_KEY")
	assert.Contains(t, text, "AIza****")
	assert.NotContains(t, text, "TopSecret")
	assert.Regexp(t, `DIALOGUE_TERMINAL_CAP\s+4`, text)
	assert.True(t, strings.Contains(text, "D_ID_API_KEY") && strings.Contains(text, "(not set)"))
}

func TestConfigCommandReportsInvalidConfig(t *testing.T) {
	t.Setenv("MIRRORMIND_CONFIG", "")
	t.Setenv("ESCALATION_MIN", "7")
	t.Setenv("ESCALATION_MAX", "2")

	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"config"})
	assert.Error(t, root.Execute())
}
