package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.BindAddr)
	assert.Equal(t, "auto", cfg.ReplyProvider)
	assert.Equal(t, "auto", cfg.AvatarProvider)
	assert.Equal(t, 3, cfg.TerminalCap)
	assert.Equal(t, 5, cfg.EscalationMin)
	assert.Equal(t, 9, cfg.EscalationMax)
	assert.Equal(t, 2*time.Second, cfg.DIDPollInterval)
	assert.Equal(t, 30, cfg.DIDPollAttempts)
	assert.Equal(t, 30*time.Second, cfg.RemoteCallTimeout)
	assert.Empty(t, cfg.ReplyHTTPURL)
}

func TestLoadReadsEnvironment(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("APP_BIND_ADDR", ":9191")
	t.Setenv("DIALOGUE_TERMINAL_CAP", "5")
	t.Setenv("APP_ALLOW_ANY_ORIGIN", "yes")
	t.Setenv("REMOTE_CALL_TIMEOUT", "12s")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9191", cfg.BindAddr)
	assert.Equal(t, 5, cfg.TerminalCap)
	assert.True(t, cfg.AllowAnyOrigin)
	assert.Equal(t, 12*time.Second, cfg.RemoteCallTimeout)
}

func TestLoadFileIsOverriddenByEnvironment(t *testing.T) {
	setCoreEnvEmpty(t)
	path := filepath.Join(t.TempDir(), "mirrormind.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
app_bind_addr: ":7000"
escalation_min: 2
escalation_max: 4
d_id_poll_interval: 500ms
app_allow_any_origin: true
`), 0o600))
	t.Setenv("ESCALATION_MAX", "6")

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.BindAddr)
	assert.Equal(t, 2, cfg.EscalationMin)
	assert.Equal(t, 6, cfg.EscalationMax)
	assert.Equal(t, 500*time.Millisecond, cfg.DIDPollInterval)
	assert.True(t, cfg.AllowAnyOrigin)
}

func TestLoadUsesConfigFileEnv(t *testing.T) {
	setCoreEnvEmpty(t)
	path := filepath.Join(t.TempDir(), "c.yaml")
	require.NoError(t, os.WriteFile(path, []byte("DIALOGUE_TERMINAL_CAP: 7\n"), 0o600))
	t.Setenv(FileEnv, path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.TerminalCap)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"ESCALATION_MAX":                 "3",
		"DIALOGUE_TERMINAL_CAP":          "0",
		"APP_SESSION_INACTIVITY_TIMEOUT": "1s",
		"REMOTE_CALL_TIMEOUT":            "soon",
		"APP_ALLOW_ANY_ORIGIN":           "maybe",
		"APP_LOG_FORMAT":                 "xml",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			setCoreEnvEmpty(t)
			t.Setenv(key, value)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestLoadFileMissing(t *testing.T) {
	setCoreEnvEmpty(t)
	_, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestRedactedMasksSecrets(t *testing.T) {
	cfg := Config{GeminiAPIKey: "AIzaSyVerySecret", DIDAPIKey: "short"}
	values := map[string]string{}
	for _, kv := range cfg.Redacted() {
		values[kv[0]] = kv[1]
	}
	assert.Equal(t, "AIza****", values["GEMINI_API_KEY"])
	assert.Equal(t, "****", values["D_ID_API_KEY"])
	assert.Equal(t, "(not set)", values["DATABASE_URL"])
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		FileEnv,
		"APP_BIND_ADDR",
		"APP_SHUTDOWN_TIMEOUT",
		"APP_SESSION_INACTIVITY_TIMEOUT",
		"APP_SESSION_RETENTION",
		"APP_METRICS_NAMESPACE",
		"APP_ALLOW_ANY_ORIGIN",
		"APP_LOG_LEVEL",
		"APP_LOG_FORMAT",
		"REPLY_PROVIDER",
		"GEMINI_API_KEY",
		"GEMINI_MODEL",
		"REPLY_HTTP_URL",
		"AVATAR_PROVIDER",
		"D_ID_API_KEY",
		"D_ID_BASE_URL",
		"D_ID_POLL_INTERVAL",
		"D_ID_POLL_ATTEMPTS",
		"REMOTE_CALL_TIMEOUT",
		"DIALOGUE_TERMINAL_CAP",
		"ESCALATION_MIN",
		"ESCALATION_MAX",
		"DATABASE_URL",
		"MAX_IMAGE_BYTES",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}
