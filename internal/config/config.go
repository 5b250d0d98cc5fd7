package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// FileEnv names the optional YAML file layered under the environment.
const FileEnv = "MIRRORMIND_CONFIG"

// Config contains all runtime settings for the mirror service.
type Config struct {
	BindAddr                 string
	ShutdownTimeout          time.Duration
	SessionInactivityTimeout time.Duration
	SessionRetention         time.Duration
	MetricsNamespace         string

	AllowAnyOrigin bool

	LogLevel  string
	LogFormat string

	ReplyProvider string
	GeminiAPIKey  string
	GeminiModel   string
	ReplyHTTPURL  string

	AvatarProvider    string
	DIDAPIKey         string
	DIDBaseURL        string
	DIDPollInterval   time.Duration
	DIDPollAttempts   int
	RemoteCallTimeout time.Duration

	TerminalCap   int
	EscalationMin int
	EscalationMax int

	DatabaseURL   string
	MaxImageBytes int64
}

// Load reads the environment, layered over the file named by
// MIRRORMIND_CONFIG when set.
func Load() (Config, error) {
	return LoadFile(strings.TrimSpace(os.Getenv(FileEnv)))
}

// LoadFile reads settings from path (may be empty) and the environment.
// Non-empty environment variables win over file values.
func LoadFile(path string) (Config, error) {
	src := source{}
	if path != "" {
		file, err := readFile(path)
		if err != nil {
			return Config{}, err
		}
		src.file = file
	}

	cfg := Config{
		BindAddr:         src.stringOr("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: src.stringOr("APP_METRICS_NAMESPACE", "mirrormind"),
		LogLevel:         src.stringOr("APP_LOG_LEVEL", "info"),
		LogFormat:        src.stringOr("APP_LOG_FORMAT", "json"),
		ReplyProvider:    src.stringOr("REPLY_PROVIDER", "auto"),
		GeminiAPIKey:     src.get("GEMINI_API_KEY"),
		GeminiModel:      src.stringOr("GEMINI_MODEL", "gemini-2.5-flash"),
		ReplyHTTPURL:     src.get("REPLY_HTTP_URL"),
		AvatarProvider:   src.stringOr("AVATAR_PROVIDER", "auto"),
		DIDAPIKey:        src.get("D_ID_API_KEY"),
		DIDBaseURL:       src.stringOr("D_ID_BASE_URL", "https://api.d-id.com"),
		DatabaseURL:      src.get("DATABASE_URL"),

		ShutdownTimeout:          15 * time.Second,
		SessionInactivityTimeout: 10 * time.Minute,
		SessionRetention:         30 * time.Minute,
		DIDPollInterval:          2 * time.Second,
		DIDPollAttempts:          30,
		RemoteCallTimeout:        30 * time.Second,
		TerminalCap:              3,
		EscalationMin:            5,
		EscalationMax:            9,
		MaxImageBytes:            8 << 20,
	}

	var err error
	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"APP_SHUTDOWN_TIMEOUT", &cfg.ShutdownTimeout},
		{"APP_SESSION_INACTIVITY_TIMEOUT", &cfg.SessionInactivityTimeout},
		{"APP_SESSION_RETENTION", &cfg.SessionRetention},
		{"D_ID_POLL_INTERVAL", &cfg.DIDPollInterval},
		{"REMOTE_CALL_TIMEOUT", &cfg.RemoteCallTimeout},
	}
	for _, d := range durations {
		if *d.dst, err = src.duration(d.key, *d.dst); err != nil {
			return Config{}, err
		}
	}
	ints := []struct {
		key string
		dst *int
	}{
		{"D_ID_POLL_ATTEMPTS", &cfg.DIDPollAttempts},
		{"DIALOGUE_TERMINAL_CAP", &cfg.TerminalCap},
		{"ESCALATION_MIN", &cfg.EscalationMin},
		{"ESCALATION_MAX", &cfg.EscalationMax},
	}
	for _, n := range ints {
		if *n.dst, err = src.int(n.key, *n.dst); err != nil {
			return Config{}, err
		}
	}
	maxImage, err := src.int("MAX_IMAGE_BYTES", int(cfg.MaxImageBytes))
	if err != nil {
		return Config{}, err
	}
	cfg.MaxImageBytes = int64(maxImage)
	cfg.AllowAnyOrigin, err = src.bool("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch {
	case c.SessionInactivityTimeout < 5*time.Second:
		return fmt.Errorf("APP_SESSION_INACTIVITY_TIMEOUT must be at least 5s")
	case c.SessionRetention <= 0:
		return fmt.Errorf("APP_SESSION_RETENTION must be positive")
	case c.ShutdownTimeout <= 0:
		return fmt.Errorf("APP_SHUTDOWN_TIMEOUT must be positive")
	case c.RemoteCallTimeout <= 0:
		return fmt.Errorf("REMOTE_CALL_TIMEOUT must be positive")
	case c.DIDPollInterval <= 0:
		return fmt.Errorf("D_ID_POLL_INTERVAL must be positive")
	case c.DIDPollAttempts <= 0:
		return fmt.Errorf("D_ID_POLL_ATTEMPTS must be positive")
	case c.TerminalCap < 1:
		return fmt.Errorf("DIALOGUE_TERMINAL_CAP must be at least 1")
	case c.EscalationMin < 1:
		return fmt.Errorf("ESCALATION_MIN must be at least 1")
	case c.EscalationMax < c.EscalationMin:
		return fmt.Errorf("ESCALATION_MAX (%d) must be >= ESCALATION_MIN (%d)", c.EscalationMax, c.EscalationMin)
	case c.MaxImageBytes <= 0:
		return fmt.Errorf("MAX_IMAGE_BYTES must be positive")
	}
	switch strings.ToLower(c.LogFormat) {
	case "json", "console":
	default:
		return fmt.Errorf("APP_LOG_FORMAT must be json or console")
	}
	return nil
}

// Redacted returns the settings as printable key/value pairs with secrets
// masked.
func (c Config) Redacted() [][2]string {
	return [][2]string{
		{"APP_BIND_ADDR", c.BindAddr},
		{"APP_SHUTDOWN_TIMEOUT", c.ShutdownTimeout.String()},
		{"APP_SESSION_INACTIVITY_TIMEOUT", c.SessionInactivityTimeout.String()},
		{"APP_SESSION_RETENTION", c.SessionRetention.String()},
		{"APP_METRICS_NAMESPACE", c.MetricsNamespace},
		{"APP_ALLOW_ANY_ORIGIN", strconv.FormatBool(c.AllowAnyOrigin)},
		{"APP_LOG_LEVEL", c.LogLevel},
		{"APP_LOG_FORMAT", c.LogFormat},
		{"REPLY_PROVIDER", c.ReplyProvider},
		{"GEMINI_API_KEY", mask(c.GeminiAPIKey)},
		{"GEMINI_MODEL", c.GeminiModel},
		{"REPLY_HTTP_URL", c.ReplyHTTPURL},
		{"AVATAR_PROVIDER", c.AvatarProvider},
		{"D_ID_API_KEY", mask(c.DIDAPIKey)},
		{"D_ID_BASE_URL", c.DIDBaseURL},
		{"D_ID_POLL_INTERVAL", c.DIDPollInterval.String()},
		{"D_ID_POLL_ATTEMPTS", strconv.Itoa(c.DIDPollAttempts)},
		{"REMOTE_CALL_TIMEOUT", c.RemoteCallTimeout.String()},
		{"DIALOGUE_TERMINAL_CAP", strconv.Itoa(c.TerminalCap)},
		{"ESCALATION_MIN", strconv.Itoa(c.EscalationMin)},
		{"ESCALATION_MAX", strconv.Itoa(c.EscalationMax)},
		{"DATABASE_URL", mask(c.DatabaseURL)},
		{"MAX_IMAGE_BYTES", strconv.FormatInt(c.MaxImageBytes, 10)},
	}
}

func mask(secret string) string {
	switch {
	case secret == "":
		return "(not set)"
	case len(secret) <= 8:
		return "****"
	default:
		return secret[:4] + "****"
	}
}

func readFile(path string) (map[string]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	var doc map[string]any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	out := make(map[string]string, len(doc))
	for k, v := range doc {
		if v == nil {
			continue
		}
		out[strings.ToUpper(strings.TrimSpace(k))] = strings.TrimSpace(fmt.Sprint(v))
	}
	return out, nil
}

// source resolves a key from the environment first, then the file.
type source struct {
	file map[string]string
}

func (s source) get(key string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return s.file[key]
}

func (s source) stringOr(key, fallback string) string {
	if v := s.get(key); v != "" {
		return v
	}
	return fallback
}

func (s source) duration(key string, fallback time.Duration) (time.Duration, error) {
	v := s.get(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func (s source) int(key string, fallback int) (int, error) {
	v := s.get(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func (s source) bool(key string, fallback bool) (bool, error) {
	v := strings.ToLower(s.get(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
