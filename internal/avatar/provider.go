package avatar

import (
	"fmt"
	"strings"
	"time"
)

type Config struct {
	Mode         string
	DIDAPIKey    string
	DIDBaseURL   string
	PollInterval time.Duration
	PollAttempts int
}

// NewProvider picks the avatar backend. In auto mode D-ID is used whenever
// an API key is configured.
func NewProvider(cfg Config) (Provider, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}
	did := func() Provider {
		return NewDIDProvider(DIDConfig{
			APIKey:       cfg.DIDAPIKey,
			BaseURL:      cfg.DIDBaseURL,
			PollInterval: cfg.PollInterval,
			PollAttempts: cfg.PollAttempts,
		})
	}
	switch mode {
	case "auto":
		if strings.TrimSpace(cfg.DIDAPIKey) != "" {
			return did(), nil
		}
		return NewMockProvider(), nil
	case "did", "d-id":
		if strings.TrimSpace(cfg.DIDAPIKey) == "" {
			return nil, fmt.Errorf("D_ID_API_KEY is required when AVATAR_PROVIDER=%s", mode)
		}
		return did(), nil
	case "mock":
		return NewMockProvider(), nil
	default:
		return nil, fmt.Errorf("unsupported avatar provider %q", cfg.Mode)
	}
}
