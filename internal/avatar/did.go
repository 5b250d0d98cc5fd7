package avatar

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/ent0n29/mirrormind/internal/reliability"
)

const DefaultDIDBaseURL = "https://api.d-id.com"

type DIDConfig struct {
	APIKey       string
	BaseURL      string
	PollInterval time.Duration
	PollAttempts int
}

// DIDProvider talks to the D-ID REST API: /images for registration and
// /talks for create-then-poll video rendering.
type DIDProvider struct {
	cfg    DIDConfig
	client *http.Client
	auth   string
}

func NewDIDProvider(cfg DIDConfig) *DIDProvider {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = DefaultDIDBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.PollAttempts <= 0 {
		cfg.PollAttempts = 30
	}
	return &DIDProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: 30 * time.Second},
		auth:   "Basic " + base64.StdEncoding.EncodeToString([]byte(cfg.APIKey)),
	}
}

func (p *DIDProvider) Name() string { return "d-id" }

type didImageResponse struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

type didTalkRequest struct {
	Script struct {
		Type  string `json:"type"`
		Input string `json:"input"`
	} `json:"script"`
	SourceURL string `json:"source_url"`
	Config    struct {
		Stitch bool `json:"stitch"`
	} `json:"config"`
}

type didTalkResponse struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	ResultURL string `json:"result_url"`
	Error     *struct {
		Kind        string `json:"kind"`
		Description string `json:"description"`
	} `json:"error,omitempty"`
}

func (p *DIDProvider) UploadImage(ctx context.Context, image []byte, contentType string) (string, error) {
	if strings.TrimSpace(contentType) == "" {
		contentType = http.DetectContentType(image)
	}
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", `form-data; name="image"; filename="`+imageFilename(contentType)+`"`)
	header.Set("Content-Type", contentType)
	part, err := mw.CreatePart(header)
	if err != nil {
		return "", fmt.Errorf("create multipart part: %w", err)
	}
	if _, err := part.Write(image); err != nil {
		return "", fmt.Errorf("write multipart part: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("close multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/images", &body)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var out didImageResponse
	if _, err := p.do(req, &out); err != nil {
		return "", fmt.Errorf("upload image: %w", err)
	}
	return out.URL, nil
}

func (p *DIDProvider) CreateTalk(ctx context.Context, imageRef, text string) (string, error) {
	var payload didTalkRequest
	payload.Script.Type = "text"
	payload.Script.Input = text
	payload.SourceURL = imageRef
	payload.Config.Stitch = true
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal talk: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/talks", bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var created didTalkResponse
	if _, err := p.do(req, &created); err != nil {
		return "", fmt.Errorf("create talk: %w", err)
	}
	if created.ID == "" {
		return "", errors.New("create talk: response missing id")
	}
	return p.poll(ctx, created.ID)
}

func (p *DIDProvider) poll(ctx context.Context, talkID string) (string, error) {
	talkURL := p.cfg.BaseURL + "/talks/" + url.PathEscape(talkID)
	wait := p.cfg.PollInterval
	for attempt := 0; attempt < p.cfg.PollAttempts; attempt++ {
		if err := reliability.Sleep(ctx, wait); err != nil {
			return "", err
		}
		wait = p.cfg.PollInterval

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, talkURL, nil)
		if err != nil {
			return "", fmt.Errorf("create request: %w", err)
		}
		var talk didTalkResponse
		header, err := p.do(req, &talk)
		if err != nil {
			var statusErr *StatusError
			if errors.As(err, &statusErr) && reliability.IsRetryableHTTPStatus(statusErr.Code) {
				backoff := reliability.ExponentialBackoff(attempt, p.cfg.PollInterval, 8*p.cfg.PollInterval)
				wait = reliability.RetryAfter(header, backoff, 8*p.cfg.PollInterval)
				continue
			}
			return "", fmt.Errorf("poll talk %s: %w", talkID, err)
		}

		switch talk.Status {
		case "done":
			if talk.ResultURL == "" {
				return "", fmt.Errorf("talk %s done without result_url", talkID)
			}
			return talk.ResultURL, nil
		case "error", "rejected":
			detail := talk.Status
			if talk.Error != nil && talk.Error.Description != "" {
				detail = talk.Error.Description
			}
			return "", fmt.Errorf("talk %s failed: %s", talkID, detail)
		}
	}
	return "", fmt.Errorf("talk %s not ready after %d polls", talkID, p.cfg.PollAttempts)
}

// do sends req with auth headers and decodes a JSON body into out.
func (p *DIDProvider) do(req *http.Request, out any) (http.Header, error) {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", p.auth)

	res, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return res.Header, &StatusError{Code: res.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return res.Header, fmt.Errorf("decode response: %w", err)
	}
	return res.Header, nil
}

func imageFilename(contentType string) string {
	switch strings.ToLower(strings.TrimSpace(contentType)) {
	case "image/png":
		return "face.png"
	case "image/webp":
		return "face.webp"
	default:
		return "face.jpg"
	}
}

// StatusError carries a non-2xx response from the avatar service.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("avatar http status %d: %s", e.Code, e.Body)
}
