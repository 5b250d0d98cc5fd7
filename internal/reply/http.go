package reply

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPAdapter forwards requests to a knowledge endpoint speaking the
// {text, history[{role, parts}]} dialect.
type HTTPAdapter struct {
	url    string
	client *http.Client
}

func NewHTTPAdapter(url string) *HTTPAdapter {
	return &HTTPAdapter{
		url: strings.TrimSpace(url),
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

type httpPart struct {
	Text string `json:"text"`
}

type httpContent struct {
	Role  string     `json:"role"`
	Parts []httpPart `json:"parts"`
}

type httpRequest struct {
	SessionID    string        `json:"session_id,omitempty"`
	Text         string        `json:"text"`
	History      []httpContent `json:"history"`
	SystemPrompt string        `json:"system_prompt,omitempty"`
}

func (a *HTTPAdapter) Complete(ctx context.Context, req Request) (Response, error) {
	body := httpRequest{
		SessionID:    req.SessionID,
		Text:         req.Text,
		History:      make([]httpContent, 0, len(req.History)),
		SystemPrompt: req.SystemPrompt,
	}
	for _, m := range req.History {
		body.History = append(body.History, httpContent{Role: string(m.Role), Parts: []httpPart{{Text: m.Text}}})
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return Response{}, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(payload))
	if err != nil {
		return Response{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	res, err := a.client.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return Response{}, &StatusError{Code: res.StatusCode, Body: strings.TrimSpace(string(raw))}
	}

	ct := strings.ToLower(res.Header.Get("Content-Type"))
	if strings.Contains(ct, "text/event-stream") || strings.Contains(ct, "application/x-ndjson") {
		return a.consumeStreaming(res.Body)
	}

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return Response{}, fmt.Errorf("read response: %w", err)
	}

	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		text := strings.TrimSpace(string(raw))
		if text == "" {
			return Response{}, ErrEmptyReply
		}
		return Response{Text: text}, nil
	}

	text := strings.TrimSpace(extractText(obj))
	if text == "" {
		return Response{}, ErrEmptyReply
	}
	return Response{Text: text}, nil
}

// consumeStreaming joins SSE or NDJSON deltas into one reply.
func (a *HTTPAdapter) consumeStreaming(body io.Reader) (Response, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var out strings.Builder
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		if strings.HasPrefix(line, "data:") {
			line = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
		if line == "[DONE]" {
			break
		}

		delta := line
		var obj map[string]any
		if err := json.Unmarshal([]byte(line), &obj); err == nil {
			delta = extractText(obj)
		}
		out.WriteString(delta)
	}
	if err := scanner.Err(); err != nil {
		return Response{}, fmt.Errorf("stream read: %w", err)
	}

	text := strings.TrimSpace(out.String())
	if text == "" {
		return Response{}, ErrEmptyReply
	}
	return Response{Text: text}, nil
}

func extractText(obj map[string]any) string {
	for _, k := range []string{"response", "text", "delta", "output", "message"} {
		if v, ok := obj[k]; ok {
			if s, ok := v.(string); ok {
				return s
			}
		}
	}
	return ""
}

// StatusError carries a non-2xx response from a reply endpoint.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("reply http status %d: %s", e.Code, e.Body)
}
