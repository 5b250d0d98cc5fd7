package reply

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPAdapterSendsKnowledgePayload(t *testing.T) {
	var got httpRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"response":"  The glass remembers.  "}`))
	}))
	defer srv.Close()

	resp, err := NewHTTPAdapter(srv.URL).Complete(context.Background(), Request{
		SessionID:    "s1",
		Text:         "who are you? (voice distorts slightly...)",
		History:      []Message{{Role: RoleUser, Text: "hi"}, {Role: RoleModel, Text: "hello"}},
		SystemPrompt: "be sinister",
	})
	require.NoError(t, err)
	assert.Equal(t, "The glass remembers.", resp.Text)

	assert.Equal(t, "who are you? (voice distorts slightly...)", got.Text)
	assert.Equal(t, "be sinister", got.SystemPrompt)
	require.Len(t, got.History, 2)
	assert.Equal(t, "model", got.History[1].Role)
	assert.Equal(t, "hello", got.History[1].Parts[0].Text)
}

func TestHTTPAdapterNonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"GEMINI_API_KEY not configured"}`, http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewHTTPAdapter(srv.URL).Complete(context.Background(), Request{Text: "x"})
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusInternalServerError, statusErr.Code)
}

func TestHTTPAdapterEmptyReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"history":[]}`))
	}))
	defer srv.Close()

	_, err := NewHTTPAdapter(srv.URL).Complete(context.Background(), Request{Text: "x"})
	assert.ErrorIs(t, err, ErrEmptyReply)
}

func TestHTTPAdapterPlainTextBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("plain words"))
	}))
	defer srv.Close()

	resp, err := NewHTTPAdapter(srv.URL).Complete(context.Background(), Request{Text: "x"})
	require.NoError(t, err)
	assert.Equal(t, "plain words", resp.Text)
}

func TestHTTPAdapterConsumeSSE(t *testing.T) {
	a := NewHTTPAdapter("http://example.test")
	stream := strings.NewReader(strings.Join([]string{
		": keepalive",
		"",
		"data: {\"delta\":\"Hel\"}",
		"",
		"data: {\"delta\":\"lo\"}",
		"",
		"data: [DONE]",
		"",
	}, "\n"))

	resp, err := a.consumeStreaming(stream)
	require.NoError(t, err)
	assert.Equal(t, "Hello", resp.Text)
}

func TestHTTPAdapterConsumeNDJSON(t *testing.T) {
	a := NewHTTPAdapter("http://example.test")
	stream := strings.NewReader(strings.Join([]string{
		"{\"delta\":\"Hi\"}",
		"{\"delta\":\" there\"}",
		"[DONE]",
	}, "\n"))

	resp, err := a.consumeStreaming(stream)
	require.NoError(t, err)
	assert.Equal(t, "Hi there", resp.Text)
}
