package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ent0n29/mirrormind/internal/config"
	"github.com/ent0n29/mirrormind/internal/dialogue"
	"github.com/ent0n29/mirrormind/internal/observability"
	"github.com/ent0n29/mirrormind/internal/protocol"
	"github.com/ent0n29/mirrormind/internal/session"
	"github.com/ent0n29/mirrormind/internal/store"
)

// Dialogue is the orchestrator the HTTP boundary drives.
type Dialogue interface {
	CreateSession(ctx context.Context, profile session.Profile) (*session.Conversation, error)
	Session(ctx context.Context, sessionID string) (*session.Conversation, error)
	RegisterImage(ctx context.Context, sessionID string, image []byte, contentType string) (string, error)
	SubmitTurn(ctx context.Context, sessionID, text string) (dialogue.TurnResult, error)
	EndSession(ctx context.Context, sessionID string) (*session.Conversation, error)
}

// Backends names the configured providers for health output.
type Backends struct {
	Reply  string
	Avatar string
	Store  string
}

type Server struct {
	cfg      config.Config
	dialogue Dialogue
	backends Backends
	metrics  *observability.Metrics
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

func New(cfg config.Config, d Dialogue, backends Backends, metrics *observability.Metrics, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxImageBytes <= 0 {
		cfg.MaxImageBytes = 8 << 20
	}
	return &Server{
		cfg:      cfg,
		dialogue: d,
		backends: backends,
		metrics:  metrics,
		logger:   logger.Named("httpapi"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only same-origin browsers may drive a session unless opted out.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/session", s.handleCreateSession)
	r.Route("/session/{id}", func(r chi.Router) {
		r.Get("/", s.handleGetSession)
		r.Post("/image", s.handleRegisterImage)
		r.Post("/turn", s.handleTurn)
		r.Post("/end", s.handleEndSession)
		r.Get("/ws", s.handleSessionWS)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"reply_provider":  s.backends.Reply,
		"avatar_provider": s.backends.Avatar,
		"store_mode":      s.backends.Store,
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if s.dialogue == nil {
		respondError(w, http.StatusServiceUnavailable, "unavailable", "dialogue not configured")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":     "ready",
		"store_mode": s.backends.Store,
	})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req session.CreateRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	c, err := s.dialogue.CreateSession(r.Context(), req.Profile())
	if err != nil {
		s.respondDialogueError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, session.CreateResponse{
		SessionID:       c.ID,
		Status:          c.Status,
		StartedAt:       c.StartedAt,
		LastActivityAt:  c.LastActivityAt,
		InactivityTTLMS: s.cfg.SessionInactivityTimeout.Milliseconds(),
	})
}

// sessionView is the persisted snapshot plus lifecycle fields.
type sessionView struct {
	store.Snapshot
	Status         session.Status `json:"status"`
	StartedAt      time.Time      `json:"started_at"`
	LastActivityAt time.Time      `json:"last_activity_at"`
}

func viewOf(c *session.Conversation) sessionView {
	return sessionView{
		Snapshot:       store.FromConversation(c),
		Status:         c.Status,
		StartedAt:      c.StartedAt,
		LastActivityAt: c.LastActivityAt,
	}
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	c, err := s.dialogue.Session(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondDialogueError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, viewOf(c))
}

func (s *Server) handleRegisterImage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	image, contentType, err := s.readImage(w, r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, http.StatusRequestEntityTooLarge, "image_too_large", err.Error())
			return
		}
		respondError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}

	ref, err := s.dialogue.RegisterImage(r.Context(), id, image, contentType)
	if err != nil {
		s.respondDialogueError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"registered": true,
		"image_ref":  ref,
	})
}

// readImage accepts a raw body or a multipart form with an "image" field.
func (s *Server) readImage(w http.ResponseWriter, r *http.Request) ([]byte, string, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxImageBytes)
	defer r.Body.Close()

	contentType := r.Header.Get("Content-Type")
	mediaType, _, _ := mime.ParseMediaType(contentType)
	if mediaType != "multipart/form-data" {
		raw, err := io.ReadAll(r.Body)
		return raw, mediaType, err
	}

	if err := r.ParseMultipartForm(s.cfg.MaxImageBytes); err != nil {
		return nil, "", err
	}
	file, header, err := r.FormFile("image")
	if err != nil {
		return nil, "", err
	}
	defer file.Close()
	raw, err := io.ReadAll(file)
	if err != nil {
		return nil, "", err
	}
	return raw, header.Header.Get("Content-Type"), nil
}

type turnRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request) {
	var req turnRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	res, err := s.dialogue.SubmitTurn(r.Context(), chi.URLParam(r, "id"), req.Text)
	if err != nil {
		s.respondDialogueError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, turnPayload(res))
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	c, err := s.dialogue.EndSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondDialogueError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, viewOf(c))
}

func (s *Server) handleSessionWS(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	if _, err := s.dialogue.Session(r.Context(), sessionID); err != nil {
		s.respondDialogueError(w, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.metrics.ObserveSessionEvent("ws_connected", -1)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	inbound := make(chan any, 16)
	outbound := make(chan any, 16)

	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		s.runConnection(ctx, sessionID, inbound, outbound)
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-outbound:
				_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := conn.WriteJSON(msg); err != nil {
					s.logger.Debug("ws write failed", zap.String("session_id", sessionID), zap.Error(err))
					cancel()
					return
				}
				if t, ok := messageTypeOf(msg); ok {
					s.metrics.ObserveWSMessage("outbound", string(t))
				}
			}
		}
	}()

	enqueue(ctx, outbound, protocol.SystemEvent{
		Type:      protocol.TypeSystemEvent,
		SessionID: sessionID,
		Code:      "session_ready",
	})

	conn.SetReadLimit(64 << 10)
	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Minute))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(10 * time.Minute))
		return nil
	})

readLoop:
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			// Keep websocket writes single-threaded; drop if the queue is full.
			select {
			case outbound <- protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				SessionID: sessionID,
				Code:      "invalid_client_message",
				Detail:    err.Error(),
			}:
			default:
			}
			continue
		}

		if t, ok := messageTypeOf(parsed); ok {
			s.metrics.ObserveWSMessage("inbound", string(t))
		}
		select {
		case <-ctx.Done():
			break readLoop
		case inbound <- parsed:
		}
	}

	cancel()
	close(inbound)
	<-workerDone
	<-writerDone
	s.metrics.ObserveSessionEvent("ws_disconnected", -1)
}

// runConnection handles client messages one at a time, so a single socket
// never overlaps its own turns.
func (s *Server) runConnection(ctx context.Context, sessionID string, inbound <-chan any, outbound chan<- any) {
	for msg := range inbound {
		var out any
		switch m := msg.(type) {
		case protocol.ClientTurn:
			res, err := s.dialogue.SubmitTurn(ctx, sessionID, m.Text)
			if err != nil {
				out = s.errorEvent(sessionID, err)
				break
			}
			out = protocol.TurnResult{
				Type:        protocol.TypeTurnResult,
				SessionID:   sessionID,
				TurnPayload: turnPayload(res),
			}
		case protocol.ClientControl:
			switch m.Action {
			case protocol.ActionPing:
				out = protocol.SystemEvent{Type: protocol.TypeSystemEvent, SessionID: sessionID, Code: "pong"}
			case protocol.ActionEnd:
				if _, err := s.dialogue.EndSession(ctx, sessionID); err != nil {
					out = s.errorEvent(sessionID, err)
					break
				}
				out = protocol.SystemEvent{Type: protocol.TypeSystemEvent, SessionID: sessionID, Code: "session_ended"}
			}
		}
		if out != nil {
			enqueue(ctx, outbound, out)
		}
	}
}

func (s *Server) errorEvent(sessionID string, err error) protocol.ErrorEvent {
	e := classify(err)
	return protocol.ErrorEvent{
		Type:      protocol.TypeErrorEvent,
		SessionID: sessionID,
		Code:      e.code,
		Retryable: e.retryable,
		Detail:    e.message,
	}
}

func enqueue(ctx context.Context, outbound chan<- any, msg any) {
	select {
	case <-ctx.Done():
	case outbound <- msg:
	}
}

func turnPayload(res dialogue.TurnResult) protocol.TurnPayload {
	out := protocol.TurnPayload{
		DisplayText: res.DisplayText,
		VideoURL:    protocol.OptionalString(res.VideoURL),
		Terminal:    res.Terminal,
		TurnCount:   res.TurnCount,
	}
	if res.Intrusion != nil {
		out.Intrusion = &protocol.Intrusion{
			Text:     res.Intrusion.Text,
			VideoURL: protocol.OptionalString(res.Intrusion.VideoURL),
		}
	}
	return out
}

type apiError struct {
	status    int
	code      string
	message   string
	retryable bool
}

// classify maps dialogue errors to the public taxonomy. Upstream details of
// remote failures are never exposed.
func classify(err error) apiError {
	switch {
	case errors.Is(err, dialogue.ErrNotFound):
		return apiError{http.StatusNotFound, "session_not_found", "session not found", false}
	case errors.Is(err, dialogue.ErrInvalidInput):
		return apiError{http.StatusBadRequest, "invalid_input", err.Error(), false}
	case errors.Is(err, dialogue.ErrInvalidState):
		return apiError{http.StatusConflict, "invalid_state", "session accepts no further turns", false}
	case errors.Is(err, dialogue.ErrNotReady):
		return apiError{http.StatusConflict, "not_ready", "image not registered", false}
	case errors.Is(err, dialogue.ErrBusy):
		return apiError{http.StatusTooManyRequests, "busy", "a turn is already in progress", true}
	case errors.Is(err, dialogue.ErrRemoteUnavailable):
		return apiError{http.StatusBadGateway, "connection_distorted", "connection distorted", true}
	case errors.Is(err, dialogue.ErrRegistrationFailed):
		return apiError{http.StatusBadGateway, "registration_failed", "image registration failed", true}
	case errors.Is(err, context.Canceled):
		return apiError{http.StatusServiceUnavailable, "request_canceled", "request canceled", true}
	default:
		return apiError{http.StatusInternalServerError, "internal_error", "internal error", false}
	}
}

func (s *Server) respondDialogueError(w http.ResponseWriter, err error) {
	e := classify(err)
	if e.status >= http.StatusInternalServerError {
		s.logger.Warn("request failed", zap.String("code", e.code), zap.Error(err))
	}
	respondError(w, e.status, e.code, e.message)
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

func messageTypeOf(v any) (protocol.MessageType, bool) {
	switch m := v.(type) {
	case protocol.ClientTurn:
		return m.Type, true
	case protocol.ClientControl:
		return m.Type, true
	case protocol.TurnResult:
		return m.Type, true
	case protocol.SystemEvent:
		return m.Type, true
	case protocol.ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}
