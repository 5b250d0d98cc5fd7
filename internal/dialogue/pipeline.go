// Package dialogue runs one user turn end to end: reply, escalation,
// intrusion phrase, avatar video and the final state commit.
package dialogue

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ent0n29/mirrormind/internal/avatar"
	"github.com/ent0n29/mirrormind/internal/escalation"
	"github.com/ent0n29/mirrormind/internal/observability"
	"github.com/ent0n29/mirrormind/internal/phrase"
	"github.com/ent0n29/mirrormind/internal/policy"
	"github.com/ent0n29/mirrormind/internal/reply"
	"github.com/ent0n29/mirrormind/internal/session"
	"github.com/ent0n29/mirrormind/internal/store"
)

const (
	DefaultTerminalCap   = 3
	DefaultRemoteTimeout = 30 * time.Second

	persistTimeout = 5 * time.Second
	persistStripes = 16
)

type Config struct {
	// TerminalCap is the turn number that receives the scripted payoff.
	TerminalCap   int
	RemoteTimeout time.Duration
}

// Intrusion is the scripted line surfaced when escalation fires.
type Intrusion struct {
	Text     string
	VideoURL string
}

// TurnResult is what the caller renders for one turn. VideoURL is empty when
// video generation failed.
type TurnResult struct {
	SessionID   string
	TurnCount   int
	DisplayText string
	VideoURL    string
	Terminal    bool
	Intrusion   *Intrusion
}

type Pipeline struct {
	cfg       Config
	sessions  *session.Manager
	tracker   escalation.Tracker
	replies   reply.Adapter
	replyName string
	avatars   *avatar.Coordinator
	store     store.Store
	metrics   *observability.Metrics
	logger    *zap.Logger

	persistMu [persistStripes]sync.Mutex
}

func New(
	cfg Config,
	sessions *session.Manager,
	tracker escalation.Tracker,
	replies reply.Adapter,
	avatars *avatar.Coordinator,
	snapshots store.Store,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *Pipeline {
	if cfg.TerminalCap <= 0 {
		cfg.TerminalCap = DefaultTerminalCap
	}
	if cfg.RemoteTimeout <= 0 {
		cfg.RemoteTimeout = DefaultRemoteTimeout
	}
	if snapshots == nil {
		snapshots = store.NewInMemoryStore()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pipeline{
		cfg:       cfg,
		sessions:  sessions,
		tracker:   tracker,
		replies:   replies,
		replyName: reply.Name(replies),
		avatars:   avatars,
		store:     snapshots,
		metrics:   metrics,
		logger:    logger.Named("dialogue"),
	}
	sessions.SetExpireHook(p.onExpire)
	return p
}

func (p *Pipeline) CreateSession(ctx context.Context, profile session.Profile) (*session.Conversation, error) {
	c := p.sessions.Create(profile)
	p.persist(ctx, c.ID)
	p.metrics.ObserveSessionEvent("created", p.sessions.ActiveCount())
	p.logger.Info("session created",
		zap.String("session_id", c.ID),
		zap.Int("escalation_threshold", c.Escalation.Threshold),
		zap.Bool("profile", !profile.Empty()),
	)
	return c, nil
}

// Session returns the live conversation, restoring it from the snapshot
// store when this process has not seen it yet.
func (p *Pipeline) Session(ctx context.Context, sessionID string) (*session.Conversation, error) {
	c, err := p.sessions.Get(sessionID)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, session.ErrNotFound) {
		return nil, err
	}
	snap, err := p.store.Load(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, session.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	restored := p.sessions.Restore(snap.Conversation())
	p.metrics.ObserveSessionEvent("restored", p.sessions.ActiveCount())
	p.logger.Info("session restored",
		zap.String("session_id", sessionID),
		zap.Int("turn_count", restored.TurnCount),
		zap.Bool("terminal", restored.Terminal),
	)
	return restored, nil
}

// RegisterImage registers the user's photo once per session.
func (p *Pipeline) RegisterImage(ctx context.Context, sessionID string, image []byte, contentType string) (string, error) {
	if _, err := p.Session(ctx, sessionID); err != nil {
		return "", err
	}
	ref, err := p.avatars.RegisterImage(context.WithoutCancel(ctx), sessionID, image, contentType)
	if errors.Is(err, avatar.ErrInvalidInput) {
		return "", fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if err != nil {
		return "", err
	}
	p.persist(ctx, sessionID)
	return ref, nil
}

// SubmitTurn runs one exchange. Session state is committed only after every
// step succeeded; a reply failure or an abandoned caller leaves it untouched.
func (p *Pipeline) SubmitTurn(ctx context.Context, sessionID, text string) (TurnResult, error) {
	if _, err := p.Session(ctx, sessionID); err != nil {
		return TurnResult{}, err
	}
	lease, err := p.sessions.Acquire(sessionID)
	if err != nil {
		if errors.Is(err, session.ErrBusy) {
			p.metrics.ObserveTurn("busy")
		}
		return TurnResult{}, err
	}
	defer lease.Release()

	conv, err := lease.Conversation()
	if err != nil {
		return TurnResult{}, err
	}
	text = strings.TrimSpace(text)
	switch {
	case conv.Terminal || conv.Status != session.StatusActive:
		p.metrics.ObserveTurn("invalid_state")
		return TurnResult{}, ErrInvalidState
	case text == "":
		p.metrics.ObserveTurn("invalid_input")
		return TurnResult{}, fmt.Errorf("%w: text is empty", ErrInvalidInput)
	case conv.ImageRef == "":
		p.metrics.ObserveTurn("not_ready")
		return TurnResult{}, ErrNotReady
	}

	// Remote work outlives the caller; results are dropped if it leaves.
	work := context.WithoutCancel(ctx)
	turn := conv.TurnCount + 1
	terminal := turn >= p.cfg.TerminalCap

	display := TerminalPayoff
	if !terminal {
		display, err = p.complete(work, conv, text)
		if err != nil {
			p.metrics.ObserveTurn("remote_unavailable")
			p.logger.Warn("reply failed",
				zap.String("session_id", sessionID),
				zap.Int("turn", turn),
				zap.String("provider", p.replyName),
				zap.Error(err),
			)
			return TurnResult{}, fmt.Errorf("%w: %v", ErrRemoteUnavailable, err)
		}
	}

	rng := lease.Rand()
	state := conv.Escalation
	event := p.tracker.Advance(&state, rng)

	result := TurnResult{
		SessionID:   sessionID,
		TurnCount:   turn,
		DisplayText: display,
		Terminal:    terminal,
	}
	if event.Triggered {
		history := append(conv.Texts(), text)
		result.Intrusion = &Intrusion{Text: phrase.Choose(history, event.Level, rng)}
	}

	p.renderVideos(work, sessionID, conv.ImageRef, &result)

	if err := ctx.Err(); err != nil {
		p.metrics.ObserveTurn("abandoned")
		p.logger.Info("turn abandoned before commit",
			zap.String("session_id", sessionID),
			zap.Int("turn", turn),
		)
		return TurnResult{}, err
	}

	now := time.Now().UTC()
	_, err = lease.Commit(func(c *session.Conversation) {
		c.History = append(c.History,
			session.Turn{Role: session.RoleUser, Text: text, At: now},
			session.Turn{Role: session.RoleAgent, Text: display, At: now},
		)
		c.TurnCount = turn
		c.Escalation = state
		if terminal {
			c.Terminal = true
			c.Status = session.StatusEnded
		}
	})
	if errors.Is(err, session.ErrEnded) {
		p.metrics.ObserveTurn("invalid_state")
		p.logger.Info("turn dropped, session ended mid-turn",
			zap.String("session_id", sessionID),
			zap.Int("turn", turn),
		)
		return TurnResult{}, ErrInvalidState
	}
	if err != nil {
		return TurnResult{}, err
	}
	p.persist(work, sessionID)

	outcome := "ok"
	if terminal {
		outcome = "terminal"
		p.metrics.ObserveSessionEvent("terminal", p.sessions.ActiveCount())
	}
	p.metrics.ObserveTurn(outcome)
	if event.Triggered {
		p.metrics.ObserveIntrusion()
	}
	p.logger.Info("turn completed",
		zap.String("session_id", sessionID),
		zap.Int("turn", turn),
		zap.String("user_text", policy.LogSafe(text, policy.DefaultLogChars)),
		zap.Bool("terminal", terminal),
		zap.Bool("intrusion", event.Triggered),
		zap.Int("escalation_counter", state.Counter),
		zap.Bool("video", result.VideoURL != ""),
	)
	return result, nil
}

func (p *Pipeline) EndSession(ctx context.Context, sessionID string) (*session.Conversation, error) {
	if _, err := p.Session(ctx, sessionID); err != nil {
		return nil, err
	}
	c, err := p.sessions.End(sessionID)
	if err != nil {
		return nil, err
	}
	p.forget(ctx, sessionID)
	p.metrics.ObserveSessionEvent("ended", p.sessions.ActiveCount())
	p.logger.Info("session ended", zap.String("session_id", sessionID), zap.Int("turn_count", c.TurnCount))
	return c, nil
}

func (p *Pipeline) complete(ctx context.Context, conv *session.Conversation, text string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, p.cfg.RemoteTimeout)
	defer cancel()

	start := time.Now()
	resp, err := p.replies.Complete(callCtx, reply.Request{
		SessionID:    conv.ID,
		Text:         text + ToneSuffix(conv.Escalation.Counter),
		History:      replyHistory(conv.History),
		SystemPrompt: SystemPrompt(conv.Profile),
	})
	p.metrics.ObserveRemoteCall(p.replyName, "complete", time.Since(start))
	if err == nil && strings.TrimSpace(resp.Text) == "" {
		err = reply.ErrEmptyReply
	}
	if err != nil {
		p.metrics.ObserveProviderError(p.replyName, replyErrorCode(err))
		return "", err
	}
	return strings.TrimSpace(resp.Text), nil
}

// renderVideos fills in the video URLs. Failures only cost the video.
func (p *Pipeline) renderVideos(ctx context.Context, sessionID, imageRef string, result *TurnResult) {
	var g errgroup.Group
	render := func(text string, dst *string) {
		g.Go(func() error {
			video, err := p.avatars.GenerateVideo(ctx, imageRef, text)
			if err != nil {
				p.logger.Warn("video generation failed", zap.String("session_id", sessionID), zap.Error(err))
				return nil
			}
			*dst = video.URL
			return nil
		})
	}
	render(result.DisplayText, &result.VideoURL)
	if result.Intrusion != nil {
		render(result.Intrusion.Text, &result.Intrusion.VideoURL)
	}
	_ = g.Wait()
}

// persist saves the latest live state. Saves for one session are serialized
// so an older snapshot never lands after a newer one.
func (p *Pipeline) persist(ctx context.Context, sessionID string) {
	mu := p.stripe(sessionID)
	mu.Lock()
	defer mu.Unlock()

	c, err := p.sessions.Get(sessionID)
	if err != nil {
		return
	}
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if err := p.store.Save(saveCtx, store.FromConversation(c)); err != nil {
		p.logger.Warn("snapshot save failed", zap.String("session_id", sessionID), zap.Error(err))
	}
}

// forget drops the snapshot of a session that was ended or expired, so it
// cannot be restored as active later.
func (p *Pipeline) forget(ctx context.Context, sessionID string) {
	mu := p.stripe(sessionID)
	mu.Lock()
	defer mu.Unlock()

	delCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if err := p.store.Delete(delCtx, sessionID); err != nil && !errors.Is(err, store.ErrNotFound) {
		p.logger.Warn("snapshot delete failed", zap.String("session_id", sessionID), zap.Error(err))
	}
}

func (p *Pipeline) stripe(sessionID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(sessionID))
	return &p.persistMu[h.Sum32()%persistStripes]
}

func (p *Pipeline) onExpire(c *session.Conversation) {
	p.forget(context.Background(), c.ID)
	p.metrics.ObserveSessionEvent("expired", p.sessions.ActiveCount())
	p.logger.Info("session expired", zap.String("session_id", c.ID), zap.Int("turn_count", c.TurnCount))
}

func replyErrorCode(err error) string {
	var statusErr *reply.StatusError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, reply.ErrEmptyReply):
		return "empty"
	case errors.As(err, &statusErr):
		return fmt.Sprintf("http_%d", statusErr.Code)
	default:
		return "error"
	}
}
