package store

import (
	"context"
	"errors"

	"github.com/ent0n29/mirrormind/internal/escalation"
	"github.com/ent0n29/mirrormind/internal/session"
)

var ErrNotFound = errors.New("snapshot not found")

// Snapshot is the persisted form of a conversation.
type Snapshot struct {
	SessionID           string          `json:"session_id"`
	Profile             session.Profile `json:"profile"`
	History             []session.Turn  `json:"history"`
	RegisteredImageRef  string          `json:"registered_image_ref"`
	TurnCount           int             `json:"turn_count"`
	EscalationCounter   int             `json:"escalation_counter"`
	EscalationThreshold int             `json:"escalation_threshold"`
	Terminal            bool            `json:"terminal"`
	Seed                uint64          `json:"seed"`
}

// FromConversation captures the persisted fields of c.
func FromConversation(c *session.Conversation) Snapshot {
	return Snapshot{
		SessionID:           c.ID,
		Profile:             c.Profile,
		History:             append([]session.Turn(nil), c.History...),
		RegisteredImageRef:  c.ImageRef,
		TurnCount:           c.TurnCount,
		EscalationCounter:   c.Escalation.Counter,
		EscalationThreshold: c.Escalation.Threshold,
		Terminal:            c.Terminal,
		Seed:                c.Seed,
	}
}

// Conversation rebuilds the session state held by the snapshot.
func (s Snapshot) Conversation() session.Conversation {
	return session.Conversation{
		ID:        s.SessionID,
		Profile:   s.Profile,
		History:   append([]session.Turn(nil), s.History...),
		ImageRef:  s.RegisteredImageRef,
		TurnCount: s.TurnCount,
		Escalation: escalation.State{
			Counter:   s.EscalationCounter,
			Threshold: s.EscalationThreshold,
		},
		Terminal: s.Terminal,
		Seed:     s.Seed,
	}
}

// Store persists conversation snapshots between requests and restarts.
type Store interface {
	Save(ctx context.Context, snap Snapshot) error
	Load(ctx context.Context, sessionID string) (Snapshot, error)
	Delete(ctx context.Context, sessionID string) error
	Close() error
}
