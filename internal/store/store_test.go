package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/mirrormind/internal/escalation"
	"github.com/ent0n29/mirrormind/internal/session"
)

func sampleSnapshot() Snapshot {
	at := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	return Snapshot{
		SessionID: "s1",
		Profile:   session.Profile{Name: "Ada", DarkestSecret: "mirrors"},
		History: []session.Turn{
			{Role: session.RoleUser, Text: "hello", At: at},
			{Role: session.RoleAgent, Text: "I see you.", At: at.Add(time.Second)},
		},
		RegisteredImageRef:  "s3://images/ada.png",
		TurnCount:           1,
		EscalationCounter:   1,
		EscalationThreshold: 7,
		Terminal:            false,
		Seed:                42,
	}
}

func TestInMemoryStoreRoundTrip(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	want := sampleSnapshot()

	require.NoError(t, s.Save(ctx, want))
	got, err := s.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, want, got)

	require.NoError(t, s.Delete(ctx, "s1"))
	_, err = s.Load(ctx, "s1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInMemoryStoreIsolatesCallerSlices(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	snap := sampleSnapshot()
	require.NoError(t, s.Save(ctx, snap))

	snap.History[0].Text = "changed"
	got, err := s.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "hello", got.History[0].Text)
}

func TestSnapshotConversationRoundTrip(t *testing.T) {
	snap := sampleSnapshot()
	conv := snap.Conversation()
	assert.Equal(t, escalation.State{Counter: 1, Threshold: 7}, conv.Escalation)
	assert.Equal(t, "s3://images/ada.png", conv.ImageRef)
	assert.Equal(t, snap, FromConversation(&conv))
}

func TestNewStoreWithoutURLIsInMemory(t *testing.T) {
	s, err := NewStore(context.Background(), "  ")
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, "in-memory", Mode(s))
}
