package session

import (
	"time"

	"github.com/ent0n29/mirrormind/internal/escalation"
)

type Status string

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
)

type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// Turn is one message in a conversation. Turns are never edited once appended.
type Turn struct {
	Role Role      `json:"role"`
	Text string    `json:"text"`
	At   time.Time `json:"timestamp"`
}

// Profile holds the biographical answers collected before the dialogue starts.
type Profile struct {
	Name          string `json:"name,omitempty"`
	Occupation    string `json:"occupation,omitempty"`
	FondestMemory string `json:"fondest_memory,omitempty"`
	DarkestSecret string `json:"darkest_secret,omitempty"`
}

func (p Profile) Empty() bool {
	return p == Profile{}
}

// Conversation is the full state of one user's dialogue.
type Conversation struct {
	ID             string           `json:"session_id"`
	Status         Status           `json:"status"`
	Profile        Profile          `json:"profile"`
	History        []Turn           `json:"history"`
	ImageRef       string           `json:"registered_image_ref"`
	TurnCount      int              `json:"turn_count"`
	Escalation     escalation.State `json:"escalation"`
	Terminal       bool             `json:"terminal"`
	Seed           uint64           `json:"seed"`
	StartedAt      time.Time        `json:"started_at"`
	LastActivityAt time.Time        `json:"last_activity_at"`
}

// Texts returns the text of every turn in order.
func (c *Conversation) Texts() []string {
	out := make([]string, 0, len(c.History))
	for _, t := range c.History {
		out = append(out, t.Text)
	}
	return out
}

// CreateRequest defines payload for creating a new session.
type CreateRequest struct {
	Name          string `json:"name"`
	Occupation    string `json:"occupation"`
	FondestMemory string `json:"fondest_memory"`
	DarkestSecret string `json:"darkest_secret"`
}

func (r CreateRequest) Profile() Profile {
	return Profile{
		Name:          r.Name,
		Occupation:    r.Occupation,
		FondestMemory: r.FondestMemory,
		DarkestSecret: r.DarkestSecret,
	}
}

// CreateResponse returns created session metadata.
type CreateResponse struct {
	SessionID       string    `json:"session_id"`
	Status          Status    `json:"status"`
	StartedAt       time.Time `json:"started_at"`
	LastActivityAt  time.Time `json:"last_activity_at"`
	InactivityTTLMS int64     `json:"inactivity_ttl_ms"`
}
