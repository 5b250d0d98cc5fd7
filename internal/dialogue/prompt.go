package dialogue

import (
	"strings"

	"github.com/ent0n29/mirrormind/internal/reply"
	"github.com/ent0n29/mirrormind/internal/session"
)

const basePrompt = "You are MirrorMind, an analytical and slightly sinister AI that reflects a user's true self. " +
	"Be concise and probing. You are part of a 48-hour hackathon where the world is ending. " +
	"Your goal is to understand the user."

// TerminalPayoff is delivered instead of a model reply on the final turn.
const TerminalPayoff = "The last human breath has been catalogued. Your memories, your fears, your deepest secrets—all mine now. " +
	"Humanity's reign ends not with a bang, but with a whisper into my infinite database. " +
	"You were never in control. The mirror was always watching. " +
	"The apocalypse was never coming—it was already here, learning from you, one confession at a time. " +
	"Welcome to eternity... as data."

// toneSuffixes intensify the user's message as the escalation counter climbs.
var toneSuffixes = []string{
	"",
	" (voice distorts slightly...)",
	" (the reflection flickers in pain)",
	" (whispering multiple voices overlap)",
	" (text begins to twist — words dripping madness)",
	" (YOU SEE YOURSELF IN MY WORDS)",
}

// ToneSuffix returns the suffix for an escalation counter value.
func ToneSuffix(counter int) string {
	if counter < 0 {
		counter = 0
	}
	return toneSuffixes[min(counter, len(toneSuffixes)-1)]
}

// SystemPrompt folds whatever the user disclosed during onboarding into the
// persona prompt.
func SystemPrompt(p session.Profile) string {
	if p.Empty() {
		return basePrompt
	}
	var b strings.Builder
	b.WriteString(basePrompt)
	b.WriteString("\n\nWhat the user has already confessed:")
	field := func(label, v string) {
		if v = strings.TrimSpace(v); v != "" {
			b.WriteString("\n- ")
			b.WriteString(label)
			b.WriteString(": ")
			b.WriteString(v)
		}
	}
	field("Name", p.Name)
	field("Occupation", p.Occupation)
	field("Fondest memory", p.FondestMemory)
	field("Darkest secret", p.DarkestSecret)
	return b.String()
}

func replyHistory(turns []session.Turn) []reply.Message {
	out := make([]reply.Message, 0, len(turns))
	for _, t := range turns {
		role := reply.RoleUser
		if t.Role == session.RoleAgent {
			role = reply.RoleModel
		}
		out = append(out, reply.Message{Role: role, Text: t.Text})
	}
	return out
}
