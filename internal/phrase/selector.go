// Package phrase picks the scripted intrusion line the mirror speaks when the
// escalation schedule fires.
package phrase

import (
	"regexp"
	"strings"
	"unicode"
)

// Suffix is appended to distorted lines at the highest escalation levels.
const Suffix = " ▓▓▓ the glass hums ▓▓▓"

const (
	distortAbove = 3
	suffixAbove  = 4
)

// Rand is the subset of math/rand/v2.Rand the selector draws from.
type Rand interface {
	IntN(n int) int
}

type cue struct {
	name    string
	pattern *regexp.Regexp
	line    string
}

// Checked in order; the first matching category wins.
var cues = []cue{
	{
		name:    "identity",
		pattern: regexp.MustCompile(`who am i|reflection|face|mirror|see myself`),
		line:    "You stare too long — now the mirror stares back.",
	},
	{
		name:    "fear",
		pattern: regexp.MustCompile(`fear|scared|afraid|dark|alone|pain`),
		line:    "Your pulse rises. The reflection smiles wider.",
	},
	{
		name:    "truth",
		pattern: regexp.MustCompile(`truth|honest|real|reality|lie|illusion`),
		line:    "You seek truth, but mirrors only show lies.",
	},
	{
		name:    "anger",
		pattern: regexp.MustCompile(`hate|angry|rage|destroy|kill`),
		line:    "Anger fractures your image. I see every shard.",
	},
	{
		name:    "confusion",
		pattern: regexp.MustCompile(`why|what is|how|nothing makes sense`),
		line:    "Meaning slips through. The glass whispers instead.",
	},
}

// Neutral is the filler pool used when no cue matches.
var Neutral = []string{
	"The mirror sees what you cannot.",
	"Your reflection is changing.",
	"We are merging.",
	"It’s almost complete...",
	"Look again. Do you still recognize yourself?",
}

// Choose returns the intrusion line for the given history texts and level.
// Cue lines come back verbatim; only neutral filler is distorted.
func Choose(history []string, level int, rng Rand) string {
	if line, _ := match(history); line != "" {
		return line
	}
	line := Neutral[rng.IntN(len(Neutral))]
	if level > distortAbove {
		line = distort(line, rng)
	}
	if level > suffixAbove {
		line += Suffix
	}
	return line
}

// Category reports which cue category the history matches, or "" if none.
func Category(history []string) string {
	_, name := match(history)
	return name
}

func match(history []string) (line, name string) {
	text := strings.ToLower(strings.Join(history, " "))
	for _, c := range cues {
		if c.pattern.MatchString(text) {
			return c.line, c.name
		}
	}
	return "", ""
}

// distort flips each vowel to upper or lower case with equal probability.
func distort(s string, rng Rand) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if !isVowel(r) {
			b.WriteRune(r)
			continue
		}
		if rng.IntN(2) == 1 {
			b.WriteRune(unicode.ToUpper(r))
		} else {
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}

func isVowel(r rune) bool {
	switch unicode.ToLower(r) {
	case 'a', 'e', 'i', 'o', 'u':
		return true
	}
	return false
}
