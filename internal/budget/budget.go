// Package budget assembles the character-bounded context passed to each
// agent call.
//
// The current prompt always comes first and is truncated only when it alone
// exceeds the budget. The remaining characters are filled newest-first from
// the prior exchanges, up to a fixed window; anything that does not fit is
// dropped, oldest first. Output depends only on the inputs. Lengths are
// counted in characters (runes), and cuts never split a character.
package budget

import (
	"strings"
	"unicode/utf8"

	"github.com/ashita-ai/brain/internal/model"
)

// TruncationMarker is appended to a prompt cut down to the budget.
const TruncationMarker = "\n...[truncated]"

// Defaults used when a Budgeter is built with zero values.
const (
	DefaultMaxChars = 12000
	DefaultWindow   = 6
)

const separator = "\n\n"

// Budgeter builds bounded contexts.
type Budgeter struct {
	maxChars int
	window   int
}

// New returns a Budgeter with the given character budget and window size.
// Non-positive values fall back to the defaults.
func New(maxChars, window int) Budgeter {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return Budgeter{maxChars: maxChars, window: window}
}

// MaxChars returns the configured character budget.
func (b Budgeter) MaxChars() int { return b.maxChars }

// Context is one call's bounded input.
type Context struct {
	Prompt     string
	Transcript string
	// Kept is the number of exchanges included in Transcript.
	Kept int
	// Dropped is the number of exchanges left out.
	Dropped int
	// PromptTruncated is 1 when the prompt was cut, otherwise 0.
	PromptTruncated int
}

// Len returns the total characters of prompt and transcript.
func (c Context) Len() int { return chars(c.Prompt) + chars(c.Transcript) }

// Build fits prompt and history into the budget. history is ordered oldest
// first.
func (b Budgeter) Build(prompt string, history []model.Exchange) Context {
	out := Context{Prompt: prompt}

	if chars(prompt) > b.maxChars {
		keep := max(b.maxChars-chars(TruncationMarker), 0)
		out.Prompt = cut(cut(prompt, keep)+TruncationMarker, b.maxChars)
		out.PromptTruncated = 1
	}

	remaining := b.maxChars - chars(out.Prompt)
	var kept []string
	for i := len(history) - 1; i >= 0; i-- {
		if len(kept) >= b.window {
			break
		}
		entry := render(history[i])
		cost := chars(entry)
		if len(kept) > 0 {
			cost += chars(separator)
		}
		if cost > remaining {
			break
		}
		remaining -= cost
		kept = append(kept, entry)
	}
	out.Kept = len(kept)
	out.Dropped = len(history) - len(kept)

	// kept is newest first; the transcript reads oldest first.
	for i, j := 0, len(kept)-1; i < j; i, j = i+1, j-1 {
		kept[i], kept[j] = kept[j], kept[i]
	}
	out.Transcript = strings.Join(kept, separator)
	return out
}

func render(e model.Exchange) string {
	return e.Label + " " + e.Text
}

func chars(s string) int { return utf8.RuneCountInString(s) }

// cut returns the first n runes of s.
func cut(s string, n int) string {
	i := 0
	for ; n > 0 && i < len(s); n-- {
		_, size := utf8.DecodeRuneInString(s[i:])
		i += size
	}
	return s[:i]
}
