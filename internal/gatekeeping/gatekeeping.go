// Package gatekeeping extracts routing flags from the first agent's output.
//
// The gatekeeper ends its answer with three marker lines:
//
//	CALL_CLAUDE: yes
//	CALL_GEMINI: no
//	REASON: simple_factual
//
// All three must be present and well formed. Anything else yields an invalid
// flag set that routes to every agent. Only the trailing block of marker
// lines counts; a "Reason:" line inside the answer is left alone.
package gatekeeping

import (
	"fmt"
	"strings"

	"github.com/ashita-ai/brain/internal/model"
)

const (
	keyClaude = "call_claude:"
	keyGemini = "call_gemini:"
	keyReason = "reason:"

	markerLines = 3
)

// Instructions is appended to the gatekeeper's prompt so that its answer ends
// with parseable routing markers.
const Instructions = `

After your answer, decide whether the other advisors are needed. End your reply with exactly these three lines:
CALL_CLAUDE: yes|no
CALL_GEMINI: yes|no
REASON: <one-word tag>`

// Parse reads the routing markers from response. On any failure it returns
// model.RouteAll() together with an error describing what was wrong; the
// error is a warning for the caller, never fatal.
func Parse(response string) (model.GatekeepingFlags, error) {
	var claudeRaw, geminiRaw, reason string
	var sawClaude, sawGemini bool

	lines := strings.Split(response, "\n")
	for _, i := range trailingMarkers(lines) {
		trimmed := strings.TrimSpace(lines[i])
		lower := strings.ToLower(trimmed)
		switch {
		case strings.HasPrefix(lower, keyClaude):
			claudeRaw, sawClaude = strings.TrimSpace(lower[len(keyClaude):]), true
		case strings.HasPrefix(lower, keyGemini):
			geminiRaw, sawGemini = strings.TrimSpace(lower[len(keyGemini):]), true
		case strings.HasPrefix(lower, keyReason):
			reason = strings.TrimSpace(trimmed[len(keyReason):])
		}
	}

	if !sawClaude || !sawGemini || reason == "" {
		return model.RouteAll(), fmt.Errorf("gatekeeping: routing markers missing (claude=%t gemini=%t reason=%t)",
			sawClaude, sawGemini, reason != "")
	}
	routeClaude, err := parseBool(claudeRaw)
	if err != nil {
		return model.RouteAll(), fmt.Errorf("gatekeeping: CALL_CLAUDE: %w", err)
	}
	routeGemini, err := parseBool(geminiRaw)
	if err != nil {
		return model.RouteAll(), fmt.Errorf("gatekeeping: CALL_GEMINI: %w", err)
	}

	return model.GatekeepingFlags{
		RouteClaude: routeClaude,
		RouteGemini: routeGemini,
		Reason:      strings.Trim(reason, "[] "),
		Valid:       true,
	}, nil
}

// Strip removes the routing marker lines from response so they are not
// replayed to later agents as part of the answer.
func Strip(response string) string {
	lines := strings.Split(response, "\n")
	marker := make(map[int]bool, markerLines)
	for _, i := range trailingMarkers(lines) {
		marker[i] = true
	}
	kept := lines[:0]
	for i, line := range lines {
		if !marker[i] {
			kept = append(kept, line)
		}
	}
	return strings.TrimRight(strings.Join(kept, "\n"), "\n ")
}

// trailingMarkers returns the indexes of the marker lines that end lines,
// walking back over blank lines and stopping at the first non-marker line.
func trailingMarkers(lines []string) []int {
	var idx []int
	for i := len(lines) - 1; i >= 0 && len(idx) < markerLines; i-- {
		trimmed := strings.TrimSpace(lines[i])
		if trimmed == "" {
			continue
		}
		if !isMarker(strings.ToLower(trimmed)) {
			break
		}
		idx = append(idx, i)
	}
	return idx
}

func isMarker(lower string) bool {
	return strings.HasPrefix(lower, keyClaude) || strings.HasPrefix(lower, keyGemini) || strings.HasPrefix(lower, keyReason)
}

func parseBool(s string) (bool, error) {
	switch strings.Trim(s, "[] .") {
	case "yes", "true", "y":
		return true, nil
	case "no", "false", "n":
		return false, nil
	}
	return false, fmt.Errorf("unrecognized value %q", s)
}
