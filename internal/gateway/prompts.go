package gateway

import (
	"strings"

	"github.com/ashita-ai/brain/internal/model"
)

const (
	leadSystem = `You are the lead member of a three-model council. Two advisors may have answered before you; their replies appear in the conversation so far. Weigh them, correct them where they are wrong, and give the user one authoritative final answer.`

	advisorSystem = `You are an advisor on a three-model council. Give your best independent answer to the user's request. Later council members will read your reply, so be concise and flag any uncertainty explicitly.`

	deliberationSuffix = ` You are in deliberation mode: follow the round instructions in the user message exactly, including any required declaration lines.`
)

// Render builds the system and user messages for call.
func Render(call Call) (system, user string) {
	system = advisorSystem
	if call.Agent.IsLead() {
		system = leadSystem
	}
	if call.Meta.Mode.Deliberation {
		system += deliberationSuffix
	}

	var b strings.Builder
	if call.Context != "" {
		b.WriteString("Conversation so far:\n")
		b.WriteString(call.Context)
		b.WriteString("\n\n")
	}
	b.WriteString("User request:\n")
	b.WriteString(call.Prompt)
	return system, b.String()
}
