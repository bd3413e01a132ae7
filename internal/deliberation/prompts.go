package deliberation

import (
	"fmt"

	"github.com/ashita-ai/brain/internal/model"
)

// PromptVersion identifies the prompt templates below in audit records.
const PromptVersion = "ghost-v1"

const declarationFormat = `
End your reply with exactly these five lines:
ROUND: %d
COMPLIANCE: PASS|FAIL
FACTUAL_CONSISTENCY: PASS|FAIL
RISK_STABILITY: PASS|FAIL
STATUS: CONTINUE|CONVERGED`

func framingPrompt(userPrompt string) string {
	return fmt.Sprintf(`Deliberation round 0 (framing).
Do not answer yet. Restate the request, list the questions the council must settle, and name any compliance, factual or risk concerns the advisors should examine.
Declare every gate FAIL and STATUS: CONTINUE; framing never converges.
%s

Request:
%s`, fmt.Sprintf(declarationFormat, 0), userPrompt)
}

func advisoryPrompt(round int, userPrompt string) string {
	return fmt.Sprintf(`Deliberation round %d (advisory).
Read the lead's framing and any earlier synthesis above. Give your independent analysis of the request, point out factual errors, compliance problems or unstable risk judgements, and propose concrete corrections. Do not write declaration lines.

Request:
%s`, round, userPrompt)
}

func synthesisPrompt(round int, userPrompt string) string {
	return fmt.Sprintf(`Deliberation round %d (synthesis).
Combine the advisors' analysis into your best answer to the request. Then judge three gates independently:
- COMPLIANCE: the answer respects legal, policy and safety constraints.
- FACTUAL_CONSISTENCY: the answer's claims agree with each other and with the advisors' verified points.
- RISK_STABILITY: the recommendation would not change under reasonable further review.
Declare STATUS: CONVERGED only if all three gates PASS.
%s

Request:
%s`, round, fmt.Sprintf(declarationFormat, round), userPrompt)
}

func forcedPrompt(reason model.ForcedReason, userPrompt string) string {
	return fmt.Sprintf(`Deliberation stopped: %s.
The council has not converged. Write the best final answer you can from the discussion above, state plainly which concerns remain unresolved, and do not write declaration lines.

Request:
%s`, forcedDescription(reason), userPrompt)
}

func forcedDescription(reason model.ForcedReason) string {
	switch reason {
	case model.ForcedRoundCap:
		return "the round limit was reached"
	case model.ForcedCallCap:
		return "the call limit was reached"
	case model.ForcedTokenCap:
		return "the token budget is nearly exhausted"
	case model.ForcedTimeout:
		return "the time limit was reached"
	}
	return string(reason)
}
