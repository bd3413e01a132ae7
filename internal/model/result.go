package model

// ResultStatus is the discriminator of an AgentResult.
type ResultStatus string

const (
	ResultSuccess   ResultStatus = "success"
	ResultError     ResultStatus = "error"
	ResultTimeout   ResultStatus = "timeout"
	ResultCancelled ResultStatus = "cancelled"
	ResultSkipped   ResultStatus = "skipped"
)

// FailureCode classifies a per-agent transient failure.
type FailureCode string

const (
	FailureNetwork   FailureCode = "network"
	FailureAPI       FailureCode = "api"
	FailureRateLimit FailureCode = "rate_limit"
	FailureUnknown   FailureCode = "unknown"
)

// Usage is the provider-reported token usage of one call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Total returns input plus output tokens.
func (u Usage) Total() int { return u.InputTokens + u.OutputTokens }

// AgentResult is the outcome of one agent call. It is a closed sum type:
// the only implementations are Success, Failure, Timeout, Cancelled and
// Skipped. Use a type switch to inspect it.
type AgentResult interface {
	Status() ResultStatus
	agentResult()
}

// Success is a completed call. Content is always present.
type Success struct {
	Content string
	// Usage is nil when the provider did not report token counts.
	Usage *Usage
}

// Failure is a call that failed at the transport or API level.
type Failure struct {
	Code    FailureCode
	Message string
}

// Timeout is a call that exceeded its per-call deadline.
type Timeout struct {
	Partial string
}

// Cancelled is a call aborted by run cancellation.
type Cancelled struct {
	Partial string
}

// Skipped is an agent the run decided not to call.
type Skipped struct {
	Reason string
}

func (Success) Status() ResultStatus   { return ResultSuccess }
func (Failure) Status() ResultStatus   { return ResultError }
func (Timeout) Status() ResultStatus   { return ResultTimeout }
func (Cancelled) Status() ResultStatus { return ResultCancelled }
func (Skipped) Status() ResultStatus   { return ResultSkipped }

func (Success) agentResult()   {}
func (Failure) agentResult()   {}
func (Timeout) agentResult()   {}
func (Cancelled) agentResult() {}
func (Skipped) agentResult()   {}

// TextOf returns the text carried by r, if any: the content of a success or
// the partial output of a timeout or cancellation.
func TextOf(r AgentResult) (string, bool) {
	switch v := r.(type) {
	case Success:
		return v.Content, true
	case Timeout:
		return v.Partial, v.Partial != ""
	case Cancelled:
		return v.Partial, v.Partial != ""
	}
	return "", false
}

// ResultView is the JSON projection of an AgentResult for API responses.
type ResultView struct {
	Agent     AgentID      `json:"agent"`
	Status    ResultStatus `json:"status"`
	Content   string       `json:"content,omitempty"`
	ErrorCode FailureCode  `json:"error_code,omitempty"`
	Message   string       `json:"message,omitempty"`
	Tokens    int          `json:"tokens,omitempty"`
}

// ViewOf projects r for the given agent.
func ViewOf(agent AgentID, r AgentResult) ResultView {
	v := ResultView{Agent: agent}
	if r == nil {
		return v
	}
	v.Status = r.Status()
	switch res := r.(type) {
	case Success:
		v.Content = res.Content
		if res.Usage != nil {
			v.Tokens = res.Usage.Total()
		}
	case Failure:
		v.ErrorCode = res.Code
		v.Message = res.Message
	case Timeout:
		v.Content = res.Partial
	case Cancelled:
		v.Content = res.Partial
	case Skipped:
		v.Message = res.Reason
	}
	return v
}
