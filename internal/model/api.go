package model

import "time"

// ErrorCode is the deliberation error code returned to callers for branching.
type ErrorCode string

const (
	CodeGPTFailed        ErrorCode = "GHOST_GPT_FAILED"
	CodeTimeout          ErrorCode = "GHOST_TIMEOUT"
	CodeTokenCap         ErrorCode = "GHOST_TOKEN_CAP"
	CodeRoundCap         ErrorCode = "GHOST_ROUND_CAP"
	CodeCallCap          ErrorCode = "GHOST_CALL_CAP"
	CodeAuditFailed      ErrorCode = "GHOST_AUDIT_FAILED"
	CodeInternal         ErrorCode = "GHOST_INTERNAL"
	CodeKilled           ErrorCode = "GHOST_KILLED"
	CodeDailyCapExceeded ErrorCode = "GHOST_DAILY_CAP_EXCEEDED"
	CodeCircuitOpen      ErrorCode = "GHOST_CIRCUIT_OPEN"
)

// IsGuardCode reports whether c is an admission-guard rejection, meaning no
// deliberation was attempted.
func (c ErrorCode) IsGuardCode() bool {
	switch c {
	case CodeKilled, CodeDailyCapExceeded, CodeCircuitOpen:
		return true
	}
	return false
}

// Code maps a forced reason to its error code.
func (r ForcedReason) Code() ErrorCode {
	switch r {
	case ForcedRoundCap:
		return CodeRoundCap
	case ForcedCallCap:
		return CodeCallCap
	case ForcedTokenCap:
		return CodeTokenCap
	case ForcedTimeout:
		return CodeTimeout
	}
	return CodeInternal
}

// Code maps an abort reason to its error code.
func (r AbortReason) Code() ErrorCode {
	switch r {
	case AbortGPTFailure:
		return CodeGPTFailed
	case AbortAuditFailure:
		return CodeAuditFailed
	}
	return CodeInternal
}

// DeliberateRequest is the request body for POST /v1/deliberate.
type DeliberateRequest struct {
	UserPrompt string `json:"userPrompt"`
}

// Envelope statuses.
const (
	EnvelopeSuccess = "success"
	EnvelopeError   = "error"
)

// DeliberateResponse is the deliberation response envelope. A forced run is a
// success that also carries the cap's error code.
type DeliberateResponse struct {
	Status    string    `json:"status"`
	Content   string    `json:"content,omitempty"`
	Error     string    `json:"error,omitempty"`
	ErrorCode ErrorCode `json:"errorCode,omitempty"`
}

// APIResponse is the standard response envelope for the runs and admin API.
type APIResponse struct {
	Data any          `json:"data,omitempty"`
	Meta ResponseMeta `json:"meta"`
}

// APIError is the standard error response envelope.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ResponseMeta contains request metadata included in every response.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorDetail contains error information.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes for the runs and admin API.
const (
	ErrCodeInvalidInput  = "INVALID_INPUT"
	ErrCodeUnauthorized  = "UNAUTHORIZED"
	ErrCodeForbidden     = "FORBIDDEN"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeConflict      = "CONFLICT"
	ErrCodeLegalHold     = "LEGAL_HOLD"
	ErrCodeInternalError = "INTERNAL_ERROR"
	ErrCodeTooLarge      = "PAYLOAD_TOO_LARGE"
	ErrCodeRateLimited   = "RATE_LIMITED"
)

// SubmitRunRequest is the request body for POST /v1/runs.
type SubmitRunRequest struct {
	Prompt string `json:"prompt"`
}

// SubmitRunResponse is returned by POST /v1/runs.
type SubmitRunResponse struct {
	RunID RunID `json:"run_id"`
}

// SetLegalHoldRequest is the request body for PUT /v1/admin/audit/{id}/hold.
type SetLegalHoldRequest struct {
	Hold bool `json:"hold"`
}

// DeleteAuditRequest is the request body for DELETE /v1/admin/audit/{id}.
type DeleteAuditRequest struct {
	Reason string `json:"reason"`
}

// AuditView is an audit record as served by the admin API.
type AuditView struct {
	AuditRecord
	// IntegrityValid is false when the stored content hash no longer matches
	// the record's fields.
	IntegrityValid bool `json:"integrity_valid"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Store    string `json:"store"`
	Sessions int    `json:"sessions"`
	Uptime   int64  `json:"uptime_seconds"`
}
