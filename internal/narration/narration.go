// Package narration meters billable calls to the speech provider: it checks
// the caller's daily quota, calls the provider and records usage only for
// successful calls.
package narration

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

type ConversationAction string

const (
	ActionStart   ConversationAction = "start"
	ActionMessage ConversationAction = "message"
	ActionEnd     ConversationAction = "end"
)

// Synthesizer is the speech provider client.
type Synthesizer interface {
	Synthesize(ctx context.Context, call SynthesisCall) (*SynthesisOutput, error)
	Converse(ctx context.Context, call ConversationCall) (*ConversationOutput, error)
}

type SynthesisCall struct {
	Text    string
	VoiceID string
	ModelID string
}

type SynthesisOutput struct {
	Audio       []byte
	ContentType string
}

type ConversationCall struct {
	AgentID        string
	ConversationID string
	Action         ConversationAction
	Message        string
}

type ConversationOutput struct {
	ConversationID string
	Reply          string
	Audio          []byte
}

type SpeechRequest struct {
	UserID  int64  `json:"-"`
	Text    string `json:"text"`
	VoiceID string `json:"voice_id"`
	ModelID string `json:"model_id"`
}

type ConversationRequest struct {
	UserID         int64              `json:"-"`
	AgentID        string             `json:"agent_id"`
	ConversationID string             `json:"conversation_id"`
	Action         ConversationAction `json:"action"`
	Message        string             `json:"message"`
}

// UpstreamError reports a failed provider call. StatusCode is the provider's
// HTTP status, or 502 when the call failed before a response.
type UpstreamError struct {
	StatusCode int
	Details    string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream failed with status %d: %s", e.StatusCode, e.Details)
}

func (e *UpstreamError) Unwrap() error { return ErrUpstreamFailed }

func (e *UpstreamError) RateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

func asUpstreamError(err error) *UpstreamError {
	var upstream *UpstreamError
	if errors.As(err, &upstream) {
		return upstream
	}
	status := http.StatusBadGateway
	if errors.Is(err, context.DeadlineExceeded) {
		status = http.StatusGatewayTimeout
	}
	return &UpstreamError{StatusCode: status, Details: err.Error()}
}

var (
	ErrInvalidUser         = errors.New("invalid_user")
	ErrEmptyText           = errors.New("empty_text")
	ErrTextTooLong         = errors.New("text_too_long")
	ErrInvalidVoice        = errors.New("invalid_voice")
	ErrInvalidAgent        = errors.New("invalid_agent")
	ErrInvalidAction       = errors.New("invalid_action")
	ErrUpstreamFailed      = errors.New("upstream_failed")
	ErrUpstreamUnavailable = errors.New("upstream_unavailable")
)
