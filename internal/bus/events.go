package bus

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

type requestIDContextKey struct{}

// EventType discriminates stream events sent to the desktop app.
type EventType string

const (
	EventAssistantText        EventType = "assistant_text"
	EventToolUse              EventType = "tool_use"
	EventToolResult           EventType = "tool_result"
	EventSystem               EventType = "system"
	EventResult               EventType = "result"
	EventComplete             EventType = "complete"
	EventError                EventType = "error"
	EventPermissionRequest    EventType = "permission_request"
	EventPermissionResolution EventType = "permission_resolution"
)

// Terminal reports whether no further events follow t in a stream.
func (t EventType) Terminal() bool {
	return t == EventComplete || t == EventError
}

// Event is one frame of a query stream. Only the fields relevant to Type are set.
type Event struct {
	Type EventType `json:"type"`

	Text    string `json:"text,omitempty"`
	Message string `json:"message,omitempty"`
	Subtype string `json:"subtype,omitempty"`

	RequestID     string         `json:"requestId,omitempty"`
	ToolName      string         `json:"toolName,omitempty"`
	ToolUseID     string         `json:"toolUseId,omitempty"`
	Input         map[string]any `json:"input,omitempty"`
	Path          string         `json:"path,omitempty"`
	CanonicalPath string         `json:"canonicalPath,omitempty"`
	RelativePath  string         `json:"relativePath,omitempty"`
	Diff          string         `json:"diff,omitempty"`
	Content       any            `json:"content,omitempty"`
	IsError       bool           `json:"isError,omitempty"`
	Snippet       string         `json:"snippet,omitempty"`
	Decision      string         `json:"decision,omitempty"`
	Remember      bool           `json:"remember,omitempty"`

	SessionID  string         `json:"sessionId,omitempty"`
	Usage      map[string]any `json:"usage,omitempty"`
	Cost       *float64       `json:"cost,omitempty"`
	DurationMS int64          `json:"durationMs,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
}

func ErrorEvent(message string) Event {
	return Event{Type: EventError, Message: message}
}

func CompleteEvent() Event {
	return Event{Type: EventComplete}
}

func AssistantTextEvent(text string) Event {
	return Event{Type: EventAssistantText, Text: text}
}

// NewRequestID creates a request id for tracing.
func NewRequestID() string {
	return uuid.NewString()
}

// WithRequestID adds a request id to context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDContextKey{}, requestID)
}

// RequestIDFromContext reads request id from context.
func RequestIDFromContext(ctx context.Context) string {
	v := ctx.Value(requestIDContextKey{})
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}
