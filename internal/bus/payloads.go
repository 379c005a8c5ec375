package bus

import "encoding/json"

// Wire payloads, one per event kind. Fields a client always reads are never
// omitted, even at their zero value.

type assistantTextPayload struct {
	Type EventType `json:"type"`
	Text string    `json:"text"`
}

type toolUsePayload struct {
	Type      EventType      `json:"type"`
	ToolName  string         `json:"toolName"`
	ToolUseID string         `json:"toolUseId"`
	Input     map[string]any `json:"input"`
}

type toolResultPayload struct {
	Type          EventType `json:"type"`
	ToolUseID     string    `json:"toolUseId"`
	Content       any       `json:"content"`
	IsError       bool      `json:"isError"`
	ToolName      string    `json:"toolName,omitempty"`
	Path          string    `json:"path,omitempty"`
	CanonicalPath string    `json:"canonicalPath,omitempty"`
	RelativePath  string    `json:"relativePath,omitempty"`
	Snippet       string    `json:"snippet,omitempty"`
}

type systemPayload struct {
	Type    EventType      `json:"type"`
	Subtype string         `json:"subtype"`
	Data    map[string]any `json:"data"`
}

type resultPayload struct {
	Type       EventType      `json:"type"`
	Subtype    string         `json:"subtype"`
	IsError    bool           `json:"isError"`
	Text       string         `json:"text,omitempty"`
	SessionID  string         `json:"sessionId,omitempty"`
	Usage      map[string]any `json:"usage,omitempty"`
	Cost       *float64       `json:"cost,omitempty"`
	DurationMS int64          `json:"durationMs,omitempty"`
}

type completePayload struct {
	Type EventType `json:"type"`
}

type errorPayload struct {
	Type      EventType `json:"type"`
	Message   string    `json:"message"`
	RequestID string    `json:"requestId,omitempty"`
	ToolName  string    `json:"toolName,omitempty"`
	Path      string    `json:"path,omitempty"`
}

type permissionRequestPayload struct {
	Type          EventType      `json:"type"`
	RequestID     string         `json:"requestId"`
	ToolName      string         `json:"toolName"`
	Input         map[string]any `json:"input"`
	Path          string         `json:"path"`
	ToolUseID     string         `json:"toolUseId,omitempty"`
	CanonicalPath string         `json:"canonicalPath,omitempty"`
	RelativePath  string         `json:"relativePath,omitempty"`
	Diff          string         `json:"diff,omitempty"`
}

type permissionResolutionPayload struct {
	Type      EventType `json:"type"`
	RequestID string    `json:"requestId"`
	ToolName  string    `json:"toolName"`
	Decision  string    `json:"decision"`
	Remember  bool      `json:"remember"`
	Path      string    `json:"path,omitempty"`
}

// payload projects e onto the wire shape of its kind.
func (e Event) payload() any {
	switch e.Type {
	case EventAssistantText:
		return assistantTextPayload{Type: e.Type, Text: e.Text}
	case EventToolUse:
		return toolUsePayload{Type: e.Type, ToolName: e.ToolName, ToolUseID: e.ToolUseID, Input: nonNil(e.Input)}
	case EventToolResult:
		return toolResultPayload{
			Type:          e.Type,
			ToolUseID:     e.ToolUseID,
			Content:       e.Content,
			IsError:       e.IsError,
			ToolName:      e.ToolName,
			Path:          e.Path,
			CanonicalPath: e.CanonicalPath,
			RelativePath:  e.RelativePath,
			Snippet:       e.Snippet,
		}
	case EventSystem:
		return systemPayload{Type: e.Type, Subtype: e.Subtype, Data: nonNil(e.Data)}
	case EventResult:
		return resultPayload{
			Type:       e.Type,
			Subtype:    e.Subtype,
			IsError:    e.IsError,
			Text:       e.Text,
			SessionID:  e.SessionID,
			Usage:      e.Usage,
			Cost:       e.Cost,
			DurationMS: e.DurationMS,
		}
	case EventComplete:
		return completePayload{Type: e.Type}
	case EventError:
		return errorPayload{Type: e.Type, Message: e.Message, RequestID: e.RequestID, ToolName: e.ToolName, Path: e.Path}
	case EventPermissionRequest:
		return permissionRequestPayload{
			Type:          e.Type,
			RequestID:     e.RequestID,
			ToolName:      e.ToolName,
			Input:         nonNil(e.Input),
			Path:          e.Path,
			ToolUseID:     e.ToolUseID,
			CanonicalPath: e.CanonicalPath,
			RelativePath:  e.RelativePath,
			Diff:          e.Diff,
		}
	case EventPermissionResolution:
		return permissionResolutionPayload{
			Type:      e.Type,
			RequestID: e.RequestID,
			ToolName:  e.ToolName,
			Decision:  e.Decision,
			Remember:  e.Remember,
			Path:      e.Path,
		}
	default:
		type plain Event
		return plain(e)
	}
}

// MarshalJSON writes only the fields that belong to e's kind.
func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.payload())
}

func nonNil(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
