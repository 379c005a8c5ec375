package agent

import "context"

// Client is a connection to the agent runtime. It is not safe for concurrent queries.
type Client interface {
	Connect(ctx context.Context) error
	Disconnect() error
	Query(ctx context.Context, prompt, sessionID string) error
	// ReceiveResponse yields messages for the current query and closes after the
	// ResultMessage, when the runtime exits, or when ctx is done.
	ReceiveResponse(ctx context.Context) (<-chan Message, error)
	// Interrupt asks the runtime to stop the turn in progress.
	Interrupt(ctx context.Context) error
}

// Factory builds a fresh client from options.
type Factory func(Options) Client

// Message is one decoded runtime message: *AssistantMessage, *UserMessage,
// *SystemMessage or *ResultMessage.
type Message interface {
	messageType() string
}

// ContentBlock is one piece of an assistant or user message.
type ContentBlock interface {
	blockType() string
}

type TextBlock struct {
	Text string
}

type ThinkingBlock struct {
	Thinking string
}

type ToolUseBlock struct {
	ID    string
	Name  string
	Input map[string]any
}

type ToolResultBlock struct {
	ToolUseID string
	// Content is a string or a list of content parts as sent by the runtime.
	Content any
	IsError bool
}

func (TextBlock) blockType() string       { return "text" }
func (ThinkingBlock) blockType() string   { return "thinking" }
func (ToolUseBlock) blockType() string    { return "tool_use" }
func (ToolResultBlock) blockType() string { return "tool_result" }

type AssistantMessage struct {
	Model           string
	Blocks          []ContentBlock
	ParentToolUseID string
}

type UserMessage struct {
	Blocks          []ContentBlock
	ParentToolUseID string
}

type SystemMessage struct {
	Subtype string
	Data    map[string]any
}

type ResultMessage struct {
	Subtype      string
	IsError      bool
	Result       string
	SessionID    string
	DurationMS   int64
	NumTurns     int
	TotalCostUSD *float64
	Usage        map[string]any
}

func (*AssistantMessage) messageType() string { return "assistant" }
func (*UserMessage) messageType() string      { return "user" }
func (*SystemMessage) messageType() string    { return "system" }
func (*ResultMessage) messageType() string    { return "result" }

// HookInput is the payload of a PreToolUse hook callback.
type HookInput struct {
	SessionID     string
	HookEventName string
	ToolName      string
	ToolInput     map[string]any
	ToolUseID     string
	Cwd           string
}

// HookFunc decides whether a tool call may proceed. It may block until a human answers.
type HookFunc func(ctx context.Context, input HookInput) (HookOutput, error)

const (
	PermissionAllow = "allow"
	PermissionDeny  = "deny"
)

// HookOutput is returned to the runtime verbatim.
type HookOutput struct {
	Decision           string             `json:"decision,omitempty"`
	Reason             string             `json:"reason,omitempty"`
	HookSpecificOutput *PreToolUseOutcome `json:"hookSpecificOutput,omitempty"`
}

type PreToolUseOutcome struct {
	HookEventName            string `json:"hookEventName"`
	PermissionDecision       string `json:"permissionDecision"`
	PermissionDecisionReason string `json:"permissionDecisionReason,omitempty"`
}

// Allow lets the tool call run.
func Allow(reason string) HookOutput {
	return HookOutput{HookSpecificOutput: &PreToolUseOutcome{
		HookEventName:            "PreToolUse",
		PermissionDecision:       PermissionAllow,
		PermissionDecisionReason: reason,
	}}
}

// Deny blocks the tool call and tells the model why.
func Deny(reason string) HookOutput {
	return HookOutput{
		Decision: "block",
		Reason:   reason,
		HookSpecificOutput: &PreToolUseOutcome{
			HookEventName:            "PreToolUse",
			PermissionDecision:       PermissionDeny,
			PermissionDecisionReason: reason,
		},
	}
}
