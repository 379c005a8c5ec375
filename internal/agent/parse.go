package agent

import (
	"encoding/json"
	"fmt"
)

type envelope struct {
	Type      string          `json:"type"`
	Subtype   string          `json:"subtype"`
	RequestID string          `json:"request_id"`
	Request   json.RawMessage `json:"request"`
	Response  json.RawMessage `json:"response"`
	Message   json.RawMessage `json:"message"`
	Parent    *string         `json:"parent_tool_use_id"`

	IsError      bool           `json:"is_error"`
	Result       string         `json:"result"`
	SessionID    string         `json:"session_id"`
	DurationMS   int64          `json:"duration_ms"`
	NumTurns     int            `json:"num_turns"`
	TotalCostUSD *float64       `json:"total_cost_usd"`
	Usage        map[string]any `json:"usage"`
}

type messageBody struct {
	Model   string          `json:"model"`
	Content json.RawMessage `json:"content"`
}

type rawBlock struct {
	Type      string         `json:"type"`
	Text      string         `json:"text"`
	Thinking  string         `json:"thinking"`
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Input     map[string]any `json:"input"`
	ToolUseID string         `json:"tool_use_id"`
	Content   any            `json:"content"`
	IsError   bool           `json:"is_error"`
}

// ParseMessage decodes one stream-json line. Lines that are not conversation
// messages (control traffic, partial stream events) yield a nil Message.
func ParseMessage(line []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(line, &env); err != nil {
		return nil, fmt.Errorf("decode stream line: %w", err)
	}
	return env.toMessage(line)
}

func (env envelope) toMessage(line []byte) (Message, error) {
	parent := ""
	if env.Parent != nil {
		parent = *env.Parent
	}

	switch env.Type {
	case "assistant":
		body, blocks, err := decodeBody(env.Message)
		if err != nil {
			return nil, err
		}
		return &AssistantMessage{Model: body.Model, Blocks: blocks, ParentToolUseID: parent}, nil
	case "user":
		_, blocks, err := decodeBody(env.Message)
		if err != nil {
			return nil, err
		}
		return &UserMessage{Blocks: blocks, ParentToolUseID: parent}, nil
	case "system":
		data := map[string]any{}
		if err := json.Unmarshal(line, &data); err != nil {
			return nil, fmt.Errorf("decode system message: %w", err)
		}
		delete(data, "type")
		delete(data, "subtype")
		return &SystemMessage{Subtype: env.Subtype, Data: data}, nil
	case "result":
		return &ResultMessage{
			Subtype:      env.Subtype,
			IsError:      env.IsError,
			Result:       env.Result,
			SessionID:    env.SessionID,
			DurationMS:   env.DurationMS,
			NumTurns:     env.NumTurns,
			TotalCostUSD: env.TotalCostUSD,
			Usage:        env.Usage,
		}, nil
	default:
		return nil, nil
	}
}

func decodeBody(raw json.RawMessage) (messageBody, []ContentBlock, error) {
	var body messageBody
	if len(raw) == 0 {
		return body, nil, nil
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return body, nil, fmt.Errorf("decode message body: %w", err)
	}
	if len(body.Content) == 0 {
		return body, nil, nil
	}

	var text string
	if err := json.Unmarshal(body.Content, &text); err == nil {
		return body, []ContentBlock{TextBlock{Text: text}}, nil
	}

	var raws []rawBlock
	if err := json.Unmarshal(body.Content, &raws); err != nil {
		return body, nil, fmt.Errorf("decode content blocks: %w", err)
	}
	blocks := make([]ContentBlock, 0, len(raws))
	for _, b := range raws {
		switch b.Type {
		case "text":
			blocks = append(blocks, TextBlock{Text: b.Text})
		case "thinking":
			blocks = append(blocks, ThinkingBlock{Thinking: b.Thinking})
		case "tool_use":
			blocks = append(blocks, ToolUseBlock{ID: b.ID, Name: b.Name, Input: b.Input})
		case "tool_result":
			blocks = append(blocks, ToolResultBlock{ToolUseID: b.ToolUseID, Content: b.Content, IsError: b.IsError})
		}
	}
	return body, blocks, nil
}
