package session

import (
	"context"
	"time"

	"github.com/MEKXH/familiar/internal/agent"
	"github.com/MEKXH/familiar/internal/audit"
	"github.com/MEKXH/familiar/internal/bus"
	"github.com/MEKXH/familiar/internal/tools"
)

const (
	msgStreamEnded = "Claude stream ended unexpectedly."

	interruptTimeout = 2 * time.Second
)

// pump drains one response into queue until the result message arrives.
func (s *Session) pump(ctx context.Context, client agent.Client, queue *bus.Queue) {
	messages, err := client.ReceiveResponse(ctx)
	if err != nil {
		s.markRestart()
		queue.Push(bus.ErrorEvent("Failed to read Claude response: " + err.Error()))
		return
	}

	for {
		select {
		case <-ctx.Done():
			s.abandon(client)
			return
		case msg, ok := <-messages:
			if !ok {
				if ctx.Err() != nil {
					s.abandon(client)
					return
				}
				s.markRestart()
				queue.Push(bus.ErrorEvent(msgStreamEnded))
				return
			}
			for _, ev := range s.normalize(msg) {
				queue.Push(ev)
			}
			if _, done := msg.(*agent.ResultMessage); done {
				queue.Push(bus.CompleteEvent())
				return
			}
		}
	}
}

// abandon gives up on a turn whose result never arrived. The runtime is asked
// to stop and the connection is replaced before the next query.
func (s *Session) abandon(client agent.Client) {
	s.markRestart()
	ctx, cancel := context.WithTimeout(context.Background(), interruptTimeout)
	defer cancel()
	swallow(s.logger, "interrupt abandoned turn", client.Interrupt(ctx))
	s.logger.Info("query abandoned before result")
}

func (s *Session) normalize(msg agent.Message) []bus.Event {
	switch m := msg.(type) {
	case *agent.AssistantMessage:
		var events []bus.Event
		for _, block := range m.Blocks {
			switch b := block.(type) {
			case agent.TextBlock:
				if b.Text != "" {
					events = append(events, bus.AssistantTextEvent(b.Text))
				}
			case agent.ToolUseBlock:
				s.observeToolUse(b)
				events = append(events, bus.Event{
					Type:      bus.EventToolUse,
					ToolName:  b.Name,
					ToolUseID: b.ID,
					Input:     b.Input,
				})
			}
		}
		return events
	case *agent.UserMessage:
		var events []bus.Event
		for _, block := range m.Blocks {
			if b, ok := block.(agent.ToolResultBlock); ok {
				events = append(events, s.toolResultEvent(b))
			}
		}
		return events
	case *agent.SystemMessage:
		return []bus.Event{{Type: bus.EventSystem, Subtype: m.Subtype, Data: m.Data}}
	case *agent.ResultMessage:
		return []bus.Event{{
			Type:       bus.EventResult,
			Subtype:    m.Subtype,
			Text:       m.Result,
			IsError:    m.IsError,
			SessionID:  m.SessionID,
			Usage:      m.Usage,
			Cost:       m.TotalCostUSD,
			DurationMS: m.DurationMS,
		}}
	default:
		return nil
	}
}

// observeToolUse remembers where a write tool points so its result can be annotated.
func (s *Session) observeToolUse(b agent.ToolUseBlock) {
	if b.ID == "" || !tools.IsWriteTool(b.Name) {
		return
	}
	s.toolsMu.Lock()
	_, seen := s.toolUses[b.ID]
	s.toolsMu.Unlock()
	if seen {
		return
	}
	raw := tools.TargetPath(b.Input)
	canonical, relative, ok := tools.Canonicalize(raw, s.deps.Resolver.Workspace())
	if !ok {
		return
	}
	s.trackTool(b.ID, tools.Context{ToolName: b.Name, Write: true, RawPath: raw, Canonical: canonical, Relative: relative})
}

func (s *Session) trackTool(id string, tc tools.Context) {
	if id == "" || tc.Canonical == "" {
		return
	}
	s.toolsMu.Lock()
	s.toolUses[id] = tc
	s.toolsMu.Unlock()
}

func (s *Session) takeTool(id string) (tools.Context, bool) {
	s.toolsMu.Lock()
	defer s.toolsMu.Unlock()
	tc, ok := s.toolUses[id]
	if ok {
		delete(s.toolUses, id)
	}
	return tc, ok
}

func (s *Session) toolResultEvent(b agent.ToolResultBlock) bus.Event {
	ev := bus.Event{
		Type:      bus.EventToolResult,
		ToolUseID: b.ToolUseID,
		Content:   b.Content,
		IsError:   b.IsError,
	}

	tc, ok := s.takeTool(b.ToolUseID)
	if !ok {
		if req, pending := s.deps.Broker.Get(b.ToolUseID); pending && req.Path != "" {
			tc = tools.Context{ToolName: req.ToolName, Canonical: req.Path, Relative: req.RelativePath}
			ok = true
		}
	}
	if !ok {
		return ev
	}

	ev.ToolName = tc.ToolName
	ev.Path = displayPath(tc)
	ev.CanonicalPath = tc.Canonical
	ev.RelativePath = tc.Relative
	if !b.IsError {
		ev.Snippet, _ = s.deps.Resolver.Snippet(tc.Canonical, tools.DefaultSnippetChars)
	}
	swallow(s.logger, "audit tool result", s.audit.Append(audit.Event{
		Time:      s.now(),
		Type:      audit.TypeToolResult,
		RequestID: b.ToolUseID,
		Tool:      tc.ToolName,
		Path:      tc.Canonical,
	}))
	return ev
}

func displayPath(tc tools.Context) string {
	if tc.Relative != "" {
		return tc.Relative
	}
	if tc.Canonical != "" {
		return tc.Canonical
	}
	return tc.RawPath
}
