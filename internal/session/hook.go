package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/MEKXH/familiar/internal/agent"
	"github.com/MEKXH/familiar/internal/approval"
	"github.com/MEKXH/familiar/internal/audit"
	"github.com/MEKXH/familiar/internal/bus"
	"github.com/MEKXH/familiar/internal/config"
	"github.com/MEKXH/familiar/internal/tools"
)

const (
	reasonApproved  = "User approved"
	reasonAutoAllow = "Previously approved"
	reasonDenied    = "User denied"
	reasonOutside   = "path outside workspace"
	reasonCancelled = "request cancelled"
	reasonDuplicate = "duplicate permission request"
)

// preToolUse gates every tool call made on connection serial: first the
// workspace guard, then the always-allow rules, then a human decision. A call
// that belongs to no running query is denied.
func (s *Session) preToolUse(ctx context.Context, serial uint64, in agent.HookInput) (agent.HookOutput, error) {
	requestID := in.ToolUseID
	if requestID == "" {
		requestID = bus.NewRequestID()
	}
	input := in.ToolInput
	if input == nil {
		input = map[string]any{}
	}

	q := s.queryFor(serial)
	if q == nil {
		s.logger.Warn("tool call outside a running query", "request_id", requestID, "tool", in.ToolName)
		s.recordDecision(requestID, tools.Context{ToolName: in.ToolName}, approval.DecisionDeny, audit.SourceCancelled, false, reasonCancelled)
		return agent.Deny(reasonCancelled), nil
	}

	tc := s.deps.Resolver.Resolve(in.ToolName, input)
	if tc.Outside {
		s.emit(q, bus.Event{
			Type:      bus.EventError,
			Message:   fmt.Sprintf("Denied %s: %s (%s)", in.ToolName, reasonOutside, tc.RawPath),
			RequestID: requestID,
			ToolName:  in.ToolName,
			Path:      tc.RawPath,
		})
		s.recordDecision(requestID, tc, approval.DecisionDeny, audit.SourceGuard, false, reasonOutside)
		return agent.Deny(reasonOutside), nil
	}
	s.trackTool(requestID, tc)

	if tc.Canonical != "" && s.deps.Resolver.ShouldAutoAllow(in.ToolName, tc.Canonical) {
		s.recordDecision(requestID, tc, approval.DecisionAllow, audit.SourceAutoAllow, false, reasonAutoAllow)
		return agent.Allow(reasonAutoAllow), nil
	}

	req := approval.Request{
		ID:           requestID,
		ToolName:     in.ToolName,
		Input:        input,
		Path:         tc.Canonical,
		RelativePath: tc.Relative,
		Diff:         tc.Diff,
		CreatedAt:    s.now(),
	}
	wait, err := s.deps.Broker.Register(requestID, req)
	if err != nil {
		if errors.Is(err, approval.ErrDuplicateRequest) {
			s.logger.Warn("duplicate permission request", "request_id", requestID, "tool", in.ToolName)
			return agent.Deny(reasonDuplicate), nil
		}
		return agent.HookOutput{}, err
	}

	s.emit(q, bus.Event{
		Type:          bus.EventPermissionRequest,
		RequestID:     requestID,
		ToolName:      in.ToolName,
		ToolUseID:     in.ToolUseID,
		Input:         input,
		Path:          displayPath(tc),
		CanonicalPath: tc.Canonical,
		RelativePath:  tc.Relative,
		Diff:          tc.Diff,
	})
	s.logger.Info("awaiting permission", "request_id", requestID, "tool", in.ToolName, "path", tc.Canonical)

	var res approval.Resolution
	select {
	case res = <-wait:
	case <-ctx.Done():
		return s.withdraw(requestID, tc), nil
	case <-q.done:
		return s.withdraw(requestID, tc), nil
	}

	s.emit(q, bus.Event{
		Type:      bus.EventPermissionResolution,
		RequestID: requestID,
		ToolName:  in.ToolName,
		Path:      displayPath(tc),
		Decision:  string(res.Decision),
		Remember:  res.Remember,
	})

	if res.Decision != approval.DecisionAllow {
		s.recordDecision(requestID, tc, approval.DecisionDeny, audit.SourceUser, false, reasonDenied)
		s.emit(q, bus.Event{
			Type:      bus.EventError,
			Message:   fmt.Sprintf("Permission denied for %s.", in.ToolName),
			RequestID: requestID,
			ToolName:  in.ToolName,
			Path:      displayPath(tc),
		})
		return agent.Deny(reasonDenied), nil
	}

	if res.Remember && tc.Canonical != "" {
		s.rememberRule(in.ToolName, tc.Canonical)
	}
	s.recordDecision(requestID, tc, approval.DecisionAllow, audit.SourceUser, res.Remember, reasonApproved)
	return agent.Allow(reasonApproved), nil
}

// withdraw denies a request nobody is waiting on anymore.
func (s *Session) withdraw(requestID string, tc tools.Context) agent.HookOutput {
	s.deps.Broker.Withdraw(requestID)
	s.recordDecision(requestID, tc, approval.DecisionDeny, audit.SourceCancelled, false, reasonCancelled)
	return agent.Deny(reasonCancelled)
}

// rememberRule adds an always-allow rule. Like any config change it flags the
// connection for restart; the running query keeps its connection.
func (s *Session) rememberRule(tool, canonical string) {
	s.deps.Resolver.RecordAutoAllow(tool, canonical)

	s.mu.Lock()
	rules := config.Settings{AlwaysAllow: s.cfg.AlwaysAllow}
	rules.AddAlwaysAllow(tool, canonical)
	s.cfg.AlwaysAllow = rules.AlwaysAllow
	s.needsRestart = true
	s.generation++
	s.mu.Unlock()

	if s.deps.RuleSink != nil {
		if err := s.deps.RuleSink(tool, canonical); err != nil {
			s.logger.Warn("failed to persist always-allow rule", "tool", tool, "path", canonical, "error", err)
		}
	}
}

func (s *Session) recordDecision(requestID string, tc tools.Context, decision approval.Decision, source string, remember bool, reason string) {
	s.deps.Metrics.RecordPermission(string(decision), source)
	path := tc.Canonical
	if path == "" {
		path = tc.RawPath
	}
	swallow(s.logger, "audit permission decision", s.audit.Append(audit.Event{
		Time:      s.now(),
		Type:      audit.TypePermissionDecision,
		RequestID: requestID,
		Tool:      tc.ToolName,
		Path:      path,
		Decision:  string(decision),
		Source:    source,
		Remember:  remember,
		Reason:    reason,
	}))
}
