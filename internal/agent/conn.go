package agent

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
)

const (
	preToolUseCallbackID = "hook_0"
	messageBuffer        = 256
	maxLineBytes         = 32 << 20
)

// ErrNotConnected is returned by operations on a client without a live runtime.
var ErrNotConnected = errors.New("agent runtime not connected")

type controlResult struct {
	payload json.RawMessage
	err     error
}

type controlResponse struct {
	Subtype   string          `json:"subtype"`
	RequestID string          `json:"request_id"`
	Response  json.RawMessage `json:"response"`
	Error     string          `json:"error"`
}

type controlRequest struct {
	Subtype    string         `json:"subtype"`
	CallbackID string         `json:"callback_id"`
	Input      map[string]any `json:"input"`
	ToolUseID  string         `json:"tool_use_id"`
}

// conn speaks the runtime's stream-json protocol over a pair of byte streams.
type conn struct {
	w       io.Writer
	r       io.Reader
	hook    HookFunc
	logger  *slog.Logger
	writeMu sync.Mutex

	messages chan Message

	pendingMu sync.Mutex
	pending   map[string]chan controlResult
	nextID    atomic.Int64

	// abandoned counts turns whose remaining messages nobody will read.
	abandoned atomic.Int32
	recvMu    sync.Mutex
	lastRecv  chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	done    chan struct{}
	readErr error
}

func newConn(w io.Writer, r io.Reader, hook HookFunc, logger *slog.Logger) *conn {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &conn{
		w:        w,
		r:        r,
		hook:     hook,
		logger:   logger,
		messages: make(chan Message, messageBuffer),
		pending:  make(map[string]chan controlResult),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

func (c *conn) start() {
	go c.readLoop()
}

// close releases hook callbacks that are still waiting.
func (c *conn) close() {
	c.cancel()
}

// initialize registers the PreToolUse hook with the runtime.
func (c *conn) initialize(ctx context.Context) error {
	request := map[string]any{"subtype": "initialize"}
	if c.hook != nil {
		request["hooks"] = map[string]any{
			"PreToolUse": []map[string]any{
				{"matcher": nil, "hookCallbackIds": []string{preToolUseCallbackID}},
			},
		}
	}
	_, err := c.request(ctx, request)
	return err
}

// interrupt asks the runtime to stop the current turn.
func (c *conn) interrupt(ctx context.Context) error {
	_, err := c.request(ctx, map[string]any{"subtype": "interrupt"})
	return err
}

func (c *conn) request(ctx context.Context, request map[string]any) (json.RawMessage, error) {
	id := "req_" + strconv.FormatInt(c.nextID.Add(1), 10)
	ch := make(chan controlResult, 1)

	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	if err := c.writeJSON(map[string]any{
		"type":       "control_request",
		"request_id": id,
		"request":    request,
	}); err != nil {
		return nil, err
	}

	select {
	case res := <-ch:
		return res.payload, res.err
	case <-c.done:
		return nil, c.exitError()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *conn) sendUser(prompt, sessionID string) error {
	if sessionID == "" {
		sessionID = "default"
	}
	return c.writeJSON(map[string]any{
		"type": "user",
		"message": map[string]any{
			"role":    "user",
			"content": prompt,
		},
		"parent_tool_use_id": nil,
		"session_id":         sessionID,
	})
}

// receive forwards the current turn's messages. A receiver that stops before
// the ResultMessage abandons its turn, and later receivers discard messages up
// to and including that turn's result. Receivers run one at a time in call order.
func (c *conn) receive(ctx context.Context) (<-chan Message, error) {
	select {
	case <-c.done:
		return nil, c.exitError()
	default:
	}

	c.recvMu.Lock()
	prev := c.lastRecv
	exited := make(chan struct{})
	c.lastRecv = exited
	c.recvMu.Unlock()

	out := make(chan Message)
	go func() {
		defer close(exited)
		defer close(out)
		finished := false
		defer func() {
			if !finished {
				c.abandoned.Add(1)
			}
		}()
		if prev != nil {
			select {
			case <-prev:
			case <-ctx.Done():
				return
			}
		}
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-c.messages:
				if !ok {
					finished = true
					return
				}
				_, isResult := msg.(*ResultMessage)
				if c.abandoned.Load() > 0 {
					if isResult {
						c.abandoned.Add(-1)
					}
					c.logger.Debug("discarding message from abandoned turn", "result", isResult)
					continue
				}
				finished = isResult
				select {
				case out <- msg:
				case <-ctx.Done():
					return
				}
				if isResult {
					return
				}
			}
		}
	}()
	return out, nil
}

func (c *conn) exitError() error {
	if c.readErr != nil {
		return fmt.Errorf("agent runtime stream closed: %w", c.readErr)
	}
	return errors.New("agent runtime stream closed")
}

func (c *conn) writeJSON(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode stream message: %w", err)
	}
	payload = append(payload, '\n')

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.w.Write(payload); err != nil {
		return fmt.Errorf("write stream message: %w", err)
	}
	return nil
}

func (c *conn) readLoop() {
	defer close(c.done)
	defer close(c.messages)

	scanner := bufio.NewScanner(c.r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var env envelope
		if err := json.Unmarshal(line, &env); err != nil {
			c.logger.Debug("skipping non-json runtime output", "line", string(line))
			continue
		}

		switch env.Type {
		case "control_response":
			c.deliver(env.Response)
		case "control_request":
			go c.handleControl(env.RequestID, env.Request)
		case "control_cancel_request":
			c.logger.Debug("runtime cancelled control request", "request_id", env.RequestID)
		default:
			msg, err := env.toMessage(line)
			if err != nil {
				c.logger.Warn("failed to decode runtime message", "error", err)
				continue
			}
			if msg == nil {
				continue
			}
			select {
			case c.messages <- msg:
			case <-c.ctx.Done():
				return
			}
		}
	}
	c.readErr = scanner.Err()

	c.pendingMu.Lock()
	for id, ch := range c.pending {
		ch <- controlResult{err: errors.New("agent runtime exited before responding")}
		delete(c.pending, id)
	}
	c.pendingMu.Unlock()
}

func (c *conn) deliver(raw json.RawMessage) {
	var resp controlResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		c.logger.Warn("malformed control response", "error", err)
		return
	}

	c.pendingMu.Lock()
	ch, ok := c.pending[resp.RequestID]
	if ok {
		delete(c.pending, resp.RequestID)
	}
	c.pendingMu.Unlock()
	if !ok {
		c.logger.Debug("control response for unknown request", "request_id", resp.RequestID)
		return
	}

	if resp.Subtype == "error" {
		ch <- controlResult{err: fmt.Errorf("agent runtime rejected request: %s", resp.Error)}
		return
	}
	ch <- controlResult{payload: resp.Response}
}

func (c *conn) handleControl(requestID string, raw json.RawMessage) {
	var req controlRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		c.replyError(requestID, fmt.Sprintf("malformed control request: %v", err))
		return
	}

	switch req.Subtype {
	case "hook_callback":
		if c.hook == nil || req.CallbackID != preToolUseCallbackID {
			c.replySuccess(requestID, map[string]any{})
			return
		}
		out, err := c.hook(c.ctx, hookInput(req))
		if err != nil {
			c.replyError(requestID, err.Error())
			return
		}
		c.replySuccess(requestID, out)
	default:
		c.replyError(requestID, "unsupported control request: "+req.Subtype)
	}
}

func hookInput(req controlRequest) HookInput {
	in := HookInput{ToolUseID: req.ToolUseID}
	str := func(key string) string {
		v, _ := req.Input[key].(string)
		return v
	}
	in.SessionID = str("session_id")
	in.HookEventName = str("hook_event_name")
	in.ToolName = str("tool_name")
	in.Cwd = str("cwd")
	if in.ToolUseID == "" {
		in.ToolUseID = str("tool_use_id")
	}
	if toolInput, ok := req.Input["tool_input"].(map[string]any); ok {
		in.ToolInput = toolInput
	} else {
		in.ToolInput = map[string]any{}
	}
	return in
}

func (c *conn) replySuccess(requestID string, response any) {
	c.reply(map[string]any{
		"subtype":    "success",
		"request_id": requestID,
		"response":   response,
	})
}

func (c *conn) replyError(requestID, message string) {
	c.reply(map[string]any{
		"subtype":    "error",
		"request_id": requestID,
		"error":      message,
	})
}

func (c *conn) reply(response map[string]any) {
	if err := c.writeJSON(map[string]any{
		"type":     "control_response",
		"response": response,
	}); err != nil {
		c.logger.Warn("failed to answer control request", "error", err)
	}
}
