package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MEKXH/familiar/internal/agent"
	"github.com/MEKXH/familiar/internal/approval"
	"github.com/MEKXH/familiar/internal/audit"
	"github.com/MEKXH/familiar/internal/bus"
	"github.com/MEKXH/familiar/internal/claudecli"
	"github.com/MEKXH/familiar/internal/config"
	"github.com/MEKXH/familiar/internal/metrics"
	"github.com/MEKXH/familiar/internal/tools"
	"github.com/cenkalti/backoff/v4"
)

const (
	DefaultSessionID = "default"

	msgQueryRunning = "A query is already running for this session."
	apiKeyEnv       = "ANTHROPIC_API_KEY"
)

// ErrNotReady is returned when the session configuration cannot support a connection.
var ErrNotReady = errors.New("session not configured")

// NotReadyError carries the user-facing configuration message.
type NotReadyError struct {
	Message string
}

func (e *NotReadyError) Error() string { return e.Message }

func (e *NotReadyError) Is(target error) bool { return target == ErrNotReady }

// AgentSettings are the runtime options that do not change with the session config.
type AgentSettings struct {
	Model          string
	PermissionMode string
	AllowedTools   []string
	MCPServers     map[string]agent.MCPServer
}

// Deps wires a Session to its collaborators. Factory, Broker and Resolver are required.
type Deps struct {
	Factory  agent.Factory
	Runner   *claudecli.Runner
	Broker   *approval.Broker
	Resolver *tools.Resolver
	Audit    audit.Recorder
	Metrics  *metrics.Metrics
	// RuleSink persists an always-allow rule chosen with "remember".
	RuleSink func(tool, path string) error
	Agent    AgentSettings
	Logger   *slog.Logger
}

// activeQuery is the stream a running query reports into.
type activeQuery struct {
	queue *bus.Queue
	// done closes when the query ends for any reason.
	done <-chan struct{}
	// serial identifies the connection the prompt went out on.
	serial atomic.Uint64
}

// ConfigUpdate changes selected SessionConfig fields. Nil fields are left alone.
type ConfigUpdate struct {
	APIKey              *string
	Workspace           *string
	AlwaysAllow         map[string][]string
	AuthMode            *string
	ClaudeSessionActive *bool
	ClaudeAccount       *string
}

// Session owns the single agent connection and streams queries through it.
type Session struct {
	deps   Deps
	logger *slog.Logger
	audit  audit.Recorder

	connMu sync.Mutex

	mu           sync.Mutex
	cfg          config.SessionConfig
	generation   uint64
	client       agent.Client
	clientSerial uint64
	serials      uint64
	connected    bool
	needsRestart bool

	running atomic.Bool

	activeMu sync.Mutex
	active   *activeQuery

	toolsMu  sync.Mutex
	toolUses map[string]tools.Context

	// timer drives retry waits; nil uses a real timer.
	timer backoff.Timer
	now   func() time.Time
}

func New(deps Deps, cfg config.SessionConfig) *Session {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	recorder := deps.Audit
	if recorder == nil {
		recorder = audit.Nop{}
	}
	s := &Session{
		deps:     deps,
		logger:   logger,
		audit:    recorder,
		cfg:      cfg.Clone(),
		toolUses: make(map[string]tools.Context),
		now:      time.Now,
	}
	s.deps.Resolver.SetWorkspace(s.cfg.Workspace)
	s.deps.Resolver.ConfigureAllowRules(s.cfg.AlwaysAllow)
	return s
}

// Config returns a copy of the current configuration.
func (s *Session) Config() config.SessionConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Clone()
}

// Configure applies update and flags the connection for restart. It never reconnects eagerly.
func (s *Session) Configure(update ConfigUpdate) {
	s.mu.Lock()
	if update.APIKey != nil {
		s.cfg.APIKey = *update.APIKey
	}
	if update.Workspace != nil {
		s.cfg.Workspace = *update.Workspace
	}
	if update.AlwaysAllow != nil {
		s.cfg.AlwaysAllow = config.SessionConfig{AlwaysAllow: update.AlwaysAllow}.Clone().AlwaysAllow
	}
	if update.AuthMode != nil {
		s.cfg.AuthMode = *update.AuthMode
	}
	if update.ClaudeSessionActive != nil {
		s.cfg.ClaudeSessionActive = *update.ClaudeSessionActive
	}
	if update.ClaudeAccount != nil {
		s.cfg.ClaudeAccount = *update.ClaudeAccount
	}
	s.needsRestart = true
	s.generation++
	workspace := s.cfg.Workspace
	rules := s.cfg.AlwaysAllow
	s.mu.Unlock()

	s.deps.Resolver.SetWorkspace(workspace)
	if update.AlwaysAllow != nil {
		s.deps.Resolver.ConfigureAllowRules(rules)
	}
	s.logger.Debug("session reconfigured", "workspace", workspace)
}

// SetClaudeSession records the external login state.
func (s *Session) SetClaudeSession(active bool, account string) {
	s.Configure(ConfigUpdate{ClaudeSessionActive: &active, ClaudeAccount: &account})
}

func (s *Session) IsReady() bool {
	return s.Config().IsReady()
}

func (s *Session) ConfigurationError() string {
	return s.Config().ConfigurationError()
}

// NeedsRestart reports whether the next EnsureConnected will open a fresh connection.
func (s *Session) NeedsRestart() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.needsRestart || !s.connected
}

// EnsureConnected connects the agent runtime unless a current connection is usable.
func (s *Session) EnsureConnected(ctx context.Context) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	s.mu.Lock()
	cfg := s.cfg.Clone()
	generation := s.generation
	if s.connected && !s.needsRestart {
		s.mu.Unlock()
		return nil
	}
	old := s.client
	s.client = nil
	s.connected = false
	s.serials++
	serial := s.serials
	s.mu.Unlock()

	if old != nil {
		swallow(s.logger, "disconnect agent runtime", old.Disconnect())
	}
	if !cfg.IsReady() {
		return &NotReadyError{Message: cfg.ConfigurationError()}
	}

	client := s.deps.Factory(s.options(cfg, serial))
	err := client.Connect(ctx)
	s.deps.Metrics.RecordConnect(err)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.client = client
	s.clientSerial = serial
	s.connected = true
	s.needsRestart = s.generation != generation
	s.mu.Unlock()
	s.logger.Info("agent runtime connected", "workspace", cfg.Workspace, "auth_mode", cfg.AuthMode)
	return nil
}

// Close disconnects the agent runtime.
func (s *Session) Close() error {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	s.mu.Lock()
	client := s.client
	s.client = nil
	s.connected = false
	s.mu.Unlock()
	if client == nil {
		return nil
	}
	return client.Disconnect()
}

func (s *Session) markRestart() {
	s.mu.Lock()
	s.needsRestart = true
	s.mu.Unlock()
}

func (s *Session) currentClient() (agent.Client, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client, s.clientSerial
}

func (s *Session) options(cfg config.SessionConfig, serial uint64) agent.Options {
	opts := agent.Options{
		Runner:         s.deps.Runner,
		Cwd:            cfg.Workspace,
		Model:          s.deps.Agent.Model,
		PermissionMode: s.deps.Agent.PermissionMode,
		AllowedTools:   s.deps.Agent.AllowedTools,
		MCPServers:     s.deps.Agent.MCPServers,
		Hook: func(ctx context.Context, in agent.HookInput) (agent.HookOutput, error) {
			return s.preToolUse(ctx, serial, in)
		},
		Logger: s.logger,
	}
	if cfg.AuthMode == config.AuthModeClaude {
		// The CLI falls back to its own login only when no key is exported.
		opts.UnsetEnv = []string{apiKeyEnv}
	} else if cfg.APIKey != "" {
		opts.Env = map[string]string{apiKeyEnv: cfg.APIKey}
	}
	return opts
}

// Stream submits prompt and hands every resulting event to send, in order.
// It returns once the query finished, send failed, or ctx was cancelled; no
// background work survives the call.
func (s *Session) Stream(ctx context.Context, prompt, sessionID string, send func(bus.Event) error) error {
	if sessionID == "" {
		sessionID = DefaultSessionID
	}
	if !s.running.CompareAndSwap(false, true) {
		return send(bus.ErrorEvent(msgQueryRunning))
	}
	defer s.running.Store(false)

	start := s.now()
	cfg := s.Config()
	if !cfg.IsReady() {
		s.deps.Metrics.RecordQuery("unconfigured", s.now().Sub(start))
		return send(bus.ErrorEvent(cfg.ConfigurationError()))
	}

	s.logger.Info("query started", "session_id", sessionID, "request_id", bus.RequestIDFromContext(ctx))
	runCtx, cancel := context.WithCancel(ctx)
	q := &activeQuery{queue: bus.NewQueue(), done: runCtx.Done()}
	s.setActive(q)
	defer s.setActive(nil)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer q.queue.Close()
		s.run(runCtx, q, prompt, sessionID)
	}()
	defer func() {
		cancel()
		wg.Wait()
	}()

	outcome := "cancelled"
	for {
		ev, ok := q.queue.Next(ctx)
		if !ok {
			break
		}
		s.deps.Metrics.RecordEvent(string(ev.Type))
		if ev.Type.Terminal() {
			outcome = string(ev.Type)
		}
		if err := send(ev); err != nil {
			s.deps.Metrics.RecordQuery("cancelled", s.now().Sub(start))
			return err
		}
	}
	s.deps.Metrics.RecordQuery(outcome, s.now().Sub(start))
	return ctx.Err()
}

func (s *Session) run(ctx context.Context, q *activeQuery, prompt, sessionID string) {
	client, err := s.submitWithRetry(ctx, q, prompt, sessionID)
	if err != nil {
		if ctx.Err() == nil {
			q.queue.Push(bus.ErrorEvent(submitErrorMessage(err)))
		}
		return
	}
	s.pump(ctx, client, q.queue)
}

func (s *Session) setActive(q *activeQuery) {
	s.activeMu.Lock()
	s.active = q
	s.activeMu.Unlock()
}

// queryFor returns the running query whose prompt went out on connection
// serial, or nil when that connection has no query in flight.
func (s *Session) queryFor(serial uint64) *activeQuery {
	s.activeMu.Lock()
	defer s.activeMu.Unlock()
	if s.active == nil || s.active.serial.Load() != serial {
		return nil
	}
	return s.active
}

// emit pushes ev onto q's stream unless the query already ended.
func (s *Session) emit(q *activeQuery, ev bus.Event) {
	if !q.queue.Push(ev) {
		s.logger.Debug("dropping event for finished query", "type", ev.Type)
	}
}

// swallow logs err at debug and discards it.
func swallow(logger *slog.Logger, op string, err error) {
	if err != nil {
		logger.Debug("ignoring error", "op", op, "error", err)
	}
}
