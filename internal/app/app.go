package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"strings"

	"github.com/MEKXH/familiar/internal/agent"
	"github.com/MEKXH/familiar/internal/approval"
	"github.com/MEKXH/familiar/internal/audit"
	"github.com/MEKXH/familiar/internal/auth"
	"github.com/MEKXH/familiar/internal/bus"
	"github.com/MEKXH/familiar/internal/claudecli"
	"github.com/MEKXH/familiar/internal/config"
	"github.com/MEKXH/familiar/internal/metrics"
	"github.com/MEKXH/familiar/internal/session"
	"github.com/MEKXH/familiar/internal/tools"
)

// ErrInvalidSettings wraps every rejected settings update.
var ErrInvalidSettings = errors.New("invalid settings")

const (
	HealthReady    = "ready"
	HealthDegraded = "degraded"
)

// Options configures New. Only Config is required.
type Options struct {
	Config  *config.Config
	Factory agent.Factory
	// AuthCLI overrides the CLI used for login and status probes.
	AuthCLI auth.CLI
	Logger  *slog.Logger
}

// App owns every long-lived component of the sidecar.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	Runner   *claudecli.Runner
	Settings *config.SettingsStore
	Broker   *approval.Broker
	Resolver *tools.Resolver
	Audit    *audit.Writer
	Metrics  *metrics.Metrics
	Session  *session.Session
	Auth     *auth.Coordinator

	watcher *config.Watcher
}

// SettingsPayload is the settings view returned to the desktop app.
type SettingsPayload struct {
	HasAPIKey          bool                `json:"hasApiKey"`
	HasClaudeSession   bool                `json:"hasClaudeSession"`
	Workspace          string              `json:"workspace"`
	WorkspaceDemoFile  string              `json:"workspaceDemoFile,omitempty"`
	AlwaysAllow        map[string][]string `json:"alwaysAllow"`
	DefaultWorkspace   string              `json:"defaultWorkspace"`
	AuthMode           string              `json:"authMode"`
	ClaudeAccountEmail string              `json:"claudeAccountEmail,omitempty"`
}

// SettingsUpdate is a partial settings change. Nil fields are left alone; empty
// strings clear the API key or workspace.
type SettingsUpdate struct {
	AnthropicAPIKey *string             `json:"anthropic_api_key"`
	Workspace       *string             `json:"workspace"`
	AuthMode        *string             `json:"auth_mode"`
	AlwaysAllow     map[string][]string `json:"always_allow"`
}

// Health reports whether the CLI prerequisites are installed.
type Health struct {
	Status  string   `json:"status"`
	Missing []string `json:"missing,omitempty"`
}

func New(opts Options) (*App, error) {
	cfg := opts.Config
	if cfg == nil {
		return nil, errors.New("app: config is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	store := config.NewSettingsStore(cfg.SettingsPath())
	settings, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	loaded := settings
	if settings.Workspace == "" {
		settings.Workspace = cfg.Session.Workspace
	}
	if settings.AuthMode == "" {
		settings.AuthMode = cfg.Session.AuthMode
	}
	if settings.AnthropicAPIKey == "" {
		settings.AnthropicAPIKey = strings.TrimSpace(cfg.Session.AnthropicAPIKey)
	}
	if settings.Workspace != "" {
		resolved, err := config.EnsureWorkspace(settings.Workspace)
		if err != nil {
			logger.Warn("workspace unavailable", "workspace", settings.Workspace, "error", err)
		} else {
			settings.Workspace = resolved
		}
	}
	if settings.Workspace != loaded.Workspace || settings.AuthMode != loaded.AuthMode ||
		settings.AnthropicAPIKey != loaded.AnthropicAPIKey {
		if err := store.Save(settings); err != nil {
			logger.Warn("persist initial settings failed", "error", err)
		}
	}

	runner := claudecli.NewRunner(cfg.CLIPath, cfg.Claude.NodePath, logger)
	factory := opts.Factory
	if factory == nil {
		factory = agent.NewFactory()
	}
	var authCLI auth.CLI = runner
	if opts.AuthCLI != nil {
		authCLI = opts.AuthCLI
	}

	broker := approval.NewBroker()
	resolver := tools.NewResolver(settings.Workspace, logger)
	recorder := audit.NewWriter(cfg.StateDir())
	m := metrics.New(broker.Len)

	a := &App{
		cfg:      cfg,
		logger:   logger,
		Runner:   runner,
		Settings: store,
		Broker:   broker,
		Resolver: resolver,
		Audit:    recorder,
		Metrics:  m,
		watcher:  config.NewWatcher(store.Path(), logger),
	}
	a.Session = session.New(session.Deps{
		Factory:  factory,
		Runner:   runner,
		Broker:   broker,
		Resolver: resolver,
		Audit:    recorder,
		Metrics:  m,
		RuleSink: store.AddAlwaysAllow,
		Agent: session.AgentSettings{
			Model:          cfg.Claude.Model,
			PermissionMode: cfg.Claude.PermissionMode,
			AllowedTools:   cfg.Claude.AllowedTools,
			MCPServers:     mcpServers(cfg.MCPServers),
		},
		Logger: logger,
	}, settings.SessionConfig())

	a.Auth = auth.NewCoordinator(authCLI, logger)
	a.Auth.OnSession(a.syncClaudeSession)
	a.Auth.OnLoginFinished(func(status auth.Status) {
		m.RecordLogin(status.Active)
		logger.Info("claude login finished", "active", status.Active, "account", status.Account)
	})
	return a, nil
}

// Start watches the settings file and refreshes the Claude.ai login state.
func (a *App) Start(ctx context.Context) error {
	if err := a.watcher.Start(ctx); err != nil {
		return fmt.Errorf("watch settings: %w", err)
	}
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-a.watcher.Events():
				if !ok {
					return
				}
				a.logger.Debug("settings file changed", "path", ev.Path, "op", ev.Op)
				a.Reload()
			}
		}
	}()
	if a.Session.Config().AuthMode == config.AuthModeClaude {
		go a.Auth.Refresh(ctx)
	}
	return nil
}

// Close stops the agent runtime and any running login.
func (a *App) Close() error {
	a.Auth.Cancel()
	return a.Session.Close()
}

// Reload re-reads the settings file and reconfigures the session if it changed.
func (a *App) Reload() {
	settings, err := a.Settings.Load()
	if err != nil {
		a.logger.Warn("reload settings failed", "error", err)
		return
	}
	next := settings.SessionConfig()
	if sameConfig(a.Session.Config(), next) {
		return
	}
	a.Session.Configure(session.ConfigUpdate{
		APIKey:              &next.APIKey,
		Workspace:           &next.Workspace,
		AlwaysAllow:         next.AlwaysAllow,
		AuthMode:            &next.AuthMode,
		ClaudeSessionActive: &next.ClaudeSessionActive,
		ClaudeAccount:       &next.ClaudeAccount,
	})
	a.logger.Info("settings reloaded", "path", a.Settings.Path())
}

func (a *App) Stream(ctx context.Context, prompt, sessionID string, send func(bus.Event) error) error {
	return a.Session.Stream(ctx, prompt, sessionID, send)
}

// Approve resolves a pending permission request.
func (a *App) Approve(requestID, decision string, remember bool) error {
	d, err := approval.ParseDecision(decision)
	if err != nil {
		return err
	}
	_, err = a.Broker.Resolve(strings.TrimSpace(requestID), approval.Resolution{Decision: d, Remember: remember})
	return err
}

func (a *App) PendingApprovals() []approval.Request {
	return a.Broker.Pending(approval.Query{})
}

func (a *App) SettingsPayload() SettingsPayload {
	cfg := a.Session.Config()
	payload := SettingsPayload{
		HasAPIKey:          cfg.APIKey != "",
		HasClaudeSession:   cfg.ClaudeSessionActive,
		Workspace:          cfg.Workspace,
		AlwaysAllow:        cfg.AlwaysAllow,
		DefaultWorkspace:   config.DefaultWorkspace(),
		AuthMode:           cfg.AuthMode,
		ClaudeAccountEmail: cfg.ClaudeAccount,
	}
	if payload.AlwaysAllow == nil {
		payload.AlwaysAllow = map[string][]string{}
	}
	if cfg.Workspace != "" {
		payload.WorkspaceDemoFile = config.DemoFilePath(cfg.Workspace)
	}
	return payload
}

// UpdateSettings validates and persists update, then flags the session for reconnect.
func (a *App) UpdateSettings(update SettingsUpdate) (SettingsPayload, error) {
	var sessionUpdate session.ConfigUpdate

	if update.AuthMode != nil {
		mode, err := config.ParseAuthMode(*update.AuthMode)
		if err != nil {
			return SettingsPayload{}, fmt.Errorf("%w: %v", ErrInvalidSettings, err)
		}
		sessionUpdate.AuthMode = &mode
	}
	if update.Workspace != nil {
		workspace := strings.TrimSpace(*update.Workspace)
		if workspace != "" {
			resolved, err := config.EnsureWorkspace(workspace)
			if err != nil {
				return SettingsPayload{}, fmt.Errorf("%w: workspace: %v", ErrInvalidSettings, err)
			}
			workspace = resolved
		}
		sessionUpdate.Workspace = &workspace
	}
	if update.AnthropicAPIKey != nil {
		key := strings.TrimSpace(*update.AnthropicAPIKey)
		sessionUpdate.APIKey = &key
	}
	if update.AlwaysAllow != nil {
		sessionUpdate.AlwaysAllow = update.AlwaysAllow
	}

	_, err := a.Settings.Update(func(s *config.Settings) {
		if sessionUpdate.AuthMode != nil {
			s.AuthMode = *sessionUpdate.AuthMode
		}
		if sessionUpdate.Workspace != nil {
			s.Workspace = *sessionUpdate.Workspace
		}
		if sessionUpdate.APIKey != nil {
			s.AnthropicAPIKey = *sessionUpdate.APIKey
		}
		if sessionUpdate.AlwaysAllow != nil {
			s.AlwaysAllow = sessionUpdate.AlwaysAllow
		}
	})
	if err != nil {
		return SettingsPayload{}, fmt.Errorf("save settings: %w", err)
	}

	a.Session.Configure(sessionUpdate)
	if sessionUpdate.AuthMode != nil && *sessionUpdate.AuthMode == config.AuthModeClaude {
		go a.Auth.Refresh(context.Background())
	}
	return a.SettingsPayload(), nil
}

func (a *App) Login(ctx context.Context) auth.Status {
	return a.Auth.BeginLogin(ctx)
}

func (a *App) Logout(ctx context.Context) auth.Status {
	return a.Auth.Logout(ctx)
}

// AuthStatus returns the in-flight login state, or probes the CLI when idle.
func (a *App) AuthStatus(ctx context.Context) auth.Status {
	if snapshot := a.Auth.Snapshot(); snapshot.Pending {
		return snapshot
	}
	return a.Auth.Refresh(ctx)
}

func (a *App) Health() Health {
	missing := claudecli.MissingPrerequisites(a.cfg.Claude.NodePath, a.cfg.CLIPath())
	if len(missing) > 0 {
		return Health{Status: HealthDegraded, Missing: missing}
	}
	return Health{Status: HealthReady}
}

func (a *App) MetricsHandler() http.Handler {
	return a.Metrics.Handler()
}

// syncClaudeSession mirrors login state into the session and settings file
// without touching the connection when nothing changed.
func (a *App) syncClaudeSession(active bool, account string) {
	current := a.Session.Config()
	if current.ClaudeSessionActive == active && current.ClaudeAccount == account {
		return
	}
	a.Session.SetClaudeSession(active, account)
	if _, err := a.Settings.Update(func(s *config.Settings) {
		s.ClaudeSessionActive = active
		s.ClaudeAccount = account
	}); err != nil {
		a.logger.Warn("persist claude session failed", "error", err)
	}
}

func sameConfig(a, b config.SessionConfig) bool {
	a, b = a.Clone(), b.Clone()
	if len(a.AlwaysAllow) == 0 {
		a.AlwaysAllow = nil
	}
	if len(b.AlwaysAllow) == 0 {
		b.AlwaysAllow = nil
	}
	return reflect.DeepEqual(a, b)
}

func mcpServers(servers map[string]config.MCPServerConfig) map[string]agent.MCPServer {
	if len(servers) == 0 {
		return nil
	}
	out := make(map[string]agent.MCPServer, len(servers))
	for name, server := range servers {
		out[name] = agent.MCPServer{
			Transport: server.Transport,
			Command:   server.Command,
			Args:      server.Args,
			Env:       server.Env,
			URL:       server.URL,
			Headers:   server.Headers,
		}
	}
	return out
}
