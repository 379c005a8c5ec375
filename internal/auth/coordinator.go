package auth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/MEKXH/familiar/internal/claudecli"
)

const (
	defaultInitialMessage = "Opening browser to sign in…"
	loginFailedMessage    = "Claude login failed."
	logoutFailedMessage   = "Logout failed"

	defaultInitialWait    = 10 * time.Second
	defaultSignalFallback = time.Second
	probeTimeout          = 30 * time.Second
	readChunkSize         = 1024
)

// SessionFunc receives every status the coordinator settles on.
type SessionFunc func(active bool, account string)

// attempt is one run of `claude login`.
type attempt struct {
	signal     chan struct{}
	signalOnce sync.Once
	done       chan struct{}
	fallback   *time.Timer
	proc       claudecli.Process
	// cancelled is set when Cancel ran before the process was spawned.
	cancelled bool
	final     Status
}

func (a *attempt) fire() {
	a.signalOnce.Do(func() { close(a.signal) })
}

func (a *attempt) finished() bool {
	select {
	case <-a.done:
		return true
	default:
		return false
	}
}

// Coordinator drives the CLI's browser login flow and caches the resulting status.
// At most one login process runs at a time.
type Coordinator struct {
	cli    CLI
	prober *Prober
	logger *slog.Logger

	onSession SessionFunc
	onLogin   func(Status)

	initialWait    time.Duration
	signalFallback time.Duration

	startMu sync.Mutex

	mu             sync.Mutex
	current        *attempt
	pending        bool
	status         Status
	initialMessage string
	lastOutput     string
	loginURL       string
}

func NewCoordinator(cli CLI, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		cli:            cli,
		prober:         NewProber(cli, logger),
		logger:         logger,
		initialWait:    defaultInitialWait,
		signalFallback: defaultSignalFallback,
	}
}

// OnSession registers the callback that mirrors auth status into the agent session.
func (c *Coordinator) OnSession(fn SessionFunc) {
	c.mu.Lock()
	c.onSession = fn
	c.mu.Unlock()
}

// OnLoginFinished registers a callback for completed login flows.
func (c *Coordinator) OnLoginFinished(fn func(Status)) {
	c.mu.Lock()
	c.onLogin = fn
	c.mu.Unlock()
}

// BeginLogin starts a login flow unless one is running, then waits briefly for the
// CLI's first output so the caller can show a message or login URL.
func (c *Coordinator) BeginLogin(ctx context.Context) Status {
	c.startMu.Lock()
	c.mu.Lock()
	a := c.current
	if a == nil || a.finished() {
		a = &attempt{
			signal: make(chan struct{}),
			done:   make(chan struct{}),
		}
		c.current = a
		c.pending = true
		c.status = Status{Pending: true}
		c.initialMessage = defaultInitialMessage
		c.lastOutput = ""
		c.loginURL = ""
		a.fallback = time.AfterFunc(c.signalFallback, a.fire)
		go c.runLogin(a)
	}
	c.mu.Unlock()
	c.startMu.Unlock()

	timer := time.NewTimer(c.initialWait)
	defer timer.Stop()
	select {
	case <-a.signal:
	case <-timer.C:
	case <-ctx.Done():
	}
	return c.Snapshot()
}

// Snapshot returns the cached status including pending login progress.
func (c *Coordinator) Snapshot() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Coordinator) snapshotLocked() Status {
	out := c.status
	if out.Message == "" {
		out.Message = c.initialMessage
	}
	if out.LoginURL == "" {
		out.LoginURL = c.loginURL
	}
	out.Pending = c.pending
	return out
}

// MergeStatus adopts an externally obtained status. A running login stays pending.
func (c *Coordinator) MergeStatus(status Status) Status {
	c.mu.Lock()
	if status.LoginURL == "" {
		status.LoginURL = c.loginURL
	}
	if c.pending {
		status.Pending = true
		if status.Message == "" {
			status.Message = c.initialMessage
		}
		if status.Message == "" {
			status.Message = c.lastOutput
		}
	} else {
		status.Pending = false
	}
	c.status = status
	onSession := c.onSession
	snapshot := c.snapshotLocked()
	c.mu.Unlock()

	if onSession != nil {
		onSession(status.Active, status.Account)
	}
	return snapshot
}

// WaitForCompletion blocks until the running login flow ends or ctx is done.
func (c *Coordinator) WaitForCompletion(ctx context.Context) Status {
	c.mu.Lock()
	a := c.current
	c.mu.Unlock()
	if a == nil {
		return c.Snapshot()
	}

	select {
	case <-a.done:
		c.mu.Lock()
		defer c.mu.Unlock()
		return a.final
	case <-ctx.Done():
		return c.Snapshot()
	}
}

// Cancel stops a running login process and clears the pending flag.
func (c *Coordinator) Cancel() {
	c.startMu.Lock()
	defer c.startMu.Unlock()

	c.mu.Lock()
	a := c.current
	pending := c.pending
	c.pending = false
	var proc claudecli.Process
	if a != nil {
		proc = a.proc
		if pending {
			a.cancelled = true
		}
	}
	c.mu.Unlock()

	if a == nil {
		return
	}
	if pending && proc != nil {
		if err := proc.Terminate(); err != nil {
			c.logger.Debug("terminate claude login failed", "error", err)
		}
	}
	if a.fallback != nil {
		a.fallback.Stop()
	}
	a.fire()
}

// Logout signs out of Claude.ai. The resulting status is always inactive unless the
// CLI reports a failure.
func (c *Coordinator) Logout(ctx context.Context) Status {
	c.Cancel()

	result, err := c.cli.Run(ctx, "logout")
	if err != nil {
		c.logger.Warn("claude logout failed", "error", err)
		return c.MergeStatus(Status{Message: err.Error()})
	}
	output := claudecli.StripANSI(result.Output())
	if result.Code != 0 {
		if output == "" {
			output = logoutFailedMessage
		}
		return c.MergeStatus(Status{Active: true, Message: output})
	}

	status := c.prober.Fetch(ctx)
	if status.Active {
		// Some CLI builds keep reporting the old session for a moment.
		status.Active = false
		status.Account = ""
		if output != "" {
			status.Message = output
		}
	}
	return c.MergeStatus(status)
}

// Refresh probes the CLI and merges the result.
func (c *Coordinator) Refresh(ctx context.Context) Status {
	return c.MergeStatus(c.prober.Fetch(ctx))
}

func (c *Coordinator) runLogin(a *attempt) {
	proc, err := c.cli.Spawn(context.Background(), "login")
	if err != nil {
		if errors.Is(err, claudecli.ErrUnavailable) {
			c.logger.Error("claude cli unavailable", "error", err)
		} else {
			c.logger.Error("failed to start claude login", "error", err)
		}
		c.mu.Lock()
		c.initialMessage = err.Error()
		c.mu.Unlock()
		c.finalise(a, Status{Message: err.Error()})
		return
	}

	c.mu.Lock()
	a.proc = proc
	cancelled := a.cancelled
	c.mu.Unlock()
	if cancelled {
		c.logger.Debug("claude login cancelled while starting")
		if err := proc.Terminate(); err != nil {
			c.logger.Debug("terminate claude login failed", "error", err)
		}
	}

	var wg sync.WaitGroup
	for _, stream := range []io.Reader{proc.Stdout(), proc.Stderr()} {
		wg.Add(1)
		go func(r io.Reader) {
			defer wg.Done()
			c.consume(a, r)
		}(stream)
	}
	wg.Wait()
	code, waitErr := proc.Wait()

	c.mu.Lock()
	lastOutput := c.lastOutput
	initialMessage := c.initialMessage
	loginURL := c.loginURL
	c.mu.Unlock()

	if waitErr != nil || code != 0 {
		message := lastOutput
		if message == "" {
			message = loginFailedMessage
		}
		c.logger.Warn("claude login exited", "code", code, "error", waitErr)
		c.finalise(a, Status{Message: message, LoginURL: loginURL})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()
	status := c.prober.Fetch(ctx)
	if status.LoginURL == "" {
		status.LoginURL = loginURL
	}
	if status.Message == "" {
		status.Message = lastOutput
	}
	if status.Message == "" {
		status.Message = initialMessage
	}
	c.finalise(a, status)
}

func (c *Coordinator) consume(a *attempt, r io.Reader) {
	if r == nil {
		return
	}
	buf := make([]byte, readChunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			c.recordOutput(a, string(buf[:n]))
		}
		if err != nil {
			return
		}
	}
}

func (c *Coordinator) recordOutput(a *attempt, chunk string) {
	lines := claudecli.OutputLines(chunk)
	if len(lines) == 0 {
		return
	}

	c.mu.Lock()
	for _, line := range lines {
		c.logger.Debug("claude login output", "line", line)
		c.lastOutput = line
		if c.initialMessage == "" || c.initialMessage == defaultInitialMessage {
			c.initialMessage = line
		}
		if c.loginURL == "" {
			c.loginURL = claudecli.ExtractURL(line)
		}
	}
	c.mu.Unlock()
	a.fire()
}

func (c *Coordinator) finalise(a *attempt, status Status) {
	c.mu.Lock()
	status.Pending = false
	current := c.current == a
	if current {
		if status.LoginURL == "" {
			status.LoginURL = c.loginURL
		}
		c.pending = false
		c.status = status
	}
	a.final = status
	onSession := c.onSession
	onLogin := c.onLogin
	c.mu.Unlock()

	if a.fallback != nil {
		a.fallback.Stop()
	}
	a.fire()
	close(a.done)

	if !current {
		return
	}
	if onSession != nil {
		onSession(status.Active, status.Account)
	}
	if onLogin != nil {
		onLogin(status)
	}
}
