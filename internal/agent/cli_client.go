package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"
)

const (
	entrypointEnv     = "CLAUDE_CODE_ENTRYPOINT"
	entrypointValue   = "sdk-go"
	initializeTimeout = 60 * time.Second
	shutdownGrace     = 5 * time.Second
	stderrTailBytes   = 4096
)

// CLIClient drives the Claude agent CLI as a long-lived child process.
type CLIClient struct {
	opts   Options
	logger *slog.Logger

	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	conn   *conn
	stderr *tailBuffer

	exitMu   sync.RWMutex
	exited   bool
	exitErr  error
	exitDone chan struct{}
}

func NewCLIClient(opts Options) *CLIClient {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &CLIClient{opts: opts, logger: logger}
}

// NewFactory returns a Factory producing CLI-backed clients.
func NewFactory() Factory {
	return func(opts Options) Client {
		return NewCLIClient(opts)
	}
}

func (c *CLIClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil && c.processExitError() == nil {
		return nil
	}
	if c.opts.Runner == nil {
		return errors.New("agent runtime runner not configured")
	}

	args, err := c.opts.Args()
	if err != nil {
		return fmt.Errorf("build runtime arguments: %w", err)
	}
	cmd, err := c.opts.Runner.Command(context.Background(), args...)
	if err != nil {
		return err
	}
	if c.opts.Cwd != "" {
		cmd.Dir = c.opts.Cwd
	}
	env := make(map[string]string, len(c.opts.Env)+1)
	for key, value := range c.opts.Env {
		env[key] = value
	}
	env[entrypointEnv] = entrypointValue
	cmd.Env = mergeEnv(cmd.Env, env, c.opts.UnsetEnv)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("create stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start agent runtime: %w", err)
	}

	c.cmd = cmd
	c.stdin = stdin
	c.stderr = newTailBuffer(stderrTailBytes)
	c.exitMu.Lock()
	c.exited = false
	c.exitErr = nil
	c.exitDone = make(chan struct{})
	c.exitMu.Unlock()
	c.conn = newConn(stdin, stdout, c.opts.Hook, c.logger)

	stderrDone := make(chan struct{})
	go func() {
		_, _ = io.Copy(c.stderr, stderr)
		close(stderrDone)
	}()
	conn := c.conn
	go func() {
		// Wait must follow the final reads from both pipes.
		<-conn.done
		<-stderrDone
		c.markExited(cmd.Wait())
	}()
	conn.start()

	c.logger.Info("agent runtime started", "pid", cmd.Process.Pid, "cwd", cmd.Dir)

	initCtx, cancel := context.WithTimeout(ctx, initializeTimeout)
	defer cancel()
	if err := conn.initialize(initCtx); err != nil {
		c.killLocked()
		return c.decorateError(fmt.Errorf("initialize agent runtime: %w", err))
	}
	return nil
}

func (c *CLIClient) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}
	c.conn.close()
	_ = c.stdin.Close()

	if !c.waitForExit(shutdownGrace) {
		c.killLocked()
	}
	c.conn = nil
	c.cmd = nil
	c.logger.Info("agent runtime stopped")
	return nil
}

func (c *CLIClient) Query(ctx context.Context, prompt, sessionID string) error {
	conn, err := c.liveConn()
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.decorateError(conn.sendUser(prompt, sessionID))
}

func (c *CLIClient) ReceiveResponse(ctx context.Context) (<-chan Message, error) {
	conn, err := c.liveConn()
	if err != nil {
		return nil, err
	}
	ch, err := conn.receive(ctx)
	return ch, c.decorateError(err)
}

// Interrupt stops the turn in progress without closing the runtime.
func (c *CLIClient) Interrupt(ctx context.Context) error {
	conn, err := c.liveConn()
	if err != nil {
		return err
	}
	return c.decorateError(conn.interrupt(ctx))
}

func (c *CLIClient) liveConn() (*conn, error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil, ErrNotConnected
	}
	if err := c.processExitError(); err != nil {
		return nil, c.decorateError(err)
	}
	return conn, nil
}

func (c *CLIClient) killLocked() {
	if c.cmd != nil && c.cmd.Process != nil {
		_ = c.cmd.Process.Kill()
	}
	c.waitForExit(500 * time.Millisecond)
}

func (c *CLIClient) markExited(err error) {
	c.exitMu.Lock()
	defer c.exitMu.Unlock()

	if c.exited {
		return
	}
	c.exited = true
	c.exitErr = err
	close(c.exitDone)
}

func (c *CLIClient) waitForExit(timeout time.Duration) bool {
	c.exitMu.RLock()
	done := c.exitDone
	c.exitMu.RUnlock()
	if done == nil {
		return true
	}
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (c *CLIClient) processExitError() error {
	c.exitMu.RLock()
	defer c.exitMu.RUnlock()

	if !c.exited {
		return nil
	}
	if c.exitErr == nil {
		return errors.New("agent runtime exited")
	}
	return fmt.Errorf("agent runtime exited: %w", c.exitErr)
}

func (c *CLIClient) decorateError(err error) error {
	if err == nil {
		return nil
	}

	stderrTail := ""
	if c.stderr != nil {
		stderrTail = strings.TrimSpace(c.stderr.String())
	}
	if processErr := c.processExitError(); processErr != nil && !errors.Is(err, processErr) {
		if stderrTail != "" {
			return fmt.Errorf("%w; process=%v; stderr=%s", err, processErr, stderrTail)
		}
		return fmt.Errorf("%w; process=%v", err, processErr)
	}
	if stderrTail != "" {
		return fmt.Errorf("%w; stderr=%s", err, stderrTail)
	}
	return err
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func newTailBuffer(max int) *tailBuffer {
	if max <= 0 {
		max = 1024
	}
	return &tailBuffer{max: max}
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.buf = append(b.buf, p...)
	if len(b.buf) > b.max {
		b.buf = append([]byte(nil), b.buf[len(b.buf)-b.max:]...)
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
