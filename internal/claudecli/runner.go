package claudecli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
)

// ErrUnavailable matches every error reporting that the bundled CLI cannot run.
var ErrUnavailable = errors.New("claude cli unavailable")

const (
	msgPathNotConfigured = "Claude CLI path not configured"
	msgNotFound          = "Claude CLI executable not found. Please reinstall or repair the Familiar app."
)

// UnavailableError carries a user-facing reason. errors.Is(err, ErrUnavailable) holds.
type UnavailableError struct {
	Reason string
}

func (e *UnavailableError) Error() string { return e.Reason }

func (e *UnavailableError) Is(target error) bool { return target == ErrUnavailable }

// Result is the outcome of a completed CLI invocation.
type Result struct {
	Code   int
	Stdout string
	Stderr string
}

// Output returns trimmed stdout, or trimmed stderr when stdout is empty.
func (r Result) Output() string {
	if out := strings.TrimSpace(r.Stdout); out != "" {
		return out
	}
	return strings.TrimSpace(r.Stderr)
}

// Process is a running CLI invocation whose output streams must be drained by the caller.
type Process interface {
	Stdout() io.Reader
	Stderr() io.Reader
	// Wait blocks until exit and returns the exit code.
	Wait() (int, error)
	Terminate() error
}

// Runner launches `node <cli.js> args...`.
type Runner struct {
	// CLIPath resolves the CLI entrypoint at call time so env changes are honored.
	CLIPath  func() string
	NodePath string
	// ExtraEnv is appended to the inherited environment.
	ExtraEnv []string
	Logger   *slog.Logger
}

func NewRunner(cliPath func() string, nodePath string, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if strings.TrimSpace(nodePath) == "" {
		nodePath = "node"
	}
	return &Runner{CLIPath: cliPath, NodePath: nodePath, Logger: logger}
}

// Command builds the exec.Cmd for args without starting it.
func (r *Runner) Command(ctx context.Context, args ...string) (*exec.Cmd, error) {
	cliPath := ""
	if r.CLIPath != nil {
		cliPath = strings.TrimSpace(r.CLIPath())
	}
	if cliPath == "" {
		return nil, &UnavailableError{Reason: msgPathNotConfigured}
	}
	if _, err := os.Stat(cliPath); err != nil {
		return nil, &UnavailableError{Reason: msgNotFound}
	}

	env := Environment(os.Environ())
	env = append(env, r.ExtraEnv...)

	command := append([]string{cliPath}, args...)
	cmd := exec.CommandContext(ctx, r.NodePath, command...)
	cmd.Env = env
	return cmd, nil
}

// Spawn starts a long-running invocation. The process outlives ctx only if ctx is never cancelled.
func (r *Runner) Spawn(ctx context.Context, args ...string) (Process, error) {
	cmd, err := r.Command(ctx, args...)
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, startError(err)
	}
	r.Logger.Debug("claude cli started", "args", args, "pid", cmd.Process.Pid)
	return &process{cmd: cmd, stdout: stdout, stderr: stderr}, nil
}

// Run executes args to completion and captures output.
func (r *Runner) Run(ctx context.Context, args ...string) (Result, error) {
	cmd, err := r.Command(ctx, args...)
	if err != nil {
		return Result{}, err
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	result := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			result.Code = exitErr.ExitCode()
			return result, nil
		}
		return result, startError(runErr)
	}
	return result, nil
}

func startError(err error) error {
	if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
		return &UnavailableError{Reason: msgNotFound}
	}
	return &UnavailableError{Reason: err.Error()}
}

type process struct {
	cmd    *exec.Cmd
	stdout io.Reader
	stderr io.Reader

	once sync.Once
	code int
	err  error
}

func (p *process) Stdout() io.Reader { return p.stdout }
func (p *process) Stderr() io.Reader { return p.stderr }

func (p *process) Wait() (int, error) {
	p.once.Do(func() {
		err := p.cmd.Wait()
		var exitErr *exec.ExitError
		switch {
		case err == nil:
		case errors.As(err, &exitErr):
			p.code = exitErr.ExitCode()
		default:
			p.code = -1
			p.err = err
		}
	})
	return p.code, p.err
}

func (p *process) Terminate() error {
	if p.cmd.Process == nil {
		return nil
	}
	return p.cmd.Process.Signal(os.Interrupt)
}
