package auth

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"

	"github.com/MEKXH/familiar/internal/claudecli"
)

// Status is a snapshot of the Claude.ai session. It is a value: copy freely.
type Status struct {
	Active   bool   `json:"active"`
	Account  string `json:"account"`
	Pending  bool   `json:"pending"`
	Message  string `json:"message,omitempty"`
	LoginURL string `json:"loginUrl,omitempty"`
}

// CLI is the subset of claudecli.Runner the coordinator needs.
type CLI interface {
	Spawn(ctx context.Context, args ...string) (claudecli.Process, error)
	Run(ctx context.Context, args ...string) (claudecli.Result, error)
}

// Status commands in order of preference. Older CLI builds reject some of them.
var probeVariants = [][]string{
	{"whoami", "--json"},
	{"whoami"},
	{"session", "status"},
}

// Prober asks the CLI who is signed in.
type Prober struct {
	cli    CLI
	logger *slog.Logger
}

func NewProber(cli CLI, logger *slog.Logger) *Prober {
	if logger == nil {
		logger = slog.Default()
	}
	return &Prober{cli: cli, logger: logger}
}

// Fetch runs the status command variants until one gives a usable answer.
func (p *Prober) Fetch(ctx context.Context) Status {
	for _, args := range probeVariants {
		result, err := p.cli.Run(ctx, args...)
		if err != nil {
			if errors.Is(err, claudecli.ErrUnavailable) {
				return Status{Message: err.Error()}
			}
			p.logger.Debug("claude status command failed", "args", args, "error", err)
			continue
		}

		output := strings.TrimSpace(claudecli.StripANSI(result.Output()))
		if result.Code != 0 {
			lowered := strings.ToLower(output)
			if strings.Contains(lowered, "unknown option") || strings.Contains(lowered, "unrecognized option") {
				p.logger.Debug("claude status command unsupported, trying next", "args", args)
				continue
			}
			if output != "" {
				return Status{Message: output}
			}
			continue
		}

		if account := accountFromJSON(result.Stdout); account != "" {
			return Status{Active: true, Account: account}
		}
		if email := claudecli.ExtractEmail(output); email != "" {
			return Status{Active: true, Account: email, Message: output}
		}
		if output != "" {
			return Status{Active: true, Message: output}
		}
	}
	return Status{}
}

func accountFromJSON(raw string) string {
	var payload map[string]any
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return ""
	}
	for _, key := range []string{"account", "email", "accountEmail"} {
		if value, ok := payload[key].(string); ok && value != "" {
			return value
		}
	}
	return ""
}
