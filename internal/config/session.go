package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

const (
	AuthModeClaude = "claude_ai"
	AuthModeAPIKey = "api_key"
)

// ErrInvalidAuthMode is returned for auth modes other than claude_ai and api_key.
var ErrInvalidAuthMode = errors.New("invalid auth mode")

// ParseAuthMode normalizes an auth mode string.
func ParseAuthMode(mode string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case AuthModeClaude, "claude", "claude.ai":
		return AuthModeClaude, nil
	case AuthModeAPIKey, "apikey", "api-key":
		return AuthModeAPIKey, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidAuthMode, mode)
	}
}

// SessionConfig is the process-wide agent session configuration.
type SessionConfig struct {
	APIKey              string
	Workspace           string
	AlwaysAllow         map[string][]string
	AuthMode            string
	ClaudeSessionActive bool
	ClaudeAccount       string
}

// IsReady reports whether the configuration is complete enough to connect.
// Unknown auth modes fall back to requiring an API key.
func (c SessionConfig) IsReady() bool {
	if strings.TrimSpace(c.Workspace) == "" {
		return false
	}
	switch c.AuthMode {
	case AuthModeAPIKey:
		return c.APIKey != ""
	case AuthModeClaude:
		return c.ClaudeSessionActive
	default:
		return c.APIKey != ""
	}
}

// ConfigurationError explains what is missing. Workspace problems win over auth problems.
func (c SessionConfig) ConfigurationError() string {
	if strings.TrimSpace(c.Workspace) == "" {
		return "Workspace not configured."
	}
	switch c.AuthMode {
	case AuthModeAPIKey:
		return "API key missing."
	case AuthModeClaude:
		return "Claude.ai login required."
	default:
		return "Authentication configuration incomplete."
	}
}

// Clone returns a deep copy.
func (c SessionConfig) Clone() SessionConfig {
	c.AlwaysAllow = cloneRules(c.AlwaysAllow)
	return c
}

// Settings is the flat record persisted between launches.
type Settings struct {
	AnthropicAPIKey     string              `json:"anthropic_api_key,omitempty"`
	Workspace           string              `json:"workspace,omitempty"`
	AuthMode            string              `json:"auth_mode,omitempty"`
	AlwaysAllow         map[string][]string `json:"always_allow,omitempty"`
	ClaudeSessionActive bool                `json:"claude_session_active,omitempty"`
	ClaudeAccount       string              `json:"claude_account,omitempty"`
}

// SessionConfig converts persisted settings into a session configuration.
func (s Settings) SessionConfig() SessionConfig {
	mode, err := ParseAuthMode(s.AuthMode)
	if err != nil {
		mode = AuthModeClaude
	}
	return SessionConfig{
		APIKey:              s.AnthropicAPIKey,
		Workspace:           s.Workspace,
		AlwaysAllow:         cloneRules(s.AlwaysAllow),
		AuthMode:            mode,
		ClaudeSessionActive: s.ClaudeSessionActive,
		ClaudeAccount:       s.ClaudeAccount,
	}
}

// AddAlwaysAllow inserts path into the tool's rule list, keeping it sorted and unique.
func (s *Settings) AddAlwaysAllow(tool, path string) bool {
	tool = strings.TrimSpace(tool)
	if tool == "" || path == "" {
		return false
	}
	if s.AlwaysAllow == nil {
		s.AlwaysAllow = map[string][]string{}
	}
	for _, existing := range s.AlwaysAllow[tool] {
		if existing == path {
			return false
		}
	}
	paths := append(s.AlwaysAllow[tool], path)
	sort.Strings(paths)
	s.AlwaysAllow[tool] = paths
	return true
}

func cloneRules(rules map[string][]string) map[string][]string {
	out := make(map[string][]string, len(rules))
	for tool, paths := range rules {
		out[tool] = append([]string(nil), paths...)
	}
	return out
}
