package config

import (
	"errors"
	"testing"
)

func TestSessionConfig_Readiness(t *testing.T) {
	workspace := t.TempDir()

	tests := []struct {
		name    string
		cfg     SessionConfig
		ready   bool
		wantErr string
	}{
		{
			name:  "api key mode ready",
			cfg:   SessionConfig{APIKey: "k", Workspace: workspace, AuthMode: AuthModeAPIKey},
			ready: true,
		},
		{
			name:    "api key mode missing key",
			cfg:     SessionConfig{Workspace: workspace, AuthMode: AuthModeAPIKey},
			wantErr: "API key missing.",
		},
		{
			name:    "missing workspace wins over auth",
			cfg:     SessionConfig{APIKey: "k", AuthMode: AuthModeAPIKey},
			wantErr: "Workspace not configured.",
		},
		{
			name:  "claude mode active",
			cfg:   SessionConfig{Workspace: workspace, AuthMode: AuthModeClaude, ClaudeSessionActive: true},
			ready: true,
		},
		{
			name:    "claude mode inactive",
			cfg:     SessionConfig{APIKey: "k", Workspace: workspace, AuthMode: AuthModeClaude},
			wantErr: "Claude.ai login required.",
		},
		{
			name:    "api key mode ignores claude session",
			cfg:     SessionConfig{Workspace: workspace, AuthMode: AuthModeAPIKey, ClaudeSessionActive: true},
			wantErr: "API key missing.",
		},
		{
			name:  "unknown mode falls back to api key",
			cfg:   SessionConfig{APIKey: "k", Workspace: workspace, AuthMode: "unknown_mode"},
			ready: true,
		},
		{
			name:    "unknown mode without key",
			cfg:     SessionConfig{Workspace: workspace, AuthMode: "unknown_mode"},
			wantErr: "Authentication configuration incomplete.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.IsReady(); got != tt.ready {
				t.Fatalf("IsReady=%v, want %v", got, tt.ready)
			}
			if !tt.ready {
				if got := tt.cfg.ConfigurationError(); got != tt.wantErr {
					t.Fatalf("ConfigurationError=%q, want %q", got, tt.wantErr)
				}
			}
		})
	}
}

func TestParseAuthMode(t *testing.T) {
	if mode, err := ParseAuthMode(" Claude_AI "); err != nil || mode != AuthModeClaude {
		t.Fatalf("expected claude_ai, got %q err=%v", mode, err)
	}
	if mode, err := ParseAuthMode("api-key"); err != nil || mode != AuthModeAPIKey {
		t.Fatalf("expected api_key, got %q err=%v", mode, err)
	}
	if _, err := ParseAuthMode("password"); !errors.Is(err, ErrInvalidAuthMode) {
		t.Fatalf("expected ErrInvalidAuthMode, got %v", err)
	}
}

func TestSettings_SessionConfigDefaultsToClaudeMode(t *testing.T) {
	cfg := Settings{Workspace: "/ws"}.SessionConfig()
	if cfg.AuthMode != AuthModeClaude {
		t.Fatalf("expected claude_ai, got %q", cfg.AuthMode)
	}
	if cfg.AlwaysAllow == nil {
		t.Fatal("expected non-nil always-allow map")
	}
}

func TestSessionConfig_CloneIsDeep(t *testing.T) {
	orig := SessionConfig{AlwaysAllow: map[string][]string{"Write": {"/ws/a"}}}
	clone := orig.Clone()
	clone.AlwaysAllow["Write"][0] = "/ws/b"
	if orig.AlwaysAllow["Write"][0] != "/ws/a" {
		t.Fatal("clone shares rule slices with original")
	}
}
