package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Gateway.Port != 8765 {
		t.Errorf("expected Port=8765, got %d", cfg.Gateway.Port)
	}
	if cfg.Gateway.Host != "127.0.0.1" {
		t.Errorf("expected Host=127.0.0.1, got %q", cfg.Gateway.Host)
	}
	if cfg.Session.AuthMode != AuthModeClaude {
		t.Errorf("expected AuthMode=%q, got %q", AuthModeClaude, cfg.Session.AuthMode)
	}
	if cfg.Claude.NodePath != "node" {
		t.Errorf("expected NodePath=node, got %q", cfg.Claude.NodePath)
	}
}

func TestLoadFrom_CreatesDefaultsWhenMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom error: %v", err)
	}
	if cfg.Gateway.Port != defaultGatewayPort {
		t.Fatalf("expected default port, got %d", cfg.Gateway.Port)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected config file to be created: %v", err)
	}
}

func TestLoadFrom_ReadsSnakeCaseKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	raw := `{
  "gateway": {"host": "0.0.0.0", "port": 9999, "token": "secret"},
  "log": {"level": "DEBUG"},
  "claude": {"cli_path": "/opt/cli.js", "permission_mode": "acceptEdits"},
  "session": {"auth_mode": "api_key"},
  "mcp_servers": {"fs": {"transport": "stdio", "command": "mcp-fs", "args": ["--root", "/tmp"]}}
}`
	if err := os.WriteFile(path, []byte(raw), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom error: %v", err)
	}
	if cfg.Gateway.Port != 9999 || cfg.Gateway.Token != "secret" {
		t.Fatalf("unexpected gateway config: %+v", cfg.Gateway)
	}
	if cfg.Log.Level != "debug" {
		t.Fatalf("expected normalized log level, got %q", cfg.Log.Level)
	}
	if cfg.Claude.CLIPath != "/opt/cli.js" || cfg.Claude.PermissionMode != "acceptEdits" {
		t.Fatalf("unexpected claude config: %+v", cfg.Claude)
	}
	if cfg.Session.AuthMode != AuthModeAPIKey {
		t.Fatalf("expected api_key auth mode, got %q", cfg.Session.AuthMode)
	}
	fs, ok := cfg.MCPServers["fs"]
	if !ok {
		t.Fatal("expected mcp server fs")
	}
	if fs.Command != "mcp-fs" || len(fs.Args) != 2 {
		t.Fatalf("unexpected mcp server: %+v", fs)
	}
}

func TestValidate_RejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "port", mutate: func(c *Config) { c.Gateway.Port = 70000 }},
		{name: "log level", mutate: func(c *Config) { c.Log.Level = "loud" }},
		{name: "log format", mutate: func(c *Config) { c.Log.Format = "xml" }},
		{name: "permission mode", mutate: func(c *Config) { c.Claude.PermissionMode = "yolo" }},
		{name: "auth mode", mutate: func(c *Config) { c.Session.AuthMode = "password" }},
		{name: "stdio without command", mutate: func(c *Config) {
			c.MCPServers = map[string]MCPServerConfig{"x": {Transport: "stdio"}}
		}},
		{name: "sse without url", mutate: func(c *Config) {
			c.MCPServers = map[string]MCPServerConfig{"x": {Transport: "sse"}}
		}},
		{name: "unknown transport", mutate: func(c *Config) {
			c.MCPServers = map[string]MCPServerConfig{"x": {Transport: "carrier-pigeon"}}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestCLIPath_PrefersEnvironment(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Claude.CLIPath = "/from/config/cli.js"

	t.Setenv("CLAUDE_CODE_CLI_PATH", "")
	if got := cfg.CLIPath(); got != "/from/config/cli.js" {
		t.Fatalf("expected config path, got %q", got)
	}

	t.Setenv("CLAUDE_CODE_CLI_PATH", "/from/env/cli.js")
	if got := cfg.CLIPath(); got != "/from/env/cli.js" {
		t.Fatalf("expected env path, got %q", got)
	}
}

func TestStateDir_Override(t *testing.T) {
	cfg := DefaultConfig()
	dir := t.TempDir()
	cfg.State.Dir = dir
	if cfg.StateDir() != dir {
		t.Fatalf("expected %q, got %q", dir, cfg.StateDir())
	}
	if cfg.SettingsPath() != filepath.Join(dir, "settings.json") {
		t.Fatalf("unexpected settings path %q", cfg.SettingsPath())
	}
}
