package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Config root configuration
type Config struct {
	Gateway    GatewayConfig              `mapstructure:"gateway"`
	Log        LogConfig                  `mapstructure:"log"`
	Claude     ClaudeConfig               `mapstructure:"claude"`
	Session    SessionDefaults            `mapstructure:"session"`
	State      StateConfig                `mapstructure:"state"`
	MCPServers map[string]MCPServerConfig `mapstructure:"mcp_servers"`
}

// GatewayConfig server settings
type GatewayConfig struct {
	Host  string `mapstructure:"host"`
	Port  int    `mapstructure:"port"`
	Token string `mapstructure:"token"`
}

// LogConfig application logging settings
type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
	// Format is "text" (default) or "json".
	Format string `mapstructure:"format"`
}

// ClaudeConfig locates the bundled agent CLI and tunes the agent connection.
type ClaudeConfig struct {
	CLIPath        string   `mapstructure:"cli_path"`
	NodePath       string   `mapstructure:"node_path"`
	Model          string   `mapstructure:"model"`
	PermissionMode string   `mapstructure:"permission_mode"`
	AllowedTools   []string `mapstructure:"allowed_tools"`
}

// SessionDefaults seeds the persisted settings on first launch.
type SessionDefaults struct {
	Workspace       string `mapstructure:"workspace"`
	AuthMode        string `mapstructure:"auth_mode"`
	AnthropicAPIKey string `mapstructure:"anthropic_api_key"`
}

// StateConfig controls where runtime state (settings, audit log) lives.
type StateConfig struct {
	Dir string `mapstructure:"dir"`
}

// MCPServerConfig is one MCP server manifest forwarded to the agent runtime.
type MCPServerConfig struct {
	Transport string            `mapstructure:"transport"`
	Command   string            `mapstructure:"command"`
	Args      []string          `mapstructure:"args"`
	Env       map[string]string `mapstructure:"env"`
	URL       string            `mapstructure:"url"`
	Headers   map[string]string `mapstructure:"headers"`
}

const (
	defaultGatewayHost    = "127.0.0.1"
	defaultGatewayPort    = 8765
	defaultNodePath       = "node"
	defaultPermissionMode = "default"
)

// DefaultConfig returns config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Host:  defaultGatewayHost,
			Port:  defaultGatewayPort,
			Token: "",
		},
		Log: LogConfig{
			Level:  "info",
			File:   "",
			Format: "text",
		},
		Claude: ClaudeConfig{
			NodePath:       defaultNodePath,
			PermissionMode: defaultPermissionMode,
			AllowedTools:   []string{},
		},
		Session: SessionDefaults{
			AuthMode: AuthModeClaude,
		},
		State:      StateConfig{},
		MCPServers: map[string]MCPServerConfig{},
	}
}

// ConfigDir returns the familiar config directory
func ConfigDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		slog.Warn("failed to resolve home directory, using current directory as fallback", "error", err)
		homeDir = "."
	}
	return filepath.Join(homeDir, ".familiar")
}

// ConfigPath returns the config file path
func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.json")
}

// DefaultWorkspace is the workspace suggested to the desktop app before the user picks one.
func DefaultWorkspace() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(ConfigDir(), "workspace")
	}
	return filepath.Join(homeDir, "FamiliarWorkspace")
}

// Load loads config from file or returns defaults
func Load() (*Config, error) {
	return LoadFrom(ConfigPath())
}

// LoadFrom loads config from an explicit path, creating it with defaults when absent.
func LoadFrom(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := SaveTo(configPath, cfg); err != nil {
			return cfg, fmt.Errorf("failed to create default config: %w", err)
		}
		return cfg, nil
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("json")
	v.SetEnvPrefix("FAMILIAR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return cfg, err
	}

	if err := v.Unmarshal(cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.MatchName = func(mapKey, fieldName string) bool {
			return normalizeKey(mapKey) == normalizeKey(fieldName)
		}
	}); err != nil {
		return cfg, err
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func normalizeKey(input string) string {
	input = strings.ReplaceAll(input, "_", "")
	input = strings.ReplaceAll(input, "-", "")
	return strings.ToLower(input)
}

// Save saves config to file
func Save(cfg *Config) error {
	return SaveTo(ConfigPath(), cfg)
}

// SaveTo writes config to an explicit path.
func SaveTo(configPath string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(configPath, data, 0600)
}

// Validate checks that the configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Gateway.Host) == "" {
		c.Gateway.Host = defaultGatewayHost
	}
	if c.Gateway.Port <= 0 || c.Gateway.Port > 65535 {
		return fmt.Errorf("gateway.port must be between 1 and 65535, got %d", c.Gateway.Port)
	}

	level := strings.ToLower(strings.TrimSpace(c.Log.Level))
	if level == "" {
		c.Log.Level = "info"
	} else {
		validLevels := map[string]bool{
			"debug": true,
			"info":  true,
			"warn":  true,
			"error": true,
		}
		if !validLevels[level] {
			return fmt.Errorf("log.level must be one of debug, info, warn, error; got %q", c.Log.Level)
		}
		c.Log.Level = level
	}

	switch format := strings.ToLower(strings.TrimSpace(c.Log.Format)); format {
	case "":
		c.Log.Format = "text"
	case "text", "json":
		c.Log.Format = format
	default:
		return fmt.Errorf("log.format must be text or json; got %q", c.Log.Format)
	}

	if strings.TrimSpace(c.Claude.NodePath) == "" {
		c.Claude.NodePath = defaultNodePath
	}
	mode := strings.TrimSpace(c.Claude.PermissionMode)
	if mode == "" {
		c.Claude.PermissionMode = defaultPermissionMode
	} else {
		validModes := map[string]bool{"default": true, "acceptEdits": true, "plan": true, "bypassPermissions": true}
		if !validModes[mode] {
			return fmt.Errorf("claude.permission_mode must be one of default, acceptEdits, plan, bypassPermissions; got %q", mode)
		}
	}

	authMode := strings.TrimSpace(c.Session.AuthMode)
	if authMode == "" {
		c.Session.AuthMode = AuthModeClaude
	} else if _, err := ParseAuthMode(authMode); err != nil {
		return fmt.Errorf("session.auth_mode: %w", err)
	}

	for name, server := range c.MCPServers {
		switch strings.ToLower(strings.TrimSpace(server.Transport)) {
		case "stdio":
			if strings.TrimSpace(server.Command) == "" {
				return fmt.Errorf("mcp_servers.%s.command is required for stdio transport", name)
			}
		case "sse", "http":
			if strings.TrimSpace(server.URL) == "" {
				return fmt.Errorf("mcp_servers.%s.url is required for %s transport", name, server.Transport)
			}
		default:
			return fmt.Errorf("mcp_servers.%s.transport must be one of stdio, sse, http; got %q", name, server.Transport)
		}
	}

	return nil
}

// StateDir returns the directory for runtime state files.
func (c *Config) StateDir() string {
	dir := strings.TrimSpace(c.State.Dir)
	if dir == "" {
		return filepath.Join(ConfigDir(), "state")
	}
	return expandHome(dir)
}

// SettingsPath returns the persisted settings file path.
func (c *Config) SettingsPath() string {
	return filepath.Join(c.StateDir(), "settings.json")
}

// CLIPath returns the bundled agent CLI entrypoint, preferring CLAUDE_CODE_CLI_PATH.
func (c *Config) CLIPath() string {
	if fromEnv := strings.TrimSpace(os.Getenv("CLAUDE_CODE_CLI_PATH")); fromEnv != "" {
		return fromEnv
	}
	return expandHome(strings.TrimSpace(c.Claude.CLIPath))
}

func expandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	rest := path[1:]
	rest = strings.TrimPrefix(rest, string(filepath.Separator))
	rest = strings.TrimPrefix(rest, "/")
	return filepath.Join(homeDir, rest)
}
