package agent

import (
	"encoding/json"
	"log/slog"
	"sort"
	"strings"

	"github.com/MEKXH/familiar/internal/claudecli"
)

const (
	TransportStdio = "stdio"
	TransportSSE   = "sse"
	TransportHTTP  = "http"
)

// MCPServer is one MCP server manifest handed to the runtime.
type MCPServer struct {
	Transport string
	Command   string
	Args      []string
	Env       map[string]string
	URL       string
	Headers   map[string]string
}

// Options configures a runtime connection.
type Options struct {
	Runner         *claudecli.Runner
	Cwd            string
	Model          string
	PermissionMode string
	AllowedTools   []string
	MCPServers     map[string]MCPServer
	// Env entries override the inherited environment; UnsetEnv keys are removed from it.
	Env      map[string]string
	UnsetEnv []string
	Hook     HookFunc
	Logger   *slog.Logger
}

// Args returns the CLI arguments for a streaming session.
func (o Options) Args() ([]string, error) {
	mode := strings.TrimSpace(o.PermissionMode)
	if mode == "" {
		mode = "default"
	}
	args := []string{
		"--output-format", "stream-json",
		"--input-format", "stream-json",
		"--verbose",
		"--permission-mode", mode,
	}
	if model := strings.TrimSpace(o.Model); model != "" {
		args = append(args, "--model", model)
	}
	if len(o.AllowedTools) > 0 {
		args = append(args, "--allowedTools", strings.Join(o.AllowedTools, ","))
	}
	if len(o.MCPServers) > 0 {
		payload, err := MCPConfigJSON(o.MCPServers)
		if err != nil {
			return nil, err
		}
		args = append(args, "--mcp-config", payload)
	}
	return args, nil
}

// MCPConfigJSON renders servers in the runtime's --mcp-config format.
func MCPConfigJSON(servers map[string]MCPServer) (string, error) {
	names := make([]string, 0, len(servers))
	for name := range servers {
		names = append(names, name)
	}
	sort.Strings(names)

	entries := make(map[string]map[string]any, len(servers))
	for _, name := range names {
		server := servers[name]
		transport := strings.ToLower(strings.TrimSpace(server.Transport))
		entry := map[string]any{}
		switch transport {
		case TransportSSE, TransportHTTP:
			entry["type"] = transport
			entry["url"] = server.URL
			if len(server.Headers) > 0 {
				entry["headers"] = server.Headers
			}
		default:
			entry["type"] = TransportStdio
			entry["command"] = server.Command
			if len(server.Args) > 0 {
				entry["args"] = server.Args
			}
			if len(server.Env) > 0 {
				entry["env"] = server.Env
			}
		}
		entries[name] = entry
	}

	payload, err := json.Marshal(map[string]any{"mcpServers": entries})
	if err != nil {
		return "", err
	}
	return string(payload), nil
}

// mergeEnv applies overrides and removals to base.
func mergeEnv(base []string, set map[string]string, unset []string) []string {
	drop := make(map[string]bool, len(unset)+len(set))
	for _, key := range unset {
		drop[key] = true
	}
	for key := range set {
		drop[key] = true
	}

	out := make([]string, 0, len(base)+len(set))
	for _, item := range base {
		key, _, _ := strings.Cut(item, "=")
		if drop[key] {
			continue
		}
		out = append(out, item)
	}

	keys := make([]string, 0, len(set))
	for key := range set {
		if strings.TrimSpace(key) != "" {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	for _, key := range keys {
		out = append(out, key+"="+set[key])
	}
	return out
}
