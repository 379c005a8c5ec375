package claudecli

import (
	"os"
	"os/exec"
	"strings"
)

var systemPaths = []string{"/usr/bin", "/bin", "/usr/sbin", "/sbin"}

// Environment returns base with PATH extended by the standard system directories
// that GUI-launched processes often miss.
func Environment(base []string) []string {
	env := make([]string, 0, len(base)+1)
	pathValue := ""
	for _, kv := range base {
		if strings.HasPrefix(kv, "PATH=") {
			pathValue = strings.TrimPrefix(kv, "PATH=")
			continue
		}
		env = append(env, kv)
	}
	return append(env, "PATH="+AugmentPath(pathValue))
}

// AugmentPath appends missing system directories to a PATH value.
func AugmentPath(pathValue string) string {
	var parts []string
	seen := make(map[string]bool)
	for _, segment := range strings.Split(pathValue, string(os.PathListSeparator)) {
		if segment == "" || seen[segment] {
			continue
		}
		seen[segment] = true
		parts = append(parts, segment)
	}
	for _, p := range systemPaths {
		if !seen[p] {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, string(os.PathListSeparator))
}

const (
	PrereqNode      = "node"
	PrereqClaudeCLI = "claude_cli"
)

// MissingPrerequisites reports which of node and the bundled CLI cannot be found.
func MissingPrerequisites(nodePath, cliPath string) []string {
	var missing []string
	if !commandAvailable(nodePath) {
		missing = append(missing, PrereqNode)
	}
	if strings.TrimSpace(cliPath) == "" {
		missing = append(missing, PrereqClaudeCLI)
	} else if _, err := os.Stat(cliPath); err != nil {
		missing = append(missing, PrereqClaudeCLI)
	}
	return missing
}

var lookPath = exec.LookPath

func commandAvailable(name string) bool {
	if strings.TrimSpace(name) == "" {
		name = "node"
	}
	if strings.ContainsRune(name, os.PathSeparator) {
		info, err := os.Stat(name)
		return err == nil && !info.IsDir()
	}
	if _, err := lookPath(name); err == nil {
		return true
	}
	for _, dir := range systemPaths {
		if info, err := os.Stat(dir + "/" + name); err == nil && !info.IsDir() {
			return true
		}
	}
	return false
}
