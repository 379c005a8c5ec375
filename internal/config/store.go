package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const (
	settingsFileMode = 0600
	settingsDirMode  = 0755

	workspaceMarker = ".familiar-workspace"
	demoFileName    = "familiar-demo.txt"
)

// SettingsStore persists Settings to a JSON file with atomic replace.
type SettingsStore struct {
	path string
	mu   sync.Mutex
}

// NewSettingsStore creates a store backed by path.
func NewSettingsStore(path string) *SettingsStore {
	return &SettingsStore{path: path}
}

// Path returns the backing file path.
func (s *SettingsStore) Path() string {
	return s.path
}

// Load reads settings from disk. A missing file yields zero settings.
func (s *SettingsStore) Load() (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.loadLocked()
}

// Save writes settings to disk.
func (s *SettingsStore) Save(settings Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.saveLocked(settings)
}

// Update applies fn to the stored settings and persists the result.
func (s *SettingsStore) Update(fn func(*Settings)) (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.loadLocked()
	if err != nil {
		return Settings{}, err
	}
	fn(&current)
	if err := s.saveLocked(current); err != nil {
		return Settings{}, err
	}
	return current, nil
}

// AddAlwaysAllow registers a remembered (tool, path) approval.
func (s *SettingsStore) AddAlwaysAllow(tool, path string) error {
	_, err := s.Update(func(settings *Settings) {
		settings.AddAlwaysAllow(tool, path)
	})
	return err
}

func (s *SettingsStore) loadLocked() (Settings, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Settings{}, nil
		}
		return Settings{}, fmt.Errorf("read settings: %w", err)
	}
	if strings.TrimSpace(string(data)) == "" {
		return Settings{}, nil
	}

	var parsed Settings
	if err := json.Unmarshal(data, &parsed); err != nil {
		return Settings{}, fmt.Errorf("parse settings: %w", err)
	}
	return parsed, nil
}

func (s *SettingsStore) saveLocked(settings Settings) error {
	encoded, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, settingsDirMode); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, "settings-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp settings: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer os.Remove(tmpPath)

	if _, err := tmpFile.Write(encoded); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("write temp settings: %w", err)
	}
	if err := tmpFile.Chmod(settingsFileMode); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("chmod temp settings: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp settings: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		if removeErr := os.Remove(s.path); removeErr != nil && !os.IsNotExist(removeErr) {
			return fmt.Errorf("replace settings: rename failed (%v), remove failed (%v)", err, removeErr)
		}
		if retryErr := os.Rename(tmpPath, s.path); retryErr != nil {
			return fmt.Errorf("replace settings after remove: %w", retryErr)
		}
	}
	return nil
}

// EnsureWorkspace creates the workspace directory with its marker and demo file,
// returning the absolute, symlink-resolved path.
func EnsureWorkspace(path string) (string, error) {
	path = expandHome(strings.TrimSpace(path))
	if path == "" {
		return "", fmt.Errorf("workspace path is required")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve workspace: %w", err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return "", fmt.Errorf("create workspace: %w", err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", fmt.Errorf("resolve workspace: %w", err)
	}

	marker := filepath.Join(resolved, workspaceMarker)
	if _, err := os.Stat(marker); os.IsNotExist(err) {
		if err := os.WriteFile(marker, []byte("Familiar workspace\n"), 0644); err != nil {
			return "", fmt.Errorf("write workspace marker: %w", err)
		}
	}

	demo := filepath.Join(resolved, demoFileName)
	if _, err := os.Stat(demo); os.IsNotExist(err) {
		content := "# Familiar Notes\n\nThis file is modified by the Familiar demo.\n"
		if err := os.WriteFile(demo, []byte(content), 0644); err != nil {
			return "", fmt.Errorf("write demo file: %w", err)
		}
	}
	return resolved, nil
}

// DemoFilePath returns the demo file inside workspace, or "" if it does not exist.
func DemoFilePath(workspace string) string {
	if strings.TrimSpace(workspace) == "" {
		return ""
	}
	demo := filepath.Join(workspace, demoFileName)
	if _, err := os.Stat(demo); err != nil {
		return ""
	}
	return demo
}
