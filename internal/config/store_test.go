package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSettingsStore_LoadMissingReturnsZero(t *testing.T) {
	store := NewSettingsStore(filepath.Join(t.TempDir(), "state", "settings.json"))
	settings, err := store.Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if settings.Workspace != "" || settings.AnthropicAPIKey != "" {
		t.Fatalf("expected zero settings, got %+v", settings)
	}
}

func TestSettingsStore_SaveAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "settings.json")
	store := NewSettingsStore(path)

	want := Settings{
		AnthropicAPIKey: "sk-test",
		Workspace:       "/ws",
		AuthMode:        AuthModeAPIKey,
		AlwaysAllow:     map[string][]string{"Write": {"/ws/a.txt"}},
	}
	if err := store.Save(want); err != nil {
		t.Fatalf("Save error: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat settings: %v", err)
	}
	if info.Mode().Perm() != settingsFileMode {
		t.Fatalf("expected mode %o, got %o", settingsFileMode, info.Mode().Perm())
	}

	got, err := NewSettingsStore(path).Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if got.AnthropicAPIKey != want.AnthropicAPIKey || got.Workspace != want.Workspace || got.AuthMode != want.AuthMode {
		t.Fatalf("unexpected reloaded settings: %+v", got)
	}
	if len(got.AlwaysAllow["Write"]) != 1 || got.AlwaysAllow["Write"][0] != "/ws/a.txt" {
		t.Fatalf("unexpected always_allow: %+v", got.AlwaysAllow)
	}
}

func TestSettingsStore_AddAlwaysAllowIsIdempotent(t *testing.T) {
	store := NewSettingsStore(filepath.Join(t.TempDir(), "settings.json"))

	for i := 0; i < 3; i++ {
		if err := store.AddAlwaysAllow("Write", "/ws/b.txt"); err != nil {
			t.Fatalf("AddAlwaysAllow error: %v", err)
		}
	}
	if err := store.AddAlwaysAllow("Write", "/ws/a.txt"); err != nil {
		t.Fatalf("AddAlwaysAllow error: %v", err)
	}

	settings, err := store.Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	paths := settings.AlwaysAllow["Write"]
	if len(paths) != 2 {
		t.Fatalf("expected 2 unique paths, got %v", paths)
	}
	if paths[0] != "/ws/a.txt" || paths[1] != "/ws/b.txt" {
		t.Fatalf("expected sorted paths, got %v", paths)
	}
}

func TestEnsureWorkspace_CreatesMarkerAndDemo(t *testing.T) {
	root := filepath.Join(t.TempDir(), "nested", "workspace")

	resolved, err := EnsureWorkspace(root)
	if err != nil {
		t.Fatalf("EnsureWorkspace error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(resolved, workspaceMarker)); err != nil {
		t.Fatalf("expected marker: %v", err)
	}
	demo := DemoFilePath(resolved)
	if demo == "" {
		t.Fatal("expected demo file path")
	}

	if err := os.WriteFile(demo, []byte("edited"), 0644); err != nil {
		t.Fatalf("edit demo: %v", err)
	}
	if _, err := EnsureWorkspace(root); err != nil {
		t.Fatalf("second EnsureWorkspace error: %v", err)
	}
	data, _ := os.ReadFile(demo)
	if string(data) != "edited" {
		t.Fatalf("demo file was overwritten: %q", data)
	}
}

func TestEnsureWorkspace_RejectsEmpty(t *testing.T) {
	if _, err := EnsureWorkspace("  "); err == nil {
		t.Fatal("expected error for empty workspace")
	}
}

func TestWatcher_EmitsOnSave(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.json")
	store := NewSettingsStore(path)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := NewWatcher(path, nil)
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start error: %v", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "other.json"), []byte("{}"), 0644); err != nil {
		t.Fatalf("write unrelated file: %v", err)
	}
	if err := store.Save(Settings{Workspace: "/ws"}); err != nil {
		t.Fatalf("Save error: %v", err)
	}

	select {
	case ev := <-w.Events():
		if filepath.Clean(ev.Path) != path {
			t.Fatalf("unexpected event path %q", ev.Path)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for reload event")
	}
}
