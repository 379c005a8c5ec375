package commands

import (
	"net/http"
	"strings"
	"testing"

	"github.com/MEKXH/familiar/internal/app"
	"github.com/MEKXH/familiar/internal/approval"
	"github.com/MEKXH/familiar/internal/auth"
	"github.com/MEKXH/familiar/internal/config"
)

func TestStatusCommand_RendersSections(t *testing.T) {
	withSidecar(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			writeTestJSON(w, http.StatusOK, app.Health{Status: app.HealthDegraded, Missing: []string{"node"}})
		case "/settings":
			writeTestJSON(w, http.StatusOK, app.SettingsPayload{
				Workspace:   "/ws",
				AuthMode:    config.AuthModeClaude,
				AlwaysAllow: map[string][]string{"Write": {"/ws/a", "/ws/b"}, "Edit": {"/ws/a"}},
			})
		case "/auth/claude/status":
			writeTestJSON(w, http.StatusOK, auth.Status{Active: true, Account: "me@example.com"})
		case "/approvals":
			writeTestJSON(w, http.StatusOK, map[string]any{
				"approvals": []approval.Request{{ID: "toolu_1", ToolName: "Write", RelativePath: "note.txt"}},
			})
		default:
			http.NotFound(w, r)
		}
	}))

	out, err := execute(t, "status")
	if err != nil {
		t.Fatalf("status error: %v", err)
	}
	for _, want := range []string{
		"Familiar Status",
		"degraded",
		"node",
		"/ws",
		"Edit=1, Write=2",
		"logged in as me@example.com",
		"toolu_1 Write note.txt",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output:\n%s", want, out)
		}
	}
}

func TestStatusCommand_SidecarDown(t *testing.T) {
	stubConfig(t)
	old := newSidecarClient
	newSidecarClient = func(cfg *config.Config) *sidecarClient {
		c := old(cfg)
		c.baseURL = "http://127.0.0.1:1"
		return c
	}
	t.Cleanup(func() { newSidecarClient = old })

	out, err := execute(t, "status")
	if err == nil {
		t.Fatal("expected error when sidecar is down")
	}
	if !strings.Contains(out, "not running") {
		t.Fatalf("expected not running line, got %q", out)
	}
}

func TestFormatLogin(t *testing.T) {
	tests := []struct {
		status auth.Status
		want   string
	}{
		{auth.Status{Pending: true, LoginURL: "u"}, "login in progress (u)"},
		{auth.Status{Active: true}, "logged in"},
		{auth.Status{Message: "Claude.ai login failed."}, "Claude.ai login failed."},
		{auth.Status{}, "logged out"},
	}
	for _, tt := range tests {
		if got := stripANSI(formatLogin(tt.status)); got != tt.want {
			t.Fatalf("formatLogin(%+v) = %q, want %q", tt.status, got, tt.want)
		}
	}
}
