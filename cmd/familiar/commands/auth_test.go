package commands

import (
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MEKXH/familiar/internal/auth"
)

func TestAuthLogin_WaitsForCompletion(t *testing.T) {
	old := loginPollInterval
	loginPollInterval = 10 * time.Millisecond
	t.Cleanup(func() { loginPollInterval = old })

	var polls atomic.Int32
	withSidecar(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/auth/claude/login":
			writeTestJSON(w, http.StatusOK, auth.Status{Pending: true, LoginURL: "https://claude.ai/oauth/x"})
		case "/auth/claude/status":
			if polls.Add(1) < 2 {
				writeTestJSON(w, http.StatusOK, auth.Status{Pending: true})
				return
			}
			writeTestJSON(w, http.StatusOK, auth.Status{Active: true, Account: "me@example.com"})
		default:
			http.NotFound(w, r)
		}
	}))

	out, err := execute(t, "auth", "login", "--wait", "5s")
	if err != nil {
		t.Fatalf("auth login error: %v", err)
	}
	if !strings.Contains(out, "https://claude.ai/oauth/x") {
		t.Fatalf("expected login url, got %q", out)
	}
	if !strings.Contains(out, "Logged in as me@example.com.") {
		t.Fatalf("expected final status, got %q", out)
	}
	if polls.Load() != 2 {
		t.Fatalf("expected 2 status polls, got %d", polls.Load())
	}
}

func TestAuthLogin_WithoutWaitReturnsImmediately(t *testing.T) {
	seen := withSidecar(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeTestJSON(w, http.StatusOK, auth.Status{Pending: true, LoginURL: "https://claude.ai/oauth/y"})
	}))

	out, err := execute(t, "auth", "login")
	if err != nil {
		t.Fatalf("auth login error: %v", err)
	}
	if len(seen()) != 1 {
		t.Fatalf("expected one request, got %d", len(seen()))
	}
	if !strings.Contains(out, "Login in progress.") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestAuthLogout(t *testing.T) {
	seen := withSidecar(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeTestJSON(w, http.StatusOK, auth.Status{})
	}))

	out, err := execute(t, "auth", "logout")
	if err != nil {
		t.Fatalf("auth logout error: %v", err)
	}
	req := seen()[0]
	if req.Method != http.MethodPost || req.URL.Path != "/auth/claude/logout" {
		t.Fatalf("unexpected request %s %s", req.Method, req.URL.Path)
	}
	if !strings.Contains(out, "Logged out.") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestAuthStatus_PrintsMessage(t *testing.T) {
	withSidecar(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeTestJSON(w, http.StatusOK, auth.Status{Message: "Claude CLI unavailable."})
	}))

	out, err := execute(t, "auth", "status")
	if err != nil {
		t.Fatalf("auth status error: %v", err)
	}
	if !strings.Contains(out, "Logged out.") || !strings.Contains(out, "Claude CLI unavailable.") {
		t.Fatalf("unexpected output %q", out)
	}
}
