package commands

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/MEKXH/familiar/internal/approval"
)

func TestApproveCommand_PostsDecision(t *testing.T) {
	bodies := make(chan map[string]any, 1)
	seen := withSidecar(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		bodies <- body
		writeTestJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}))

	out, err := execute(t, "approve", "toolu_1", "Allow", "--remember")
	if err != nil {
		t.Fatalf("approve error: %v", err)
	}
	if len(seen()) != 1 {
		t.Fatalf("expected one request, got %d", len(seen()))
	}
	req := seen()[0]
	if req.Method != http.MethodPost || req.URL.Path != "/approve" {
		t.Fatalf("unexpected request %s %s", req.Method, req.URL.Path)
	}
	if got := req.Header.Get("Authorization"); got != "Bearer "+testToken {
		t.Fatalf("unexpected authorization header %q", got)
	}
	if req.Header.Get("X-Request-ID") == "" {
		t.Fatal("expected X-Request-ID header")
	}
	body := <-bodies
	if body["request_id"] != "toolu_1" || body["decision"] != "allow" || body["remember"] != true {
		t.Fatalf("unexpected body %v", body)
	}
	if !strings.Contains(out, "toolu_1: allow") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestApproveCommand_RejectsUnknownDecision(t *testing.T) {
	seen := withSidecar(t, http.NotFoundHandler())

	if _, err := execute(t, "approve", "toolu_1", "maybe"); err == nil {
		t.Fatal("expected error for unknown decision")
	}
	if len(seen()) != 0 {
		t.Fatalf("expected no sidecar call, got %d", len(seen()))
	}
}

func TestApproveCommand_SurfacesNotFound(t *testing.T) {
	withSidecar(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeTestJSON(w, http.StatusNotFound, map[string]string{
			"code":    "not_found",
			"message": "no pending request toolu_9",
		})
	}))

	_, err := execute(t, "approve", "toolu_9", "deny")
	if err == nil || !strings.Contains(err.Error(), "not_found") {
		t.Fatalf("expected not_found error, got %v", err)
	}
}

func TestApproveListCommand(t *testing.T) {
	withSidecar(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/approvals" {
			http.NotFound(w, r)
			return
		}
		writeTestJSON(w, http.StatusOK, map[string]any{
			"approvals": []approval.Request{
				{ID: "toolu_1", ToolName: "Write", Path: "/ws/note.txt", RelativePath: "note.txt", CreatedAt: time.Now()},
				{ID: "toolu_2", ToolName: "Bash"},
			},
		})
	}))

	out, err := execute(t, "approve", "list")
	if err != nil {
		t.Fatalf("approve list error: %v", err)
	}
	if !strings.Contains(out, "toolu_1 Write note.txt") || !strings.Contains(out, "toolu_2 Bash") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestApproveListCommand_Empty(t *testing.T) {
	withSidecar(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeTestJSON(w, http.StatusOK, map[string]any{"approvals": []approval.Request{}})
	}))

	out, err := execute(t, "approve", "list")
	if err != nil {
		t.Fatalf("approve list error: %v", err)
	}
	if !strings.Contains(out, "No pending approvals.") {
		t.Fatalf("unexpected output %q", out)
	}
}
