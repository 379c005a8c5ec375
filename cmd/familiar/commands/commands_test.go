package commands

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync"
	"testing"

	"github.com/MEKXH/familiar/internal/config"
)

var ansiRe = regexp.MustCompile(`\x1b\[[0-9;]*m`)

func stripANSI(s string) string {
	return ansiRe.ReplaceAllString(s, "")
}

const testToken = "test-token"

// withSidecar points the CLI at handler and returns a snapshot func for the
// requests it received.
func withSidecar(t *testing.T, handler http.Handler) func() []*http.Request {
	t.Helper()

	var (
		mu   sync.Mutex
		seen []*http.Request
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen = append(seen, r.Clone(r.Context()))
		mu.Unlock()
		handler.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)

	stubConfig(t)
	oldClient := newSidecarClient
	newSidecarClient = func(cfg *config.Config) *sidecarClient {
		c := oldClient(cfg)
		c.baseURL = srv.URL
		return c
	}
	t.Cleanup(func() { newSidecarClient = oldClient })
	return func() []*http.Request {
		mu.Lock()
		defer mu.Unlock()
		return append([]*http.Request(nil), seen...)
	}
}

func stubConfig(t *testing.T) {
	t.Helper()
	old := loadConfig
	loadConfig = func() (*config.Config, error) {
		cfg := config.DefaultConfig()
		cfg.Gateway.Token = testToken
		cfg.State.Dir = t.TempDir()
		return cfg, nil
	}
	t.Cleanup(func() { loadConfig = old })
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stripANSI(out.String()), err
}

func writeTestJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestRootCommand_RegistersSubcommands(t *testing.T) {
	cmd := NewRootCmd()
	for _, name := range []string{"serve", "status", "approve", "auth", "version"} {
		found, _, err := cmd.Find([]string{name})
		if err != nil || found.Name() != name {
			t.Fatalf("expected subcommand %q, got %v err=%v", name, found, err)
		}
	}
}

func TestVersionCommand_PrintsVersion(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version error: %v", err)
	}
	if !strings.HasPrefix(out, "familiar ") {
		t.Fatalf("unexpected version output %q", out)
	}
}

func TestNewSidecarClient_UsesLoopbackForWildcardHost(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Gateway.Host = "0.0.0.0"
	cfg.Gateway.Port = 9999
	cfg.Gateway.Token = " secret "

	c := newSidecarClient(cfg)
	if c.baseURL != "http://127.0.0.1:9999" {
		t.Fatalf("unexpected base url %q", c.baseURL)
	}
	if c.token != "secret" {
		t.Fatalf("expected trimmed token, got %q", c.token)
	}
}

func TestSidecarClient_DecodesAPIError(t *testing.T) {
	withSidecar(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeTestJSON(w, http.StatusUnauthorized, map[string]string{
			"code":    "unauthorized",
			"message": "unauthorized",
		})
	}))
	cfg, _ := loadConfig()

	err := newSidecarClient(cfg).get(t.Context(), "/settings", nil)
	apiErr, ok := err.(*apiError)
	if !ok {
		t.Fatalf("expected *apiError, got %T %v", err, err)
	}
	if apiErr.Status != http.StatusUnauthorized || apiErr.Code != "unauthorized" {
		t.Fatalf("unexpected api error %+v", apiErr)
	}
}
