package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_RecordsCounters(t *testing.T) {
	m := New(func() int { return 2 })

	m.RecordSubmitAttempt(errors.New("boom"))
	m.RecordSubmitAttempt(errors.New("boom"))
	m.RecordSubmitAttempt(nil)
	m.RecordPermission("allow", "auto_allow")
	m.RecordQuery("complete", 1500*time.Millisecond)

	if got := testutil.ToFloat64(m.submitAttempts.WithLabelValues("error")); got != 2 {
		t.Fatalf("expected 2 failed attempts, got %v", got)
	}
	if got := testutil.ToFloat64(m.submitAttempts.WithLabelValues("ok")); got != 1 {
		t.Fatalf("expected 1 successful attempt, got %v", got)
	}
	if got := testutil.ToFloat64(m.permissionResults.WithLabelValues("allow", "auto_allow")); got != 1 {
		t.Fatalf("expected 1 auto-allow, got %v", got)
	}
	if got := testutil.ToFloat64(m.queries.WithLabelValues("complete")); got != 1 {
		t.Fatalf("expected 1 completed query, got %v", got)
	}
}

func TestMetrics_HandlerExposesGauge(t *testing.T) {
	m := New(func() int { return 3 })
	m.RecordConnect(nil)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	text := string(body)
	for _, want := range []string{"familiar_pending_approvals 3", `familiar_agent_connects_total{result="ok"} 1`} {
		if !strings.Contains(text, want) {
			t.Fatalf("expected %q in exposition:\n%s", want, text)
		}
	}
}

func TestMetrics_NilReceiverIsSafe(t *testing.T) {
	var m *Metrics
	m.RecordQuery("error", time.Second)
	m.RecordLogin(true)
	m.RecordEvent("complete")
}
