package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/zhangpanweb/tapable/pkg/hooks"
)

func TestInterceptorCountsCallsAndTaps(t *testing.T) {
	m := New("test")
	h := hooks.NewSyncHook([]string{"x"})
	_ = h.Tap("early", func(args ...any) (any, error) { return nil, nil })
	h.Intercept(m.Interceptor("build"))
	_ = h.Tap("late", func(args ...any) (any, error) { return nil, nil })

	if got := testutil.ToFloat64(m.tapsGauge.WithLabelValues("build")); got != 2 {
		t.Fatalf("expected 2 registered taps, got %v", got)
	}

	for i := 0; i < 3; i++ {
		if _, err := h.Call(i); err != nil {
			t.Fatalf("call: %v", err)
		}
	}
	if got := testutil.ToFloat64(m.hookCalls.WithLabelValues("build")); got != 3 {
		t.Fatalf("expected 3 calls, got %v", got)
	}
	if got := testutil.ToFloat64(m.tapCalls.WithLabelValues("build", "late")); got != 3 {
		t.Fatalf("expected 3 tap invocations, got %v", got)
	}
	if got := testutil.CollectAndCount(m.hookDuration); got != 1 {
		t.Fatalf("expected one duration series, got %d", got)
	}
}

func TestInterceptorCountsErrors(t *testing.T) {
	m := New("")
	h := hooks.NewSyncHook(nil)
	h.Intercept(m.Interceptor("fail"))
	_ = h.Tap("boom", func(args ...any) (any, error) { return nil, errors.New("boom") })

	if _, err := h.Call(); err == nil {
		t.Fatalf("expected error")
	}
	if got := testutil.ToFloat64(m.hookErrors.WithLabelValues("fail")); got != 1 {
		t.Fatalf("expected 1 error, got %v", got)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New("tapable")
	m.ObserveHTTPRequest("hooks.list", http.MethodGet, http.StatusOK, 15*time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `tapable_http_requests_total{code="200",handler="hooks.list",method="GET"} 1`) {
		t.Fatalf("missing request counter in output:\n%s", body)
	}
	if !strings.Contains(body, "go_goroutines") {
		t.Fatalf("expected runtime collectors in output")
	}
}
