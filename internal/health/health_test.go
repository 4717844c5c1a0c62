package health

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/bms/internal/domain"
)

func TestHealthHandler(t *testing.T) {
	handler := NewHandler("v1.0.0")

	handler.RegisterChecker("test-healthy", NewSimpleChecker("test", func() error {
		return nil
	}))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}

	var response Response
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if response.Status != StatusHealthy {
		t.Errorf("expected status healthy, got %s", response.Status)
	}

	if response.Version != "v1.0.0" {
		t.Errorf("expected version v1.0.0, got %s", response.Version)
	}

	if len(response.Checks) != 1 {
		t.Errorf("expected 1 check, got %d", len(response.Checks))
	}
}

func TestHealthHandler_Unhealthy(t *testing.T) {
	handler := NewHandler("v1.0.0")

	handler.RegisterChecker("test-unhealthy", NewSimpleChecker("test", func() error {
		return errors.New("service unavailable")
	}))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", w.Code)
	}

	var response Response
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if response.Status != StatusUnhealthy {
		t.Errorf("expected status unhealthy, got %s", response.Status)
	}
}

func TestLivenessHandler(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/livez", nil)
	w := httptest.NewRecorder()

	LivenessHandler(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}

	if w.Body.String() != "ok" {
		t.Errorf("expected body 'ok', got %s", w.Body.String())
	}
}

func TestReadinessHandler(t *testing.T) {
	handler := NewHandler("v1.0.0")

	handler.RegisterChecker("test", NewSimpleChecker("test", func() error {
		return nil
	}))

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	w := httptest.NewRecorder()

	handler.ReadinessHandler(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}

	if w.Body.String() != "ready" {
		t.Errorf("expected body 'ready', got %s", w.Body.String())
	}
}

func TestReadinessHandler_NotReady(t *testing.T) {
	handler := NewHandler("v1.0.0")

	handler.RegisterChecker("test", NewSimpleChecker("test", func() error {
		return errors.New("not ready")
	}))

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	w := httptest.NewRecorder()

	handler.ReadinessHandler(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", w.Code)
	}

	if w.Body.String() != "not ready" {
		t.Errorf("expected body 'not ready', got %s", w.Body.String())
	}
}

func TestSimpleChecker(t *testing.T) {
	checker := NewSimpleChecker("test", func() error {
		time.Sleep(10 * time.Millisecond)
		return nil
	})

	check := checker.Check()

	if check.Status != StatusHealthy {
		t.Errorf("expected status healthy, got %s", check.Status)
	}

	if check.DurationMs < 10 {
		t.Errorf("expected duration >= 10ms, got %dms", check.DurationMs)
	}
}

func TestSimpleChecker_Error(t *testing.T) {
	checker := NewSimpleChecker("test", func() error {
		return errors.New("test error")
	})

	check := checker.Check()

	if check.Status != StatusUnhealthy {
		t.Errorf("expected status unhealthy, got %s", check.Status)
	}

	if check.Message != "test error" {
		t.Errorf("expected message 'test error', got %s", check.Message)
	}
}

func TestOutboxBacklogChecker(t *testing.T) {
	cases := []struct {
		name    string
		pending int
		err     error
		want    Status
	}{
		{name: "empty backlog", pending: 0, want: StatusHealthy},
		{name: "degraded backlog", pending: 50, want: StatusDegraded},
		{name: "unhealthy backlog", pending: 500, want: StatusUnhealthy},
		{name: "stats error", err: errors.New("db down"), want: StatusUnhealthy},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			checker := NewOutboxBacklogChecker(&stubOutboxStats{
				pending: tc.pending,
				err:     tc.err,
			}, 50, 500)

			check := checker.Check()
			if check.Status != tc.want {
				t.Errorf("expected status %s, got %s", tc.want, check.Status)
			}
		})
	}
}

type stubOutboxStats struct {
	pending int
	err     error
}

func (s *stubOutboxStats) Enqueue(msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	return msg, nil
}

func (s *stubOutboxStats) PullPending(int) ([]domain.OutboxMessage, error) {
	return nil, nil
}

func (s *stubOutboxStats) Stats() (domain.OutboxStats, error) {
	if s.err != nil {
		return domain.OutboxStats{}, s.err
	}
	return domain.OutboxStats{PendingCount: s.pending, OldestPendingAt: time.Now().UTC()}, nil
}

func (s *stubOutboxStats) MarkSent(string) error   { return nil }
func (s *stubOutboxStats) MarkFailed(string) error { return nil }

var _ domain.OutboxRepository = (*stubOutboxStats)(nil)
