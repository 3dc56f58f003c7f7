package httpadapter

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kirillkom/docimport/internal/config"
)

func TestRateLimitRejectsSecondHistoryRead(t *testing.T) {
	handler := newTestHandler(config.Config{
		APIRateLimitRPS:   0.5,
		APIRateLimitBurst: 1,
	}, Services{History: &historyFake{}})

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/v1/imports/history", nil))
	if first.Code != http.StatusOK {
		t.Fatalf("first request expected 200, got %d", first.Code)
	}

	second := httptest.NewRecorder()
	handler.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/v1/imports/history", nil))
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("second request expected 429, got %d", second.Code)
	}
	if got := second.Header().Get("Retry-After"); got != "2" {
		t.Fatalf("Retry-After = %q, want 2 at half a request per second", got)
	}

	health := httptest.NewRecorder()
	handler.ServeHTTP(health, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if health.Code != http.StatusOK {
		t.Fatalf("health check must bypass the limiter, got %d", health.Code)
	}
}

func TestRateLimitDisabledWithoutRPS(t *testing.T) {
	handler := newTestHandler(config.Config{}, Services{History: &historyFake{}})
	for i := 0; i < 5; i++ {
		res := httptest.NewRecorder()
		handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/v1/imports/history", nil))
		if res.Code != http.StatusOK {
			t.Fatalf("request %d expected 200, got %d", i, res.Code)
		}
	}
}

// holdFirstClassify blocks the first model-bound request until release is
// closed and lets every other request through.
func holdFirstClassify(started chan<- struct{}, release <-chan struct{}) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if modelBound(r) {
			started <- struct{}{}
			<-release
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestBackpressureRejectsSecondClassifyWhileSaturated(t *testing.T) {
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	done := make(chan int, 1)
	handler := backpressureMiddleware(holdFirstClassify(started, release), 1, 20*time.Millisecond)

	go func() {
		res := httptest.NewRecorder()
		handler.ServeHTTP(res, httptest.NewRequest(http.MethodPost, "/v1/documents/classify", nil))
		done <- res.Code
	}()
	<-started

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodPost, "/v1/batches", nil))
	if res.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 for saturated extraction, got %d", res.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		t.Fatalf("decode overload response: %v", err)
	}
	if body["error"] == "" || res.Header().Get("Retry-After") != "1" {
		t.Fatalf("expected overload message and Retry-After, got %v %q", body, res.Header().Get("Retry-After"))
	}

	// Reads and commits do not queue behind the model.
	for _, req := range []*http.Request{
		httptest.NewRequest(http.MethodGet, "/v1/imports/history", nil),
		httptest.NewRequest(http.MethodPost, "/v1/imports", nil),
	} {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusNoContent {
			t.Fatalf("%s %s expected to bypass backpressure, got %d", req.Method, req.URL.Path, rec.Code)
		}
	}

	close(release)
	select {
	case code := <-done:
		if code != http.StatusNoContent {
			t.Fatalf("first request expected 204, got %d", code)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for first request completion")
	}
}

func TestBackpressureWaitsForFreedSlot(t *testing.T) {
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	done := make(chan int, 1)
	handler := backpressureMiddleware(holdFirstClassify(started, release), 1, time.Second)

	go func() {
		res := httptest.NewRecorder()
		handler.ServeHTTP(res, httptest.NewRequest(http.MethodPost, "/v1/documents/classify", nil))
		done <- res.Code
	}()
	<-started

	go func() {
		time.Sleep(20 * time.Millisecond)
		close(release)
	}()
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodPost, "/v1/documents/classify", nil))
	<-done
	if res.Code != http.StatusNoContent {
		t.Fatalf("expected waiting request to get the freed slot, got %d", res.Code)
	}
}
