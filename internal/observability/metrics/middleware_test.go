package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestHTTPMiddlewareRecordsRequests(t *testing.T) {
	recorder := New()
	handler := HTTPMiddleware(recorder, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "/widgets/abc123def", nil)
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	count := testutil.CollectAndCount(recorder.requestsTotal)
	if count != 1 {
		t.Fatalf("expected one recorded request series, got %d", count)
	}
}

func TestResponseRecorderCapturesStatus(t *testing.T) {
	rr := httptest.NewRecorder()
	recorder := NewResponseRecorder(rr)

	recorder.WriteHeader(http.StatusAccepted)

	if recorder.Status() != http.StatusAccepted {
		t.Fatalf("expected status %d, got %d", http.StatusAccepted, recorder.Status())
	}
}

func TestResponseRecorderDefaultsToOK(t *testing.T) {
	rr := httptest.NewRecorder()
	recorder := NewResponseRecorder(rr)

	if recorder.Status() != http.StatusOK {
		t.Fatalf("expected default status 200, got %d", recorder.Status())
	}
}
