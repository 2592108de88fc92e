package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPathLabel(t *testing.T) {
	tests := map[string]string{
		"/":                            "root",
		"/healthz":                     "healthz",
		"/v1/tables/42/route":          "v1_tables_:id_route",
		"/v1/partition-functions/hash": "v1_partition-functions_hash",
	}
	for in, want := range tests {
		if got := PathLabel(in); got != want {
			t.Errorf("PathLabel(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestMiddlewareRecordsStatus(t *testing.T) {
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	before := testutil.ToFloat64(RequestTotal.WithLabelValues(http.MethodGet, "teapot", "418"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/teapot", nil))

	if rec.Code != http.StatusTeapot {
		t.Fatalf("expected 418, got %d", rec.Code)
	}
	after := testutil.ToFloat64(RequestTotal.WithLabelValues(http.MethodGet, "teapot", "418"))
	if after-before != 1 {
		t.Errorf("expected counter to increase by 1, got %v", after-before)
	}
}
