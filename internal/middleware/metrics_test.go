package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cassiomorais/ticketing/internal/infrastructure/observability"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func newMetricsRouter(t *testing.T) (*chi.Mux, *observability.Metrics) {
	t.Helper()
	m := observability.NewMetrics("test", prometheus.NewRegistry())
	r := chi.NewRouter()
	r.Use(Metrics(m))
	r.Get("/api/v1/orders/{id}", func(w http.ResponseWriter, r *http.Request) {
		if chi.URLParam(r, "id") == "missing" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte(`{}`))
	})
	r.Post("/webhooks/payment", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	return r, m
}

func serve(r http.Handler, method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(method, path, nil))
	return w
}

func TestMetrics_LabelsByRoutePattern(t *testing.T) {
	r, m := newMetricsRouter(t)

	serve(r, http.MethodGet, "/api/v1/orders/o-1")
	serve(r, http.MethodGet, "/api/v1/orders/o-2")
	serve(r, http.MethodGet, "/api/v1/orders/missing")

	assert.Equal(t, 2.0, promtest.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/api/v1/orders/{id}", "200")),
		"implicit 200 from Write is counted")
	assert.Equal(t, 1.0, promtest.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/api/v1/orders/{id}", "404")))
	assert.Equal(t, 1, promtest.CollectAndCount(m.HTTPRequestDuration))
}

func TestMetrics_RecordsServerErrors(t *testing.T) {
	r, m := newMetricsRouter(t)

	w := serve(r, http.MethodPost, "/webhooks/payment")

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, 1.0, promtest.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("POST", "/webhooks/payment", "503")))
}

func TestMetrics_UnmatchedPathsShareOneSeries(t *testing.T) {
	r, m := newMetricsRouter(t)

	serve(r, http.MethodGet, "/wp-admin")
	serve(r, http.MethodGet, "/.env")

	assert.Equal(t, 2.0, promtest.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", unmatchedRoute, "404")))
}
