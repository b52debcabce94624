package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/search", "/search"},
		{"/search/", "/search"},
		{"/history/associate", "/history/associate"},
		{"/health", "/health"},
		{"/wp-admin/setup.php", "other"},
		{"/", "other"},
	}
	for _, tt := range tests {
		if got := normalizePath(tt.path); got != tt.want {
			t.Errorf("normalizePath(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func counterValue(t *testing.T, c prometheus.Collector, labels map[string]string) float64 {
	t.Helper()
	ch := make(chan prometheus.Metric, 16)
	c.Collect(ch)
	close(ch)
	for m := range ch {
		var out dto.Metric
		if err := m.Write(&out); err != nil {
			t.Fatalf("write metric: %v", err)
		}
		if matchLabels(out.GetLabel(), labels) && out.Counter != nil {
			return out.Counter.GetValue()
		}
	}
	return 0
}

func matchLabels(pairs []*dto.LabelPair, want map[string]string) bool {
	if len(pairs) != len(want) {
		return false
	}
	for _, p := range pairs {
		if want[p.GetName()] != p.GetValue() {
			return false
		}
	}
	return true
}

func TestHTTPMetrics_RecordsNormalizedRoute(t *testing.T) {
	metrics := NewMetrics()
	reg := prometheus.NewRegistry()
	if err := metrics.Register(reg); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	handler := HTTPMetrics(metrics)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/search", nil))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/random/123", nil))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	if got := counterValue(t, metrics.httpRequestsTotal, map[string]string{"method": "GET", "path": "/search", "status": "418"}); got != 1 {
		t.Errorf("/search count = %v, want 1", got)
	}
	if got := counterValue(t, metrics.httpRequestsTotal, map[string]string{"method": "GET", "path": "other", "status": "418"}); got != 1 {
		t.Errorf("other count = %v, want 1", got)
	}
	if got := counterValue(t, metrics.httpRequestsTotal, map[string]string{"method": "GET", "path": "/health", "status": "418"}); got != 0 {
		t.Errorf("/health count = %v, want 0", got)
	}
}

func TestRateLimiter_CountsRequestsAndBlocks(t *testing.T) {
	metrics := NewMetrics()
	store := NewInMemoryRateLimitStore(RateLimitConfig{Capacity: 1, RefillRate: 0.001})
	handler := RateLimiter(store, MethodCost, IPKeyFunc(false), metrics)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/search", nil)
		req.Header.Set("X-Real-IP", "192.0.2.1")
		handler.ServeHTTP(httptest.NewRecorder(), req)
	}

	labels := map[string]string{"endpoint": "/search", "key_type": "ip"}
	if got := counterValue(t, metrics.rateLimitRequests, labels); got != 2 {
		t.Errorf("requests = %v, want 2", got)
	}
	if got := counterValue(t, metrics.rateLimitBlocked, labels); got != 1 {
		t.Errorf("blocked = %v, want 1", got)
	}
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.IncRateLimitRequests("/search", "ip")
	m.IncRateLimitBlocked("/search", "ip")
	m.IncRateLimitStoreErrors("redis")
	m.ObserveHTTPRequest("GET", "/search", "200", 0.1, 10)
}
