package metrics

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"
)

type route struct {
	handler string
	method  string
}

// routeStats 汇总同一路由模式下的请求。
type routeStats struct {
	byStatus     map[int]uint64
	serverErrors uint64
	latency      *histogram
}

type httpMetrics struct {
	mu     sync.Mutex
	routes map[route]*routeStats
}

var httpCollector = &httpMetrics{routes: make(map[route]*routeStats)}

// ObserveHTTPRequest records one served HTTP request. handler is the chi route
// pattern, so requests for different session ids share one series.
func ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	httpCollector.observe(route{handler: handler, method: method}, status, duration)
}

func (m *httpMetrics) observe(key route, status int, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := m.routes[key]
	if stats == nil {
		stats = &routeStats{byStatus: make(map[int]uint64), latency: newHistogram()}
		m.routes[key] = stats
	}
	stats.byStatus[status]++
	if status >= http.StatusInternalServerError {
		stats.serverErrors++
	}
	stats.latency.observe(duration.Seconds())
}

func (m *httpMetrics) render() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := slices.SortedFunc(maps.Keys(m.routes), func(a, b route) int {
		return cmp.Or(cmp.Compare(a.handler, b.handler), cmp.Compare(a.method, b.method))
	})

	var requests, failures, latency strings.Builder
	requests.WriteString("# HELP paychat_http_requests_total Total number of HTTP requests processed.\n")
	requests.WriteString("# TYPE paychat_http_requests_total counter\n")
	failures.WriteString("# HELP paychat_http_request_errors_total Total number of HTTP requests that resulted in a server error.\n")
	failures.WriteString("# TYPE paychat_http_request_errors_total counter\n")
	latency.WriteString("# HELP paychat_http_request_duration_seconds HTTP request duration in seconds.\n")
	latency.WriteString("# TYPE paychat_http_request_duration_seconds histogram\n")

	for _, key := range keys {
		stats := m.routes[key]
		labels := fmt.Sprintf("handler=\"%s\",method=\"%s\"", escape(key.handler), escape(key.method))
		for _, status := range slices.Sorted(maps.Keys(stats.byStatus)) {
			fmt.Fprintf(&requests, "paychat_http_requests_total{%s,code=\"%d\"} %d\n", labels, status, stats.byStatus[status])
		}
		if stats.serverErrors > 0 {
			fmt.Fprintf(&failures, "paychat_http_request_errors_total{%s} %d\n", labels, stats.serverErrors)
		}
		stats.latency.write(&latency, "paychat_http_request_duration_seconds", labels+",")
	}
	return requests.String() + failures.String() + latency.String()
}

// Handler exposes HTTP and chat metrics in Prometheus text exposition format.
func Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		_, _ = fmt.Fprint(w, httpCollector.render())
		_, _ = fmt.Fprint(w, chatCollector.render())
	})
}

// StartServer launches a standalone HTTP server exposing the /metrics endpoint.
func StartServer(ctx context.Context, addr string) error {
	if addr == "" {
		return errors.New("metrics address is empty")
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return err
	}
}
