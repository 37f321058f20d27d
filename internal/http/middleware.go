package httpapi

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/example/driver-console-sync/internal/observability"
)

// guard sits in front of the router. It turns handler panics into 500s and
// refuses every method but GET.
func (s *Server) guard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("inspection handler panicked", "panic", rec, "path", r.URL.Path)
				http.Error(w, "internal error", http.StatusInternalServerError)
			}
		}()
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "inspection server is read-only", http.StatusMethodNotAllowed)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// instrument runs inside the router so the matched route template is known.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = newID()
		}
		w.Header().Set("X-Request-ID", reqID)
		w.Header().Set("Cache-Control", "no-store")

		sw := &snapshotWriter{ResponseWriter: w}
		next.ServeHTTP(sw, r)

		route := routeName(r)
		code := strconv.Itoa(sw.status())
		elapsed := time.Since(start)
		observability.HTTPRequestsTotal.WithLabelValues(r.Method, route, code).Inc()
		observability.HTTPRequestDuration.WithLabelValues(r.Method, route, code).Observe(elapsed.Seconds())

		level := slog.LevelInfo
		if route == "/metrics" || route == "/healthz" {
			level = slog.LevelDebug
		}
		s.logger.Log(r.Context(), level, "inspection request",
			"route", route,
			"status", sw.status(),
			"bytes", sw.bytes,
			"request_id", reqID,
			"duration_ms", elapsed.Milliseconds(),
		)
	})
}

// snapshotWriter records what a handler sent back.
type snapshotWriter struct {
	http.ResponseWriter
	code  int
	bytes int
}

func (w *snapshotWriter) WriteHeader(code int) {
	if w.code == 0 {
		w.code = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *snapshotWriter) Write(b []byte) (int, error) {
	if w.code == 0 {
		w.code = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

func (w *snapshotWriter) status() int {
	if w.code == 0 {
		return http.StatusOK
	}
	return w.code
}

// routeName is the matched path template. Unmatched paths share one label.
func routeName(r *http.Request) string {
	if cur := mux.CurrentRoute(r); cur != nil {
		if tmpl, err := cur.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return "unmatched"
}
