// Package httpserver holds the router, middleware and JSON helpers shared by
// the hive and wasp HTTP APIs.
package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"

	"github.com/waspswithbazookas/wwb/internal/metrics"
	"github.com/waspswithbazookas/wwb/internal/protocol"
	"github.com/waspswithbazookas/wwb/internal/tracing"
)

// MaxBody bounds request bodies; wasp failure output is the largest payload.
const MaxBody = 4 << 20

const shutdownTimeout = 5 * time.Second

type Options struct {
	Component string
	HTTP      *metrics.HTTP
	Tracer    trace.Tracer
}

// NewRouter returns a chi router with request ids, real-IP resolution,
// structured request logs, panic recovery and optional metrics and tracing.
func NewRouter(opts Options) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	if opts.Tracer != nil {
		r.Use(tracing.Middleware(opts.Tracer))
	}
	r.Use(requestLogger(opts.Component, opts.HTTP))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, protocol.Ack{Status: "ok"})
	})
	return r
}

// Serve runs srv until ctx is cancelled, then shuts it down gracefully.
func Serve(ctx context.Context, srv *http.Server) error {
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", srv.Addr, err)
	}
	return ServeListener(ctx, srv, ln)
}

// ServeListener is Serve on an existing listener.
func ServeListener(ctx context.Context, srv *http.Server, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", ln.Addr().String()).Info("HTTP server starting")
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info("HTTP server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// JSON response helpers

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Debug("write response")
	}
}

func WriteError(w http.ResponseWriter, status int, msg, code string) {
	WriteJSON(w, status, protocol.ErrorBody{Error: msg, Code: code})
}

func WriteText(w http.ResponseWriter, status int, text string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, text)
}

func DecodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(io.LimitReader(r.Body, MaxBody)).Decode(v)
}

func ReadText(r *http.Request) (string, error) {
	defer r.Body.Close()
	data, err := io.ReadAll(io.LimitReader(r.Body, MaxBody))
	return string(data), err
}

// RemoteHost is the caller's host after RealIP has applied any
// X-Forwarded-For or X-Real-IP header.
func RemoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Middleware

func requestLogger(component string, m *metrics.HTTP) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			route := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			elapsed := time.Since(start)
			m.Observe(r.Method, route, status, elapsed)
			log.WithFields(log.Fields{
				"component":   component,
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      status,
				"remote":      r.RemoteAddr,
				"request_id":  middleware.GetReqID(r.Context()),
				"duration_ms": elapsed.Milliseconds(),
			}).Debug("http request")
		})
	}
}
