// Package server exposes the HTTP surface: the broadcast, overlay and
// translation pages with their websocket and SSE feeds, the config and
// session controls, acknowledgments, health, status and metrics. It applies
// CORS and injects correlation IDs into request contexts for consistent
// logging.
package server

import (
	"bufio"
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/onnwee/commentcast/telemetry"
)

//go:embed static
var staticFiles embed.FS

// controlPaths are the endpoints that change session state.
var controlPaths = map[string]bool{
	"/api/session":      true,
	"/api/comment-test": true,
}

func isControl(r *http.Request) bool {
	return controlPaths[r.URL.Path] || (r.URL.Path == "/config" && r.Method == http.MethodPut)
}

// NewMux returns the HTTP handler with all routes. ctx bounds the rate
// limiter cleanup and sessions started over HTTP.
func NewMux(ctx context.Context, deps Deps) http.Handler {
	authCfg := loadAuthConfig()
	limiter := newIPRateLimiter(ctx, loadRateLimiterConfig())
	corsCfg := loadCORSConfig()
	handlers := NewHandlers(ctx, deps)

	static, err := fs.Sub(staticFiles, "static")
	if err != nil {
		// embedded at build time
		panic(err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", handlers.HandleHealthz)
	mux.HandleFunc("/readyz", handlers.HandleReadyz)

	// Pages and feeds
	mux.Handle("/", pageHandler(static, "index.html"))
	mux.Handle("/overlay", pageHandler(static, "overlay.html"))
	mux.Handle("/translate", pageHandler(static, "translate.html"))
	mux.Handle("/img/", http.FileServer(http.FS(static)))
	mux.Handle("/ws", handlers.handleWS())
	mux.HandleFunc("/events", handlers.handleEvents(TopicBroadcast))
	mux.HandleFunc("/overlay/events", handlers.handleEvents(TopicOverlay))
	mux.HandleFunc("/translate/events", handlers.handleEvents(TopicTranslate))
	mux.HandleFunc("/se/", handlers.HandleSoundClip)

	// Config, status and control
	mux.HandleFunc("/config", handlers.HandleConfig)
	mux.HandleFunc("/status", handlers.HandleStatus)
	mux.HandleFunc("/api/responses", handlers.HandleResponses)
	mux.HandleFunc("/api/ack/", handlers.HandleAck)
	mux.HandleFunc("/api/comment-test", handlers.HandleCommentTest)
	mux.HandleFunc("/api/session", handlers.HandleSession)
	mux.HandleFunc("/api/history", handlers.HandleHistory)

	guarded := adminAuth(rateLimitMiddleware(mux, limiter), authCfg)
	selective := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isControl(r) {
			guarded.ServeHTTP(w, r)
			return
		}
		mux.ServeHTTP(w, r)
	})

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		corr := r.Header.Get("X-Correlation-ID")
		if corr == "" {
			corr = uuid.New().String()
		}
		ctx := telemetry.WithCorrelation(r.Context(), corr)
		w.Header().Set("X-Correlation-ID", corr)

		ctx, span := telemetry.StartSpan(ctx, "http-server", r.Method+" "+r.URL.Path,
			telemetry.HTTPMethodAttr(r.Method),
			telemetry.HTTPRouteAttr(r.URL.Path),
			telemetry.HTTPURLAttr(r.URL.String()),
		)
		defer span.End()

		telemetry.LoggerWithCorr(ctx).Debug("request start", slog.String("method", r.Method), slog.String("path", r.URL.Path), slog.String("component", "http"))

		rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		selective.ServeHTTP(rec, r.WithContext(ctx))

		telemetry.SetSpanHTTPStatus(span, rec.statusCode)
		if rec.statusCode >= 400 {
			code, msg := telemetry.ErrorStatus(fmt.Sprintf("HTTP %d", rec.statusCode))
			span.SetStatus(code, msg)
		}
	})
	return withCORSConfig(handler, corsCfg)
}

// pageHandler serves one embedded page at an exact path.
func pageHandler(static fs.FS, name string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		want := "/" + strings.TrimSuffix(name, ".html")
		if name == "index.html" {
			want = "/"
		}
		if r.URL.Path != want {
			http.NotFound(w, r)
			return
		}
		http.ServeFileFS(w, r, static, name)
	})
}

// statusRecorder wraps ResponseWriter to capture status code
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.statusCode = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

// Flush implements http.Flusher if the underlying ResponseWriter supports it
func (r *statusRecorder) Flush() {
	if flusher, ok := r.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Hijack implements http.Hijacker for the websocket upgrade.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("hijacking not supported")
	}
	r.statusCode = http.StatusSwitchingProtocols
	return hj.Hijack()
}

// Start runs the HTTP server on addr and shuts down gracefully on context
// cancellation. Event streams are released by closing the hub first.
func Start(ctx context.Context, deps Deps, addr string) error {
	srv := &http.Server{
		Addr:        addr,
		Handler:     NewMux(ctx, deps),
		ReadTimeout: 5 * time.Second,
		// event streams and websockets stay open
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		if deps.Hub != nil {
			_ = deps.Hub.Close()
		}
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("http server shutdown error", slog.Any("err", err))
		}
	}()

	slog.Info("http server listening", slog.String("addr", addr), slog.String("component", "http"))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("http server error", slog.Any("err", err))
		return err
	}
	return nil
}
