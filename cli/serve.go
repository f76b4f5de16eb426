package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // G108: pprof endpoints enabled only when COMMENTCAST_ENABLE_PPROF=1
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/browser"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/onnwee/commentcast/ack"
	"github.com/onnwee/commentcast/board"
	"github.com/onnwee/commentcast/config"
	"github.com/onnwee/commentcast/db"
	"github.com/onnwee/commentcast/pipeline"
	"github.com/onnwee/commentcast/server"
	"github.com/onnwee/commentcast/telemetry"
)

var autoStart bool

func initServeCommand() *cobra.Command {
	serveCommand := &cobra.Command{
		Use:   "serve",
		Short: "Runs the comment relay and the overlay server",
		Args:  cobra.NoArgs,
		Example: "  # Relay a thread and open the overlay page\n" +
			"  " + os.Args[0] + " serve --thread-url https://example.5ch.net/test/read.cgi/livejupiter/1700000000/ --open",
		RunE: runServeCommand,
	}

	flags := serveCommand.Flags()
	flags.String("thread-url", "", "Thread to relay")
	flags.Int("port", 3000, "HTTP port for the overlay pages")
	flags.Duration("interval", 10*time.Second, "Thread polling interval")
	flags.String("db-dsn", "", "Postgres DSN for the comment archive (archive disabled when empty)")
	flags.Bool("open", false, "Open the broadcast page in a browser")
	flags.BoolVar(&autoStart, "start", true, "Start the session immediately when a thread URL is set")

	return serveCommand
}

// serveFlagKeys maps config keys to the serve flags that override them.
var serveFlagKeys = map[string]string{
	"thread_url":   "thread-url",
	"port":         "port",
	"interval":     "interval",
	"db_dsn":       "db-dsn",
	"open_browser": "open",
}

func runServeCommand(cmd *cobra.Command, args []string) error {
	// bound here because other commands bind db_dsn to their own flag
	for key, flag := range serveFlagKeys {
		if err := viper.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			return err
		}
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.ValidateOptions(); err != nil {
		return err
	}

	telemetry.Init()
	shutdownTracing, err := telemetry.InitTracing("commentcast", version)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer shutdownTracing()
	if telemetry.IsTracingEnabled() {
		slog.Info("tracing enabled", slog.String("endpoint", os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")))
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps := server.Deps{
		Hub:       server.NewHub(),
		Fetcher:   board.NewClient(),
		SpeechAck: ack.New(),
		SoundAck:  ack.New(),
	}
	sessionDeps := pipeline.Deps{
		Fetcher:   deps.Fetcher,
		Sinks:     pipeline.Sinks{Broadcast: deps.Hub, Overlay: deps.Hub, Translation: deps.Hub},
		Announcer: deps.Hub,
		SpeechAck: deps.SpeechAck,
		SoundAck:  deps.SoundAck,
	}

	if cfg.DBDsn != "" {
		database, err := db.Connect(ctx, cfg.DBDsn)
		if err != nil {
			return err
		}
		defer func() {
			if err := database.Close(); err != nil {
				slog.Error("failed to close database", slog.Any("err", err))
			}
		}()
		slog.Info("running database migrations", slog.String("component", "db_migrate"))
		if err := db.Migrate(ctx, database); err != nil {
			return err
		}
		store := db.NewStore(database)
		sessionDeps.Archive = store
		deps.History = store
	} else {
		slog.Info("comment archive disabled (no db_dsn)")
	}

	deps.Session = pipeline.NewSession(cfg, sessionDeps)
	if autoStart && cfg.ThreadURL != "" {
		if err := deps.Session.Start(ctx); err != nil {
			return err
		}
	} else {
		slog.Info("session idle; start it with POST /api/session", slog.String("thread", cfg.ThreadURL))
	}
	defer func() {
		if err := deps.Session.Stop(); err != nil && !errors.Is(err, pipeline.ErrSessionStopped) {
			slog.Error("session stop failed", slog.Any("err", err))
		}
	}()

	startPprof()

	pageURL := fmt.Sprintf("http://localhost:%d/", cfg.Port)
	if cfg.OpenBrowser {
		go func() {
			// give the listener a moment before the browser hits it
			time.Sleep(300 * time.Millisecond)
			if err := browser.OpenURL(pageURL); err != nil {
				slog.Warn("could not open browser", slog.String("url", pageURL), slog.Any("err", err))
			}
		}()
	}

	slog.Info("overlay pages ready",
		slog.String("broadcast", pageURL),
		slog.String("overlay", pageURL+"overlay"),
		slog.String("translate", pageURL+"translate"))
	err = server.Start(ctx, deps, fmt.Sprintf(":%d", cfg.Port))
	slog.Info("shutting down")
	return err
}

// startPprof serves /debug/pprof on COMMENTCAST_PPROF_ADDR when
// COMMENTCAST_ENABLE_PPROF=1.
func startPprof() {
	if os.Getenv("COMMENTCAST_ENABLE_PPROF") != "1" {
		return
	}
	addr := os.Getenv("COMMENTCAST_PPROF_ADDR")
	if addr == "" {
		addr = "localhost:6060"
	}
	go func() {
		slog.Info("pprof profiling enabled", slog.String("addr", addr))
		srv := &http.Server{
			Addr:              addr,
			Handler:           nil, // default mux exposes /debug/pprof
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       60 * time.Second,
		}
		if err := srv.ListenAndServe(); err != nil {
			slog.Error("pprof server error", slog.Any("err", err))
		}
	}()
}
