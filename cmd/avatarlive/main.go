// Command avatarlive streams a microphone recording and hand-landmark track
// to a Gemini Live session and renders the replies as WAV files.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/avatarlive/internal/app"
	"github.com/MrWong99/avatarlive/internal/config"
	"github.com/MrWong99/avatarlive/internal/discovery"
	"github.com/MrWong99/avatarlive/internal/health"
	"github.com/MrWong99/avatarlive/internal/observe"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "avatarlive.yaml", "path to the YAML configuration file")
	say := flag.String("say", "", "text to send once the session is ready")
	stdin := flag.Bool("stdin", false, "forward each line read from stdin to the model")
	flag.Parse()

	// ── Environment ───────────────────────────────────────────────────────────
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "avatarlive: load .env: %v\n", err)
		return 1
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "avatarlive: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "avatarlive: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	slog.Info("avatarlive starting",
		"config", *configPath,
		"model", cfg.Live.Model,
		"modality", cfg.Live.Modality,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	tel, err := observe.InitProvider(ctx, observe.ProviderConfig{
		Attributes: map[string]string{
			"live.model":    cfg.Live.Model,
			"live.modality": string(cfg.Live.Modality),
		},
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics, err := observe.NewMetrics(tel.MeterProvider)
	if err != nil {
		slog.Error("failed to create metrics", "err", err)
		return 1
	}

	// ── Pipeline ──────────────────────────────────────────────────────────────
	orch := app.New(cfg, app.WithMetrics(metrics))
	defer func() {
		if err := orch.Stop(); err != nil {
			slog.Warn("stop error", "err", err)
		}
	}()

	// ── Admin server (optional) ───────────────────────────────────────────────
	if cfg.Server.ListenAddr != "" {
		srv := newAdminServer(cfg, orch, metrics)
		go serveAdmin(srv, cfg.Server.TLS)
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(sctx)
		}()

		if cfg.Server.MDNS {
			withdraw, err := discovery.Advertise(discovery.Service{
				Instance: cfg.Server.MDNSName,
				Addr:     cfg.Server.ListenAddr,
				Meta: map[string]string{
					"model":    cfg.Live.Model,
					"modality": string(cfg.Live.Modality),
					"session":  orch.Session().ID(),
					"tls":      strconv.FormatBool(cfg.Server.TLS != nil),
				},
			})
			if err != nil {
				slog.Warn("mdns advertisement failed", "err", err)
			} else {
				defer withdraw()
			}
		}
	}

	// ── Hot reload ────────────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		d := config.Diff(old, new)
		if d.LogLevelChanged {
			level.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level changed", "level", d.NewLogLevel)
		}
		if d.GestureChanged {
			orch.ApplyGestureTuning(d.NewThresholds, d.NewTiming)
		}
		if len(d.RestartRequired) > 0 {
			slog.Warn("config changes need a restart to take effect", "sections", d.RestartRequired)
		}
	})
	if err != nil {
		slog.Warn("config hot reload disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	// ── User text ─────────────────────────────────────────────────────────────
	go func() {
		select {
		case <-orch.Session().Ready():
		case <-ctx.Done():
			return
		}
		if *say != "" {
			_ = orch.SendText(ctx, *say)
		}
		if *stdin {
			forwardLines(ctx, os.Stdin, orch)
		}
	}()

	printStartupSummary(cfg)

	credential := cfg.Credential()
	if credential == "" {
		slog.Error("no credential configured", "env", cfg.Live.APIKeyEnv)
	}

	slog.Info("streaming; press Ctrl+C to stop")
	if err := orch.Run(ctx, credential); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Admin HTTP ────────────────────────────────────────────────────────────────

func newAdminServer(cfg *config.Config, orch *app.Orchestrator, metrics *observe.Metrics) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	health.New(
		health.SessionReady(func() health.SessionStater { return orch.Session() }),
	).Register(mux)

	return &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           observe.Middleware(metrics, orch.Session().ID)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func serveAdmin(srv *http.Server, tls *config.TLSConfig) {
	slog.Info("admin server listening", "addr", srv.Addr, "tls", tls != nil)
	var err error
	if tls != nil {
		err = srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
	} else {
		err = srv.ListenAndServe()
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("admin server error", "err", err)
	}
}

// ── User text ─────────────────────────────────────────────────────────────────

// forwardLines sends every non-empty line of r to the model until r ends or
// ctx is done.
func forwardLines(ctx context.Context, r io.Reader, orch *app.Orchestrator) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if err := orch.SendText(ctx, line); err != nil {
			slog.Warn("text not sent", "err", err)
		}
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║       avatarlive startup summary      ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Model", cfg.Live.Model)
	printRow("Modality", string(cfg.Live.Modality))
	printRow("Voice", cfg.Live.Voice)
	printRow("Microphone", cfg.Audio.Input)
	printRow("Landmarks", cfg.Gesture.Landmarks)
	printRow("Replies", cfg.Audio.OutputDir)
	printRow("Admin addr", cfg.Server.ListenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(label, value string) {
	if value == "" {
		value = "(disabled)"
	}
	if len(value) > 19 {
		value = value[:16] + "..."
	}
	fmt.Printf("║  %-14s  : %-19s ║\n", label, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
