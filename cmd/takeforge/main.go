package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"takeforge/internal/api"
	"takeforge/pkg/audio"
	"takeforge/pkg/config"
	"takeforge/pkg/db"
	"takeforge/pkg/logging"
	"takeforge/pkg/production"
	"takeforge/pkg/request"
	"takeforge/pkg/store"
	"takeforge/pkg/tracker"
	"takeforge/pkg/tts"
	"takeforge/pkg/tts/edgetts"
	"takeforge/pkg/tts/elevenlabs"
	"takeforge/pkg/tts/gemini"
	"takeforge/pkg/version"
	"takeforge/pkg/voice"
)

var initConfig = flag.Bool("init-config", false, "Generate default config file and exit")

func main() {
	flag.Parse()

	// Handle --init-config flag
	if *initConfig {
		if err := config.GenerateDefault("configs/takeforge.yaml"); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to generate config: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Config file generated: configs/takeforge.yaml")
		return
	}

	if err := run(context.Background(), "configs/takeforge.yaml"); err != nil {
		fmt.Fprintf(os.Stderr, "CRITICAL ERROR: Application failed: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// API keys may live in a .env next to the binary.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("Failed to load .env file", "error", err)
	}

	appCfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	cleanupLogs, err := logging.Init(&appCfg.Log)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer cleanupLogs()

	tts.SetLogPath(appCfg.Log.TTS.Path)

	slog.Info("TakeForge started", "version", version.Version, "engine", appCfg.TTS.Engine)

	dbConn, err := db.Init(appCfg.DB.Path)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbConn.Close()
	st := store.NewSQLiteStore(dbConn)

	tr := tracker.New()
	reqClient := request.New(appCfg.Request, tr)

	providers, err := buildProviders(appCfg, reqClient, tr)
	if err != nil {
		return err
	}

	tool := audio.NewFFmpeg(appCfg.Audio.FFmpegPath)
	resolver := voice.NewResolver(st)
	orch := production.NewOrchestrator(st, resolver, providers, tool, appCfg.Audio.TakeDir)
	exporter := production.NewExporter(st, tool, appCfg.Export.Dir)

	return runServer(ctx, appCfg, st, orch, exporter, providers[0], tr)
}

// buildProviders returns the synthesis chain for the configured engine:
// the primary first, Edge TTS as the keyless fallback.
func buildProviders(cfg *config.Config, rc *request.Client, tr *tracker.Tracker) ([]tts.Provider, error) {
	edge := edgetts.NewProvider(cfg.TTS.EdgeTTS.VoiceID, tr)

	switch cfg.TTS.Engine {
	case "elevenlabs":
		return []tts.Provider{elevenlabs.NewProvider(cfg.TTS.ElevenLabs, rc), edge}, nil
	case "gemini":
		g, err := gemini.NewProvider(cfg.TTS.Gemini, tr)
		if err != nil {
			slog.Warn("Gemini provider unavailable, using Edge TTS only", "error", err)
			return []tts.Provider{edge}, nil
		}
		return []tts.Provider{g, edge}, nil
	case "edge-tts", "edgetts":
		return []tts.Provider{edge}, nil
	default:
		return nil, fmt.Errorf("unknown tts engine: %q", cfg.TTS.Engine)
	}
}

func runServer(ctx context.Context, cfg *config.Config, st store.Store, orch *production.Orchestrator, exporter *production.Exporter, primary tts.Provider, tr *tracker.Tracker) error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	shutdownFunc := func() { quit <- syscall.SIGTERM }

	srv := api.NewServer(cfg.Server.Address,
		api.NewScriptHandler(),
		api.NewSessionHandler(st, orch, exporter),
		api.NewProfileHandler(st, primary),
		shutdownFunc,
	)

	srv.Handler = loggingMiddleware(srv.Handler)

	slog.Info("Starting server", "addr", srv.Addr)
	serverErrors := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrors <- err
		}
	}()

	select {
	case <-quit:
		slog.Info("Shutting down server...")
	case <-ctx.Done():
		slog.Info("Context cancelled, shutting down...")
	case err := <-serverErrors:
		return fmt.Errorf("server failed: %w", err)
	}

	logStats(tr)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func logStats(tr *tracker.Tracker) {
	for provider, stats := range tr.Snapshot() {
		slog.Info("Provider usage", "provider", provider, "success", stats.Success, "failure", stats.Failure)
	}
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Debug("Request processed", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}
