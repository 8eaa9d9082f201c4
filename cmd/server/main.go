package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"voxelgate.ai/internal/config"
	"voxelgate.ai/internal/logging"
	"voxelgate.ai/internal/server"
	"voxelgate.ai/internal/sim/schedule"
)

// Exit codes.
const (
	exitOK            = 0
	exitStartup       = 1
	exitSystemFailure = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configPath = flag.String("config", "", "path to server.yaml (empty: built-in defaults)")
		listen     = flag.String("listen", "", "game listen address (overrides config)")
		adminAddr  = flag.String("admin", "", "admin http listen address (overrides config; \"off\" disables)")
		logLevel   = flag.String("log_level", "", "debug|info|warn|error (overrides config)")
		authMode   = flag.String("auth", "", "offline|online (overrides config)")
		chunkDB    = flag.String("chunk_db", "", "sqlite chunk database path (overrides config)")
		journalDir = flag.String("journal", "", "tick journal directory (overrides config)")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		return exitStartup
	}
	applyOverrides(&cfg, overrides{
		Listen:     *listen,
		Admin:      *adminAddr,
		LogLevel:   *logLevel,
		AuthMode:   *authMode,
		ChunkDB:    *chunkDB,
		JournalDir: *journalDir,
	})
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return exitStartup
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		return exitStartup
	}
	defer func() { _ = logger.Sync() }()

	srv, err := server.New(cfg, logger, server.Options{})
	if err != nil {
		logger.Error("server init", zap.Error(err))
		return exitStartup
	}
	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		logger.Error("listen", zap.String("addr", cfg.Listen), zap.Error(err))
		return exitStartup
	}

	ctx, cancel := signalContext()
	defer cancel()

	var admin *http.Server
	if cfg.Admin.HTTPAddr != "" {
		admin = &http.Server{
			Addr:              cfg.Admin.HTTPAddr,
			Handler:           newAdminMux(srv, logger, envBool("VG_ENABLE_PPROF_HTTP", false)),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("admin listening", zap.String("addr", cfg.Admin.HTTPAddr))
			if err := admin.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("admin ListenAndServe", zap.Error(err))
			}
		}()
	} else {
		logger.Info("admin endpoints disabled")
	}

	err = srv.Run(ctx, ln)

	if admin != nil {
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		_ = admin.Shutdown(ctx2)
		cancel2()
	}
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, schedule.ErrSystemFailure):
		logger.Error("stopped after a system failure", zap.Error(err))
		return exitSystemFailure
	default:
		logger.Error("server stopped", zap.Error(err))
		return exitStartup
	}
}

type overrides struct {
	Listen     string
	Admin      string
	LogLevel   string
	AuthMode   string
	ChunkDB    string
	JournalDir string
}

func applyOverrides(cfg *config.Config, o overrides) {
	if v := strings.TrimSpace(o.Listen); v != "" {
		cfg.Listen = v
	}
	switch v := strings.TrimSpace(o.Admin); v {
	case "":
	case "off":
		cfg.Admin.HTTPAddr = ""
	default:
		cfg.Admin.HTTPAddr = v
	}
	if v := strings.TrimSpace(o.LogLevel); v != "" {
		cfg.Log.Level = v
	}
	if v := strings.TrimSpace(o.AuthMode); v != "" {
		cfg.Auth.Mode = v
	}
	if v := strings.TrimSpace(o.ChunkDB); v != "" {
		cfg.World.ChunkDB = v
	}
	if v := strings.TrimSpace(o.JournalDir); v != "" {
		cfg.World.JournalDir = v
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func envBool(key string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}
