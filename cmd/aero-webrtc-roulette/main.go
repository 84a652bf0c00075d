package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/wilsonzlin/aero/proxy/webrtc-roulette/internal/auth"
	"github.com/wilsonzlin/aero/proxy/webrtc-roulette/internal/config"
	"github.com/wilsonzlin/aero/proxy/webrtc-roulette/internal/httpserver"
	"github.com/wilsonzlin/aero/proxy/webrtc-roulette/internal/matchmaking"
	"github.com/wilsonzlin/aero/proxy/webrtc-roulette/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-roulette/internal/origin"
	"github.com/wilsonzlin/aero/proxy/webrtc-roulette/internal/signaling"
	"github.com/wilsonzlin/aero/proxy/webrtc-roulette/internal/turnrest"
)

var (
	// Set via -ldflags at build time. Values may be empty in local/dev builds.
	buildCommit = ""
	buildTime   = ""
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := config.NewLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	logger.Info("starting aero-webrtc-roulette",
		"listen_addr", cfg.ListenAddr,
		"public_base_url", cfg.PublicBaseURL,
		"mode", cfg.Mode,
		"auth_mode", cfg.AuthMode,
		"max_connections", cfg.MaxConnections,
		"ice_servers", len(cfg.ICEServers),
		"turn_rest", cfg.TURNREST.Enabled(),
	)
	logStartupSecurityWarnings(logger, cfg)

	app, err := build(cfg, logger)
	if err != nil {
		logger.Error("failed to configure service", "err", err)
		os.Exit(2)
	}

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		logger.Error("failed to listen", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.run(ctx, ln, cfg); err != nil {
		logger.Error("server exited", "err", err)
		os.Exit(1)
	}
}

type service struct {
	log  *slog.Logger
	http *httpserver.Server
	sig  *signaling.Server
}

func build(cfg config.Config, logger *slog.Logger) (*service, error) {
	m := metrics.New()

	origins, err := origin.NewPolicy(cfg.AllowedOrigins)
	if err != nil {
		return nil, err
	}
	authn, err := auth.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("signaling auth: %w", err)
	}

	var turn *turnrest.Issuer
	if cfg.TURNREST.Enabled() {
		turn, err = turnrest.NewIssuer(turnrest.Config{
			SharedSecret:   cfg.TURNREST.SharedSecret,
			TTLSeconds:     cfg.TURNREST.TTLSeconds,
			UsernamePrefix: cfg.TURNREST.UsernamePrefix,
		})
		if err != nil {
			return nil, fmt.Errorf("turn rest: %w", err)
		}
	}

	engine := matchmaking.NewEngine(matchmaking.Options{
		Logger:         logger,
		Metrics:        m,
		MaxConnections: cfg.MaxConnections,
	})
	sig := signaling.NewServer(cfg, engine, authn, origins, m, logger)

	commit, builtAt := resolveBuildInfo(buildCommit, buildTime)
	srv := httpserver.New(cfg, logger, httpserver.BuildInfo{Commit: commit, BuildTime: builtAt}, httpserver.Deps{
		Engine:   engine,
		Sessions: sig,
		Metrics:  m,
		Origins:  origins,
		TURN:     turn,
	})
	sig.RegisterRoutes(srv.Mux())

	return &service{log: logger, http: srv, sig: sig}, nil
}

// run serves until ctx is cancelled or the listener fails, then drains.
func (s *service) run(ctx context.Context, ln net.Listener, cfg config.Config) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		if ctx.Err() != nil {
			s.log.Info("shutdown signal received")
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		// Hijacked WebSocket connections are not tracked by Shutdown.
		s.sig.Close()
		if err := s.http.Shutdown(shutdownCtx); err != nil {
			s.log.Error("http server shutdown failed", "err", err)
			_ = s.http.Close()
		}
		return nil
	})

	return g.Wait()
}

func resolveBuildInfo(commit, buildTime string) (string, string) {
	// Prefer ldflags-injected values (production builds) but fall back to the Go
	// build info when available (useful for `go run` / dev builds).
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if commit == "" {
					commit = s.Value
				}
			case "vcs.time":
				if buildTime == "" {
					buildTime = s.Value
				}
			}
		}
	}

	return commit, buildTime
}
