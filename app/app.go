//go:build linux

package app

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/searchktools/bff-server/config"
	"github.com/searchktools/bff-server/core"
	"github.com/searchktools/bff-server/core/pools"
	"github.com/searchktools/bff-server/core/router"
)

// App wires configuration, logging, signal handling and the server core.
type App struct {
	cfg    *config.Config
	log    zerolog.Logger
	server *core.Server
}

// New builds the application: logger, route table, bound listener and
// worker set.
func New(cfg *config.Config) (*App, error) {
	log := newLogger(cfg)

	pools.TuneForThroughput()

	server, err := core.New(core.Options{
		Port:               cfg.Port,
		Workers:            cfg.Workers,
		MaxConnsPerWorker:  cfg.MaxConnsPerWorker,
		GlobalPoolSize:     cfg.GlobalPoolSize,
		TimerCapacity:      cfg.TimerCapacity,
		RequestTimeoutMS:   cfg.RequestTimeoutMS,
		KeepAliveTimeoutMS: cfg.KeepAliveTimeoutMS,
		RepeatedByteGuard:  cfg.RepeatedByteGuard,
	}, router.Default(), log)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	return &App{cfg: cfg, log: log, server: server}, nil
}

// Run serves until SIGINT or SIGTERM, then waits for the workers to drain.
func (a *App) Run() error {
	// A broken pipe on a raw socket write already surfaces as EPIPE from
	// the syscall; the signal would kill the process.
	signal.Ignore(syscall.SIGPIPE)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-quit
		a.log.Info().Str("signal", sig.String()).Msg("shutting down")
		a.server.Shutdown()
	}()

	a.log.Info().
		Int("port", a.server.Port()).
		Str("env", a.cfg.Env).
		Msg("bff-server starting")

	return a.server.Run()
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	if cfg.Env == "development" {
		out := zerolog.ConsoleWriter{Out: os.Stderr}
		return zerolog.New(out).Level(level).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()
}
