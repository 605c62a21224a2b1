// Package app provides the main application setup and dependency injection.
package app

import (
	"tunegate/pkg/appctx"
	"tunegate/pkg/config"
	"tunegate/pkg/go2rtc"
	"tunegate/pkg/handlers/api"
	"tunegate/pkg/logging"
	"tunegate/pkg/metrics"
	"tunegate/pkg/playlist"
	"tunegate/pkg/relay"
	"tunegate/pkg/resolver"
	"tunegate/pkg/server"
	"tunegate/pkg/upstream"
)

// App is the main application container.
type App struct {
	Ctx    *appctx.Context
	Server *server.Server
}

// New creates and initializes the application.
func New() (*App, error) {
	cfg := config.Load()

	log := logging.New(cfg.LogLevel, cfg.LogJSON, nil)
	log.Info("initializing tunegate", "port", cfg.Port, "log_level", cfg.LogLevel)

	ctx := appctx.New(cfg, log)
	ctx.WithMetrics(metrics.New())

	fetcher := upstream.New(cfg, log)
	ctx.WithFetcher(fetcher)

	ctx.WithResolver(resolver.NewYTDLP(cfg, log))
	ctx.WithSink(go2rtc.NewFileSink(cfg, log))

	srv := server.New(cfg, log)

	relayHandler := relay.New(fetcher, log, ctx.Metrics, cfg.ChunkSize)
	playlistHandler := playlist.New(fetcher, log, ctx.Metrics)

	handlers := api.NewHandlers(ctx)
	handlers.RegisterRoutes(srv.Router(), relayHandler, playlistHandler)

	return &App{
		Ctx:    ctx,
		Server: srv,
	}, nil
}

// Run starts the application.
func (a *App) Run() error {
	a.Ctx.Log.Info("starting tunegate server", "port", a.Ctx.Config.Port)
	return a.Server.Start()
}
