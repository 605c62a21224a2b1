// Package appctx provides the application context that holds all runtime dependencies.
package appctx

import (
	"tunegate/pkg/config"
	"tunegate/pkg/interfaces"
	"tunegate/pkg/logging"
	"tunegate/pkg/metrics"
	"tunegate/pkg/state"
)

// Context holds all application runtime dependencies.
// Pass this single struct to components instead of individual parameters.
type Context struct {
	Config   *config.Config
	Log      *logging.Logger
	Metrics  *metrics.Metrics
	State    *state.Store
	Fetcher  interfaces.Fetcher
	Resolver interfaces.Resolver
	Sink     interfaces.StreamSink
	BaseURL  string
}

// New creates a new application context.
func New(cfg *config.Config, log *logging.Logger) *Context {
	return &Context{
		Config:  cfg,
		Log:     log,
		State:   state.New(),
		BaseURL: cfg.BaseURL,
	}
}

// WithMetrics sets the metrics collectors.
func (c *Context) WithMetrics(m *metrics.Metrics) *Context {
	c.Metrics = m
	return c
}

// WithFetcher sets the upstream fetcher.
func (c *Context) WithFetcher(f interfaces.Fetcher) *Context {
	c.Fetcher = f
	return c
}

// WithResolver sets the resolution façade.
func (c *Context) WithResolver(r interfaces.Resolver) *Context {
	c.Resolver = r
	return c
}

// WithSink sets the restreaming hand-off sink.
func (c *Context) WithSink(s interfaces.StreamSink) *Context {
	c.Sink = s
	return c
}
