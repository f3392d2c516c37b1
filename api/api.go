// Package api exposes the engine over HTTP: job submission and inspection,
// dead-letter management, cron management, metrics, and a WebSocket event
// stream. Handlers are thin adapters; all behavior lives in the engine.
package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/triagehq/triage"
	"github.com/triagehq/triage/engine"
	"github.com/triagehq/triage/stream"
)

// API wires the HTTP handlers to an engine.
type API struct {
	eng    *engine.Engine
	broker *stream.Broker
	logger *slog.Logger
}

// Option configures an API.
type Option func(*API)

// WithBroker enables the /v1/events WebSocket stream, backed by the given
// broker. The broker must also be registered as an engine extension or it
// will never see any events.
func WithBroker(b *stream.Broker) Option {
	return func(a *API) { a.broker = b }
}

// WithLogger sets the request logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *API) { a.logger = logger }
}

// New creates an API from an engine.
func New(eng *engine.Engine, opts ...Option) *API {
	a := &API{
		eng:    eng,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Handler returns the fully assembled http.Handler with all routes.
func (a *API) Handler() http.Handler {
	r := gin.New()
	r.Use(a.requestLog, gin.Recovery())
	a.RegisterRoutes(r)
	return r
}

// RegisterRoutes registers every route on the given router.
func (a *API) RegisterRoutes(r *gin.Engine) {
	r.GET("/healthz", a.health)

	v1 := r.Group("/v1")
	{
		v1.POST("/jobs", a.submitJob)
		v1.GET("/jobs", a.listJobs)
		v1.GET("/jobs/:jobID", a.getJob)
		v1.POST("/jobs/:jobID/cancel", a.cancelJob)

		v1.GET("/metrics", a.metrics)

		v1.GET("/dlq", a.listDLQ)
		v1.DELETE("/dlq", a.purgeDLQ)
		v1.GET("/dlq/:entryID", a.getDLQ)
		v1.POST("/dlq/:entryID/replay", a.replayDLQ)

		v1.GET("/crons", a.listCrons)
		v1.GET("/crons/:name", a.getCron)
		v1.POST("/crons/:name/enable", a.enableCron)
		v1.POST("/crons/:name/disable", a.disableCron)
		v1.DELETE("/crons/:name", a.deleteCron)

		v1.GET("/events", a.events)
	}
}

// health reports whether the backing store answers pings.
func (a *API) health(c *gin.Context) {
	if err := a.eng.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// respondError maps domain errors onto HTTP status codes with a JSON
// error envelope.
func (a *API) respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, triage.ErrJobNotFound), errors.Is(err, triage.ErrDLQNotFound):
		status = http.StatusNotFound
	case errors.Is(err, triage.ErrUnknownJobType), errors.Is(err, triage.ErrInvalidPriority):
		status = http.StatusBadRequest
	case errors.Is(err, triage.ErrEngineStopped):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		a.logger.Error("request failed",
			slog.String("path", c.Request.URL.Path),
			slog.Any("error", err),
		)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// requestLog logs each request with its status and latency.
func (a *API) requestLog(c *gin.Context) {
	start := time.Now()
	c.Next()
	a.logger.Debug("http request",
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
		slog.Int("status", c.Writer.Status()),
		slog.Duration("elapsed", time.Since(start)),
	)
}
