// Package httpapi exposes health, tick, and diagnostic endpoints over HTTP.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"tixwatch/internal/dispatch"
	"tixwatch/internal/watch"
)

// Ticker starts scheduler work for one external tick.
type Ticker interface {
	Trigger(ctx context.Context) dispatch.TriggerResult
}

// Prober checks a page once.
type Prober interface {
	Check(ctx context.Context, recipientID, target string) (*watch.Probe, error)
}

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler serves the HTTP endpoints.
type Handler struct {
	service string
	ticker  Ticker
	prober  Prober
	store   Pinger
	log     *slog.Logger

	now func() time.Time
}

// NewHandler creates a Handler.
func NewHandler(service string, ticker Ticker, prober Prober, store Pinger, log *slog.Logger) *Handler {
	return &Handler{
		service: service,
		ticker:  ticker,
		prober:  prober,
		store:   store,
		log:     log,
		now:     time.Now,
	}
}

// NewRouter registers all routes on a fresh gin engine.
func NewRouter(h *Handler) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", h.Health)
	router.GET("/cron/tick", h.Tick)
	router.POST("/cron/tick", h.Tick)
	router.GET("/diag", h.Diag)
	return router
}

// Health reports liveness and store reachability.
func (h *Handler) Health(c *gin.Context) {
	host, _ := os.Hostname()
	resp := HealthResponse{
		Status:  "ok",
		Service: h.service,
		Time:    h.now().UTC().Format(time.RFC3339),
		Host:    host,
	}
	code := http.StatusOK
	if h.store != nil {
		if err := h.store.Ping(c.Request.Context()); err != nil {
			h.log.Warn("health check: store unreachable", "error", err)
			resp.Status = "degraded"
			code = http.StatusServiceUnavailable
		}
	}
	c.JSON(code, resp)
}

// Tick fans out one external tick, or runs a pass inline when the delay
// queue is unavailable.
func (h *Handler) Tick(c *gin.Context) {
	res := h.ticker.Trigger(c.Request.Context())
	resp := TickResponse{OK: true, Scheduled: res.Scheduled, Fallback: res.Fallback}
	if res.Pass != nil {
		resp.Due = res.Pass.Due
		resp.Processed = res.Pass.Processed
		resp.Notified = res.Pass.Notified
		resp.Deferred = res.Pass.Deferred
		for _, e := range res.Pass.Errors {
			resp.Errors = append(resp.Errors, TaskErrorResponse{TaskID: e.TaskID, Kind: string(e.Kind), Error: e.Err.Error()})
		}
	}
	h.log.Info("cron tick", "scheduled", resp.Scheduled, "fallback", resp.Fallback, "processed", resp.Processed)
	c.JSON(http.StatusOK, resp)
}

// Diag probes the page given in the url query parameter.
func (h *Handler) Diag(c *gin.Context) {
	target := strings.TrimSpace(c.Query("url"))
	if target == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "url query parameter is required"})
		return
	}
	if !strings.Contains(target, "://") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "url must be absolute"})
		return
	}

	probe, err := h.prober.Check(c.Request.Context(), "", target)
	if errors.Is(err, watch.ErrInvalidURL) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		h.log.Warn("diag probe failed", "url", target, "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, ToDiagResponse(probe))
}
