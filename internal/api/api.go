// Package api exposes the dashboard over HTTP.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kirbo/go-sensormap/internal/activation"
	"github.com/kirbo/go-sensormap/internal/backend"
	"github.com/kirbo/go-sensormap/internal/dashboard"
	"github.com/kirbo/go-sensormap/internal/models"
	"github.com/kirbo/go-sensormap/internal/store"
)

// Controller is the part of *dashboard.Dashboard the routes use.
type Controller interface {
	Reload(ctx context.Context, scope models.Scope) error
	Search(ctx context.Context, keyword string) (dashboard.View, error)
	Select(ctx context.Context, id string) (dashboard.View, error)
	ToggleSelection(ctx context.Context, id string) (dashboard.View, error)
	Focus(ctx context.Context, id string) error
	Activate(ctx context.Context, id string) (models.Sensor, error)
	Deactivate(ctx context.Context, id string) (models.Sensor, error)
	View(ctx context.Context) (dashboard.View, error)
	Markers(ctx context.Context) ([]models.Marker, error)
}

type Options struct {
	AllowOrigin string
	// Socket is mounted under /socket.io/ when set.
	Socket http.Handler
	// Ready reports whether collaborators are reachable.
	Ready func(ctx context.Context) error
}

type handler struct {
	ctl    Controller
	ready  func(ctx context.Context) error
	logger *slog.Logger
}

// NewRouter builds the gin engine serving the dashboard.
func NewRouter(ctl Controller, logger *slog.Logger, opts Options) *gin.Engine {
	if opts.AllowOrigin == "" {
		opts.AllowOrigin = "*"
	}
	h := &handler{ctl: ctl, ready: opts.Ready, logger: logger.With("component", "api")}

	router := gin.New()
	router.Use(gin.Recovery(), requestLog(h.logger), CORS(opts.AllowOrigin))

	router.GET("/healthz", h.healthz)
	router.GET("/readyz", h.readyz)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if opts.Socket != nil {
		router.GET("/socket.io/*any", gin.WrapH(opts.Socket))
		router.POST("/socket.io/*any", gin.WrapH(opts.Socket))
	}

	api := router.Group("/api")
	api.GET("/dashboard", h.dashboard)
	api.GET("/markers", h.markers)
	api.GET("/sensors", h.search)
	api.POST("/reload", h.reload)

	sensor := api.Group("/sensors/:id")
	sensor.POST("/select", h.selectSensor)
	sensor.POST("/toggle", h.toggle)
	sensor.POST("/focus", h.focus)
	sensor.POST("/activate", h.transition(activation.ActionActivate))
	sensor.POST("/deactivate", h.transition(activation.ActionDeactivate))

	return router
}

func (h *handler) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *handler) readyz(c *gin.Context) {
	if h.ready != nil {
		if err := h.ready(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (h *handler) dashboard(c *gin.Context) {
	view, err := h.ctl.View(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *handler) markers(c *gin.Context) {
	markers, err := h.ctl.Markers(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, markers)
}

func (h *handler) search(c *gin.Context) {
	view, err := h.ctl.Search(c.Request.Context(), c.Query("q"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *handler) reload(c *gin.Context) {
	var scope models.Scope
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&scope); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	if err := h.ctl.Reload(c.Request.Context(), scope); err != nil {
		h.fail(c, err)
		return
	}
	h.dashboard(c)
}

func (h *handler) selectSensor(c *gin.Context) {
	view, err := h.ctl.Select(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *handler) toggle(c *gin.Context) {
	view, err := h.ctl.ToggleSelection(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *handler) focus(c *gin.Context) {
	if err := h.ctl.Focus(c.Request.Context(), c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handler) transition(action activation.Action) gin.HandlerFunc {
	call := h.ctl.Deactivate
	if action == activation.ActionActivate {
		call = h.ctl.Activate
	}

	return func(c *gin.Context) {
		sensor, err := call(c.Request.Context(), c.Param("id"))
		if err != nil {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, sensor)
	}
}

func (h *handler) fail(c *gin.Context, err error) {
	status := StatusCode(err)
	if status >= http.StatusInternalServerError {
		h.logger.Warn("request failed", "path", c.FullPath(), "id", c.Param("id"), "error", err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// StatusCode maps dashboard errors to HTTP statuses.
func StatusCode(err error) int {
	switch {
	case errors.Is(err, dashboard.ErrSensorNotFound), errors.Is(err, store.ErrNotFound), errors.Is(err, backend.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, dashboard.ErrTransitionInFlight), errors.Is(err, dashboard.ErrSuperseded):
		return http.StatusConflict
	case errors.Is(err, models.ErrScopeUserMissing):
		return http.StatusBadRequest
	case errors.Is(err, activation.ErrNoSavedState):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, dashboard.ErrStopped):
		return http.StatusServiceUnavailable
	case dashboard.IsTransitionFailure(err), dashboard.IsFetchFailure(err):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
