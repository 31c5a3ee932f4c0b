// Package http exposes the lifecycle control surface as a thin JSON API.
// It carries no auth or UI; it is the reference "surrounding API layer"
// consuming the engine.
package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/forgeboard/internal/app"
	"github.com/GriffinCanCode/forgeboard/internal/logging"
	"github.com/GriffinCanCode/forgeboard/internal/registry"
	"github.com/GriffinCanCode/forgeboard/internal/shared/types"
)

// Handlers holds the control API endpoints.
type Handlers struct {
	engine *app.Orchestrator
	doctor *app.Doctor
	log    *logging.Logger
}

// NewHandlers creates the endpoint set.
func NewHandlers(engine *app.Orchestrator, doctor *app.Doctor, log *logging.Logger) *Handlers {
	return &Handlers{engine: engine, doctor: doctor, log: log.Named("api")}
}

// Health reports liveness.
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ListApps returns all registered apps with derived runtime status.
func (h *Handlers) ListApps(c *gin.Context) {
	apps, err := h.engine.ListWithStatus(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"apps": apps})
}

// CreateApp registers a new app and generates its artifacts.
func (h *Handlers) CreateApp(c *gin.Context) {
	var spec app.CreateSpec
	if err := c.ShouldBindJSON(&spec); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	res, err := h.engine.CreateApp(c.Request.Context(), spec)
	if err != nil {
		h.writeResultError(c, res, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

// GetApp returns one registered app.
func (h *Handlers) GetApp(c *gin.Context) {
	apps, err := h.engine.List(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	slug := c.Param("slug")
	for _, a := range apps {
		if a.Slug == slug {
			c.JSON(http.StatusOK, a)
			return
		}
	}
	h.writeError(c, &types.NotFoundError{Slug: slug})
}

// UpdateApp patches a registered app and re-renders affected artifacts.
func (h *Handlers) UpdateApp(c *gin.Context) {
	var patch types.AppPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	res, err := h.engine.UpdateApp(c.Request.Context(), c.Param("slug"), patch)
	if err != nil {
		h.writeResultError(c, res, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// DeleteApp removes an app and all derived artifacts.
func (h *Handlers) DeleteApp(c *gin.Context) {
	res, err := h.engine.DeleteApp(c.Request.Context(), c.Param("slug"))
	if err != nil {
		h.writeResultError(c, res, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// StartApp starts an app's process.
func (h *Handlers) StartApp(c *gin.Context) {
	h.control(c, h.engine.StartApp)
}

// StopApp stops an app's process.
func (h *Handlers) StopApp(c *gin.Context) {
	h.control(c, h.engine.StopApp)
}

// RestartApp restarts an app's process.
func (h *Handlers) RestartApp(c *gin.Context) {
	h.control(c, h.engine.RestartApp)
}

// GetStatus returns the derived runtime status for an app.
func (h *Handlers) GetStatus(c *gin.Context) {
	detail, err := h.engine.GetStatus(c.Request.Context(), c.Param("slug"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

// GetLogs returns recent log records for an app. The lines query parameter
// is clamped by the engine.
func (h *Handlers) GetLogs(c *gin.Context) {
	lines, _ := strconv.Atoi(c.DefaultQuery("lines", "0"))
	records, err := h.engine.GetLogs(c.Request.Context(), c.Param("slug"), lines)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"lines": records})
}

// ReloadProxy regenerates all route fragments and reloads nginx.
func (h *Handlers) ReloadProxy(c *gin.Context) {
	if err := h.engine.ReloadProxy(c.Request.Context()); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "reloaded"})
}

// Reconcile regenerates every derived artifact from the registry.
func (h *Handlers) Reconcile(c *gin.Context) {
	if err := h.engine.Reconcile(c.Request.Context()); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "reconciled"})
}

// Doctor runs the preflight checks.
func (h *Handlers) Doctor(c *gin.Context) {
	c.JSON(http.StatusOK, h.doctor.Run(c.Request.Context()))
}

func (h *Handlers) control(c *gin.Context,
	op func(ctx context.Context, slug string) (*types.Result, error)) {
	res, err := op(c.Request.Context(), c.Param("slug"))
	if err != nil {
		h.writeResultError(c, res, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handlers) writeResultError(c *gin.Context, res *types.Result, err error) {
	status := statusFor(err)
	body := gin.H{"error": err.Error()}
	if res != nil {
		body["result"] = res
	}
	h.log.Warn("operation failed", zap.String("path", c.FullPath()), zap.Error(err))
	c.JSON(status, body)
}

func (h *Handlers) writeError(c *gin.Context, err error) {
	h.log.Warn("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}

// statusFor maps the error taxonomy onto HTTP statuses.
func statusFor(err error) int {
	var (
		validation  *types.ValidationError
		notFound    *types.NotFoundError
		tool        *types.ExternalToolError
		render      *types.ConfigRenderError
		concurrency *types.ConcurrencyError
		parse       *registry.ParseError
	)
	switch {
	case errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &render):
		return http.StatusUnprocessableEntity
	case errors.As(err, &concurrency):
		return http.StatusConflict
	case errors.As(err, &tool):
		if tool.Kind == types.ToolTimeout {
			return http.StatusGatewayTimeout
		}
		return http.StatusBadGateway
	case errors.As(err, &parse):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
