package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"
	ierrors "github.com/mantonx/frameflow/internal/modules/interpolationmodule/errors"
	"github.com/mantonx/frameflow/internal/modules/interpolationmodule/types"
)

// APIHandler serves the interpolation endpoints.
type APIHandler struct {
	service InterpolationService
	logger  hclog.Logger
}

// NewAPIHandler creates a handler on service.
func NewAPIHandler(service InterpolationService, logger hclog.Logger) *APIHandler {
	return &APIHandler{service: service, logger: logger.Named("api")}
}

// ListEngines handles GET /api/v1/interpolation/engines
func (h *APIHandler) ListEngines(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"engines": h.service.Engines()})
}

// StartRun handles POST /api/v1/interpolation/runs
//
// Request body:
//
//	{
//	  "engine": "rife-ncnn",
//	  "inputDir": "/frames",
//	  "outputDir": "/interp",
//	  "multiplier": 4,
//	  "tileSize": 256,
//	  "padWidth": 8
//	}
//
// Responds 202 with the session snapshot, 400 for an invalid request and
// 409 while another run is active.
func (h *APIHandler) StartRun(c *gin.Context) {
	var req types.InterpolationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}

	snap, err := h.service.Start(c.Request.Context(), req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, snap)
}

// GetCurrentRun handles GET /api/v1/interpolation/runs/current
func (h *APIHandler) GetCurrentRun(c *gin.Context) {
	snap, ok := h.service.Current()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "No run has been started"})
		return
	}
	c.JSON(http.StatusOK, snap)
}

// CancelCurrentRun handles POST /api/v1/interpolation/runs/current/cancel
//
// Query parameters:
//   - force: also terminate the running engine process
func (h *APIHandler) CancelCurrentRun(c *gin.Context) {
	force, _ := strconv.ParseBool(c.Query("force"))
	if err := h.service.Cancel(force); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"canceled": true, "force": force})
}

// ListRuns handles GET /api/v1/interpolation/runs?limit=N
func (h *APIHandler) ListRuns(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	runs, err := h.service.Runs(c.Request.Context(), limit)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs, "count": len(runs)})
}

// GetRun handles GET /api/v1/interpolation/runs/:id
func (h *APIHandler) GetRun(c *gin.Context) {
	run, err := h.service.GetRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, run)
}

// GetSystem handles GET /api/v1/interpolation/system
func (h *APIHandler) GetSystem(c *gin.Context) {
	c.JSON(http.StatusOK, h.service.System(c.Request.Context()))
}

// GetMetrics handles GET /api/v1/interpolation/metrics
func (h *APIHandler) GetMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, h.service.Metrics().Snapshot())
}

// GetErrors handles GET /api/v1/interpolation/errors
func (h *APIHandler) GetErrors(c *gin.Context) {
	errs := h.service.Reporter().GetErrors()
	c.JSON(http.StatusOK, gin.H{"errors": errs, "count": len(errs)})
}

func (h *APIHandler) writeError(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", "path", c.FullPath(), "error", err)
	}
	c.JSON(status, gin.H{
		"error":     err.Error(),
		"type":      ierrors.GetType(err),
		"operation": ierrors.GetOperation(err),
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ierrors.ErrSessionActive):
		return http.StatusConflict
	case errors.Is(err, ierrors.ErrRunNotFound):
		return http.StatusNotFound
	case ierrors.GetType(err) == ierrors.ErrorTypeValidation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
