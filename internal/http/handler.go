package http

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"gatewatch/internal/db"
	"gatewatch/internal/domain/vehicle"
	"gatewatch/internal/metrics"
	"gatewatch/internal/service"
)

type Handler struct {
	eventService *service.EventService
	ruleService  *service.RuleService
	gdb          *gorm.DB
	m            *metrics.Metrics
	log          zerolog.Logger
}

func NewHandler(
	eventService *service.EventService,
	ruleService *service.RuleService,
	gdb *gorm.DB,
	m *metrics.Metrics,
	log zerolog.Logger,
) *Handler {
	return &Handler{
		eventService: eventService,
		ruleService:  ruleService,
		gdb:          gdb,
		m:            m,
		log:          log,
	}
}

func (h *Handler) Register(r *gin.Engine, authMiddleware gin.HandlerFunc) {
	r.GET("/healthz", h.healthz)
	r.GET("/metrics", gin.WrapH(h.m.Handler()))

	// Public endpoints
	public := r.Group("/api/v1")
	{
		public.GET("/events", h.listEvents)
		public.GET("/gates", h.listGates)
		public.GET("/cameras", h.listCameras)
		public.GET("/rules", h.listRules)
		public.GET("/rules/:id", h.getRule)
	}

	// Protected endpoints
	protected := r.Group("/api/v1")
	protected.Use(authMiddleware)
	{
		protected.POST("/rules", h.createRule)
		protected.PUT("/rules/:id", h.updateRule)
		protected.DELETE("/rules/:id", h.deleteRule)
		protected.POST("/events/cleanup", h.cleanupEvents)
	}
}

func (h *Handler) healthz(c *gin.Context) {
	if err := db.Ping(h.gdb); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "down", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) listEvents(c *gin.Context) {
	var gateID, cameraID *int64
	if g := c.Query("gate_id"); g != "" {
		parsed, err := strconv.ParseInt(g, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, errorResponse("gate_id must be an integer"))
			return
		}
		gateID = &parsed
	}
	if cam := c.Query("camera_id"); cam != "" {
		parsed, err := strconv.ParseInt(cam, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, errorResponse("camera_id must be an integer"))
			return
		}
		cameraID = &parsed
	}

	var direction, from, to *string
	if d := strings.TrimSpace(c.Query("direction")); d != "" {
		d = strings.ToUpper(d)
		direction = &d
	}
	if f := strings.TrimSpace(c.Query("from")); f != "" {
		from = &f
	}
	if t := strings.TrimSpace(c.Query("to")); t != "" {
		to = &t
	}

	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	offset := 0
	if o := c.Query("offset"); o != "" {
		if parsed, err := strconv.Atoi(o); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	events, err := h.eventService.FindEvents(c.Request.Context(), gateID, cameraID, direction, from, to, limit, offset)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(events))
}

func (h *Handler) listGates(c *gin.Context) {
	gates, err := h.eventService.ListGates(c.Request.Context())
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(gates))
}

func (h *Handler) listCameras(c *gin.Context) {
	cameras, err := h.eventService.ListCameras(c.Request.Context())
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(cameras))
}

func (h *Handler) listRules(c *gin.Context) {
	rules, err := h.ruleService.ListRules(c.Request.Context())
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(rules))
}

func (h *Handler) getRule(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("id must be an integer"))
		return
	}
	rule, err := h.ruleService.GetRule(c.Request.Context(), id)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(rule))
}

func (h *Handler) createRule(c *gin.Context) {
	var rule vehicle.NotificationRule
	if err := c.ShouldBindJSON(&rule); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}
	if err := h.ruleService.CreateRule(c.Request.Context(), &rule); err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, successResponse(rule))
}

func (h *Handler) updateRule(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("id must be an integer"))
		return
	}
	var rule vehicle.NotificationRule
	if err := c.ShouldBindJSON(&rule); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}
	rule.ID = id

	updated, err := h.ruleService.UpdateRule(c.Request.Context(), rule)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(updated))
}

func (h *Handler) deleteRule(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("id must be an integer"))
		return
	}
	if err := h.ruleService.DeleteRule(c.Request.Context(), id); err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (h *Handler) cleanupEvents(c *gin.Context) {
	days := 0
	if d := c.Query("days"); d != "" {
		if parsed, err := strconv.Atoi(d); err == nil {
			days = parsed
		}
	}
	deleted, err := h.eventService.CleanupOldEvents(c.Request.Context(), days)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "deleted": deleted})
}

func (h *Handler) handleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, errorResponse(err.Error()))
	default:
		h.log.Error().Err(err).Msg("handler error")
		c.JSON(http.StatusInternalServerError, errorResponse("internal error"))
	}
}

func successResponse(data interface{}) gin.H {
	return gin.H{
		"data": data,
	}
}

func errorResponse(message string) gin.H {
	return gin.H{
		"error": message,
	}
}
