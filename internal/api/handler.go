package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"appointment-service/internal/models"
	"appointment-service/internal/service"
	"appointment-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// AppointmentAPI is the part of the appointment service exposed over HTTP
type AppointmentAPI interface {
	CreateAppointment(ctx context.Context, req *service.CreateAppointmentRequest) (*service.CreateAppointmentResponse, error)
	UpdateAppointment(ctx context.Context, id string, req *service.UpdateAppointmentRequest) (*service.UpdateAppointmentResult, error)
	DeleteAppointment(ctx context.Context, id string) error
	GetAppointment(ctx context.Context, id string) (*models.AppointmentDetails, error)
	ListAppointments(ctx context.Context, filter models.AppointmentFilter) (*service.ListAppointmentsResponse, error)
	ScheduleReminder(ctx context.Context, id string) (bool, error)
	CancelReminders(ctx context.Context, id string) (int64, error)
	ListReminders(ctx context.Context, id string) ([]models.ScheduledReminder, error)
	InvoicePDF(ctx context.Context, id string) (*models.Invoice, []byte, error)
}

// Pinger is a dependency checked by the readiness probe
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler contains HTTP handlers
type Handler struct {
	appointments AppointmentAPI
	deps         map[string]Pinger
	jwtSecret    []byte
	logger       *zap.Logger
}

// NewHandler creates a new HTTP handler. deps are pinged by /ready.
func NewHandler(appointments AppointmentAPI, jwtSecret string, deps map[string]Pinger) *Handler {
	return &Handler{
		appointments: appointments,
		deps:         deps,
		jwtSecret:    []byte(jwtSecret),
		logger:       util.GetLogger(),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	v1.Use(authMiddleware(h.jwtSecret))
	{
		v1.POST("/appointments", h.createAppointment)
		v1.GET("/appointments", h.listAppointments)
		v1.GET("/appointments/:id", h.getAppointment)
		v1.PATCH("/appointments/:id", h.updateAppointment)
		v1.DELETE("/appointments/:id", h.deleteAppointment)
		v1.GET("/appointments/:id/invoice.pdf", h.invoicePDF)
		v1.GET("/appointments/:id/reminders", h.listReminders)
		v1.POST("/appointments/:id/reminders", h.scheduleReminder)
		v1.DELETE("/appointments/:id/reminders", h.cancelReminders)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck pings every dependency
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	checks := gin.H{}
	ready := true
	for name, dep := range h.deps {
		if err := dep.Ping(ctx); err != nil {
			checks[name] = err.Error()
			ready = false
			continue
		}
		checks[name] = "ok"
	}

	status, code := "ready", http.StatusOK
	if !ready {
		status, code = "not ready", http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status": status,
		"checks": checks,
		"time":   time.Now().Unix(),
	})
}

// createAppointment handles appointment booking
func (h *Handler) createAppointment(c *gin.Context) {
	var req service.CreateAppointmentRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}
	if !sameTenant(c, req.BusinessID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Business not allowed"})
		return
	}

	if req.IdempotencyKey == "" {
		req.IdempotencyKey = c.GetHeader("Idempotency-Key")
	}

	resp, err := h.appointments.CreateAppointment(c.Request.Context(), &req)
	if err != nil {
		h.fail(c, "Failed to create appointment", err)
		return
	}

	code := http.StatusCreated
	if resp.Duplicate {
		code = http.StatusOK
	}
	c.JSON(code, resp)
}

// listAppointments handles paginated listing
func (h *Handler) listAppointments(c *gin.Context) {
	filter, err := filterFromQuery(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid query",
			"details": err.Error(),
		})
		return
	}
	if t := tenant(c); t != "" {
		if filter.BusinessID != "" && filter.BusinessID != t {
			c.JSON(http.StatusForbidden, gin.H{"error": "Business not allowed"})
			return
		}
		filter.BusinessID = t
	}

	resp, err := h.appointments.ListAppointments(c.Request.Context(), filter)
	if err != nil {
		h.fail(c, "Failed to list appointments", err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func filterFromQuery(c *gin.Context) (models.AppointmentFilter, error) {
	f := models.AppointmentFilter{
		BusinessID:   c.Query("business_id"),
		Status:       c.Query("status"),
		SpecialistID: c.Query("specialist_id"),
	}

	var err error
	if v := c.Query("page"); v != "" {
		if f.Page, err = strconv.Atoi(v); err != nil {
			return f, errors.New("page must be a number")
		}
	}
	if v := c.Query("page_size"); v != "" {
		if f.PageSize, err = strconv.Atoi(v); err != nil {
			return f, errors.New("page_size must be a number")
		}
	}
	if v := c.Query("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, errors.New("from must be RFC3339")
		}
		f.From = &t
	}
	if v := c.Query("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, errors.New("to must be RFC3339")
		}
		f.To = &t
	}
	return f, nil
}

// getAppointment handles get appointment by ID
func (h *Handler) getAppointment(c *gin.Context) {
	details, err := h.appointments.GetAppointment(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, "Appointment not found", err)
		return
	}
	if !sameTenant(c, details.BusinessID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Appointment not found"})
		return
	}
	c.JSON(http.StatusOK, details)
}

// updateAppointment handles partial updates and status transitions
func (h *Handler) updateAppointment(c *gin.Context) {
	var req service.UpdateAppointmentRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	id := c.Param("id")
	if !h.owns(c, id) {
		return
	}

	result, err := h.appointments.UpdateAppointment(c.Request.Context(), id, &req)
	if err != nil {
		h.fail(c, "Failed to update appointment", err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// deleteAppointment handles appointment removal
func (h *Handler) deleteAppointment(c *gin.Context) {
	id := c.Param("id")
	if !h.owns(c, id) {
		return
	}

	if err := h.appointments.DeleteAppointment(c.Request.Context(), id); err != nil {
		h.fail(c, "Failed to delete appointment", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// invoicePDF streams the appointment's invoice
func (h *Handler) invoicePDF(c *gin.Context) {
	id := c.Param("id")
	if !h.owns(c, id) {
		return
	}

	inv, pdf, err := h.appointments.InvoicePDF(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "Invoice not found", err)
		return
	}

	c.Header("Content-Disposition", `inline; filename="`+inv.InvoiceNumber+`.pdf"`)
	c.Data(http.StatusOK, "application/pdf", pdf)
}

func (h *Handler) listReminders(c *gin.Context) {
	id := c.Param("id")
	if !h.owns(c, id) {
		return
	}

	reminders, err := h.appointments.ListReminders(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "Failed to list reminders", err)
		return
	}
	if reminders == nil {
		reminders = []models.ScheduledReminder{}
	}
	c.JSON(http.StatusOK, gin.H{"reminders": reminders})
}

func (h *Handler) scheduleReminder(c *gin.Context) {
	id := c.Param("id")
	if !h.owns(c, id) {
		return
	}

	scheduled, err := h.appointments.ScheduleReminder(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "Failed to schedule reminder", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"scheduled": scheduled})
}

func (h *Handler) cancelReminders(c *gin.Context) {
	id := c.Param("id")
	if !h.owns(c, id) {
		return
	}

	n, err := h.appointments.CancelReminders(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "Failed to cancel reminders", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cancelled": n})
}

// owns writes an error response and returns false when the appointment is
// missing or belongs to another tenant.
func (h *Handler) owns(c *gin.Context, id string) bool {
	if tenant(c) == "" {
		return true
	}
	details, err := h.appointments.GetAppointment(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "Appointment not found", err)
		return false
	}
	if !sameTenant(c, details.BusinessID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Appointment not found"})
		return false
	}
	return true
}

// fail maps service errors to HTTP status codes
func (h *Handler) fail(c *gin.Context, msg string, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, service.ErrAppointmentNotFound):
		code = http.StatusNotFound
	case errors.Is(err, service.ErrInvalidAppointment):
		code = http.StatusBadRequest
	case errors.Is(err, service.ErrAppointmentBusy):
		code = http.StatusConflict
	}
	if code == http.StatusInternalServerError {
		h.logger.Error(msg, zap.String("path", c.FullPath()), zap.Error(err))
	}

	c.JSON(code, gin.H{
		"error":   msg,
		"details": err.Error(),
	})
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
