package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/lcnr/docker-queue/internal/models"
	"github.com/lcnr/docker-queue/internal/service"
	"github.com/lcnr/docker-queue/internal/store"
)

type QueueService interface {
	Submit(ctx context.Context, in service.SubmitRequest) (*models.LaunchRequest, error)
	SetStatus(ctx context.Context, id string, status models.Status) (*models.LaunchRequest, error)
	List(ctx context.Context) ([]models.Container, error)
	CurrentRunning(ctx context.Context) *models.RunningContainerID
}

// HistoryReader reads persisted launch records.
type HistoryReader interface {
	ListRecent(ctx context.Context, limit int) ([]models.LaunchRecord, error)
}

type Handler struct {
	queue   QueueService
	history HistoryReader
	events  http.Handler
	metrics http.Handler
	logger  *logrus.Entry
}

func New(queue QueueService, logger *logrus.Entry) *Handler {
	return &Handler{queue: queue, logger: logger.WithField("component", "http")}
}

// WithHistory serves launch records on GET /launch_history.
func (h *Handler) WithHistory(history HistoryReader) *Handler {
	h.history = history
	return h
}

// WithEvents serves the event stream on GET /events.
func (h *Handler) WithEvents(events http.Handler) *Handler {
	h.events = events
	return h
}

// WithMetrics serves the Prometheus exposition on GET /metrics.
func (h *Handler) WithMetrics(metrics http.Handler) *Handler {
	h.metrics = metrics
	return h
}

func (h *Handler) errorResponse(c *gin.Context, statusCode int, message string) {
	requestID := c.GetString(requestIDKey)
	if requestID == "" {
		requestID = fmt.Sprintf("%.8s", uuid.New().String())
	}

	c.JSON(statusCode, gin.H{
		"error":      message,
		"request_id": requestID,
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) Register(r *gin.Engine) {
	r.GET("/health_check", h.HealthCheck)
	r.POST("/queue_container", h.QueueContainer)
	r.POST("/set_container_status", h.SetContainerStatus)
	r.GET("/list_containers", h.ListContainers)
	r.GET("/get_running_container", h.GetRunningContainer)

	if h.history != nil {
		r.GET("/launch_history", h.LaunchHistory)
	}
	if h.events != nil {
		r.GET("/events", gin.WrapH(h.events))
	}
	if h.metrics != nil {
		r.GET("/metrics", gin.WrapH(h.metrics))
	}
}

func (h *Handler) HealthCheck(c *gin.Context) {
	c.Status(http.StatusOK)
}

type queueContainerRequest struct {
	ID      string        `json:"id"`
	Command string        `json:"command"`
	Status  models.Status `json:"status"`
}

func (h *Handler) QueueContainer(c *gin.Context) {
	var body queueContainerRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		h.errorResponse(c, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	req, err := h.queue.Submit(c.Request.Context(), service.SubmitRequest{
		ID:      body.ID,
		Command: body.Command,
		Status:  body.Status,
	})
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, req)
}

type setStatusRequest struct {
	ID     string        `json:"id" binding:"required"`
	Status models.Status `json:"status" binding:"required"`
}

func (h *Handler) SetContainerStatus(c *gin.Context) {
	var body setStatusRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		h.errorResponse(c, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	req, err := h.queue.SetStatus(c.Request.Context(), body.ID, body.Status)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, req)
}

func (h *Handler) ListContainers(c *gin.Context) {
	list, err := h.queue.List(c.Request.Context())
	if err != nil {
		h.logger.WithError(err).Error("failed to list containers")
		h.errorResponse(c, http.StatusBadGateway, "failed to list containers")
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *Handler) GetRunningContainer(c *gin.Context) {
	c.JSON(http.StatusOK, h.queue.CurrentRunning(c.Request.Context()))
}

func (h *Handler) LaunchHistory(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			h.errorResponse(c, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	records, err := h.history.ListRecent(c.Request.Context(), limit)
	if err != nil {
		h.logger.WithError(err).Error("failed to read launch history")
		h.errorResponse(c, http.StatusInternalServerError, "failed to read launch history")
		return
	}
	c.JSON(http.StatusOK, records)
}

func (h *Handler) handleError(c *gin.Context, err error) {
	var validationErr *models.ValidationError
	switch {
	case errors.As(err, &validationErr):
		h.errorResponse(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrQueueFull):
		h.errorResponse(c, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, store.ErrNotFound):
		h.errorResponse(c, http.StatusNotFound, "request is not pending")
	default:
		h.logger.WithError(err).Error("request failed")
		h.errorResponse(c, http.StatusInternalServerError, "internal error")
	}
}
