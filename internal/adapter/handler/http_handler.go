package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/rl1809/travel-booking/internal/core/domain"
	"github.com/rl1809/travel-booking/internal/metrics"
	"github.com/rl1809/travel-booking/internal/tracing"
)

const (
	// RoleHeader is set by the upstream gateway; "admin" may cancel any booking.
	RoleHeader        = "X-Requester-Role"
	elevatedRole      = "admin"
	idempotencyHeader = "Idempotency-Key"
)

type Reservations interface {
	Reserve(ctx context.Context, req domain.BookingRequest) (*domain.BookingRecord, error)
	Confirm(ctx context.Context, id string) (*domain.BookingRecord, error)
	Get(ctx context.Context, id string) (*domain.BookingRecord, error)
	ListByRequester(ctx context.Context, requesterID string) ([]domain.BookingRecord, error)
	Available(ctx context.Context, resourceID, category string) (int, error)
}

type Cancellations interface {
	Cancel(ctx context.Context, recordID, requesterID string, elevated bool, reason string) (*domain.BookingRecord, error)
}

type HTTPHandler struct {
	reservations  Reservations
	cancellations Cancellations
}

func NewHTTPHandler(reservations Reservations, cancellations Cancellations) *HTTPHandler {
	return &HTTPHandler{reservations: reservations, cancellations: cancellations}
}

// NewRouter builds the gin engine with middleware, the booking API under
// /api/v1, health and Prometheus endpoints.
func NewRouter(h *HTTPHandler, log logrus.FieldLogger, requestTimeout time.Duration) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), RequestID(), Logger(log), metrics.Middleware, tracing.Middleware(), Timeout(requestTimeout))

	r.GET("/health", h.HealthCheck)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	api := r.Group("/api/v1")
	api.POST("/bookings", h.CreateBooking)
	api.GET("/bookings/:id", h.GetBooking)
	api.POST("/bookings/:id/cancel", h.CancelBooking)
	api.PUT("/bookings/:id/cancel", h.CancelBooking)
	api.POST("/bookings/:id/confirm", h.ConfirmBooking)
	api.GET("/requesters/:requester_id/bookings", h.ListBookings)
	api.GET("/inventory/:resource_id/:category", h.Availability)

	return r
}

func (h *HTTPHandler) CreateBooking(c *gin.Context) {
	var body CreateBookingRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "ValidationError", Message: "invalid request body"})
		return
	}
	if body.RequestID == "" {
		body.RequestID = c.GetHeader(idempotencyHeader)
	}

	req, err := body.toDomain()
	if err != nil {
		writeError(c, err)
		return
	}

	rec, err := h.reservations.Reserve(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, rec)
}

func (h *HTTPHandler) CancelBooking(c *gin.Context) {
	var body CancelBookingRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "ValidationError", Message: "invalid request body"})
			return
		}
	}

	elevated := c.GetHeader(RoleHeader) == elevatedRole
	rec, err := h.cancellations.Cancel(c.Request.Context(), c.Param("id"), body.RequesterID, elevated, body.Reason)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *HTTPHandler) ConfirmBooking(c *gin.Context) {
	rec, err := h.reservations.Confirm(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *HTTPHandler) GetBooking(c *gin.Context) {
	rec, err := h.reservations.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *HTTPHandler) ListBookings(c *gin.Context) {
	list, err := h.reservations.ListByRequester(c.Request.Context(), c.Param("requester_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ListBookingsResponse{Bookings: list})
}

func (h *HTTPHandler) Availability(c *gin.Context) {
	resourceID, category := c.Param("resource_id"), c.Param("category")
	n, err := h.reservations.Available(c.Request.Context(), resourceID, category)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, AvailabilityResponse{ResourceID: resourceID, Category: category, Available: n})
}

func (h *HTTPHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func writeError(c *gin.Context, err error) {
	status, body := errorResponse(err)
	c.JSON(status, body)
}
