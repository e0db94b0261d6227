package api

import (
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"slotpay/internal/stories/reservations"
	"slotpay/internal/stories/slots"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/samber/lo"
)

const (
	requestIDHeader = "X-Request-ID"
	maxWebhookBody  = 1 << 20
)

type Handler struct {
	slots        SlotLister
	reservations Reservations
	payments     Payments
	validate     *validatorv10.Validate
	logger       *slog.Logger
}

func NewHandler(slotLister SlotLister, reservationService Reservations, payments Payments, logger *slog.Logger) *Handler {
	return &Handler{
		slots:        slotLister,
		reservations: reservationService,
		payments:     payments,
		validate:     validatorv10.New(),
		logger:       logger,
	}
}

type RouterConfig struct {
	AllowedOrigins []string
}

// Router builds the public API engine.
func (h *Handler) Router(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), h.requestLogger())

	if len(cfg.AllowedOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.AllowedOrigins,
			AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowHeaders:     []string{"Origin", "Content-Type", requestIDHeader},
			ExposeHeaders:    []string{requestIDHeader},
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	api := r.Group("/api")
	api.GET("/slots", h.listSlots)
	api.POST("/reservations", h.reserve)
	api.POST("/reservations/:id/checkout", h.checkout)
	api.GET("/payments/status/:intentID", h.paymentStatus)
	api.POST("/payments/webhook", h.webhook)
	api.GET("/orders/status/:token", h.orderStatus)

	return r
}

func (h *Handler) listSlots(c *gin.Context) {
	list, err := h.slots.ListSlots(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"slots": lo.Map(list, func(a slots.Availability, _ int) slotResponse {
		return toSlotResponse(a)
	})})
}

func (h *Handler) reserve(c *gin.Context) {
	var req reserveRequest
	if !h.bindAndValidate(c, &req) {
		return
	}

	order, err := h.reservations.Reserve(c.Request.Context(), reservations.Request{
		SlotStart: req.Slot,
		Email:     req.Email,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Phone:     req.Phone,
		Selection: req.Selection,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, toReservationResponse(order))
}

func (h *Handler) checkout(c *gin.Context) {
	orderID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || orderID <= 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse{Error: "invalid_order_id"})
		return
	}

	result, err := h.payments.Checkout(c.Request.Context(), orderID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, toCheckoutResponse(result))
}

func (h *Handler) paymentStatus(c *gin.Context) {
	view, err := h.payments.PollStatus(c.Request.Context(), c.Param("intentID"))
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, toPaymentStatusResponse(view))
}

func (h *Handler) webhook(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, errorResponse{Error: "body_too_large"})
		return
	}

	if err := h.payments.HandleWebhook(c.Request.Context(), body); err != nil {
		h.writeError(c, err)
		return
	}

	c.Status(http.StatusOK)
}

func (h *Handler) orderStatus(c *gin.Context) {
	order, err := h.reservations.GetByStatusToken(c.Request.Context(), c.Param("token"))
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, toOrderStatusResponse(order))
}

func (h *Handler) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestID := c.GetHeader(requestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header(requestIDHeader, requestID)

		c.Next()

		h.logger.Debug("HTTP request",
			"request_id", requestID,
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start).String(),
		)
	}
}
