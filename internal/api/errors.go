package api

import (
	"errors"
	"net/http"

	"slotpay/internal/stories/orders"
	"slotpay/internal/stories/payment"

	"github.com/gin-gonic/gin"
)

type errorMapping struct {
	err    error
	status int
	code   string
}

// Порядок важен: первая совпавшая ошибка определяет ответ.
var errorMappings = []errorMapping{
	{payment.ErrRefundNotRecorded, http.StatusInternalServerError, "internal_error"},
	{orders.ErrInvalidSlot, http.StatusBadRequest, "invalid_slot"},
	{orders.ErrInvalidRequest, http.StatusBadRequest, "invalid_request"},
	{orders.ErrOrderNotFound, http.StatusNotFound, "order_not_found"},
	{orders.ErrSlotFull, http.StatusConflict, "slot_full"},
	{orders.ErrAlreadyOrdered, http.StatusConflict, "already_ordered"},
	{orders.ErrReservationInProgress, http.StatusConflict, "reservation_in_progress"},
	{orders.ErrAlreadyPaid, http.StatusConflict, "already_paid"},
	{orders.ErrReservationExpired, http.StatusGone, "reservation_expired"},
	{orders.ErrOrderReleased, http.StatusGone, "order_released"},
	{payment.ErrGatewayRejected, http.StatusBadGateway, "gateway_rejected"},
	{payment.ErrGatewayUnavailable, http.StatusServiceUnavailable, "gateway_unavailable"},
}

func errorStatus(err error) (int, string) {
	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			return m.status, m.code
		}
	}
	return http.StatusInternalServerError, "internal_error"
}

func (h *Handler) writeError(c *gin.Context, err error) {
	status, code := errorStatus(err)

	resp := errorResponse{Error: code}
	if status == http.StatusInternalServerError {
		h.logger.Error("Request failed",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"error", err,
		)
	} else {
		resp.Message = err.Error()
	}

	c.AbortWithStatusJSON(status, resp)
}
