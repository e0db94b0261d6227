package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
)

// bindAndValidate binds the JSON body into out and runs validation.
// On failure it writes a 400 and returns false.
func (h *Handler) bindAndValidate(c *gin.Context, out interface{}) bool {
	if err := c.ShouldBindJSON(out); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse{
			Error:   "invalid_request_body",
			Message: err.Error(),
		})
		return false
	}

	if err := h.validate.Struct(out); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse{
			Error:  "validation_failed",
			Fields: validationErrorsToMap(err),
		})
		return false
	}
	return true
}

func validationErrorsToMap(err error) map[string]string {
	out := map[string]string{}

	var ve validatorv10.ValidationErrors
	if errors.As(err, &ve) {
		for _, fe := range ve {
			out[fe.Field()] = fe.Tag()
		}
	} else {
		out["error"] = err.Error()
	}
	return out
}
