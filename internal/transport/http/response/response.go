package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"legalrag/internal/app"
)

const (
	StatusSuccess = "success"
	StatusError   = "error"

	CodeUnauthorized = "UNAUTHORIZED"
	CodeForbidden    = "FORBIDDEN"
	CodeValidation   = "VALIDATION_ERROR"
	CodeInternal     = "INTERNAL_ERROR"
)

type APIResponse struct {
	Status    string         `json:"status"`
	Data      any            `json:"data,omitempty"`
	ErrorCode string         `json:"error_code,omitempty"`
	Message   string         `json:"message,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

func OK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, APIResponse{Status: StatusSuccess, Data: data})
}

func Error(c *gin.Context, httpStatus int, code, message string, details map[string]any) {
	c.JSON(httpStatus, APIResponse{
		Status:    StatusError,
		ErrorCode: code,
		Message:   message,
		Details:   details,
	})
}

// BadRequest is the response for payloads that fail to bind.
func BadRequest(c *gin.Context, message string, err error) {
	var details map[string]any
	if err != nil {
		details = map[string]any{"reason": err.Error()}
	}
	Error(c, http.StatusBadRequest, CodeValidation, message, details)
}

// FromError writes the error envelope for a service error. Errors that carry
// no API code are logged by the caller and reported without internals.
func FromError(c *gin.Context, err error) {
	code, status := app.ErrorCode(err)
	message, details := app.ErrorDetails(err)
	if code == CodeInternal {
		message = "internal server error"
		details = nil
	}
	_ = c.Error(err)
	Error(c, status, code, message, details)
}
