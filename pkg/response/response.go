package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/ksred/eatrack/internal/apperr"
	"gorm.io/gorm"
)

// Response represents a standardized API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *Error      `json:"error,omitempty"`
}

// Error represents an error response. Retryable tells clients the whole
// request may be sent again unchanged.
type Error struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// Common error codes
const (
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeBadRequest        = "BAD_REQUEST"
	ErrCodeUnauthorized      = "UNAUTHORIZED"
	ErrCodeForbidden         = "FORBIDDEN"
	ErrCodeInternalError     = "INTERNAL_ERROR"
	ErrCodeValidationFailed  = "VALIDATION_FAILED"
	ErrCodeDuplicateResource = "DUPLICATE_RESOURCE"
	ErrCodeUnavailable       = "SERVICE_UNAVAILABLE"
	ErrCodeRateLimited       = "RATE_LIMITED"
)

// Handle processes the error and returns appropriate response
func Handle(c *gin.Context, data interface{}, err error) {
	if err == nil {
		Success(c, data)
		return
	}
	handleError(c, err)
}

// Ack writes an EA acknowledgement as a bare JSON object. EA clients parse
// top-level fields, so successes are not wrapped in the envelope.
func Ack(c *gin.Context, ack interface{}, err error) {
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, ack)
}

// Success sends a successful response
func Success(c *gin.Context, data interface{}) {
	status := http.StatusOK
	if c.Request.Method == http.MethodPost {
		status = http.StatusCreated
	}

	c.JSON(status, Response{
		Success: true,
		Data:    data,
	})
}

// OK sends a 200 response regardless of method
func OK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    data,
	})
}

// NoContent sends a 204 response
func NoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

func fail(c *gin.Context, status int, code, message string, retryable bool) {
	c.JSON(status, Response{
		Success: false,
		Error: &Error{
			Code:      code,
			Message:   message,
			Retryable: retryable,
		},
	})
}

// NotFound sends a 404 response
func NotFound(c *gin.Context, message string) {
	fail(c, http.StatusNotFound, ErrCodeNotFound, message, false)
}

// BadRequest sends a 400 response
func BadRequest(c *gin.Context, message string) {
	fail(c, http.StatusBadRequest, ErrCodeBadRequest, message, false)
}

// ValidationFailed sends a 400 response for a payload that parsed but broke a field rule
func ValidationFailed(c *gin.Context, message string) {
	fail(c, http.StatusBadRequest, ErrCodeValidationFailed, message, false)
}

// Unauthorized sends a 401 response
func Unauthorized(c *gin.Context, message string) {
	fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, message, false)
}

// Forbidden sends a 403 response
func Forbidden(c *gin.Context, message string) {
	fail(c, http.StatusForbidden, ErrCodeForbidden, message, false)
}

// InternalError sends a 500 response
func InternalError(c *gin.Context, message string) {
	fail(c, http.StatusInternalServerError, ErrCodeInternalError, message, false)
}

// Conflict sends a 409 response
func Conflict(c *gin.Context, message string) {
	fail(c, http.StatusConflict, ErrCodeDuplicateResource, message, false)
}

// Unavailable sends a 503 response the client may retry
func Unavailable(c *gin.Context, message string) {
	fail(c, http.StatusServiceUnavailable, ErrCodeUnavailable, message, true)
}

// TooManyRequests sends a 429 response the client may retry after backing off
func TooManyRequests(c *gin.Context, message string) {
	fail(c, http.StatusTooManyRequests, ErrCodeRateLimited, message, true)
}

// handleError determines the appropriate error response
func handleError(c *gin.Context, err error) {
	msg := apperr.MessageOf(err)

	switch apperr.KindOf(err) {
	case apperr.KindUnauthorized:
		Unauthorized(c, msg)
	case apperr.KindForbidden:
		Forbidden(c, msg)
	case apperr.KindNotFound:
		NotFound(c, msg)
	case apperr.KindConflict:
		Conflict(c, msg)
	case apperr.KindValidation:
		ValidationFailed(c, msg)
	case apperr.KindTransient:
		Unavailable(c, "Store temporarily unavailable, retry the request")
	default:
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			NotFound(c, "Resource not found")
		case errors.Is(err, gorm.ErrDuplicatedKey):
			Conflict(c, "Resource already exists")
		default:
			InternalError(c, "An unexpected error occurred")
		}
	}
}
