package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const requestIDKey = "request_id"

// envelope is the uniform response wrapper every endpoint returns.
type envelope struct {
	Success   bool      `json:"success"`
	Data      any       `json:"data,omitempty"`
	Error     *apiError `json:"error,omitempty"`
	Meta      meta      `json:"meta"`
	RequestID string    `json:"request_id"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type meta struct {
	Timestamp time.Time `json:"timestamp"`
}

// requestID tags each request with the caller-supplied X-Request-ID or a
// short generated one, echoed back in the envelope.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()[:8]
		}
		c.Set(requestIDKey, id)
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

func respond(c *gin.Context, status int, data any) {
	c.JSON(status, envelope{
		Success:   true,
		Data:      data,
		Meta:      meta{Timestamp: time.Now()},
		RequestID: c.GetString(requestIDKey),
	})
}

func respondError(c *gin.Context, status int, code, message string) {
	c.JSON(status, envelope{
		Success:   false,
		Error:     &apiError{Code: code, Message: message},
		Meta:      meta{Timestamp: time.Now()},
		RequestID: c.GetString(requestIDKey),
	})
}

func badRequest(c *gin.Context, message string) {
	respondError(c, http.StatusBadRequest, "bad_request", message)
}

func notFound(c *gin.Context, message string) {
	respondError(c, http.StatusNotFound, "not_found", message)
}

func internalError(c *gin.Context, message string) {
	respondError(c, http.StatusInternalServerError, "internal_error", message)
}
