package server

import (
	"fmt"
	"net/http"
	"os"
	"runtime/debug"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/neo/debatematch_backend/internal/logging"
)

// ErrorResponse is the standardized error body returned by the REST
// surface (the WebSocket surface has its own error event shape).
type ErrorResponse struct {
	Status     int       `json:"status"`
	Message    string    `json:"message"`
	Details    string    `json:"details,omitempty"`
	Path       string    `json:"path"`
	Timestamp  time.Time `json:"timestamp"`
	RequestID  string    `json:"request_id,omitempty"`
	DevMessage string    `json:"-"`
}

func isDevelopment() bool {
	return os.Getenv("APP_ENV") == "development"
}

// ErrorHandler turns the last error gin.Context accumulated during
// request handling into a standardized response.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}

		err := c.Errors.Last().Err
		status := c.Writer.Status()
		if status < 400 {
			status = http.StatusInternalServerError
		}

		resp := ErrorResponse{
			Status:    status,
			Message:   "An error occurred while processing your request",
			Path:      c.Request.URL.Path,
			Timestamp: time.Now(),
			RequestID: c.GetString("RequestID"),
		}
		if isDevelopment() {
			resp.Details = err.Error()
			resp.DevMessage = string(debug.Stack())
		}

		logging.Error("request failed", map[string]interface{}{
			"path":       resp.Path,
			"request_id": resp.RequestID,
			"error":      err.Error(),
		})

		c.JSON(status, gin.H{"error": resp})
	}
}

// RequestIDMiddleware stamps every request with a unique ID, echoed back
// in the X-Request-ID response header.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := fmt.Sprintf("%d", time.Now().UnixNano())
		c.Set("RequestID", requestID)
		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}

// LoggingMiddleware logs every HTTP request through internal/logging.
func LoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()
		requestID, _ := c.Get("RequestID")

		details := map[string]interface{}{"request_id": requestID}
		if status >= 500 {
			details["error"] = "server_error"
		} else if status >= 400 {
			details["error"] = "client_error"
		}
		logging.LogHTTPRequest(c.Request.Method, c.Request.URL.Path, status, latency, details)
	}
}

// RecoveryMiddleware recovers from panics in request handlers, logs
// them, and returns a 500 instead of crashing the process.
func RecoveryMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				requestID, _ := c.Get("RequestID")

				logging.Error("server panic", map[string]interface{}{
					"request_id": requestID,
					"path":       c.Request.URL.Path,
					"method":     c.Request.Method,
					"error":      fmt.Sprintf("%v", err),
					"stack":      string(debug.Stack()),
				})

				resp := ErrorResponse{
					Status:    http.StatusInternalServerError,
					Message:   "An unexpected error occurred",
					Path:      c.Request.URL.Path,
					Timestamp: time.Now(),
					RequestID: c.GetString("RequestID"),
				}
				if isDevelopment() {
					resp.Details = fmt.Sprintf("%v", err)
					resp.DevMessage = string(debug.Stack())
				}

				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": resp})
			}
		}()
		c.Next()
	}
}
