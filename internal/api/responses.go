package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const serviceName = "strataprover"

// StandardResponse represents the standard API response format
type StandardResponse struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     *ErrorInfo  `json:"error,omitempty"`
	Meta      *MetaInfo   `json:"meta,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// ErrorInfo contains detailed error information
type ErrorInfo struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// MetaInfo contains response metadata
type MetaInfo struct {
	RequestID    string          `json:"request_id"`
	Version      string          `json:"version"`
	ResponseTime string          `json:"response_time"`
	Pagination   *PaginationInfo `json:"pagination,omitempty"`
}

// PaginationInfo contains pagination metadata
type PaginationInfo struct {
	Page       int `json:"page"`
	PerPage    int `json:"per_page"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

// SuccessResponse sends a successful response
func SuccessResponse(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, StandardResponse{
		Success:   true,
		Data:      data,
		Timestamp: time.Now(),
		Meta:      buildMetaInfo(c),
	})
}

// AcceptedResponse reports work that was queued but has not finished
func AcceptedResponse(c *gin.Context, data interface{}) {
	c.JSON(http.StatusAccepted, StandardResponse{
		Success:   true,
		Data:      data,
		Timestamp: time.Now(),
		Meta:      buildMetaInfo(c),
	})
}

// ErrorResponseWithCode sends an error response with specific HTTP status code
func ErrorResponseWithCode(c *gin.Context, statusCode int, errorCode, message string, details map[string]interface{}) {
	c.JSON(statusCode, StandardResponse{
		Success: false,
		Error: &ErrorInfo{
			Code:    errorCode,
			Message: message,
			Details: details,
		},
		Timestamp: time.Now(),
		Meta:      buildMetaInfo(c),
	})
}

// BadRequestError sends a 400 Bad Request error
func BadRequestError(c *gin.Context, message string, details map[string]interface{}) {
	ErrorResponseWithCode(c, http.StatusBadRequest, "BAD_REQUEST", message, details)
}

// NotFoundError sends a 404 Not Found error
func NotFoundError(c *gin.Context, message string) {
	ErrorResponseWithCode(c, http.StatusNotFound, "NOT_FOUND", message, nil)
}

// ConflictError sends a 409 Conflict error
func ConflictError(c *gin.Context, code, message string, details map[string]interface{}) {
	ErrorResponseWithCode(c, http.StatusConflict, code, message, details)
}

// VerificationFailedError sends a 422 for a proof that does not verify
func VerificationFailedError(c *gin.Context, message string) {
	ErrorResponseWithCode(c, http.StatusUnprocessableEntity, "VERIFICATION_FAILED", message, nil)
}

// InternalServerError sends a 500 Internal Server Error
func InternalServerError(c *gin.Context, message string, details map[string]interface{}) {
	ErrorResponseWithCode(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", message, details)
}

// ServiceUnavailableError sends a 503 Service Unavailable error
func ServiceUnavailableError(c *gin.Context, message string) {
	ErrorResponseWithCode(c, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", message, nil)
}

// PaginatedResponse sends a paginated response
func PaginatedResponse(c *gin.Context, data interface{}, pagination PaginationInfo) {
	meta := buildMetaInfo(c)
	meta.Pagination = &pagination

	c.Header("X-Pagination-Page", fmt.Sprintf("%d", pagination.Page))
	c.Header("X-Pagination-Per-Page", fmt.Sprintf("%d", pagination.PerPage))
	c.Header("X-Pagination-Total", fmt.Sprintf("%d", pagination.Total))
	c.Header("X-Pagination-Total-Pages", fmt.Sprintf("%d", pagination.TotalPages))

	c.JSON(http.StatusOK, StandardResponse{
		Success:   true,
		Data:      data,
		Timestamp: time.Now(),
		Meta:      meta,
	})
}

func buildMetaInfo(c *gin.Context) *MetaInfo {
	meta := &MetaInfo{
		RequestID: c.GetString("request_id"),
		Version:   c.GetString("api_version"),
	}
	if meta.RequestID == "" {
		meta.RequestID = generateRequestID()
	}
	if meta.Version == "" {
		meta.Version = "v1"
	}
	if start, ok := c.Get("start_time"); ok {
		if t, ok := start.(time.Time); ok {
			meta.ResponseTime = time.Since(t).String()
		}
	}
	return meta
}

// HealthCheckResponse represents health check response format
type HealthCheckResponse struct {
	Status    string                   `json:"status"`
	Service   string                   `json:"service"`
	Version   string                   `json:"version"`
	Timestamp time.Time                `json:"timestamp"`
	Uptime    string                   `json:"uptime"`
	Services  map[string]ServiceStatus `json:"services"`
}

// ServiceStatus represents individual service status
type ServiceStatus struct {
	Status  string                 `json:"status"`
	Healthy bool                   `json:"healthy"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// HealthCheck sends a standardized health check response
func HealthCheck(c *gin.Context, services map[string]ServiceStatus, uptime time.Duration, version string) {
	overallStatus := "healthy"
	for _, service := range services {
		if !service.Healthy {
			overallStatus = "degraded"
			break
		}
	}

	statusCode := http.StatusOK
	if overallStatus != "healthy" {
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, HealthCheckResponse{
		Status:    overallStatus,
		Service:   serviceName,
		Version:   version,
		Timestamp: time.Now(),
		Uptime:    uptime.String(),
		Services:  services,
	})
}

// WebSocketResponse represents WebSocket message format
type WebSocketResponse struct {
	Type      string      `json:"type"`
	Event     string      `json:"event"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
	RequestID string      `json:"request_id,omitempty"`
}

// NewWebSocketResponse creates a new WebSocket response
func NewWebSocketResponse(eventType, event string, data interface{}) *WebSocketResponse {
	return &WebSocketResponse{
		Type:      eventType,
		Event:     event,
		Data:      data,
		Timestamp: time.Now(),
	}
}

// APIInfoResponse represents API information response
type APIInfoResponse struct {
	Name        string            `json:"name"`
	Version     string            `json:"version"`
	Description string            `json:"description"`
	Backend     string            `json:"backend"`
	Endpoints   map[string]string `json:"endpoints"`
	Programs    []string          `json:"programs"`
}
