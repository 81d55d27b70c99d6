package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/arklim/authcore/internal/core/domain"
)

const (
	// TraceIDHeader carries the caller supplied trace id.
	TraceIDHeader = "X-Trace-ID"
	// DeviceIDHeader carries the client device fingerprint.
	DeviceIDHeader = "X-Device-ID"
	// TraceIDKey is the gin context key for the trace id.
	TraceIDKey = "trace_id"
	// UserIDKey is the gin context key for the authenticated user id.
	UserIDKey = "user_id"
	// SessionIDKey is the gin context key for the session bound to the access token.
	SessionIDKey = "session_id"

	requestContextKey = "request_context"
)

// RequestContext holds request-scoped information.
type RequestContext struct {
	TraceID   string
	UserID    string
	SessionID string
	IP        string
	UserAgent string
	DeviceID  string
}

// Device returns the client description handed to the token service.
func (r *RequestContext) Device(label string) domain.DeviceInfo {
	return domain.DeviceInfo{
		Fingerprint: r.DeviceID,
		Label:       label,
		IP:          r.IP,
		UserAgent:   r.UserAgent,
	}
}

// EnrichContext adds a trace id and the request metadata to each request.
func EnrichContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := c.GetHeader(TraceIDHeader)
		if traceID == "" {
			traceID = uuid.NewString()
		}

		c.Set(TraceIDKey, traceID)
		c.Header(TraceIDHeader, traceID)

		c.Set(requestContextKey, &RequestContext{
			TraceID:   traceID,
			IP:        c.ClientIP(),
			UserAgent: c.Request.UserAgent(),
			DeviceID:  c.GetHeader(DeviceIDHeader),
		})

		c.Next()
	}
}

// GetTraceID retrieves the trace id from the context.
func GetTraceID(c *gin.Context) string {
	return c.GetString(TraceIDKey)
}

// GetRequestContext retrieves the request context, building one from the raw request when
// EnrichContext did not run.
func GetRequestContext(c *gin.Context) *RequestContext {
	if value, exists := c.Get(requestContextKey); exists {
		if reqCtx, ok := value.(*RequestContext); ok {
			return reqCtx
		}
	}
	return &RequestContext{
		IP:        c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
		DeviceID:  c.GetHeader(DeviceIDHeader),
	}
}
