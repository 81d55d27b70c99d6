package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	appLogger "github.com/arklim/authcore/internal/infra/logger"
)

// Logger emits access logs for every HTTP request with correlation identifiers and masked client data.
func Logger(log *zap.Logger) gin.HandlerFunc {
	if log == nil {
		log = zap.NewNop()
	}

	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		requestID := appLogger.RequestID(c.Request.Context())
		reqCtx := GetRequestContext(c)

		fields := []zap.Field{
			zap.String("trace_id", GetTraceID(c)),
			zap.String("request_id", requestID),
			zap.Int("status", c.Writer.Status()),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", appLogger.MaskIP(reqCtx.IP)),
		}

		if reqCtx.UserID != "" {
			fields = append(fields, zap.String("user_id", reqCtx.UserID))
		}
		if reqCtx.DeviceID != "" {
			fields = append(fields, zap.String("device_id", appLogger.MaskString(reqCtx.DeviceID)))
		}
		if ua := c.Request.UserAgent(); ua != "" {
			fields = append(fields, zap.String("user_agent", ua))
		}
		if c.Writer.Header().Get(DegradedHeader) != "" {
			fields = append(fields, zap.Bool("degraded", true))
		}

		if len(c.Errors) > 0 {
			log.Error("request failed", append(fields, zap.String("errors", c.Errors.String()))...)
			return
		}

		log.Info("request completed", fields...)
	}
}
