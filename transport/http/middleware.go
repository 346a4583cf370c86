package http

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/google/uuid"
	"github.com/layer-3/bastion/core"
	"github.com/layer-3/bastion/service"
	"go.uber.org/zap"
)

const (
	// TraceHeader carries the request trace id in and out.
	TraceHeader = "X-Trace-Id"
	// ServiceTokenHeader carries a "<type>:<jwt>" service token.
	ServiceTokenHeader = "X-Service-Token"

	traceIDKey       = "traceID"
	verificationKey  = "verification"
	serviceClaimsKey = "serviceClaims"
)

// TraceID reuses the caller's trace id or starts a new one.
func TraceID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(TraceHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(traceIDKey, id)
		c.Header(TraceHeader, id)
		c.Next()
	}
}

func traceID(c *gin.Context) string {
	return c.GetString(traceIDKey)
}

// RequestLogger logs one line per request.
func RequestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("trace_id", traceID(c)),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("ip", c.ClientIP()),
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			logger.Error("request", fields...)
			return
		}
		logger.Info("request", fields...)
	}
}

// Recovery turns a panic into an UNKNOWN_ERROR response.
func Recovery(logger *zap.Logger) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		logger.Error("panic recovered", zap.String("trace_id", traceID(c)), zap.Any("panic", recovered), zap.Stack("stack"))
		abort(c, service.Response[any]{ErrorCode: core.CodeUnknown})
	})
}

// BearerAuth verifies the access token in the Authorization header.
func BearerAuth(auth *service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			abort(c, service.Response[any]{ErrorCode: core.CodeInvalidToken})
			return
		}

		res := auth.TokenVerify(c.Request.Context(), traceID(c), service.TokenVerifyRequest{Token: token})
		if !res.Status {
			abort(c, res)
			return
		}
		c.Set(verificationKey, res.Data)
		c.Next()
	}
}

func verification(c *gin.Context) *core.Verification {
	v, _ := c.Get(verificationKey)
	out, _ := v.(*core.Verification)
	return out
}

// ServiceAuth requires a service token addressed to audience.
func ServiceAuth(auth *service.AuthService, audience string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.GetHeader(ServiceTokenHeader)
		if token == "" {
			abort(c, service.Response[any]{ErrorCode: core.CodeInvalidToken})
			return
		}

		res := auth.VerifyServiceToken(c.Request.Context(), traceID(c), token, audience)
		if !res.Status {
			abort(c, res)
			return
		}
		c.Set(serviceClaimsKey, res.Data)
		c.Next()
	}
}

// StepUp demands confirmation codes on routes registered as confirmation
// eligible. Routes are matched as "METHOD /full/path".
func StepUp(auth *service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		pattern := c.Request.Method + " " + c.FullPath()
		if !auth.StepUpApplies(pattern) {
			c.Next()
			return
		}

		fields := map[string]any{}
		if err := c.ShouldBindBodyWith(&fields, binding.JSON); err != nil && !errors.Is(err, io.EOF) {
			badRequest(c)
			return
		}

		req := core.StepUpRequest{
			Pattern:      pattern,
			IP:           c.ClientIP(),
			ServiceToken: c.GetHeader(ServiceTokenHeader),
			Fields:       fields,
		}
		if v := verification(c); v != nil {
			req.UserID = v.UserID
		}
		if login, ok := fields["login"].(string); ok {
			req.Login = login
		}

		res := auth.AuthorizeStepUp(c.Request.Context(), traceID(c), req)
		if !res.Status {
			abort(c, res)
			return
		}
		c.Next()
	}
}
