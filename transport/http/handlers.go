package http

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/layer-3/bastion/core"
	"github.com/layer-3/bastion/service"
)

// StatusFor maps an error code to the HTTP status it is served with.
func StatusFor(code core.ErrorCode) int {
	switch code {
	case core.CodeInvalidCredentials, core.CodeAuthenticationFailed, core.CodeInvalidToken:
		return http.StatusUnauthorized
	case core.CodeUserNotFound, core.CodeSessionNotFound:
		return http.StatusNotFound
	case core.CodeSessionLimitExceeded:
		return http.StatusConflict
	case core.CodeTooManyRequests:
		return http.StatusTooManyRequests
	case core.CodeMissingConfirmationCode, core.CodeInvalidConfirmationCode, core.CodeExpiredConfirmationCode:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func write[T any](c *gin.Context, res service.Response[T]) {
	if !res.Status {
		c.JSON(StatusFor(res.ErrorCode), res)
		return
	}
	c.JSON(http.StatusOK, res)
}

func abort[T any](c *gin.Context, res service.Response[T]) {
	c.AbortWithStatusJSON(StatusFor(res.ErrorCode), service.Response[any]{
		ErrorCode: res.ErrorCode,
		Detail:    res.Detail,
	})
}

func badRequest(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"status": false, "error": "invalid request"})
}

// bind decodes the JSON body. The body may already have been read by StepUp,
// so it always goes through the cached copy.
func bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindBodyWith(req, binding.JSON); err != nil {
		badRequest(c)
		return false
	}
	return true
}

// bindOptional is bind for endpoints whose body may be empty.
func bindOptional(c *gin.Context, req any) bool {
	if err := c.ShouldBindBodyWith(req, binding.JSON); err != nil && !errors.Is(err, io.EOF) {
		badRequest(c)
		return false
	}
	return true
}

// AuthHandlers contains HTTP handlers for auth endpoints
type AuthHandlers struct {
	auth *service.AuthService
}

// NewAuthHandlers creates new auth handlers
func NewAuthHandlers(auth *service.AuthService) *AuthHandlers {
	return &AuthHandlers{auth: auth}
}

// Challenge issues the EIP-712 payload a wallet signs to log in.
func (h *AuthHandlers) Challenge(c *gin.Context) {
	var req service.GenerateNonceRequest
	if !bind(c, &req) {
		return
	}
	write(c, h.auth.GenerateNonce(c.Request.Context(), traceID(c), req))
}

// Authenticate checks credentials without opening a session.
func (h *AuthHandlers) Authenticate(c *gin.Context) {
	var req service.AuthenticateRequest
	if !bind(c, &req) {
		return
	}
	req.IP = c.ClientIP()
	write(c, h.auth.AuthenticateNative(c.Request.Context(), traceID(c), req))
}

// Login authenticates and opens a session.
func (h *AuthHandlers) Login(c *gin.Context) {
	var req service.LoginRequest
	if !bind(c, &req) {
		return
	}
	req.IP = c.ClientIP()
	if req.Client.UserAgent == "" {
		req.Client.UserAgent = c.Request.UserAgent()
	}
	write(c, h.auth.Login(c.Request.Context(), traceID(c), req))
}

func (h *AuthHandlers) VerifyToken(c *gin.Context) {
	var req service.TokenVerifyRequest
	if !bind(c, &req) {
		return
	}
	write(c, h.auth.TokenVerify(c.Request.Context(), traceID(c), req))
}

func (h *AuthHandlers) RefreshToken(c *gin.Context) {
	var req service.RefreshTokenRequest
	if !bind(c, &req) {
		return
	}
	write(c, h.auth.RefreshToken(c.Request.Context(), traceID(c), req))
}

// CreateSession opens a session on behalf of a trusted service.
func (h *AuthHandlers) CreateSession(c *gin.Context) {
	var req service.SessionCreateRequest
	if !bind(c, &req) {
		return
	}
	write(c, h.auth.SessionCreate(c.Request.Context(), traceID(c), req))
}

// CreateTokens issues a token pair for an existing session.
func (h *AuthHandlers) CreateTokens(c *gin.Context) {
	var req service.TokensCreateRequest
	if !bind(c, &req) {
		return
	}
	write(c, h.auth.TokensCreate(c.Request.Context(), traceID(c), req))
}

func (h *AuthHandlers) GenerateServiceToken(c *gin.Context) {
	var req core.ServiceTokenRequest
	if !bind(c, &req) {
		return
	}
	write(c, h.auth.GenerateServiceToken(c.Request.Context(), traceID(c), req))
}

func (h *AuthHandlers) VerifyServiceToken(c *gin.Context) {
	var req struct {
		Token    string `json:"token" binding:"required"`
		Audience string `json:"audience" binding:"required"`
	}
	if !bind(c, &req) {
		return
	}
	write(c, h.auth.VerifyServiceToken(c.Request.Context(), traceID(c), req.Token, req.Audience))
}

// AuthorizeStepUp lets a gateway run the confirmation check for its own routes.
func (h *AuthHandlers) AuthorizeStepUp(c *gin.Context) {
	var req struct {
		Pattern      string         `json:"pattern" binding:"required"`
		UserID       string         `json:"userId"`
		Login        string         `json:"login"`
		IP           string         `json:"ip"`
		ServiceToken string         `json:"serviceToken"`
		Fields       map[string]any `json:"fields"`
	}
	if !bind(c, &req) {
		return
	}
	write(c, h.auth.AuthorizeStepUp(c.Request.Context(), traceID(c), core.StepUpRequest{
		Pattern:      req.Pattern,
		UserID:       req.UserID,
		Login:        req.Login,
		IP:           req.IP,
		ServiceToken: req.ServiceToken,
		Fields:       req.Fields,
	}))
}

func (h *AuthHandlers) ActiveSessions(c *gin.Context) {
	var page service.Page
	if err := c.ShouldBindQuery(&page); err != nil {
		badRequest(c)
		return
	}
	req := service.SessionsRequest{UserID: verification(c).UserID, Page: page}
	write(c, h.auth.GetActiveSessions(c.Request.Context(), traceID(c), req))
}

func (h *AuthHandlers) SessionsHistory(c *gin.Context) {
	var page service.Page
	if err := c.ShouldBindQuery(&page); err != nil {
		badRequest(c)
		return
	}
	req := service.SessionsRequest{UserID: verification(c).UserID, Page: page}
	write(c, h.auth.GetSessionsHistory(c.Request.Context(), traceID(c), req))
}

func (h *AuthHandlers) SessionsUntil(c *gin.Context) {
	var query struct {
		Until time.Time `form:"until" binding:"required" time_format:"2006-01-02T15:04:05Z07:00"`
		service.Page
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		badRequest(c)
		return
	}
	req := service.SessionsUntilDateRequest{UserID: verification(c).UserID, Until: query.Until, Page: query.Page}
	write(c, h.auth.GetSessionsUntilDate(c.Request.Context(), traceID(c), req))
}

// TerminateSession ends one session of the caller.
func (h *AuthHandlers) TerminateSession(c *gin.Context) {
	var req service.TerminateSessionRequest
	if !bind(c, &req) {
		return
	}
	req.UserID = verification(c).UserID
	if req.SessionID == "" {
		req.SessionID = verification(c).SessionID
	}
	write(c, h.auth.TerminateSession(c.Request.Context(), traceID(c), req))
}

// TerminateAllSessions ends every session of the caller, this one included.
func (h *AuthHandlers) TerminateAllSessions(c *gin.Context) {
	var body map[string]any
	if !bindOptional(c, &body) {
		return
	}
	req := service.TerminateAllSessionsRequest{UserID: verification(c).UserID}
	write(c, h.auth.TerminateAllSessions(c.Request.Context(), traceID(c), req))
}
