package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/layer-3/bastion/core"
	"github.com/layer-3/bastion/ports"
	"go.uber.org/zap"
)

// CodeFieldSuffix is appended to a confirmation method name to get the request
// field carrying its code, e.g. emailCode.
const CodeFieldSuffix = "Code"

// StepUpAuthorizer enforces confirmation codes on sensitive calls.
type StepUpAuthorizer struct {
	registry  *PermissionRegistry
	directory ports.Directory
	tokens    *ServiceTokens
	guard     *AbuseGuard
	settings  *SettingsStore
	logger    *zap.Logger
	now       func() time.Time
}

func NewStepUpAuthorizer(
	registry *PermissionRegistry,
	directory ports.Directory,
	tokens *ServiceTokens,
	guard *AbuseGuard,
	settings *SettingsStore,
	logger *zap.Logger,
) *StepUpAuthorizer {
	return &StepUpAuthorizer{
		registry:  registry,
		directory: directory,
		tokens:    tokens,
		guard:     guard,
		settings:  settings,
		logger:    logger,
		now:       time.Now,
	}
}

// Applies reports whether calls registered under pattern need confirmation.
func (a *StepUpAuthorizer) Applies(pattern string) bool {
	entry, ok := a.registry.Lookup(pattern)
	return ok && entry.RequiresConfirmation()
}

// Authorize returns nil when the call may proceed. Codes are burned on success.
func (a *StepUpAuthorizer) Authorize(ctx context.Context, traceID string, req core.StepUpRequest) error {
	if !a.Applies(req.Pattern) {
		return nil
	}
	log := a.logger.With(zap.String("trace_id", traceID), zap.String("pattern", req.Pattern))

	if a.isAPIKey(req.ServiceToken) {
		log.Debug("api key call, step-up skipped")
		return nil
	}

	subject := req.UserID
	if subject == "" {
		subject = req.Login
	}
	if subject == "" {
		return core.ErrUserNotFound
	}
	call, err := a.tokens.DirectoryCall(traceID, subject)
	if err != nil {
		return err
	}

	userID := req.UserID
	if userID == "" {
		user, err := a.directory.GetUserByLogin(ctx, call, req.Login)
		if errors.Is(err, ports.ErrUserNotFound) {
			return core.ErrUserNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to resolve login: %w", err)
		}
		userID = user.ID
	}

	guardID := subject + ":" + req.IP
	if err := a.guard.Check(ctx, guardID); err != nil {
		return err
	}

	permission, err := a.directory.GetPermissionByPattern(ctx, call, req.Pattern)
	if errors.Is(err, ports.ErrPermissionNotFound) {
		log.Debug("no directory permission for pattern")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load permission: %w", err)
	}

	methods, err := a.directory.GetConfirmationMethods(ctx, call, userID, permission.ID)
	if err != nil {
		return fmt.Errorf("failed to load confirmation methods: %w", err)
	}
	if len(methods) == 0 {
		return nil
	}

	now := a.now()
	for _, m := range methods {
		field := m.Method + CodeFieldSuffix
		supplied, ok := normalizeCode(req.Fields[field])
		if !ok {
			return core.ErrMissingConfirmationCode.WithDetail("field", field)
		}
		if m.Code == "" || supplied != strings.TrimSpace(m.Code) {
			return a.rejectCode(ctx, guardID, field, log)
		}
		if !m.ExpiresAt.IsZero() && now.After(m.ExpiresAt) {
			return core.ErrExpiredConfirmationCode.WithDetail("field", field)
		}
	}

	for _, m := range methods {
		if err := a.directory.InvalidateConfirmationCode(ctx, call, userID, permission.ID, m.Method); err != nil {
			return fmt.Errorf("failed to invalidate %s code: %w", m.Method, err)
		}
	}
	if err := a.guard.ResetAttempts(ctx, guardID); err != nil {
		log.Warn("failed to reset confirmation attempts", zap.Error(err))
	}
	log.Info("step-up confirmed", zap.String("user_id", userID), zap.Int("methods", len(methods)))
	return nil
}

func (a *StepUpAuthorizer) rejectCode(ctx context.Context, guardID, field string, log *zap.Logger) error {
	if _, err := a.guard.RegisterFailedAttempt(ctx, guardID); err != nil {
		log.Error("failed to register confirmation attempt", zap.Error(err))
	}
	if err := a.guard.Check(ctx, guardID); err != nil {
		return err
	}
	return core.ErrInvalidConfirmationCode.WithDetail("field", field)
}

// isAPIKey reports whether token is a valid API key service token addressed to
// this service, the same audience the service routes accept.
func (a *StepUpAuthorizer) isAPIKey(token string) bool {
	if token == "" {
		return false
	}
	typ, _, err := SplitServiceToken(token)
	if err != nil || typ != core.ServiceTokenAPIKey {
		return false
	}
	claims, err := a.tokens.VerifyServiceJWT(token, a.settings.Current().Issuer)
	if err != nil {
		a.logger.Warn("api key service token rejected", zap.Error(err))
		return false
	}
	return claims.Type == core.ServiceTokenAPIKey
}

func normalizeCode(v any) (string, bool) {
	var s string
	switch c := v.(type) {
	case nil:
		return "", false
	case string:
		s = c
	case json.Number:
		s = c.String()
	case float64:
		s = strconv.FormatFloat(c, 'f', -1, 64)
	case int:
		s = strconv.Itoa(c)
	case int64:
		s = strconv.FormatInt(c, 10)
	default:
		s = fmt.Sprint(c)
	}
	s = strings.TrimSpace(s)
	return s, s != ""
}
