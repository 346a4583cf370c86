package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/layer-3/bastion/core"
	"github.com/layer-3/bastion/ports"
	"go.uber.org/zap"
)

const (
	DefaultPerPage = 20
	MaxPerPage     = 100
)

func sessionKey(id string) string {
	return "session:" + id
}

// Page selects one page of a session listing. Page starts at 1.
type Page struct {
	Page    int `json:"page" form:"page"`
	PerPage int `json:"perPage" form:"perPage"`
}

func (p Page) normalize() Page {
	if p.Page < 1 {
		p.Page = 1
	}
	switch {
	case p.PerPage <= 0:
		p.PerPage = DefaultPerPage
	case p.PerPage > MaxPerPage:
		p.PerPage = MaxPerPage
	}
	return p
}

// SessionPage is one page of sessions, newest first.
type SessionPage struct {
	Sessions []*core.Session `json:"sessions"`
	Total    int             `json:"total"`
	Page     int             `json:"page"`
	PerPage  int             `json:"perPage"`
}

// SessionManager owns session rows and their cached snapshots.
type SessionManager struct {
	store     ports.SessionStore
	cache     ports.Cache
	directory ports.Directory
	tokens    *ServiceTokens
	events    ports.EventPublisher
	mutex     *Mutex
	settings  *SettingsStore
	logger    *zap.Logger
	now       func() time.Time
}

func NewSessionManager(
	store ports.SessionStore,
	cache ports.Cache,
	directory ports.Directory,
	tokens *ServiceTokens,
	events ports.EventPublisher,
	mutex *Mutex,
	settings *SettingsStore,
	logger *zap.Logger,
) *SessionManager {
	return &SessionManager{
		store:     store,
		cache:     cache,
		directory: directory,
		tokens:    tokens,
		events:    events,
		mutex:     mutex,
		settings:  settings,
		logger:    logger,
		now:       time.Now,
	}
}

// CreateSession opens a session for userID unless the user already has the
// maximum number of active sessions.
func (m *SessionManager) CreateSession(ctx context.Context, traceID, userID string, client core.ClientContext) (*core.Session, error) {
	settings := m.settings.Current()
	log := m.logger.With(zap.String("trace_id", traceID), zap.String("user_id", userID))

	if settings.SerializeSessionCreate && m.mutex != nil {
		lock, err := m.mutex.Acquire(ctx, "session-create:"+userID)
		if err != nil {
			return nil, core.ErrSessionCreationFailed.Wrap(err)
		}
		defer func() {
			if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
				log.Warn("failed to release session lock", zap.Error(err))
			}
		}()
	}

	active, err := m.store.CountActive(ctx, userID)
	if err != nil {
		return nil, core.ErrSessionCreationFailed.Wrap(err)
	}
	if active >= settings.MaxSessions {
		log.Info("session limit reached", zap.Int("active", active))
		return nil, core.ErrSessionLimitExceeded.WithDetail("maxSessions", settings.MaxSessions)
	}

	call, err := m.tokens.DirectoryCall(traceID, userID)
	if err != nil {
		return nil, core.ErrSessionCreationFailed.Wrap(err)
	}
	role, err := m.directory.GetRoleByUserID(ctx, call, userID)
	if err != nil {
		if errors.Is(err, ports.ErrUserNotFound) {
			return nil, core.ErrUserNotFound
		}
		return nil, core.ErrSessionCreationFailed.Wrap(err)
	}

	now := m.now()
	session := &core.Session{
		ID:          uuid.NewString(),
		UserID:      userID,
		Role:        role,
		UserAgent:   client.UserAgent,
		UserIP:      client.UserIP,
		Fingerprint: client.Fingerprint,
		Country:     client.Country,
		City:        client.City,
		Status:      core.SessionActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := m.store.Create(ctx, session); err != nil {
		log.Error("failed to persist session", zap.Error(err))
		return nil, core.ErrSessionCreationFailed.Wrap(err)
	}

	// a missing snapshot is rebuilt by FindSession
	if err := ports.SetJSON(ctx, m.cache, sessionKey(session.ID), session, settings.SessionCacheTTL); err != nil {
		log.Warn("failed to cache session", zap.String("session_id", session.ID), zap.Error(err))
	}
	if err := m.events.PublishSessionCreated(ctx, session); err != nil {
		log.Warn("failed to publish session created", zap.String("session_id", session.ID), zap.Error(err))
	}

	log.Info("session created", zap.String("session_id", session.ID))
	return session, nil
}

// FindSession returns the active session with id, cache first.
func (m *SessionManager) FindSession(ctx context.Context, id string) (*core.Session, error) {
	if id == "" {
		return nil, core.ErrSessionNotFound
	}

	cached, err := ports.GetJSON[core.Session](ctx, m.cache, sessionKey(id))
	switch {
	case err == nil:
		if cached.UserID == "" {
			return nil, core.ErrSessionNotFound.Wrap(fmt.Errorf("cached session %s has no owner", id))
		}
		return cached, nil
	case !errors.Is(err, ports.ErrCacheMiss):
		m.logger.Warn("session cache read failed, using store", zap.String("session_id", id), zap.Error(err))
	}

	session, err := m.store.FindActive(ctx, id)
	if errors.Is(err, ports.ErrSessionNotFound) {
		return nil, core.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session %s: %w", id, err)
	}

	if err := ports.SetJSON(ctx, m.cache, sessionKey(id), session, m.settings.Current().SessionCacheTTL); err != nil {
		m.logger.Warn("failed to restore session cache", zap.String("session_id", id), zap.Error(err))
	}
	return session, nil
}

// TerminateSession ends one active session owned by userID.
func (m *SessionManager) TerminateSession(ctx context.Context, id, userID string) error {
	session, err := m.store.FindActive(ctx, id)
	if errors.Is(err, ports.ErrSessionNotFound) {
		return core.ErrSessionNotFound
	}
	if err != nil {
		return core.ErrSessionsTerminationFailed.Wrap(fmt.Errorf("failed to load session %s: %w", id, err))
	}
	if session.UserID != userID {
		return core.ErrSessionNotFound
	}

	if err := m.cache.Del(ctx, sessionKey(id)); err != nil {
		return core.ErrSessionsTerminationFailed.Wrap(fmt.Errorf("failed to drop cached session %s: %w", id, err))
	}
	if err := m.store.Terminate(ctx, id, userID); err != nil {
		if errors.Is(err, ports.ErrSessionNotFound) {
			return core.ErrSessionNotFound
		}
		return core.ErrSessionsTerminationFailed.Wrap(fmt.Errorf("failed to terminate session %s: %w", id, err))
	}

	if err := m.events.PublishSessionsTerminated(ctx, userID, []string{id}); err != nil {
		m.logger.Warn("failed to publish session terminated", zap.String("session_id", id), zap.Error(err))
	}
	return nil
}

// TerminateAllSessions ends every active session of userID and reports how many.
func (m *SessionManager) TerminateAllSessions(ctx context.Context, userID string) (int, error) {
	sessions, err := m.store.ListActive(ctx, userID)
	if err != nil {
		return 0, core.ErrSessionsTerminationFailed.Wrap(err)
	}
	if len(sessions) == 0 {
		return 0, core.ErrSessionNotFound
	}

	ids := make([]string, 0, len(sessions))
	keys := make([]string, 0, len(sessions))
	for _, s := range sessions {
		ids = append(ids, s.ID)
		keys = append(keys, sessionKey(s.ID))
	}

	if err := m.cache.Del(ctx, keys...); err != nil {
		return 0, core.ErrSessionsTerminationFailed.Wrap(err)
	}
	n, err := m.store.TerminateMany(ctx, ids)
	if err != nil {
		return 0, core.ErrSessionsTerminationFailed.Wrap(err)
	}

	if err := m.events.PublishSessionsTerminated(ctx, userID, ids); err != nil {
		m.logger.Warn("failed to publish sessions terminated", zap.String("user_id", userID), zap.Error(err))
	}
	return n, nil
}

// ActiveSessions lists active sessions of userID.
func (m *SessionManager) ActiveSessions(ctx context.Context, userID string, page Page) (*SessionPage, error) {
	res, err := m.list(ctx, ports.SessionQuery{UserID: userID, Status: core.SessionActive}, page)
	if err != nil {
		return nil, err
	}
	if res.Total == 0 {
		return nil, core.ErrSessionNotFound
	}
	return res, nil
}

// SessionsHistory lists every session of userID regardless of status.
func (m *SessionManager) SessionsHistory(ctx context.Context, userID string, page Page) (*SessionPage, error) {
	return m.list(ctx, ports.SessionQuery{UserID: userID}, page)
}

// SessionsUntilDate lists sessions of userID created at or before until.
func (m *SessionManager) SessionsUntilDate(ctx context.Context, userID string, until time.Time, page Page) (*SessionPage, error) {
	return m.list(ctx, ports.SessionQuery{UserID: userID, CreatedBefore: until}, page)
}

func (m *SessionManager) list(ctx context.Context, q ports.SessionQuery, page Page) (*SessionPage, error) {
	page = page.normalize()

	total, err := m.store.Count(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to count sessions: %w", err)
	}

	res := &SessionPage{Sessions: []*core.Session{}, Total: total, Page: page.Page, PerPage: page.PerPage}
	if total == 0 {
		return res, nil
	}

	q.Limit = page.PerPage
	q.Offset = (page.Page - 1) * page.PerPage
	sessions, err := m.store.Find(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	if sessions != nil {
		res.Sessions = sessions
	}
	return res, nil
}
