package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/layer-3/bastion/core"
	"github.com/layer-3/bastion/ports"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id          UUID PRIMARY KEY,
	user_id     TEXT        NOT NULL,
	role        TEXT        NOT NULL DEFAULT '',
	user_agent  TEXT        NOT NULL DEFAULT '',
	user_ip     TEXT        NOT NULL DEFAULT '',
	fingerprint TEXT        NOT NULL DEFAULT '',
	country     TEXT        NOT NULL DEFAULT '',
	city        TEXT        NOT NULL DEFAULT '',
	status      TEXT        NOT NULL CHECK (status IN ('active', 'terminated', 'inactive')),
	created_at  TIMESTAMPTZ NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_user_status ON sessions (user_id, status);
CREATE INDEX IF NOT EXISTS idx_sessions_user_created ON sessions (user_id, created_at DESC);
`

const sessionColumns = `id, user_id, role, user_agent, user_ip, fingerprint, country, city, status, created_at, updated_at`

// PostgresStore implements ports.SessionStore using PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed session store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

var _ ports.SessionStore = (*PostgresStore)(nil)

// Migrate creates the sessions table and its indexes when missing.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to migrate sessions schema: %w", mapPostgresError(err))
	}
	return nil
}

// Create inserts a new session row.
func (s *PostgresStore) Create(ctx context.Context, session *core.Session) error {
	query := `INSERT INTO sessions (` + sessionColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := s.pool.Exec(ctx, query,
		session.ID,
		session.UserID,
		session.Role,
		session.UserAgent,
		session.UserIP,
		session.Fingerprint,
		session.Country,
		session.City,
		string(session.Status),
		session.CreatedAt,
		session.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", mapPostgresError(err))
	}
	return nil
}

// FindActive retrieves an active session by ID.
func (s *PostgresStore) FindActive(ctx context.Context, id string) (*core.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1 AND status = $2`

	session, err := scanSession(s.pool.QueryRow(ctx, query, id, string(core.SessionActive)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ports.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", mapPostgresError(err))
	}
	return session, nil
}

// CountActive counts active sessions of a user.
func (s *PostgresStore) CountActive(ctx context.Context, userID string) (int, error) {
	return s.Count(ctx, ports.SessionQuery{UserID: userID, Status: core.SessionActive})
}

// ListActive lists active sessions of a user.
func (s *PostgresStore) ListActive(ctx context.Context, userID string) ([]*core.Session, error) {
	return s.Find(ctx, ports.SessionQuery{UserID: userID, Status: core.SessionActive})
}

// Terminate flips an active session owned by userID to terminated.
func (s *PostgresStore) Terminate(ctx context.Context, id, userID string) error {
	query := `UPDATE sessions SET status = $4, updated_at = $5 WHERE id = $1 AND user_id = $2 AND status = $3`

	result, err := s.pool.Exec(ctx, query, id, userID,
		string(core.SessionActive), string(core.SessionTerminated), time.Now())
	if err != nil {
		return fmt.Errorf("failed to terminate session: %w", mapPostgresError(err))
	}
	if result.RowsAffected() == 0 {
		return ports.ErrSessionNotFound
	}
	return nil
}

// TerminateMany flips the listed active sessions to terminated.
func (s *PostgresStore) TerminateMany(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	query := `UPDATE sessions SET status = $3, updated_at = $4 WHERE id = ANY($1::uuid[]) AND status = $2`

	result, err := s.pool.Exec(ctx, query, ids,
		string(core.SessionActive), string(core.SessionTerminated), time.Now())
	if err != nil {
		return 0, fmt.Errorf("failed to terminate sessions: %w", mapPostgresError(err))
	}
	return int(result.RowsAffected()), nil
}

// Count counts sessions matching q.
func (s *PostgresStore) Count(ctx context.Context, q ports.SessionQuery) (int, error) {
	where, args := buildWhere(q)

	var n int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM sessions`+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count sessions: %w", mapPostgresError(err))
	}
	return n, nil
}

// Find returns sessions matching q, newest first.
func (s *PostgresStore) Find(ctx context.Context, q ports.SessionQuery) ([]*core.Session, error) {
	where, args := buildWhere(q)
	query := `SELECT ` + sessionColumns + ` FROM sessions` + where + ` ORDER BY created_at DESC`
	if q.Limit > 0 {
		args = append(args, q.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if q.Offset > 0 {
		args = append(args, q.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", mapPostgresError(err))
	}
	defer rows.Close()

	var sessions []*core.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sessions: %w", mapPostgresError(err))
	}
	return sessions, nil
}

func buildWhere(q ports.SessionQuery) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if q.UserID != "" {
		args = append(args, q.UserID)
		conds = append(conds, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if q.Status != "" {
		args = append(args, string(q.Status))
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if !q.CreatedBefore.IsZero() {
		args = append(args, q.CreatedBefore)
		conds = append(conds, fmt.Sprintf("created_at <= $%d", len(args)))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func scanSession(row pgx.Row) (*core.Session, error) {
	var (
		session core.Session
		status  string
	)
	err := row.Scan(
		&session.ID,
		&session.UserID,
		&session.Role,
		&session.UserAgent,
		&session.UserIP,
		&session.Fingerprint,
		&session.Country,
		&session.City,
		&status,
		&session.CreatedAt,
		&session.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	session.Status = core.SessionStatus(status)
	return &session, nil
}

// mapPostgresError adds context to PostgreSQL errors.
func mapPostgresError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}

	switch pgErr.Code {
	case pgerrcode.UniqueViolation:
		return fmt.Errorf("unique constraint violation: %s: %w", pgErr.ConstraintName, err)
	case pgerrcode.CheckViolation:
		return fmt.Errorf("check constraint violation: %s: %w", pgErr.ConstraintName, err)
	case pgerrcode.InvalidTextRepresentation:
		// a malformed uuid can never match a row
		return ports.ErrSessionNotFound
	case pgerrcode.SerializationFailure, pgerrcode.DeadlockDetected:
		return fmt.Errorf("transaction conflict (retryable): %w", err)
	case pgerrcode.ConnectionException,
		pgerrcode.ConnectionDoesNotExist,
		pgerrcode.ConnectionFailure,
		pgerrcode.CannotConnectNow:
		return fmt.Errorf("database connection error: %w", err)
	case pgerrcode.QueryCanceled:
		return fmt.Errorf("query canceled: %w", err)
	default:
		return fmt.Errorf("postgres error [%s]: %s: %w", pgErr.Code, pgErr.Message, err)
	}
}
