package ports

import (
	"context"
	"errors"

	"github.com/layer-3/bastion/core"
)

var (
	// ErrUserNotFound is returned by Directory lookups that match no user.
	ErrUserNotFound = errors.New("user not found")
	// ErrPermissionNotFound is returned when no permission matches a pattern.
	ErrPermissionNotFound = errors.New("permission not found")
)

// Call carries the per-request metadata every directory call is made with.
type Call struct {
	TraceID string
	Token   string
}

// Directory is the external identity directory.
type Directory interface {
	GetUserByLogin(ctx context.Context, call Call, login string) (*core.User, error)
	GetUserByID(ctx context.Context, call Call, id string) (*core.User, error)
	// EnsureUserExists returns the user bound to a wallet address, creating it if absent.
	EnsureUserExists(ctx context.Context, call Call, address string) (*core.User, error)
	GetRoleByUserID(ctx context.Context, call Call, userID string) (string, error)
	GetPermissionsByRole(ctx context.Context, call Call, role string) ([]string, error)
	GetPermissionByPattern(ctx context.Context, call Call, pattern string) (*core.Permission, error)
	GetConfirmationMethods(ctx context.Context, call Call, userID, permissionID string) ([]core.ConfirmationMethod, error)
	InvalidateConfirmationCode(ctx context.Context, call Call, userID, permissionID, method string) error
}
