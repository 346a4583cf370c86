package directory

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/layer-3/bastion/core"
	"github.com/layer-3/bastion/ports"
)

// MemoryDirectory is an in-process directory for tests and local runs
type MemoryDirectory struct {
	mu            sync.RWMutex
	users         map[string]*core.User
	roles         map[string]string
	rolePerms     map[string][]string
	permissions   map[string]*core.Permission
	confirmations map[string][]core.ConfirmationMethod
	calls         []ports.Call
}

// NewMemoryDirectory creates an empty directory
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		users:         make(map[string]*core.User),
		roles:         make(map[string]string),
		rolePerms:     make(map[string][]string),
		permissions:   make(map[string]*core.Permission),
		confirmations: make(map[string][]core.ConfirmationMethod),
	}
}

var _ ports.Directory = (*MemoryDirectory)(nil)

// AddUser registers a user with a role
func (d *MemoryDirectory) AddUser(user core.User, role string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[user.ID] = &user
	d.roles[user.ID] = role
}

// SetRolePermissions sets the permission patterns of a role
func (d *MemoryDirectory) SetRolePermissions(role string, patterns ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rolePerms[role] = patterns
}

// AddPermission registers a permission descriptor
func (d *MemoryDirectory) AddPermission(p core.Permission) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.permissions[p.Pattern] = &p
}

// SetConfirmationMethods replaces the confirmation methods of a user for a permission
func (d *MemoryDirectory) SetConfirmationMethods(userID, permissionID string, methods ...core.ConfirmationMethod) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.confirmations[confirmationKey(userID, permissionID)] = methods
}

// Calls returns the call metadata of every request seen so far
func (d *MemoryDirectory) Calls() []ports.Call {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]ports.Call(nil), d.calls...)
}

func (d *MemoryDirectory) record(call ports.Call) {
	d.calls = append(d.calls, call)
}

func (d *MemoryDirectory) GetUserByLogin(ctx context.Context, call ports.Call, login string) (*core.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record(call)

	for _, u := range d.users {
		if u.Login != "" && u.Login == login {
			clone := *u
			return &clone, nil
		}
	}
	return nil, ports.ErrUserNotFound
}

func (d *MemoryDirectory) GetUserByID(ctx context.Context, call ports.Call, id string) (*core.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record(call)

	u, ok := d.users[id]
	if !ok {
		return nil, ports.ErrUserNotFound
	}
	clone := *u
	return &clone, nil
}

func (d *MemoryDirectory) EnsureUserExists(ctx context.Context, call ports.Call, address string) (*core.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record(call)

	for _, u := range d.users {
		if strings.EqualFold(u.WalletAddress, address) {
			clone := *u
			return &clone, nil
		}
	}
	u := &core.User{ID: uuid.NewString(), WalletAddress: address}
	d.users[u.ID] = u
	clone := *u
	return &clone, nil
}

func (d *MemoryDirectory) GetRoleByUserID(ctx context.Context, call ports.Call, userID string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record(call)

	if _, ok := d.users[userID]; !ok {
		return "", ports.ErrUserNotFound
	}
	return d.roles[userID], nil
}

func (d *MemoryDirectory) GetPermissionsByRole(ctx context.Context, call ports.Call, role string) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record(call)

	return append([]string(nil), d.rolePerms[role]...), nil
}

func (d *MemoryDirectory) GetPermissionByPattern(ctx context.Context, call ports.Call, pattern string) (*core.Permission, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record(call)

	p, ok := d.permissions[pattern]
	if !ok {
		return nil, ports.ErrPermissionNotFound
	}
	clone := *p
	return &clone, nil
}

func (d *MemoryDirectory) GetConfirmationMethods(ctx context.Context, call ports.Call, userID, permissionID string) ([]core.ConfirmationMethod, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record(call)

	return append([]core.ConfirmationMethod(nil), d.confirmations[confirmationKey(userID, permissionID)]...), nil
}

// InvalidateConfirmationCode clears the code so it cannot be replayed
func (d *MemoryDirectory) InvalidateConfirmationCode(ctx context.Context, call ports.Call, userID, permissionID, method string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record(call)

	methods := d.confirmations[confirmationKey(userID, permissionID)]
	for i := range methods {
		if methods[i].Method == method {
			methods[i].Code = ""
		}
	}
	return nil
}

func confirmationKey(userID, permissionID string) string {
	return userID + "|" + permissionID
}
