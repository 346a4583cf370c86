package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/layer-3/bastion/core"
	"github.com/layer-3/bastion/ports"
)

const (
	HeaderTraceID       = "X-Trace-Id"
	HeaderAuthorization = "Authorization"
)

var errNotFound = errors.New("not found")

// HTTPDirectory talks JSON to the identity directory service
type HTTPDirectory struct {
	baseURL  string
	client   *http.Client
	maxTries uint
}

// NewHTTPDirectory creates a directory client rooted at baseURL
func NewHTTPDirectory(baseURL string, timeout time.Duration, maxTries uint) *HTTPDirectory {
	if maxTries == 0 {
		maxTries = 1
	}
	return &HTTPDirectory{
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		maxTries: maxTries,
	}
}

var _ ports.Directory = (*HTTPDirectory)(nil)

type userPayload struct {
	ID            string `json:"id"`
	Login         string `json:"login"`
	WalletAddress string `json:"walletAddress"`
	PasswordHash  string `json:"passwordHash"`
}

func (u userPayload) user() *core.User {
	return &core.User{
		ID:            u.ID,
		Login:         u.Login,
		WalletAddress: u.WalletAddress,
		PasswordHash:  u.PasswordHash,
	}
}

// GetUserByLogin resolves a user by login
func (d *HTTPDirectory) GetUserByLogin(ctx context.Context, call ports.Call, login string) (*core.User, error) {
	var out userPayload
	if err := d.do(ctx, call, http.MethodGet, "/users/by-login/"+url.PathEscape(login), nil, &out); err != nil {
		return nil, userErr(err)
	}
	return out.user(), nil
}

// GetUserByID resolves a user by id
func (d *HTTPDirectory) GetUserByID(ctx context.Context, call ports.Call, id string) (*core.User, error) {
	var out userPayload
	if err := d.do(ctx, call, http.MethodGet, "/users/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, userErr(err)
	}
	return out.user(), nil
}

// EnsureUserExists returns the user bound to a wallet address, creating it if absent
func (d *HTTPDirectory) EnsureUserExists(ctx context.Context, call ports.Call, address string) (*core.User, error) {
	var out userPayload
	body := map[string]string{"walletAddress": address}
	if err := d.do(ctx, call, http.MethodPost, "/users/ensure", body, &out); err != nil {
		return nil, err
	}
	return out.user(), nil
}

// GetRoleByUserID returns the role of a user
func (d *HTTPDirectory) GetRoleByUserID(ctx context.Context, call ports.Call, userID string) (string, error) {
	var out struct {
		Role string `json:"role"`
	}
	if err := d.do(ctx, call, http.MethodGet, "/users/"+url.PathEscape(userID)+"/role", nil, &out); err != nil {
		return "", userErr(err)
	}
	return out.Role, nil
}

// GetPermissionsByRole returns the permission patterns granted to a role
func (d *HTTPDirectory) GetPermissionsByRole(ctx context.Context, call ports.Call, role string) ([]string, error) {
	var out struct {
		Permissions []string `json:"permissions"`
	}
	if err := d.do(ctx, call, http.MethodGet, "/roles/"+url.PathEscape(role)+"/permissions", nil, &out); err != nil {
		if errors.Is(err, errNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return out.Permissions, nil
}

// GetPermissionByPattern returns the permission registered under pattern
func (d *HTTPDirectory) GetPermissionByPattern(ctx context.Context, call ports.Call, pattern string) (*core.Permission, error) {
	var out core.Permission
	if err := d.do(ctx, call, http.MethodGet, "/permissions?pattern="+url.QueryEscape(pattern), nil, &out); err != nil {
		if errors.Is(err, errNotFound) {
			return nil, ports.ErrPermissionNotFound
		}
		return nil, err
	}
	return &out, nil
}

// GetConfirmationMethods lists the confirmation channels a user set for a permission
func (d *HTTPDirectory) GetConfirmationMethods(ctx context.Context, call ports.Call, userID, permissionID string) ([]core.ConfirmationMethod, error) {
	var out []core.ConfirmationMethod
	if err := d.do(ctx, call, http.MethodGet, confirmationPath(userID, permissionID), nil, &out); err != nil {
		if errors.Is(err, errNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return out, nil
}

// InvalidateConfirmationCode burns the current code of one confirmation channel
func (d *HTTPDirectory) InvalidateConfirmationCode(ctx context.Context, call ports.Call, userID, permissionID, method string) error {
	path := confirmationPath(userID, permissionID) + "/" + url.PathEscape(method) + "/invalidate"
	return d.do(ctx, call, http.MethodPost, path, nil, nil)
}

func confirmationPath(userID, permissionID string) string {
	return "/users/" + url.PathEscape(userID) + "/permissions/" + url.PathEscape(permissionID) + "/confirmation-methods"
}

func userErr(err error) error {
	if errors.Is(err, errNotFound) {
		return ports.ErrUserNotFound
	}
	return err
}

// do sends one request, retrying transport errors and 5xx responses
func (d *HTTPDirectory) do(ctx context.Context, call ports.Call, method, path string, in, out any) error {
	var payload []byte
	if in != nil {
		var err error
		if payload, err = json.Marshal(in); err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
	}

	operation := func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, method, d.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return nil, backoff.Permanent(fmt.Errorf("failed to build request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")
		if call.TraceID != "" {
			req.Header.Set(HeaderTraceID, call.TraceID)
		}
		if call.Token != "" {
			req.Header.Set(HeaderAuthorization, "Bearer "+call.Token)
		}

		resp, err := d.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("directory %s %s: %w", method, path, err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to read directory response: %w", err)
		}

		switch {
		case resp.StatusCode == http.StatusNotFound:
			return nil, backoff.Permanent(errNotFound)
		case resp.StatusCode >= http.StatusInternalServerError:
			return nil, fmt.Errorf("directory %s %s: status %d", method, path, resp.StatusCode)
		case resp.StatusCode >= http.StatusBadRequest:
			return nil, backoff.Permanent(fmt.Errorf("directory %s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(body))))
		}
		return body, nil
	}

	body, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(d.maxTries),
	)
	if err != nil {
		return err
	}

	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode directory response: %w", err)
	}
	return nil
}
