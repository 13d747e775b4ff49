package common

import (
	"strconv"

	"github.com/google/uuid"
	"github.com/jangbersahaja/fishon-captain-sub003/cmd/web/auth"
	"github.com/labstack/echo/v4"
)

// IdentityKey is where the auth middleware stores the caller in the echo
// context.
const IdentityKey = "identity"

// RequireUUIDParam extracts a UUID route parameter or returns a 400 error.
func RequireUUIDParam(c echo.Context, param string) (string, error) {
	u, err := uuid.Parse(c.Param(param))
	if err != nil {
		return "", ErrBadRequest("invalid " + param)
	}
	return u.String(), nil
}

// RequireIdentity returns the authenticated caller or a 401 error.
func RequireIdentity(c echo.Context) (auth.Identity, error) {
	id, ok := c.Get(IdentityKey).(auth.Identity)
	if !ok || id.UserID == "" {
		return auth.Identity{}, ErrUnauthorized()
	}
	return id, nil
}

// RequireAdmin returns the caller when it has admin access.
func RequireAdmin(c echo.Context) (auth.Identity, error) {
	id, err := RequireIdentity(c)
	if err != nil {
		return id, err
	}
	if !id.IsAdmin() {
		return id, ErrForbidden()
	}
	return id, nil
}

// IntQuery parses an optional integer query parameter, clamped to [lo, hi].
func IntQuery(c echo.Context, name string, def, lo, hi int) int {
	raw := c.QueryParam(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return min(max(n, lo), hi)
}
