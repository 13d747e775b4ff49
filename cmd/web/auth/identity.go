package auth

import (
	"net/http"
)

// Identity is the caller as far as the video API is concerned. The core
// only compares UserID with a record's owner.
type Identity struct {
	UserID string
	Level  AccessLevel
}

func (i Identity) IsAdmin() bool {
	return i.Level == AccessAdmin
}

// CanAccess reports whether the caller may see a record owned by ownerID.
func (i Identity) CanAccess(ownerID string) bool {
	return i.IsAdmin() || (i.UserID != "" && i.UserID == ownerID)
}

// Authenticator resolves an Identity from a bearer token or, failing that,
// the session cookie.
type Authenticator struct {
	Sessions *SessionManager
	Tokens   *Tokens
}

func (a *Authenticator) Identify(r *http.Request) (Identity, error) {
	if raw, ok := BearerToken(r); ok {
		if a.Tokens == nil {
			return Identity{}, ErrNotAuthenticated
		}
		return a.Tokens.Verify(raw)
	}
	if a.Sessions == nil {
		return Identity{}, ErrNotAuthenticated
	}
	userID, err := a.Sessions.GetSession(r)
	if err != nil {
		return Identity{}, ErrNotAuthenticated
	}
	level := a.Sessions.GetAccessLevel(r)
	if level == AccessUnauthenticated {
		level = AccessUser
	}
	return Identity{UserID: userID, Level: level}, nil
}
