package auth

import (
	"log/slog"
	"net/http"

	webauth "github.com/jangbersahaja/fishon-captain-sub003/cmd/web/auth"
	"github.com/jangbersahaja/fishon-captain-sub003/cmd/web/handlers/common"
	"github.com/labstack/echo/v4"
)

type sessionResponse struct {
	UserID      string `json:"userId"`
	AccessLevel string `json:"accessLevel"`
}

// HandleLogin exchanges a valid bearer token for a session cookie, so a
// browser can call the API after the identity provider hands it a token.
func HandleLogin(sm *webauth.SessionManager, tokens *webauth.Tokens) echo.HandlerFunc {
	return func(c echo.Context) error {
		raw, ok := webauth.BearerToken(c.Request())
		if !ok || tokens == nil {
			return common.ErrUnauthorized()
		}
		id, err := tokens.Verify(raw)
		if err != nil {
			slog.Info("login rejected", "error", err)
			return common.ErrUnauthorized()
		}

		if err := sm.SaveSession(c.Response().Writer, c.Request(), id.UserID, id.Level); err != nil {
			slog.Error("failed to save session", "error", err)
			return common.ErrInternal("failed to save session")
		}
		return c.JSON(http.StatusOK, sessionResponse{UserID: id.UserID, AccessLevel: string(id.Level)})
	}
}
