package auth

import (
	"net/http"

	webauth "github.com/jangbersahaja/fishon-captain-sub003/cmd/web/auth"
	"github.com/labstack/echo/v4"
)

func HandleLogout(sm *webauth.SessionManager) echo.HandlerFunc {
	return func(c echo.Context) error {
		sm.ClearSession(c.Response().Writer, c.Request())
		return c.NoContent(http.StatusNoContent)
	}
}
