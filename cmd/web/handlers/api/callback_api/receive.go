// package callback_api receives normalization results from the broker or a
// worker.
package callback_api

import (
	"io"
	"net/http"

	"github.com/jangbersahaja/fishon-captain-sub003/cmd/web/handlers/common"
	"github.com/jangbersahaja/fishon-captain-sub003/internal/callback"
	"github.com/jangbersahaja/fishon-captain-sub003/internal/signature"
	"github.com/labstack/echo/v4"
)

// maxCallbackBody bounds the raw body kept for signature verification.
const maxCallbackBody = 1 << 20

// HandleReceive applies a callback. publicURL is the callback URL the
// signature subject is checked against; empty skips that check.
func HandleReceive(r *callback.Receiver, publicURL string) echo.HandlerFunc {
	return func(c echo.Context) error {
		body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxCallbackBody))
		if err != nil {
			return common.ErrBadRequest("failed to read body")
		}

		resp, err := r.Handle(c.Request().Context(), callback.Request{
			Body:      body,
			Signature: c.Request().Header.Get(signature.Header),
			MessageID: c.Request().Header.Get(callback.HeaderMessageID),
			URL:       publicURL,
		})
		if err != nil {
			return common.MapError(err)
		}
		return c.JSON(http.StatusOK, resp)
	}
}
