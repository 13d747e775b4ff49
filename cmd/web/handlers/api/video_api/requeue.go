package video_api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/jangbersahaja/fishon-captain-sub003/cmd/web/handlers/common"
	"github.com/jangbersahaja/fishon-captain-sub003/internal/ingress"
	"github.com/jangbersahaja/fishon-captain-sub003/internal/videos"
	"github.com/labstack/echo/v4"
)

// HandleRequeue moves a failed record back to queued and dispatches it.
// Admin only.
func HandleRequeue(store videos.Store, dispatcher ingress.Dispatcher) echo.HandlerFunc {
	return func(c echo.Context) error {
		admin, err := common.RequireAdmin(c)
		if err != nil {
			return err
		}
		videoID, err := common.RequireUUIDParam(c, "id")
		if err != nil {
			return err
		}

		rec, err := store.Modify(c.Request().Context(), videoID, func(r *videos.Record) error {
			return r.Requeue(time.Now().UTC())
		})
		if err != nil {
			return common.MapError(err)
		}

		slog.Info("video requeued", "video_id", rec.ID, "by", admin.UserID)
		dispatcher.DispatchAsync(rec.ID)
		return c.JSON(http.StatusAccepted, rec)
	}
}
