package video_api

import (
	"net/http"

	"github.com/jangbersahaja/fishon-captain-sub003/cmd/web/handlers/common"
	"github.com/jangbersahaja/fishon-captain-sub003/internal/videos"
	"github.com/labstack/echo/v4"
)

// HandleShow returns one record. Records of other captains look missing.
func HandleShow(store videos.Store) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, err := common.RequireIdentity(c)
		if err != nil {
			return err
		}
		videoID, err := common.RequireUUIDParam(c, "id")
		if err != nil {
			return err
		}

		rec, err := store.Get(c.Request().Context(), videoID)
		if err != nil {
			return common.MapError(err)
		}
		if !id.CanAccess(rec.OwnerID) {
			return common.ErrNotFound("video not found")
		}
		return c.JSON(http.StatusOK, rec)
	}
}
