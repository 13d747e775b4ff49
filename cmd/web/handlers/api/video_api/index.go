package video_api

import (
	"net/http"

	"github.com/jangbersahaja/fishon-captain-sub003/cmd/web/handlers/common"
	"github.com/jangbersahaja/fishon-captain-sub003/internal/videos"
	"github.com/labstack/echo/v4"
)

type indexResponse struct {
	Videos []*videos.Record `json:"videos"`
}

// HandleIndex lists the caller's records, newest first.
func HandleIndex(store videos.Store) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, err := common.RequireIdentity(c)
		if err != nil {
			return err
		}
		limit := common.IntQuery(c, "limit", 50, 1, 200)

		recs, err := store.ListByOwner(c.Request().Context(), id.UserID, limit)
		if err != nil {
			return common.MapError(err)
		}
		if recs == nil {
			recs = []*videos.Record{}
		}
		return c.JSON(http.StatusOK, indexResponse{Videos: recs})
	}
}
