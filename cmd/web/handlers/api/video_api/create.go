// package video_api provides the video ingestion API handlers.
package video_api

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/jangbersahaja/fishon-captain-sub003/cmd/web/handlers/common"
	"github.com/jangbersahaja/fishon-captain-sub003/internal/ingress"
	"github.com/labstack/echo/v4"
)

// maxThumbnailUpload bounds the thumbnail part read from a request.
const maxThumbnailUpload = 5 << 20

// createBody is the JSON form of an ingress request.
type createBody struct {
	ingress.CreateRequest
	ThumbnailBase64 string `json:"thumbnailBase64,omitempty"`
}

// HandleCreate registers an uploaded original. It accepts JSON or a
// multipart form with a "thumbnail" file part and a "trim" JSON field.
func HandleCreate(svc *ingress.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, err := common.RequireIdentity(c)
		if err != nil {
			return err
		}

		var req ingress.CreateRequest
		if strings.HasPrefix(c.Request().Header.Get(echo.HeaderContentType), echo.MIMEMultipartForm) {
			req, err = parseMultipart(c)
		} else {
			req, err = parseJSON(c)
		}
		if err != nil {
			return err
		}

		rec, err := svc.Create(c.Request().Context(), id.UserID, req)
		if err != nil {
			return common.MapError(err)
		}
		return c.JSON(http.StatusCreated, rec)
	}
}

func parseJSON(c echo.Context) (ingress.CreateRequest, error) {
	var body createBody
	if err := json.NewDecoder(c.Request().Body).Decode(&body); err != nil {
		return ingress.CreateRequest{}, common.ErrBadRequest("invalid JSON body")
	}
	req := body.CreateRequest
	if raw := body.ThumbnailBase64; raw != "" {
		if i := strings.Index(raw, ";base64,"); i >= 0 && strings.HasPrefix(raw, "data:") {
			req.ThumbnailContentType = raw[len("data:"):i]
			raw = raw[i+len(";base64,"):]
		}
		data, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			return req, common.ErrBadRequest("thumbnailBase64 is not valid base64")
		}
		req.Thumbnail = data
	}
	return req, nil
}

func parseMultipart(c echo.Context) (ingress.CreateRequest, error) {
	req := ingress.CreateRequest{
		OriginalKey: strings.TrimSpace(c.FormValue("originalKey")),
		OriginalURL: strings.TrimSpace(c.FormValue("originalUrl")),
	}
	if charter := strings.TrimSpace(c.FormValue("charterId")); charter != "" {
		req.CharterID = &charter
	}
	if raw := c.FormValue("trim"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &req.Trim); err != nil {
			return req, common.ErrBadRequest("trim is not valid JSON")
		}
	}

	fh, err := c.FormFile("thumbnail")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return req, nil
		}
		return req, common.ErrBadRequest("invalid thumbnail part")
	}
	f, err := fh.Open()
	if err != nil {
		return req, common.ErrBadRequest("invalid thumbnail part")
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxThumbnailUpload+1))
	if err != nil {
		return req, common.ErrBadRequest("failed to read thumbnail")
	}
	if len(data) > maxThumbnailUpload {
		return req, common.ErrBadRequest(fmt.Sprintf("thumbnail larger than %d bytes", maxThumbnailUpload))
	}
	req.Thumbnail = data
	req.ThumbnailContentType = fh.Header.Get(echo.HeaderContentType)
	return req, nil
}
