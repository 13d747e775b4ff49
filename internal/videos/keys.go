package videos

import (
	"path"
	"regexp"
	"strings"
)

// Object keys are scoped under the owner:
//
//	videos/<owner>/uploads/<upload>.<ext>   client direct upload
//	videos/<owner>/<video>/720p.mp4         normalized output
//	videos/<owner>/<video>/thumb.jpg        thumbnail
const keyRoot = "videos"

const (
	readyFile = "720p.mp4"
	thumbFile = "thumb.jpg"
)

var idInURL = regexp.MustCompile(`(?:^|/)` + keyRoot + `/[^/]+/([0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12})/(?:720p\.mp4|thumb\.jpg)(?:$|[?#])`)

// OwnerPrefix is the namespace every key of the owner lives under.
func OwnerPrefix(ownerID string) string {
	return keyRoot + "/" + ownerID + "/"
}

// UploadKey is where a client places an original before the record exists.
func UploadKey(ownerID, uploadID, filename string) string {
	ext := strings.ToLower(path.Ext(filename))
	if ext == "" {
		ext = ".mp4"
	}
	return OwnerPrefix(ownerID) + "uploads/" + uploadID + ext
}

// ReadyKey is the normalized output key of a record.
func ReadyKey(ownerID, videoID string) string {
	return OwnerPrefix(ownerID) + videoID + "/" + readyFile
}

// ThumbnailKey is the thumbnail key of a record.
func ThumbnailKey(ownerID, videoID string) string {
	return OwnerPrefix(ownerID) + videoID + "/" + thumbFile
}

// OwnsKey reports whether key is inside the owner's namespace.
func OwnsKey(ownerID, key string) bool {
	if ownerID == "" || strings.Contains(key, "..") {
		return false
	}
	return strings.HasPrefix(key, OwnerPrefix(ownerID))
}

// RecoverID extracts a record id from output URLs that follow the key layout.
// The first URL that matches wins.
func RecoverID(urls ...string) (string, bool) {
	for _, u := range urls {
		if u == "" {
			continue
		}
		if m := idInURL.FindStringSubmatch(u); m != nil {
			return strings.ToLower(m[1]), true
		}
	}
	return "", false
}
