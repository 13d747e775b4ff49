package callback

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jangbersahaja/fishon-captain-sub003/internal/videos"
)

// ErrUndecodable is returned when no envelope decoder accepts the body.
var ErrUndecodable = errors.New("callback body could not be decoded")

// maxDepth bounds envelope nesting.
const maxDepth = 3

// decoder recognizes one envelope shape. ok is false when the body is not
// of that shape, so the next decoder gets a chance.
type decoder struct {
	name   string
	decode func(raw []byte, depth int) (videos.Result, bool)
}

// decoders are tried in order; the first structurally valid match wins.
var decoders []decoder

func init() {
	decoders = []decoder{
		{"direct", decodeDirect},
		{"broker", decodeBrokerEnvelope},
		{"wrapped", decodeWrapped},
	}
}

// Decode extracts a worker result from a callback body. It returns the name
// of the decoder that matched.
func Decode(raw []byte) (videos.Result, string, error) {
	return decode(raw, 0)
}

func decode(raw []byte, depth int) (videos.Result, string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || depth > maxDepth {
		return videos.Result{}, "", ErrUndecodable
	}
	for _, d := range decoders {
		if res, ok := d.decode(raw, depth); ok {
			return res, d.name, nil
		}
	}
	return videos.Result{}, "", ErrUndecodable
}

// decodeDirect accepts a bare result object.
func decodeDirect(raw []byte, _ int) (videos.Result, bool) {
	var res videos.Result
	if err := json.Unmarshal(raw, &res); err != nil {
		return videos.Result{}, false
	}
	_, known := res.Succeeded()
	if !known && res.VideoID == "" && res.ReadyURL == "" && res.ReadyKey == "" {
		return videos.Result{}, false
	}
	return res, true
}

// brokerEnvelope is what an HTTP broker posts to a callback URL: the
// target's response, base64 encoded, plus the original request.
type brokerEnvelope struct {
	Status     int    `json:"status"`
	Body       string `json:"body"`
	SourceBody string `json:"sourceBody"`
}

func decodeBrokerEnvelope(raw []byte, depth int) (videos.Result, bool) {
	var env brokerEnvelope
	if err := json.Unmarshal(raw, &env); err != nil || (env.Body == "" && env.SourceBody == "") {
		return videos.Result{}, false
	}

	body, err := decodeBase64(env.Body)
	if err != nil {
		return videos.Result{}, false
	}

	if env.Status == 0 || (env.Status >= 200 && env.Status < 300) {
		res, _, err := decode(body, depth+1)
		if err != nil {
			return videos.Result{}, false
		}
		if res.VideoID == "" {
			res.VideoID = sourceVideoID(env.SourceBody)
		}
		return res, true
	}

	// The target failed; the response body is whatever it wrote.
	id := sourceVideoID(env.SourceBody)
	if res, _, err := decode(body, depth+1); err == nil {
		if res.VideoID == "" {
			res.VideoID = id
		}
		if _, known := res.Succeeded(); known {
			return res, true
		}
		if res.Error != "" {
			return videos.FailureResult(res.VideoID, res.Error), true
		}
	}
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = fmt.Sprintf("worker responded %d", env.Status)
	} else {
		msg = fmt.Sprintf("worker responded %d: %s", env.Status, msg)
	}
	return videos.FailureResult(id, msg), true
}

// sourceVideoID reads the video id of the job that triggered the callback.
func sourceVideoID(sourceBody string) string {
	raw, err := decodeBase64(sourceBody)
	if err != nil || len(raw) == 0 {
		return ""
	}
	var job struct {
		VideoID string `json:"videoId"`
	}
	if json.Unmarshal(raw, &job) != nil {
		return ""
	}
	return job.VideoID
}

// decodeWrapped accepts {"response": ...} and {"data": ...}, where the
// inner value is an object or a JSON-encoded string.
func decodeWrapped(raw []byte, depth int) (videos.Result, bool) {
	var w struct {
		Response json.RawMessage `json:"response"`
		Data     json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &w); err != nil {
		return videos.Result{}, false
	}
	for _, inner := range []json.RawMessage{w.Response, w.Data} {
		if len(inner) == 0 || string(inner) == "null" {
			continue
		}
		var s string
		if json.Unmarshal(inner, &s) == nil {
			inner = json.RawMessage(s)
		}
		if res, _, err := decode(inner, depth+1); err == nil {
			return res, true
		}
	}
	return videos.Result{}, false
}

func decodeBase64(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
		if b, err := enc.DecodeString(s); err == nil {
			return b, nil
		}
	}
	return nil, errors.New("body is not base64")
}
