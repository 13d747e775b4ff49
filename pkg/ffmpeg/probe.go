package ffmpeg

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os/exec"
	"strconv"
)

// ProbeResult is the subset of ffprobe output the pipeline uses.
type ProbeResult struct {
	Width      int // coded width of the first video stream
	Height     int
	Rotation   int // degrees, normalized to 0/90/180/270
	FPS        float64
	VideoCodec string
	AudioCodec string

	Duration   float64 // seconds
	Bitrate    int64
	Size       int64
	FormatName string

	VideoStreams int
	AudioStreams int
}

// DisplayWidth accounts for rotation metadata, which phones set instead of
// rotating pixels.
func (p *ProbeResult) DisplayWidth() int {
	if p.Rotation == 90 || p.Rotation == 270 {
		return p.Height
	}
	return p.Width
}

func (p *ProbeResult) DisplayHeight() int {
	if p.Rotation == 90 || p.Rotation == 270 {
		return p.Width
	}
	return p.Height
}

// LongestEdge is the larger display dimension.
func (p *ProbeResult) LongestEdge() int {
	return max(p.Width, p.Height)
}

type ffprobeOutput struct {
	Format struct {
		FormatName string `json:"format_name"`
		Duration   string `json:"duration"`
		Size       string `json:"size"`
		BitRate    string `json:"bit_rate"`
	} `json:"format"`
	Streams []struct {
		CodecType  string            `json:"codec_type"`
		CodecName  string            `json:"codec_name"`
		Width      int               `json:"width"`
		Height     int               `json:"height"`
		RFrameRate string            `json:"r_frame_rate"`
		Duration   string            `json:"duration"`
		Tags       map[string]string `json:"tags"`
		SideData   []sideData        `json:"side_data_list"`
	} `json:"streams"`
}

// Probe runs ffprobe against a local path or URL.
func Probe(ctx context.Context, input string) (*ProbeResult, error) {
	if _, err := exec.LookPath(ProbeBinary); err != nil {
		return nil, ErrNotInstalled
	}

	cmd := exec.CommandContext(ctx, ProbeBinary,
		"-hide_banner",
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		input,
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffprobe: %w: %s", err, stderr.String())
	}

	return parseProbe(stdout.Bytes())
}

func parseProbe(raw []byte) (*ProbeResult, error) {
	var out ffprobeOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("ffprobe: failed to parse output: %w", err)
	}

	res := &ProbeResult{FormatName: out.Format.FormatName}
	res.Duration, _ = strconv.ParseFloat(out.Format.Duration, 64)
	res.Bitrate, _ = strconv.ParseInt(out.Format.BitRate, 10, 64)
	res.Size, _ = strconv.ParseInt(out.Format.Size, 10, 64)

	for _, s := range out.Streams {
		switch s.CodecType {
		case "video":
			res.VideoStreams++
			if res.VideoCodec != "" {
				continue
			}
			res.VideoCodec = s.CodecName
			res.Width = s.Width
			res.Height = s.Height
			res.FPS = parseFrameRate(s.RFrameRate)
			res.Rotation = streamRotation(s.Tags["rotate"], s.SideData)
			if res.Duration == 0 {
				res.Duration, _ = strconv.ParseFloat(s.Duration, 64)
			}
		case "audio":
			res.AudioStreams++
			if res.AudioCodec == "" {
				res.AudioCodec = s.CodecName
			}
		}
	}

	if res.VideoStreams == 0 {
		return nil, fmt.Errorf("ffprobe: no video stream")
	}
	return res, nil
}

type sideData struct {
	Rotation float64 `json:"rotation"`
}

func streamRotation(tag string, side []sideData) int {
	deg := 0.0
	if tag != "" {
		deg, _ = strconv.ParseFloat(tag, 64)
	}
	for _, sd := range side {
		if sd.Rotation != 0 {
			deg = sd.Rotation
			break
		}
	}
	r := int(math.Round(deg)) % 360
	if r < 0 {
		r += 360
	}
	return r
}

// parseFrameRate parses "30/1" or "30000/1001".
func parseFrameRate(rate string) float64 {
	var num, den int
	if _, err := fmt.Sscanf(rate, "%d/%d", &num, &den); err != nil || den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}
