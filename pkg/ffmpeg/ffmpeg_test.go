package ffmpeg

import (
	"context"
	"flag"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var keepFiles = flag.Bool("keep", false, "keep generated test files for inspection")

func TestCommandBuild(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		output   string
		opts     []Option
		wantArgs []string
	}{
		{
			name:   "stream copy trim",
			input:  "in.mov",
			output: "out.mov",
			opts:   []Option{Seek(2 * time.Second), Duration(30 * time.Second), CopyAll},
			wantArgs: []string{
				"-hide_banner", "-y",
				"-ss", "2.000",
				"-i", "in.mov",
				"-t", "30.000",
				"-c", "copy",
				"-movflags", "+faststart",
				"out.mov",
			},
		},
		{
			name:   "zero seek is omitted",
			input:  "in.mp4",
			output: "thumb.jpg",
			opts:   []Option{Seek(0), Frames(1), Quality(4)},
			wantArgs: []string{
				"-hide_banner", "-y",
				"-i", "in.mp4",
				"-frames:v", "1",
				"-q:v", "4",
				"thumb.jpg",
			},
		},
		{
			name:   "seekto",
			input:  "in.mp4",
			output: "out.mp4",
			opts:   []Option{SeekTo(10*time.Second, 25*time.Second), CopyAll},
			wantArgs: []string{
				"-hide_banner", "-y",
				"-ss", "10.000",
				"-i", "in.mp4",
				"-t", "15.000",
				"-c", "copy",
				"-movflags", "+faststart",
				"out.mp4",
			},
		},
		{
			name:   "filters joined and loglevel first",
			input:  "in.mp4",
			output: "out.mkv",
			opts:   []Option{Seek(time.Second), Filter("a"), Filter("b"), LogLevel("error")},
			wantArgs: []string{
				"-hide_banner", "-y",
				"-loglevel", "error",
				"-ss", "1.000",
				"-i", "in.mp4",
				"-vf", "a,b",
				"out.mkv",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NewCommand(tt.input, tt.output, tt.opts...).Build()
			assert.Equal(t, tt.wantArgs, got)
		})
	}
}

func TestNormalizeArgs(t *testing.T) {
	args := NewCommand("src.mov", "720p.mp4", NormalizeArgs(NormalizeOptions{
		Start:        3500 * time.Millisecond,
		MaxDuration:  30 * time.Second,
		MaxDimension: 1280,
	})...).Build()

	assert.Equal(t, []string{"-hide_banner", "-y", "-ss", "3.500", "-i", "src.mov"}, args[:6])
	assert.Contains(t, args, "libx264")
	assert.Contains(t, args, "yuv420p")
	assert.Contains(t, args, "aac")
	assert.Contains(t, args, "+faststart")
	assert.Contains(t, args, FitFilter{Max: 1280}.String())
	assert.Equal(t, "720p.mp4", args[len(args)-1])

	i := indexOf(args, "-t")
	require.GreaterOrEqual(t, i, 0)
	assert.Equal(t, "30.000", args[i+1])
}

func TestFitDimensions(t *testing.T) {
	tests := []struct {
		w, h, max int
		wantW     int
		wantH     int
	}{
		{1920, 1080, 1280, 1280, 720},
		{1080, 1920, 1280, 720, 1280},
		{640, 360, 1280, 640, 360},
		{1281, 721, 1280, 1280, 720},
		{3840, 2160, 1280, 1280, 720},
		{1440, 1440, 1280, 1280, 1280},
		{0, 1080, 1280, 0, 0},
	}
	for _, tt := range tests {
		gw, gh := FitDimensions(tt.w, tt.h, tt.max)
		assert.Equal(t, tt.wantW, gw, "%dx%d width", tt.w, tt.h)
		assert.Equal(t, tt.wantH, gh, "%dx%d height", tt.w, tt.h)
		assert.LessOrEqual(t, max(gw, gh), tt.max)
	}
}

func TestParseProbe(t *testing.T) {
	raw := []byte(`{
		"format": {"format_name": "mov,mp4,m4a,3gp,3g2,mj2", "duration": "45.120000", "size": "1048576", "bit_rate": "185000"},
		"streams": [
			{"codec_type": "video", "codec_name": "hevc", "width": 1920, "height": 1080, "r_frame_rate": "30000/1001",
			 "side_data_list": [{"rotation": -90}]},
			{"codec_type": "audio", "codec_name": "aac"},
			{"codec_type": "data", "codec_name": "bin_data"}
		]
	}`)

	res, err := parseProbe(raw)
	require.NoError(t, err)
	assert.InDelta(t, 45.12, res.Duration, 0.001)
	assert.Equal(t, 1920, res.Width)
	assert.Equal(t, 270, res.Rotation)
	assert.Equal(t, 1080, res.DisplayWidth())
	assert.Equal(t, 1920, res.DisplayHeight())
	assert.Equal(t, 1920, res.LongestEdge())
	assert.InDelta(t, 29.97, res.FPS, 0.01)
	assert.Equal(t, "aac", res.AudioCodec)
	assert.Equal(t, 1, res.VideoStreams)
	assert.Equal(t, 1, res.AudioStreams)

	_, err = parseProbe([]byte(`{"format": {}, "streams": [{"codec_type": "audio"}]}`))
	require.Error(t, err)

	_, err = parseProbe([]byte(`not json`))
	require.Error(t, err)
}

func TestStreamRotation(t *testing.T) {
	assert.Equal(t, 90, streamRotation("90", nil))
	assert.Equal(t, 180, streamRotation("", []sideData{{Rotation: 180}}))
	assert.Equal(t, 270, streamRotation("", []sideData{{Rotation: -90}}))
	assert.Equal(t, 0, streamRotation("", nil))
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "0.000", formatDuration(0))
	assert.Equal(t, "1.500", formatDuration(1500*time.Millisecond))
	assert.Equal(t, "90.000", formatDuration(90*time.Second))
	assert.Equal(t, 2500*time.Millisecond, Seconds(2.5))
}

func TestError_TailOnly(t *testing.T) {
	e := &Error{Args: []string{"-i", "x"}, Stderr: "a\nb\nc\nd\n", Err: assert.AnError}
	assert.Contains(t, e.Error(), "b\nc\nd")
	assert.NotContains(t, e.Error(), "a\n")
	assert.Equal(t, "ffmpeg -i x", e.Command())
	assert.ErrorIs(t, e, assert.AnError)
}

func indexOf(args []string, v string) int {
	for i, a := range args {
		if a == v {
			return i
		}
	}
	return -1
}

// generateTestVideo renders a testsrc2 clip with a sine audio track.
func generateTestVideo(t *testing.T, dir string, seconds int, size string) string {
	t.Helper()
	out := filepath.Join(dir, "source.mp4")
	cmd := exec.Command(Binary,
		"-hide_banner", "-y", "-loglevel", "error",
		"-f", "lavfi", "-i", "testsrc2=duration="+strconv.Itoa(seconds)+":size="+size+":rate=30",
		"-f", "lavfi", "-i", "sine=frequency=440:duration="+strconv.Itoa(seconds),
		"-c:v", "libx264", "-preset", "ultrafast", "-pix_fmt", "yuv420p",
		"-c:a", "aac", "-shortest",
		out,
	)
	b, err := cmd.CombinedOutput()
	require.NoError(t, err, string(b))
	return out
}

func integrationDir(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	if !Available() {
		t.Skip("ffmpeg/ffprobe not installed")
	}
	if *keepFiles {
		dir, err := os.MkdirTemp("", "ffmpeg-test-")
		require.NoError(t, err)
		t.Logf("keeping files in %s", dir)
		return dir
	}
	return t.TempDir()
}

func TestIntegration_NormalizeAndThumbnail(t *testing.T) {
	dir := integrationDir(t)
	src := generateTestVideo(t, dir, 4, "1920x1080")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	out := filepath.Join(dir, "720p.mp4")
	res := Normalize(ctx, src, out, NormalizeOptions{
		Start:        time.Second,
		MaxDuration:  2 * time.Second,
		MaxDimension: 1280,
	})
	require.NoError(t, res.Err, res.Logs)

	probe, err := Probe(ctx, out)
	require.NoError(t, err)
	assert.Equal(t, 1280, probe.Width)
	assert.Equal(t, 720, probe.Height)
	assert.Equal(t, "h264", probe.VideoCodec)
	assert.Equal(t, "aac", probe.AudioCodec)
	assert.InDelta(t, 2.0, probe.Duration, 0.3)

	thumb := filepath.Join(dir, "thumb.jpg")
	res = ExtractThumbnail(ctx, out, thumb, ThumbnailOptions{Offset: 500 * time.Millisecond})
	require.NoError(t, res.Err, res.Logs)
	st, err := os.Stat(thumb)
	require.NoError(t, err)
	assert.Positive(t, st.Size())
}

func TestIntegration_TrimCopy(t *testing.T) {
	dir := integrationDir(t)
	src := generateTestVideo(t, dir, 4, "320x240")
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	out := filepath.Join(dir, "trim.mp4")
	res := TrimCopy(ctx, src, out, time.Second, 2*time.Second)
	require.NoError(t, res.Err, res.Logs)

	probe, err := Probe(ctx, out)
	require.NoError(t, err)
	assert.LessOrEqual(t, probe.Duration, 3.1)
}

func TestIntegration_ProcessKill(t *testing.T) {
	dir := integrationDir(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	proc, err := Start(ctx, []string{
		"-hide_banner", "-y",
		"-f", "lavfi", "-i", "testsrc2=duration=120:size=640x480:rate=30",
		"-c:v", "libx264", "-preset", "slow",
		filepath.Join(dir, "long.mp4"),
	})
	require.NoError(t, err)
	assert.Positive(t, proc.PID())

	require.NoError(t, proc.Kill())
	select {
	case <-proc.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("process did not exit after kill")
	}
	require.Error(t, proc.Wait())
}
