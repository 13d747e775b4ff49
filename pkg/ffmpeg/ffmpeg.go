// Package ffmpeg builds and runs ffmpeg/ffprobe invocations for the
// normalization pipeline.
package ffmpeg

import (
	"context"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Command is an ffmpeg invocation under construction.
type Command struct {
	input     string
	output    string
	preInput  []string // before -i, e.g. input seeking
	postInput []string
	filters   []string // joined into one -vf chain
}

// Option mutates a Command. The final argument order is fixed by Build,
// so options may be passed in any order.
type Option interface {
	Apply(cmd *Command)
}

// OptionFunc adapts a function to Option.
type OptionFunc func(cmd *Command)

func (f OptionFunc) Apply(cmd *Command) { f(cmd) }

// NewCommand returns a command reading input and writing output.
func NewCommand(input, output string, opts ...Option) *Command {
	cmd := &Command{input: input, output: output}
	for _, opt := range opts {
		opt.Apply(cmd)
	}
	return cmd
}

// Build returns the argument list passed to ffmpeg.
func (c *Command) Build() []string {
	args := []string{"-hide_banner", "-y"}
	args = append(args, c.preInput...)
	args = append(args, "-i", c.input)
	args = append(args, c.postInput...)

	if len(c.filters) > 0 {
		args = append(args, "-vf", strings.Join(c.filters, ","))
	}

	// Progressive playback needs the moov atom up front.
	switch strings.ToLower(filepath.Ext(c.output)) {
	case ".mp4", ".m4v", ".mov":
		args = append(args, "-movflags", "+faststart")
	}

	return append(args, c.output)
}

// Run executes the command and waits for it.
func (c *Command) Run(ctx context.Context) error {
	return c.RunCapture(ctx).Err
}

// RunCapture executes the command and returns its stderr with the error.
func (c *Command) RunCapture(ctx context.Context) RunResult {
	return runCapture(ctx, c.Build())
}

// Start launches the command without waiting.
func (c *Command) Start(ctx context.Context) (*Process, error) {
	return Start(ctx, c.Build())
}

// Run builds and executes a command in one call.
func Run(ctx context.Context, input, output string, opts ...Option) error {
	return NewCommand(input, output, opts...).Run(ctx)
}

// RunCapture builds and executes a command, returning ffmpeg's logs.
func RunCapture(ctx context.Context, input, output string, opts ...Option) RunResult {
	return NewCommand(input, output, opts...).RunCapture(ctx)
}

// Seek positions the input before decoding (-ss before -i).
func Seek(start time.Duration) Option {
	return OptionFunc(func(cmd *Command) {
		if start > 0 {
			cmd.preInput = append(cmd.preInput, "-ss", formatDuration(start))
		}
	})
}

// Duration limits the output length (-t).
func Duration(d time.Duration) Option {
	return OptionFunc(func(cmd *Command) {
		if d > 0 {
			cmd.postInput = append(cmd.postInput, "-t", formatDuration(d))
		}
	})
}

// SeekTo seeks to start and keeps everything up to end.
func SeekTo(start, end time.Duration) Option {
	return OptionFunc(func(cmd *Command) {
		Seek(start).Apply(cmd)
		Duration(end - start).Apply(cmd)
	})
}

func VideoCodec(codec string) Option {
	return OptionFunc(func(cmd *Command) {
		cmd.postInput = append(cmd.postInput, "-c:v", codec)
	})
}

func CRF(value int) Option {
	return OptionFunc(func(cmd *Command) {
		cmd.postInput = append(cmd.postInput, "-crf", strconv.Itoa(value))
	})
}

func Preset(name string) Option {
	return OptionFunc(func(cmd *Command) {
		cmd.postInput = append(cmd.postInput, "-preset", name)
	})
}

func PixelFormat(pixFmt string) Option {
	return OptionFunc(func(cmd *Command) {
		cmd.postInput = append(cmd.postInput, "-pix_fmt", pixFmt)
	})
}

func AudioCodec(codec string) Option {
	return OptionFunc(func(cmd *Command) {
		cmd.postInput = append(cmd.postInput, "-c:a", codec)
	})
}

func AudioBitrate(bitrate string) Option {
	return OptionFunc(func(cmd *Command) {
		cmd.postInput = append(cmd.postInput, "-b:a", bitrate)
	})
}

func AudioChannels(n int) Option {
	return OptionFunc(func(cmd *Command) {
		cmd.postInput = append(cmd.postInput, "-ac", strconv.Itoa(n))
	})
}

// CopyAll stream-copies every stream (-c copy).
var CopyAll Option = OptionFunc(func(cmd *Command) {
	cmd.postInput = append(cmd.postInput, "-c", "copy")
})

// NoAudio drops audio (-an).
var NoAudio Option = OptionFunc(func(cmd *Command) {
	cmd.postInput = append(cmd.postInput, "-an")
})

// FirstVideoOptionalAudio maps the first video stream and the first audio
// stream when one exists. Phone recordings often carry extra data tracks.
var FirstVideoOptionalAudio Option = OptionFunc(func(cmd *Command) {
	cmd.postInput = append(cmd.postInput, "-map", "0:v:0", "-map", "0:a:0?")
})

// Filter appends to the -vf chain.
func Filter(f string) Option {
	return OptionFunc(func(cmd *Command) {
		cmd.filters = append(cmd.filters, f)
	})
}

// Frames limits the number of video frames written.
func Frames(n int) Option {
	return OptionFunc(func(cmd *Command) {
		cmd.postInput = append(cmd.postInput, "-frames:v", strconv.Itoa(n))
	})
}

// Quality sets image quality (-q:v, 2 is best for JPEG).
func Quality(q int) Option {
	return OptionFunc(func(cmd *Command) {
		cmd.postInput = append(cmd.postInput, "-q:v", strconv.Itoa(q))
	})
}

// LogLevel goes first so it applies to input probing too.
func LogLevel(level string) Option {
	return OptionFunc(func(cmd *Command) {
		cmd.preInput = append([]string{"-loglevel", level}, cmd.preInput...)
	})
}

// ExtraArgs appends raw output arguments.
func ExtraArgs(args ...string) Option {
	return OptionFunc(func(cmd *Command) {
		cmd.postInput = append(cmd.postInput, args...)
	})
}

func formatDuration(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 3, 64)
}

// Seconds converts fractional seconds to a Duration.
func Seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
