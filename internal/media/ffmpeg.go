// Package media fetches sign clips, conforms them to one encoding profile
// and stitches them into a single video with ffmpeg.
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/signcast/api/internal/config"
)

const stderrTail = 400

// commandResult is the captured outcome of one subprocess
type commandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// commandRunner abstracts process execution for testability.
type commandRunner interface {
	Run(ctx context.Context, name string, args ...string) (commandResult, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) (commandResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := commandResult{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		result.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		}
		return result, err
	}
	return result, nil
}

// Profile is the encoding every clip is conformed to before concatenation
type Profile struct {
	FPS    int
	Width  int
	Height int
	PixFmt string
}

// DefaultProfile is 24 fps, 640x480, yuv420p
var DefaultProfile = Profile{FPS: 24, Width: 640, Height: 480, PixFmt: "yuv420p"}

// ProfileFromConfig fills unset fields from DefaultProfile
func ProfileFromConfig(cfg *config.MediaConfig) Profile {
	p := DefaultProfile
	if cfg.FPS > 0 {
		p.FPS = cfg.FPS
	}
	if cfg.Width > 0 {
		p.Width = cfg.Width
	}
	if cfg.Height > 0 {
		p.Height = cfg.Height
	}
	if cfg.PixFmt != "" {
		p.PixFmt = cfg.PixFmt
	}
	return p
}

// Filter builds the video filter chain that letterboxes to the profile
// frame size and clamps the clip to duration by freezing its last frame.
func (p Profile) Filter(duration float64) string {
	return fmt.Sprintf(
		"fps=%d,scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2,setsar=1,format=%s,tpad=stop_mode=clone:stop_duration=%s",
		p.FPS, p.Width, p.Height, p.Width, p.Height, p.PixFmt, fmtSeconds(duration),
	)
}

// Tool wraps the ffmpeg and ffprobe binaries
type Tool struct {
	ffmpeg  string
	ffprobe string
	runner  commandRunner
}

// NewTool resolves the binaries from config, falling back to PATH lookup
func NewTool(cfg *config.MediaConfig) *Tool {
	return &Tool{
		ffmpeg:  ResolveBinary(cfg.FFmpegPath, "ffmpeg"),
		ffprobe: ResolveBinary(cfg.FFprobePath, "ffprobe"),
		runner:  execRunner{},
	}
}

func newToolWithRunner(runner commandRunner) *Tool {
	return &Tool{ffmpeg: "ffmpeg", ffprobe: "ffprobe", runner: runner}
}

// ResolveBinary returns configured when set, else the PATH location of name,
// else name itself.
func ResolveBinary(configured, name string) string {
	if configured != "" {
		return configured
	}
	if p, err := exec.LookPath(name); err == nil {
		return p
	}
	return name
}

// FFmpegPath returns the ffmpeg binary in use
func (t *Tool) FFmpegPath() string {
	return t.ffmpeg
}

// Available reports whether the ffmpeg binary can be executed
func (t *Tool) Available() bool {
	_, err := exec.LookPath(t.ffmpeg)
	return err == nil
}

// Transcode re-encodes input (a local file or a remote manifest) into an
// audio-free H.264 MP4. headers is passed to ffmpeg's HTTP demuxer when set.
func (t *Tool) Transcode(ctx context.Context, input, output, headers string) error {
	args := []string{"-y", "-loglevel", "error"}
	if headers != "" {
		args = append(args, "-headers", headers)
	}
	args = append(args,
		"-i", input,
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-pix_fmt", "yuv420p",
		"-an",
		output,
	)
	return t.run(ctx, "ffmpeg transcode", t.ffmpeg, args...)
}

// Conform re-encodes input to profile and exactly duration seconds
func (t *Tool) Conform(ctx context.Context, input, output string, duration float64, profile Profile) error {
	return t.run(ctx, "ffmpeg conform", t.ffmpeg,
		"-y", "-loglevel", "error",
		"-i", input,
		"-vf", profile.Filter(duration),
		"-t", fmtSeconds(duration),
		"-r", strconv.Itoa(profile.FPS),
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-crf", "23",
		"-pix_fmt", profile.PixFmt,
		"-an",
		output,
	)
}

// Concat joins the files named in a concat-demuxer list without re-encoding.
// The muxer is forced so output may carry any extension.
func (t *Tool) Concat(ctx context.Context, listPath, output string) error {
	return t.run(ctx, "ffmpeg concat", t.ffmpeg,
		"-y", "-loglevel", "error",
		"-f", "concat",
		"-safe", "0",
		"-i", listPath,
		"-c", "copy",
		"-an",
		"-movflags", "+faststart",
		"-f", "mp4",
		output,
	)
}

// ProbeDuration reads a container's duration with ffprobe
func (t *Tool) ProbeDuration(ctx context.Context, input string) (time.Duration, error) {
	res, err := t.runner.Run(ctx, t.ffprobe,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		input,
	)
	if err != nil {
		return 0, fmt.Errorf("ffprobe duration: %w\n%s", err, tail(res.Stderr))
	}
	s := strings.TrimSpace(res.Stdout)
	sec, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", s, err)
	}
	return time.Duration(sec * float64(time.Second)), nil
}

func (t *Tool) run(ctx context.Context, stage, name string, args ...string) error {
	res, err := t.runner.Run(ctx, name, args...)
	if err != nil {
		return fmt.Errorf("%s (exit %d): %w\n%s", stage, res.ExitCode, err, tail(res.Stderr))
	}
	return nil
}

func tail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > stderrTail {
		return s[len(s)-stderrTail:]
	}
	return s
}

func fmtSeconds(sec float64) string {
	return strconv.FormatFloat(sec, 'f', 3, 64)
}
