package transcoder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
)

// Runner executes an external tool and returns its stdout
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// ExecRunner runs the tool as a child process
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s failed: %w, stderr: %s", filepath.Base(name), err, tail(stderr.String(), 20))
	}
	return stdout.Bytes(), nil
}

// tail keeps the last n lines of ffmpeg's chatty stderr
func tail(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

// FFmpeg wraps FFmpeg operations
type FFmpeg struct {
	ffmpegPath  string
	ffprobePath string
	run         Runner
}

// NewFFmpeg creates a new FFmpeg instance. A nil runner uses ExecRunner.
func NewFFmpeg(ffmpegPath, ffprobePath string, run Runner) *FFmpeg {
	if run == nil {
		run = ExecRunner
	}
	return &FFmpeg{
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
		run:         run,
	}
}

// MediaInfo holds the ffprobe fields the composer reads
type MediaInfo struct {
	Format  FormatInfo   `json:"format"`
	Streams []StreamInfo `json:"streams"`
}

// FormatInfo holds format information
type FormatInfo struct {
	Filename   string `json:"filename"`
	FormatName string `json:"format_name"`
	Duration   string `json:"duration"`
	Size       string `json:"size"`
}

// StreamInfo holds stream information
type StreamInfo struct {
	CodecType string `json:"codec_type"`
	CodecName string `json:"codec_name"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
}

// Codec returns the codec of the first stream of codecType, or ""
func (m *MediaInfo) Codec(codecType string) string {
	for _, s := range m.Streams {
		if s.CodecType == codecType {
			return s.CodecName
		}
	}
	return ""
}

// Probe extracts stream metadata from a media file
func (f *FFmpeg) Probe(ctx context.Context, inputPath string) (*MediaInfo, error) {
	out, err := f.run(ctx, f.ffprobePath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		inputPath,
	)
	if err != nil {
		return nil, fmt.Errorf("ffprobe failed: %w", err)
	}

	var info MediaInfo
	if err := json.Unmarshal(out, &info); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}

	return &info, nil
}

// MergeOptions holds the inputs and codecs of a multiplex
type MergeOptions struct {
	VideoPath  string
	AudioPath  string
	OutputPath string
	// VideoCodec and AudioCodec are encoder names or "copy"
	VideoCodec   string
	AudioCodec   string
	AudioBitrate string
}

// Merge multiplexes separate video and audio files into one container
func (f *FFmpeg) Merge(ctx context.Context, opts MergeOptions) error {
	args := []string{
		"-y",
		"-i", opts.VideoPath,
		"-i", opts.AudioPath,
		"-map", "0:v:0",
		"-map", "1:a:0",
	}
	args = append(args, codecArgs(opts.VideoCodec, opts.AudioCodec, opts.AudioBitrate)...)
	args = append(args, opts.OutputPath)

	if _, err := f.run(ctx, f.ffmpegPath, args...); err != nil {
		return fmt.Errorf("merge failed: %w", err)
	}
	return nil
}

// Remux rewrites a single combined input into the output container
func (f *FFmpeg) Remux(ctx context.Context, opts MergeOptions) error {
	args := []string{"-y", "-i", opts.VideoPath}
	args = append(args, codecArgs(opts.VideoCodec, opts.AudioCodec, opts.AudioBitrate)...)
	args = append(args, opts.OutputPath)

	if _, err := f.run(ctx, f.ffmpegPath, args...); err != nil {
		return fmt.Errorf("remux failed: %w", err)
	}
	return nil
}

// ConvertAudio writes the first audio stream of inputPath to outputPath
func (f *FFmpeg) ConvertAudio(ctx context.Context, inputPath, outputPath, codec, bitrate string) error {
	args := []string{"-y", "-i", inputPath, "-vn", "-c:a", codec}
	if codec != "copy" && bitrate != "" {
		args = append(args, "-b:a", bitrate)
	}
	args = append(args, outputPath)

	if _, err := f.run(ctx, f.ffmpegPath, args...); err != nil {
		return fmt.Errorf("audio conversion failed: %w", err)
	}
	return nil
}

func codecArgs(videoCodec, audioCodec, audioBitrate string) []string {
	args := []string{"-c:v", videoCodec}
	if videoCodec == "libx264" {
		args = append(args, "-preset", "medium", "-crf", "23")
	}
	args = append(args, "-c:a", audioCodec)
	if audioCodec != "copy" && audioBitrate != "" {
		args = append(args, "-b:a", audioBitrate)
	}
	return args
}
