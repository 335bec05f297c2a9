package transcoder

import (
	"context"
	"fmt"
	"strings"
)

// BurnSubtitleOptions holds options for burning subtitles into video
type BurnSubtitleOptions struct {
	InputPath    string
	SubtitlePath string
	OutputPath   string
	VideoCodec   string
	FontName     string
	FontSize     int
}

// BurnSubtitles renders an external caption file onto the video frames.
// Audio is copied unchanged.
func (f *FFmpeg) BurnSubtitles(ctx context.Context, opts BurnSubtitleOptions) error {
	if opts.VideoCodec == "" {
		opts.VideoCodec = "libx264"
	}

	subtitleFilter := "subtitles=" + escapeFilterPath(opts.SubtitlePath)
	if opts.FontName != "" {
		if opts.FontSize <= 0 {
			opts.FontSize = 24
		}
		subtitleFilter += fmt.Sprintf(":force_style='FontName=%s,FontSize=%d'", opts.FontName, opts.FontSize)
	}

	args := []string{
		"-y",
		"-i", opts.InputPath,
		"-vf", subtitleFilter,
	}
	args = append(args, codecArgs(opts.VideoCodec, "copy", "")...)
	args = append(args, opts.OutputPath)

	if _, err := f.run(ctx, f.ffmpegPath, args...); err != nil {
		return fmt.Errorf("subtitle burning failed: %w", err)
	}

	return nil
}

// ConvertSubtitleFormat converts a subtitle file from one format to another
func (f *FFmpeg) ConvertSubtitleFormat(ctx context.Context, inputPath, outputPath, outputFormat string) error {
	args := []string{
		"-y",
		"-i", inputPath,
		"-c:s", outputFormat,
		outputPath,
	}

	if _, err := f.run(ctx, f.ffmpegPath, args...); err != nil {
		return fmt.Errorf("subtitle conversion failed: %w", err)
	}

	return nil
}

// escapeFilterPath escapes a path for use inside an ffmpeg filter argument
func escapeFilterPath(path string) string {
	escaped := strings.ReplaceAll(path, `\`, `\\`)
	escaped = strings.ReplaceAll(escaped, ":", `\:`)
	escaped = strings.ReplaceAll(escaped, "'", `\'`)
	return escaped
}
