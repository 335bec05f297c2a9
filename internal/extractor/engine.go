package extractor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/lrstanley/go-ytdlp"

	"github.com/therealutkarshpriyadarshi/mediadrop/internal/config"
)

// DumpOptions narrows a metadata dump
type DumpOptions struct {
	// PlaylistItems caps how many playlist entries the engine expands (0 = single item)
	PlaylistItems int
}

// Engine is the external extraction tool
type Engine interface {
	// Dump returns the engine's JSON description of url
	Dump(ctx context.Context, url string, opts DumpOptions) ([]byte, error)
	// Fetch downloads one format of url to the output path template
	Fetch(ctx context.Context, url, formatID, output string) error
	// FetchCaptions writes manual and automatic captions for lang without downloading media
	FetchCaptions(ctx context.Context, url, lang, format, output string) error
}

// YTDLP drives the yt-dlp binary
type YTDLP struct {
	binary  string
	cookies string
	timeout time.Duration
}

// NewYTDLP creates an engine from extractor configuration
func NewYTDLP(cfg config.ExtractorConfig) *YTDLP {
	return &YTDLP{
		binary:  cfg.Binary,
		cookies: cfg.CookiesFile,
		timeout: cfg.Timeout,
	}
}

func (y *YTDLP) command() *ytdlp.Command {
	cmd := ytdlp.New().Quiet().NoWarnings()
	if y.binary != "" {
		cmd.SetExecutable(y.binary)
	}
	if y.cookies != "" {
		cmd.Cookies(y.cookies)
	}
	return cmd
}

func (y *YTDLP) run(ctx context.Context, cmd *ytdlp.Command, url string) (*ytdlp.Result, error) {
	if y.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, y.timeout)
		defer cancel()
	}

	result, err := cmd.Run(ctx, url)
	if err != nil {
		if result != nil && strings.TrimSpace(result.Stderr) != "" {
			return result, fmt.Errorf("yt-dlp: %w, stderr: %s", err, strings.TrimSpace(result.Stderr))
		}
		return result, fmt.Errorf("yt-dlp: %w", err)
	}
	return result, nil
}

// Dump runs a single-JSON metadata dump
func (y *YTDLP) Dump(ctx context.Context, url string, opts DumpOptions) ([]byte, error) {
	cmd := y.command().DumpSingleJSON().SkipDownload()
	if opts.PlaylistItems > 0 {
		cmd.FlatPlaylist().PlaylistItems(fmt.Sprintf("1:%d", opts.PlaylistItems))
	} else {
		cmd.NoPlaylist()
	}

	result, err := y.run(ctx, cmd, url)
	if err != nil {
		return nil, err
	}
	return []byte(result.Stdout), nil
}

// Fetch downloads formatID of url
func (y *YTDLP) Fetch(ctx context.Context, url, formatID, output string) error {
	cmd := y.command().
		NoPlaylist().
		ForceOverwrites().
		Format(formatID).
		Output(output)

	_, err := y.run(ctx, cmd, url)
	return err
}

// FetchCaptions downloads captions for lang in format
func (y *YTDLP) FetchCaptions(ctx context.Context, url, lang, format, output string) error {
	cmd := y.command().
		NoPlaylist().
		SkipDownload().
		WriteSubs().
		WriteAutoSubs().
		SubLangs(lang).
		SubFormat(format).
		Output(output)

	_, err := y.run(ctx, cmd, url)
	return err
}
