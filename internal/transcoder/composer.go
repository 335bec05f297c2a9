package transcoder

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/therealutkarshpriyadarshi/mediadrop/internal/logging"
	"github.com/therealutkarshpriyadarshi/mediadrop/internal/metrics"
	"github.com/therealutkarshpriyadarshi/mediadrop/internal/tracing"
	"github.com/therealutkarshpriyadarshi/mediadrop/pkg/models"
)

// CaptionSource fetches a caption track into dir
type CaptionSource interface {
	FetchCaption(ctx context.Context, url, lang, dir string) (string, error)
}

// Composer turns acquired streams into a single ready file
type Composer struct {
	ffmpeg   *FFmpeg
	captions CaptionSource
	fs       afero.Fs
	logger   *logging.Logger
}

// NewComposer creates a composer
func NewComposer(ffmpeg *FFmpeg, captions CaptionSource, fs afero.Fs, logger *logging.Logger) *Composer {
	return &Composer{
		ffmpeg:   ffmpeg,
		captions: captions,
		fs:       fs,
		logger:   logger.WithComponent("composer"),
	}
}

// copyable lists the codecs each container can carry without re-encoding
var copyable = map[string]map[string][]string{
	models.ContainerMP4: {
		"video": {"h264", "hevc", "av1", "mpeg4"},
		"audio": {"aac", "mp3", "alac"},
	},
	models.ContainerWebM: {
		"video": {"vp8", "vp9", "av1"},
		"audio": {"opus", "vorbis"},
	},
	models.ContainerM4A: {
		"audio": {"aac", "alac"},
	},
	models.ContainerMP3: {
		"audio": {"mp3"},
	},
}

func canCopy(container, kind, codec string) bool {
	for _, c := range copyable[container][kind] {
		if c == codec {
			return true
		}
	}
	return false
}

func videoEncoder(container string) string {
	if container == models.ContainerWebM {
		return "libvpx-vp9"
	}
	return "libx264"
}

// Compose drives job from acquired to ready. On failure the job is marked
// failed, its work files are left in place and a ComposerError is returned.
func (c *Composer) Compose(ctx context.Context, job *models.AcquisitionJob, opts models.ComposeOptions) error {
	if !job.Transition(models.JobStateMerging) {
		return models.ComposerError("compose", fmt.Errorf("job %s cannot merge from state %s", job.ID, job.State))
	}

	if err := c.stage(ctx, job, "merge", func(ctx context.Context) error {
		return c.merge(ctx, job, opts)
	}); err != nil {
		err = models.ComposerError("merge", err)
		job.Fail(err)
		return err
	}

	if opts.SubtitleLanguage == "" {
		return c.finish(job, job.MergedPath)
	}

	if job.VideoPath == "" {
		job.SubtitleFallback = true
		c.logger.WithJobID(job.ID).WithField("language", opts.SubtitleLanguage).
			Warn("No video track to burn captions into, shipping audio-only output")
		metrics.RecordSubtitleFallback()
		return c.finish(job, job.MergedPath)
	}

	job.Transition(models.JobStateSubtitleFetch)
	caption, err := c.captions.FetchCaption(ctx, job.SourceURL, opts.SubtitleLanguage, job.WorkDir)
	if err != nil {
		job.SubtitleFallback = true
		log := c.logger.WithJobID(job.ID).WithField("language", opts.SubtitleLanguage)
		if !errors.Is(err, models.ErrNoCaption) {
			log = log.WithError(err)
		}
		log.Warn("Caption unavailable, shipping merged output without subtitles")
		metrics.RecordSubtitleFallback()
		return c.finish(job, job.MergedPath)
	}
	job.SubtitlePath = caption

	job.Transition(models.JobStateSubtitleBurn)
	var burned string
	if err := c.stage(ctx, job, "subtitle_burn", func(ctx context.Context) error {
		var err error
		burned, err = c.burn(ctx, job, opts)
		return err
	}); err != nil {
		err = models.ComposerError("subtitle burn", err)
		job.Fail(err)
		return err
	}

	if err := c.fs.Remove(job.MergedPath); err != nil {
		c.logger.WithJobID(job.ID).WithError(err).Warn("Failed to remove merged intermediate")
	}

	return c.finish(job, burned)
}

func (c *Composer) finish(job *models.AcquisitionJob, output string) error {
	job.OutputPath = output
	job.Transition(models.JobStateReady)
	return nil
}

func (c *Composer) stage(ctx context.Context, job *models.AcquisitionJob, name string, fn func(ctx context.Context) error) error {
	ctx, finish := tracing.StartStage(ctx, name, map[string]interface{}{"job.id": job.ID})
	start := time.Now()

	err := fn(ctx)

	finish(err)
	metrics.RecordStage(name, time.Since(start).Seconds())
	c.logger.LogStage(job.ID, name, time.Since(start), err)
	if err != nil {
		metrics.RecordError("composer", name)
	}
	return err
}

func (c *Composer) merge(ctx context.Context, job *models.AcquisitionJob, opts models.ComposeOptions) error {
	target := opts.TargetContainer
	output := filepath.Join(job.WorkDir, "merged."+target)

	switch {
	case job.VideoPath != "" && job.AudioPath != "":
		video, err := c.ffmpeg.Probe(ctx, job.VideoPath)
		if err != nil {
			return err
		}
		audio, err := c.ffmpeg.Probe(ctx, job.AudioPath)
		if err != nil {
			return err
		}
		err = c.ffmpeg.Merge(ctx, MergeOptions{
			VideoPath:    job.VideoPath,
			AudioPath:    job.AudioPath,
			OutputPath:   output,
			VideoCodec:   c.videoCodec(target, video.Codec("video")),
			AudioCodec:   c.audioCodec(target, audio.Codec("audio"), opts.AudioCodec),
			AudioBitrate: opts.AudioBitrate,
		})
		if err != nil {
			return err
		}

	case job.VideoPath != "":
		if strings.TrimPrefix(filepath.Ext(job.VideoPath), ".") == target {
			job.MergedPath = job.VideoPath
			return nil
		}
		info, err := c.ffmpeg.Probe(ctx, job.VideoPath)
		if err != nil {
			return err
		}
		err = c.ffmpeg.Remux(ctx, MergeOptions{
			VideoPath:    job.VideoPath,
			OutputPath:   output,
			VideoCodec:   c.videoCodec(target, info.Codec("video")),
			AudioCodec:   c.audioCodec(target, info.Codec("audio"), opts.AudioCodec),
			AudioBitrate: opts.AudioBitrate,
		})
		if err != nil {
			return err
		}

	case job.AudioPath != "":
		info, err := c.ffmpeg.Probe(ctx, job.AudioPath)
		if err != nil {
			return err
		}
		codec := c.audioCodec(target, info.Codec("audio"), opts.AudioCodec)
		if err := c.ffmpeg.ConvertAudio(ctx, job.AudioPath, output, codec, opts.AudioBitrate); err != nil {
			return err
		}

	default:
		return errors.New("no acquired streams")
	}

	if err := c.checkOutput(output); err != nil {
		return err
	}
	job.MergedPath = output
	return nil
}

func (c *Composer) burn(ctx context.Context, job *models.AcquisitionJob, opts models.ComposeOptions) (string, error) {
	format := opts.SubtitleFormat
	if format == "" {
		format = "srt"
	}

	subtitle := filepath.Join(job.WorkDir, "caption."+format)
	if err := c.ffmpeg.ConvertSubtitleFormat(ctx, job.SubtitlePath, subtitle, format); err != nil {
		return "", err
	}

	output := filepath.Join(job.WorkDir, "subtitled."+opts.TargetContainer)
	err := c.ffmpeg.BurnSubtitles(ctx, BurnSubtitleOptions{
		InputPath:    job.MergedPath,
		SubtitlePath: subtitle,
		OutputPath:   output,
		VideoCodec:   videoEncoder(opts.TargetContainer),
	})
	if err != nil {
		return "", err
	}

	if err := c.checkOutput(output); err != nil {
		return "", err
	}
	return output, nil
}

func (c *Composer) videoCodec(container, codec string) string {
	if canCopy(container, "video", codec) {
		return "copy"
	}
	return videoEncoder(container)
}

func (c *Composer) audioCodec(container, codec, encoder string) string {
	if canCopy(container, "audio", codec) {
		return "copy"
	}
	return encoder
}

func (c *Composer) checkOutput(path string) error {
	info, err := c.fs.Stat(path)
	if err != nil {
		return fmt.Errorf("output %s missing: %w", filepath.Base(path), err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("output %s is empty", filepath.Base(path))
	}
	return nil
}
