package extractor

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"

	"github.com/therealutkarshpriyadarshi/mediadrop/internal/logging"
	"github.com/therealutkarshpriyadarshi/mediadrop/pkg/models"
)

// Selection tiers
const (
	TierExact     = "exact"
	TierRelaxed   = "relaxed"
	TierAudioOnly = "audio_only"
)

// Selection is the set of streams chosen for one item
type Selection struct {
	Tier string
	// Video and Audio are separate tracks to be merged; Combined carries both
	Video    *models.Stream
	Audio    *models.Stream
	Combined *models.Stream
}

// Height returns the chosen video height, or 0 for audio-only selections
func (s Selection) Height() int {
	for _, st := range []*models.Stream{s.Video, s.Combined} {
		if st != nil && st.Height != nil {
			return *st.Height
		}
	}
	return 0
}

// Acquisition lists the files fetched for one item
type Acquisition struct {
	Selection Selection
	VideoPath string
	AudioPath string
}

// compatibleAudio lists audio containers that mux into a video container without re-encoding
var compatibleAudio = map[string][]string{
	models.ContainerMP4:  {models.ContainerM4A, models.ContainerMP4},
	models.ContainerWebM: {models.ContainerWebM, "opus"},
}

// SelectStreams picks streams for policy from the engine's offer. Video
// selections never exceed the policy's max height; when no video stream fits,
// the best audio stream is selected with TierAudioOnly.
func SelectStreams(streams []models.Stream, policy models.SelectionPolicy) (Selection, error) {
	if policy.AudioOnly {
		return selectAudio(streams)
	}

	limit := policy.MaxHeight
	withinLimit := func(s models.Stream) bool {
		return s.Height != nil && *s.Height <= limit
	}

	var videoOnly, audioOnly, combined []models.Stream
	for _, s := range streams {
		switch {
		case s.HasVideo() && s.HasAudio() && withinLimit(s):
			combined = append(combined, s)
		case s.HasVideo() && !s.HasAudio() && withinLimit(s):
			videoOnly = append(videoOnly, s)
		case s.HasAudio() && !s.HasVideo():
			audioOnly = append(audioOnly, s)
		}
	}

	// Exact: separate tracks in the preferred container family
	preferredVideo := filterContainer(videoOnly, policy.PreferredContainer)
	compatible := filterContainer(audioOnly, compatibleAudio[policy.PreferredContainer]...)
	if len(preferredVideo) > 0 && len(compatible) > 0 {
		return Selection{
			Tier:  TierExact,
			Video: bestVideo(preferredVideo),
			Audio: bestAudio(compatible),
		}, nil
	}

	// Relaxed: a combined stream, preferred container first
	if len(combined) > 0 {
		if preferred := filterContainer(combined, policy.PreferredContainer); len(preferred) > 0 {
			return Selection{Tier: TierRelaxed, Combined: bestVideo(preferred)}, nil
		}
		return Selection{Tier: TierRelaxed, Combined: bestVideo(combined)}, nil
	}

	// Relaxed: separate tracks in any container, normalized by the composer
	if len(videoOnly) > 0 && len(audioOnly) > 0 {
		return Selection{
			Tier:  TierRelaxed,
			Video: bestVideo(videoOnly),
			Audio: bestAudio(audioOnly),
		}, nil
	}

	// Audio-only: no video within the limit, so ship the sound track alone
	if selection, err := selectAudio(streams); err == nil {
		return selection, nil
	}

	return Selection{}, models.AcquisitionError("select",
		fmt.Errorf("no stream at or below %dp", policy.MaxHeight))
}

func selectAudio(streams []models.Stream) (Selection, error) {
	var audioOnly, anyAudio []models.Stream
	for _, s := range streams {
		if !s.HasAudio() {
			continue
		}
		anyAudio = append(anyAudio, s)
		if !s.HasVideo() {
			audioOnly = append(audioOnly, s)
		}
	}

	switch {
	case len(audioOnly) > 0:
		return Selection{Tier: TierAudioOnly, Audio: bestAudio(audioOnly)}, nil
	case len(anyAudio) > 0:
		return Selection{Tier: TierAudioOnly, Audio: bestAudio(anyAudio)}, nil
	}
	return Selection{}, models.AcquisitionError("select", errors.New("no stream carries audio"))
}

func filterContainer(streams []models.Stream, containers ...string) []models.Stream {
	var out []models.Stream
	for _, s := range streams {
		for _, c := range containers {
			if strings.EqualFold(s.Container, c) {
				out = append(out, s)
				break
			}
		}
	}
	return out
}

// bestVideo prefers height, then bitrate; ties keep engine order
func bestVideo(streams []models.Stream) *models.Stream {
	sorted := append([]models.Stream(nil), streams...)
	sort.SliceStable(sorted, func(i, j int) bool {
		hi, hj := *sorted[i].Height, *sorted[j].Height
		if hi != hj {
			return hi > hj
		}
		return sorted[i].Bitrate > sorted[j].Bitrate
	})
	return &sorted[0]
}

func bestAudio(streams []models.Stream) *models.Stream {
	sorted := append([]models.Stream(nil), streams...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Bitrate > sorted[j].Bitrate
	})
	return &sorted[0]
}

// Acquirer fetches selected streams into a job's work directory
type Acquirer struct {
	engine Engine
	fs     afero.Fs
	logger *logging.Logger
}

// NewAcquirer creates an acquirer writing through fs
func NewAcquirer(engine Engine, fs afero.Fs, logger *logging.Logger) *Acquirer {
	return &Acquirer{engine: engine, fs: fs, logger: logger.WithComponent("acquirer")}
}

// Acquire selects streams from meta and downloads them into workDir
func (a *Acquirer) Acquire(ctx context.Context, meta *models.Metadata, policy models.SelectionPolicy, workDir string) (*Acquisition, error) {
	selection, err := SelectStreams(meta.Streams, policy)
	if err != nil {
		return nil, err
	}

	a.logger.Infof("Selected %s streams for %q (height %d)", selection.Tier, meta.Title, selection.Height())

	if err := a.fs.MkdirAll(workDir, 0755); err != nil {
		return nil, models.AcquisitionError("acquire", fmt.Errorf("failed to create work dir: %w", err))
	}

	result := &Acquisition{Selection: selection}
	switch {
	case selection.Combined != nil:
		result.VideoPath, err = a.fetch(ctx, meta.WebpageURL, *selection.Combined, workDir, "media")
	case selection.Video != nil:
		result.VideoPath, err = a.fetch(ctx, meta.WebpageURL, *selection.Video, workDir, "video")
		if err == nil {
			result.AudioPath, err = a.fetch(ctx, meta.WebpageURL, *selection.Audio, workDir, "audio")
		}
	default:
		result.AudioPath, err = a.fetch(ctx, meta.WebpageURL, *selection.Audio, workDir, "audio")
	}
	if err != nil {
		return nil, err
	}

	return result, nil
}

func (a *Acquirer) fetch(ctx context.Context, url string, stream models.Stream, workDir, name string) (string, error) {
	template := filepath.Join(workDir, name+".%(ext)s")
	if err := a.engine.Fetch(ctx, url, stream.FormatID, template); err != nil {
		return "", models.AcquisitionError("fetch", fmt.Errorf("format %s: %w", stream.FormatID, err))
	}

	path := filepath.Join(workDir, name+"."+stream.Container)
	info, err := a.fs.Stat(path)
	if err != nil {
		return "", models.AcquisitionError("fetch", fmt.Errorf("engine reported success but %s is missing: %w", filepath.Base(path), err))
	}
	if info.Size() == 0 {
		return "", models.AcquisitionError("fetch", fmt.Errorf("engine produced an empty %s", filepath.Base(path)))
	}
	return path, nil
}

// FetchCaption downloads the caption track for lang into dir as WebVTT.
// It returns models.ErrNoCaption when the source has none.
func (a *Acquirer) FetchCaption(ctx context.Context, url, lang, dir string) (string, error) {
	if err := a.engine.FetchCaptions(ctx, url, lang, "vtt", filepath.Join(dir, "caption")); err != nil {
		return "", models.AcquisitionError("fetch caption", err)
	}

	matches, err := afero.Glob(a.fs, filepath.Join(dir, "caption.*.vtt"))
	if err != nil {
		return "", models.AcquisitionError("fetch caption", err)
	}
	if len(matches) == 0 {
		return "", models.ErrNoCaption
	}

	sort.Strings(matches)
	exact := filepath.Join(dir, "caption."+lang+".vtt")
	for _, m := range matches {
		if m == exact {
			return m, nil
		}
	}
	return matches[0], nil
}
