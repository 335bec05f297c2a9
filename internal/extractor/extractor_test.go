package extractor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/therealutkarshpriyadarshi/mediadrop/internal/logging"
	"github.com/therealutkarshpriyadarshi/mediadrop/pkg/models"
)

// fakeEngine serves canned dumps and writes fetched formats into an afero fs
type fakeEngine struct {
	mu        sync.Mutex
	fs        afero.Fs
	dumps     map[string]string
	dumpErr   error
	exts      map[string]string // format ID -> file extension
	empty     map[string]bool   // format IDs that produce zero-byte files
	skipWrite map[string]bool   // format IDs that "succeed" without writing
	captions  map[string]string // language -> vtt body
	dumpCalls []DumpOptions
	fetched   []string
}

func newFakeEngine(fs afero.Fs) *fakeEngine {
	return &fakeEngine{
		fs:        fs,
		dumps:     map[string]string{},
		exts:      map[string]string{},
		empty:     map[string]bool{},
		skipWrite: map[string]bool{},
		captions:  map[string]string{},
	}
}

func (f *fakeEngine) Dump(ctx context.Context, url string, opts DumpOptions) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.dumpCalls = append(f.dumpCalls, opts)
	if f.dumpErr != nil {
		return nil, f.dumpErr
	}
	body, ok := f.dumps[url]
	if !ok {
		return nil, fmt.Errorf("ERROR: Unsupported URL: %s", url)
	}
	return []byte(body), nil
}

func (f *fakeEngine) Fetch(ctx context.Context, url, formatID, output string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.fetched = append(f.fetched, formatID)
	if f.skipWrite[formatID] {
		return nil
	}
	ext, ok := f.exts[formatID]
	if !ok {
		return fmt.Errorf("ERROR: requested format %s is not available", formatID)
	}
	path := strings.Replace(output, "%(ext)s", ext, 1)
	content := []byte("data-" + formatID)
	if f.empty[formatID] {
		content = nil
	}
	return afero.WriteFile(f.fs, path, content, 0644)
}

func (f *fakeEngine) FetchCaptions(ctx context.Context, url, lang, format, output string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	body, ok := f.captions[lang]
	if !ok {
		return nil // engine only warns when a language is missing
	}
	return afero.WriteFile(f.fs, output+"."+lang+"."+format, []byte(body), 0644)
}

func height(h int) *float64 {
	v := float64(h)
	return &v
}

func bitrate(b float64) *float64 {
	return &b
}

func dumpJSON(t *testing.T, info rawInfo) string {
	t.Helper()
	data, err := json.Marshal(info)
	require.NoError(t, err)
	return string(data)
}

func newResolver(engine Engine) *Resolver {
	return NewResolver(engine, Limits{DefaultItemLimit: 5, MaxItemLimit: 10, SearchLimit: 5}, logging.NewNopLogger())
}

func TestResolveDeduplicatesHeights(t *testing.T) {
	engine := newFakeEngine(afero.NewMemMapFs())
	url := "https://www.youtube.com/watch?v=abc"
	engine.dumps[url] = dumpJSON(t, rawInfo{
		ID:        "abc",
		Title:     "Clip",
		Duration:  bitrate(212),
		ViewCount: bitrate(1500),
		Thumbnail: "https://i.ytimg.com/vi/abc/hq.jpg",
		Formats: []rawFormat{
			{FormatID: "a1", Ext: "m4a", VCodec: "none", ACodec: "mp4a"},
			{FormatID: "160", Ext: "mp4", Height: height(144), VCodec: "avc1", ACodec: "none"},
			{FormatID: "278", Ext: "webm", Height: height(144), VCodec: "vp9", ACodec: "none"},
			{FormatID: "134", Ext: "mp4", Height: height(360), VCodec: "avc1", ACodec: "none"},
			{FormatID: "136", Ext: "mp4", Height: height(720), VCodec: "avc1", ACodec: "none"},
			{FormatID: "247", Ext: "webm", Height: height(720), VCodec: "vp9", ACodec: "none"},
			{FormatID: "137", Ext: "mp4", Height: height(1080), VCodec: "avc1", ACodec: "none"},
		},
	})

	meta, err := newResolver(engine).Resolve(context.Background(), models.Single{URL: url})
	require.NoError(t, err)

	heights := make([]int, 0, len(meta.Formats))
	for _, f := range meta.Formats {
		heights = append(heights, *f.Height)
	}
	assert.Equal(t, []int{144, 360, 720, 1080}, heights)
	assert.Equal(t, "mp4", meta.Formats[0].Container, "first occurrence wins")
	assert.Equal(t, "Clip", meta.Title)
	assert.Equal(t, 212.0, meta.DurationSeconds)
	assert.EqualValues(t, 1500, meta.Views)
	assert.Equal(t, url, meta.WebpageURL)
	assert.Len(t, meta.Streams, 7)
	assert.False(t, meta.IsPlaylist())
	assert.Equal(t, DumpOptions{}, engine.dumpCalls[0])
}

func TestResolvePlaylistCapsEntries(t *testing.T) {
	engine := newFakeEngine(afero.NewMemMapFs())
	url := "https://www.youtube.com/playlist?list=PL1"

	var entries []rawInfo
	for i := 1; i <= 5; i++ {
		entries = append(entries, rawInfo{ID: fmt.Sprintf("v%d", i), Title: fmt.Sprintf("Item %d", i), URL: fmt.Sprintf("https://www.youtube.com/watch?v=v%d", i)})
	}
	engine.dumps[url] = dumpJSON(t, rawInfo{Type: "playlist", Title: "Mix", Entries: entries})

	meta, err := newResolver(engine).Resolve(context.Background(), models.Playlist{URL: url, ItemLimit: 3})
	require.NoError(t, err)

	require.True(t, meta.IsPlaylist())
	require.Len(t, meta.Entries, 3)
	assert.Equal(t, "https://www.youtube.com/watch?v=v1", meta.Entries[0].SourceURL())
	assert.Equal(t, 3, engine.dumpCalls[0].PlaylistItems)
}

func TestResolvePlaylistKeepsEntriesWithoutURL(t *testing.T) {
	engine := newFakeEngine(afero.NewMemMapFs())
	url := "https://www.youtube.com/playlist?list=PL2"
	engine.dumps[url] = dumpJSON(t, rawInfo{Type: "playlist", Title: "Mix", Entries: []rawInfo{
		{ID: "v1", Title: "Item 1"},
		{Title: "[Private video]"},
		{ID: "v3", Title: "Item 3"},
	}})

	meta, err := newResolver(engine).Resolve(context.Background(), models.Playlist{URL: url, ItemLimit: 3})
	require.NoError(t, err)

	require.Len(t, meta.Entries, 3)
	assert.Equal(t, "https://www.youtube.com/watch?v=v1", meta.Entries[0].SourceURL())
	assert.Empty(t, meta.Entries[1].SourceURL())
	assert.Equal(t, "https://www.youtube.com/watch?v=v3", meta.Entries[2].SourceURL())
}

func TestItemLimit(t *testing.T) {
	r := newResolver(newFakeEngine(afero.NewMemMapFs()))
	assert.Equal(t, 5, r.ItemLimit(0))
	assert.Equal(t, 3, r.ItemLimit(3))
	assert.Equal(t, 10, r.ItemLimit(500))
}

func TestResolveErrors(t *testing.T) {
	engine := newFakeEngine(afero.NewMemMapFs())
	engine.dumps["https://x/notitle"] = `{"id":"x","formats":[]}`
	engine.dumps["https://x/garbage"] = `not json`
	r := newResolver(engine)

	for _, url := range []string{"https://x/missing", "https://x/notitle", "https://x/garbage"} {
		_, err := r.Resolve(context.Background(), models.Single{URL: url})
		assert.True(t, errors.Is(err, models.ErrResolution), url)
	}

	engine.dumpErr = context.DeadlineExceeded
	_, err := r.Resolve(context.Background(), models.Single{URL: "https://x/slow"})
	assert.True(t, errors.Is(err, models.ErrResolution))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestSearch(t *testing.T) {
	engine := newFakeEngine(afero.NewMemMapFs())
	engine.dumps["ytsearch5:lofi beats"] = dumpJSON(t, rawInfo{
		Type:  "playlist",
		Title: "lofi beats",
		Entries: []rawInfo{
			{ID: "a", Title: "Lofi A", URL: "https://www.youtube.com/watch?v=a"},
			{ID: "b", Title: "Lofi B"},
			{Title: "No id"},
		},
	})
	r := newResolver(engine)

	results, err := r.Search(context.Background(), "  lofi beats ")
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, models.SearchResult{Title: "Lofi A", URL: "https://www.youtube.com/watch?v=a", ID: "a"}, results[0])
	assert.Equal(t, "https://www.youtube.com/watch?v=b", results[1].URL)

	first, err := r.FirstHit(context.Background(), "lofi beats")
	require.NoError(t, err)
	assert.Equal(t, "https://www.youtube.com/watch?v=a", first)

	_, err = r.Search(context.Background(), " ")
	assert.True(t, errors.Is(err, models.ErrValidation))
}

func intp(v int) *int { return &v }

func videoStream(id, ext string, h int, tbr float64) models.Stream {
	return models.Stream{FormatID: id, Container: ext, Height: intp(h), VideoCodec: "avc1", AudioCodec: "none", Bitrate: tbr}
}

func audioStream(id, ext string, abr float64) models.Stream {
	return models.Stream{FormatID: id, Container: ext, VideoCodec: "none", AudioCodec: "mp4a", Bitrate: abr}
}

func combinedStream(id, ext string, h int, tbr float64) models.Stream {
	return models.Stream{FormatID: id, Container: ext, Height: intp(h), VideoCodec: "avc1", AudioCodec: "mp4a", Bitrate: tbr}
}

func TestSelectStreams(t *testing.T) {
	streams := []models.Stream{
		videoStream("134", "mp4", 360, 300),
		videoStream("135", "mp4", 480, 600),
		videoStream("135b", "mp4", 480, 900),
		videoStream("136", "mp4", 720, 1200),
		videoStream("244", "webm", 480, 500),
		audioStream("140", "m4a", 128),
		audioStream("251", "webm", 160),
	}

	tests := []struct {
		name      string
		streams   []models.Stream
		policy    models.SelectionPolicy
		tier      string
		height    int
		videoID   string
		audioID   string
		wantError bool
	}{
		{
			name:    "exact mp4 at 480",
			streams: streams,
			policy:  models.SelectionPolicy{MaxHeight: 480, PreferredContainer: "mp4"},
			tier:    TierExact, height: 480, videoID: "135b", audioID: "140",
		},
		{
			name:    "exact webm pairs webm audio",
			streams: streams,
			policy:  models.SelectionPolicy{MaxHeight: 1080, PreferredContainer: "webm"},
			tier:    TierExact, height: 480, videoID: "244", audioID: "251",
		},
		{
			name:    "between heights picks the lower",
			streams: streams,
			policy:  models.SelectionPolicy{MaxHeight: 700, PreferredContainer: "mp4"},
			tier:    TierExact, height: 480, videoID: "135b", audioID: "140",
		},
		{
			name: "relaxed combined stream",
			streams: []models.Stream{
				videoStream("137", "mp4", 1080, 4000),
				combinedStream("18", "mp4", 360, 500),
				combinedStream("43", "webm", 360, 700),
				audioStream("251", "webm", 160),
			},
			policy: models.SelectionPolicy{MaxHeight: 720, PreferredContainer: "mp4"},
			tier:   TierRelaxed, height: 360, videoID: "18",
		},
		{
			name: "relaxed separate tracks in another container",
			streams: []models.Stream{
				videoStream("244", "webm", 480, 500),
				audioStream("140", "m4a", 128),
			},
			policy: models.SelectionPolicy{MaxHeight: 720, PreferredContainer: "webm"},
			tier:   TierRelaxed, height: 480, videoID: "244", audioID: "140",
		},
		{
			name:    "no video under the limit falls back to audio",
			streams: []models.Stream{videoStream("137", "mp4", 1080, 4000), audioStream("140", "m4a", 128)},
			policy:  models.SelectionPolicy{MaxHeight: 720, PreferredContainer: "mp4"},
			tier:    TierAudioOnly, height: 0, audioID: "140",
		},
		{
			name:      "nothing under the limit and no audio",
			streams:   []models.Stream{videoStream("137", "mp4", 1080, 4000)},
			policy:    models.SelectionPolicy{MaxHeight: 720, PreferredContainer: "mp4"},
			wantError: true,
		},
		{
			name:    "audio only picks highest bitrate",
			streams: streams,
			policy:  models.SelectionPolicy{AudioOnly: true, PreferredContainer: "mp3"},
			tier:    TierAudioOnly, audioID: "251",
		},
		{
			name:      "audio only without audio",
			streams:   []models.Stream{videoStream("137", "mp4", 1080, 4000)},
			policy:    models.SelectionPolicy{AudioOnly: true, PreferredContainer: "mp3"},
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sel, err := SelectStreams(tt.streams, tt.policy)
			if tt.wantError {
				assert.True(t, errors.Is(err, models.ErrAcquisition))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.tier, sel.Tier)
			assert.Equal(t, tt.height, sel.Height())
			if tt.policy.MaxHeight > 0 {
				assert.LessOrEqual(t, sel.Height(), tt.policy.MaxHeight)
			}

			video := sel.Video
			if sel.Combined != nil {
				video = sel.Combined
			}
			if tt.videoID != "" {
				require.NotNil(t, video)
				assert.Equal(t, tt.videoID, video.FormatID)
			}
			if tt.audioID != "" {
				require.NotNil(t, sel.Audio)
				assert.Equal(t, tt.audioID, sel.Audio.FormatID)
			}
		})
	}
}

func TestAcquireSelectsRequestedHeight(t *testing.T) {
	fs := afero.NewMemMapFs()
	engine := newFakeEngine(fs)
	engine.exts = map[string]string{"134": "mp4", "135": "mp4", "136": "mp4", "140": "m4a"}

	meta := &models.Metadata{
		Title:      "Clip",
		WebpageURL: "https://www.youtube.com/watch?v=abc",
		Streams: []models.Stream{
			videoStream("134", "mp4", 360, 300),
			videoStream("135", "mp4", 480, 600),
			videoStream("136", "mp4", 720, 1200),
			audioStream("140", "m4a", 128),
		},
	}
	policy, err := models.NewSelectionPolicy(models.PolicyOptions{MaxHeight: 480})
	require.NoError(t, err)

	acq := NewAcquirer(engine, fs, logging.NewNopLogger())
	result, err := acq.Acquire(context.Background(), meta, policy, "/tmp/job-1")
	require.NoError(t, err)

	assert.Equal(t, 480, result.Selection.Height())
	assert.Equal(t, filepath.Join("/tmp/job-1", "video.mp4"), result.VideoPath)
	assert.Equal(t, filepath.Join("/tmp/job-1", "audio.m4a"), result.AudioPath)
	assert.Equal(t, []string{"135", "140"}, engine.fetched)
}

func TestAcquireChecksFiles(t *testing.T) {
	meta := &models.Metadata{
		Title:      "Song",
		WebpageURL: "https://www.youtube.com/watch?v=s",
		Streams:    []models.Stream{audioStream("140", "m4a", 128)},
	}
	policy := models.SelectionPolicy{AudioOnly: true, PreferredContainer: "mp3"}

	t.Run("missing file", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		engine := newFakeEngine(fs)
		engine.skipWrite["140"] = true

		_, err := NewAcquirer(engine, fs, logging.NewNopLogger()).Acquire(context.Background(), meta, policy, "/tmp/j")
		assert.True(t, errors.Is(err, models.ErrAcquisition))
	})

	t.Run("empty file", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		engine := newFakeEngine(fs)
		engine.exts["140"] = "m4a"
		engine.empty["140"] = true

		_, err := NewAcquirer(engine, fs, logging.NewNopLogger()).Acquire(context.Background(), meta, policy, "/tmp/j")
		assert.True(t, errors.Is(err, models.ErrAcquisition))
	})

	t.Run("engine failure", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		engine := newFakeEngine(fs)

		_, err := NewAcquirer(engine, fs, logging.NewNopLogger()).Acquire(context.Background(), meta, policy, "/tmp/j")
		assert.True(t, errors.Is(err, models.ErrAcquisition))
	})
}

func TestFetchCaption(t *testing.T) {
	fs := afero.NewMemMapFs()
	engine := newFakeEngine(fs)
	engine.captions["en"] = "WEBVTT\n\n00:00.000 --> 00:01.000\nhello\n"
	acq := NewAcquirer(engine, fs, logging.NewNopLogger())

	path, err := acq.FetchCaption(context.Background(), "https://x", "en", "/tmp/j")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/j/caption.en.vtt", path)

	_, err = acq.FetchCaption(context.Background(), "https://x", "fr", "/tmp/k")
	assert.ErrorIs(t, err, models.ErrNoCaption)
}
