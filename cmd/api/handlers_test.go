package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/therealutkarshpriyadarshi/mediadrop/internal/logging"
	"github.com/therealutkarshpriyadarshi/mediadrop/internal/middleware"
	"github.com/therealutkarshpriyadarshi/mediadrop/internal/pipeline"
	"github.com/therealutkarshpriyadarshi/mediadrop/internal/scheduler"
	"github.com/therealutkarshpriyadarshi/mediadrop/internal/storage"
	"github.com/therealutkarshpriyadarshi/mediadrop/pkg/models"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type mockPipeline struct {
	mock.Mock
}

func (m *mockPipeline) Info(ctx context.Context, ref models.MediaReference) (*models.Metadata, error) {
	args := m.Called(ref)
	meta, _ := args.Get(0).(*models.Metadata)
	return meta, args.Error(1)
}

func (m *mockPipeline) Search(ctx context.Context, query string) ([]models.SearchResult, error) {
	args := m.Called(query)
	results, _ := args.Get(0).([]models.SearchResult)
	return results, args.Error(1)
}

func (m *mockPipeline) Download(ctx context.Context, url string, policy models.SelectionPolicy) (*pipeline.Output, error) {
	args := m.Called(url, policy)
	out, _ := args.Get(0).(*pipeline.Output)
	return out, args.Error(1)
}

func (m *mockPipeline) DownloadPlaylist(ctx context.Context, url string, itemLimit int, policy models.SelectionPolicy) (*models.PlaylistResult, error) {
	args := m.Called(url, itemLimit, policy)
	result, _ := args.Get(0).(*models.PlaylistResult)
	return result, args.Error(1)
}

func (m *mockPipeline) Bundle(ctx context.Context, title string, result *models.PlaylistResult) (models.Artifact, error) {
	args := m.Called(title, result)
	return args.Get(0).(models.Artifact), args.Error(1)
}

func (m *mockPipeline) CatalogSearch(ctx context.Context, query string, limit int) ([]models.CatalogItem, error) {
	args := m.Called(query, limit)
	items, _ := args.Get(0).([]models.CatalogItem)
	return items, args.Error(1)
}

func (m *mockPipeline) CatalogInfo(ctx context.Context, rawURL string, itemLimit int) (*models.CatalogItem, error) {
	args := m.Called(rawURL, itemLimit)
	item, _ := args.Get(0).(*models.CatalogItem)
	return item, args.Error(1)
}

func (m *mockPipeline) CatalogDownload(ctx context.Context, rawURL string, policy models.SelectionPolicy) (*pipeline.Output, error) {
	args := m.Called(rawURL, policy)
	out, _ := args.Get(0).(*pipeline.Output)
	return out, args.Error(1)
}

func (m *mockPipeline) CatalogPlaylist(ctx context.Context, rawURL string, itemLimit int, policy models.SelectionPolicy) (*models.PlaylistResult, error) {
	args := m.Called(rawURL, itemLimit, policy)
	result, _ := args.Get(0).(*models.PlaylistResult)
	return result, args.Error(1)
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type apiEnv struct {
	pipeline *mockPipeline
	store    *storage.Store
	fs       afero.Fs
	clock    *clock
	deferred *scheduler.Deferred
	router   *gin.Engine
	api      *API
}

func newAPIEnv(t *testing.T, limiter middleware.Limiter) *apiEnv {
	t.Helper()

	logger := logging.NewNopLogger()
	fs := afero.NewMemMapFs()
	clk := &clock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
	deferred := scheduler.NewDeferred(time.Hour, logger, scheduler.WithClock(clk.Now))

	store, err := storage.New(fs, storage.Config{
		Root:      "/srv/output",
		BaseURL:   "http://localhost:8080",
		Retention: 600 * time.Second,
	}, deferred, logger, storage.WithClock(clk.Now))
	require.NoError(t, err)

	p := new(mockPipeline)
	api := &API{pipeline: p, artifacts: store, logger: logger}

	return &apiEnv{
		pipeline: p,
		store:    store,
		fs:       fs,
		clock:    clk,
		deferred: deferred,
		router:   setupRouter(api, limiter, "memory"),
		api:      api,
	}
}

func (e *apiEnv) get(path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	e.router.ServeHTTP(w, req)
	return w
}

func (e *apiEnv) putArtifact(t *testing.T, name, content string) models.Artifact {
	t.Helper()
	src := "/work/" + name
	require.NoError(t, afero.WriteFile(e.fs, src, []byte(content), 0644))
	artifact, err := e.store.Put(context.Background(), name, src)
	require.NoError(t, err)
	require.True(t, e.store.ScheduleEviction(artifact, e.store.Retention()))
	return artifact
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func videoPolicyFor(t *testing.T, height int, container, lang string) models.SelectionPolicy {
	t.Helper()
	p, err := models.NewSelectionPolicy(models.PolicyOptions{MaxHeight: height, Container: container, SubtitleLanguage: lang})
	require.NoError(t, err)
	return p
}

func audioPolicyFor(t *testing.T, container string) models.SelectionPolicy {
	t.Helper()
	p, err := models.NewSelectionPolicy(models.PolicyOptions{AudioOnly: true, Container: container})
	require.NoError(t, err)
	return p
}

func TestHealthCheck(t *testing.T) {
	env := newAPIEnv(t, nil)

	w := env.get("/health")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", decode(t, w)["status"])

	env.api.health = func(ctx context.Context) error { return errors.New("redis down") }
	w = env.get("/health")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "unhealthy", decode(t, w)["status"])
}

func TestDownloadReturnsArtifactLink(t *testing.T) {
	env := newAPIEnv(t, nil)
	artifact := env.putArtifact(t, "Clip_720p.mp4", "video-bytes")

	env.pipeline.On("Download", "https://video.example.com/watch?v=1", videoPolicyFor(t, 720, "mp4", "")).
		Return(&pipeline.Output{Artifact: artifact, Title: "Clip", Height: 720, Thumbnail: "https://img/1.jpg"}, nil)

	w := env.get("/api/v1/download?url=https%3A%2F%2Fvideo.example.com%2Fwatch%3Fv%3D1")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	body := decode(t, w)
	assert.Equal(t, "Clip", body["title"])
	assert.Equal(t, "Clip_720p.mp4", body["file_name"])
	assert.Equal(t, "http://localhost:8080/files/Clip_720p.mp4", body["download_url"])
	assert.Equal(t, "video/mp4", body["media_type"])
	assert.Equal(t, "720p", body["resolution"])
	assert.EqualValues(t, 600, body["ttl_seconds"])
	assert.EqualValues(t, len("video-bytes"), body["filesize"])
	assert.Equal(t, false, body["subtitle_fallback"])
	env.pipeline.AssertExpectations(t)
}

func TestDownloadBufferModeStreamsBytes(t *testing.T) {
	env := newAPIEnv(t, nil)
	artifact := env.putArtifact(t, "Song.mp3", "mp3-bytes")

	env.pipeline.On("Download", "https://video.example.com/a", audioPolicyFor(t, "mp3")).
		Return(&pipeline.Output{Artifact: artifact, Title: "Song"}, nil)

	w := env.get("/api/v1/download/audio?url=https://video.example.com/a&mode=buffer")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	assert.Equal(t, "mp3-bytes", w.Body.String())
	assert.Equal(t, "audio/mpeg", w.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename=Song.mp3`, w.Header().Get("Content-Disposition"))
}

func TestDownloadWithSubtitlesPassesLanguage(t *testing.T) {
	env := newAPIEnv(t, nil)
	artifact := env.putArtifact(t, "Talk_480p.webm", "webm")

	env.pipeline.On("Download", "https://video.example.com/t", videoPolicyFor(t, 480, "webm", "en")).
		Return(&pipeline.Output{Artifact: artifact, Title: "Talk", Height: 480, SubtitleFallback: true}, nil)

	w := env.get("/api/v1/download/subtitle?url=https://video.example.com/t&resolution=480&container=webm&lang=en")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, true, decode(t, w)["subtitle_fallback"])
}

func TestRequestValidation(t *testing.T) {
	tests := []struct {
		name string
		path string
	}{
		{"bad mode", "/api/v1/download?url=https://x/y&mode=stream"},
		{"non-numeric resolution", "/api/v1/download?url=https://x/y&resolution=hd"},
		{"zero resolution", "/api/v1/download?url=https://x/y&resolution=0"},
		{"audio container for video", "/api/v1/download?url=https://x/y&container=mp3"},
		{"subtitle without lang", "/api/v1/download/subtitle?url=https://x/y"},
		{"bad bundle", "/api/v1/download/playlist?url=https://x/y&bundle=tar"},
		{"audio playlist with resolution", "/api/v1/download/playlist?url=https://x/y&audio=true&resolution=720"},
		{"bad bool", "/api/v1/info?url=https://x/y&playlist=maybe"},
		{"bad limit", "/api/v1/catalog/search?query=a&limit=ten"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newAPIEnv(t, nil)
			w := env.get(tt.path)
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
			assert.Equal(t, "validation", decode(t, w)["kind"])
			env.pipeline.AssertNotCalled(t, "Download", mock.Anything, mock.Anything)
			env.pipeline.AssertNotCalled(t, "DownloadPlaylist", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestInfoPlaylistReference(t *testing.T) {
	env := newAPIEnv(t, nil)
	meta := &models.Metadata{
		Title:   "Mix",
		Entries: []models.MediaReference{models.Single{URL: "https://x/1"}},
	}
	env.pipeline.On("Info", models.Playlist{URL: "https://x/list", ItemLimit: 3}).Return(meta, nil)

	w := env.get("/api/v1/info?url=https://x/list&playlist=true&limit=3")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	body := decode(t, w)
	assert.Equal(t, "Mix", body["title"])
	assert.Len(t, body["entries"], 1)
}

func TestSearch(t *testing.T) {
	env := newAPIEnv(t, nil)
	env.pipeline.On("Search", "lofi beats").Return([]models.SearchResult{{Title: "Lofi"}}, nil)

	w := env.get("/api/v1/search?query=lofi+beats")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["results"], 1)
}

func TestPlaylistArchiveBundle(t *testing.T) {
	env := newAPIEnv(t, nil)
	first := env.putArtifact(t, "One_720p.mp4", "1")
	archive := env.putArtifact(t, "Mix_0a1b2c3d.zip", "zip")

	result := &models.PlaylistResult{
		Title:       "Mix",
		Requested:   2,
		Produced:    []models.Artifact{first},
		FailedCount: 1,
		Failures:    []models.ItemFailure{{Index: 1, Label: "Two", Kind: "acquisition", Error: "boom"}},
	}
	env.pipeline.On("DownloadPlaylist", "https://x/list", 2, videoPolicyFor(t, 720, "mp4", "")).Return(result, nil)
	env.pipeline.On("Bundle", "Mix", result).Return(archive, nil)

	w := env.get("/api/v1/download/playlist?url=https://x/list&limit=2&bundle=archive")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var body playlistResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Requested)
	assert.Equal(t, 1, body.FailedCount)
	require.Len(t, body.Produced, 1)
	require.NotNil(t, body.Archive)
	assert.Equal(t, "Mix_0a1b2c3d.zip", body.Archive.FileName)
	assert.Equal(t, "application/zip", body.Archive.MediaType)
	env.pipeline.AssertExpectations(t)
}

func TestPlaylistLinksSkipsBundle(t *testing.T) {
	env := newAPIEnv(t, nil)
	result := &models.PlaylistResult{Requested: 1, FailedCount: 1}
	env.pipeline.On("DownloadPlaylist", "https://x/list", 0, audioPolicyFor(t, "mp3")).Return(result, nil)

	w := env.get("/api/v1/download/playlist?url=https://x/list&audio=true")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	body := decode(t, w)
	assert.Empty(t, body["produced"])
	assert.Empty(t, body["failures"])
	assert.NotContains(t, body, "archive")
	env.pipeline.AssertNotCalled(t, "Bundle", mock.Anything, mock.Anything)
}

func TestCatalogEndpoints(t *testing.T) {
	env := newAPIEnv(t, nil)
	artifact := env.putArtifact(t, "Track.mp3", "mp3")

	env.pipeline.On("CatalogSearch", "daft punk", 2).Return([]models.CatalogItem{{Type: models.CatalogTrack, Title: "One More Time"}}, nil)
	env.pipeline.On("CatalogInfo", "https://open.spotify.com/album/abc", 0).Return(&models.CatalogItem{Type: models.CatalogAlbum, Title: "Discovery"}, nil)
	env.pipeline.On("CatalogDownload", "https://open.spotify.com/track/t1", audioPolicyFor(t, "m4a")).
		Return(&pipeline.Output{Artifact: artifact, Title: "Track"}, nil)

	w := env.get("/api/v1/catalog/search?query=daft+punk&limit=2")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Len(t, decode(t, w)["results"], 1)

	w = env.get("/api/v1/catalog/info?url=https://open.spotify.com/album/abc")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = env.get("/api/v1/catalog/download?url=https://open.spotify.com/track/t1&container=m4a")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "audio", decode(t, w)["resolution"])
	env.pipeline.AssertExpectations(t)
}

func TestErrorStatusMapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{models.ValidationError("op", "bad"), http.StatusBadRequest},
		{models.NotFoundError("open", "x.mp4"), http.StatusNotFound},
		{models.ResolutionError("resolve", errors.New("private video")), http.StatusUnprocessableEntity},
		{models.AcquisitionError("fetch", errors.New("403")), http.StatusBadGateway},
		{models.ComposerError("merge", errors.New("ffmpeg")), http.StatusInternalServerError},
		{models.CatalogError("track", http.StatusForbidden, errors.New("forbidden")), http.StatusForbidden},
		{models.CatalogError("catalog", http.StatusServiceUnavailable, errors.New("disabled")), http.StatusServiceUnavailable},
		{models.CatalogError("track", 0, errors.New("dial")), http.StatusBadGateway},
		{errors.New("plain"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}

func TestPipelineErrorResponse(t *testing.T) {
	env := newAPIEnv(t, nil)
	env.pipeline.On("Download", "https://x/gone", mock.Anything).
		Return(nil, models.ResolutionError("resolve", errors.New("video unavailable")))

	w := env.get("/api/v1/download?url=https://x/gone")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	body := decode(t, w)
	assert.Equal(t, "resolution", body["kind"])
	assert.Contains(t, body["error"], "video unavailable")
}

func TestServeFileUntilEviction(t *testing.T) {
	env := newAPIEnv(t, nil)
	env.putArtifact(t, "Clip_720p.mp4", "video-bytes")

	w := env.get("/files/Clip_720p.mp4")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "video/mp4", w.Header().Get("Content-Type"))
	data, _ := io.ReadAll(w.Body)
	assert.Equal(t, "video-bytes", string(data))

	env.clock.Advance(600*time.Second + time.Second)
	env.deferred.RunDue()

	w = env.get("/files/Clip_720p.mp4")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_found", decode(t, w)["kind"])
}

func TestServeFileRejectsHiddenNames(t *testing.T) {
	env := newAPIEnv(t, nil)

	w := env.get("/files/.staging")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRateLimitedRoutes(t *testing.T) {
	env := newAPIEnv(t, middleware.NewRateLimiter(1, 1))
	env.pipeline.On("Search", "a").Return([]models.SearchResult{}, nil)

	assert.Equal(t, http.StatusOK, env.get("/api/v1/search?query=a").Code)
	assert.Equal(t, http.StatusTooManyRequests, env.get("/api/v1/search?query=a").Code)

	// health and file routes are outside the limited group
	assert.Equal(t, http.StatusOK, env.get("/health").Code)
}
