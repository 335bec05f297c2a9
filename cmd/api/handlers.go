package main

import (
	"context"
	"errors"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/afero"

	"github.com/therealutkarshpriyadarshi/mediadrop/internal/logging"
	"github.com/therealutkarshpriyadarshi/mediadrop/internal/metrics"
	"github.com/therealutkarshpriyadarshi/mediadrop/internal/middleware"
	"github.com/therealutkarshpriyadarshi/mediadrop/internal/pipeline"
	"github.com/therealutkarshpriyadarshi/mediadrop/pkg/models"
)

// Pipeline is the set of download operations served over HTTP
type Pipeline interface {
	Info(ctx context.Context, ref models.MediaReference) (*models.Metadata, error)
	Search(ctx context.Context, query string) ([]models.SearchResult, error)
	Download(ctx context.Context, url string, policy models.SelectionPolicy) (*pipeline.Output, error)
	DownloadPlaylist(ctx context.Context, url string, itemLimit int, policy models.SelectionPolicy) (*models.PlaylistResult, error)
	Bundle(ctx context.Context, title string, result *models.PlaylistResult) (models.Artifact, error)
	CatalogSearch(ctx context.Context, query string, limit int) ([]models.CatalogItem, error)
	CatalogInfo(ctx context.Context, rawURL string, itemLimit int) (*models.CatalogItem, error)
	CatalogDownload(ctx context.Context, rawURL string, policy models.SelectionPolicy) (*pipeline.Output, error)
	CatalogPlaylist(ctx context.Context, rawURL string, itemLimit int, policy models.SelectionPolicy) (*models.PlaylistResult, error)
}

// Artifacts serves stored files
type Artifacts interface {
	Open(fileName string) (afero.File, models.Artifact, error)
}

// API holds the handler dependencies
type API struct {
	pipeline  Pipeline
	artifacts Artifacts
	logger    *logging.Logger
	// health checks optional backends such as Redis
	health func(ctx context.Context) error
}

const (
	modeURL    = "url"
	modeBuffer = "buffer"

	bundleLinks   = "links"
	bundleArchive = "archive"

	defaultResolution = 720
)

type artifactResponse struct {
	Title            string    `json:"title,omitempty"`
	FileName         string    `json:"file_name"`
	DownloadURL      string    `json:"download_url"`
	MediaType        string    `json:"media_type"`
	FileSize         int64     `json:"filesize"`
	Resolution       string    `json:"resolution,omitempty"`
	Thumbnail        string    `json:"thumbnail,omitempty"`
	SubtitleFallback bool      `json:"subtitle_fallback"`
	CreatedAt        time.Time `json:"created_at"`
	ExpiresAt        time.Time `json:"expires_at"`
	TTLSeconds       int       `json:"ttl_seconds"`
}

func newArtifactResponse(a models.Artifact) artifactResponse {
	return artifactResponse{
		FileName:    a.FileName,
		DownloadURL: a.DownloadURL,
		MediaType:   a.MediaType,
		FileSize:    a.SizeBytes,
		CreatedAt:   a.CreatedAt,
		ExpiresAt:   a.ExpiresAt(),
		TTLSeconds:  a.TTLSeconds,
	}
}

func newOutputResponse(out *pipeline.Output) artifactResponse {
	resp := newArtifactResponse(out.Artifact)
	resp.Title = out.Title
	resp.Resolution = out.Resolution()
	resp.Thumbnail = out.Thumbnail
	resp.SubtitleFallback = out.SubtitleFallback
	return resp
}

type playlistResponse struct {
	Title       string               `json:"title,omitempty"`
	Requested   int                  `json:"requested"`
	Produced    []artifactResponse   `json:"produced"`
	FailedCount int                  `json:"failed_count"`
	Failures    []models.ItemFailure `json:"failures"`
	Archive     *artifactResponse    `json:"archive,omitempty"`
}

func newPlaylistResponse(result *models.PlaylistResult) playlistResponse {
	resp := playlistResponse{
		Title:       result.Title,
		Requested:   result.Requested,
		Produced:    make([]artifactResponse, 0, len(result.Produced)),
		FailedCount: result.FailedCount,
		Failures:    result.Failures,
	}
	if resp.Failures == nil {
		resp.Failures = []models.ItemFailure{}
	}
	for _, a := range result.Produced {
		resp.Produced = append(resp.Produced, newArtifactResponse(a))
	}
	return resp
}

func setupRouter(api *API, limiter middleware.Limiter, limiterBackend string) *gin.Engine {
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(api.logger))

	router.GET("/health", api.healthCheck)
	router.GET("/files/:name", api.serveFile)

	v1 := router.Group("/api/v1")
	if limiter != nil {
		v1.Use(middleware.RateLimit(limiter, limiterBackend, api.logger))
	}
	{
		v1.GET("/info", api.getInfo)
		v1.GET("/search", api.search)

		v1.GET("/download", api.downloadVideo)
		v1.GET("/download/audio", api.downloadAudio)
		v1.GET("/download/subtitle", api.downloadWithSubtitles)
		v1.GET("/download/playlist", api.downloadPlaylist)

		v1.GET("/catalog/search", api.catalogSearch)
		v1.GET("/catalog/info", api.catalogInfo)
		v1.GET("/catalog/download", api.catalogDownload)
		v1.GET("/catalog/playlist", api.catalogPlaylist)
	}

	return router
}

// Health check endpoint
func (api *API) healthCheck(c *gin.Context) {
	if api.health != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()

		if err := api.health(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  err.Error(),
			})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

func (api *API) getInfo(c *gin.Context) {
	playlist, err := queryBool(c, "playlist", false)
	if err != nil {
		api.respondError(c, err)
		return
	}
	limit, err := queryInt(c, "limit", 0)
	if err != nil {
		api.respondError(c, err)
		return
	}

	var ref models.MediaReference = models.Single{URL: c.Query("url")}
	if playlist {
		ref = models.Playlist{URL: c.Query("url"), ItemLimit: limit}
	}

	meta, err := api.pipeline.Info(c.Request.Context(), ref)
	if err != nil {
		api.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, meta)
}

func (api *API) search(c *gin.Context) {
	results, err := api.pipeline.Search(c.Request.Context(), c.Query("query"))
	if err != nil {
		api.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"results": results})
}

func (api *API) downloadVideo(c *gin.Context) {
	policy, err := videoPolicy(c, "")
	if err != nil {
		api.respondError(c, err)
		return
	}

	out, err := api.pipeline.Download(c.Request.Context(), c.Query("url"), policy)
	api.respondOutput(c, out, err)
}

func (api *API) downloadAudio(c *gin.Context) {
	policy, err := audioPolicy(c)
	if err != nil {
		api.respondError(c, err)
		return
	}

	out, err := api.pipeline.Download(c.Request.Context(), c.Query("url"), policy)
	api.respondOutput(c, out, err)
}

func (api *API) downloadWithSubtitles(c *gin.Context) {
	lang := strings.TrimSpace(c.Query("lang"))
	if lang == "" {
		api.respondError(c, models.ValidationError("download subtitle", "lang is required"))
		return
	}

	policy, err := videoPolicy(c, lang)
	if err != nil {
		api.respondError(c, err)
		return
	}

	out, err := api.pipeline.Download(c.Request.Context(), c.Query("url"), policy)
	api.respondOutput(c, out, err)
}

func (api *API) downloadPlaylist(c *gin.Context) {
	policy, limit, bundle, err := playlistParams(c)
	if err != nil {
		api.respondError(c, err)
		return
	}

	result, err := api.pipeline.DownloadPlaylist(c.Request.Context(), c.Query("url"), limit, policy)
	api.respondPlaylist(c, result, bundle, err)
}

func (api *API) catalogSearch(c *gin.Context) {
	limit, err := queryInt(c, "limit", 0)
	if err != nil {
		api.respondError(c, err)
		return
	}

	items, err := api.pipeline.CatalogSearch(c.Request.Context(), c.Query("query"), limit)
	if err != nil {
		api.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"results": items})
}

func (api *API) catalogInfo(c *gin.Context) {
	limit, err := queryInt(c, "limit", 0)
	if err != nil {
		api.respondError(c, err)
		return
	}

	item, err := api.pipeline.CatalogInfo(c.Request.Context(), c.Query("url"), limit)
	if err != nil {
		api.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, item)
}

func (api *API) catalogDownload(c *gin.Context) {
	policy, err := audioPolicy(c)
	if err != nil {
		api.respondError(c, err)
		return
	}

	out, err := api.pipeline.CatalogDownload(c.Request.Context(), c.Query("url"), policy)
	api.respondOutput(c, out, err)
}

func (api *API) catalogPlaylist(c *gin.Context) {
	limit, err := queryInt(c, "limit", 0)
	if err != nil {
		api.respondError(c, err)
		return
	}
	bundle, err := bundleMode(c)
	if err != nil {
		api.respondError(c, err)
		return
	}
	policy, err := audioPolicy(c)
	if err != nil {
		api.respondError(c, err)
		return
	}

	result, err := api.pipeline.CatalogPlaylist(c.Request.Context(), c.Query("url"), limit, policy)
	api.respondPlaylist(c, result, bundle, err)
}

// serveFile streams a stored artifact. Expired or unknown names are 404.
func (api *API) serveFile(c *gin.Context) {
	f, artifact, err := api.artifacts.Open(c.Param("name"))
	if err != nil {
		api.respondError(c, err)
		return
	}
	defer f.Close()

	c.Header("Content-Type", artifact.MediaType)
	http.ServeContent(c.Writer, c.Request, artifact.FileName, artifact.CreatedAt, f)
}

func (api *API) respondOutput(c *gin.Context, out *pipeline.Output, err error) {
	if err != nil {
		api.respondError(c, err)
		return
	}

	mode := c.DefaultQuery("mode", modeURL)
	if mode != modeBuffer {
		c.JSON(http.StatusOK, newOutputResponse(out))
		return
	}

	f, artifact, err := api.artifacts.Open(out.Artifact.FileName)
	if err != nil {
		api.respondError(c, err)
		return
	}
	defer f.Close()

	c.DataFromReader(http.StatusOK, artifact.SizeBytes, artifact.MediaType, f, map[string]string{
		"Content-Disposition": mime.FormatMediaType("attachment", map[string]string{"filename": artifact.FileName}),
	})
}

func (api *API) respondPlaylist(c *gin.Context, result *models.PlaylistResult, bundle string, err error) {
	if err != nil {
		api.respondError(c, err)
		return
	}

	resp := newPlaylistResponse(result)
	if bundle == bundleArchive && len(result.Produced) > 0 {
		archive, err := api.pipeline.Bundle(c.Request.Context(), result.Title, result)
		if err != nil {
			api.respondError(c, err)
			return
		}
		archiveResp := newArtifactResponse(archive)
		resp.Archive = &archiveResp
	}

	c.JSON(http.StatusOK, resp)
}

// statusFor maps an error kind to its HTTP status
func statusFor(err error) int {
	var e *models.Error
	if !errors.As(err, &e) {
		return http.StatusInternalServerError
	}

	switch e.Kind {
	case models.KindValidation:
		return http.StatusBadRequest
	case models.KindNotFound:
		return http.StatusNotFound
	case models.KindResolution:
		return http.StatusUnprocessableEntity
	case models.KindAcquisition:
		return http.StatusBadGateway
	case models.KindCatalog:
		if e.Status >= 400 && e.Status <= 599 {
			return e.Status
		}
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (api *API) respondError(c *gin.Context, err error) {
	status := statusFor(err)
	kind := string(models.KindOf(err))
	if kind == "" {
		kind = "internal"
	}

	metrics.RecordError("api", kind)
	log := api.logger.WithRequestID(middleware.GetRequestID(c)).WithError(err).WithField("path", c.Request.URL.Path)
	if status >= http.StatusInternalServerError {
		log.Error("Request failed")
	} else {
		log.Warn("Request rejected")
	}

	c.JSON(status, gin.H{"error": err.Error(), "kind": kind})
}

func videoPolicy(c *gin.Context, lang string) (models.SelectionPolicy, error) {
	if err := checkMode(c); err != nil {
		return models.SelectionPolicy{}, err
	}
	height, err := queryInt(c, "resolution", defaultResolution)
	if err != nil {
		return models.SelectionPolicy{}, err
	}

	return models.NewSelectionPolicy(models.PolicyOptions{
		MaxHeight:        height,
		Container:        c.Query("container"),
		SubtitleLanguage: lang,
	})
}

func audioPolicy(c *gin.Context) (models.SelectionPolicy, error) {
	if err := checkMode(c); err != nil {
		return models.SelectionPolicy{}, err
	}

	return models.NewSelectionPolicy(models.PolicyOptions{
		AudioOnly: true,
		Container: c.Query("container"),
	})
}

func playlistParams(c *gin.Context) (models.SelectionPolicy, int, string, error) {
	limit, err := queryInt(c, "limit", 0)
	if err != nil {
		return models.SelectionPolicy{}, 0, "", err
	}
	bundle, err := bundleMode(c)
	if err != nil {
		return models.SelectionPolicy{}, 0, "", err
	}
	audio, err := queryBool(c, "audio", false)
	if err != nil {
		return models.SelectionPolicy{}, 0, "", err
	}

	var policy models.SelectionPolicy
	if audio {
		if c.Query("resolution") != "" {
			return models.SelectionPolicy{}, 0, "", models.ValidationError("playlist", "resolution cannot be combined with audio=true")
		}
		policy, err = audioPolicy(c)
	} else {
		policy, err = videoPolicy(c, "")
	}
	return policy, limit, bundle, err
}

func checkMode(c *gin.Context) error {
	switch mode := c.DefaultQuery("mode", modeURL); mode {
	case modeURL, modeBuffer:
		return nil
	default:
		return models.ValidationError("mode", "mode must be %q or %q, got %q", modeURL, modeBuffer, mode)
	}
}

func bundleMode(c *gin.Context) (string, error) {
	switch bundle := c.DefaultQuery("bundle", bundleLinks); bundle {
	case bundleLinks, bundleArchive:
		return bundle, nil
	default:
		return "", models.ValidationError("bundle", "bundle must be %q or %q, got %q", bundleLinks, bundleArchive, bundle)
	}
}

func queryInt(c *gin.Context, key string, def int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, models.ValidationError(key, "%s must be an integer, got %q", key, raw)
	}
	return v, nil
}

func queryBool(c *gin.Context, key string, def bool) (bool, error) {
	raw := c.Query(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, models.ValidationError(key, "%s must be a boolean, got %q", key, raw)
	}
	return v, nil
}
