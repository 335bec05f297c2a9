// Package catalog resolves music-catalog links into tracks that can be
// searched for on the hosting service.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/samber/lo"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/therealutkarshpriyadarshi/mediadrop/internal/config"
	"github.com/therealutkarshpriyadarshi/mediadrop/internal/logging"
	"github.com/therealutkarshpriyadarshi/mediadrop/internal/metrics"
	"github.com/therealutkarshpriyadarshi/mediadrop/pkg/models"
)

const (
	DefaultBaseURL  = "https://api.spotify.com/v1"
	DefaultTokenURL = "https://accounts.spotify.com/api/token"

	maxPageSize = 50
)

type artist struct {
	Name string `json:"name"`
}

type track struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Artists    []artist `json:"artists"`
	DurationMS int      `json:"duration_ms"`
}

type page[T any] struct {
	Items []T     `json:"items"`
	Total int     `json:"total"`
	Next  *string `json:"next"`
}

type album struct {
	ID      string      `json:"id"`
	Name    string      `json:"name"`
	Artists []artist    `json:"artists"`
	Tracks  page[track] `json:"tracks"`
}

// playlistEntry.Track is nil for removed or local tracks
type playlistEntry struct {
	Track *track `json:"track"`
}

type playlist struct {
	ID     string              `json:"id"`
	Name   string              `json:"name"`
	Tracks page[playlistEntry] `json:"tracks"`
}

type apiError struct {
	Error struct {
		Status  int    `json:"status"`
		Message string `json:"message"`
	} `json:"error"`
}

// Client talks to the Spotify Web API with an app-only token
type Client struct {
	http     *http.Client
	baseURL  string
	pageSize int
	logger   *logging.Logger
}

// New creates a catalog client. Tokens are fetched and refreshed on demand.
func New(cfg config.CatalogConfig, logger *logging.Logger) (*Client, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("missing catalog client credentials")
	}

	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		tokenURL = DefaultTokenURL
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 || pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	creds := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     tokenURL,
	}

	httpClient := creds.Client(context.Background())
	httpClient.Timeout = cfg.Timeout

	return &Client{
		http:     httpClient,
		baseURL:  baseURL,
		pageSize: pageSize,
		logger:   logger.WithComponent("catalog"),
	}, nil
}

// ParseReference extracts the item type and ID from an open.spotify.com link
// or a spotify: URI
func ParseReference(raw string) (models.CatalogItemType, string, error) {
	raw = strings.TrimSpace(raw)

	var parts []string
	if strings.HasPrefix(raw, "spotify:") {
		parts = strings.Split(strings.TrimPrefix(raw, "spotify:"), ":")
	} else {
		u, err := url.Parse(raw)
		if err != nil || u.Host != "open.spotify.com" {
			return "", "", models.ValidationError("parse catalog url", "unsupported catalog link %q", raw)
		}
		parts = strings.Split(strings.Trim(u.Path, "/"), "/")
		if len(parts) > 0 && strings.HasPrefix(parts[0], "intl-") {
			parts = parts[1:]
		}
	}

	if len(parts) != 2 || parts[1] == "" {
		return "", "", models.ValidationError("parse catalog url", "unsupported catalog link %q", raw)
	}

	kind := models.CatalogItemType(parts[0])
	switch kind {
	case models.CatalogTrack, models.CatalogAlbum, models.CatalogPlaylist:
		return kind, parts[1], nil
	default:
		return "", "", models.ValidationError("parse catalog url", "unsupported catalog item type %q", parts[0])
	}
}

// Lookup fetches the item behind rawURL. Albums and playlists are paged
// until itemLimit children are collected; itemLimit <= 0 reads every page.
func (c *Client) Lookup(ctx context.Context, rawURL string, itemLimit int) (*models.CatalogItem, error) {
	kind, id, err := ParseReference(rawURL)
	if err != nil {
		return nil, err
	}

	switch kind {
	case models.CatalogTrack:
		var t track
		if err := c.get(ctx, "track", "/tracks/"+url.PathEscape(id), &t); err != nil {
			return nil, err
		}
		item := toItem(t)
		return &item, nil

	case models.CatalogAlbum:
		var a album
		if err := c.get(ctx, "album", "/albums/"+url.PathEscape(id), &a); err != nil {
			return nil, err
		}
		children, err := collect(ctx, c, "album", a.Tracks, itemLimit, func(t track) (models.CatalogItem, bool) {
			return toItem(t), true
		})
		if err != nil {
			return nil, err
		}
		return &models.CatalogItem{
			Type:     models.CatalogAlbum,
			ID:       a.ID,
			Title:    a.Name,
			Artists:  artistNames(a.Artists),
			Children: children,
			Total:    a.Tracks.Total,
		}, nil

	default:
		var p playlist
		if err := c.get(ctx, "playlist", "/playlists/"+url.PathEscape(id), &p); err != nil {
			return nil, err
		}
		children, err := collect(ctx, c, "playlist", p.Tracks, itemLimit, func(e playlistEntry) (models.CatalogItem, bool) {
			if e.Track == nil || e.Track.ID == "" {
				return models.CatalogItem{}, false
			}
			return toItem(*e.Track), true
		})
		if err != nil {
			return nil, err
		}
		return &models.CatalogItem{
			Type:     models.CatalogPlaylist,
			ID:       p.ID,
			Title:    p.Name,
			Children: children,
			Total:    p.Tracks.Total,
		}, nil
	}
}

// collect walks first and every following page via the next cursor
func collect[T any](ctx context.Context, c *Client, resource string, first page[T], limit int, convert func(T) (models.CatalogItem, bool)) ([]models.CatalogItem, error) {
	items := []models.CatalogItem{}
	current := first

	for {
		items = append(items, lo.FilterMap(current.Items, func(entry T, _ int) (models.CatalogItem, bool) {
			return convert(entry)
		})...)

		if limit > 0 && len(items) >= limit {
			return items[:limit], nil
		}
		if current.Next == nil || *current.Next == "" {
			return items, nil
		}

		next := *current.Next
		current = page[T]{}
		if err := c.get(ctx, resource, next, &current); err != nil {
			return nil, err
		}
	}
}

// Search finds tracks matching query
func (c *Client) Search(ctx context.Context, query string, limit int) ([]models.CatalogItem, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, models.ValidationError("catalog search", "query is required")
	}
	if limit <= 0 || limit > maxPageSize {
		limit = c.pageSize
	}

	params := url.Values{}
	params.Set("q", query)
	params.Set("type", "track")
	params.Set("limit", strconv.Itoa(limit))

	var resp struct {
		Tracks page[track] `json:"tracks"`
	}
	if err := c.get(ctx, "search", "/search?"+params.Encode(), &resp); err != nil {
		return nil, err
	}

	return lo.Map(resp.Tracks.Items, func(t track, _ int) models.CatalogItem {
		return toItem(t)
	}), nil
}

// ToSearchQuery turns a track into a hosting-service search query
func ToSearchQuery(item models.CatalogItem) string {
	terms := append([]string{item.Title}, item.Artists...)
	return strings.Join(lo.Compact(terms), " ") + " audio"
}

// get performs an authenticated GET. endpoint is either a path under the
// API base URL or an absolute next-page link.
func (c *Client) get(ctx context.Context, resource, endpoint string, dest interface{}) error {
	target := endpoint
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		target = c.baseURL + endpoint
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return models.CatalogError(resource, 0, fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		status := tokenStatus(err)
		metrics.RecordCatalogRequest(resource, "error")
		c.logger.WithError(err).WithField("resource", resource).Warn("Catalog request failed")
		return models.CatalogError(resource, status, fmt.Errorf("request failed: %w", err))
	}
	defer resp.Body.Close()

	metrics.RecordCatalogRequest(resource, strconv.Itoa(resp.StatusCode))

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		msg := strings.TrimSpace(string(body))
		var apiErr apiError
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error.Message != "" {
			msg = apiErr.Error.Message
		}
		return models.CatalogError(resource, resp.StatusCode, fmt.Errorf("catalog API: %s", msg))
	}

	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return models.CatalogError(resource, 0, fmt.Errorf("failed to decode response: %w", err))
	}

	return nil
}

// tokenStatus returns the status code of a failed token exchange, or 0
func tokenStatus(err error) int {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
		return retrieveErr.Response.StatusCode
	}
	return 0
}

func toItem(t track) models.CatalogItem {
	item := models.CatalogItem{
		Type:    models.CatalogTrack,
		ID:      t.ID,
		Title:   t.Name,
		Artists: artistNames(t.Artists),
	}
	if t.DurationMS > 0 {
		d := t.DurationMS
		item.DurationMs = &d
	}
	return item
}

func artistNames(artists []artist) []string {
	return lo.Map(artists, func(a artist, _ int) string { return a.Name })
}
