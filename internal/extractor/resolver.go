package extractor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/samber/lo"

	"github.com/therealutkarshpriyadarshi/mediadrop/internal/logging"
	"github.com/therealutkarshpriyadarshi/mediadrop/pkg/models"
)

// Limits bounds playlist expansion and search size
type Limits struct {
	DefaultItemLimit int
	MaxItemLimit     int
	SearchLimit      int
}

// Resolver turns media references into metadata with one engine call each
type Resolver struct {
	engine Engine
	limits Limits
	logger *logging.Logger
}

// NewResolver creates a resolver
func NewResolver(engine Engine, limits Limits, logger *logging.Logger) *Resolver {
	if limits.DefaultItemLimit <= 0 {
		limits.DefaultItemLimit = models.DefaultPlaylistLimit
	}
	if limits.MaxItemLimit < limits.DefaultItemLimit {
		limits.MaxItemLimit = limits.DefaultItemLimit
	}
	if limits.SearchLimit <= 0 {
		limits.SearchLimit = 5
	}
	return &Resolver{engine: engine, limits: limits, logger: logger.WithComponent("resolver")}
}

// ItemLimit clamps a requested playlist size to the configured bounds
func (r *Resolver) ItemLimit(requested int) int {
	if requested <= 0 {
		return r.limits.DefaultItemLimit
	}
	return min(requested, r.limits.MaxItemLimit)
}

// Resolve fetches metadata for ref. Playlist entries are capped at the
// reference's item limit.
func (r *Resolver) Resolve(ctx context.Context, ref models.MediaReference) (*models.Metadata, error) {
	switch ref := ref.(type) {
	case models.Single:
		return r.resolveSingle(ctx, ref)
	case models.Playlist:
		return r.resolvePlaylist(ctx, ref)
	default:
		return nil, models.ValidationError("resolve", "unsupported reference %T", ref)
	}
}

func (r *Resolver) resolveSingle(ctx context.Context, ref models.Single) (*models.Metadata, error) {
	info, err := r.dump(ctx, ref.URL, DumpOptions{})
	if err != nil {
		return nil, err
	}

	meta := info.metadata()
	if meta.WebpageURL == "" {
		meta.WebpageURL = ref.URL
	}
	r.logger.Debugf("Resolved %s: %q with %d formats", ref.URL, meta.Title, len(meta.Formats))
	return meta, nil
}

func (r *Resolver) resolvePlaylist(ctx context.Context, ref models.Playlist) (*models.Metadata, error) {
	limit := r.ItemLimit(ref.ItemLimit)

	info, err := r.dump(ctx, ref.URL, DumpOptions{PlaylistItems: limit})
	if err != nil {
		return nil, err
	}

	meta := info.metadata()
	if meta.WebpageURL == "" {
		meta.WebpageURL = ref.URL
	}

	entries := make([]models.MediaReference, 0, limit)
	for _, entry := range info.Entries {
		if len(entries) == limit {
			break
		}
		// Entries without a URL (private or removed items) stay in the list so
		// they are attempted and counted as failures.
		url := entry.entryURL()
		if url == "" {
			r.logger.Warnf("Playlist entry %q has no URL", entry.Title)
		}
		entries = append(entries, models.Single{URL: url})
	}
	meta.Entries = entries

	r.logger.Debugf("Resolved playlist %s: %q with %d entries (limit %d)", ref.URL, meta.Title, len(entries), limit)
	return meta, nil
}

func (r *Resolver) dump(ctx context.Context, url string, opts DumpOptions) (*rawInfo, error) {
	data, err := r.engine.Dump(ctx, url, opts)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, models.ResolutionError("resolve", fmt.Errorf("engine timed out for %s: %w", url, err))
		}
		return nil, models.ResolutionError("resolve", err)
	}

	info, err := decodeInfo(data)
	if err != nil {
		return nil, models.ResolutionError("resolve", err)
	}
	if strings.TrimSpace(info.Title) == "" {
		return nil, models.ResolutionError("resolve", fmt.Errorf("engine returned no title for %s", url))
	}
	return info, nil
}

// Search returns up to the configured number of hosted items matching query
func (r *Resolver) Search(ctx context.Context, query string) ([]models.SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, models.ValidationError("search", "query is required")
	}

	target := fmt.Sprintf("ytsearch%d:%s", r.limits.SearchLimit, query)
	data, err := r.engine.Dump(ctx, target, DumpOptions{PlaylistItems: r.limits.SearchLimit})
	if err != nil {
		return nil, models.ResolutionError("search", err)
	}

	info, err := decodeInfo(data)
	if err != nil {
		return nil, models.ResolutionError("search", err)
	}

	results := lo.FilterMap(info.Entries, func(entry rawInfo, _ int) (models.SearchResult, bool) {
		url := entry.entryURL()
		return models.SearchResult{Title: entry.Title, URL: url, ID: entry.ID}, url != ""
	})
	if len(results) > r.limits.SearchLimit {
		results = results[:r.limits.SearchLimit]
	}
	return results, nil
}

// FirstHit returns the URL of the best search hit for query
func (r *Resolver) FirstHit(ctx context.Context, query string) (string, error) {
	results, err := r.Search(ctx, query)
	if err != nil {
		return "", err
	}
	if len(results) == 0 {
		return "", models.ResolutionError("search", fmt.Errorf("no results for %q", query))
	}
	return results[0].URL, nil
}
