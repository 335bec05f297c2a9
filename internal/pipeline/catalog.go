package pipeline

import (
	"context"
	"errors"
	"net/http"

	"github.com/samber/lo"

	"github.com/therealutkarshpriyadarshi/mediadrop/internal/catalog"
	"github.com/therealutkarshpriyadarshi/mediadrop/pkg/models"
)

// Catalog looks up tracks and collections in the music catalog
type Catalog interface {
	Lookup(ctx context.Context, rawURL string, itemLimit int) (*models.CatalogItem, error)
	Search(ctx context.Context, query string, limit int) ([]models.CatalogItem, error)
}

var errCatalogDisabled = models.CatalogError("catalog", http.StatusServiceUnavailable, errors.New("catalog credentials are not configured"))

// CatalogSearch searches the catalog for tracks
func (s *Service) CatalogSearch(ctx context.Context, query string, limit int) ([]models.CatalogItem, error) {
	if s.catalog == nil {
		return nil, errCatalogDisabled
	}
	items, err := s.catalog.Search(ctx, query, limit)
	s.record("catalog_search", err)
	return items, err
}

// CatalogInfo looks up a catalog link, listing at most itemLimit children
func (s *Service) CatalogInfo(ctx context.Context, rawURL string, itemLimit int) (*models.CatalogItem, error) {
	if s.catalog == nil {
		return nil, errCatalogDisabled
	}
	item, err := s.catalog.Lookup(ctx, rawURL, s.resolver.ItemLimit(itemLimit))
	s.record("catalog_info", err)
	return item, err
}

// CatalogDownload finds a catalog track on the hosting service and
// produces it under policy
func (s *Service) CatalogDownload(ctx context.Context, rawURL string, policy models.SelectionPolicy) (*Output, error) {
	if s.catalog == nil {
		return nil, errCatalogDisabled
	}

	track, err := s.catalog.Lookup(ctx, rawURL, 1)
	if err != nil {
		s.record("catalog_download", err)
		return nil, err
	}
	if track.IsCollection() {
		return nil, models.ValidationError("catalog download", "%s links are downloaded through the catalog playlist endpoint", track.Type)
	}

	var out *Output
	err = s.pool.Do(ctx, func(ctx context.Context) error {
		var err error
		out, err = s.produceTrack(ctx, *track, policy)
		return err
	})
	s.record("catalog_download", err)
	return out, err
}

// CatalogPlaylist produces up to itemLimit tracks of a catalog album or
// playlist. A track link yields a one-item batch.
func (s *Service) CatalogPlaylist(ctx context.Context, rawURL string, itemLimit int, policy models.SelectionPolicy) (*models.PlaylistResult, error) {
	if s.catalog == nil {
		return nil, errCatalogDisabled
	}

	limit := s.resolver.ItemLimit(itemLimit)
	collection, err := s.catalog.Lookup(ctx, rawURL, limit)
	if err != nil {
		s.record("catalog_playlist", err)
		return nil, err
	}

	tracks := collection.Children
	if !collection.IsCollection() {
		tracks = []models.CatalogItem{*collection}
	}
	if len(tracks) > limit {
		tracks = tracks[:limit]
	}

	items := lo.Map(tracks, func(track models.CatalogItem, _ int) item {
		return item{
			label: catalog.ToSearchQuery(track),
			run: func(ctx context.Context) (*Output, error) {
				return s.produceTrack(ctx, track, policy)
			},
		}
	})

	result := s.runItems(ctx, items)
	result.Title = collection.Title
	result.Requested = limit
	s.record("catalog_playlist", nil)
	return result, nil
}

func (s *Service) produceTrack(ctx context.Context, track models.CatalogItem, policy models.SelectionPolicy) (*Output, error) {
	url, err := s.resolver.FirstHit(ctx, catalog.ToSearchQuery(track))
	if err != nil {
		return nil, err
	}
	return s.produce(ctx, url, policy)
}
