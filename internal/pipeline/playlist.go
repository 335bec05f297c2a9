package pipeline

import (
	"context"
	"fmt"

	"github.com/samber/lo"

	"github.com/therealutkarshpriyadarshi/mediadrop/internal/metrics"
	"github.com/therealutkarshpriyadarshi/mediadrop/pkg/models"
)

// item is one unit of a sequential batch
type item struct {
	label string
	run   func(ctx context.Context) (*Output, error)
}

// DownloadPlaylist produces up to itemLimit entries of a hosted playlist.
// Entry failures are recorded in the result and never stop the batch.
func (s *Service) DownloadPlaylist(ctx context.Context, url string, itemLimit int, policy models.SelectionPolicy) (*models.PlaylistResult, error) {
	if err := validateURL("playlist", url); err != nil {
		return nil, err
	}

	limit := s.resolver.ItemLimit(itemLimit)

	// A client disconnect must not abort the batch, slot waits included.
	ctx = context.WithoutCancel(ctx)

	var meta *models.Metadata
	err := s.pool.Do(ctx, func(ctx context.Context) error {
		var err error
		meta, err = s.resolver.Resolve(ctx, models.Playlist{URL: url, ItemLimit: limit})
		return err
	})
	if err != nil {
		s.record("playlist", err)
		return nil, err
	}

	entries := meta.Entries
	if len(entries) > limit {
		entries = entries[:limit]
	}

	items := lo.Map(entries, func(ref models.MediaReference, i int) item {
		label := ref.SourceURL()
		if label == "" {
			label = fmt.Sprintf("entry %d", i+1)
		}
		return item{
			label: label,
			run: func(ctx context.Context) (*Output, error) {
				if err := validateURL("playlist", ref.SourceURL()); err != nil {
					return nil, err
				}
				return s.produce(ctx, ref.SourceURL(), policy)
			},
		}
	})

	result := s.runItems(ctx, items)
	result.Title = meta.Title
	result.Requested = limit
	s.record("playlist", nil)
	return result, nil
}

// runItems processes items one after another, each in its own worker slot.
// Every item is attempted even if ctx is cancelled.
func (s *Service) runItems(ctx context.Context, items []item) *models.PlaylistResult {
	ctx = context.WithoutCancel(ctx)
	result := &models.PlaylistResult{
		Produced: []models.Artifact{},
	}

	for i, it := range items {
		var out *Output
		err := s.pool.Do(ctx, func(ctx context.Context) error {
			var err error
			out, err = it.run(ctx)
			return err
		})

		if err != nil {
			s.logger.LogItemFailure(i, it.label, err)
			result.FailedCount++
			result.Failures = append(result.Failures, models.ItemFailure{
				Index: i,
				Label: it.label,
				Kind:  string(models.KindOf(err)),
				Error: err.Error(),
			})
			metrics.RecordPlaylistItem(false)
			continue
		}

		result.Produced = append(result.Produced, out.Artifact)
		metrics.RecordPlaylistItem(true)
	}

	s.logger.Infof("Batch finished: %d produced, %d failed", len(result.Produced), result.FailedCount)
	return result
}
