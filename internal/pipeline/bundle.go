package pipeline

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zip"
	"github.com/samber/lo"

	"github.com/therealutkarshpriyadarshi/mediadrop/pkg/models"
)

// Bundle packs every artifact produced by result into one zip archive,
// stored and evicted like any other artifact
func (s *Service) Bundle(ctx context.Context, title string, result *models.PlaylistResult) (models.Artifact, error) {
	if result == nil || len(result.Produced) == 0 {
		return models.Artifact{}, models.ValidationError("bundle", "nothing was produced")
	}

	names := lo.Uniq(lo.Map(result.Produced, func(a models.Artifact, _ int) string { return a.FileName }))
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)
	// Same contents, same archive name
	digest := uuid.NewSHA1(uuid.NameSpaceURL, []byte(strings.Join(sorted, "\n"))).String()[:8]
	archiveName := fmt.Sprintf("%s_%s.zip", SanitizeTitle(title), digest)

	tmp, err := s.store.TempFile("bundle-*.zip")
	if err != nil {
		return models.Artifact{}, err
	}
	tmpPath := tmp.Name()

	if err := s.writeArchive(tmp, names); err != nil {
		tmp.Close()
		s.fs.Remove(tmpPath)
		s.record("bundle", err)
		return models.Artifact{}, err
	}
	if err := tmp.Close(); err != nil {
		s.fs.Remove(tmpPath)
		return models.Artifact{}, fmt.Errorf("failed to close archive: %w", err)
	}

	artifact, err := s.store.Put(ctx, archiveName, tmpPath)
	if err != nil {
		s.fs.Remove(tmpPath)
		s.record("bundle", err)
		return models.Artifact{}, err
	}
	s.store.ScheduleEviction(artifact, s.store.Retention())
	s.record("bundle", nil)

	return artifact, nil
}

func (s *Service) writeArchive(w io.Writer, names []string) error {
	zw := zip.NewWriter(w)

	for _, name := range names {
		if err := s.addToArchive(zw, name); err != nil {
			zw.Close()
			return err
		}
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to finalize archive: %w", err)
	}
	return nil
}

func (s *Service) addToArchive(zw *zip.Writer, name string) error {
	f, artifact, err := s.store.Open(name)
	if err != nil {
		return err
	}
	defer f.Close()

	// Media is already compressed
	w, err := zw.CreateHeader(&zip.FileHeader{
		Name:     name,
		Method:   zip.Store,
		Modified: artifact.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to add %s to archive: %w", name, err)
	}

	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("failed to copy %s into archive: %w", name, err)
	}
	return nil
}
