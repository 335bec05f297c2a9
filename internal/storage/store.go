package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/therealutkarshpriyadarshi/mediadrop/internal/logging"
	"github.com/therealutkarshpriyadarshi/mediadrop/internal/metrics"
	"github.com/therealutkarshpriyadarshi/mediadrop/pkg/models"
)

const stagingDir = ".staging"

// Artifact lifecycle events passed to the Notifier
const (
	EventStored  = "artifact.stored"
	EventEvicted = "artifact.evicted"
)

// Deferrer runs keyed one-shot tasks at a deadline
type Deferrer interface {
	Schedule(key string, at time.Time, fn func()) bool
	Cancel(key string) bool
}

// Notifier receives artifact lifecycle events
type Notifier interface {
	Notify(ctx context.Context, event string, artifact models.Artifact)
}

// Config holds store settings
type Config struct {
	Root      string
	BaseURL   string
	Retention time.Duration
}

// Store owns the artifact namespace: a flat directory of uniquely named files,
// each evicted once its retention window passes.
type Store struct {
	fs        afero.Fs
	root      string
	baseURL   string
	retention time.Duration
	deferred  Deferrer
	mirror    Mirror
	notifiers []Notifier
	now       func() time.Time
	logger    *logging.Logger

	mu    sync.RWMutex
	index map[string]models.Artifact
}

// Option configures a Store
type Option func(*Store)

// WithMirror copies every new artifact into m
func WithMirror(m Mirror) Option {
	return func(s *Store) { s.mirror = m }
}

// WithNotifier publishes lifecycle events to n. It may be given more than once.
func WithNotifier(n Notifier) Option {
	return func(s *Store) { s.notifiers = append(s.notifiers, n) }
}

// WithClock overrides the clock used for creation timestamps
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates a store rooted at cfg.Root on fs
func New(fs afero.Fs, cfg Config, deferred Deferrer, logger *logging.Logger, opts ...Option) (*Store, error) {
	if cfg.Retention <= 0 {
		return nil, fmt.Errorf("retention must be positive, got %s", cfg.Retention)
	}

	s := &Store{
		fs:        fs,
		root:      cfg.Root,
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		retention: cfg.Retention,
		deferred:  deferred,
		now:       time.Now,
		logger:    logger.WithComponent("store"),
		index:     make(map[string]models.Artifact),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.fs.MkdirAll(filepath.Join(s.root, stagingDir), 0755); err != nil {
		return nil, fmt.Errorf("failed to create store root: %w", err)
	}

	return s, nil
}

// Retention returns the default artifact lifetime
func (s *Store) Retention() time.Duration {
	return s.retention
}

// ValidateName rejects names that could escape the flat namespace
func ValidateName(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return models.ValidationError("validate name", "invalid file name %q", name)
	case strings.ContainsAny(name, `/\`), strings.Contains(name, ".."):
		return models.ValidationError("validate name", "file name %q must not contain path separators", name)
	case strings.HasPrefix(name, "."):
		return models.ValidationError("validate name", "file name %q must not be hidden", name)
	}
	return nil
}

// Put moves sourcePath into the namespace as fileName. When fileName already
// exists the stored file wins: the source is discarded and the existing
// artifact is returned unchanged.
func (s *Store) Put(ctx context.Context, fileName, sourcePath string) (models.Artifact, error) {
	if err := ValidateName(fileName); err != nil {
		return models.Artifact{}, err
	}

	if existing, ok := s.lookup(fileName); ok {
		if err := s.fs.Remove(sourcePath); err != nil && !os.IsNotExist(err) {
			s.logger.WithError(err).Warnf("Failed to discard duplicate source %s", sourcePath)
		}
		s.logger.LogArtifact("reused", fileName, existing.SizeBytes, nil)
		metrics.RecordStorageOperation("put", "reused")
		return existing, nil
	}

	dest := s.path(fileName)
	if info, err := s.fs.Stat(dest); err == nil && !info.IsDir() {
		// Left on disk without an index entry, e.g. when the startup sweep is off
		existing := s.newArtifact(fileName, info.Size(), info.ModTime())
		s.mu.Lock()
		s.index[fileName] = existing
		s.mu.Unlock()
		if err := s.fs.Remove(sourcePath); err != nil && !os.IsNotExist(err) {
			s.logger.WithError(err).Warnf("Failed to discard duplicate source %s", sourcePath)
		}
		s.logger.LogArtifact("reused", fileName, existing.SizeBytes, nil)
		metrics.RecordStorageOperation("put", "reused")
		return existing, nil
	}

	if err := s.move(sourcePath, dest); err != nil {
		metrics.RecordStorageOperation("put", "error")
		return models.Artifact{}, fmt.Errorf("failed to store %s: %w", fileName, err)
	}

	info, err := s.fs.Stat(dest)
	if err != nil {
		metrics.RecordStorageOperation("put", "error")
		return models.Artifact{}, fmt.Errorf("failed to stat %s: %w", fileName, err)
	}

	artifact := s.newArtifact(fileName, info.Size(), s.now())

	s.mu.Lock()
	if prior, ok := s.index[fileName]; ok {
		// A concurrent Put for the same name finished first
		s.mu.Unlock()
		return prior, nil
	}
	s.index[fileName] = artifact
	s.mu.Unlock()

	s.logger.LogArtifact("stored", fileName, artifact.SizeBytes, nil)
	metrics.RecordStorageOperation("put", "success")
	metrics.RecordArtifactStored(artifact.SizeBytes)

	s.mirrorUpload(ctx, artifact)
	for _, n := range s.notifiers {
		n.Notify(ctx, EventStored, artifact)
	}

	return artifact, nil
}

// Open returns a reader for a stored artifact
func (s *Store) Open(fileName string) (afero.File, models.Artifact, error) {
	if err := ValidateName(fileName); err != nil {
		return nil, models.Artifact{}, err
	}

	artifact, ok := s.lookup(fileName)
	if !ok {
		return nil, models.Artifact{}, models.NotFoundError("open", fileName)
	}

	f, err := s.fs.Open(s.path(fileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, models.Artifact{}, models.NotFoundError("open", fileName)
		}
		return nil, models.Artifact{}, fmt.Errorf("failed to open %s: %w", fileName, err)
	}

	return f, artifact, nil
}

// Stat returns the artifact record for fileName
func (s *Store) Stat(fileName string) (models.Artifact, error) {
	if err := ValidateName(fileName); err != nil {
		return models.Artifact{}, err
	}
	artifact, ok := s.lookup(fileName)
	if !ok {
		return models.Artifact{}, models.NotFoundError("stat", fileName)
	}
	return artifact, nil
}

// ScheduleEviction registers deletion of the artifact at CreatedAt+ttl.
// It returns false when an eviction is already pending for the name.
func (s *Store) ScheduleEviction(artifact models.Artifact, ttl time.Duration) bool {
	name := artifact.FileName
	scheduled := s.deferred.Schedule(name, artifact.CreatedAt.Add(ttl), func() {
		s.evict(name)
	})
	if scheduled {
		s.logger.Debugf("Eviction of %s scheduled in %s", name, ttl)
	}
	return scheduled
}

// CancelEviction drops a pending eviction. The artifact then lives until
// evicted some other way.
func (s *Store) CancelEviction(fileName string) bool {
	return s.deferred.Cancel(fileName)
}

// Sweep indexes files left in the root by a previous run and schedules their
// eviction relative to their modification time. Stale staging files are removed.
func (s *Store) Sweep() (int, error) {
	staging := filepath.Join(s.root, stagingDir)
	if err := s.fs.RemoveAll(staging); err != nil {
		s.logger.WithError(err).Warn("Failed to clear staging directory")
	}
	if err := s.fs.MkdirAll(staging, 0755); err != nil {
		return 0, fmt.Errorf("failed to recreate staging directory: %w", err)
	}

	entries, err := afero.ReadDir(s.fs, s.root)
	if err != nil {
		return 0, fmt.Errorf("failed to read store root: %w", err)
	}

	var count int
	for _, entry := range entries {
		if entry.IsDir() || ValidateName(entry.Name()) != nil {
			continue
		}

		artifact := s.newArtifact(entry.Name(), entry.Size(), entry.ModTime())

		s.mu.Lock()
		_, known := s.index[artifact.FileName]
		if !known {
			s.index[artifact.FileName] = artifact
		}
		s.mu.Unlock()

		if known {
			continue
		}
		metrics.RecordArtifactStored(artifact.SizeBytes)
		s.ScheduleEviction(artifact, s.retention)
		count++
	}

	s.logger.Infof("Swept %d leftover artifacts", count)
	return count, nil
}

// TempFile creates a staging file inside the store root
func (s *Store) TempFile(pattern string) (afero.File, error) {
	f, err := afero.TempFile(s.fs, filepath.Join(s.root, stagingDir), pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to create staging file: %w", err)
	}
	return f, nil
}

// DownloadURL builds the public link for fileName
func (s *Store) DownloadURL(fileName string) string {
	return s.baseURL + "/files/" + url.PathEscape(fileName)
}

func (s *Store) evict(fileName string) {
	s.mu.Lock()
	artifact, known := s.index[fileName]
	delete(s.index, fileName)
	s.mu.Unlock()

	err := s.fs.Remove(s.path(fileName))
	switch {
	case err == nil:
		s.logger.LogArtifact("evicted", fileName, artifact.SizeBytes, nil)
		metrics.RecordEviction("evicted")
	case errors.Is(err, os.ErrNotExist):
		s.logger.Debugf("Artifact %s already gone at eviction", fileName)
		metrics.RecordEviction("missing")
		if known {
			metrics.ArtifactsStored.Dec()
		}
	default:
		s.logger.LogArtifact("evicted", fileName, artifact.SizeBytes, err)
		metrics.RecordEviction("error")
	}

	ctx := context.Background()
	if s.mirror != nil {
		if err := s.mirror.Delete(ctx, fileName); err != nil {
			s.logger.WithError(err).Warnf("Failed to delete mirrored %s", fileName)
			metrics.RecordStorageOperation("mirror_delete", "error")
		} else {
			metrics.RecordStorageOperation("mirror_delete", "success")
		}
	}
	if !known {
		return
	}
	for _, n := range s.notifiers {
		n.Notify(ctx, EventEvicted, artifact)
	}
}

func (s *Store) mirrorUpload(ctx context.Context, artifact models.Artifact) {
	if s.mirror == nil {
		return
	}

	f, err := s.fs.Open(s.path(artifact.FileName))
	if err != nil {
		s.logger.WithError(err).Warnf("Failed to open %s for mirroring", artifact.FileName)
		return
	}
	defer f.Close()

	if err := s.mirror.Upload(ctx, artifact.FileName, f, artifact.SizeBytes, artifact.MediaType); err != nil {
		s.logger.WithError(err).Warnf("Failed to mirror %s", artifact.FileName)
		metrics.RecordStorageOperation("mirror_upload", "error")
		return
	}
	metrics.RecordStorageOperation("mirror_upload", "success")
}

func (s *Store) lookup(fileName string) (models.Artifact, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	artifact, ok := s.index[fileName]
	return artifact, ok
}

func (s *Store) newArtifact(fileName string, size int64, createdAt time.Time) models.Artifact {
	return models.Artifact{
		FileName:    fileName,
		MediaType:   getContentType(fileName),
		SizeBytes:   size,
		CreatedAt:   createdAt,
		TTLSeconds:  int(s.retention / time.Second),
		DownloadURL: s.DownloadURL(fileName),
	}
}

func (s *Store) path(fileName string) string {
	return filepath.Join(s.root, fileName)
}

// move renames src to dst, copying when the rename crosses filesystems
func (s *Store) move(src, dst string) error {
	if err := s.fs.Rename(src, dst); err == nil {
		return nil
	}

	in, err := s.fs.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp := dst + ".part"
	out, err := s.fs.Create(tmp)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		s.fs.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		s.fs.Remove(tmp)
		return err
	}
	if err := s.fs.Rename(tmp, dst); err != nil {
		s.fs.Remove(tmp)
		return err
	}

	return s.fs.Remove(src)
}
