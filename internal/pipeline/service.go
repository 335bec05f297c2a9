// Package pipeline wires resolution, acquisition, composition and storage
// into the request-level operations of the service.
package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/therealutkarshpriyadarshi/mediadrop/internal/extractor"
	"github.com/therealutkarshpriyadarshi/mediadrop/internal/logging"
	"github.com/therealutkarshpriyadarshi/mediadrop/internal/metrics"
	"github.com/therealutkarshpriyadarshi/mediadrop/internal/scheduler"
	"github.com/therealutkarshpriyadarshi/mediadrop/internal/tracing"
	"github.com/therealutkarshpriyadarshi/mediadrop/pkg/models"
)

// Resolver looks up metadata on the hosting service
type Resolver interface {
	Resolve(ctx context.Context, ref models.MediaReference) (*models.Metadata, error)
	Search(ctx context.Context, query string) ([]models.SearchResult, error)
	FirstHit(ctx context.Context, query string) (string, error)
	ItemLimit(requested int) int
}

// Acquirer downloads the streams selected for a policy
type Acquirer interface {
	Acquire(ctx context.Context, meta *models.Metadata, policy models.SelectionPolicy, workDir string) (*extractor.Acquisition, error)
}

// Composer produces the final file of a job
type Composer interface {
	Compose(ctx context.Context, job *models.AcquisitionJob, opts models.ComposeOptions) error
}

// Store holds produced artifacts
type Store interface {
	Put(ctx context.Context, fileName, sourcePath string) (models.Artifact, error)
	Open(fileName string) (afero.File, models.Artifact, error)
	ScheduleEviction(artifact models.Artifact, ttl time.Duration) bool
	Retention() time.Duration
	TempFile(pattern string) (afero.File, error)
}

// Config holds pipeline settings
type Config struct {
	// TempDir is the parent of per-job work directories
	TempDir string
}

// Output is one produced file and what it was made from
type Output struct {
	Artifact         models.Artifact
	Title            string
	Thumbnail        string
	Height           int
	SubtitleFallback bool
}

// Resolution returns the output's height as "720p", or "audio"
func (o *Output) Resolution() string {
	if o.Height == 0 {
		return "audio"
	}
	return models.FormatDescriptor{Height: &o.Height}.Resolution()
}

// Service runs downloads end to end
type Service struct {
	resolver Resolver
	acquirer Acquirer
	composer Composer
	store    Store
	pool     *scheduler.Pool
	fs       afero.Fs
	catalog  Catalog
	cfg      Config
	newID    func() string
	logger   *logging.Logger
}

// Option configures a Service
type Option func(*Service)

// WithCatalog enables the catalog operations
func WithCatalog(c Catalog) Option {
	return func(s *Service) { s.catalog = c }
}

// WithIDGenerator overrides job ID generation
func WithIDGenerator(fn func() string) Option {
	return func(s *Service) { s.newID = fn }
}

// NewService creates a pipeline service
func NewService(resolver Resolver, acquirer Acquirer, composer Composer, store Store, pool *scheduler.Pool, fs afero.Fs, cfg Config, logger *logging.Logger, opts ...Option) *Service {
	s := &Service{
		resolver: resolver,
		acquirer: acquirer,
		composer: composer,
		store:    store,
		pool:     pool,
		fs:       fs,
		cfg:      cfg,
		newID:    uuid.NewString,
		logger:   logger.WithComponent("pipeline"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Info resolves ref. Every call goes to the extractor; nothing is kept
// between requests.
func (s *Service) Info(ctx context.Context, ref models.MediaReference) (*models.Metadata, error) {
	if err := validateURL("info", ref.SourceURL()); err != nil {
		return nil, err
	}

	var meta *models.Metadata
	err := s.pool.Do(ctx, func(ctx context.Context) error {
		var err error
		meta, err = s.resolver.Resolve(ctx, ref)
		return err
	})
	s.record("info", err)
	if err != nil {
		return nil, err
	}
	return meta, nil
}

// Search queries the hosting service
func (s *Service) Search(ctx context.Context, query string) ([]models.SearchResult, error) {
	var results []models.SearchResult
	err := s.pool.Do(ctx, func(ctx context.Context) error {
		var err error
		results, err = s.resolver.Search(ctx, query)
		return err
	})
	s.record("search", err)
	return results, err
}

// Download produces one artifact for url under policy
func (s *Service) Download(ctx context.Context, url string, policy models.SelectionPolicy) (*Output, error) {
	if err := validateURL("download", url); err != nil {
		return nil, err
	}

	var out *Output
	err := s.pool.Do(ctx, func(ctx context.Context) error {
		var err error
		out, err = s.produce(ctx, url, policy)
		return err
	})
	s.record("download", err)
	return out, err
}

// produce resolves, acquires, composes and stores one item. The work
// directory is removed unless composition failed.
func (s *Service) produce(ctx context.Context, url string, policy models.SelectionPolicy) (out *Output, err error) {
	ctx, finish := tracing.StartStage(ctx, "produce", map[string]interface{}{"source.url": url})
	defer func() { finish(err) }()

	meta, err := s.resolver.Resolve(ctx, models.Single{URL: url})
	if err != nil {
		return nil, err
	}

	jobID := s.newID()
	workDir := filepath.Join(s.cfg.TempDir, jobID)
	log := s.logger.WithJobID(jobID)

	start := time.Now()
	acq, err := s.acquirer.Acquire(ctx, meta, policy, workDir)
	metrics.RecordStage("acquire", time.Since(start).Seconds())
	log.LogStage(jobID, "acquire", time.Since(start), err)
	if err != nil {
		s.cleanup(workDir)
		return nil, err
	}

	job := models.NewAcquisitionJob(jobID, meta.WebpageURL, meta.Title, workDir)
	job.VideoPath = acq.VideoPath
	job.AudioPath = acq.AudioPath
	job.Height = acq.Selection.Height()

	if err := s.composer.Compose(ctx, job, policy.ComposeOptions()); err != nil {
		log.WithField("work_dir", workDir).Warn("Composition failed, keeping work directory")
		return nil, err
	}

	name := FileName(meta.Title, job.Height, policy, job.SubtitleFallback)
	artifact, err := s.store.Put(ctx, name, job.OutputPath)
	if err != nil {
		s.cleanup(workDir)
		return nil, err
	}
	s.store.ScheduleEviction(artifact, s.store.Retention())
	s.cleanup(workDir)

	return &Output{
		Artifact:         artifact,
		Title:            meta.Title,
		Thumbnail:        meta.ThumbnailURL,
		Height:           job.Height,
		SubtitleFallback: job.SubtitleFallback,
	}, nil
}

func (s *Service) cleanup(workDir string) {
	if err := s.fs.RemoveAll(workDir); err != nil && !os.IsNotExist(err) {
		s.logger.WithError(err).Warnf("Failed to remove work directory %s", workDir)
	}
}

func (s *Service) record(operation string, err error) {
	switch {
	case err == nil:
		metrics.RecordPipeline(operation, "success")
	case models.KindOf(err) != "":
		metrics.RecordPipeline(operation, string(models.KindOf(err)))
	default:
		metrics.RecordPipeline(operation, "error")
	}
}

func validateURL(op, url string) error {
	url = strings.TrimSpace(url)
	if url == "" {
		return models.ValidationError(op, "url is required")
	}
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return models.ValidationError(op, "url must be an http(s) link, got %q", url)
	}
	return nil
}
