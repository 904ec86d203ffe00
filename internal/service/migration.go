package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/Satyacharanv/CodeConversionAI/internal/metrics"
	"github.com/Satyacharanv/CodeConversionAI/internal/migrate"
	"github.com/Satyacharanv/CodeConversionAI/internal/workspace"
)

// ProjectZipPrefix is the route that serves project archives.
const ProjectZipPrefix = "/api/download_project_zip/"

// ErrMissingParam is returned when a required migration parameter is empty.
var ErrMissingParam = errors.New("missing required parameter")

// Runner executes the migration workflow for a staged job.
type Runner interface {
	Run(ctx context.Context, req migrate.Request, onProgress migrate.ProgressFunc) (*migrate.Outcome, error)
}

// Upload is an uploaded file: a single source file or a zip archive.
type Upload struct {
	Filename string
	Content  io.ReaderAt
	Size     int64
}

// Params names the migration to perform.
type Params struct {
	Language    string
	FromVersion string
	ToVersion   string
}

// Validate checks that every parameter is present.
func (p Params) Validate() error {
	var missing []string
	if strings.TrimSpace(p.Language) == "" {
		missing = append(missing, "code_language")
	}
	if strings.TrimSpace(p.FromVersion) == "" {
		missing = append(missing, "fro_version")
	}
	if strings.TrimSpace(p.ToVersion) == "" {
		missing = append(missing, "to_version")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingParam, strings.Join(missing, ", "))
	}
	return nil
}

// FileSummary is the per-file part of a Response.
type FileSummary struct {
	Filename string `json:"filename"`
	Path     string `json:"path"`
	Kind     string `json:"kind"`
	Summary  string `json:"summary"`
	Migrated bool   `json:"migrated"`
	// DownloadLink is scoped to the job. Entries of Response.DownloadLinks
	// resolve to the newest job holding the path.
	DownloadLink string `json:"download_link"`
}

// Response is returned for a finished migration.
type Response struct {
	Summary        string        `json:"summary"`
	DownloadLinks  []string      `json:"download_links"`
	ProjectZipLink string        `json:"project_zip_link"`
	JobID          string        `json:"job_id"`
	Files          []FileSummary `json:"files"`
}

// MigrationService stages uploads, runs migrations and packages results.
type MigrationService struct {
	layout          workspace.Layout
	runner          Runner
	packager        *workspace.Packager
	jobs            *JobManager
	maxArchiveBytes int64
	logger          *slog.Logger
	metrics         *metrics.Collector

	// Background jobs run under baseCtx and are cancelled by Shutdown.
	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// MigrationServiceOptions configures a MigrationService.
type MigrationServiceOptions struct {
	Layout          workspace.Layout
	Runner          Runner
	Packager        *workspace.Packager
	Jobs            *JobManager
	MaxArchiveBytes int64
	Logger          *slog.Logger
	Metrics         *metrics.Collector
}

// NewMigrationService creates a new migration service.
func NewMigrationService(opts MigrationServiceOptions) *MigrationService {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	jobs := opts.Jobs
	if jobs == nil {
		jobs = NewJobManager(logger)
	}
	packager := opts.Packager
	if packager == nil {
		packager = workspace.NewPackager(opts.Metrics)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &MigrationService{
		layout:          opts.Layout,
		runner:          opts.Runner,
		packager:        packager,
		jobs:            jobs,
		maxArchiveBytes: opts.MaxArchiveBytes,
		logger:          logger,
		metrics:         opts.Metrics,
		baseCtx:         ctx,
		cancel:          cancel,
	}
}

// Jobs returns the job manager.
func (s *MigrationService) Jobs() *JobManager {
	return s.jobs
}

// Stage creates a fresh workspace job and writes the upload into it.
// Uploads whose name ends in .zip are extracted.
func (s *MigrationService) Stage(upload Upload) (job *workspace.Job, err error) {
	start := time.Now()
	defer func() { s.metrics.RecordTiming(metrics.OpStaging, time.Since(start), err) }()

	job, err = s.layout.NewJob()
	if err != nil {
		return nil, err
	}

	if workspace.IsArchiveName(upload.Filename) {
		n, err := job.StageArchive(upload.Content, upload.Size, s.maxArchiveBytes)
		if err != nil {
			s.discard(job)
			return nil, fmt.Errorf("stage archive %s: %w", upload.Filename, err)
		}
		s.logger.Info("archive extracted", "job_id", job.ID, "filename", upload.Filename, "files", n)
		return job, nil
	}

	n, err := job.StageFile(upload.Filename, io.NewSectionReader(upload.Content, 0, upload.Size))
	if err != nil {
		s.discard(job)
		return nil, fmt.Errorf("stage file %s: %w", upload.Filename, err)
	}
	s.logger.Info("file staged", "job_id", job.ID, "filename", upload.Filename, "bytes", n)
	return job, nil
}

func (s *MigrationService) discard(job *workspace.Job) {
	if err := job.Remove(); err != nil {
		s.logger.Warn("removing failed job directories", "job_id", job.ID, "error", err)
	}
}

// Migrate stages the upload and runs the whole workflow before returning.
func (s *MigrationService) Migrate(ctx context.Context, upload Upload, params Params) (*Response, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	wsJob, err := s.Stage(upload)
	if err != nil {
		return nil, err
	}

	job := s.jobs.CreateJob(wsJob.ID, upload.Filename, params)
	resp, err := s.run(ctx, job, wsJob, upload.Filename, params)
	if err != nil {
		s.jobs.Fail(job, err)
		return nil, err
	}
	s.jobs.Complete(job, resp)
	return resp, nil
}

// MigrateAsync stages the upload, then runs the workflow in the background.
// Staging errors are returned directly.
func (s *MigrationService) MigrateAsync(upload Upload, params Params) (*Job, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	wsJob, err := s.Stage(upload)
	if err != nil {
		return nil, err
	}

	job := s.jobs.CreateJob(wsJob.ID, upload.Filename, params)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("migration goroutine panicked", "job_id", job.ID, "panic", r)
				s.jobs.Fail(job, fmt.Errorf("internal panic: %v", r))
			}
		}()

		s.jobs.SetRunning(job)
		resp, err := s.run(s.baseCtx, job, wsJob, upload.Filename, params)
		if err != nil {
			s.jobs.Fail(job, err)
			return
		}
		s.jobs.Complete(job, resp)
	}()

	return job, nil
}

func (s *MigrationService) run(ctx context.Context, job *Job, wsJob *workspace.Job, filename string, params Params) (*Response, error) {
	req := migrate.Request{
		UploadsDir:   wsJob.UploadsDir,
		DownloadsDir: wsJob.DownloadsDir,
		Language:     params.Language,
		FromVersion:  params.FromVersion,
		ToVersion:    params.ToVersion,
	}

	outcome, err := s.runner.Run(ctx, req, func(p migrate.Progress) {
		s.jobs.UpdateProgress(job, p)
	})
	if err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	stem := workspace.UploadStem(filename)
	if err := s.packager.Pack(wsJob.DownloadsDir, s.layout.ArchivePath(wsJob, stem)); err != nil {
		// The archive endpoint rebuilds on demand, so the link stays valid.
		s.logger.Warn("packing project archive failed", "job_id", wsJob.ID, "error", err)
	}

	resp := &Response{
		Summary:        outcome.Summary,
		DownloadLinks:  outcome.Links,
		ProjectZipLink: ProjectZipLink(stem, wsJob.ID),
		JobID:          wsJob.ID,
		Files:          make([]FileSummary, len(outcome.Files)),
	}
	if resp.DownloadLinks == nil {
		resp.DownloadLinks = []string{}
	}
	for i, f := range outcome.Files {
		resp.Files[i] = FileSummary{
			Filename:     f.Filename,
			Path:         f.Path,
			Kind:         f.Kind,
			Summary:      f.Summary,
			Migrated:     f.Migrated(),
			DownloadLink: JobDownloadLink(f.Path, wsJob.ID),
		}
	}
	return resp, nil
}

// JobDownloadLink is the download link of rel within one job.
func JobDownloadLink(rel, jobID string) string {
	return workspace.DownloadPrefix + rel + "?job=" + url.QueryEscape(jobID)
}

// ProjectZipLink is the archive link for an upload stem within a job.
func ProjectZipLink(stem, jobID string) string {
	return ProjectZipPrefix + url.PathEscape(stem) + "?job=" + url.QueryEscape(jobID)
}

// BuildProjectZip (re)builds the named archive and returns its path. With a
// job id the archive covers that job's downloads; otherwise the whole
// downloads root.
func (s *MigrationService) BuildProjectZip(name, jobID string) (string, error) {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("%w: archive name %q", workspace.ErrNotFound, name)
	}

	var wsJob *workspace.Job
	src := s.layout.DownloadsRoot()
	if jobID != "" {
		j, err := s.layout.OpenJob(jobID)
		if err != nil {
			return "", err
		}
		wsJob, src = j, j.DownloadsDir
	}

	zipPath := s.layout.ArchivePath(wsJob, name)
	if err := s.packager.Pack(src, zipPath); err != nil {
		return "", err
	}
	s.logger.Info("project zip created", "path", zipPath, "job_id", jobID)
	return zipPath, nil
}

// ResolveDownload maps a download link path to a file on disk.
func (s *MigrationService) ResolveDownload(rel, jobID string) (string, error) {
	return s.layout.ResolveDownload(rel, jobID)
}

// Shutdown cancels background jobs and waits for them to stop.
func (s *MigrationService) Shutdown(ctx context.Context) error {
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
