// Package migrate runs the four-phase migration workflow over a staged job:
// structure analysis, documentation review, per-file migration and a final
// review.
package migrate

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/Satyacharanv/CodeConversionAI/internal/config"
	"github.com/Satyacharanv/CodeConversionAI/internal/docs"
	"github.com/Satyacharanv/CodeConversionAI/internal/metrics"
	"github.com/Satyacharanv/CodeConversionAI/internal/workspace"
)

// ErrPhaseTimeout is reported when a model call exceeds its time budget.
var ErrPhaseTimeout = errors.New("timed out")

// Summaries recorded for files that were not rewritten.
const (
	SummaryCopied      = "No migration needed, file copied as-is."
	summaryCopyFailed  = "Copy failed: "
	summaryMigrateFail = "Migration failed: "
)

// File kinds.
const (
	KindCode        = "code"
	KindPassThrough = "pass-through"
)

// Phases reported through progress updates.
const (
	PhaseStructure     = "structure_analysis"
	PhaseDocumentation = "documentation_review"
	PhaseFiles         = "file_migration"
	PhaseReview        = "final_review"
)

var phaseNames = map[string]string{
	PhaseStructure:     "structure analysis",
	PhaseDocumentation: "documentation review",
	PhaseReview:        "final review",
}

// Default time budgets.
const (
	DefaultPhaseTimeout = 400 * time.Second
	DefaultFileTimeout  = 300 * time.Second
)

// Agent is the model capability the workflow depends on. Run may use tools;
// GenerateStructured decodes a JSON answer into out.
type Agent interface {
	Run(ctx context.Context, systemPrompt, userPrompt string) (string, error)
	GenerateStructured(ctx context.Context, systemPrompt, userPrompt string, out any) error
}

// Request identifies one staged job and the migration it asks for.
type Request struct {
	UploadsDir   string
	DownloadsDir string
	Language     string
	FromVersion  string
	ToVersion    string
}

// FileResult records what happened to one file of the uploads tree.
type FileResult struct {
	Filename     string  `json:"filename"`
	Path         string  `json:"path"`
	Kind         string  `json:"kind"`
	Summary      string  `json:"summary"`
	MigratedCode *string `json:"migrated_code,omitempty"`
}

// Migrated reports whether the file was rewritten by the model.
func (r FileResult) Migrated() bool { return r.MigratedCode != nil }

// Outcome is the result of a whole run.
type Outcome struct {
	Summary      string
	Structure    string
	VersionNotes string
	Files        []FileResult
	Links        []string
}

// Progress describes how far a run has come.
type Progress struct {
	Phase string
	Done  int
	Total int
	File  string
}

// ProgressFunc receives progress updates. Calls may come from several
// goroutines when Concurrency > 1.
type ProgressFunc func(Progress)

// Options configures a Migrator.
type Options struct {
	DocumentsDir   string
	PhaseTimeout   time.Duration
	FileTimeout    time.Duration
	Concurrency    int
	CodeExtensions []string
	Logger         *slog.Logger
	Metrics        *metrics.Collector
}

// Migrator runs the workflow against an Agent.
type Migrator struct {
	agent Agent
	opts  Options
}

// New creates a Migrator, filling unset options with defaults.
func New(agent Agent, opts Options) *Migrator {
	if opts.PhaseTimeout <= 0 {
		opts.PhaseTimeout = DefaultPhaseTimeout
	}
	if opts.FileTimeout <= 0 {
		opts.FileTimeout = DefaultFileTimeout
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if len(opts.CodeExtensions) == 0 {
		opts.CodeExtensions = config.DefaultCodeExtensions
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Migrator{agent: agent, opts: opts}
}

// IsCodeFile reports whether name ends in one of exts, ignoring case.
func IsCodeFile(name string, exts []string) bool {
	lower := strings.ToLower(name)
	for _, ext := range exts {
		if strings.HasSuffix(lower, strings.ToLower(ext)) {
			return true
		}
	}
	return false
}

// Run executes the four phases. Model failures never fail the run: they are
// folded into the outcome text. An error is returned only when the uploads
// tree cannot be walked or ctx is cancelled.
func (m *Migrator) Run(ctx context.Context, req Request, onProgress ProgressFunc) (*Outcome, error) {
	log := m.opts.Logger.With("uploads_dir", req.UploadsDir)
	report := func(p Progress) {
		if onProgress != nil {
			onProgress(p)
		}
	}
	log.Info("migration started", "language", req.Language, "from", req.FromVersion, "to", req.ToVersion)

	out := &Outcome{}

	report(Progress{Phase: PhaseStructure})
	out.Structure = m.runPhase(ctx, PhaseStructure, structurePrompt(req.UploadsDir))
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	report(Progress{Phase: PhaseDocumentation})
	out.VersionNotes = m.runPhase(ctx, PhaseDocumentation, documentationPrompt(m.opts.DocumentsDir, req, m.relevantDocs(req)))
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := m.collectFiles(req)
	if err != nil {
		return nil, err
	}

	report(Progress{Phase: PhaseFiles, Total: len(entries)})
	out.Files = m.migrateFiles(ctx, req, out, entries, report)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	report(Progress{Phase: PhaseReview, Done: len(entries), Total: len(entries)})
	prompt, err := reviewPrompt(req, out.Files)
	if err != nil {
		out.Summary = fmt.Sprintf("Error processing %s: %v", phaseNames[PhaseReview], err)
	} else {
		out.Summary = m.runPhase(ctx, PhaseReview, prompt)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	links, err := workspace.BuildLinks(req.DownloadsDir)
	if err != nil {
		log.Error("building download links failed", "error", err)
		links = []string{}
	}
	out.Links = links

	log.Info("migration finished", "files", len(out.Files), "links", len(out.Links))
	return out, nil
}

// runPhase issues one agent request bounded by PhaseTimeout and degrades
// any failure into text.
func (m *Migrator) runPhase(ctx context.Context, phase, prompt string) string {
	start := time.Now()
	var result string
	err := callWithTimeout(ctx, m.opts.PhaseTimeout, func(ctx context.Context) error {
		var err error
		result, err = m.agent.Run(ctx, agentSystemPrompt, prompt)
		return err
	})
	duration := time.Since(start)

	if err != nil {
		m.opts.Logger.Error("phase failed", "phase", phase, "duration_ms", duration.Milliseconds(), "error", err)
		return fmt.Sprintf("Error processing %s: %v", phaseNames[phase], err)
	}
	m.opts.Logger.Info("phase complete", "phase", phase, "duration_ms", duration.Milliseconds())
	return result
}

func (m *Migrator) relevantDocs(req Request) []docs.Document {
	if m.opts.DocumentsDir == "" {
		return nil
	}
	cat, err := docs.Scan(m.opts.DocumentsDir)
	if err != nil {
		m.opts.Logger.Warn("scanning documents failed", "dir", m.opts.DocumentsDir, "error", err)
		return nil
	}
	return cat.Match(req.Language, req.FromVersion, req.ToVersion)
}

// callWithTimeout runs fn with a deadline and returns as soon as the
// deadline passes even if fn does not honour its context. fn must not
// publish results the caller reads unless it returns nil in time.
func callWithTimeout(ctx context.Context, timeout time.Duration, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic: %v", r)
			}
		}()
		done <- fn(ctx)
	}()

	select {
	case err := <-done:
		if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w after %s", ErrPhaseTimeout, timeout)
		}
		return err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w after %s", ErrPhaseTimeout, timeout)
		}
		return ctx.Err()
	}
}

type fileEntry struct {
	src string
	dst string
	rel string
}

// collectFiles walks the uploads tree in lexical order, mirrors every
// directory into the downloads tree and returns the files to process.
func (m *Migrator) collectFiles(req Request) ([]fileEntry, error) {
	var entries []fileEntry
	err := filepath.WalkDir(req.UploadsDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == req.UploadsDir {
				return err
			}
			m.opts.Logger.Warn("skipping unreadable entry", "path", path, "error", err)
			return nil
		}

		rel, err := filepath.Rel(req.UploadsDir, path)
		if err != nil {
			return err
		}
		dst := filepath.Join(req.DownloadsDir, rel)

		if d.IsDir() {
			if err := os.MkdirAll(dst, 0o755); err != nil {
				m.opts.Logger.Warn("mirroring directory failed", "path", rel, "error", err)
			}
			return nil
		}
		entries = append(entries, fileEntry{src: path, dst: dst, rel: filepath.ToSlash(rel)})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk uploads: %w", err)
	}
	return entries, nil
}

func (m *Migrator) migrateFiles(ctx context.Context, req Request, phases *Outcome, entries []fileEntry, report func(Progress)) []FileResult {
	results := make([]FileResult, len(entries))
	processed := make([]bool, len(entries))

	var g errgroup.Group
	g.SetLimit(m.opts.Concurrency)

	var done atomic.Int64
	for i, e := range entries {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			results[i] = m.migrateFile(ctx, req, phases, e)
			processed[i] = true
			n := done.Add(1)
			report(Progress{Phase: PhaseFiles, Done: int(n), Total: len(entries), File: e.rel})
			return nil
		})
	}
	_ = g.Wait()

	out := make([]FileResult, 0, len(entries))
	for i, r := range results {
		if processed[i] {
			out = append(out, r)
		}
	}
	return out
}

func (m *Migrator) migrateFile(ctx context.Context, req Request, phases *Outcome, e fileEntry) FileResult {
	start := time.Now()
	res := FileResult{Filename: filepath.Base(e.src), Path: e.rel, Kind: KindPassThrough}
	log := m.opts.Logger.With("file", e.rel)

	var failure error
	defer func() {
		m.opts.Metrics.RecordTiming(metrics.OpFileMigration, time.Since(start), failure)
	}()

	if !IsCodeFile(res.Filename, m.opts.CodeExtensions) {
		if err := copyFile(e.src, e.dst); err != nil {
			failure = err
			log.Error("copy failed", "error", err)
			res.Summary = summaryCopyFailed + err.Error()
			return res
		}
		log.Debug("copied pass-through file")
		res.Summary = SummaryCopied
		return res
	}

	res.Kind = KindCode
	data, err := os.ReadFile(e.src)
	if err != nil {
		failure = err
		log.Error("read failed", "error", err)
		res.Summary = summaryCopyFailed + err.Error()
		return res
	}

	prompt, err := migrationPrompt(req, phases.Structure, phases.VersionNotes, decodeText(data))
	if err != nil {
		failure = err
		res.Summary = summaryMigrateFail + err.Error()
		return res
	}

	var answer struct {
		MigratedCode string `json:"migrated_code"`
		Summary      string `json:"summary"`
	}
	err = callWithTimeout(ctx, m.opts.FileTimeout, func(ctx context.Context) error {
		var out struct {
			MigratedCode string `json:"migrated_code"`
			Summary      string `json:"summary"`
		}
		if err := m.agent.GenerateStructured(ctx, fileSystemPrompt, prompt, &out); err != nil {
			return err
		}
		answer = out
		return nil
	})
	if err != nil {
		failure = err
		log.Error("file migration failed", "error", err)
		res.Summary = summaryMigrateFail + err.Error()
		// Keep the downloads tree complete with the original content.
		if cerr := writeFile(e.dst, data); cerr != nil {
			res.Summary = summaryCopyFailed + cerr.Error()
		}
		return res
	}

	if err := writeFile(e.dst, []byte(answer.MigratedCode)); err != nil {
		failure = err
		log.Error("writing migrated file failed", "error", err)
		res.Summary = summaryCopyFailed + err.Error()
		return res
	}

	code := answer.MigratedCode
	res.MigratedCode = &code
	res.Summary = answer.Summary
	log.Info("file migrated", "duration_ms", time.Since(start).Milliseconds())
	return res
}

// decodeText returns data as text, replacing invalid UTF-8 sequences.
func decodeText(data []byte) string {
	if utf8.Valid(data) {
		return string(data)
	}
	return string(bytes.ToValidUTF8(data, []byte("\uFFFD")))
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
