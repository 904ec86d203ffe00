// Package workspace manages the per-job upload and download trees, the
// download links served for them, and the project archives built from them.
package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// Sentinel errors for workspace operations.
var (
	ErrInvalidUpload = errors.New("invalid upload")
	ErrNotFound      = errors.New("not found")
)

// Layout names the directories of the resources area.
type Layout struct {
	Root string
}

// UploadsRoot holds one staged input tree per job.
func (l Layout) UploadsRoot() string { return filepath.Join(l.Root, "uploads") }

// DownloadsRoot holds one migrated output tree per job.
func (l Layout) DownloadsRoot() string { return filepath.Join(l.Root, "downloads") }

// ArchivesRoot holds the project zips built from download trees.
func (l Layout) ArchivesRoot() string { return filepath.Join(l.Root, "archives") }

// Job is the directory pair owned by one migration request.
type Job struct {
	ID           string
	UploadsDir   string
	DownloadsDir string
}

// NewJob creates fresh upload and download directories keyed by a new id.
func (l Layout) NewJob() (*Job, error) {
	id := uuid.New().String()
	job := &Job{
		ID:           id,
		UploadsDir:   filepath.Join(l.UploadsRoot(), id),
		DownloadsDir: filepath.Join(l.DownloadsRoot(), id),
	}
	for _, dir := range []string{job.UploadsDir, job.DownloadsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create job directory: %w", err)
		}
	}
	return job, nil
}

// Remove deletes both of the job's directories.
func (j *Job) Remove() error {
	return errors.Join(os.RemoveAll(j.UploadsDir), os.RemoveAll(j.DownloadsDir))
}

// OpenJob returns the job with the given id if its download tree exists.
func (l Layout) OpenJob(id string) (*Job, error) {
	if !validID(id) {
		return nil, fmt.Errorf("%w: job %q", ErrNotFound, id)
	}
	job := &Job{
		ID:           id,
		UploadsDir:   filepath.Join(l.UploadsRoot(), id),
		DownloadsDir: filepath.Join(l.DownloadsRoot(), id),
	}
	info, err := os.Stat(job.DownloadsDir)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: job %q", ErrNotFound, id)
	}
	return job, nil
}

// ArchivePath is where the project zip named name is written. A nil job
// addresses the archive of the whole downloads root.
func (l Layout) ArchivePath(job *Job, name string) string {
	if job == nil {
		return filepath.Join(l.ArchivesRoot(), name+".zip")
	}
	return filepath.Join(l.ArchivesRoot(), job.ID, name+".zip")
}

// ResolveDownload finds the file a download link refers to. With a job id the
// lookup is scoped to that job. Otherwise rel is tried relative to the
// downloads root, then inside each job tree, newest first.
func (l Layout) ResolveDownload(rel, jobID string) (string, error) {
	rel = strings.TrimPrefix(filepath.ToSlash(rel), "/")
	if rel == "" {
		return "", fmt.Errorf("%w: empty path", ErrNotFound)
	}

	if jobID != "" {
		job, err := l.OpenJob(jobID)
		if err != nil {
			return "", err
		}
		return regularFileWithin(job.DownloadsDir, rel)
	}

	if p, err := regularFileWithin(l.DownloadsRoot(), rel); err == nil {
		return p, nil
	}

	for _, dir := range l.jobDirsNewestFirst() {
		if p, err := regularFileWithin(dir, rel); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrNotFound, rel)
}

func (l Layout) jobDirsNewestFirst() []string {
	entries, err := os.ReadDir(l.DownloadsRoot())
	if err != nil {
		return nil
	}

	type dirInfo struct {
		path  string
		mtime int64
	}
	var dirs []dirInfo
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		dirs = append(dirs, dirInfo{filepath.Join(l.DownloadsRoot(), e.Name()), info.ModTime().UnixNano()})
	}
	sort.SliceStable(dirs, func(i, j int) bool { return dirs[i].mtime > dirs[j].mtime })

	out := make([]string, len(dirs))
	for i, d := range dirs {
		out[i] = d.path
	}
	return out
}

// SafeJoin joins a slash-separated relative path onto base, refusing absolute
// paths and anything that would escape base.
func SafeJoin(base, rel string) (string, error) {
	if rel == "" || strings.HasPrefix(rel, "/") || strings.HasPrefix(rel, `\`) || filepath.IsAbs(rel) || filepath.VolumeName(rel) != "" {
		return "", fmt.Errorf("%w: unsafe path %q", ErrInvalidUpload, rel)
	}
	cleaned := filepath.Clean(filepath.FromSlash(rel))
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: unsafe path %q", ErrInvalidUpload, rel)
	}
	return filepath.Join(base, cleaned), nil
}

func regularFileWithin(base, rel string) (string, error) {
	p, err := SafeJoin(base, rel)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrNotFound, rel)
	}
	info, err := os.Stat(p)
	if err != nil || !info.Mode().IsRegular() {
		return "", fmt.Errorf("%w: %s", ErrNotFound, rel)
	}
	return p, nil
}

func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
