package workspace

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// IsArchiveName reports whether an upload should be extracted rather than
// stored as a single file.
func IsArchiveName(name string) bool {
	return strings.HasSuffix(strings.ToLower(name), ".zip")
}

// UploadStem is the upload's file name without directories or extension.
// It names the project archive.
func UploadStem(name string) string {
	base := filepath.Base(filepath.FromSlash(strings.ReplaceAll(name, `\`, "/")))
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	if stem == "" || stem == "." || stem == ".." {
		return "project"
	}
	return stem
}

// StageFile writes a single uploaded file into the job's uploads directory
// under its base name. It returns the number of bytes written.
func (j *Job) StageFile(name string, r io.Reader) (int64, error) {
	base := filepath.Base(filepath.FromSlash(strings.ReplaceAll(name, `\`, "/")))
	if base == "" || base == "." || base == ".." || base == string(filepath.Separator) {
		return 0, fmt.Errorf("%w: bad file name %q", ErrInvalidUpload, name)
	}
	return writeFile(filepath.Join(j.UploadsDir, base), r)
}

// isRootEntry reports a directory entry naming the archive root itself, such
// as "./". It has nothing to extract.
func isRootEntry(f *zip.File) bool {
	name := strings.ReplaceAll(f.Name, `\`, "/")
	return f.FileInfo().IsDir() && !strings.HasPrefix(name, "/") && path.Clean(name) == "."
}

// StageArchive extracts every entry of a zip archive into the job's uploads
// directory, preserving relative paths. Entries that are absolute or climb
// out of the directory reject the whole archive, as does an extracted size
// above maxBytes (when maxBytes > 0).
func (j *Job) StageArchive(r io.ReaderAt, size, maxBytes int64) (int, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidUpload, err)
	}

	// Validate every name before writing anything.
	targets := make([]string, len(zr.File))
	for i, f := range zr.File {
		if isRootEntry(f) {
			continue
		}
		target, err := SafeJoin(j.UploadsDir, f.Name)
		if err != nil {
			return 0, err
		}
		targets[i] = target
	}

	var written int64
	files := 0
	for i, f := range zr.File {
		if isRootEntry(f) {
			continue
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(targets[i], 0o755); err != nil {
				return files, fmt.Errorf("create directory %s: %w", f.Name, err)
			}
			continue
		}

		remaining := int64(-1)
		if maxBytes > 0 {
			remaining = maxBytes - written
		}
		n, err := extractEntry(f, targets[i], remaining)
		written += n
		if err != nil {
			return files, err
		}
		files++
	}
	return files, nil
}

var errTooLarge = errors.New("archive exceeds maximum extracted size")

// extractEntry copies one entry. A negative limit means unbounded.
func extractEntry(f *zip.File, target string, limit int64) (int64, error) {
	rc, err := f.Open()
	if err != nil {
		return 0, fmt.Errorf("%w: open %s: %v", ErrInvalidUpload, f.Name, err)
	}
	defer rc.Close()

	var src io.Reader = rc
	if limit >= 0 {
		src = io.LimitReader(rc, limit+1)
	}

	n, err := writeFile(target, src)
	if err != nil {
		if errors.Is(err, zip.ErrChecksum) || errors.Is(err, zip.ErrFormat) || errors.Is(err, io.ErrUnexpectedEOF) {
			return n, fmt.Errorf("%w: %s: %v", ErrInvalidUpload, f.Name, err)
		}
		return n, err
	}
	if limit >= 0 && n > limit {
		return n, fmt.Errorf("%w: %v", ErrInvalidUpload, errTooLarge)
	}
	return n, nil
}

func writeFile(path string, r io.Reader) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, fmt.Errorf("create directory: %w", err)
	}
	out, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", filepath.Base(path), err)
	}
	n, err := io.Copy(out, r)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return n, nil
}
