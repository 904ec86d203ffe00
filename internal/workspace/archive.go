package workspace

import (
	"archive/zip"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Satyacharanv/CodeConversionAI/internal/metrics"
)

// Packager builds project archives. Packs that target the same archive path
// run one at a time; different paths proceed in parallel.
type Packager struct {
	Metrics *metrics.Collector

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewPackager creates a Packager.
func NewPackager(m *metrics.Collector) *Packager {
	return &Packager{Metrics: m, locks: make(map[string]*sync.Mutex)}
}

func (p *Packager) lockFor(path string) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.locks == nil {
		p.locks = make(map[string]*sync.Mutex)
	}
	l, ok := p.locks[path]
	if !ok {
		l = &sync.Mutex{}
		p.locks[path] = l
	}
	return l
}

// Pack replaces zipPath with a fresh archive of every regular file under
// srcDir. Entry names are relative to srcDir with forward slashes.
func (p *Packager) Pack(srcDir, zipPath string) (err error) {
	start := time.Now()
	defer func() { p.Metrics.RecordTiming(metrics.OpArchive, time.Since(start), err) }()

	absZip, err := filepath.Abs(zipPath)
	if err != nil {
		return fmt.Errorf("resolve archive path: %w", err)
	}
	l := p.lockFor(absZip)
	l.Lock()
	defer l.Unlock()

	info, err := os.Stat(srcDir)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrNotFound, srcDir)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrNotFound, srcDir)
	}

	if err := os.MkdirAll(filepath.Dir(absZip), 0o755); err != nil {
		return fmt.Errorf("create archive directory: %w", err)
	}

	// Build next to the destination and rename so readers never see a
	// half-written archive.
	tmp, err := os.CreateTemp(filepath.Dir(absZip), ".pack-*.zip")
	if err != nil {
		return fmt.Errorf("create archive: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := writeZip(tmp, srcDir, absZip); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close archive: %w", err)
	}

	if err := os.Remove(absZip); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove previous archive: %w", err)
	}
	if err := os.Rename(tmpName, absZip); err != nil {
		return fmt.Errorf("move archive into place: %w", err)
	}
	return nil
}

func writeZip(w io.Writer, srcDir, skip string) error {
	zw := zip.NewWriter(w)

	err := filepath.WalkDir(srcDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if abs, _ := filepath.Abs(path); abs == skip {
			return nil
		}

		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		hdr, err := zip.FileInfoHeader(info)
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		hdr.Method = zip.Deflate

		dst, err := zw.CreateHeader(hdr)
		if err != nil {
			return err
		}
		src, err := os.Open(path)
		if err != nil {
			return err
		}
		_, err = io.Copy(dst, src)
		src.Close()
		return err
	})
	if err != nil {
		zw.Close()
		return fmt.Errorf("write archive: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("finish archive: %w", err)
	}
	return nil
}
