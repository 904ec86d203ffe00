package workspace

import (
	"io/fs"
	"path/filepath"
)

// DownloadPrefix is the route under which migrated files are served.
const DownloadPrefix = "/api/download/"

// BuildLinks returns one download link per regular file under dir, in walk
// order. Paths are relative to dir and use forward slashes.
func BuildLinks(dir string) ([]string, error) {
	links := []string{}
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		links = append(links, DownloadPrefix+filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return links, nil
}
