package docs

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Document describes one documentation file.
type Document struct {
	Path     string
	Title    string
	Language string
	From     string
	To       string
	Tags     []string
}

// Catalog is the set of documents found under a directory.
type Catalog struct {
	Root      string
	Documents []Document
}

// Scan indexes every Markdown and text file under root. Frontmatter keys
// `language`, `from`, `to` and `tags` describe what a document covers.
// A missing root yields an empty catalog.
func Scan(root string) (*Catalog, error) {
	cat := &Catalog{Root: root}

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root && errors.Is(err, fs.ErrNotExist) {
				return filepath.SkipAll
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext != ".md" && ext != ".markdown" && ext != ".txt" {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil
		}
		md := ParseMarkdown(string(data))

		title := md.Title
		if title == "" {
			title = strings.TrimSuffix(d.Name(), filepath.Ext(d.Name()))
		}
		cat.Documents = append(cat.Documents, Document{
			Path:     path,
			Title:    title,
			Language: md.GetString("language"),
			From:     md.GetString("from"),
			To:       md.GetString("to"),
			Tags:     md.GetStringSlice("tags"),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cat, nil
}

// Match returns documents relevant to a migration, best matches first.
// Documents without frontmatter are included after tagged matches since their
// relevance cannot be judged without reading them.
func (c *Catalog) Match(language, from, to string) []Document {
	if c == nil {
		return nil
	}

	var exact, partial, untagged []Document
	for _, doc := range c.Documents {
		if doc.Language == "" && doc.From == "" && doc.To == "" {
			untagged = append(untagged, doc)
			continue
		}
		if doc.Language != "" && !strings.EqualFold(doc.Language, language) {
			continue
		}
		fromOK := doc.From == "" || doc.From == from
		toOK := doc.To == "" || doc.To == to
		switch {
		case doc.From == from && doc.To == to:
			exact = append(exact, doc)
		case fromOK || toOK:
			partial = append(partial, doc)
		}
	}

	out := make([]Document, 0, len(exact)+len(partial)+len(untagged))
	out = append(out, exact...)
	out = append(out, partial...)
	out = append(out, untagged...)
	return out
}
