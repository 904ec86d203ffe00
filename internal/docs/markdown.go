// Package docs indexes the version documentation consulted during the
// documentation review phase.
package docs

import (
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

var h1Regex = regexp.MustCompile(`(?m)^#\s+(.+)$`)

// MarkdownDoc represents a parsed Markdown document.
type MarkdownDoc struct {
	// Frontmatter metadata (from YAML)
	Frontmatter map[string]any

	// Title extracted from frontmatter or the first h1
	Title string

	// Content after the frontmatter block
	Content string
}

// ParseMarkdown splits optional YAML frontmatter from the body.
// Malformed frontmatter is ignored rather than reported.
func ParseMarkdown(content string) *MarkdownDoc {
	doc := &MarkdownDoc{Frontmatter: make(map[string]any)}

	remaining := strings.ReplaceAll(content, "\r\n", "\n")
	if strings.HasPrefix(remaining, "---\n") {
		endIdx := strings.Index(remaining[4:], "\n---")
		if endIdx >= 0 {
			frontmatterYAML := remaining[4 : 4+endIdx]
			remaining = strings.TrimPrefix(remaining[4+endIdx+4:], "\n")

			if err := yaml.Unmarshal([]byte(frontmatterYAML), &doc.Frontmatter); err != nil || doc.Frontmatter == nil {
				doc.Frontmatter = make(map[string]any)
			}
		}
	}

	doc.Content = remaining
	doc.Title = extractTitle(doc.Frontmatter, remaining)
	return doc
}

func extractTitle(fm map[string]any, content string) string {
	if title, ok := fm["title"].(string); ok && title != "" {
		return title
	}
	if match := h1Regex.FindStringSubmatch(content); len(match) > 1 {
		return strings.TrimSpace(match[1])
	}
	return ""
}

// GetString extracts a scalar from frontmatter as a string.
// Numeric versions such as `from: 8` are returned in their YAML form.
func (d *MarkdownDoc) GetString(key string) string {
	switch v := d.Frontmatter[key].(type) {
	case string:
		return v
	case int, int64, float64, bool:
		b, err := yaml.Marshal(v)
		if err != nil {
			return ""
		}
		return strings.TrimSpace(string(b))
	}
	return ""
}

// GetStringSlice extracts a list (or a single scalar) from frontmatter.
func (d *MarkdownDoc) GetStringSlice(key string) []string {
	switch v := d.Frontmatter[key].(type) {
	case []any:
		result := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				result = append(result, s)
			}
		}
		return result
	case nil:
		return nil
	}
	if s := d.GetString(key); s != "" {
		return []string{s}
	}
	return nil
}
