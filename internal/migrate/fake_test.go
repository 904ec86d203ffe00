package migrate

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
)

const (
	beginMarker = "--- BEGIN ORIGINAL FILE CONTENT ---\n"
	endMarker   = "\n--- END ORIGINAL FILE CONTENT ---"
)

// fakeAgent stands in for the model. By default phases answer with a fixed
// text and files come back with a marker line prepended.
type fakeAgent struct {
	mu                sync.Mutex
	runPrompts        []string
	structuredPrompts []string

	runFn func(ctx context.Context, prompt string) (string, error)
	genFn func(ctx context.Context, content string) (code, summary string, err error)
}

func (f *fakeAgent) Run(ctx context.Context, _, userPrompt string) (string, error) {
	f.mu.Lock()
	f.runPrompts = append(f.runPrompts, userPrompt)
	n := len(f.runPrompts)
	f.mu.Unlock()

	if f.runFn != nil {
		return f.runFn(ctx, userPrompt)
	}
	return fmt.Sprintf("phase %d output", n), nil
}

func (f *fakeAgent) GenerateStructured(ctx context.Context, _, userPrompt string, out any) error {
	f.mu.Lock()
	f.structuredPrompts = append(f.structuredPrompts, userPrompt)
	f.mu.Unlock()

	content := originalContent(userPrompt)
	code, summary := "// migrated\n"+content, "Updated file."
	if f.genFn != nil {
		var err error
		code, summary, err = f.genFn(ctx, content)
		if err != nil {
			return err
		}
	}

	data, err := json.Marshal(map[string]string{"migrated_code": code, "summary": summary})
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

// originalContent pulls the file body back out of a JSON-encoded prompt.
func originalContent(prompt string) string {
	var p filePrompt
	if err := json.Unmarshal([]byte(prompt), &p); err != nil {
		return ""
	}
	start := strings.Index(p.Context, beginMarker)
	end := strings.LastIndex(p.Context, endMarker)
	if start < 0 || end < start {
		return ""
	}
	return p.Context[start+len(beginMarker) : end]
}
