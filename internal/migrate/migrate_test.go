package migrate

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Satyacharanv/CodeConversionAI/internal/metrics"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
}

func newRequest(t *testing.T, files map[string]string) Request {
	t.Helper()
	root := t.TempDir()
	req := Request{
		UploadsDir:   filepath.Join(root, "uploads"),
		DownloadsDir: filepath.Join(root, "downloads"),
		Language:     "java",
		FromVersion:  "8",
		ToVersion:    "17",
	}
	require.NoError(t, os.MkdirAll(req.UploadsDir, 0o755))
	require.NoError(t, os.MkdirAll(req.DownloadsDir, 0o755))
	writeTree(t, req.UploadsDir, files)
	return req
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestRunSingleFile(t *testing.T) {
	req := newRequest(t, map[string]string{"App.java": "class App {}"})
	agent := &fakeAgent{}

	out, err := New(agent, Options{}).Run(context.Background(), req, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"/api/download/App.java"}, out.Links)
	assert.Equal(t, "phase 3 output", out.Summary)
	assert.Equal(t, "phase 1 output", out.Structure)
	assert.Equal(t, "phase 2 output", out.VersionNotes)

	require.Len(t, out.Files, 1)
	f := out.Files[0]
	assert.Equal(t, "App.java", f.Filename)
	assert.Equal(t, "App.java", f.Path)
	assert.Equal(t, KindCode, f.Kind)
	assert.Equal(t, "Updated file.", f.Summary)
	require.True(t, f.Migrated())
	assert.Equal(t, "// migrated\nclass App {}", *f.MigratedCode)

	assert.Equal(t, *f.MigratedCode, readFile(t, filepath.Join(req.DownloadsDir, "App.java")))
}

func TestRunZipLayout(t *testing.T) {
	req := newRequest(t, map[string]string{
		"src/main/App.java": "class App {}",
		"README.md":         "# Demo\n",
	})
	agent := &fakeAgent{genFn: func(_ context.Context, content string) (string, string, error) {
		if strings.HasPrefix(content, "#") {
			return content, "No changes required.", nil
		}
		return "record App() {}", "Converted to a record.", nil
	}}

	out, err := New(agent, Options{}).Run(context.Background(), req, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"/api/download/README.md", "/api/download/src/main/App.java"}, out.Links)
	assert.Equal(t, "record App() {}", readFile(t, filepath.Join(req.DownloadsDir, "src", "main", "App.java")))
	assert.Equal(t, "# Demo\n", readFile(t, filepath.Join(req.DownloadsDir, "README.md")))

	require.Len(t, out.Files, 2)
	assert.Equal(t, "README.md", out.Files[0].Path)
	assert.Equal(t, "src/main/App.java", out.Files[1].Path)
	assert.Equal(t, "App.java", out.Files[1].Filename)
}

func TestRunPassThroughIsByteIdentical(t *testing.T) {
	binary := string([]byte{0x89, 'P', 'N', 'G', 0x00, 0xff, 0xfe, '\n'})
	req := newRequest(t, map[string]string{
		"assets/logo.png": binary,
		"lib/driver.jar":  "PK\x03\x04jar",
	})
	agent := &fakeAgent{}

	out, err := New(agent, Options{}).Run(context.Background(), req, nil)
	require.NoError(t, err)

	assert.Equal(t, binary, readFile(t, filepath.Join(req.DownloadsDir, "assets", "logo.png")))
	assert.Equal(t, "PK\x03\x04jar", readFile(t, filepath.Join(req.DownloadsDir, "lib", "driver.jar")))
	for _, f := range out.Files {
		assert.Equal(t, KindPassThrough, f.Kind)
		assert.Equal(t, SummaryCopied, f.Summary)
		assert.Nil(t, f.MigratedCode)
	}
	assert.Empty(t, agent.structuredPrompts, "pass-through files never reach the model")
}

func TestRunWritesMigratedCodeVerbatim(t *testing.T) {
	req := newRequest(t, map[string]string{"pom.xml": "<project/>"})
	code := "<project>\n  <properties>  \n</project>"
	agent := &fakeAgent{genFn: func(context.Context, string) (string, string, error) {
		return code, "Bumped java.version.", nil
	}}

	_, err := New(agent, Options{}).Run(context.Background(), req, nil)
	require.NoError(t, err)
	assert.Equal(t, code, readFile(t, filepath.Join(req.DownloadsDir, "pom.xml")))
}

func TestRunFileTimeout(t *testing.T) {
	req := newRequest(t, map[string]string{
		"A.java":    "class A {}",
		"Slow.java": "class Slow {}",
		"Z.java":    "class Z {}",
		"notes.bin": "raw",
	})
	agent := &fakeAgent{genFn: func(ctx context.Context, content string) (string, string, error) {
		if strings.Contains(content, "Slow") {
			<-ctx.Done()
			return "", "", ctx.Err()
		}
		return "migrated " + content, "ok", nil
	}}
	collector := metrics.NewCollector()

	out, err := New(agent, Options{FileTimeout: 50 * time.Millisecond, Metrics: collector}).Run(context.Background(), req, nil)
	require.NoError(t, err)
	require.Len(t, out.Files, 4)

	byPath := map[string]FileResult{}
	for _, f := range out.Files {
		byPath[f.Path] = f
	}

	slow := byPath["Slow.java"]
	assert.True(t, strings.HasPrefix(slow.Summary, "Migration failed: "), slow.Summary)
	assert.Contains(t, slow.Summary, "timed out")
	assert.Nil(t, slow.MigratedCode)
	assert.Equal(t, "class Slow {}", readFile(t, filepath.Join(req.DownloadsDir, "Slow.java")), "original kept in downloads")

	assert.Equal(t, "migrated class A {}", readFile(t, filepath.Join(req.DownloadsDir, "A.java")))
	assert.Equal(t, "migrated class Z {}", readFile(t, filepath.Join(req.DownloadsDir, "Z.java")))
	assert.Equal(t, SummaryCopied, byPath["notes.bin"].Summary)
	assert.Len(t, out.Links, 4)
	assert.NotEmpty(t, out.Summary)

	snap := collector.Snapshot()
	assert.Equal(t, int64(4), snap.FileMigration.Count)
	assert.Equal(t, int64(1), snap.FileMigration.Failures)
}

func TestRunGenerationErrorDegradesFile(t *testing.T) {
	req := newRequest(t, map[string]string{"App.java": "class App {}"})
	agent := &fakeAgent{genFn: func(context.Context, string) (string, string, error) {
		return "", "", errors.New("decode structured output: unexpected end of JSON input")
	}}

	out, err := New(agent, Options{}).Run(context.Background(), req, nil)
	require.NoError(t, err)
	assert.Equal(t, "Migration failed: decode structured output: unexpected end of JSON input", out.Files[0].Summary)
	assert.Equal(t, []string{"/api/download/App.java"}, out.Links)
}

func TestRunCopyFailureIsIsolated(t *testing.T) {
	req := newRequest(t, map[string]string{
		"a.bin":    "a",
		"b.bin":    "b",
		"App.java": "class App {}",
	})
	// A directory in the way makes the copy of b.bin and the write of App.java fail.
	require.NoError(t, os.MkdirAll(filepath.Join(req.DownloadsDir, "b.bin"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(req.DownloadsDir, "App.java"), 0o755))

	out, err := New(&fakeAgent{}, Options{}).Run(context.Background(), req, nil)
	require.NoError(t, err)
	require.Len(t, out.Files, 3)

	byPath := map[string]FileResult{}
	for _, f := range out.Files {
		byPath[f.Path] = f
	}
	assert.Equal(t, SummaryCopied, byPath["a.bin"].Summary)
	assert.True(t, strings.HasPrefix(byPath["b.bin"].Summary, "Copy failed: "), byPath["b.bin"].Summary)
	assert.True(t, strings.HasPrefix(byPath["App.java"].Summary, "Copy failed: "), byPath["App.java"].Summary)
	assert.Nil(t, byPath["App.java"].MigratedCode)
	assert.Equal(t, []string{"/api/download/a.bin"}, out.Links)
}

func TestRunPhaseFailuresDegrade(t *testing.T) {
	req := newRequest(t, map[string]string{"App.java": "class App {}"})
	agent := &fakeAgent{runFn: func(ctx context.Context, prompt string) (string, error) {
		switch {
		case strings.HasPrefix(prompt, "STEP 1"):
			return "", errors.New("401 unauthorized")
		case strings.HasPrefix(prompt, "STEP 2"):
			<-ctx.Done()
			return "", ctx.Err()
		}
		return "final", nil
	}}

	out, err := New(agent, Options{PhaseTimeout: 30 * time.Millisecond}).Run(context.Background(), req, nil)
	require.NoError(t, err)

	assert.Len(t, agent.runPrompts, 3)
	assert.Equal(t, "Error processing structure analysis: 401 unauthorized", out.Structure)
	assert.True(t, strings.HasPrefix(out.VersionNotes, "Error processing documentation review: timed out"), out.VersionNotes)
	assert.Equal(t, "final", out.Summary)

	require.Len(t, agent.structuredPrompts, 1)
	var p filePrompt
	require.NoError(t, json.Unmarshal([]byte(agent.structuredPrompts[0]), &p))
	assert.Contains(t, p.Context, "Step 1 Results:\nError processing structure analysis")
}

func TestRunPromptContents(t *testing.T) {
	req := newRequest(t, map[string]string{"App.java": "class App {}", "logo.png": "png"})
	agent := &fakeAgent{}

	_, err := New(agent, Options{DocumentsDir: "/srv/docs"}).Run(context.Background(), req, nil)
	require.NoError(t, err)

	require.Len(t, agent.runPrompts, 3)
	assert.Contains(t, agent.runPrompts[0], req.UploadsDir)
	assert.Contains(t, agent.runPrompts[1], "/srv/docs")
	assert.Contains(t, agent.runPrompts[1], "from 8 to 17 in java")

	var p filePrompt
	require.NoError(t, json.Unmarshal([]byte(agent.structuredPrompts[0]), &p))
	assert.Contains(t, p.Context, "You are a senior java developer")
	assert.Contains(t, p.Context, "Step 1 Results:\nphase 1 output")
	assert.Contains(t, p.Context, "Step 2 Results:\nphase 2 output")
	assert.Contains(t, p.Context, beginMarker+"class App {}"+endMarker)
	assert.Len(t, p.Instructions, 9)
	assert.Contains(t, p.Instructions[1], "version 17 for java")

	review := agent.runPrompts[2]
	assert.Contains(t, review, `"filename": "App.java"`)
	assert.Contains(t, review, `"filename": "logo.png"`)
	assert.Contains(t, review, SummaryCopied)
	assert.NotContains(t, review, "migrated_code")
	assert.NotContains(t, review, "class App {}")
	assert.Contains(t, review, "Do NOT include any file paths")
}

func TestRunListsMatchingDocuments(t *testing.T) {
	docsDir := t.TempDir()
	writeTree(t, docsDir, map[string]string{
		"java-17.md":  "---\nlanguage: java\nfrom: 8\nto: 17\n---\n# Java 17 migration\n",
		"python-3.md": "---\nlanguage: python\n---\n# Python 3\n",
	})
	req := newRequest(t, map[string]string{"App.java": "class App {}"})
	agent := &fakeAgent{}

	_, err := New(agent, Options{DocumentsDir: docsDir}).Run(context.Background(), req, nil)
	require.NoError(t, err)

	assert.Contains(t, agent.runPrompts[1], filepath.Join(docsDir, "java-17.md"))
	assert.Contains(t, agent.runPrompts[1], "Java 17 migration")
	assert.NotContains(t, agent.runPrompts[1], "python-3.md")
}

func TestRunDecodesInvalidUTF8(t *testing.T) {
	req := newRequest(t, map[string]string{"Legacy.java": "String s = \"caf\xe9\";"})
	agent := &fakeAgent{}

	_, err := New(agent, Options{}).Run(context.Background(), req, nil)
	require.NoError(t, err)

	assert.Equal(t, "// migrated\nString s = \"caf�\";", readFile(t, filepath.Join(req.DownloadsDir, "Legacy.java")))
}

func TestRunConcurrentKeepsWalkOrder(t *testing.T) {
	files := map[string]string{}
	var want []string
	for _, name := range []string{"a", "b", "c", "d", "e", "f", "g", "h"} {
		files["pkg/"+name+".java"] = "class " + name + " {}"
		want = append(want, "pkg/"+name+".java")
	}
	req := newRequest(t, files)
	agent := &fakeAgent{genFn: func(_ context.Context, content string) (string, string, error) {
		time.Sleep(5 * time.Millisecond)
		return content, "ok", nil
	}}

	var mu sync.Mutex
	var updates []Progress
	progress := func(p Progress) {
		mu.Lock()
		updates = append(updates, p)
		mu.Unlock()
	}

	out, err := New(agent, Options{Concurrency: 4}).Run(context.Background(), req, progress)
	require.NoError(t, err)

	var got []string
	for _, f := range out.Files {
		got = append(got, f.Path)
	}
	assert.Equal(t, want, got)

	maxDone := 0
	phases := map[string]bool{}
	for _, u := range updates {
		phases[u.Phase] = true
		if u.Phase == PhaseFiles && u.Done > maxDone {
			maxDone = u.Done
		}
	}
	assert.Equal(t, len(want), maxDone)
	for _, p := range []string{PhaseStructure, PhaseDocumentation, PhaseFiles, PhaseReview} {
		assert.True(t, phases[p], p)
	}
}

func TestRunMissingUploads(t *testing.T) {
	req := Request{UploadsDir: filepath.Join(t.TempDir(), "missing"), DownloadsDir: t.TempDir()}

	_, err := New(&fakeAgent{}, Options{}).Run(context.Background(), req, nil)
	assert.Error(t, err)
}

func TestRunCancelled(t *testing.T) {
	req := newRequest(t, map[string]string{"App.java": "class App {}"})
	ctx, cancel := context.WithCancel(context.Background())
	agent := &fakeAgent{runFn: func(context.Context, string) (string, error) {
		cancel()
		return "", context.Canceled
	}}

	_, err := New(agent, Options{}).Run(ctx, req, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, agent.structuredPrompts)
}

func TestCallWithTimeoutIgnoresUncooperativeWork(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	start := time.Now()
	err := callWithTimeout(context.Background(), 20*time.Millisecond, func(context.Context) error {
		<-release
		return nil
	})
	assert.ErrorIs(t, err, ErrPhaseTimeout)
	assert.Less(t, time.Since(start), time.Second)
}

func TestCallWithTimeoutRecoversPanic(t *testing.T) {
	err := callWithTimeout(context.Background(), time.Second, func(context.Context) error {
		panic("boom")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panic: boom")
}

func TestIsCodeFile(t *testing.T) {
	exts := []string{".java", ".xml", ".properties"}
	tests := []struct {
		name string
		want bool
	}{
		{"App.java", true},
		{"APP.JAVA", true},
		{"pom.xml", true},
		{"application.properties", true},
		{"logo.png", false},
		{"java", false},
		{"Makefile", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsCodeFile(tt.name, exts))
		})
	}
}
