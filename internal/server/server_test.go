package server

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Satyacharanv/CodeConversionAI/internal/metrics"
	"github.com/Satyacharanv/CodeConversionAI/internal/migrate"
	"github.com/Satyacharanv/CodeConversionAI/internal/service"
	"github.com/Satyacharanv/CodeConversionAI/internal/workspace"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// stubAgent answers every phase with canned text and prefixes migrated code.
type stubAgent struct {
	release chan struct{}
}

func (a *stubAgent) Run(ctx context.Context, _, prompt string) (string, error) {
	if a.release != nil {
		select {
		case <-a.release:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if strings.HasPrefix(prompt, "STEP 3") {
		return "Project migrated.", nil
	}
	return "ok", nil
}

func (a *stubAgent) GenerateStructured(_ context.Context, _, _ string, out any) error {
	return json.Unmarshal([]byte(`{"migrated_code":"// migrated\n","summary":"Updated."}`), out)
}

type testEnv struct {
	server  *Server
	svc     *service.MigrationService
	metrics *metrics.Collector
}

func newTestEnv(t *testing.T, agent migrate.Agent) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	collector := metrics.NewCollector()
	svc := service.NewMigrationService(service.MigrationServiceOptions{
		Layout:          workspace.Layout{Root: t.TempDir()},
		Runner:          migrate.New(agent, migrate.Options{Logger: logger, Metrics: collector}),
		MaxArchiveBytes: 1 << 20,
		Logger:          logger,
		Metrics:         collector,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = svc.Shutdown(ctx)
	})
	srv := New(Options{Service: svc, Metrics: collector, Logger: logger, MaxUploadBytes: 1 << 20, Version: "test"})
	return &testEnv{server: srv, svc: svc, metrics: collector}
}

func uploadRequest(t *testing.T, target, filename string, content []byte, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if filename != "" {
		fw, err := mw.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = fw.Write(content)
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, target, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

var javaFields = map[string]string{"code_language": "java", "fro_version": "8", "to_version": "17"}

func zipBytes(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) service.Response {
	t.Helper()
	var resp service.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestUploadSingleFile(t *testing.T) {
	env := newTestEnv(t, &stubAgent{})

	rec := env.do(uploadRequest(t, "/api/upload_files", "App.java", []byte("class App {}"), javaFields))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decodeResponse(t, rec)
	assert.Equal(t, []string{"/api/download/App.java"}, resp.DownloadLinks)
	assert.Equal(t, "Project migrated.", resp.Summary)
	assert.True(t, strings.HasPrefix(resp.ProjectZipLink, "/api/download_project_zip/App?job="))

	dl := env.do(httptest.NewRequest(http.MethodGet, resp.DownloadLinks[0], nil))
	require.Equal(t, http.StatusOK, dl.Code)
	assert.Equal(t, "// migrated\n", dl.Body.String())
	assert.Contains(t, dl.Header().Get("Content-Disposition"), "attachment")
	assert.Contains(t, dl.Header().Get("Content-Disposition"), "App.java")
}

func TestUploadZipAndProjectArchive(t *testing.T) {
	env := newTestEnv(t, &stubAgent{})
	content := zipBytes(t, map[string]string{
		"src/App.java": "class App {}",
		"lib/tool.jar": "jar-bytes",
	})

	rec := env.do(uploadRequest(t, "/api/upload_files", "project.zip", content, javaFields))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decodeResponse(t, rec)
	assert.Equal(t, []string{"/api/download/lib/tool.jar", "/api/download/src/App.java"}, resp.DownloadLinks)

	jar := env.do(httptest.NewRequest(http.MethodGet, "/api/download/lib/tool.jar?job="+resp.JobID, nil))
	require.Equal(t, http.StatusOK, jar.Code)
	assert.Equal(t, "jar-bytes", jar.Body.String())

	archive := env.do(httptest.NewRequest(http.MethodGet, resp.ProjectZipLink, nil))
	require.Equal(t, http.StatusOK, archive.Code)
	assert.Equal(t, "application/zip", archive.Header().Get("Content-Type"))
	assert.Equal(t, "attachment; filename=project.zip", archive.Header().Get("Content-Disposition"))

	zr, err := zip.NewReader(bytes.NewReader(archive.Body.Bytes()), int64(archive.Body.Len()))
	require.NoError(t, err)
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	assert.ElementsMatch(t, []string{"lib/tool.jar", "src/App.java"}, names)
}

func TestDownloadNotFound(t *testing.T) {
	env := newTestEnv(t, &stubAgent{})

	tests := []struct {
		name   string
		target string
	}{
		{"unknown file", "/api/download/missing.txt"},
		{"traversal", "/api/download/..%2F..%2Fetc%2Fpasswd"},
		{"unknown job", "/api/download/App.java?job=not-a-job"},
		{"unknown archive job", "/api/download_project_zip/App?job=00000000-0000-0000-0000-000000000000"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(httptest.NewRequest(http.MethodGet, tt.target, nil))
			assert.Equal(t, http.StatusNotFound, rec.Code)
			assert.JSONEq(t, `{"error":"File not found"}`, rec.Body.String())
		})
	}
}

func TestUploadValidation(t *testing.T) {
	env := newTestEnv(t, &stubAgent{})

	tests := []struct {
		name     string
		filename string
		content  []byte
		fields   map[string]string
		wantErr  string
	}{
		{"missing file", "", nil, javaFields, "missing file"},
		{"missing versions", "App.java", []byte("x"), map[string]string{"code_language": "java"}, "fro_version, to_version"},
		{"malformed zip", "broken.zip", []byte("not a zip"), javaFields, "invalid upload"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(uploadRequest(t, "/api/upload_files", tt.filename, tt.content, tt.fields))
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.wantErr)
		})
	}
}

func TestUploadTooLarge(t *testing.T) {
	env := newTestEnv(t, &stubAgent{})
	env.server.maxUploadBytes = 512

	rec := env.do(uploadRequest(t, "/api/upload_files", "big.txt", bytes.Repeat([]byte("a"), 4096), javaFields))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestUploadAsyncAndJobs(t *testing.T) {
	env := newTestEnv(t, &stubAgent{})

	rec := env.do(uploadRequest(t, "/api/upload_files?async=true", "App.java", []byte("class App {}"), javaFields))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var accepted struct {
		JobID  string `json:"job_id"`
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &accepted))
	require.NotEmpty(t, accepted.JobID)

	job := &service.Job{}
	require.Eventually(t, func() bool {
		rec := env.do(httptest.NewRequest(http.MethodGet, "/api/jobs/"+accepted.JobID, nil))
		if rec.Code != http.StatusOK {
			return false
		}
		job = &service.Job{}
		_ = json.Unmarshal(rec.Body.Bytes(), job)
		return job.Status.Terminal()
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, service.JobStatusCompleted, job.Status)
	require.NotNil(t, job.Result)
	assert.Equal(t, []string{"/api/download/App.java"}, job.Result.DownloadLinks)

	list := env.do(httptest.NewRequest(http.MethodGet, "/api/jobs", nil))
	require.Equal(t, http.StatusOK, list.Code)
	var listed struct {
		Jobs []*service.Job `json:"jobs"`
	}
	require.NoError(t, json.Unmarshal(list.Body.Bytes(), &listed))
	require.Len(t, listed.Jobs, 1)
	assert.Equal(t, accepted.JobID, listed.Jobs[0].ID)
	assert.Nil(t, listed.Jobs[0].Result)

	missing := env.do(httptest.NewRequest(http.MethodGet, "/api/jobs/nope", nil))
	assert.Equal(t, http.StatusNotFound, missing.Code)
}

func TestJobEventsWebsocket(t *testing.T) {
	agent := &stubAgent{release: make(chan struct{})}
	env := newTestEnv(t, agent)

	rec := env.do(uploadRequest(t, "/api/upload_files?async=true", "App.java", []byte("class App {}"), javaFields))
	require.Equal(t, http.StatusAccepted, rec.Code)
	var accepted struct {
		JobID string `json:"job_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &accepted))

	ts := httptest.NewServer(env.server.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/jobs/" + accepted.JobID + "/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var first service.Job
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, accepted.JobID, first.ID)
	assert.False(t, first.Status.Terminal())

	close(agent.release)

	var last *service.Job
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		snap := &service.Job{}
		if err := conn.ReadJSON(snap); err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "unexpected error: %v", err)
			break
		}
		last = snap
	}
	require.NotNil(t, last)
	assert.Equal(t, service.JobStatusCompleted, last.Status)
	assert.Equal(t, 1, last.Progress)
}

func TestStatsAndHealth(t *testing.T) {
	env := newTestEnv(t, &stubAgent{})
	rec := env.do(uploadRequest(t, "/api/upload_files", "App.java", []byte("class App {}"), javaFields))
	require.Equal(t, http.StatusOK, rec.Code)

	stats := env.do(httptest.NewRequest(http.MethodGet, "/api/stats", nil))
	require.Equal(t, http.StatusOK, stats.Code)
	var snap metrics.Snapshot
	require.NoError(t, json.Unmarshal(stats.Body.Bytes(), &snap))
	require.NotNil(t, snap.Staging)
	assert.Equal(t, int64(1), snap.Staging.Count)
	require.NotNil(t, snap.FileMigration)
	assert.Equal(t, int64(1), snap.FileMigration.Count)

	health := env.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, health.Code)
	assert.JSONEq(t, `{"status":"ok","version":"test"}`, health.Body.String())
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t, &stubAgent{})

	req := httptest.NewRequest(http.MethodOptions, "/api/upload_files", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := env.do(req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
