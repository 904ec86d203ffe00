// Package client provides an HTTP client for the migration server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Satyacharanv/CodeConversionAI/internal/metrics"
)

// ErrNotFound is returned when the server answers 404.
var ErrNotFound = errors.New("not found")

// Client talks to the migration server's REST API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a new client.
// If baseURL is empty, uses CODECONVERT_SERVER_URL env var or defaults to localhost:8000.
// Timeout can be configured via CODECONVERT_CLIENT_TIMEOUT env var (default 30m, migrations are slow).
func New(baseURL string) *Client {
	if baseURL == "" {
		baseURL = os.Getenv("CODECONVERT_SERVER_URL")
	}
	if baseURL == "" {
		baseURL = "http://localhost:8000"
	}

	timeout := 30 * time.Minute
	if t := os.Getenv("CODECONVERT_CLIENT_TIMEOUT"); t != "" {
		if d, err := time.ParseDuration(t); err == nil {
			timeout = d
		}
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// BaseURL returns the server address the client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// =============================================================================
// TYPES (matching the server's JSON)
// =============================================================================

// Params are the migration parameters sent with an upload.
type Params struct {
	Language    string
	FromVersion string
	ToVersion   string
}

// FileSummary describes one output file.
type FileSummary struct {
	Filename string `json:"filename"`
	Path     string `json:"path"`
	Kind     string `json:"kind"`
	Summary  string `json:"summary"`
	Migrated bool   `json:"migrated"`
	// DownloadLink fetches this file from this job only.
	DownloadLink string `json:"download_link"`
}

// Response is the result of a migration.
type Response struct {
	Summary        string        `json:"summary"`
	DownloadLinks  []string      `json:"download_links"`
	ProjectZipLink string        `json:"project_zip_link"`
	JobID          string        `json:"job_id"`
	Files          []FileSummary `json:"files"`
}

// Job is a tracked migration.
type Job struct {
	ID          string     `json:"id"`
	Status      string     `json:"status"`
	Filename    string     `json:"filename"`
	Language    string     `json:"code_language"`
	FromVersion string     `json:"fro_version"`
	ToVersion   string     `json:"to_version"`
	Phase       string     `json:"phase,omitempty"`
	Progress    int        `json:"progress"`
	Total       int        `json:"total"`
	CurrentFile string     `json:"current_file,omitempty"`
	Result      *Response  `json:"result,omitempty"`
	Error       *string    `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Terminal reports whether the job has finished.
func (j *Job) Terminal() bool {
	return j.Status == "completed" || j.Status == "failed"
}

// =============================================================================
// REQUESTS
// =============================================================================

// do sends req and decodes a JSON body into result when the status is 2xx.
func (c *Client) do(req *http.Request, result any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if err := checkStatus(resp, body); err != nil {
		return err
	}

	if result != nil {
		if err := json.Unmarshal(body, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}

// checkStatus turns a non-2xx response into an error carrying the server message.
func checkStatus(resp *http.Response, body []byte) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	msg := strings.TrimSpace(string(body))
	var apiErr struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
		msg = apiErr.Error
	}

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrNotFound, msg)
	}
	return fmt.Errorf("server error: %s - %s", resp.Status, msg)
}

func (c *Client) get(ctx context.Context, path string, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	return c.do(req, result)
}

func (c *Client) upload(ctx context.Context, filename string, content io.Reader, params Params, async bool, result any) error {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(fw, content); err != nil {
		return fmt.Errorf("copy upload: %w", err)
	}
	for k, v := range map[string]string{
		"code_language": params.Language,
		"fro_version":   params.FromVersion,
		"to_version":    params.ToVersion,
	} {
		if err := mw.WriteField(k, v); err != nil {
			return fmt.Errorf("write field %s: %w", k, err)
		}
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("close form: %w", err)
	}

	target := c.baseURL + "/api/upload_files"
	if async {
		target += "?async=true"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, &body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return c.do(req, result)
}

// Migrate uploads content and waits for the whole migration.
func (c *Client) Migrate(ctx context.Context, filename string, content io.Reader, params Params) (*Response, error) {
	var resp Response
	if err := c.upload(ctx, filename, content, params, false, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// MigrateAsync uploads content and returns the queued job immediately.
func (c *Client) MigrateAsync(ctx context.Context, filename string, content io.Reader, params Params) (*Job, error) {
	var accepted struct {
		JobID  string `json:"job_id"`
		Status string `json:"status"`
	}
	if err := c.upload(ctx, filename, content, params, true, &accepted); err != nil {
		return nil, err
	}
	return &Job{ID: accepted.JobID, Status: accepted.Status, Filename: filename}, nil
}

// ListJobs returns all jobs, newest first.
func (c *Client) ListJobs(ctx context.Context) ([]Job, error) {
	var resp struct {
		Jobs []Job `json:"jobs"`
	}
	if err := c.get(ctx, "/api/jobs", &resp); err != nil {
		return nil, err
	}
	return resp.Jobs, nil
}

// GetJob retrieves a job by ID. Returns nil if the server does not know it.
func (c *Client) GetJob(ctx context.Context, id string) (*Job, error) {
	var job Job
	if err := c.get(ctx, "/api/jobs/"+url.PathEscape(id), &job); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &job, nil
}

// GetServerStats returns runtime statistics from the server.
func (c *Client) GetServerStats(ctx context.Context) (*metrics.Snapshot, error) {
	var snap metrics.Snapshot
	if err := c.get(ctx, "/api/stats", &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// Download streams the target of a download or project zip link into w.
// link is a server path such as "/api/download/src/App.java".
func (c *Client) Download(ctx context.Context, link string, w io.Writer) (int64, error) {
	if !strings.HasPrefix(link, "/") {
		link = "/" + link
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+link, nil)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return 0, checkStatus(resp, body)
	}

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, fmt.Errorf("read download: %w", err)
	}
	return n, nil
}

// WatchJob follows a job over the events websocket. onUpdate is invoked for
// every state change; return an error from onUpdate to stop watching.
// Returns the last state seen, which is terminal unless watching stopped early.
func (c *Client) WatchJob(ctx context.Context, id string, onUpdate func(*Job) error) (*Job, error) {
	wsEndpoint := c.baseURL
	wsEndpoint = strings.Replace(wsEndpoint, "http://", "ws://", 1)
	wsEndpoint = strings.Replace(wsEndpoint, "https://", "wss://", 1)

	u, err := url.Parse(wsEndpoint + "/api/jobs/" + url.PathEscape(id) + "/events")
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%w: job %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("websocket connect: %w", err)
	}
	defer conn.Close()

	// Unblock ReadJSON when the caller gives up.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	var last *Job
	for {
		job := &Job{}
		if err := conn.ReadJSON(job); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) && last != nil {
				return last, nil
			}
			if ctx.Err() != nil {
				return last, ctx.Err()
			}
			return last, fmt.Errorf("read job event: %w", err)
		}
		last = job
		if onUpdate != nil {
			if err := onUpdate(job); err != nil {
				return last, err
			}
		}
		if job.Terminal() {
			return last, nil
		}
	}
}

// Health checks that the server is reachable.
func (c *Client) Health(ctx context.Context) error {
	return c.get(ctx, "/health", nil)
}
