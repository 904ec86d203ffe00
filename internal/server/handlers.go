package server

import (
	"errors"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/Satyacharanv/CodeConversionAI/internal/service"
	"github.com/Satyacharanv/CodeConversionAI/internal/workspace"
)

const errFileNotFound = "File not found"

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "version": s.version})
}

func (s *Server) handleUpload(c *gin.Context) {
	if s.maxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.maxUploadBytes)
	}

	fh, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "upload too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing file"})
		return
	}

	params := service.Params{
		Language:    c.PostForm("code_language"),
		FromVersion: c.PostForm("fro_version"),
		ToVersion:   c.PostForm("to_version"),
	}
	if err := params.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	f, err := fh.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable upload"})
		return
	}
	defer f.Close()

	upload := service.Upload{Filename: fh.Filename, Content: f, Size: fh.Size}
	s.logger.Info("upload received", "filename", fh.Filename, "bytes", fh.Size, "language", params.Language)

	if c.Query("async") == "true" {
		job, err := s.svc.MigrateAsync(upload, params)
		if err != nil {
			s.fail(c, err)
			return
		}
		snap := job.Snapshot()
		c.JSON(http.StatusAccepted, gin.H{"job_id": snap.ID, "status": snap.Status})
		return
	}

	resp, err := s.svc.Migrate(c.Request.Context(), upload, params)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// fail maps service errors to HTTP responses.
func (s *Server) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrMissingParam), errors.Is(err, workspace.ErrInvalidUpload):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, workspace.ErrNotFound), errors.Is(err, service.ErrJobNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func (s *Server) handleDownload(c *gin.Context) {
	rel := strings.TrimPrefix(c.Param("path"), "/")
	path, err := s.svc.ResolveDownload(rel, c.Query("job"))
	if err != nil {
		s.logger.Warn("requested file not found", "path", rel, "job_id", c.Query("job"))
		c.JSON(http.StatusNotFound, gin.H{"error": errFileNotFound})
		return
	}
	c.FileAttachment(path, filepath.Base(path))
}

func (s *Server) handleProjectZip(c *gin.Context) {
	name := c.Param("filename")
	zipPath, err := s.svc.BuildProjectZip(name, c.Query("job"))
	if err != nil {
		if errors.Is(err, workspace.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": errFileNotFound})
			return
		}
		s.fail(c, err)
		return
	}

	c.Header("Content-Type", "application/zip")
	c.Header("Content-Disposition", "attachment; filename="+name+".zip")
	c.File(zipPath)
}

func (s *Server) handleListJobs(c *gin.Context) {
	jobs := s.svc.Jobs().ListJobs()
	out := make([]*service.Job, len(jobs))
	for i, j := range jobs {
		snap := j.Snapshot()
		// The full result stays on /api/jobs/:id.
		snap.Result = nil
		out[i] = &snap
	}
	c.JSON(http.StatusOK, gin.H{"jobs": out})
}

func (s *Server) handleGetJob(c *gin.Context) {
	job, err := s.svc.Jobs().GetJob(c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	snap := job.Snapshot()
	c.JSON(http.StatusOK, &snap)
}

func (s *Server) handleStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.metrics.Snapshot())
}
