// Package server exposes batch runs over HTTP: upload a spreadsheet, follow
// the run, download what it produced.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"certgen/internal/batch"
	"certgen/internal/config"
	"certgen/internal/jobs"
)

const (
	uploadsDir = "uploads"
	runsDir    = "runs"

	maxUploadSize = 32 << 20
)

// Runner is a prepared batch.
type Runner interface {
	Run(ctx context.Context) (*batch.Summary, error)
}

// RunnerFactory prepares the batch for one job. The job's Log and
// SetProgress methods are meant to be hooked into the batch callbacks.
type RunnerFactory func(cfg *config.Config, artifacts *config.Artifacts, job *jobs.Job) (Runner, error)

type Server struct {
	cfg       *config.Config
	store     *jobs.Store
	logger    zerolog.Logger
	newRunner RunnerFactory
	baseCtx   context.Context
}

type Option func(*Server)

func WithRunnerFactory(f RunnerFactory) Option {
	return func(s *Server) { s.newRunner = f }
}

// WithContext sets the parent context of every job.
func WithContext(ctx context.Context) Option {
	return func(s *Server) { s.baseCtx = ctx }
}

func New(cfg *config.Config, store *jobs.Store, logger zerolog.Logger, opts ...Option) *Server {
	s := &Server{
		cfg:     cfg,
		store:   store,
		logger:  logger,
		baseCtx: context.Background(),
	}
	s.newRunner = s.productionRunner
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) productionRunner(cfg *config.Config, a *config.Artifacts, job *jobs.Job) (Runner, error) {
	d, err := batch.NewFromConfig(cfg, a, s.logger.With().Str("job", job.ID).Logger(),
		batch.WithProgress(job.SetProgress),
		batch.WithLog(job.Log),
	)
	if err != nil {
		return nil, err
	}
	return d, nil
}

// Handler builds the gin engine. /healthz is never behind authentication.
func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())
	r.MaxMultipartMemory = maxUploadSize

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	api := r.Group("/")
	if s.cfg.Serve.Username != "" {
		api.Use(gin.BasicAuth(gin.Accounts{s.cfg.Serve.Username: s.cfg.Serve.Password}))
	}
	api.POST("/runs", s.createRun)
	api.GET("/runs", s.listRuns)
	api.GET("/runs/:id", s.getRun)
	api.GET("/runs/:id/files/:name", s.downloadFile)
	return r
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("Request")
	}
}

// ListenAndServe serves until ctx is done, then waits for the running job.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Serve.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", srv.Addr).Msg("Server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	s.store.Wait()
	return err
}

func (s *Server) createRun(c *gin.Context) {
	file, err := c.FormFile("spreadsheet")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "missing spreadsheet file"})
		return
	}
	if !strings.EqualFold(filepath.Ext(file.Filename), ".xlsx") {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "spreadsheet must be an .xlsx file"})
		return
	}

	cfg := *s.cfg
	if v := c.PostForm("skip_records"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "skip_records must be a non-negative integer"})
			return
		}
		cfg.SkipRecords = n
	}

	artifacts, err := config.DiscoverShared(cfg.InputDir)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": err.Error()})
		return
	}

	uploads := filepath.Join(cfg.OutputDir, uploadsDir)
	if err := os.MkdirAll(uploads, 0o755); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": err.Error()})
		return
	}
	artifacts.Spreadsheet = filepath.Join(uploads, uuid.New().String()+".xlsx")
	if err := c.SaveUploadedFile(file, artifacts.Spreadsheet); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "could not store upload"})
		return
	}

	outputDir := func(id string) string { return filepath.Join(s.cfg.OutputDir, runsDir, id) }
	job, err := s.store.Start(s.baseCtx, outputDir, func(ctx context.Context, job *jobs.Job) (*batch.Summary, error) {
		runCfg := cfg
		runCfg.OutputDir = job.OutputDir
		job.Log(fmt.Sprintf("Processing %s", file.Filename))
		runner, err := s.newRunner(&runCfg, artifacts, job)
		if err != nil {
			return nil, err
		}
		return runner.Run(ctx)
	})
	if errors.Is(err, jobs.ErrBusy) {
		_ = os.Remove(artifacts.Spreadsheet)
		c.JSON(http.StatusConflict, gin.H{"ok": false, "error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": err.Error()})
		return
	}

	s.logger.Info().Str("job", job.ID).Str("upload", file.Filename).Msg("Run accepted")
	c.JSON(http.StatusAccepted, gin.H{"ok": true, "job_id": job.ID})
}

func (s *Server) listRuns(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true, "runs": s.store.List()})
}

func (s *Server) getRun(c *gin.Context) {
	job := s.store.Get(c.Param("id"))
	if job == nil {
		c.JSON(http.StatusNotFound, gin.H{"ok": false, "error": "job not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "run": job.Snapshot()})
}

func (s *Server) downloadFile(c *gin.Context) {
	job := s.store.Get(c.Param("id"))
	if job == nil {
		c.JSON(http.StatusNotFound, gin.H{"ok": false, "error": "job not found"})
		return
	}

	name := c.Param("name")
	if name != filepath.Base(name) || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "invalid file name"})
		return
	}
	target := filepath.Join(job.OutputDir, name)
	info, err := os.Stat(target)
	if err != nil || info.IsDir() {
		c.JSON(http.StatusNotFound, gin.H{"ok": false, "error": "file not found"})
		return
	}
	c.FileAttachment(target, name)
}
