// Package web serves the detection page, its JSON API and the live
// websocket session over gin.
package web

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"mime"
	"net/http"
	"time"

	"YoloBench/bank"
	"YoloBench/logger"
	"YoloBench/monitor"
	"YoloBench/pipeline"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	MaxUploadBytes     = 20 << 20
	DefaultIdleTimeout = 5 * time.Minute
)

type Options struct {
	DefaultConfidence float32
	Backend           string
	IdleTimeout       time.Duration
	Metrics           *monitor.Metrics
}

type Server struct {
	pipe     *pipeline.Pipeline
	opts     Options
	page     *template.Template
	sessions *sessionTable
}

func New(pipe *pipeline.Pipeline, opts Options) *Server {
	if opts.DefaultConfidence == 0 {
		opts.DefaultConfidence = pipeline.DefaultConfidence
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}
	return &Server{
		pipe:     pipe,
		opts:     opts,
		page:     template.Must(template.New("index.html").Funcs(pageFuncs).ParseFS(templates, "templates/index.html")),
		sessions: newSessionTable(),
	}
}

func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(logger.Gin(), gin.Recovery())
	r.MaxMultipartMemory = MaxUploadBytes
	r.SetHTMLTemplate(s.page)

	r.GET("/", s.handlePage)
	r.POST("/", s.handlePage)
	r.GET("/bank/:name", s.handleBankImage)

	api := r.Group("/api")
	api.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})
	api.GET("/options", s.handleOptions)
	api.GET("/bank", s.handleBank)
	api.POST("/detect", s.handleDetect)
	api.POST("/download", s.handleDownload)

	r.GET("/ws/detect", s.handleWS)
	return r
}

// Run serves on port until ctx is done, then shuts down gracefully and
// closes the open websocket sessions.
func (s *Server) Run(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Log().Info("http listening", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.sessions.closeAll()
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) handleOptions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"confidence": gin.H{
			"min":     pipeline.MinConfidence,
			"max":     pipeline.MaxConfidence,
			"step":    pipeline.ConfidenceStep,
			"default": s.opts.DefaultConfidence,
		},
		"sizes":         pipeline.InferenceSizes,
		"sizeSelector":  s.pipe.SizeSelector(),
		"suggestedName": s.pipe.SuggestName(),
		"model":         s.pipe.ModelPath(),
		"backend":       s.opts.Backend,
		"bankDir":       s.pipe.Bank().Dir,
	})
}

func (s *Server) handleBank(c *gin.Context) {
	files, err := s.pipe.Files()
	if err != nil {
		c.JSON(statusOf(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"files": files})
}

func (s *Server) handleBankImage(c *gin.Context) {
	p, err := s.pipe.Bank().Path(c.Param("name"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.File(p)
}

func (s *Server) handleDetect(c *gin.Context) {
	params, err := s.readParams(c, true)
	if err != nil {
		c.JSON(statusOf(err), gin.H{"error": err.Error()})
		return
	}
	out, err := s.pipe.Run(c.Request.Context(), params)
	if err != nil {
		body := gin.H{"error": err.Error()}
		if out != nil {
			body["outcome"] = newOutcomeJSON(out)
		}
		c.JSON(statusOf(err), body)
		return
	}
	c.JSON(http.StatusOK, newOutcomeJSON(out))
}

func (s *Server) handleDownload(c *gin.Context) {
	params, err := s.readParams(c, true)
	if err != nil {
		c.JSON(statusOf(err), gin.H{"error": err.Error()})
		return
	}
	out, err := s.pipe.Run(c.Request.Context(), params)
	if err != nil {
		c.JSON(statusOf(err), gin.H{"error": err.Error()})
		return
	}
	d := out.Download
	disposition := mime.FormatMediaType("attachment", map[string]string{"filename": d.Name})
	if disposition == "" {
		disposition = "attachment"
	}
	c.Header("Content-Disposition", disposition)
	c.Data(http.StatusOK, d.ContentType, d.Data)
}

// statusOf maps pipeline and bank errors to HTTP status codes.
func statusOf(err error) int {
	switch {
	case errors.Is(err, pipeline.ErrInvalidParams), errors.Is(err, pipeline.ErrNoImage):
		return http.StatusBadRequest
	case errors.Is(err, bank.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, bank.ErrDecode):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
