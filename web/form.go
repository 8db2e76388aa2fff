package web

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"YoloBench/pipeline"

	"github.com/gin-gonic/gin"
)

// Form field names shared by the page and the JSON API.
const (
	fieldSource   = "source"
	fieldChoice   = "choice"
	fieldFile     = "file"
	fieldSave     = "save"
	fieldFilename = "filename"
	fieldConf     = "conf"
	fieldSize     = "imgsz"
	fieldAction   = "action"

	actionDetect = "detect"
)

// readParams builds pipeline params from query and form values. The detect
// flag forces detection; otherwise the action field decides.
func (s *Server) readParams(c *gin.Context, detect bool) (pipeline.Params, error) {
	p := pipeline.Params{
		Source:     c.Request.FormValue(fieldSource),
		Choice:     c.Request.FormValue(fieldChoice),
		SaveToBank: checked(c.Request.FormValue(fieldSave)),
		SaveName:   strings.TrimSpace(c.Request.FormValue(fieldFilename)),
		Detect:     detect || c.Request.FormValue(fieldAction) == actionDetect,
	}
	conf, size, err := s.parseNumbers(c.Request.FormValue(fieldConf), c.Request.FormValue(fieldSize))
	if err != nil {
		return p, err
	}
	p.Confidence, p.InferenceSize = conf, size

	if p.Source == pipeline.SourceUpload {
		fh, err := c.FormFile(fieldFile)
		switch {
		case errors.Is(err, http.ErrMissingFile):
		case err != nil:
			return p, fmt.Errorf("%w: %v", pipeline.ErrInvalidParams, err)
		default:
			f, err := fh.Open()
			if err != nil {
				return p, fmt.Errorf("open upload: %w", err)
			}
			defer f.Close()
			data, err := io.ReadAll(io.LimitReader(f, MaxUploadBytes+1))
			if err != nil {
				return p, fmt.Errorf("read upload: %w", err)
			}
			if len(data) > MaxUploadBytes {
				return p, fmt.Errorf("%w: upload larger than %d bytes", pipeline.ErrInvalidParams, MaxUploadBytes)
			}
			p.Upload = data
			p.UploadName = fh.Filename
		}
	}
	return p, nil
}

// parseNumbers reads the confidence and inference size, falling back to
// the defaults when a value is empty.
func (s *Server) parseNumbers(conf, size string) (float32, int, error) {
	c := s.opts.DefaultConfidence
	if conf != "" {
		v, err := strconv.ParseFloat(conf, 32)
		if err != nil {
			return 0, 0, fmt.Errorf("%w: confidence %q", pipeline.ErrInvalidParams, conf)
		}
		c = float32(v)
	}
	n := 0
	if size != "" {
		v, err := strconv.Atoi(size)
		if err != nil {
			return 0, 0, fmt.Errorf("%w: inference size %q", pipeline.ErrInvalidParams, size)
		}
		n = v
	}
	return c, n, nil
}

func checked(v string) bool {
	switch strings.ToLower(v) {
	case "on", "true", "1", "yes":
		return true
	}
	return false
}
