package web

import (
	"bytes"
	"embed"
	"encoding/base64"
	"fmt"
	"html/template"
	"image"
	"net/http"

	"YoloBench/pipeline"

	"github.com/disintegration/imaging"
	"github.com/gin-gonic/gin"
)

//go:embed templates/index.html
var templates embed.FS

var pageFuncs = template.FuncMap{
	"pct": func(v float32) string { return fmt.Sprintf("%.2f", v) },
}

type outcomeJSON struct {
	RequestID     string            `json:"requestId"`
	Notices       []pipeline.Notice `json:"notices"`
	Bank          []string          `json:"bank,omitempty"`
	DisplayName   string            `json:"displayName"`
	Detected      bool              `json:"detected"`
	InferenceSize int               `json:"inferenceSize,omitempty"`
	Detections    any               `json:"detections"`
	Lines         []string          `json:"lines"`
	Download      *downloadJSON     `json:"download,omitempty"`
}

type downloadJSON struct {
	Name        string `json:"name"`
	ContentType string `json:"contentType"`
	Data        string `json:"data"`
}

func newOutcomeJSON(o *pipeline.Outcome) outcomeJSON {
	j := outcomeJSON{
		RequestID:     o.RequestID,
		Notices:       o.Notices,
		Bank:          o.Bank,
		DisplayName:   o.DisplayName,
		Detected:      o.Detected,
		InferenceSize: o.InferenceSize,
		Detections:    o.Detections,
		Lines:         o.Lines,
	}
	if j.Notices == nil {
		j.Notices = []pipeline.Notice{}
	}
	if j.Lines == nil {
		j.Lines = []string{}
	}
	if o.Detections == nil {
		j.Detections = []any{}
	}
	if d := o.Download; d != nil {
		j.Download = &downloadJSON{Name: d.Name, ContentType: d.ContentType, Data: base64.StdEncoding.EncodeToString(d.Data)}
	}
	return j
}

type pageView struct {
	Model        string
	Backend      string
	BankDir      string
	Bank         []string
	Source       string
	Choice       string
	Save         bool
	Filename     string
	Confidence   float32
	Min, Max     float32
	Step         float32
	SizeSelector bool
	Sizes        []int
	Size         int
	Notices      []pipeline.Notice
	DisplayName  string
	Original     template.URL
	Annotated    template.URL
	Detected     bool
	Lines        []string
	DownloadName string
	DownloadURL  template.URL
}

func (s *Server) handlePage(c *gin.Context) {
	v := pageView{
		Model:        s.pipe.ModelPath(),
		Backend:      s.opts.Backend,
		BankDir:      s.pipe.Bank().Dir,
		Min:          pipeline.MinConfidence,
		Max:          pipeline.MaxConfidence,
		Step:         pipeline.ConfidenceStep,
		SizeSelector: s.pipe.SizeSelector(),
		Sizes:        pipeline.InferenceSizes,
	}
	if files, err := s.pipe.Files(); err == nil {
		v.Bank = files
	}

	params, err := s.readParams(c, false)
	if c.Request.Method == http.MethodGet && c.Request.FormValue(fieldSave) == "" {
		params.SaveToBank = true
	}
	v.Source, v.Choice, v.Save = params.Source, params.Choice, params.SaveToBank
	v.Filename, v.Confidence, v.Size = params.SaveName, params.Confidence, params.InferenceSize
	if v.Source == "" {
		v.Source = pipeline.SourceBank
	}
	if v.Filename == "" {
		v.Filename = s.pipe.SuggestName()
	}
	if err != nil {
		v.Notices = []pipeline.Notice{{Level: pipeline.LevelError, Text: err.Error()}}
		c.HTML(statusOf(err), "index.html", v)
		return
	}

	out, err := s.pipe.Run(c.Request.Context(), params)
	if out == nil {
		v.Notices = []pipeline.Notice{{Level: pipeline.LevelError, Text: err.Error()}}
		c.HTML(statusOf(err), "index.html", v)
		return
	}
	v.Notices = out.Notices
	v.DisplayName = out.DisplayName
	v.Detected = out.Detected
	v.Lines = out.Lines
	if v.Choice == "" && params.Source == pipeline.SourceBank {
		v.Choice = out.DisplayName
	}
	if out.Original != nil {
		v.Original = dataURI(out.Original)
	}
	if out.Annotated != nil {
		v.Annotated = dataURI(out.Annotated)
	}
	if d := out.Download; d != nil {
		v.DownloadName = d.Name
		v.DownloadURL = template.URL("data:" + d.ContentType + ";base64," + base64.StdEncoding.EncodeToString(d.Data))
	}
	c.HTML(http.StatusOK, "index.html", v)
}

func dataURI(img image.Image) template.URL {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return ""
	}
	return template.URL("data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()))
}
