// Package pipeline runs one user interaction: resolve the image, optionally
// save an upload, detect, and present the result.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"YoloBench/bank"
	iface "YoloBench/interface"
	"YoloBench/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	LevelInfo    = "info"
	LevelWarning = "warning"
	LevelError   = "error"
)

var (
	// ErrNoImage is returned in upload mode when nothing was uploaded.
	ErrNoImage = errors.New("no image provided")
	ErrDetect  = errors.New("detection failed")
)

type Notice struct {
	Level string `json:"level"`
	Text  string `json:"text"`
}

// Outcome is everything the surfaces render for one interaction.
type Outcome struct {
	RequestID     string
	Notices       []Notice
	Bank          []string
	DisplayName   string
	Original      image.Image
	Detected      bool
	InferenceSize int
	Detections    []iface.Detection
	Lines         []string
	Annotated     image.Image
	Download      *Download
}

func (o *Outcome) notify(level, format string, args ...any) {
	o.Notices = append(o.Notices, Notice{Level: level, Text: fmt.Sprintf(format, args...)})
}

// Recorder receives interaction metrics. A nil Recorder records nothing.
type Recorder interface {
	Interaction(source, result string)
	Inference(d time.Duration, detections int)
	Saved(ok bool)
}

type Options struct {
	// SizeSelector enables the inference-size control; when false any
	// submitted size is ignored.
	SizeSelector bool
	// List overrides the bank listing, e.g. with a watched catalog.
	List func() ([]string, error)
	Metrics Recorder
	Now     func() time.Time
}

type Pipeline struct {
	bank     *bank.Bank
	detector iface.Detector
	opts     Options
}

func New(b *bank.Bank, det iface.Detector, opts Options) *Pipeline {
	if opts.List == nil {
		opts.List = b.List
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Pipeline{bank: b, detector: det, opts: opts}
}

func (p *Pipeline) Bank() *bank.Bank { return p.bank }

func (p *Pipeline) SizeSelector() bool { return p.opts.SizeSelector }

func (p *Pipeline) ModelPath() string { return p.detector.CheckConfig().ModelPath }

// Files lists the bank.
func (p *Pipeline) Files() ([]string, error) { return p.opts.List() }

// SuggestName is the default save name for an upload made now.
func (p *Pipeline) SuggestName() string { return bank.SuggestName(p.opts.Now()) }

// Run executes one interaction. The returned outcome is never nil once the
// params are valid; a non-nil error means the interaction stopped early and
// the outcome carries the notice explaining why.
func (p *Pipeline) Run(ctx context.Context, params Params) (*Outcome, error) {
	if !p.opts.SizeSelector {
		params.InferenceSize = 0
	}
	if err := params.Validate(); err != nil {
		p.record(params.Source, "invalid")
		return nil, err
	}
	out := &Outcome{RequestID: uuid.NewString()}
	log := logger.Log().With(zap.String("request", out.RequestID), zap.String("source", params.Source))

	img, err := p.resolve(params, out)
	if err != nil {
		log.Info("interaction stopped", zap.Error(err))
		p.record(params.Source, resultOf(err))
		return out, err
	}
	out.Original = img
	if !params.Detect {
		p.record(params.Source, "preview")
		return out, nil
	}

	start := time.Now()
	pred, err := p.detector.Detect(ctx, img, iface.DetectOptions{
		Confidence:    params.Confidence,
		InferenceSize: params.InferenceSize,
	})
	if err != nil {
		out.notify(LevelError, "Falló la detección: %v", err)
		log.Error("detect failed", zap.String("image", out.DisplayName), zap.Error(err))
		p.record(params.Source, "error")
		return out, fmt.Errorf("%w: %w", ErrDetect, err)
	}
	if m := p.opts.Metrics; m != nil {
		m.Inference(time.Since(start), len(pred.Detections))
	}

	annotated, err := pred.Annotated.Image()
	if err != nil {
		out.notify(LevelError, "Falló la detección: %v", err)
		p.record(params.Source, "error")
		return out, fmt.Errorf("%w: %w", ErrDetect, err)
	}
	data, err := EncodePNG(pred.Annotated)
	if err != nil {
		out.notify(LevelError, "No pude codificar la imagen anotada: %v", err)
		p.record(params.Source, "error")
		return out, fmt.Errorf("%w: %w", ErrDetect, err)
	}

	out.Detected = true
	out.InferenceSize = pred.InferenceSize
	out.Detections = pred.Detections
	out.Annotated = annotated
	for _, d := range pred.Detections {
		out.Lines = append(out.Lines, FormatDetection(d))
	}
	if len(out.Lines) == 0 {
		out.notify(LevelInfo, "No se detectaron objetos con los parámetros actuales.")
	}
	out.Download = &Download{Name: DownloadName(out.DisplayName), ContentType: PNGContentType, Data: data}

	log.Info("interaction done",
		zap.String("image", out.DisplayName),
		zap.Float32("conf", params.Confidence),
		zap.Int("size", pred.InferenceSize),
		zap.Int("detections", len(pred.Detections)),
		zap.Duration("elapsed", time.Since(start)))
	p.record(params.Source, "detected")
	return out, nil
}

func (p *Pipeline) resolve(params Params, out *Outcome) (image.Image, error) {
	if params.Source == SourceBank {
		files, err := p.opts.List()
		if err != nil {
			if errors.Is(err, bank.ErrNotFound) {
				out.notify(LevelWarning, "No encontré imágenes en `%s`. Agrega tus tests ahí.", p.bank.Dir)
			} else {
				out.notify(LevelError, "No pude listar `%s`: %v", p.bank.Dir, err)
			}
			return nil, err
		}
		out.Bank = files
		img, name, err := p.bank.OpenFrom(files, params.Choice)
		if err != nil {
			out.notify(LevelError, "No pude abrir `%s`: %v", params.Choice, err)
			return nil, err
		}
		out.DisplayName = name
		return img, nil
	}

	if len(params.Upload) == 0 {
		return nil, ErrNoImage
	}
	img, err := bank.Decode(params.Upload)
	if err != nil {
		out.notify(LevelError, "No pude leer la imagen subida: %v", err)
		return nil, err
	}
	filename := params.SaveName
	if filename == "" {
		filename = bank.SuggestName(p.opts.Now())
	}
	filename = bank.NormalizeName(filename)
	if params.SaveToBank {
		path, err := p.bank.Save(img, filename)
		if err != nil {
			out.notify(LevelWarning, "No pude guardar la imagen: %v", err)
			logger.Log().Warn("save to bank failed", zap.String("file", filename), zap.Error(err))
		} else {
			out.notify(LevelInfo, "Guardado en: `%s`", path)
			logger.Log().Info("saved to bank", zap.String("path", path))
		}
		if m := p.opts.Metrics; m != nil {
			m.Saved(err == nil)
		}
	}
	out.DisplayName = filename
	return img, nil
}

func (p *Pipeline) record(source, result string) {
	if m := p.opts.Metrics; m != nil {
		m.Interaction(source, result)
	}
}

func resultOf(err error) string {
	switch {
	case errors.Is(err, ErrNoImage):
		return "empty"
	case errors.Is(err, bank.ErrNotFound):
		return "not_found"
	case errors.Is(err, bank.ErrDecode):
		return "decode_error"
	default:
		return "error"
	}
}
