package engine

import (
	"context"
	"fmt"
	"image"
	"sync"
	"sync/atomic"

	"YoloBench/engine/yolo"
	iface "YoloBench/interface"
	"YoloBench/logger"

	"go.uber.org/zap"
)

// Detector serialises inference on one loaded backend and annotates the
// results. It implements iface.Detector. The config is fixed between
// LoadModel and Destroy; CheckConfig and Status never wait on a running
// inference.
type Detector struct {
	infer    sync.Mutex
	mu       sync.RWMutex
	backend  iface.Backend
	annotate Annotator
	cfg      iface.EngineConfig
	state    atomic.Int32
}

func NewDetector(backend iface.Backend, annotate Annotator) *Detector {
	if annotate == nil {
		annotate = DrawBoxes
	}
	d := &Detector{backend: backend, annotate: annotate}
	d.state.Store(UNREGISTERED)
	return d
}

func (d *Detector) LoadModel(cfg iface.EngineConfig) error {
	d.infer.Lock()
	defer d.infer.Unlock()
	if err := d.backend.LoadModel(cfg); err != nil {
		return err
	}
	d.mu.Lock()
	d.cfg = d.backend.CheckConfig()
	d.mu.Unlock()
	d.state.Store(IDLE)
	return nil
}

func (d *Detector) CheckConfig() iface.EngineConfig {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cfg
}

func (d *Detector) Status() int {
	return int(d.state.Load())
}

// Detect runs the model on img. Only detections scoring at least
// opts.Confidence are returned, highest first; the annotated frame has the
// dimensions of img and BGR channel order. Concurrent calls queue.
func (d *Detector) Detect(ctx context.Context, img image.Image, opts iface.DetectOptions) (*iface.Prediction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.infer.Lock()
	defer d.infer.Unlock()
	if d.state.Load() == UNREGISTERED {
		return nil, ErrNotLoaded
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.state.Store(BUSY)
	defer d.state.Store(IDLE)
	cfg := d.CheckConfig()

	size := opts.InferenceSize
	if size <= 0 {
		size = cfg.InputSize
	}
	dets, err := d.backend.Infer(img, size, opts.Confidence)
	if err != nil {
		return nil, fmt.Errorf("inference: %w", err)
	}
	dets = yolo.FilterByConfidence(dets, opts.Confidence)
	yolo.SortByConfidence(dets)

	frame, err := d.annotate(img, dets)
	if err != nil {
		return nil, fmt.Errorf("annotate: %w", err)
	}
	if b := img.Bounds(); frame.Width != b.Dx() || frame.Height != b.Dy() {
		return nil, fmt.Errorf("annotated frame is %dx%d, input is %dx%d", frame.Width, frame.Height, b.Dx(), b.Dy())
	}
	logger.Log().Debug("detect finished",
		zap.String("model", cfg.ModelPath),
		zap.Int("size", size),
		zap.Float32("conf", opts.Confidence),
		zap.Int("detections", len(dets)))
	return &iface.Prediction{Detections: dets, Annotated: frame, InferenceSize: size}, nil
}

func (d *Detector) Destroy() {
	d.infer.Lock()
	defer d.infer.Unlock()
	d.backend.Destroy()
	d.mu.Lock()
	d.cfg = iface.EngineConfig{}
	d.mu.Unlock()
	d.state.Store(UNREGISTERED)
}
