package engine

import (
	"errors"
	"fmt"
	"image"
	"runtime"

	"YoloBench/engine/yolo"
	iface "YoloBench/interface"
	"YoloBench/logger"

	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"
)

// InitOnnxRuntime loads the onnxruntime shared library once per process.
func InitOnnxRuntime(libPath string) error {
	if ort.IsInitialized() {
		return nil
	}
	if libPath != "" {
		ort.SetSharedLibraryPath(libPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("initialize onnxruntime: %w", err)
	}
	return nil
}

func DestroyOnnxRuntime() {
	if ort.IsInitialized() {
		if err := ort.DestroyEnvironment(); err != nil {
			logger.Log().Warn("destroy onnxruntime", zap.Error(err))
		}
	}
}

type ortSession struct {
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
	dims    []int
}

func (s *ortSession) destroy() {
	s.session.Destroy()
	s.input.Destroy()
	s.output.Destroy()
}

// OrtBackend runs a YOLOv8 ONNX export through onnxruntime. The output shape
// is fixed per session, so one session is kept for each inference size.
type OrtBackend struct {
	cfg      iface.EngineConfig
	sessions map[int]*ortSession
}

func NewOrtBackend() iface.Backend {
	return &OrtBackend{sessions: make(map[int]*ortSession)}
}

func (b *OrtBackend) LoadModel(cfg iface.EngineConfig) error {
	if !ort.IsInitialized() {
		return errors.New("onnxruntime environment is not initialized")
	}
	if len(cfg.Names) == 0 {
		return errors.New("onnxruntime backend needs class names")
	}
	if cfg.InputSize <= 0 {
		cfg.InputSize = 640
	}
	if cfg.Iou <= 0 {
		cfg.Iou = yolo.DefaultIou
	}
	b.cfg = cfg
	if _, err := b.session(cfg.InputSize); err != nil {
		b.cfg = iface.EngineConfig{}
		return err
	}
	return nil
}

func (b *OrtBackend) session(size int) (*ortSession, error) {
	if s, ok := b.sessions[size]; ok {
		return s, nil
	}
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("session options: %w", err)
	}
	defer options.Destroy()
	options.SetIntraOpNumThreads(runtime.NumCPU())
	options.SetInterOpNumThreads(runtime.NumCPU())
	if b.cfg.UseGPU {
		if err := appendCUDA(options); err != nil {
			logger.Log().Warn("CUDA provider unavailable, using CPU", zap.Error(err))
		}
	}

	attrs := 4 + len(b.cfg.Names)
	anchors := yolo.NumAnchors(size)
	input, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, int64(size), int64(size)))
	if err != nil {
		return nil, fmt.Errorf("input tensor: %w", err)
	}
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(attrs), int64(anchors)))
	if err != nil {
		input.Destroy()
		return nil, fmt.Errorf("output tensor: %w", err)
	}
	session, err := ort.NewAdvancedSession(
		b.cfg.ModelPath,
		[]string{"images"},
		[]string{"output0"},
		[]ort.ArbitraryTensor{input},
		[]ort.ArbitraryTensor{output},
		options,
	)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, fmt.Errorf("create session for size %d: %w", size, err)
	}
	s := &ortSession{session: session, input: input, output: output, dims: []int{1, attrs, anchors}}
	b.sessions[size] = s
	return s, nil
}

func appendCUDA(options *ort.SessionOptions) error {
	cuda, err := ort.NewCUDAProviderOptions()
	if err != nil {
		return err
	}
	defer cuda.Destroy()
	return options.AppendExecutionProviderCUDA(cuda)
}

func (b *OrtBackend) Infer(img image.Image, size int, conf float32) ([]iface.Detection, error) {
	if b.cfg.ModelPath == "" {
		return nil, ErrNotLoaded
	}
	if size <= 0 {
		size = b.cfg.InputSize
	}
	s, err := b.session(size)
	if err != nil {
		return nil, err
	}
	bounds := img.Bounds()
	lb := yolo.NewLetterbox(bounds.Dx(), bounds.Dy(), size)
	yolo.ToCHW(yolo.LetterboxImage(img, lb), s.input.GetData())
	if err := s.session.Run(); err != nil {
		return nil, fmt.Errorf("run session: %w", err)
	}
	cands, err := yolo.Decode(s.output.GetData(), s.dims, conf)
	if err != nil {
		return nil, err
	}
	cands = yolo.NMS(cands, b.cfg.Iou, yolo.MaxDetections)
	return yolo.Finalize(cands, lb, bounds.Dx(), bounds.Dy(), b.cfg.Names, conf), nil
}

func (b *OrtBackend) CheckConfig() iface.EngineConfig {
	return b.cfg
}

func (b *OrtBackend) Destroy() {
	for size, s := range b.sessions {
		s.destroy()
		delete(b.sessions, size)
	}
	b.cfg = iface.EngineConfig{}
}
