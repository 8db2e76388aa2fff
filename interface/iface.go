package iface

import (
	"context"
	"image"
)

type Position struct {
	X, Y float32
}

// Box is an axis-aligned rectangle in source image pixels.
type Box struct {
	X1 float32 `json:"x1"`
	Y1 float32 `json:"y1"`
	X2 float32 `json:"x2"`
	Y2 float32 `json:"y2"`
}

func (b Box) Width() float32  { return b.X2 - b.X1 }
func (b Box) Height() float32 { return b.Y2 - b.Y1 }

func (b Box) Center() Position {
	return Position{X: (b.X1 + b.X2) / 2, Y: (b.Y1 + b.Y2) / 2}
}

func (b Box) Rect() image.Rectangle {
	return image.Rect(int(b.X1), int(b.Y1), int(b.X2), int(b.Y2))
}

type Detection struct {
	Label      string  `json:"label"`
	ClassID    int     `json:"classId"`
	Confidence float32 `json:"confidence"`
	Box        Box     `json:"box"`
}

type EngineConfig struct {
	Backend   string
	ModelPath string
	Names     []string
	InputSize int
	Iou       float32
	UseGPU    bool
}

// DetectOptions carries the per-interaction inference parameters.
// InferenceSize 0 means the model's configured input size.
type DetectOptions struct {
	Confidence    float32
	InferenceSize int
}

type Prediction struct {
	Detections    []Detection
	Annotated     Frame
	InferenceSize int
}

// Backend is a loaded model. Implementations are not safe for concurrent use.
type Backend interface {
	LoadModel(cfg EngineConfig) error
	Infer(img image.Image, size int, conf float32) ([]Detection, error)
	CheckConfig() EngineConfig
	Destroy()
}

type Detector interface {
	Detect(ctx context.Context, img image.Image, opts DetectOptions) (*Prediction, error)
	CheckConfig() EngineConfig
}
