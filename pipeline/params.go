package pipeline

import (
	"errors"
	"fmt"
	"math"
	"slices"
)

const (
	SourceBank   = "bank"
	SourceUpload = "upload"
)

const (
	MinConfidence     float32 = 0.1
	MaxConfidence     float32 = 0.9
	ConfidenceStep    float32 = 0.05
	DefaultConfidence float32 = 0.25
)

// InferenceSizes are the sizes offered by the size selector.
var InferenceSizes = []int{320, 416, 512, 640, 768, 960}

var ErrInvalidParams = errors.New("invalid parameters")

// Params is the full UI state of one interaction.
type Params struct {
	Source     string
	Choice     string
	Upload     []byte
	UploadName string
	SaveToBank bool
	SaveName   string
	Confidence float32
	// InferenceSize 0 leaves the size to the model.
	InferenceSize int
	// Detect runs the model; otherwise the image is only previewed.
	Detect bool
}

// Validate checks p and fills the source default.
func (p *Params) Validate() error {
	if p.Source == "" {
		p.Source = SourceBank
	}
	if p.Source != SourceBank && p.Source != SourceUpload {
		return fmt.Errorf("%w: unknown source %q", ErrInvalidParams, p.Source)
	}
	const eps = 1e-6
	if math.IsNaN(float64(p.Confidence)) || p.Confidence < MinConfidence-eps || p.Confidence > MaxConfidence+eps {
		return fmt.Errorf("%w: confidence %.2f outside [%.2f, %.2f]", ErrInvalidParams, p.Confidence, MinConfidence, MaxConfidence)
	}
	if p.InferenceSize != 0 && !slices.Contains(InferenceSizes, p.InferenceSize) {
		return fmt.Errorf("%w: inference size %d not in %v", ErrInvalidParams, p.InferenceSize, InferenceSizes)
	}
	return nil
}
