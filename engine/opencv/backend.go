// Package opencv runs detection and annotation through gocv.
package opencv

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"sort"

	"YoloBench/engine"
	"YoloBench/engine/yolo"
	iface "YoloBench/interface"

	"gocv.io/x/gocv"
)

// Backend runs a YOLOv8 ONNX export through the OpenCV DNN module.
type Backend struct {
	cfg iface.EngineConfig
	net gocv.Net
}

func NewBackend() iface.Backend {
	return &Backend{}
}

func (b *Backend) LoadModel(cfg iface.EngineConfig) error {
	net := gocv.ReadNetFromONNX(cfg.ModelPath)
	if net.Empty() {
		return fmt.Errorf("cannot read model %s", cfg.ModelPath)
	}
	if cfg.UseGPU {
		net.SetPreferableBackend(gocv.NetBackendCUDA)
		net.SetPreferableTarget(gocv.NetTargetCUDA)
	} else {
		net.SetPreferableBackend(gocv.NetBackendDefault)
		net.SetPreferableTarget(gocv.NetTargetCPU)
	}
	if cfg.InputSize <= 0 {
		cfg.InputSize = 640
	}
	if cfg.Iou <= 0 {
		cfg.Iou = yolo.DefaultIou
	}
	b.net = net
	b.cfg = cfg
	return nil
}

// ToMat converts img to an 8-bit BGR Mat. The caller closes it.
func ToMat(img image.Image) (gocv.Mat, error) {
	f := iface.FrameFromImage(img, iface.ChannelBGR)
	m, err := gocv.NewMatFromBytes(f.Height, f.Width, gocv.MatTypeCV8UC3, f.Pix)
	if err != nil {
		return gocv.NewMat(), err
	}
	defer m.Close()
	return m.Clone(), nil
}

func (b *Backend) Infer(img image.Image, size int, conf float32) ([]iface.Detection, error) {
	if b.cfg.ModelPath == "" {
		return nil, engine.ErrNotLoaded
	}
	if size <= 0 {
		size = b.cfg.InputSize
	}
	mat, err := ToMat(img)
	if err != nil {
		return nil, err
	}
	defer mat.Close()
	if mat.Empty() {
		return nil, errors.New("image is empty")
	}
	srcW, srcH := mat.Cols(), mat.Rows()
	lb := yolo.NewLetterbox(srcW, srcH, size)

	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(mat, &resized, image.Pt(lb.NewW, lb.NewH), 0, 0, gocv.InterpolationLinear)
	padded := gocv.NewMat()
	defer padded.Close()
	pad := color.RGBA{R: yolo.PadValue, G: yolo.PadValue, B: yolo.PadValue, A: 0}
	gocv.CopyMakeBorder(resized, &padded, lb.Top, lb.Bottom, lb.Left, lb.Right, gocv.BorderConstant, pad)

	blob := gocv.BlobFromImage(padded, 1.0/255.0, image.Pt(size, size), gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()
	b.net.SetInput(blob, "")
	out := b.net.Forward("")
	defer out.Close()

	data, err := out.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("read output: %w", err)
	}
	cands, err := yolo.Decode(data, out.Size(), conf)
	if err != nil {
		return nil, err
	}
	cands = Suppress(cands, b.cfg.Iou, yolo.MaxDetections)
	return yolo.Finalize(cands, lb, srcW, srcH, b.cfg.Names, conf), nil
}

// Suppress runs gocv.NMSBoxes separately for each class and keeps at most
// maxDet candidates, highest score first.
func Suppress(cands []yolo.Candidate, iou float32, maxDet int) []yolo.Candidate {
	byClass := make(map[int][]yolo.Candidate)
	for _, c := range cands {
		byClass[c.ClassID] = append(byClass[c.ClassID], c)
	}
	kept := make([]yolo.Candidate, 0, len(cands))
	for _, group := range byClass {
		boxes := make([]image.Rectangle, len(group))
		scores := make([]float32, len(group))
		for i, c := range group {
			boxes[i] = image.Rect(int(c.Box.X1), int(c.Box.Y1), int(c.Box.X2), int(c.Box.Y2))
			scores[i] = c.Score
		}
		for _, idx := range gocv.NMSBoxes(boxes, scores, 0, iou) {
			kept = append(kept, group[idx])
		}
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].Score > kept[j].Score })
	if len(kept) > maxDet {
		kept = kept[:maxDet]
	}
	return kept
}

func (b *Backend) CheckConfig() iface.EngineConfig {
	return b.cfg
}

func (b *Backend) Destroy() {
	if b.cfg.ModelPath != "" {
		b.net.Close()
	}
	b.cfg = iface.EngineConfig{}
}
