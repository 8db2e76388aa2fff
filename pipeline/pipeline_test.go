package pipeline

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"
	"time"

	"YoloBench/bank"
	iface "YoloBench/interface"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockDetector returns fixed detections above the requested threshold.
type MockDetector struct {
	Dets  []iface.Detection
	Err   error
	Calls []iface.DetectOptions
}

func (m *MockDetector) Detect(ctx context.Context, img image.Image, opts iface.DetectOptions) (*iface.Prediction, error) {
	m.Calls = append(m.Calls, opts)
	if m.Err != nil {
		return nil, m.Err
	}
	var dets []iface.Detection
	for _, d := range m.Dets {
		if d.Confidence >= opts.Confidence {
			dets = append(dets, d)
		}
	}
	size := opts.InferenceSize
	if size == 0 {
		size = 640
	}
	return &iface.Prediction{
		Detections:    dets,
		Annotated:     iface.FrameFromImage(img, iface.ChannelBGR),
		InferenceSize: size,
	}, nil
}

func (m *MockDetector) CheckConfig() iface.EngineConfig {
	return iface.EngineConfig{ModelPath: "weights/best.onnx", InputSize: 640}
}

type recorder struct {
	results []string
	saves   []bool
	infers  int
}

func (r *recorder) Interaction(source, result string) { r.results = append(r.results, result) }
func (r *recorder) Inference(time.Duration, int)      { r.infers++ }
func (r *recorder) Saved(ok bool)                     { r.saves = append(r.saves, ok) }

func colored(w, h int) *image.NRGBA {
	return imaging.New(w, h, color.NRGBA{R: 200, G: 40, B: 10, A: 255})
}

func encode(t *testing.T, img image.Image, f imaging.Format) []byte {
	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, img, f))
	return buf.Bytes()
}

func bankWith(t *testing.T, names ...string) *bank.Bank {
	dir := t.TempDir()
	for _, n := range names {
		require.NoError(t, imaging.Save(colored(32, 24), filepath.Join(dir, n)))
	}
	return bank.New(dir)
}

func catDetector() *MockDetector {
	return &MockDetector{Dets: []iface.Detection{
		{Label: "cat", ClassID: 0, Confidence: 0.83, Box: iface.Box{X1: 2, Y1: 2, X2: 20, Y2: 20}},
		{Label: "dog", ClassID: 1, Confidence: 0.3, Box: iface.Box{X1: 1, Y1: 1, X2: 5, Y2: 5}},
	}}
}

func TestRun_BankCatExample(t *testing.T) {
	rec := &recorder{}
	p := New(bankWith(t, "cat.jpg"), catDetector(), Options{Metrics: rec})

	out, err := p.Run(context.Background(), Params{Source: SourceBank, Choice: "cat.jpg", Confidence: 0.5, Detect: true})
	require.NoError(t, err)
	assert.Equal(t, "cat.jpg", out.DisplayName)
	assert.Equal(t, []string{"cat.jpg"}, out.Bank)
	assert.Equal(t, []string{"- cat: 0.83"}, out.Lines)
	assert.Empty(t, out.Notices)
	require.NotNil(t, out.Download)
	assert.Equal(t, "deteccion_cat.jpg.png", out.Download.Name)
	assert.Equal(t, PNGContentType, out.Download.ContentType)
	assert.Equal(t, out.Original.Bounds(), out.Annotated.Bounds())
	assert.NotEmpty(t, out.RequestID)

	decoded, err := imaging.Decode(bytes.NewReader(out.Download.Data))
	require.NoError(t, err)
	assert.Equal(t, out.Original.Bounds().Size(), decoded.Bounds().Size())

	assert.Equal(t, []string{"detected"}, rec.results)
	assert.Equal(t, 1, rec.infers)
}

func TestRun_ZeroDetections(t *testing.T) {
	p := New(bankWith(t, "cat.jpg"), catDetector(), Options{})
	out, err := p.Run(context.Background(), Params{Confidence: 0.9, Detect: true})
	require.NoError(t, err)
	assert.Empty(t, out.Lines)
	require.Len(t, out.Notices, 1)
	assert.Equal(t, Notice{Level: LevelInfo, Text: "No se detectaron objetos con los parámetros actuales."}, out.Notices[0])
	assert.NotNil(t, out.Download)
}

func TestRun_PreviewDoesNotDetect(t *testing.T) {
	det := catDetector()
	p := New(bankWith(t, "b.png", "a.jpg"), det, Options{})
	out, err := p.Run(context.Background(), Params{Confidence: 0.25})
	require.NoError(t, err)
	assert.Equal(t, "a.jpg", out.DisplayName)
	assert.NotNil(t, out.Original)
	assert.False(t, out.Detected)
	assert.Nil(t, out.Download)
	assert.Empty(t, det.Calls)
}

func TestRun_EmptyBank(t *testing.T) {
	rec := &recorder{}
	b := bank.New(filepath.Join(t.TempDir(), "missing"))
	p := New(b, catDetector(), Options{Metrics: rec})
	out, err := p.Run(context.Background(), Params{Confidence: 0.25, Detect: true})
	assert.ErrorIs(t, err, bank.ErrNotFound)
	require.Len(t, out.Notices, 1)
	assert.Equal(t, LevelWarning, out.Notices[0].Level)
	assert.Contains(t, out.Notices[0].Text, "No encontré imágenes en")
	assert.Nil(t, out.Original)
	assert.Equal(t, []string{"not_found"}, rec.results)
}

func TestRun_CorruptBankFile(t *testing.T) {
	b := bankWith(t)
	require.NoError(t, os.WriteFile(filepath.Join(b.Dir, "broken.jpg"), []byte("not an image"), 0o644))
	p := New(b, catDetector(), Options{})
	out, err := p.Run(context.Background(), Params{Choice: "broken.jpg", Confidence: 0.25, Detect: true})
	assert.ErrorIs(t, err, bank.ErrDecode)
	require.Len(t, out.Notices, 1)
	assert.Equal(t, LevelError, out.Notices[0].Level)
	assert.Contains(t, out.Notices[0].Text, "No pude abrir `broken.jpg`")
}

func TestRun_UploadSavedWithCoercedExtension(t *testing.T) {
	rec := &recorder{}
	b := bank.New(filepath.Join(t.TempDir(), "bank"))
	p := New(b, catDetector(), Options{Metrics: rec})

	out, err := p.Run(context.Background(), Params{
		Source:     SourceUpload,
		Upload:     encode(t, colored(16, 16), imaging.PNG),
		SaveToBank: true,
		SaveName:   "photo.gif",
		Confidence: 0.25,
		Detect:     true,
	})
	require.NoError(t, err)
	assert.Equal(t, "photo.jpg", out.DisplayName)
	assert.Equal(t, "deteccion_photo.jpg.png", out.Download.Name)
	assert.FileExists(t, filepath.Join(b.Dir, "photo.jpg"))
	require.NotEmpty(t, out.Notices)
	assert.Equal(t, LevelInfo, out.Notices[0].Level)
	assert.Contains(t, out.Notices[0].Text, "Guardado en:")
	assert.Equal(t, []bool{true}, rec.saves)
	assert.Equal(t, []string{"- cat: 0.83", "- dog: 0.30"}, out.Lines)
}

func TestRun_UploadSuggestedName(t *testing.T) {
	now := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)
	p := New(bank.New(t.TempDir()), catDetector(), Options{Now: func() time.Time { return now }})
	out, err := p.Run(context.Background(), Params{
		Source:     SourceUpload,
		Upload:     encode(t, colored(8, 8), imaging.JPEG),
		Confidence: 0.25,
	})
	require.NoError(t, err)
	assert.Equal(t, "user_20240506_070809.jpg", out.DisplayName)
	assert.Equal(t, "user_20240506_070809.jpg", p.SuggestName())
	assert.Empty(t, out.Notices)
}

func TestRun_SaveFailureIsWarning(t *testing.T) {
	parent := t.TempDir()
	blocker := filepath.Join(parent, "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))
	rec := &recorder{}
	p := New(bank.New(filepath.Join(blocker, "bank")), catDetector(), Options{Metrics: rec})

	out, err := p.Run(context.Background(), Params{
		Source:     SourceUpload,
		Upload:     encode(t, colored(8, 8), imaging.PNG),
		SaveToBank: true,
		SaveName:   "x.png",
		Confidence: 0.25,
		Detect:     true,
	})
	require.NoError(t, err)
	assert.Equal(t, LevelWarning, out.Notices[0].Level)
	assert.Contains(t, out.Notices[0].Text, "No pude guardar la imagen")
	assert.True(t, out.Detected)
	assert.Equal(t, []bool{false}, rec.saves)
}

func TestRun_BadUpload(t *testing.T) {
	p := New(bank.New(t.TempDir()), catDetector(), Options{})
	out, err := p.Run(context.Background(), Params{Source: SourceUpload, Upload: []byte("garbage"), Confidence: 0.25})
	assert.ErrorIs(t, err, bank.ErrDecode)
	assert.Contains(t, out.Notices[0].Text, "No pude leer la imagen subida")

	_, err = p.Run(context.Background(), Params{Source: SourceUpload, Confidence: 0.25})
	assert.ErrorIs(t, err, ErrNoImage)
}

func TestRun_DetectorFailure(t *testing.T) {
	det := &MockDetector{Err: errors.New("session closed")}
	p := New(bankWith(t, "cat.jpg"), det, Options{})
	out, err := p.Run(context.Background(), Params{Confidence: 0.25, Detect: true})
	assert.ErrorIs(t, err, ErrDetect)
	assert.ErrorContains(t, err, "session closed")
	assert.Equal(t, LevelError, out.Notices[0].Level)
	assert.NotNil(t, out.Original)
}

func TestRun_InferenceSizeSwitch(t *testing.T) {
	det := catDetector()
	params := Params{Confidence: 0.25, InferenceSize: 960, Detect: true}

	off := New(bankWith(t, "cat.jpg"), det, Options{})
	out, err := off.Run(context.Background(), params)
	require.NoError(t, err)
	assert.Equal(t, 0, det.Calls[0].InferenceSize)
	assert.Equal(t, 640, out.InferenceSize)

	on := New(bankWith(t, "cat.jpg"), det, Options{SizeSelector: true})
	out, err = on.Run(context.Background(), params)
	require.NoError(t, err)
	assert.Equal(t, 960, det.Calls[1].InferenceSize)
	assert.Equal(t, 960, out.InferenceSize)
}

func TestRun_InvalidParams(t *testing.T) {
	p := New(bankWith(t, "cat.jpg"), catDetector(), Options{SizeSelector: true})
	for _, params := range []Params{
		{Confidence: 0.05},
		{Confidence: 0.95},
		{Confidence: 0.25, InferenceSize: 300},
		{Confidence: 0.25, Source: "camera"},
	} {
		out, err := p.Run(context.Background(), params)
		assert.ErrorIs(t, err, ErrInvalidParams)
		assert.Nil(t, out)
	}
}

func TestRun_SizeIgnoredWithoutSelector(t *testing.T) {
	det := catDetector()
	p := New(bankWith(t, "cat.jpg"), det, Options{})
	out, err := p.Run(context.Background(), Params{Confidence: 0.25, InferenceSize: 300, Detect: true})
	require.NoError(t, err)
	require.Len(t, det.Calls, 1)
	assert.Equal(t, 0, det.Calls[0].InferenceSize)
	assert.Equal(t, 640, out.InferenceSize)
}

func TestRun_UsesCustomLister(t *testing.T) {
	b := bankWith(t, "cat.jpg")
	p := New(b, catDetector(), Options{List: func() ([]string, error) { return []string{"cat.jpg", "ghost.jpg"}, nil }})
	out, err := p.Run(context.Background(), Params{Choice: "cat.jpg", Confidence: 0.25})
	require.NoError(t, err)
	assert.Equal(t, []string{"cat.jpg", "ghost.jpg"}, out.Bank)
}

func TestRun_OpensFromListerSnapshot(t *testing.T) {
	b := bankWith(t, "cat.jpg", "dog.jpg")
	p := New(b, catDetector(), Options{List: func() ([]string, error) { return []string{"dog.jpg", "cat.jpg"}, nil }})
	out, err := p.Run(context.Background(), Params{Confidence: 0.25})
	require.NoError(t, err)
	assert.Equal(t, "dog.jpg", out.DisplayName)

	only := New(b, catDetector(), Options{List: func() ([]string, error) { return []string{"cat.jpg"}, nil }})
	_, err = only.Run(context.Background(), Params{Choice: "dog.jpg", Confidence: 0.25})
	assert.ErrorIs(t, err, bank.ErrNotFound)
}

func TestParamsValidate_Bounds(t *testing.T) {
	p := Params{Confidence: MinConfidence}
	require.NoError(t, p.Validate())
	assert.Equal(t, SourceBank, p.Source)
	p = Params{Confidence: MaxConfidence, InferenceSize: 320}
	assert.NoError(t, p.Validate())
}

func TestPresenter(t *testing.T) {
	assert.Equal(t, "- cat: 0.83", FormatDetection(iface.Detection{Label: "cat", Confidence: 0.8312}))
	assert.Equal(t, "- 7: 0.50", FormatDetection(iface.Detection{Label: "7", Confidence: 0.5}))
	assert.Equal(t, "deteccion_imagen.png", DownloadName(""))
	assert.Equal(t, "deteccion_cat.jpg.png", DownloadName("cat.jpg"))

	f := iface.Frame{Width: 1, Height: 1, Order: iface.ChannelBGR, Pix: []byte{10, 20, 30}}
	data, err := EncodePNG(f)
	require.NoError(t, err)
	img, err := imaging.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	r, g, b, _ := img.At(0, 0).RGBA()
	assert.Equal(t, []uint32{30, 20, 10}, []uint32{r >> 8, g >> 8, b >> 8})

	_, err = EncodePNG(iface.Frame{Width: 2, Height: 2, Pix: []byte{1}})
	assert.Error(t, err)
}
