package pipeline

import (
	"bytes"
	"fmt"

	iface "YoloBench/interface"

	"github.com/disintegration/imaging"
)

const PNGContentType = "image/png"

type Download struct {
	Name        string `json:"name"`
	ContentType string `json:"contentType"`
	Data        []byte `json:"data"`
}

func FormatDetection(d iface.Detection) string {
	return fmt.Sprintf("- %s: %.2f", d.Label, d.Confidence)
}

// DownloadName derives the annotated file name from the display name.
func DownloadName(display string) string {
	if display == "" {
		display = "imagen"
	}
	return "deteccion_" + display + ".png"
}

// EncodePNG converts the frame to display order and encodes it.
func EncodePNG(f iface.Frame) ([]byte, error) {
	img, err := f.Image()
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}
