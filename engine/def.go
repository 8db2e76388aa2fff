package engine

import (
	"errors"
	"fmt"
	"image/color"
	"os"
	"strconv"
	"strings"
)

// Detector states, as reported by CheckEngine.
const (
	UNREGISTERED = 0x0001
	IDLE         = 0x0003
	BUSY         = 0x0004
)

const (
	BackendOpenCV      = "opencv"
	BackendOnnxRuntime = "onnxruntime"
)

var ErrNotLoaded = errors.New("model not loaded")

func StateName(state int) string {
	switch state {
	case UNREGISTERED:
		return "unregistered"
	case IDLE:
		return "idle"
	case BUSY:
		return "busy"
	default:
		return fmt.Sprintf("unknown(%d)", state)
	}
}

// ReadLinesReadFile returns the non-empty lines of a text file, accepting
// CRLF line endings.
func ReadLinesReadFile(path string) ([]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	raw := strings.Split(string(b), "\n")
	lines := make([]string, 0, len(raw))
	for _, l := range raw {
		l = strings.TrimSpace(strings.TrimRight(l, "\r"))
		if l != "" {
			lines = append(lines, l)
		}
	}
	return lines, nil
}

// LoadNames prefers the names file when one is given.
func LoadNames(names []string, namesFile string) ([]string, error) {
	if namesFile == "" {
		return names, nil
	}
	lines, err := ReadLinesReadFile(namesFile)
	if err != nil {
		return nil, fmt.Errorf("read names file: %w", err)
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("names file %s is empty", namesFile)
	}
	return lines, nil
}

var palette = []string{
	"FF3838", "FF9D97", "FF701F", "FFB21D", "CFD231", "48F90A", "92CC17", "3DDB86", "1A9334", "00D4BB",
	"2C99A8", "00C2FF", "344593", "6473FF", "0018EC", "8438FF", "520085", "CB38FF", "FF95C8", "FF37C7",
}

// Palette returns the box colour for a class id.
func Palette(classID int) color.RGBA {
	if classID < 0 {
		classID = -classID
	}
	v, _ := strconv.ParseUint(palette[classID%len(palette)], 16, 32)
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 255}
}

// LineWidth is the box stroke for an image of the given size.
func LineWidth(w, h int) int {
	lw := int(float64(w+h) / 2 * 0.003)
	if lw < 2 {
		lw = 2
	}
	return lw
}
