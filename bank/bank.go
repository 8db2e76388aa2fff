// Package bank resolves the image for an interaction: a file picked from the
// local test-image directory, or an uploaded byte stream that can optionally
// be saved back into that directory.
package bank

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/disintegration/imaging"
)

var (
	ErrNotFound = errors.New("image not found")
	ErrDecode   = errors.New("cannot decode image")
)

// AllowedExts are the lower-case extensions the bank lists and stores.
var AllowedExts = []string{".jpg", ".jpeg", ".png"}

// DefaultExt replaces any extension outside AllowedExts when saving.
const DefaultExt = ".jpg"

type Bank struct {
	Dir string
}

func New(dir string) *Bank {
	return &Bank{Dir: dir}
}

func Allowed(name string) bool {
	return slices.Contains(AllowedExts, strings.ToLower(filepath.Ext(name)))
}

// List returns the allowed image files in the bank, sorted. A missing or
// empty directory yields ErrNotFound.
func (b *Bank) List() ([]string, error) {
	entries, err := os.ReadDir(b.Dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: directory %s does not exist", ErrNotFound, b.Dir)
		}
		return nil, fmt.Errorf("read %s: %w", b.Dir, err)
	}
	files := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() || !Allowed(e.Name()) {
			continue
		}
		files = append(files, e.Name())
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: no images in %s", ErrNotFound, b.Dir)
	}
	slices.Sort(files)
	return files, nil
}

// Open loads a listed file as an RGB image. An empty name selects the first
// file in the listing. It returns the resolved name.
func (b *Bank) Open(name string) (image.Image, string, error) {
	files, err := b.List()
	if err != nil {
		return nil, "", err
	}
	return b.OpenFrom(files, name)
}

// OpenFrom is Open against a listing the caller already holds, such as a
// Catalog snapshot.
func (b *Bank) OpenFrom(files []string, name string) (image.Image, string, error) {
	if len(files) == 0 {
		return nil, "", fmt.Errorf("%w: no images in %s", ErrNotFound, b.Dir)
	}
	if name == "" {
		name = files[0]
	}
	if !slices.Contains(files, name) {
		return nil, "", fmt.Errorf("%w: %s is not in the bank", ErrNotFound, name)
	}
	img, err := imaging.Open(filepath.Join(b.Dir, name))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %s: %v", ErrDecode, name, err)
	}
	return toRGB(img), name, nil
}

// Path returns the on-disk path of a listed file.
func (b *Bank) Path(name string) (string, error) {
	if name != filepath.Base(name) || !Allowed(name) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	p := filepath.Join(b.Dir, name)
	info, err := os.Stat(p)
	if err != nil || !info.Mode().IsRegular() {
		return "", fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return p, nil
}

// Decode reads an uploaded image.
func Decode(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty upload", ErrDecode)
	}
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return toRGB(img), nil
}

// NormalizeName strips directories and coerces the extension to DefaultExt
// when it is not allowed.
func NormalizeName(filename string) string {
	name := filepath.Base(strings.TrimSpace(filename))
	if name == "." || name == string(filepath.Separator) {
		name = ""
	}
	if Allowed(name) {
		return name
	}
	return strings.TrimSuffix(name, filepath.Ext(name)) + DefaultExt
}

// SuggestName is the default file name offered for saving an upload.
func SuggestName(t time.Time) string {
	return "user_" + t.Format("20060102_150405") + ".jpg"
}

// Save writes img into the bank under the normalized filename, creating the
// directory when needed. Existing files are overwritten.
func (b *Bank) Save(img image.Image, filename string) (string, error) {
	name := NormalizeName(filename)
	if strings.TrimSuffix(name, filepath.Ext(name)) == "" {
		return "", fmt.Errorf("invalid file name %q", filename)
	}
	if err := os.MkdirAll(b.Dir, 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", b.Dir, err)
	}
	p := filepath.Join(b.Dir, name)
	if err := imaging.Save(img, p); err != nil {
		return "", fmt.Errorf("save %s: %w", p, err)
	}
	return p, nil
}

// toRGB keeps the colour channels and discards alpha.
func toRGB(img image.Image) *image.NRGBA {
	out := imaging.Clone(img)
	for i := 3; i < len(out.Pix); i += 4 {
		out.Pix[i] = 0xff
	}
	return out
}
