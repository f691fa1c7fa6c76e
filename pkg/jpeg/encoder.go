// Package jpeg provides JPEG encoders that take a normalized quality in [0,1].
//
// Two backends are available: the standard library encoder and jpegli,
// which usually produces smaller files at the same quality setting.
package jpeg

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"math"
	"strings"

	"github.com/gen2brain/jpegli"
	"github.com/harliandi/go-shrink/pkg/quality"
)

const (
	// MinQuality is the lowest libjpeg-scale quality ever passed to a backend.
	MinQuality = 1
	// MaxQuality is the highest libjpeg-scale quality.
	MaxQuality = 100
)

// ErrUnknownEncoder is returned by ByName for an unrecognised backend.
var ErrUnknownEncoder = errors.New("unknown encoder")

// Encoder is a quality.Encoder with a stable name, used in cache keys and metrics.
type Encoder interface {
	quality.Encoder
	Name() string
}

// Scale maps a normalized quality onto the 1..100 scale, the same way a
// browser canvas maps toDataURL quality onto libjpeg.
func Scale(q float64) int {
	n := int(math.Round(q * 100))
	if n < MinQuality {
		return MinQuality
	}
	if n > MaxQuality {
		return MaxQuality
	}
	return n
}

// Std encodes with image/jpeg.
type Std struct{}

func (Std) Name() string { return "std" }

func (Std) Encode(img image.Image, q float64) ([]byte, error) {
	buf := getBuffer(sizeHint(img))
	defer putBuffer(buf)

	if err := jpeg.Encode(buf, img, &jpeg.Options{Quality: Scale(q)}); err != nil {
		return nil, err
	}
	return bytes.Clone(buf.Bytes()), nil
}

// Jpegli encodes with libjpegli. The zero value uses 4:4:4 chroma.
type Jpegli struct {
	Subsampling image.YCbCrSubsampleRatio
}

func (Jpegli) Name() string { return "jpegli" }

func (e Jpegli) Encode(img image.Image, q float64) ([]byte, error) {
	buf := getBuffer(sizeHint(img))
	defer putBuffer(buf)

	err := jpegli.Encode(buf, img, &jpegli.EncodingOptions{
		Quality:           Scale(q),
		ChromaSubsampling: e.Subsampling,
	})
	if err != nil {
		return nil, err
	}
	return bytes.Clone(buf.Bytes()), nil
}

// ByName returns the backend registered under name ("std" or "jpegli").
// An empty name selects the standard library encoder.
func ByName(name string) (Encoder, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "std", "stdlib":
		return Std{}, nil
	case "jpegli":
		return Jpegli{Subsampling: image.YCbCrSubsampleRatio420}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEncoder, name)
	}
}

// Names lists the accepted backend names.
func Names() []string {
	return []string{"std", "jpegli"}
}

// sizeHint guesses the encoded size so the first write rarely regrows.
func sizeHint(img image.Image) int {
	b := img.Bounds()
	return b.Dx() * b.Dy() / 2
}
