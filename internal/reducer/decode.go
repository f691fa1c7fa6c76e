package reducer

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/png"
	"log"
	"strings"

	"github.com/adrium/goheif"
	"github.com/disintegration/imaging"
	"github.com/harliandi/go-shrink/pkg/quality"

	webp "github.com/chai2010/webp"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
)

// Source formats recognised by DetectFormat.
const (
	FormatJPEG = "jpeg"
	FormatPNG  = "png"
	FormatGIF  = "gif"
	FormatWebP = "webp"
	FormatHEIF = "heif"
	FormatBMP  = "bmp"
	FormatTIFF = "tiff"
)

var (
	// ErrUnsupportedFormat is returned for data that is not a known image format.
	ErrUnsupportedFormat = fmt.Errorf("%w: unsupported image format", quality.ErrInvalidInput)
	// ErrInvalidImage is returned when a recognised format fails to decode.
	ErrInvalidImage = fmt.Errorf("%w: corrupt image data", quality.ErrInvalidInput)
)

// HEIF brands found after the "ftyp" box type.
var heifBrands = []string{"heic", "heix", "heim", "heis", "hevc", "hevx", "mif1", "msf1"}

// DetectFormat sniffs the image format from magic bytes, or returns "".
func DetectFormat(data []byte) string {
	switch {
	case len(data) >= 3 && data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF:
		return FormatJPEG
	case bytes.HasPrefix(data, []byte("\x89PNG\r\n\x1a\n")):
		return FormatPNG
	case bytes.HasPrefix(data, []byte("GIF87a")), bytes.HasPrefix(data, []byte("GIF89a")):
		return FormatGIF
	case len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WEBP":
		return FormatWebP
	case isHEIF(data):
		return FormatHEIF
	case bytes.HasPrefix(data, []byte("BM")) && len(data) >= 26:
		return FormatBMP
	case bytes.HasPrefix(data, []byte("II*\x00")), bytes.HasPrefix(data, []byte("MM\x00*")):
		return FormatTIFF
	}
	return ""
}

// isHEIF checks for an ISOBMFF "ftyp" box with a HEIF brand.
// Layout: [4 bytes size] + "ftyp" + [major brand] + [minor version] + [compatible brands...]
func isHEIF(data []byte) bool {
	if len(data) < 12 || string(data[4:8]) != "ftyp" {
		return false
	}
	brand := strings.ToLower(string(data[8:12]))
	for _, b := range heifBrands {
		if brand == b {
			return true
		}
	}
	return false
}

// Decode decodes data into an image and reports its format. JPEG input is
// rotated according to its EXIF orientation.
func Decode(data []byte) (img image.Image, format string, err error) {
	format = DetectFormat(data)
	if format == "" {
		return nil, "", ErrUnsupportedFormat
	}

	// Some decoders panic on malformed input instead of returning an error.
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Decode panic recovered (%s): %v", format, r)
			img, err = nil, fmt.Errorf("%w: %s decoder failed", ErrInvalidImage, format)
		}
	}()

	switch format {
	case FormatJPEG:
		img, err = imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	case FormatWebP:
		img, err = webp.Decode(bytes.NewReader(data))
	case FormatHEIF:
		img, err = goheif.Decode(bytes.NewReader(data))
	default:
		img, _, err = image.Decode(bytes.NewReader(data))
	}
	if err != nil {
		if errors.Is(err, image.ErrFormat) {
			return nil, "", ErrUnsupportedFormat
		}
		return nil, "", fmt.Errorf("%w: %s: %v", ErrInvalidImage, format, err)
	}
	return img, format, nil
}
