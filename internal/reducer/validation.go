package reducer

import (
	"errors"
	"image"
	"log"
)

var (
	// ErrFileTooLarge is returned when the file exceeds the size limit
	ErrFileTooLarge = errors.New("file size exceeds limit")
	// ErrInvalidImageDimensions is returned when image dimensions are invalid
	ErrInvalidImageDimensions = errors.New("invalid image dimensions")
	// ErrImageTooLarge is returned when image dimensions exceed limits
	ErrImageTooLarge = errors.New("image dimensions exceed maximum allowed")
)

// Validation limits
const (
	MaxFileSize    = 50 * 1024 * 1024 // 50MB max file size
	MaxImageWidth  = 20000            // 20K pixels max width
	MaxImageHeight = 20000            // 20K pixels max height
	MaxImagePixels = 250_000_000      // 250 megapixels max total pixels
)

// ValidateFile checks the encoded file before decoding
func ValidateFile(data []byte) error {
	if len(data) == 0 {
		return ErrInvalidImage
	}
	if len(data) > MaxFileSize {
		log.Printf("File too large: %d bytes (max: %d)", len(data), MaxFileSize)
		return ErrFileTooLarge
	}
	return nil
}

// ValidateImage checks decoded image dimensions are within acceptable limits
func ValidateImage(img image.Image) error {
	if img == nil {
		return ErrInvalidImage
	}

	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	if width <= 0 || height <= 0 {
		log.Printf("Invalid dimensions: %dx%d", width, height)
		return ErrInvalidImageDimensions
	}

	if width > MaxImageWidth || height > MaxImageHeight {
		log.Printf("Dimensions too large: %dx%d (max: %dx%d)", width, height, MaxImageWidth, MaxImageHeight)
		return ErrImageTooLarge
	}

	// Check total pixel count (prevent decompression bomb attacks)
	totalPixels := int64(width) * int64(height)
	if totalPixels > MaxImagePixels {
		log.Printf("Too many pixels: %d (max: %d)", totalPixels, MaxImagePixels)
		return ErrImageTooLarge
	}

	return nil
}
