package reducer

import (
	"bytes"
	"errors"
	"image"
	"image/gif"
	"image/jpeg"
	"testing"

	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
)

func TestDetectFormat(t *testing.T) {
	heic := append([]byte{0, 0, 0, 0x18}, []byte("ftypheic\x00\x00\x00\x00mif1")...)
	avif := append([]byte{0, 0, 0, 0x18}, []byte("ftypavif\x00\x00\x00\x00")...)

	tests := []struct {
		name string
		data []byte
		want string
	}{
		{"jpeg", []byte{0xFF, 0xD8, 0xFF, 0xE0}, FormatJPEG},
		{"png", []byte("\x89PNG\r\n\x1a\n...."), FormatPNG},
		{"gif87", []byte("GIF87a...."), FormatGIF},
		{"gif89", []byte("GIF89a...."), FormatGIF},
		{"webp", []byte("RIFF\x00\x00\x00\x00WEBPVP8 "), FormatWebP},
		{"heic", heic, FormatHEIF},
		{"avif is not heif", avif, ""},
		{"bmp", append([]byte("BM"), make([]byte, 30)...), FormatBMP},
		{"tiff little endian", []byte("II*\x00...."), FormatTIFF},
		{"tiff big endian", []byte("MM\x00*...."), FormatTIFF},
		{"text", []byte("hello world"), ""},
		{"empty", nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetectFormat(tt.data); got != tt.want {
				t.Errorf("DetectFormat() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDecode(t *testing.T) {
	src := noiseImage(40, 30)

	encoders := map[string]func(*bytes.Buffer) error{
		FormatPNG: func(b *bytes.Buffer) error {
			b.Write(encodePNG(t, src))
			return nil
		},
		FormatJPEG: func(b *bytes.Buffer) error { return jpeg.Encode(b, src, &jpeg.Options{Quality: 90}) },
		FormatGIF:  func(b *bytes.Buffer) error { return gif.Encode(b, src, nil) },
		FormatBMP:  func(b *bytes.Buffer) error { return bmp.Encode(b, src) },
		FormatTIFF: func(b *bytes.Buffer) error { return tiff.Encode(b, src, nil) },
	}

	for format, encode := range encoders {
		t.Run(format, func(t *testing.T) {
			var buf bytes.Buffer
			if err := encode(&buf); err != nil {
				t.Fatalf("encode error = %v", err)
			}

			img, got, err := Decode(buf.Bytes())
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if got != format {
				t.Errorf("Decode() format = %q, want %q", got, format)
			}
			if b := img.Bounds(); b.Dx() != 40 || b.Dy() != 30 {
				t.Errorf("Decode() bounds = %v, want 40x30", b)
			}
		})
	}
}

func TestDecode_Errors(t *testing.T) {
	heic := append([]byte{0, 0, 0, 0x18}, []byte("ftypheic\x00\x00\x00\x00mif1garbagegarbage")...)

	tests := []struct {
		name    string
		data    []byte
		wantErr error
	}{
		{"unknown", []byte("plain text"), ErrUnsupportedFormat},
		{"truncated jpeg", []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00}, ErrInvalidImage},
		{"truncated gif", []byte("GIF89a\x01"), ErrInvalidImage},
		{"corrupt heic", heic, ErrInvalidImage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img, _, err := Decode(tt.data)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Decode() error = %v, want %v", err, tt.wantErr)
			}
			if img != nil {
				t.Error("Decode() returned an image on error")
			}
		})
	}
}

func TestDecode_LargeJPEGDimensions(t *testing.T) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, image.NewGray(image.Rect(0, 0, 8, 2000)), nil); err != nil {
		t.Fatal(err)
	}
	img, _, err := Decode(buf.Bytes())
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if img.Bounds().Dy() != 2000 {
		t.Errorf("Height = %d, want 2000", img.Bounds().Dy())
	}
}
