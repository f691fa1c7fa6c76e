package jpeg

import (
	"image"
	"image/color"
	"image/draw"
)

// Normalize returns img in a form image/jpeg encodes without per-pixel
// conversion. YCbCr, Gray and opaque RGBA images are returned as is;
// anything else is copied into a new RGBA image, with transparent pixels
// flattened onto white since JPEG has no alpha channel. img is never modified.
func Normalize(img image.Image) image.Image {
	switch src := img.(type) {
	case *image.YCbCr, *image.Gray:
		return img
	case *image.RGBA:
		if src.Opaque() {
			return img
		}
	}

	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	if o, ok := img.(interface{ Opaque() bool }); !ok || !o.Opaque() {
		draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
		draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Over)
		return dst
	}
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}
