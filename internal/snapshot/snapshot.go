// Package snapshot renders event imagery: the full frame with the triggering
// track's box drawn on it, and the raw vehicle crop used for material and
// load estimation.
package snapshot

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"

	"gatewatch/internal/geom"
)

var boxColor = color.RGBA{R: 0, G: 255, B: 0, A: 255}

const boxThickness = 2

// Annotate returns the frame as JPEG bytes with the bounding box outlined.
func Annotate(frame image.Image, box geom.BBox) ([]byte, error) {
	dst := image.NewRGBA(frame.Bounds())
	draw.Draw(dst, dst.Bounds(), frame, frame.Bounds().Min, draw.Src)
	drawRect(dst, clampRect(frame.Bounds(), box))
	return encodeJPEG(dst)
}

// Crop returns the region of the frame under the bounding box as JPEG bytes.
// An empty intersection yields (nil, nil).
func Crop(frame image.Image, box geom.BBox) ([]byte, error) {
	r := clampRect(frame.Bounds(), box)
	if r.Empty() {
		return nil, nil
	}
	dst := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(dst, dst.Bounds(), frame, r.Min, draw.Src)
	return encodeJPEG(dst)
}

// CropImage is Crop without the JPEG encode, for estimators that work on
// pixels directly.
func CropImage(frame image.Image, box geom.BBox) image.Image {
	r := clampRect(frame.Bounds(), box)
	if r.Empty() {
		return nil
	}
	dst := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(dst, dst.Bounds(), frame, r.Min, draw.Src)
	return dst
}

func clampRect(bounds image.Rectangle, box geom.BBox) image.Rectangle {
	r := image.Rect(int(box.X1), int(box.Y1), int(box.X2), int(box.Y2))
	return r.Intersect(bounds)
}

func drawRect(img *image.RGBA, r image.Rectangle) {
	if r.Empty() {
		return
	}
	for t := 0; t < boxThickness; t++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			img.SetRGBA(x, r.Min.Y+t, boxColor)
			img.SetRGBA(x, r.Max.Y-1-t, boxColor)
		}
		for y := r.Min.Y; y < r.Max.Y; y++ {
			img.SetRGBA(r.Min.X+t, y, boxColor)
			img.SetRGBA(r.Max.X-1-t, y, boxColor)
		}
	}
}

func encodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 85}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
