package rrj

import (
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
)

// ImageSize is the model input edge length in pixels.
const ImageSize = 384

// Preprocess turns an image into the model input tensor. The image is
// scaled to fit ImageSize x ImageSize preserving aspect ratio (small
// images are grown), centered on a mid-gray canvas that doubles as the
// matte for alpha compositing, and written out CHW float32 in [-1,1].
func Preprocess(img image.Image) []float32 {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	scale := math.Min(float64(ImageSize)/float64(w), float64(ImageSize)/float64(h))
	resized := img
	if math.Abs(scale-1) > 1e-6 {
		wnew := max(1, min(int(math.Round(float64(w)*scale)), ImageSize))
		hnew := max(1, min(int(math.Round(float64(h)*scale)), ImageSize))
		resized = imaging.Resize(img, wnew, hnew, imaging.Lanczos)
	}

	canvas := imaging.New(ImageSize, ImageSize, color.NRGBA{R: 128, G: 128, B: 128, A: 255})
	composited := imaging.OverlayCenter(canvas, resized, 1.0)

	out := make([]float32, 3*ImageSize*ImageSize)
	rBase := 0
	gBase := ImageSize * ImageSize
	bBase := 2 * ImageSize * ImageSize

	for y := range ImageSize {
		for x := range ImageSize {
			r, g, b, _ := composited.At(x, y).RGBA()

			out[rBase] = float32(r)/32767.5 - 1
			out[gBase] = float32(g)/32767.5 - 1
			out[bBase] = float32(b)/32767.5 - 1

			rBase++
			gBase++
			bBase++
		}
	}
	return out
}
