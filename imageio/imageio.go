// Package imageio decodes uploaded images and stages them on disk for
// taggers that run as external processes.
package imageio

import (
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"io"
	"os"

	_ "github.com/gen2brain/avif"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Decode reads an image in any registered format (png, jpeg, gif, webp,
// avif, tiff) and returns it with the format name.
func Decode(r io.Reader) (image.Image, string, error) {
	img, format, err := image.Decode(r)
	if err != nil {
		return nil, "", fmt.Errorf("decode image: %w", err)
	}
	return img, format, nil
}

// WriteTempPNG re-encodes img to a temporary PNG file and returns its path
// together with a cleanup func that removes the file.
func WriteTempPNG(img image.Image, prefix string) (string, func(), error) {
	f, err := os.CreateTemp("", prefix+"*.png")
	if err != nil {
		return "", nil, fmt.Errorf("create temp image: %w", err)
	}
	path := f.Name()
	cleanup := func() { os.Remove(path) }

	if err := png.Encode(f, img); err != nil {
		f.Close()
		cleanup()
		return "", nil, fmt.Errorf("encode temp png: %w", err)
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("close temp png: %w", err)
	}
	return path, cleanup, nil
}
