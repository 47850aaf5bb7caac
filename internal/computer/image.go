package computer

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg" // Register JPEG decoder
	"image/png"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Resize scales img to exactly width x height. Images already at that
// size are returned unchanged.
func Resize(img image.Image, width, height int) image.Image {
	bounds := img.Bounds()
	if bounds.Dx() == width && bounds.Dy() == height {
		return img
	}
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)
	return dst
}

// EncodePNG encodes img as PNG.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeImage decodes PNG or JPEG screenshot bytes.
func DecodeImage(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode screenshot: %w", err)
	}
	return img, nil
}

const labelPadding = 4

// DrawLabel returns a copy of img with label drawn in the top-left corner
// on an opaque box.
func DrawLabel(img image.Image, label string) image.Image {
	bounds := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(dst, dst.Bounds(), img, bounds.Min, draw.Src)

	face := basicfont.Face7x13
	drawer := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(color.White),
		Face: face,
	}
	textWidth := drawer.MeasureString(label).Ceil()
	metrics := face.Metrics()
	textHeight := (metrics.Ascent + metrics.Descent).Ceil()

	box := image.Rect(0, 0, textWidth+2*labelPadding, textHeight+2*labelPadding).Intersect(dst.Bounds())
	draw.Draw(dst, box, image.NewUniform(color.RGBA{A: 200}), image.Point{}, draw.Over)

	drawer.Dot = fixed.P(labelPadding, labelPadding+metrics.Ascent.Ceil())
	drawer.DrawString(label)
	return dst
}
