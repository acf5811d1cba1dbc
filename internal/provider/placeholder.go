package provider

import (
	"bytes"
	"context"
	"hash/fnv"
	"image"
	"image/color"
	"image/png"
	"strings"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	placeholderWidth  = 1024
	placeholderHeight = 576
	placeholderMaxLen = 60
)

// PlaceholderImages renders a deterministic gradient card for a prompt. It
// needs no credential and never fails except on cancellation.
type PlaceholderImages struct{}

func NewPlaceholderImages() *PlaceholderImages {
	return &PlaceholderImages{}
}

func (p *PlaceholderImages) Name() Name {
	return Placeholder
}

func (p *PlaceholderImages) Generate(ctx context.Context, prompt string, _ ImageParams) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, Classify(Placeholder, err)
	}

	h := fnv.New32a()
	h.Write([]byte(prompt))
	seed := h.Sum32()
	from := color.RGBA{R: uint8(seed), G: uint8(seed >> 8), B: uint8(seed >> 16), A: 255}
	to := color.RGBA{R: 255 - from.R/2, G: 255 - from.G/2, B: 255 - from.B/2, A: 255}

	img := image.NewRGBA(image.Rect(0, 0, placeholderWidth, placeholderHeight))
	for y := 0; y < placeholderHeight; y++ {
		t := float64(y) / float64(placeholderHeight-1)
		c := color.RGBA{
			R: lerp(from.R, to.R, t),
			G: lerp(from.G, to.G, t),
			B: lerp(from.B, to.B, t),
			A: 255,
		}
		for x := 0; x < placeholderWidth; x++ {
			img.SetRGBA(x, y, c)
		}
	}

	label := strings.TrimSpace(prompt)
	if r := []rune(label); len(r) > placeholderMaxLen {
		label = string(r[:placeholderMaxLen]) + "..."
	}
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(color.Black),
		Face: basicfont.Face7x13,
	}
	width := d.MeasureString(label)
	d.Dot = fixed.Point26_6{
		X: (fixed.I(placeholderWidth) - width) / 2,
		Y: fixed.I(placeholderHeight / 2),
	}
	d.DrawString(label)

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, Classify(Placeholder, err)
	}
	return buf.Bytes(), nil
}

func lerp(a, b uint8, t float64) uint8 {
	return uint8(float64(a) + (float64(b)-float64(a))*t)
}
