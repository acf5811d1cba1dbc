package imagegen

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"

	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

var supportedMIME = []string{"image/png", "image/jpeg", "image/gif", "image/webp"}

type processed struct {
	data   []byte
	width  int
	height int
}

// normalize sniffs and decodes raw provider bytes, flattens transparency
// onto white, shrinks the image so neither side exceeds maxPx and encodes
// it as JPEG.
func normalize(raw []byte, maxPx, quality int) (*processed, error) {
	mt := mimetype.Detect(raw)
	if !mimetype.EqualsAny(mt.String(), supportedMIME...) {
		return nil, fmt.Errorf("unsupported image content %s", mt.String())
	}

	src, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("error decoding %s: %w", mt.String(), err)
	}

	bounds := src.Bounds()
	w, h := fitWithin(bounds.Dx(), bounds.Dy(), maxPx)
	if w == 0 || h == 0 {
		return nil, fmt.Errorf("empty image %dx%d", bounds.Dx(), bounds.Dy())
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), image.White, image.Point{}, draw.Src)
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("error encoding jpeg: %w", err)
	}
	return &processed{data: buf.Bytes(), width: w, height: h}, nil
}

func fitWithin(w, h, maxPx int) (int, int) {
	if maxPx <= 0 || (w <= maxPx && h <= maxPx) {
		return w, h
	}
	if w >= h {
		return maxPx, max(1, h*maxPx/w)
	}
	return max(1, w*maxPx/h), maxPx
}
