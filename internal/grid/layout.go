package grid

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	// Registered decoders for the formats upstream serves.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

func decode(data []byte) (image.Image, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, fmt.Errorf("decode image: empty %s", format)
	}
	return img, nil
}

// columns returns 3 when n divides into rows of three, else 2.
func columns(n int) int {
	if n%3 == 0 {
		return 3
	}
	return 2
}

// layout scales every image to the height of the first and places them on a
// white canvas, centred in equal cells separated by gap pixels.
func layout(images []image.Image, gap int) *image.RGBA {
	n := len(images)
	cols := columns(n)
	if n < cols {
		cols = n
	}
	rows := (n + cols - 1) / cols

	rowHeight := images[0].Bounds().Dy()
	widths := make([]int, n)
	cellWidth := 0
	for i, img := range images {
		b := img.Bounds()
		w := b.Dx() * rowHeight / b.Dy()
		if w < 1 {
			w = 1
		}
		widths[i] = w
		cellWidth = max(cellWidth, w)
	}

	canvas := image.NewRGBA(image.Rect(0, 0,
		cols*cellWidth+(cols-1)*gap,
		rows*rowHeight+(rows-1)*gap,
	))
	draw.Draw(canvas, canvas.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)

	for i, img := range images {
		col, row := i%cols, i/cols
		x := col*(cellWidth+gap) + (cellWidth-widths[i])/2
		y := row * (rowHeight + gap)
		dst := image.Rect(x, y, x+widths[i], y+rowHeight)
		draw.CatmullRom.Scale(canvas, dst, img, img.Bounds(), draw.Over, nil)
	}
	return canvas
}
