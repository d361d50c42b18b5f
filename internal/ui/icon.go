package ui

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
)

const iconSize = 32

// iconPNG draws the tray icon: a white play triangle on a rounded dark
// square.
func iconPNG() ([]byte, error) {
	img := image.NewNRGBA(image.Rect(0, 0, iconSize, iconSize))
	bg := color.NRGBA{R: 0x1f, G: 0x22, B: 0x2b, A: 0xff}
	fg := color.NRGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}

	const r = 6
	for y := 0; y < iconSize; y++ {
		for x := 0; x < iconSize; x++ {
			if inRoundedRect(x, y, r) {
				img.SetNRGBA(x, y, bg)
			}
		}
	}

	// Triangle pointing right, centred.
	left, top, bottom := 11, 8, 24
	mid := (top + bottom) / 2
	for y := top; y <= bottom; y++ {
		half := mid - top - abs(y-mid)
		for x := left; x <= left+half*3/2; x++ {
			img.SetNRGBA(x, y, fg)
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func inRoundedRect(x, y, r int) bool {
	cx, cy := x, y
	switch {
	case x < r:
		cx = r
	case x >= iconSize-r:
		cx = iconSize - r - 1
	}
	switch {
	case y < r:
		cy = r
	case y >= iconSize-r:
		cy = iconSize - r - 1
	}
	dx, dy := x-cx, y-cy
	return dx*dx+dy*dy <= r*r
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
