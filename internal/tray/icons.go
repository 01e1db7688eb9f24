package tray

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"math"
)

var (
	iconIdle      []byte
	iconRecording []byte
)

func init() {
	grey := color.RGBA{R: 120, G: 120, B: 120, A: 255}
	red := color.RGBA{R: 230, G: 45, B: 40, A: 255}
	iconIdle = renderIcon(32, grey)
	iconRecording = renderIcon(32, red)
}

func encodePNG(img image.Image) []byte {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		panic("encodePNG: " + err.Error())
	}
	return buf.Bytes()
}

// renderIcon draws a dark ring around a dot of the given colour
func renderIcon(size int, dot color.RGBA) []byte {
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	c := float64(size) / 2
	outer := c - 1
	inner := c * 0.55
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			d := math.Hypot(float64(x)+0.5-c, float64(y)+0.5-c)
			switch {
			case d <= inner:
				img.Set(x, y, dot)
			case d <= outer:
				img.Set(x, y, color.Black)
			}
		}
	}
	return encodePNG(img)
}
