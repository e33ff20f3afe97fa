package pipeline

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"strings"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const errorMargin = 16

// renderErrorImage draws reason as black text on a white panel-sized PNG.
// Output depends only on its arguments.
func renderErrorImage(title, reason string, width, height int) ([]byte, error) {
	if width <= 0 {
		width = 800
	}
	if height <= 0 {
		height = 480
	}

	img := image.NewGray(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)

	face := basicfont.Face7x13
	d := &font.Drawer{Dst: img, Src: image.NewUniform(color.Black), Face: face}

	lineHeight := face.Metrics().Height.Ceil() + 4
	maxChars := (width - 2*errorMargin) / face.Advance
	if maxChars < 8 {
		maxChars = 8
	}

	lines := append([]string{title, ""}, wrap(reason, maxChars)...)
	y := errorMargin + face.Metrics().Ascent.Ceil()
	for _, line := range lines {
		if y > height-errorMargin {
			break
		}
		d.Dot = fixed.P(errorMargin, y)
		d.DrawString(line)
		y += lineHeight
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// wrap breaks s into lines of at most n characters on word boundaries.
func wrap(s string, n int) []string {
	var (
		lines []string
		cur   strings.Builder
	)
	for _, word := range strings.Fields(s) {
		for len(word) > n {
			if cur.Len() > 0 {
				lines = append(lines, cur.String())
				cur.Reset()
			}
			lines = append(lines, word[:n])
			word = word[n:]
		}
		if cur.Len() > 0 && cur.Len()+1+len(word) > n {
			lines = append(lines, cur.String())
			cur.Reset()
		}
		if cur.Len() > 0 {
			cur.WriteByte(' ')
		}
		cur.WriteString(word)
	}
	if cur.Len() > 0 {
		lines = append(lines, cur.String())
	}
	return lines
}
