package overlay

import (
	"image"
	"image/color"
	"image/draw"
	"math"
)

// BlendImage draws src onto dst with its top-left corner at (x, y), scaling
// src alpha by opacity. Pixels outside dst are clipped.
func BlendImage(dst *image.RGBA, src image.Image, x, y int, opacity float64) {
	opacity = clamp01(opacity)
	if opacity == 0 {
		return
	}

	sb := src.Bounds()
	r := image.Rect(x, y, x+sb.Dx(), y+sb.Dy()).Intersect(dst.Bounds())
	if r.Empty() {
		return
	}
	sp := sb.Min.Add(r.Min.Sub(image.Pt(x, y)))

	if opacity == 1 {
		draw.Draw(dst, r, src, sp, draw.Over)
		return
	}
	mask := image.NewUniform(color.Alpha{A: uint8(math.Round(opacity * 255))})
	draw.DrawMask(dst, r, src, sp, mask, image.Point{}, draw.Over)
}

// DrawRectangle fills a rectangle with c at the given opacity
func DrawRectangle(dst *image.RGBA, rect image.Rectangle, c color.Color, opacity float64) {
	if rect.Empty() {
		return
	}
	BlendImage(dst, &rectImage{c: c, r: image.Rect(0, 0, rect.Dx(), rect.Dy())}, rect.Min.X, rect.Min.Y, opacity)
}

// DrawOutline strokes the inside edge of rect with the given thickness
func DrawOutline(dst *image.RGBA, rect image.Rectangle, thickness int, c color.Color, opacity float64) {
	rect = rect.Canon()
	if rect.Empty() || thickness <= 0 {
		return
	}
	t := min(thickness, (min(rect.Dx(), rect.Dy())+1)/2)

	// Top and bottom span the full width, the sides fill in between
	DrawRectangle(dst, image.Rect(rect.Min.X, rect.Min.Y, rect.Max.X, rect.Min.Y+t), c, opacity)
	DrawRectangle(dst, image.Rect(rect.Min.X, rect.Max.Y-t, rect.Max.X, rect.Max.Y), c, opacity)
	DrawRectangle(dst, image.Rectangle{Min: image.Pt(rect.Min.X, rect.Min.Y+t), Max: image.Pt(rect.Min.X+t, rect.Max.Y-t)}, c, opacity)
	DrawRectangle(dst, image.Rectangle{Min: image.Pt(rect.Max.X-t, rect.Min.Y+t), Max: image.Pt(rect.Max.X, rect.Max.Y-t)}, c, opacity)
}

// rectImage is a uniform color with finite bounds
type rectImage struct {
	c color.Color
	r image.Rectangle
}

func (i *rectImage) ColorModel() color.Model { return color.RGBAModel }
func (i *rectImage) Bounds() image.Rectangle { return i.r }
func (i *rectImage) At(x, y int) color.Color { return i.c }

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
