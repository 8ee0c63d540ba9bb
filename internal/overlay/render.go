package overlay

import (
	"image"
	"image/color"
	"math"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Style controls how overlays are drawn
type Style struct {
	Thickness  int
	Padding    int
	Opacity    float64
	LabelColor color.RGBA
	LabelBg    color.RGBA
	// Outline colors by overlay type, Default for anything else
	Outlines map[string]color.RGBA
	Default  color.RGBA
}

// DefaultStyle returns 2px outlines with white labels on a dark box
func DefaultStyle() Style {
	return Style{
		Thickness:  2,
		Padding:    3,
		Opacity:    0.85,
		LabelColor: color.RGBA{255, 255, 255, 255},
		LabelBg:    color.RGBA{0, 0, 0, 180},
		Outlines: map[string]color.RGBA{
			"text":  {255, 255, 255, 255},
			"image": {255, 200, 0, 255},
			"logo":  {255, 80, 80, 255},
		},
		Default: color.RGBA{0, 200, 255, 255},
	}
}

// Renderer draws a fixed set of overlays onto frames
type Renderer struct {
	overlays []Overlay
	style    Style
	face     font.Face
}

// NewRenderer returns a renderer for the overlays that carry geometry
func NewRenderer(overlays []Overlay, style Style) *Renderer {
	kept := make([]Overlay, 0, len(overlays))
	for _, o := range overlays {
		if o.HasGeometry() {
			kept = append(kept, o)
		}
	}
	return &Renderer{
		overlays: kept,
		style:    style,
		face:     basicfont.Face7x13,
	}
}

// Len returns the number of overlays drawn per frame
func (r *Renderer) Len() int {
	return len(r.overlays)
}

// Compose draws every overlay onto frame in store order
func (r *Renderer) Compose(frame *image.RGBA) {
	for _, o := range r.overlays {
		rect := o.Bounds().Intersect(frame.Bounds())
		if rect.Empty() {
			continue
		}

		if o.Content != "" {
			r.drawLabel(frame, rect, o.Content)
		}
		DrawOutline(frame, rect, r.style.Thickness, r.outline(o.Type), r.style.Opacity)
	}
}

// Bounds returns the overlay rectangle rounded to whole pixels
func (o Overlay) Bounds() image.Rectangle {
	if !o.HasGeometry() {
		return image.Rectangle{}
	}
	x0 := int(math.Round(o.Position.X))
	y0 := int(math.Round(o.Position.Y))
	x1 := int(math.Round(o.Position.X + o.Size.Width))
	y1 := int(math.Round(o.Position.Y + o.Size.Height))
	return image.Rectangle{Min: image.Pt(x0, y0), Max: image.Pt(x1, y1)}
}

func (r *Renderer) outline(kind string) color.RGBA {
	if c, ok := r.style.Outlines[kind]; ok {
		return c
	}
	return r.style.Default
}

// drawLabel writes text in the top-left corner of box, clipped to box
func (r *Renderer) drawLabel(frame *image.RGBA, box image.Rectangle, text string) {
	metrics := r.face.Metrics()
	ascent := metrics.Ascent.Ceil()
	lineHeight := metrics.Height.Ceil()
	pad := r.style.Padding

	d := &font.Drawer{Face: r.face}
	textWidth := d.MeasureString(text).Ceil()

	bg := image.Rect(box.Min.X, box.Min.Y, box.Min.X+textWidth+pad*2, box.Min.Y+lineHeight+pad*2).Intersect(box)
	DrawRectangle(frame, bg, r.style.LabelBg, 1)

	clip, ok := frame.SubImage(box).(*image.RGBA)
	if !ok {
		return
	}
	d.Dst = clip
	d.Src = image.NewUniform(r.style.LabelColor)
	d.Dot = fixed.Point26_6{
		X: fixed.I(box.Min.X + pad),
		Y: fixed.I(box.Min.Y + pad + ascent),
	}
	d.DrawString(text)
}
