// Package render draws control feedback onto camera frames.
package render

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/lucasb-eyer/go-colorful"
	"gocv.io/x/gocv"

	"github.com/ayusman/kinesis/internal/control"
	"github.com/ayusman/kinesis/internal/detector"
	"github.com/ayusman/kinesis/internal/gesture"
)

// Overlay geometry in pixels.
const (
	AnchorRadius   = 8
	MidpointRadius = 10
	PulseRadius    = 16
	ArcRadius      = 42
	LineThickness  = 3

	BarWidth  = 18
	BarMargin = 24
)

// Palette holds the overlay colors.
type Palette struct {
	Active color.RGBA
	Locked color.RGBA
	Click  color.RGBA
	Text   color.RGBA
	// LevelLow and LevelHigh are the ends of the level bar gradient.
	LevelLow  colorful.Color
	LevelHigh colorful.Color
}

// DefaultPalette is green while a role is active and grey while locked.
func DefaultPalette() Palette {
	return Palette{
		Active:    color.RGBA{R: 80, G: 220, B: 100, A: 255},
		Locked:    color.RGBA{R: 150, G: 150, B: 150, A: 255},
		Click:     color.RGBA{R: 255, G: 80, B: 60, A: 255},
		Text:      color.RGBA{R: 255, G: 255, B: 255, A: 255},
		LevelLow:  colorful.Color{R: 0.15, G: 0.45, B: 0.95},
		LevelHigh: colorful.Color{R: 0.95, G: 0.25, B: 0.2},
	}
}

// Overlay draws per-role feedback onto BGR frames.
type Overlay struct {
	palette Palette
}

// NewOverlay returns an Overlay using p.
func NewOverlay(p Palette) *Overlay {
	return &Overlay{palette: p}
}

// Draw renders every result onto mat in place.
func (o *Overlay) Draw(mat *gocv.Mat, results []control.Result) {
	if mat == nil || mat.Empty() {
		return
	}
	for _, r := range results {
		o.drawFeedback(mat, r.Feedback)
	}
}

// RoleColor returns the anchor color for a feedback color state.
func (o *Overlay) RoleColor(c control.ColorState) color.RGBA {
	if c == control.ColorActive {
		return o.palette.Active
	}
	return o.palette.Locked
}

// LevelColor blends the level gradient for level in [0, 100].
func (o *Overlay) LevelColor(level float64) color.RGBA {
	t := math.Max(0, math.Min(1, level/100))
	r, g, b := o.palette.LevelLow.BlendHcl(o.palette.LevelHigh, t).Clamped().RGB255()
	return color.RGBA{R: r, G: g, B: b, A: 255}
}

func (o *Overlay) drawFeedback(mat *gocv.Mat, f control.Feedback) {
	c := o.RoleColor(f.Color)
	thumb, index, mid := pt(f.ThumbTip), pt(f.IndexTip), pt(f.Midpoint)

	gocv.Line(mat, thumb, index, c, LineThickness)
	gocv.Circle(mat, thumb, AnchorRadius, c, -1)
	gocv.Circle(mat, index, AnchorRadius, c, -1)

	if f.Click {
		gocv.Circle(mat, mid, PulseRadius, o.palette.Click, -1)
	} else {
		gocv.Circle(mat, mid, MidpointRadius, c, 2)
	}

	// Arc starts at twelve o'clock and sweeps clockwise.
	if f.ArcDegrees > 0 {
		gocv.Ellipse(mat, mid, image.Pt(ArcRadius, ArcRadius), 0, -90, -90+f.ArcDegrees, c, LineThickness)
	}

	percent := fmt.Sprintf("%d%%", int(math.Round(f.Percent)))
	gocv.PutText(mat, percent, image.Pt(mid.X+ArcRadius+6, mid.Y+6), gocv.FontHersheySimplex, 0.6, o.palette.Text, 2)

	o.drawLevelBar(mat, f, c)
}

// drawLevelBar draws a vertical bar on the hand's side of the frame.
func (o *Overlay) drawLevelBar(mat *gocv.Mat, f control.Feedback, outline color.RGBA) {
	w, h := mat.Cols(), mat.Rows()
	top, bottom := h/4, h*3/4
	if bottom-top < 10 {
		return
	}

	x := BarMargin
	if f.Handedness == detector.Right {
		x = w - BarMargin - BarWidth
	}

	frame := image.Rect(x, top, x+BarWidth, bottom)
	fill := int(math.Round(float64(bottom-top) * math.Max(0, math.Min(100, f.Level)) / 100))
	if fill > 0 {
		gocv.Rectangle(mat, image.Rect(x, bottom-fill, x+BarWidth, bottom), o.LevelColor(f.Level), -1)
	}
	gocv.Rectangle(mat, frame, outline, 2)

	label := fmt.Sprintf("%s [%s]", f.Role, f.Gate)
	labelX := x
	if f.Handedness == detector.Right {
		size := gocv.GetTextSize(label, gocv.FontHersheySimplex, 0.5, 1)
		labelX = x + BarWidth - size.X
	}
	gocv.PutText(mat, label, image.Pt(labelX, top-10), gocv.FontHersheySimplex, 0.5, o.palette.Text, 1)
}

func pt(p gesture.Point) image.Point {
	return image.Pt(int(math.Round(p.X)), int(math.Round(p.Y)))
}
