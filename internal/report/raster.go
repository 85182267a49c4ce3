package report

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/fogleman/gg"
	xdraw "golang.org/x/image/draw"

	"github.com/example/retina-screen/internal/screening"
)

// DefaultScale is the pixel density used for export-quality bitmaps.
const DefaultScale = 3.0

const (
	surfaceWidth   = 800.0
	padding        = 24.0
	imageBoxHeight = 240.0
	glyphHeight    = 13.0 // gg's built-in face
	barLabelWidth  = 150.0
	barValueWidth  = 56.0
)

var (
	textDark    = color.RGBA{R: 0x1f, G: 0x29, B: 0x37, A: 0xff}
	textMid     = color.RGBA{R: 0x37, G: 0x41, B: 0x51, A: 0xff}
	textLight   = color.RGBA{R: 0x6b, G: 0x72, B: 0x80, A: 0xff}
	borderColor = color.RGBA{R: 0xe5, G: 0xe7, B: 0xeb, A: 0xff}
	barTrack    = color.RGBA{R: 0xe5, G: 0xe7, B: 0xeb, A: 0xff}
	warning     = color.RGBA{R: 0xd9, G: 0x77, B: 0x06, A: 0xff}
	warningTint = color.RGBA{R: 0xfe, G: 0xf3, B: 0xc7, A: 0xff}
	missingFill = color.RGBA{R: 0xf3, G: 0xf4, B: 0xf6, A: 0xff}
)

// Rasterizer captures a surface into a single bitmap.
type Rasterizer interface {
	Rasterize(s *Surface, images []LoadedImage) (image.Image, error)
}

// CanvasRasterizer paints the report with gg at Scale device pixels per layout unit.
type CanvasRasterizer struct {
	Scale float64
}

// NewCanvasRasterizer returns a rasterizer; a non-positive scale uses DefaultScale.
func NewCanvasRasterizer(scale float64) *CanvasRasterizer {
	if scale <= 0 {
		scale = DefaultScale
	}
	return &CanvasRasterizer{Scale: scale}
}

func (r *CanvasRasterizer) Rasterize(s *Surface, images []LoadedImage) (image.Image, error) {
	if !s.Mounted() {
		return nil, &screening.ExportPreconditionError{Reason: "surface has no result"}
	}

	// first pass measures, second paints at the same coordinates
	height := r.layout(&pen{dc: gg.NewContext(1, 1)}, s, images)

	w := int(math.Ceil(surfaceWidth * r.Scale))
	h := int(math.Ceil(height * r.Scale))
	dc := gg.NewContext(w, h)
	dc.SetColor(color.White)
	dc.Clear()
	dc.Scale(r.Scale, r.Scale)

	r.layout(&pen{dc: dc, paint: true, scale: r.Scale}, s, images)
	return dc.Image(), nil
}

func (r *CanvasRasterizer) layout(p *pen, s *Surface, images []LoadedImage) float64 {
	res := s.Result
	contentWidth := surfaceWidth - 2*padding
	y := padding

	p.text(Title, surfaceWidth/2, y, 1.8, textDark, 0.5)
	y += lineHeight(1.8) + 8
	p.line(padding, y, surfaceWidth-padding, y)
	y += 16

	p.text("Diagnosis", padding, y, 1.3, textMid, 0)
	y += lineHeight(1.3) + 4
	const badgeHeight = 36.0
	badgeWidth := p.width(res.Stage, 1.4) + 40
	p.rounded(padding, y, badgeWidth, badgeHeight, badgeHeight/2, res.Severity.Color())
	p.text(res.Stage, padding+20, y+(badgeHeight-glyphHeight*1.4)/2, 1.4, textDark, 0)
	y += badgeHeight + 20

	if n := len(images); n > 0 {
		const gap = 16.0
		boxWidth := (contentWidth - gap*float64(n-1)) / float64(n)
		for i, li := range images {
			p.image(li, padding+float64(i)*(boxWidth+gap), y, boxWidth, imageBoxHeight)
		}
		y += imageBoxHeight + 24
	}

	p.text("Confidence Levels", padding, y, 1.3, textMid, 0)
	y += lineHeight(1.3) + 6
	barWidth := contentWidth - barLabelWidth - barValueWidth
	for _, class := range screening.SeverityClasses {
		value := res.Confidences[class]
		barX := padding + barLabelWidth
		p.text(string(class), padding, y+1, 1.1, textMid, 0)
		p.rounded(barX, y+2, barWidth, 14, 4, barTrack)
		if fill := barWidth * math.Max(0, math.Min(value, 100)) / 100; fill > 0 {
			p.rounded(barX, y+2, fill, 14, 4, class.Color())
		}
		p.text(fmt.Sprintf("%.0f%%", value), surfaceWidth-padding, y+1, 1.1, textLight, 1)
		y += 26
	}
	y += 12

	y = p.section("Detailed Findings", res.Findings, padding, y, contentWidth, textDark)
	y = p.section("Recommendations", res.Recommendations, padding, y, contentWidth, textDark)

	p.text("Risk Factors", padding, y, 1.3, warning, 0)
	y += lineHeight(1.3)
	p.text(riskNote, padding, y, 1, textLight, 0)
	y += lineHeight(1) + 6
	for _, factor := range res.RiskFactors {
		lines := p.wrap(factor, contentWidth-24, 1)
		boxHeight := float64(len(lines))*lineHeight(1) + 16
		p.rounded(padding, y, contentWidth, boxHeight, 6, warningTint)
		for i, line := range lines {
			p.text(line, padding+12, y+8+float64(i)*lineHeight(1), 1, textDark, 0)
		}
		y += boxHeight + 8
	}
	y += 8

	p.line(padding, y, surfaceWidth-padding, y)
	y += 12
	p.text("Analysis Date: "+s.GeneratedAt.Format("2006-01-02"), surfaceWidth/2, y, 1, textLight, 0.5)
	y += lineHeight(1)
	for _, line := range p.wrap(Disclaimer, contentWidth, 1) {
		p.text(line, surfaceWidth/2, y, 1, textLight, 0.5)
		y += lineHeight(1)
	}

	return y + padding
}

func lineHeight(size float64) float64 {
	return glyphHeight * size * 1.4
}

// pen issues drawing calls only when paint is set, so one layout serves both passes.
type pen struct {
	dc    *gg.Context
	paint bool
	scale float64
}

func (p *pen) width(s string, size float64) float64 {
	w, _ := p.dc.MeasureString(s)
	return w * size
}

func (p *pen) wrap(s string, maxWidth, size float64) []string {
	lines := p.dc.WordWrap(s, maxWidth/size)
	if len(lines) == 0 {
		return []string{""}
	}
	return lines
}

// text draws s with its top edge at y; ax is the horizontal anchor (0 left, 0.5 center, 1 right).
func (p *pen) text(s string, x, y, size float64, c color.Color, ax float64) {
	if !p.paint {
		return
	}
	p.dc.Push()
	p.dc.SetColor(c)
	p.dc.ScaleAbout(size, size, x, y)
	p.dc.DrawStringAnchored(s, x, y, ax, 1)
	p.dc.Pop()
}

func (p *pen) line(x1, y1, x2, y2 float64) {
	if !p.paint {
		return
	}
	p.dc.SetColor(borderColor)
	p.dc.SetLineWidth(1)
	p.dc.DrawLine(x1, y1, x2, y2)
	p.dc.Stroke()
}

func (p *pen) rounded(x, y, w, h, r float64, c color.Color) {
	if !p.paint {
		return
	}
	p.dc.SetColor(c)
	p.dc.DrawRoundedRectangle(x, y, w, h, r)
	p.dc.Fill()
}

func (p *pen) section(title string, items []string, x, y, width float64, c color.Color) float64 {
	p.text(title, x, y, 1.3, textMid, 0)
	y += lineHeight(1.3) + 4
	for _, item := range items {
		for i, line := range p.wrap(item, width-16, 1) {
			if i == 0 {
				p.text("-", x, y, 1, c, 0)
			}
			p.text(line, x+16, y, 1, c, 0)
			y += lineHeight(1)
		}
	}
	return y + 16
}

func (p *pen) image(li LoadedImage, x, y, w, h float64) {
	if !p.paint {
		return
	}
	p.dc.SetColor(borderColor)
	p.dc.SetLineWidth(1)
	p.dc.DrawRoundedRectangle(x, y, w, h, 12)
	p.dc.Stroke()

	if li.Err != nil || li.Image == nil || li.Image.Bounds().Empty() {
		p.rounded(x+1, y+1, w-2, h-2, 12, missingFill)
		p.text("Image unavailable", x+w/2, y+h/2-glyphHeight/2, 1, textLight, 0.5)
	} else {
		b := li.Image.Bounds()
		fit := math.Min(w/float64(b.Dx()), h/float64(b.Dy()))
		dw, dh := float64(b.Dx())*fit, float64(b.Dy())*fit
		dx, dy := x+(w-dw)/2, y+(h-dh)/2

		// scale straight to device pixels so the bitmap keeps full density
		px := image.NewRGBA(image.Rect(0, 0, int(math.Max(1, dw*p.scale)), int(math.Max(1, dh*p.scale))))
		xdraw.CatmullRom.Scale(px, px.Bounds(), li.Image, b, xdraw.Over, nil)
		p.dc.Push()
		p.dc.Identity()
		p.dc.DrawImage(px, int(dx*p.scale), int(dy*p.scale))
		p.dc.Pop()
	}

	if li.Element.Label != "" {
		lw := p.width(li.Element.Label, 1) + 16
		p.rounded(x+w-lw-8, y+8, lw, glyphHeight+10, 6, color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xcc})
		p.text(li.Element.Label, x+w-lw, y+13, 1, textDark, 0)
	}
}
