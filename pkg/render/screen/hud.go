package screen

import (
	"fmt"
	"image/color"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/text/v2"
	"github.com/hajimehoshi/ebiten/v2/vector"

	"github.com/sudorandom/geoanim/pkg/layer"
	"github.com/sudorandom/geoanim/pkg/render"
)

var (
	colorPanel  = color.RGBA{0, 0, 0, 100}
	colorAccent = color.RGBA{0, 191, 255, 255}
)

// statusLines renders a layer status as HUD text.
func statusLines(st layer.Status) []string {
	lines := []string{fmt.Sprintf("%s  %d records", st.Key, st.Records)}
	switch {
	case st.Primitives > 0:
		lines = append(lines, fmt.Sprintf("%d %s", st.Primitives, st.Kind))
	case st.Bins > 0:
		lines = append(lines, fmt.Sprintf("%d bins", st.Bins))
		if s := st.Summary; s != nil {
			lines = append(lines, fmt.Sprintf("pickups/bin %.1f ±%.1f  p90 %.0f", s.MeanPickups, s.StdDevPickups, s.P90Pickups))
		}
	}
	lines = append(lines, fmt.Sprintf("%s  %s", st.Clock.PlayState, st.Description))
	return lines
}

func (e *Engine) setStatuses(st []layer.Status) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.statuses = st
}

func (e *Engine) drawStatus(screen *ebiten.Image) {
	if e.fontSource == nil || len(e.statuses) == 0 {
		return
	}
	margin, fontSize := 40.0, 18.0
	if e.Width > 2000 {
		margin, fontSize = 80.0, 36.0
	}
	face := &text.GoTextFace{Source: e.monoSource, Size: fontSize * 0.8}
	titleFace := &text.GoTextFace{Source: e.fontSource, Size: fontSize * 0.8}
	lineH := fontSize + 6

	var lines []string
	for _, st := range e.statuses {
		lines = append(lines, statusLines(st)...)
	}
	boxW := 420.0
	if e.Width > 2000 {
		boxW = 840.0
	}
	boxH := float64(len(lines)+1)*lineH + 20
	bx := margin
	by := float64(e.Height) - margin - boxH

	vector.DrawFilledRect(screen, float32(bx-10), float32(by), float32(boxW), float32(boxH), colorPanel, false)
	vector.StrokeRect(screen, float32(bx-10), float32(by), float32(boxW), float32(boxH), 1, ColorOutline, false)
	vector.DrawFilledRect(screen, float32(bx-10), float32(by), 4, float32(fontSize+10), colorAccent, false)

	titleOp := &text.DrawOptions{}
	titleOp.GeoM.Translate(bx+5, by+5)
	titleOp.ColorScale.Scale(1, 1, 1, 0.5)
	text.Draw(screen, "ANIMATION", titleFace, titleOp)

	for i, l := range lines {
		op := &text.DrawOptions{}
		op.GeoM.Translate(bx, by+10+float64(i+1)*lineH)
		op.ColorScale.Scale(1, 1, 1, 0.8)
		text.Draw(screen, l, face, op)
	}

	// Step progress of the first animated layer.
	for _, st := range e.statuses {
		if st.Clock.NumBins <= 1 || st.Clock.PlayState == "stop" {
			continue
		}
		frac := float64(st.Clock.Step+1) / float64(st.Clock.NumBins)
		vector.DrawFilledRect(screen, float32(bx-10), float32(by+boxH-3), float32(boxW*frac), 3, colorAccent, false)
		break
	}

	e.drawLegend(screen, bx+boxW+10, by, fontSize)
}

func (e *Engine) drawLegend(screen *ebiten.Image, lx, ly, fontSize float64) {
	items := []struct {
		Label string
		Color color.RGBA
	}{
		{"Pickup", render.ColorPickup},
		{"Dropoff", render.ColorDropoff},
		{"Post", render.ColorPost},
	}
	face := &text.GoTextFace{Source: e.fontSource, Size: fontSize * 0.8}
	swatch := fontSize * 0.8
	for i, it := range items {
		ty := ly + 10 + float64(i)*(fontSize+8)
		vector.DrawFilledRect(screen, float32(lx), float32(ty), float32(swatch), float32(swatch), it.Color, false)
		op := &text.DrawOptions{}
		op.GeoM.Translate(lx+swatch+10, ty)
		op.ColorScale.Scale(1, 1, 1, 0.8)
		text.Draw(screen, it.Label, face, op)
	}
}
