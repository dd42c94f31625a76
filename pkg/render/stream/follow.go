package stream

import (
	"context"
	"errors"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sudorandom/geoanim/pkg/binning"
	"github.com/sudorandom/geoanim/pkg/monitoring"
	"github.com/sudorandom/geoanim/pkg/render"
)

// Apply replays m onto a surface.
func (m *Message) Apply(s render.Surface) error {
	switch m.Kind {
	case KindPrimitives:
		p, err := m.Primitives()
		if err != nil {
			return err
		}
		s.SetPrimitives(m.Layer, p)
	case KindBins:
		s.SetBins(m.Layer, render.BinFrame{Quads: m.Quads, Lines: m.Lines, Step: m.Step, Label: m.Label})
	case KindOpacity:
		s.UpdateOpacity(m.Layer, render.OpacityBufferOf(m.Opacity, m.Version))
	default:
		return errors.New("stream: unknown message kind")
	}
	return nil
}

// Primitives rebuilds the primitives carried by a KindPrimitives message.
// Sizes and the line end colour take the local defaults.
func (m *Message) Primitives() (*render.Primitives, error) {
	if m.PrimitiveKind == render.KindNone {
		return nil, nil
	}
	p := &render.Primitives{
		Kind:     m.PrimitiveKind,
		Colors:   m.Colors,
		Records:  m.Records,
		EndColor: render.ColorDropoff,
		Radius:   5,
		Width:    5,
	}
	switch m.PrimitiveKind {
	case render.KindPoints:
		if len(m.Coords)%2 != 0 || len(m.Coords)/2 != len(m.Colors) {
			return nil, errors.New("stream: point coordinates do not match colours")
		}
		p.Points = make([]binning.Point, 0, len(m.Coords)/2)
		for i := 0; i < len(m.Coords); i += 2 {
			p.Points = append(p.Points, binning.Point{X: m.Coords[i], Y: m.Coords[i+1]})
		}
	case render.KindLines:
		if len(m.Coords)%4 != 0 || len(m.Coords)/4 != len(m.Colors) {
			return nil, errors.New("stream: line coordinates do not match colours")
		}
		p.Lines = make([]render.Segment, 0, len(m.Coords)/4)
		for i := 0; i < len(m.Coords); i += 4 {
			p.Lines = append(p.Lines, render.Segment{
				From: binning.Point{X: m.Coords[i], Y: m.Coords[i+1]},
				To:   binning.Point{X: m.Coords[i+2], Y: m.Coords[i+3]},
			})
		}
	default:
		return nil, errors.New("stream: unknown primitive kind")
	}
	return p, nil
}

// Follow mirrors a hub's output onto s, reconnecting after a second whenever the
// connection drops. It returns when ctx is done.
func Follow(ctx context.Context, url string, s render.Surface) error {
	for {
		err := followOnce(ctx, url, s)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		monitoring.Logf("[stream] connection to %s lost: %v; reconnecting", url, err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
	}
}

func followOnce(ctx context.Context, url string, s render.Surface) error {
	c, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()
	monitoring.Logf("[stream] following %s", url)

	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	defer stop()

	for {
		kind, b, err := c.ReadMessage()
		if err != nil {
			return err
		}
		if kind != websocket.BinaryMessage {
			continue
		}
		m, err := Decode(b)
		if err != nil {
			monitoring.Logf("[stream] skipping bad message: %v", err)
			continue
		}
		if err := m.Apply(s); err != nil {
			monitoring.Logf("[stream] skipping message for %s: %v", m.Layer, err)
		}
	}
}
