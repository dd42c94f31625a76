package stream

import (
	"errors"
	"fmt"
	"image/color"
	"math"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/sudorandom/geoanim/pkg/binning"
	"github.com/sudorandom/geoanim/pkg/render"
)

// MessageKind says which Surface call produced a message.
type MessageKind uint64

const (
	KindPrimitives MessageKind = iota + 1
	KindBins
	KindOpacity
)

// Message is one streamed render update. Only the fields of its kind are set.
type Message struct {
	Layer string
	Kind  MessageKind

	// Bins.
	Step  int
	Label string
	Quads []render.Quad
	Lines []render.VectorLine

	// Primitives. Coords holds x,y pairs for points and x1,y1,x2,y2 for lines.
	PrimitiveKind render.Kind
	Coords        []float64
	Colors        []color.RGBA
	Records       []int

	// Opacity.
	Opacity []float32
	Version uint64
}

// Field numbers of the wire format.
const (
	fieldLayer         protowire.Number = 1
	fieldKind          protowire.Number = 2
	fieldStep          protowire.Number = 3
	fieldLabel         protowire.Number = 4
	fieldQuad          protowire.Number = 5
	fieldLine          protowire.Number = 6
	fieldOpacity       protowire.Number = 7
	fieldCoords        protowire.Number = 8
	fieldVersion       protowire.Number = 9
	fieldPrimitiveKind protowire.Number = 10
	fieldColors        protowire.Number = 11
	fieldRecords       protowire.Number = 12
)

var errTruncated = errors.New("stream: truncated message")

// Encode appends the protobuf wire encoding of m to b.
func Encode(b []byte, m *Message) []byte {
	b = protowire.AppendTag(b, fieldLayer, protowire.BytesType)
	b = protowire.AppendString(b, m.Layer)
	b = protowire.AppendTag(b, fieldKind, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.Kind))

	switch m.Kind {
	case KindBins:
		b = protowire.AppendTag(b, fieldStep, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeZigZag(int64(m.Step)))
		if m.Label != "" {
			b = protowire.AppendTag(b, fieldLabel, protowire.BytesType)
			b = protowire.AppendString(b, m.Label)
		}
		for _, q := range m.Quads {
			b = protowire.AppendTag(b, fieldQuad, protowire.BytesType)
			b = protowire.AppendBytes(b, encodeQuad(nil, q))
		}
		for _, l := range m.Lines {
			b = protowire.AppendTag(b, fieldLine, protowire.BytesType)
			b = protowire.AppendBytes(b, encodeLine(nil, l))
		}
	case KindPrimitives:
		b = protowire.AppendTag(b, fieldPrimitiveKind, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(m.PrimitiveKind))
		b = appendPackedDoubles(b, fieldCoords, m.Coords)
		if len(m.Colors) > 0 {
			packed := make([]byte, 0, 4*len(m.Colors))
			for _, c := range m.Colors {
				packed = protowire.AppendFixed32(packed, packColor(c))
			}
			b = protowire.AppendTag(b, fieldColors, protowire.BytesType)
			b = protowire.AppendBytes(b, packed)
		}
		if len(m.Records) > 0 {
			var packed []byte
			for _, r := range m.Records {
				packed = protowire.AppendVarint(packed, uint64(r))
			}
			b = protowire.AppendTag(b, fieldRecords, protowire.BytesType)
			b = protowire.AppendBytes(b, packed)
		}
	case KindOpacity:
		b = protowire.AppendTag(b, fieldVersion, protowire.VarintType)
		b = protowire.AppendVarint(b, m.Version)
		if len(m.Opacity) > 0 {
			packed := make([]byte, 0, 4*len(m.Opacity))
			for _, v := range m.Opacity {
				packed = protowire.AppendFixed32(packed, math.Float32bits(v))
			}
			b = protowire.AppendTag(b, fieldOpacity, protowire.BytesType)
			b = protowire.AppendBytes(b, packed)
		}
	}
	return b
}

func appendPackedDoubles(b []byte, num protowire.Number, vs []float64) []byte {
	if len(vs) == 0 {
		return b
	}
	packed := make([]byte, 0, 8*len(vs))
	for _, v := range vs {
		packed = protowire.AppendFixed64(packed, math.Float64bits(v))
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, packed)
}

func packColor(c color.RGBA) uint32 {
	return uint32(c.R)<<24 | uint32(c.G)<<16 | uint32(c.B)<<8 | uint32(c.A)
}

func unpackColor(v uint32) color.RGBA {
	return color.RGBA{R: uint8(v >> 24), G: uint8(v >> 16), B: uint8(v >> 8), A: uint8(v)}
}

// Quad and line sub-message fields.
const (
	subCellX    protowire.Number = 1
	subCellY    protowire.Number = 2
	subCoords   protowire.Number = 3
	subFill     protowire.Number = 4
	subOpacity  protowire.Number = 5
	subPickups  protowire.Number = 6
	subDropoffs protowire.Number = 7
	subWidth    protowire.Number = 8
)

func appendKey(b []byte, k binning.Key) []byte {
	b = protowire.AppendTag(b, subCellX, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(int64(k.X)))
	b = protowire.AppendTag(b, subCellY, protowire.VarintType)
	return protowire.AppendVarint(b, protowire.EncodeZigZag(int64(k.Y)))
}

func appendDouble(b []byte, num protowire.Number, v float64) []byte {
	b = protowire.AppendTag(b, num, protowire.Fixed64Type)
	return protowire.AppendFixed64(b, math.Float64bits(v))
}

func encodeQuad(b []byte, q render.Quad) []byte {
	b = appendKey(b, q.Key)
	coords := make([]float64, 0, 8)
	for _, c := range q.Corners {
		coords = append(coords, c.X, c.Y)
	}
	b = appendPackedDoubles(b, subCoords, coords)
	b = protowire.AppendTag(b, subFill, protowire.Fixed32Type)
	b = protowire.AppendFixed32(b, packColor(q.Fill))
	b = appendDouble(b, subOpacity, q.Opacity)
	b = protowire.AppendTag(b, subPickups, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(q.Pickups))
	b = protowire.AppendTag(b, subDropoffs, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(q.Dropoffs))
}

func encodeLine(b []byte, l render.VectorLine) []byte {
	b = appendKey(b, l.Key)
	b = appendPackedDoubles(b, subCoords, []float64{l.From.X, l.From.Y, l.To.X, l.To.Y})
	b = appendDouble(b, subOpacity, l.Opacity)
	return appendDouble(b, subWidth, l.Width)
}

// field is one decoded tag and its raw value.
type field struct {
	num    protowire.Number
	varint uint64
	fixed  uint64
	bytes  []byte
}

// fields splits b into its top-level fields.
func fields(b []byte) ([]field, error) {
	var out []field
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]
		f := field{num: num}
		switch typ {
		case protowire.VarintType:
			f.varint, n = protowire.ConsumeVarint(b)
		case protowire.Fixed32Type:
			var v uint32
			v, n = protowire.ConsumeFixed32(b)
			f.fixed = uint64(v)
		case protowire.Fixed64Type:
			f.fixed, n = protowire.ConsumeFixed64(b)
		case protowire.BytesType:
			f.bytes, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]
		out = append(out, f)
	}
	return out, nil
}

func unpackDoubles(b []byte) ([]float64, error) {
	if len(b)%8 != 0 {
		return nil, errTruncated
	}
	out := make([]float64, 0, len(b)/8)
	for len(b) > 0 {
		v, n := protowire.ConsumeFixed64(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		out = append(out, math.Float64frombits(v))
		b = b[n:]
	}
	return out, nil
}

func unpackFixed32(b []byte) ([]uint32, error) {
	if len(b)%4 != 0 {
		return nil, errTruncated
	}
	out := make([]uint32, 0, len(b)/4)
	for len(b) > 0 {
		v, n := protowire.ConsumeFixed32(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		out = append(out, v)
		b = b[n:]
	}
	return out, nil
}

// Decode parses a message produced by Encode. Unknown fields are skipped.
func Decode(b []byte) (*Message, error) {
	fs, err := fields(b)
	if err != nil {
		return nil, fmt.Errorf("failed to decode message: %w", err)
	}
	m := &Message{}
	for _, f := range fs {
		switch f.num {
		case fieldLayer:
			m.Layer = string(f.bytes)
		case fieldKind:
			m.Kind = MessageKind(f.varint)
		case fieldStep:
			m.Step = int(protowire.DecodeZigZag(f.varint))
		case fieldLabel:
			m.Label = string(f.bytes)
		case fieldQuad:
			q, err := decodeQuad(f.bytes)
			if err != nil {
				return nil, err
			}
			m.Quads = append(m.Quads, q)
		case fieldLine:
			l, err := decodeLine(f.bytes)
			if err != nil {
				return nil, err
			}
			m.Lines = append(m.Lines, l)
		case fieldPrimitiveKind:
			m.PrimitiveKind = render.Kind(f.varint)
		case fieldCoords:
			if m.Coords, err = unpackDoubles(f.bytes); err != nil {
				return nil, err
			}
		case fieldColors:
			vs, err := unpackFixed32(f.bytes)
			if err != nil {
				return nil, err
			}
			for _, v := range vs {
				m.Colors = append(m.Colors, unpackColor(v))
			}
		case fieldRecords:
			rb := f.bytes
			for len(rb) > 0 {
				v, n := protowire.ConsumeVarint(rb)
				if n < 0 {
					return nil, protowire.ParseError(n)
				}
				m.Records = append(m.Records, int(v))
				rb = rb[n:]
			}
		case fieldVersion:
			m.Version = f.varint
		case fieldOpacity:
			vs, err := unpackFixed32(f.bytes)
			if err != nil {
				return nil, err
			}
			m.Opacity = make([]float32, len(vs))
			for i, v := range vs {
				m.Opacity[i] = math.Float32frombits(v)
			}
		}
	}
	return m, nil
}

func decodeKey(f field, k *binning.Key) {
	switch f.num {
	case subCellX:
		k.X = int(protowire.DecodeZigZag(f.varint))
	case subCellY:
		k.Y = int(protowire.DecodeZigZag(f.varint))
	}
}

func decodeQuad(b []byte) (render.Quad, error) {
	var q render.Quad
	fs, err := fields(b)
	if err != nil {
		return q, err
	}
	for _, f := range fs {
		decodeKey(f, &q.Key)
		switch f.num {
		case subCoords:
			cs, err := unpackDoubles(f.bytes)
			if err != nil {
				return q, err
			}
			if len(cs) != 8 {
				return q, errTruncated
			}
			for i := range q.Corners {
				q.Corners[i] = binning.Point{X: cs[2*i], Y: cs[2*i+1]}
			}
		case subFill:
			q.Fill = unpackColor(uint32(f.fixed))
		case subOpacity:
			q.Opacity = math.Float64frombits(f.fixed)
		case subPickups:
			q.Pickups = int(f.varint)
		case subDropoffs:
			q.Dropoffs = int(f.varint)
		}
	}
	return q, nil
}

func decodeLine(b []byte) (render.VectorLine, error) {
	var l render.VectorLine
	fs, err := fields(b)
	if err != nil {
		return l, err
	}
	for _, f := range fs {
		decodeKey(f, &l.Key)
		switch f.num {
		case subCoords:
			cs, err := unpackDoubles(f.bytes)
			if err != nil {
				return l, err
			}
			if len(cs) != 4 {
				return l, errTruncated
			}
			l.From = binning.Point{X: cs[0], Y: cs[1]}
			l.To = binning.Point{X: cs[2], Y: cs[3]}
		case subOpacity:
			l.Opacity = math.Float64frombits(f.fixed)
		case subWidth:
			l.Width = math.Float64frombits(f.fixed)
		}
	}
	return l, nil
}

// PrimitivesMessage flattens raw primitives into a message.
func PrimitivesMessage(id string, p *render.Primitives) *Message {
	m := &Message{Layer: id, Kind: KindPrimitives}
	if p == nil {
		return m
	}
	m.PrimitiveKind = p.Kind
	m.Colors = p.Colors
	m.Records = p.Records
	switch p.Kind {
	case render.KindPoints:
		m.Coords = make([]float64, 0, 2*len(p.Points))
		for _, pt := range p.Points {
			m.Coords = append(m.Coords, pt.X, pt.Y)
		}
	case render.KindLines:
		m.Coords = make([]float64, 0, 4*len(p.Lines))
		for _, s := range p.Lines {
			m.Coords = append(m.Coords, s.From.X, s.From.Y, s.To.X, s.To.Y)
		}
	}
	return m
}

// BinsMessage wraps a bin frame.
func BinsMessage(id string, f render.BinFrame) *Message {
	return &Message{Layer: id, Kind: KindBins, Step: f.Step, Label: f.Label, Quads: f.Quads, Lines: f.Lines}
}

// OpacityMessage copies the buffer into a message.
func OpacityMessage(id string, buf *render.OpacityBuffer) *Message {
	return &Message{Layer: id, Kind: KindOpacity, Opacity: buf.Snapshot(), Version: buf.Version()}
}
