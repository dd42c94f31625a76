package stream

import (
	"image/color"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sudorandom/geoanim/pkg/binning"
	"github.com/sudorandom/geoanim/pkg/monitoring"
	"github.com/sudorandom/geoanim/pkg/render"
)

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	os.Exit(m.Run())
}

func testFrame() render.BinFrame {
	return render.BinFrame{
		Quads: []render.Quad{{
			Key: binning.Key{X: -1, Y: 2},
			Corners: [4]binning.Point{
				{X: 0, Y: 0}, {X: 0, Y: 1}, {X: 1, Y: 1}, {X: 1, Y: 0},
			},
			Fill:     render.ColorDropoff,
			Opacity:  0.25,
			Pickups:  1,
			Dropoffs: 5,
		}},
		Lines: []render.VectorLine{{
			Key:     binning.Key{X: -1, Y: 2},
			From:    binning.Point{X: 0.5, Y: 0.5},
			To:      binning.Point{X: 0.7, Y: 0.4},
			Opacity: 0.8,
			Width:   5,
		}},
		Step:  -1,
		Label: "",
	}
}

func TestCodecBins(t *testing.T) {
	want := BinsMessage("taxi", testFrame())
	got, err := Decode(Encode(nil, want))
	require.NoError(t, err)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("bins mismatch (-want +got):\n%s", diff)
	}
}

func TestCodecPrimitives(t *testing.T) {
	p := &render.Primitives{
		Kind:    render.KindLines,
		Lines:   []render.Segment{{From: binning.Point{X: 1, Y: 2}, To: binning.Point{X: 3, Y: 4}}},
		Colors:  []color.RGBA{render.ColorPickup},
		Records: []int{9},
	}
	got, err := Decode(Encode(nil, PrimitivesMessage("taxi", p)))
	require.NoError(t, err)
	assert.Equal(t, render.KindLines, got.PrimitiveKind)
	assert.Equal(t, []float64{1, 2, 3, 4}, got.Coords)
	assert.Equal(t, p.Colors, got.Colors)
	assert.Equal(t, []int{9}, got.Records)
}

func TestCodecOpacity(t *testing.T) {
	buf := render.NewOpacityBuffer(3)
	buf.Fill(0.5, []bool{false, true, false})
	got, err := Decode(Encode(nil, OpacityMessage("posts", buf)))
	require.NoError(t, err)
	assert.Equal(t, KindOpacity, got.Kind)
	assert.Equal(t, "posts", got.Layer)
	assert.Equal(t, []float32{0.5, 0, 0.5}, got.Opacity)
	assert.Equal(t, buf.Version(), got.Version)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := Decode([]byte{0xff, 0xff, 0xff})
	assert.Error(t, err)
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func read(t *testing.T, conn *websocket.Conn) *Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	typ, b, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.BinaryMessage, typ)
	m, err := Decode(b)
	require.NoError(t, err)
	return m
}

func TestHubReplaysLatestState(t *testing.T) {
	h := NewHub()
	defer h.Close()
	srv := httptest.NewServer(h)
	defer srv.Close()

	h.SetBins("taxi", testFrame())
	f := testFrame()
	f.Step, f.Label = 3, "03:00 - 04:00"
	h.SetBins("taxi", f)

	conn := dial(t, srv)
	m := read(t, conn)
	assert.Equal(t, KindBins, m.Kind)
	assert.Equal(t, 3, m.Step)
	assert.Equal(t, "03:00 - 04:00", m.Label)
}

func TestHubBroadcasts(t *testing.T) {
	h := NewHub()
	defer h.Close()
	srv := httptest.NewServer(h)
	defer srv.Close()

	a, b := dial(t, srv), dial(t, srv)
	require.Eventually(t, func() bool { return h.Clients() == 2 }, 5*time.Second, 10*time.Millisecond)

	buf := render.NewOpacityBuffer(2)
	buf.Fill(1, nil)
	h.UpdateOpacity("posts", buf)

	for _, conn := range []*websocket.Conn{a, b} {
		m := read(t, conn)
		assert.Equal(t, []float32{1, 1}, m.Opacity)
	}
}

func TestHubDropsWhenBehind(t *testing.T) {
	h := NewHub()
	c := h.register()
	for i := 0; i < sendBuffer+5; i++ {
		h.SetBins("taxi", testFrame())
	}
	assert.Len(t, c.send, sendBuffer)
	assert.Equal(t, 5, c.dropped)

	h.unregister(c)
	assert.Equal(t, 0, h.Clients())
}

func TestHubPrimitivesResetOpacity(t *testing.T) {
	h := NewHub()
	buf := render.NewOpacityBuffer(1)
	h.UpdateOpacity("posts", buf)
	h.SetPrimitives("posts", &render.Primitives{})

	c := h.register()
	require.Len(t, c.send, 1)
	m, err := Decode(<-c.send)
	require.NoError(t, err)
	assert.Equal(t, KindPrimitives, m.Kind)
}
