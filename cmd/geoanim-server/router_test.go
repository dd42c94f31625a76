package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	gj "github.com/paulmach/go.geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sudorandom/geoanim/pkg/animation"
	"github.com/sudorandom/geoanim/pkg/animation/animationtest"
	"github.com/sudorandom/geoanim/pkg/binning"
	"github.com/sudorandom/geoanim/pkg/config"
	"github.com/sudorandom/geoanim/pkg/dataset"
	"github.com/sudorandom/geoanim/pkg/layer"
	"github.com/sudorandom/geoanim/pkg/monitoring"
	"github.com/sudorandom/geoanim/pkg/render"
	"github.com/sudorandom/geoanim/pkg/render/geojson"
	"github.com/sudorandom/geoanim/pkg/render/stream"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	monitoring.SetLogger(nil)
	m.Run()
}

var epoch = time.Date(2013, 1, 1, 0, 0, 0, 0, time.UTC)

func millis(d time.Duration) float64 {
	return float64(epoch.Add(d).UnixMilli())
}

func trips() *dataset.Snapshot {
	cols := []string{
		"pickup_datetime", "pickup_longitude", "pickup_latitude",
		"dropoff_datetime", "dropoff_longitude", "dropoff_latitude",
	}
	return dataset.NewSnapshot(cols, []dataset.Record{
		{millis(10 * time.Minute), -73.955, 40.755, millis(20 * time.Minute), -73.945, 40.745},
		{millis(70 * time.Minute), -73.905, 40.705, millis(80 * time.Minute), -73.915, 40.715},
		{millis(75 * time.Minute), -73.902, 40.708, millis(90 * time.Minute), -73.845, 40.815},
	})
}

var testViewport = binning.Viewport{
	Width:  800,
	Height: 600,
	Bounds: binning.Bounds{
		UpperLeft:  binning.Point{X: -74.1, Y: 40.9},
		LowerRight: binning.Point{X: -73.7, Y: 40.6},
	},
}

func newTestServer(t *testing.T) (*server, *layer.Layer, http.Handler) {
	t.Helper()
	srv := &server{recorder: geojson.NewRecorder(), hub: stream.NewHub()}
	t.Cleanup(srv.hub.Close)

	params := config.DefaultParams()
	params.DisplayProcess = config.ProcessBinned
	l, err := layer.New(layer.Options{
		Descriptor: dataset.TaxiTrips,
		Params:     params,
		Animation:  config.DefaultAnimation(),
		Surface:    render.NewMulti(srv.recorder, srv.hub),
		Scheduler:  animationtest.New(epoch),
	})
	require.NoError(t, err)
	l.SetViewport(testViewport)
	l.FlushViewport()
	l.SetData(trips())
	srv.layers = append(srv.layers, l)
	return srv, l, newRouter(srv)
}

func do(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	_, _, h := newTestServer(t)
	w := do(h, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok","layers":1}`, w.Body.String())
}

func TestBins(t *testing.T) {
	_, l, h := newTestServer(t)

	w := do(h, http.MethodGet, "/api/bins?layer=taxi", "")
	require.Equal(t, http.StatusOK, w.Code)
	fc, err := gj.UnmarshalFeatureCollection(w.Body.Bytes())
	require.NoError(t, err)

	require.Len(t, fc.Features, len(l.Frame().Quads))
	require.NotEmpty(t, fc.Features)
	for _, f := range fc.Features {
		assert.Equal(t, "taxi", f.Properties["layer"])
		assert.Equal(t, geojson.KindBin, f.Properties["kind"])
	}

	w = do(h, http.MethodGet, "/api/bins?layer=nope", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStepAndLayers(t *testing.T) {
	_, l, h := newTestServer(t)

	for _, path := range []string{"/api/step", "/api/step?layer=" + l.ID, "/api/layers"} {
		w := do(h, http.MethodGet, path, "")
		require.Equal(t, http.StatusOK, w.Code, path)
		var statuses []layer.Status
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &statuses))
		require.Len(t, statuses, 1)
		assert.Equal(t, "taxi", statuses[0].Key)
		assert.Equal(t, "Stopped", statuses[0].Description)
		assert.Equal(t, 3, statuses[0].Records)
		require.NotNil(t, statuses[0].Summary, path)
		assert.Equal(t, 3, statuses[0].Summary.TotalPickups)
	}
}

func TestAnimationActions(t *testing.T) {
	_, l, h := newTestServer(t)

	w := do(h, http.MethodPost, "/api/animation/start", `{"animation":{"steps":12}}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	st := l.Status()
	assert.Equal(t, animation.Playing, st.Clock.State)
	assert.Equal(t, 12, st.Clock.NumBins)

	w = do(h, http.MethodPost, "/api/animation/pause", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, animation.Paused, l.Status().Clock.State)

	w = do(h, http.MethodPost, "/api/animation/jump", `{"step":3}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 3, l.Status().Clock.Step)

	w = do(h, http.MethodPost, "/api/animation/rewind", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(h, http.MethodPost, "/api/animation/stop", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, animation.Stopped, l.Status().Clock.State)

	w = do(h, http.MethodPost, "/api/animation/start", `{"animation":{"cycle":"fortnight"}}`)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = do(h, http.MethodPost, "/api/animation/start", `{"animation":`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestViewport(t *testing.T) {
	_, l, h := newTestServer(t)

	vp := binning.NewViewport(400, 300, -73.9, 40.75, 0.001)
	body, err := json.Marshal(vp)
	require.NoError(t, err)

	w := do(h, http.MethodPost, "/api/viewport?flush=true", string(body))
	require.Equal(t, http.StatusAccepted, w.Code)
	got, ok := l.Viewport()
	require.True(t, ok)
	assert.Equal(t, vp, got)

	w = do(h, http.MethodPost, "/api/viewport", `{"width":0,"height":0}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(h, http.MethodPost, "/api/viewport", `nope`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestParams(t *testing.T) {
	_, l, h := newTestServer(t)

	w := do(h, http.MethodPost, "/api/params", `{"displayProcess":"raw","opacity":0.5}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	p := l.Params()
	assert.Equal(t, config.ProcessRaw, p.DisplayProcess)
	assert.Equal(t, 0.5, p.Opacity)
	assert.Equal(t, config.DisplayPickup, p.DisplayType)

	w = do(h, http.MethodPost, "/api/params", `{"numBins":2}`)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, config.DefaultGridBins, l.Params().NumBins)

	w = do(h, http.MethodPost, "/api/params", `{`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
