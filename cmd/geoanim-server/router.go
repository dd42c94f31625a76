package main

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	gj "github.com/paulmach/go.geojson"

	"github.com/sudorandom/geoanim/pkg/binning"
	"github.com/sudorandom/geoanim/pkg/config"
	"github.com/sudorandom/geoanim/pkg/layer"
	"github.com/sudorandom/geoanim/pkg/render/geojson"
	"github.com/sudorandom/geoanim/pkg/render/stream"
)

// ActionStart starts a new animation from the request body.
const ActionStart = "start"

type server struct {
	layers   []*layer.Layer
	recorder *geojson.Recorder
	hub      *stream.Hub
}

type animationRequest struct {
	Step int `json:"step"`
	// Animation fields override the defaults.
	Animation json.RawMessage `json:"animation"`
}

func newRouter(s *server) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"layers": len(s.layers),
		})
	})

	api := r.Group("/api")
	{
		api.GET("/layers", s.listLayers)
		api.GET("/bins", s.bins)
		api.GET("/step", s.step)
		api.POST("/viewport", s.viewport)
		api.POST("/params", s.params)
		api.POST("/animation/:action", s.animation)
	}

	r.GET("/ws", gin.WrapH(s.hub))
	return r
}

// selected returns the layers named by the "layer" query parameter (an ID or a
// dataset key), or every layer when it is absent.
func (s *server) selected(c *gin.Context) ([]*layer.Layer, bool) {
	name := c.Query("layer")
	if name == "" {
		return s.layers, true
	}
	var out []*layer.Layer
	for _, l := range s.layers {
		if l.ID == name || l.Desc.Key == name {
			out = append(out, l)
		}
	}
	if len(out) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown layer " + name})
		return nil, false
	}
	return out, true
}

func (s *server) statuses(layers []*layer.Layer) []layer.Status {
	out := make([]layer.Status, 0, len(layers))
	for _, l := range layers {
		out = append(out, l.Status())
	}
	return out
}

func (s *server) listLayers(c *gin.Context) {
	c.JSON(http.StatusOK, s.statuses(s.layers))
}

func (s *server) bins(c *gin.Context) {
	layers, ok := s.selected(c)
	if !ok {
		return
	}
	fc := gj.NewFeatureCollection()
	for _, l := range layers {
		lc, ok := s.recorder.Collection(l.ID)
		if !ok {
			continue
		}
		for _, f := range lc.Features {
			f.SetProperty("layer", l.Desc.Key)
			fc.AddFeature(f)
		}
	}
	c.JSON(http.StatusOK, fc)
}

func (s *server) step(c *gin.Context) {
	layers, ok := s.selected(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, s.statuses(layers))
}

func (s *server) viewport(c *gin.Context) {
	var vp binning.Viewport
	if err := c.ShouldBindJSON(&vp); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !vp.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "viewport has no area"})
		return
	}
	layers, ok := s.selected(c)
	if !ok {
		return
	}
	flush := c.Query("flush") == "true"
	for _, l := range layers {
		l.SetViewport(vp)
		if flush {
			l.FlushViewport()
		}
	}
	c.JSON(http.StatusAccepted, gin.H{"viewport": vp})
}

func (s *server) params(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	layers, ok := s.selected(c)
	if !ok {
		return
	}
	for _, l := range layers {
		// Fields missing from the body keep the layer's current values.
		p := l.Params()
		if err := json.Unmarshal(body, &p); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := l.UpdateParams(p); err != nil {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, s.statuses(layers))
}

func (s *server) animation(c *gin.Context) {
	var req animationRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	layers, ok := s.selected(c)
	if !ok {
		return
	}
	action := c.Param("action")
	for _, l := range layers {
		var err error
		if action == ActionStart {
			anim := config.DefaultAnimation()
			if len(req.Animation) > 0 {
				if err := json.Unmarshal(req.Animation, &anim); err != nil {
					c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
					return
				}
			}
			err = l.Animate(anim)
		} else {
			err = l.Action(action, req.Step)
		}
		switch {
		case errors.Is(err, layer.ErrUnknownAction):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		case err != nil:
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, s.statuses(layers))
}
