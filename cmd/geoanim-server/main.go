package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/gin-gonic/gin"

	"github.com/sudorandom/geoanim/pkg/binning"
	"github.com/sudorandom/geoanim/pkg/config"
	"github.com/sudorandom/geoanim/pkg/dataset"
	"github.com/sudorandom/geoanim/pkg/layer"
	"github.com/sudorandom/geoanim/pkg/render"
	"github.com/sudorandom/geoanim/pkg/render/geojson"
	"github.com/sudorandom/geoanim/pkg/render/stream"
	"github.com/sudorandom/geoanim/pkg/sources"
	"github.com/sudorandom/geoanim/pkg/store"
	"github.com/sudorandom/geoanim/pkg/utils"
)

type CLI struct {
	Config kong.ConfigFlag `help:"JSON file supplying flag values." placeholder:"FILE"`

	Listen     string   `help:"HTTP listen address." default:":8080"`
	Taxi       []string `help:"Taxi trip sources: http(s) URLs, postgres:// or sqlite:// URIs, .csv or .json files." placeholder:"URI"`
	Posts      []string `help:"Geotagged post sources, same forms as --taxi." placeholder:"URI"`
	TaxiQuery  string   `help:"SQL used for database taxi sources." default:"SELECT * FROM trips"`
	PostsQuery string   `help:"SQL used for database post sources." default:"SELECT * FROM instagram"`
	Limit      int      `help:"Maximum records per source (0 for no cap)." default:"0"`
	Settings   string   `help:"Display and animation settings (.json)." type:"existingfile"`
	CacheDir   string   `help:"Directory caching downloaded files; empty disables." default:"data/cache"`
	Store      string   `help:"Badger directory caching decoded snapshots; empty disables."`

	Width  int     `help:"Initial viewport width in pixels." default:"1280"`
	Height int     `help:"Initial viewport height in pixels." default:"720"`
	Lng    float64 `help:"Initial center longitude." default:"-73.95"`
	Lat    float64 `help:"Initial center latitude." default:"40.75"`
	Scale  float64 `help:"Degrees per pixel of the initial viewport." default:"0.0004"`
	Debug  bool    `help:"Enable gin debug logging."`
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("geoanim-server"),
		kong.Description("Serves animated spatial bins over HTTP and websockets."),
		kong.Configuration(kong.JSON, "~/.config/geoanim/server.json"),
		kong.UsageOnError(),
	)
	log.SetOutput(os.Stderr)
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	if !cli.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	kctx.FatalIfErrorf(run(ctx, &cli))
}

func run(ctx context.Context, cli *CLI) error {
	if len(cli.Taxi)+len(cli.Posts) == 0 {
		return fmt.Errorf("no data sources given; use --taxi or --posts")
	}
	settings := config.Default()
	if cli.Settings != "" {
		var err error
		if settings, err = config.Load(cli.Settings); err != nil {
			return err
		}
	}

	var st *store.SnapshotStore
	if cli.Store != "" {
		var err error
		if st, err = store.Open(cli.Store); err != nil {
			return err
		}
		defer func() {
			if err := st.Close(); err != nil {
				log.Printf("Error closing snapshot store: %v", err)
			}
		}()
	}

	srv := &server{recorder: geojson.NewRecorder(), hub: stream.NewHub()}
	defer srv.hub.Close()
	surface := render.NewMulti(srv.recorder, srv.hub)
	vp := binning.NewViewport(cli.Width, cli.Height, cli.Lng, cli.Lat, cli.Scale)
	fetcher := &utils.Fetcher{CacheDir: cli.CacheDir}

	add := func(desc dataset.Descriptor, uri, query string) error {
		snap, err := loadSnapshot(ctx, st, uri, sources.Options{
			Query:       query,
			Limit:       cli.Limit,
			Fetcher:     fetcher,
			DateColumns: []string{desc.Date, desc.Date2},
			Params:      map[string][]string{"fields": {strings.Join(sources.Fields(desc), ",")}},
		})
		if err != nil {
			return fmt.Errorf("load %s: %w", uri, err)
		}
		l, err := layer.New(layer.Options{
			Descriptor: desc,
			Params:     settings.Display,
			Animation:  settings.Animation,
			Surface:    surface,
		})
		if err != nil {
			return err
		}
		l.SetViewport(vp)
		l.FlushViewport()
		l.SetData(snap)
		srv.layers = append(srv.layers, l)
		return nil
	}
	for _, uri := range cli.Taxi {
		if err := add(dataset.TaxiTrips, uri, cli.TaxiQuery); err != nil {
			return err
		}
	}
	for _, uri := range cli.Posts {
		if err := add(dataset.GeoPosts, uri, cli.PostsQuery); err != nil {
			return err
		}
	}

	httpServer := &http.Server{
		Addr:              cli.Listen,
		Handler:           newRouter(srv),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		log.Printf("Server starting on %s", cli.Listen)
		errc <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Printf("Shutting down")
	for _, l := range srv.layers {
		_ = l.Action(layer.ActionStop, 0)
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func loadSnapshot(ctx context.Context, st *store.SnapshotStore, uri string, opts sources.Options) (*dataset.Snapshot, error) {
	start := time.Now()
	fetch := func(ctx context.Context) (*dataset.Snapshot, error) {
		return sources.Open(ctx, uri, opts)
	}
	var snap *dataset.Snapshot
	var err error
	if st != nil {
		snap, err = st.Load(ctx, fmt.Sprintf("%s|%s|%d", uri, opts.Query, opts.Limit), fetch)
	} else {
		snap, err = fetch(ctx)
	}
	if err != nil {
		return nil, err
	}
	log.Printf("Loaded %d records from %s in %s", snap.Len(), uri, time.Since(start).Round(time.Millisecond))
	return snap, nil
}
