package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	"github.com/hajimehoshi/ebiten/v2"
	_ "github.com/silbinarywolf/preferdiscretegpu"

	"github.com/sudorandom/geoanim/pkg/binning"
	"github.com/sudorandom/geoanim/pkg/config"
	"github.com/sudorandom/geoanim/pkg/dataset"
	"github.com/sudorandom/geoanim/pkg/layer"
	"github.com/sudorandom/geoanim/pkg/monitoring"
	"github.com/sudorandom/geoanim/pkg/render/screen"
	"github.com/sudorandom/geoanim/pkg/render/stream"
	"github.com/sudorandom/geoanim/pkg/sources"
	"github.com/sudorandom/geoanim/pkg/store"
	"github.com/sudorandom/geoanim/pkg/utils"
)

type CLI struct {
	Config kong.ConfigFlag `help:"JSON file supplying flag values." placeholder:"FILE"`

	Taxi       []string `help:"Taxi trip sources: http(s) URLs, postgres:// or sqlite:// URIs, .csv or .json files." placeholder:"URI"`
	Posts      []string `help:"Geotagged post sources, same forms as --taxi." placeholder:"URI"`
	TaxiQuery  string   `help:"SQL used for database taxi sources." default:"SELECT * FROM trips"`
	PostsQuery string   `help:"SQL used for database post sources." default:"SELECT * FROM instagram"`
	Limit      int      `help:"Maximum records per source (0 for no cap)." default:"0"`
	Settings   string   `help:"Display and animation settings (.json)." type:"existingfile"`
	CacheDir   string   `help:"Directory caching downloaded files; empty disables." default:"data/cache"`
	Store      string   `help:"Badger directory caching decoded snapshots; empty disables."`
	Basemap    string   `help:"GeoJSON land polygons drawn under the data." type:"existingfile"`
	Follow     string   `help:"Mirror the layers of a running geoanim-server from its /ws endpoint." placeholder:"URL"`

	Width   int     `help:"Internal rendering width." default:"1280"`
	Height  int     `help:"Internal rendering height." default:"720"`
	Lng     float64 `help:"Initial center longitude." default:"-73.95"`
	Lat     float64 `help:"Initial center latitude." default:"40.75"`
	Scale   float64 `help:"Degrees per pixel at start." default:"0.0004"`
	TPS     int     `help:"Ticks per second (engine updates)." default:"30"`
	Capture string  `help:"Directory for captured frames (press C)." default:"."`
	Animate bool    `help:"Start the animation as soon as data is loaded."`

	Record   string `help:"Encode the window to a video file or rtmp:// URL with ffmpeg."`
	Bitrate  string `help:"Video bitrate." default:"9000k"`
	Software bool   `help:"Force software encoding (libx264) even if hardware acceleration is available."`
	Device   string `help:"VA-API render device path (Linux only)." default:"/dev/dri/renderD128"`
	Debug    bool   `help:"Enable verbose logging."`
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("geoanim-viewer"),
		kong.Description("Animated spatial binning of trip and post data."),
		kong.Configuration(kong.JSON, "~/.config/geoanim/viewer.json"),
		kong.UsageOnError(),
	)
	log.SetOutput(os.Stderr)
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	if !cli.Debug {
		monitoring.SetLogger(func(format string, v ...interface{}) {
			if strings.HasPrefix(format, "[clock]") {
				return
			}
			log.Printf(format, v...)
		})
	}

	kctx.FatalIfErrorf(run(&cli))
}

func run(cli *CLI) error {
	if len(cli.Taxi)+len(cli.Posts) == 0 && cli.Follow == "" {
		return fmt.Errorf("no data sources given; use --taxi, --posts or --follow")
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

	vp := binning.NewViewport(cli.Width, cli.Height, cli.Lng, cli.Lat, cli.Scale)
	engine := screen.NewEngine(vp)
	engine.FrameCaptureDir = cli.Capture
	if cli.Basemap != "" {
		fc, err := screen.LoadBasemap(cli.Basemap)
		if err != nil {
			return err
		}
		engine.SetBasemap(fc)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if cli.Follow != "" {
		go func() {
			if err := stream.Follow(ctx, cli.Follow, engine); err != nil && ctx.Err() == nil {
				log.Printf("Stopped following %s: %v", cli.Follow, err)
			}
		}()
	}

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
			Surface:    engine,
		})
		if err != nil {
			return err
		}
		engine.AddLayer(l.ID, l)
		l.FlushViewport()
		l.SetData(snap)
		if cli.Animate {
			if err := l.Animate(settings.Animation); err != nil {
				log.Printf("[layer %s] Not animating: %v", desc.Key, err)
			}
		}
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

	if cli.Record != "" {
		rec, err := screen.StartVideo(screen.VideoOptions{
			Output:    cli.Record,
			Width:     cli.Width,
			Height:    cli.Height,
			FrameRate: cli.TPS,
			Bitrate:   cli.Bitrate,
			Software:  cli.Software,
			Device:    cli.Device,
			Debug:     cli.Debug,
		})
		if err != nil {
			return err
		}
		defer func() {
			if err := rec.Close(); err != nil {
				log.Printf("Error finishing video: %v", err)
			}
		}()
		engine.OnFrame = rec.OnFrame
	}

	ebiten.SetTPS(cli.TPS)
	ebiten.SetWindowSize(cli.Width, cli.Height)
	ebiten.SetWindowTitle("geoanim")
	ebiten.SetWindowResizingMode(ebiten.WindowResizingModeEnabled)
	return ebiten.RunGame(engine)
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
