package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"

	"github.com/alecthomas/kong"
	"github.com/hajimehoshi/ebiten/v2"
	_ "github.com/silbinarywolf/preferdiscretegpu"

	"github.com/situroom/situmap/pkg/control"
	"github.com/situroom/situmap/pkg/feeds"
	"github.com/situroom/situmap/pkg/geo"
	"github.com/situroom/situmap/pkg/mapengine"
)

var cli struct {
	FeedURL      string `help:"Websocket URL of the normalized event feed." default:""`
	Countries    string `help:"Path to the world countries GeoJSON." default:"assets/countries.geojson" type:"path"`
	SeenDB       string `help:"Path to the seen-event database. Empty disables persistence." default:""`
	ControlAddr  string `help:"Listen address for the HTTP control API. Empty disables it." default:"127.0.0.1:8787"`
	WindowWidth  int    `help:"Initial window width." default:"1280"`
	WindowHeight int    `help:"Initial window height." default:"720"`
	TPS          int    `help:"Ticks per second." default:"30"`
	Headless     bool   `help:"Run without a local window (Xvfb rendering active)."`
	Debug        bool   `help:"Enable debug logging."`
}

func main() {
	kong.Parse(&cli,
		kong.Name("situmap-viewer"),
		kong.Description("Interactive world-map viewer for the live situation dashboard."))

	log.SetOutput(os.Stderr)
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	level := slog.LevelInfo
	if cli.Debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	composer := mapengine.New(nil, logger, mapengine.NewMetrics(nil))
	defer composer.Stop()

	raw, err := os.ReadFile(cli.Countries)
	if err != nil {
		log.Fatalf("Failed to read countries file: %v", err)
	}
	locator, err := geo.NewCountryLocator(raw)
	if err != nil {
		log.Fatalf("Failed to parse countries file: %v", err)
	}
	composer.SetCountryLocator(locator)

	viewer, err := NewViewer(composer, raw, cli.WindowWidth, cli.WindowHeight)
	if err != nil {
		log.Fatalf("Failed to initialize viewer: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cli.FeedURL != "" {
		var seen *feeds.SeenStore
		if cli.SeenDB != "" {
			seen, err = feeds.OpenSeenStore(cli.SeenDB)
			if err != nil {
				log.Fatalf("Failed to open seen database: %v", err)
			}
			defer seen.Close()
		}
		listener := feeds.NewListener(cli.FeedURL, composer, seen, logger)
		go listener.Listen(ctx)
	}

	if cli.ControlAddr != "" {
		srv := control.NewServer(composer, logger, nil)
		go func() {
			logger.Info("control API listening", "addr", cli.ControlAddr)
			if err := http.ListenAndServe(cli.ControlAddr, srv.Routes()); err != nil {
				logger.Error("control API failed", "error", err)
			}
		}()
	}

	ebiten.SetTPS(cli.TPS)
	if !cli.Headless {
		ebiten.SetWindowSize(cli.WindowWidth, cli.WindowHeight)
		ebiten.SetWindowResizingMode(ebiten.WindowResizingModeEnabled)
		ebiten.SetWindowTitle("Situation Map")
	} else {
		log.Println("Running in HEADLESS mode (Rendering active).")
	}
	if err := ebiten.RunGame(viewer); err != nil {
		log.Fatal(err)
	}
}
