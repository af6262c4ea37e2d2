// situmap-server runs the composition engine headless: it ingests the event
// feed, keeps escalation scores current and serves the control API, letting
// remote dashboards drive the map without a local renderer.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	"github.com/situroom/situmap/pkg/control"
	"github.com/situroom/situmap/pkg/feeds"
	"github.com/situroom/situmap/pkg/geo"
	"github.com/situroom/situmap/pkg/mapengine"
)

var cli struct {
	FeedURL     string `help:"Websocket URL of the normalized event feed." required:""`
	Countries   string `help:"Path to the world countries GeoJSON. Empty disables country picks." default:""`
	SeenDB      string `help:"Path to the seen-event database. Empty disables persistence." default:""`
	ControlAddr string `help:"Listen address for the HTTP control API." default:":8787"`
	Debug       bool   `help:"Enable debug logging."`
}

func main() {
	kong.Parse(&cli,
		kong.Name("situmap-server"),
		kong.Description("Headless composition engine and control API for the situation dashboard."))

	level := slog.LevelInfo
	if cli.Debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	composer := mapengine.New(nil, logger, mapengine.NewMetrics(nil))
	defer composer.Stop()

	// Headless: nobody draws, but the scheduler still coalesces so state
	// reads through the API stay cheap.
	composer.SetRenderFunc(func([]*mapengine.Layer) {})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// With no render loop something still has to drain queued renders.
	go func() {
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				composer.Frame()
			}
		}
	}()

	if cli.Countries != "" {
		raw, err := os.ReadFile(cli.Countries)
		if err != nil {
			logger.Error("failed to read countries file", "error", err)
			os.Exit(1)
		}
		locator, err := geo.NewCountryLocator(raw)
		if err != nil {
			logger.Error("failed to parse countries file", "error", err)
			os.Exit(1)
		}
		composer.SetCountryLocator(locator)
	}

	var seen *feeds.SeenStore
	if cli.SeenDB != "" {
		var err error
		seen, err = feeds.OpenSeenStore(cli.SeenDB)
		if err != nil {
			logger.Error("failed to open seen database", "error", err)
			os.Exit(1)
		}
		defer seen.Close()
	}

	listener := feeds.NewListener(cli.FeedURL, composer, seen, logger)
	go listener.Listen(ctx)

	srv := &http.Server{
		Addr:    cli.ControlAddr,
		Handler: control.NewServer(composer, logger, nil).Routes(),
	}
	go func() {
		logger.Info("control API listening", "addr", cli.ControlAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("control API failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("control API shutdown", "error", err)
	}
}
