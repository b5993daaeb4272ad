// Command viewer shows the classified feed in a desktop window with the raw
// pixel count of every space. Esc or an interrupt closes it.
package main

import (
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/dj-oyu/parking-monitor/internal/config"
	"github.com/dj-oyu/parking-monitor/internal/feed"
	"github.com/dj-oyu/parking-monitor/internal/logger"
	"github.com/dj-oyu/parking-monitor/internal/occupancy"
	"github.com/dj-oyu/parking-monitor/internal/source"
	"github.com/dj-oyu/parking-monitor/internal/spaces"
	"gocv.io/x/gocv"
)

const escKey = 27

var (
	configPath = flag.String("config", "", "YAML config file (optional)")
	sourceURI  = flag.String("source", "", "Video file, stream URL or camera index")
	spacesPath = flag.String("spaces", "", "Coordinate file (.json or .pkl)")
	delayMs    = flag.Int("delay", 10, "Milliseconds to wait for a key between frames")
	logLevel   = flag.String("log-level", "info", "Log level (debug, info, warn, error, silent)")
)

func main() {
	flag.Parse()

	level, err := logger.ParseLevel(*logLevel)
	if err != nil {
		logger.Fatal("Viewer", "Invalid log level: %v", err)
	}
	logger.Init(level, os.Stderr, true)

	cfg := config.Default()
	if *configPath != "" {
		if cfg, err = config.Load(*configPath); err != nil {
			logger.Fatal("Viewer", "Invalid configuration: %v", err)
		}
	}
	if *sourceURI != "" {
		cfg.Source = *sourceURI
	}
	if *spacesPath != "" {
		cfg.SpacesPath = *spacesPath
	}

	layout, err := spaces.Load(cfg.SpacesPath)
	if err != nil {
		logger.Fatal("Viewer", "Load spaces: %v", err)
	}

	classifier, err := occupancy.New(layout, cfg.Classifier)
	if err != nil {
		logger.Fatal("Viewer", "Create classifier: %v", err)
	}
	defer classifier.Close()

	src, err := source.Open(cfg.Source)
	if err != nil {
		logger.Fatal("Viewer", "Open source: %v", err)
	}
	defer src.Close()

	window := gocv.NewWindow("Parking")
	defer window.Close()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Viewer", "Watching %d spaces on %s (Esc to quit)", len(layout), cfg.Source)

	if err := run(src, classifier, window, stop); err != nil {
		// Deferred closers are skipped by os.Exit.
		classifier.Close()
		src.Close()
		window.Close()
		logger.Fatal("Viewer", "%v", err)
	}
	logger.Info("Viewer", "Bye")
}

func run(src *source.Looping, classifier *occupancy.Classifier, window *gocv.Window, stop <-chan os.Signal) error {
	frame := gocv.NewMat()
	defer frame.Close()

	spacesList := classifier.Spaces()
	for {
		select {
		case <-stop:
			return nil
		default:
		}

		if err := src.Next(&frame); err != nil {
			if feed.Recoverable(err) {
				logger.Debug("Viewer", "Skipping frame: %v", err)
				continue
			}
			return err
		}

		states, err := classifier.Classify(frame)
		if err != nil {
			if errors.Is(err, occupancy.ErrEmptyFrame) {
				continue
			}
			return err
		}

		occupancy.Annotate(&frame, spacesList, states, occupancy.LabelCount)
		window.IMShow(frame)
		if window.WaitKey(*delayMs) == escKey {
			return nil
		}
	}
}
