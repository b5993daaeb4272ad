package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	_ "net/http/pprof" // Enable pprof
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/dj-oyu/parking-monitor/internal/config"
	"github.com/dj-oyu/parking-monitor/internal/feed"
	"github.com/dj-oyu/parking-monitor/internal/logger"
	"github.com/dj-oyu/parking-monitor/internal/metrics"
	"github.com/dj-oyu/parking-monitor/internal/occupancy"
	"github.com/dj-oyu/parking-monitor/internal/recorder"
	"github.com/dj-oyu/parking-monitor/internal/source"
	"github.com/dj-oyu/parking-monitor/internal/spaces"
	"github.com/dj-oyu/parking-monitor/internal/webmonitor"
	"github.com/dj-oyu/parking-monitor/internal/webrtc"
)

var (
	// Command-line flags. Explicitly set flags override the config file.
	configPath  = flag.String("config", "", "YAML config file (optional)")
	sourceURI   = flag.String("source", "", "Video file, stream URL or camera index")
	spacesPath  = flag.String("spaces", "", "Coordinate file (.json or .pkl)")
	httpAddr    = flag.String("http", "", "HTTP server address")
	metricsAddr = flag.String("metrics", "", "Metrics server address (empty to disable)")
	pprofAddr   = flag.String("pprof", "", "pprof server address (empty to disable)")
	recordPath  = flag.String("record-path", "", "Recording output path")
	maxClients  = flag.Int("max-clients", 0, "Maximum WebRTC clients")
	stunServers = flag.String("stun", "", "STUN server URLs (comma-separated)")
	interval    = flag.Duration("interval", 0, "Delay between frames")
	jpegQuality = flag.Int("jpeg-quality", 0, "JPEG quality of the video stream (1-100)")
	logLevel    = flag.String("log-level", "", "Log level (debug, info, warn, error, silent)")
	logColor    = flag.Bool("log-color", true, "Enable colored log output")
)

// Server wires the feed to the HTTP surface
type Server struct {
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	cfg     config.Config
	metrics *metrics.Metrics

	source     *source.Looping
	classifier *occupancy.Classifier
	runner     *feed.Runner
	frames     *webmonitor.FrameBroadcaster
	events     *webmonitor.StateBroadcaster
	webrtc     *webrtc.Server
	recorder   *recorder.Recorder
	web        *webmonitor.Server
	httpServer *http.Server
}

func main() {
	flag.Parse()

	cfg, err := loadConfig()
	if err != nil {
		logger.Fatal("Main", "Invalid configuration: %v", err)
	}

	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		logger.Fatal("Main", "Invalid log level: %v", err)
	}
	logger.Init(level, os.Stderr, cfg.LogColor)

	logger.Info("Main", "Parking monitor starting...")
	logger.Info("Main", "Log level: %s", level)

	srv, err := NewServer(cfg)
	if err != nil {
		logger.Fatal("Main", "Failed to create server: %v", err)
	}

	if err := srv.Start(); err != nil {
		logger.Fatal("Main", "Failed to start server: %v", err)
	}

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("Main", "Shutting down...")

	if err := srv.Shutdown(); err != nil {
		logger.Error("Main", "Error during shutdown: %v", err)
	}

	logger.Info("Main", "Server stopped")
}

// loadConfig reads the optional file and applies explicitly set flags.
func loadConfig() (config.Config, error) {
	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "source":
			cfg.Source = *sourceURI
		case "spaces":
			cfg.SpacesPath = *spacesPath
		case "http":
			cfg.Web.Addr = *httpAddr
		case "metrics":
			cfg.MetricsAddr = *metricsAddr
		case "pprof":
			cfg.PprofAddr = *pprofAddr
		case "record-path":
			cfg.RecordPath = *recordPath
		case "max-clients":
			cfg.MaxClients = *maxClients
		case "stun":
			cfg.STUNServers = strings.Split(*stunServers, ",")
		case "interval":
			cfg.FrameInterval = *interval
		case "jpeg-quality":
			cfg.JPEGQuality = *jpegQuality
		case "log-level":
			cfg.LogLevel = *logLevel
		case "log-color":
			cfg.LogColor = *logColor
		}
	})

	return cfg, cfg.Validate()
}

// NewServer loads the coordinate file and opens the source. Either failing
// is fatal before anything is served.
func NewServer(cfg config.Config) (*Server, error) {
	layout, err := spaces.Load(cfg.SpacesPath)
	if err != nil {
		return nil, err
	}
	logger.Info("Main", "Loaded %d spaces from %s", len(layout), cfg.SpacesPath)

	classifier, err := occupancy.New(layout, cfg.Classifier)
	if err != nil {
		return nil, err
	}

	src, err := source.Open(cfg.Source)
	if err != nil {
		classifier.Close()
		return nil, err
	}

	m := metrics.New()

	frames := webmonitor.NewFrameBroadcaster(cfg.Web.ClientBuffer, m)
	events := webmonitor.NewStateBroadcaster(m)
	webrtcSrv := webrtc.NewServer(cfg.STUNServers, cfg.MaxClients)
	rec := recorder.NewRecorder(cfg.RecordPath)
	rec.SetMetrics(m)

	runner := feed.NewRunner(src, classifier, m, cfg.FrameInterval)
	runner.SetJPEGQuality(cfg.JPEGQuality)
	runner.AddSink(frames)
	runner.AddSink(rec)
	runner.AddStateSink(events)
	runner.AddStateSink(webrtcSrv)

	web, err := webmonitor.NewServer(cfg.Web, webmonitor.Deps{
		States:   classifier,
		Spaces:   classifier.Spaces(),
		Frames:   frames,
		Events:   events,
		Recorder: rec,
		WebRTC:   webrtcSrv,
		Latency:  m,
	})
	if err != nil {
		src.Close()
		classifier.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		ctx:        ctx,
		cancel:     cancel,
		cfg:        cfg,
		metrics:    m,
		source:     src,
		classifier: classifier,
		runner:     runner,
		frames:     frames,
		events:     events,
		webrtc:     webrtcSrv,
		recorder:   rec,
		web:        web,
		httpServer: &http.Server{
			Addr:    cfg.Web.Addr,
			Handler: web.Handler(),
		},
	}, nil
}

// Start starts all server components
func (s *Server) Start() error {
	logger.Info("Main", "Starting parking monitor...")
	logger.Info("Main", "  Source: %s", s.cfg.Source)
	logger.Info("Main", "  HTTP server: %s", s.cfg.Web.Addr)
	logger.Info("Main", "  Metrics server: %s", s.cfg.MetricsAddr)
	logger.Info("Main", "  pprof server: %s", s.cfg.PprofAddr)
	logger.Info("Main", "  Recording path: %s", s.cfg.RecordPath)

	if s.cfg.PprofAddr != "" {
		go func() {
			logger.Info("Main", "Starting pprof server on %s", s.cfg.PprofAddr)
			if err := http.ListenAndServe(s.cfg.PprofAddr, nil); err != nil {
				logger.Warn("Main", "pprof server error: %v", err)
			}
		}()
	}

	if s.cfg.MetricsAddr != "" {
		go func() {
			logger.Info("Main", "Starting metrics server on %s", s.cfg.MetricsAddr)
			if err := s.metrics.StartServer(s.cfg.MetricsAddr); err != nil {
				logger.Warn("Main", "Metrics server error: %v", err)
			}
		}()
	}

	go func() {
		logger.Info("Main", "Starting HTTP server on %s", s.cfg.Web.Addr)
		if err := s.httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Main", "HTTP server error: %v", err)
		}
	}()

	s.wg.Add(2)
	go s.runFeed()
	go s.trackClients()

	logger.Info("Main", "Server started successfully")
	return nil
}

// runFeed drives the classifier until shutdown or a fatal source error.
// The last classified state stays readable after the feed ends.
func (s *Server) runFeed() {
	defer s.wg.Done()

	err := s.runner.Run(s.ctx)
	if s.ctx.Err() != nil {
		return
	}
	s.web.FeedStopped(err)
	if s.recorder.IsRecording() {
		if err := s.recorder.Stop(); err != nil {
			logger.Warn("Main", "Stop recording: %v", err)
		}
	}
}

func (s *Server) trackClients() {
	defer s.wg.Done()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.metrics.WebRTCClients.Store(uint64(s.webrtc.GetClientCount()))
		}
	}
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown() error {
	s.cancel()
	s.wg.Wait()

	// Ends open streams so the HTTP server can drain
	s.web.FeedStopped(nil)
	s.events.Close()

	if err := s.recorder.Close(); err != nil {
		logger.Warn("Main", "Close recorder: %v", err)
	}
	if err := s.webrtc.Close(); err != nil {
		logger.Warn("Main", "Close webrtc: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := s.httpServer.Shutdown(ctx)

	s.source.Close()
	s.classifier.Close()
	return err
}
