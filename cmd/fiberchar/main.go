// Command fiberchar runs the fiber characterization daemon: continuous
// power/wavelength acquisition, an HTTP API, and on-demand full
// characterization runs persisted to sqlite.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/FakeCoder01/fiber-characterization-system/internal/acquisition"
	"github.com/FakeCoder01/fiber-characterization-system/internal/api"
	"github.com/FakeCoder01/fiber-characterization-system/internal/characterize"
	"github.com/FakeCoder01/fiber-characterization-system/internal/config"
	"github.com/FakeCoder01/fiber-characterization-system/internal/db"
	"github.com/FakeCoder01/fiber-characterization-system/internal/instrument"
	"github.com/FakeCoder01/fiber-characterization-system/internal/instrument/sim"
	"github.com/FakeCoder01/fiber-characterization-system/internal/monitoring"
	"github.com/FakeCoder01/fiber-characterization-system/internal/stage"
	"github.com/FakeCoder01/fiber-characterization-system/internal/stream"
	"github.com/FakeCoder01/fiber-characterization-system/internal/version"
)

var (
	configPath = flag.String("config", "", "Path to a .yaml or .json config file (defaults apply when empty)")
	devMode    = flag.Bool("dev", false, "Use a simulated laser, detector and stage instead of serial hardware")
	listen     = flag.String("listen", "", "Listen address (overrides config)")
	dbPath     = flag.String("db", "", "SQLite database path (overrides config)")
	debug      = flag.Bool("debug", false, "Human-readable development logging")
	showVer    = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()
	if *showVer {
		fmt.Println("fiberchar", version.String())
		return
	}

	logger, err := newLogger(*debug)
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	defer logger.Sync()
	monitoring.UseZap(logger)
	logger.Info("fiberchar starting", zap.String("version", version.String()), zap.Bool("dev", *devMode))

	cfg := config.Empty()
	if *configPath != "" {
		if cfg, err = config.Load(*configPath); err != nil {
			logger.Fatal("failed to load config", zap.Error(err))
		}
	}
	if *listen != "" {
		cfg.Listen = listen
	}
	if *dbPath != "" {
		cfg.Database.Path = dbPath
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *devMode); err != nil {
		logger.Fatal("fiberchar stopped", zap.Error(err))
	}
	logger.Info("fiberchar stopped")
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// hardware is the bench the daemon drives.
type hardware struct {
	laser    instrument.Laser
	detector instrument.Detector
	mover    stage.Mover
	close    func()
}

func openHardware(cfg *config.Config, dev bool) (*hardware, error) {
	if dev {
		bench := sim.NewBench(uint64(time.Now().UnixNano()))
		bench.NoiseStdDev = 0.01
		bench.Optimum = stage.Position{X: 0.3, Y: -0.2}
		return &hardware{laser: bench, detector: bench, mover: bench, close: func() {}}, nil
	}

	laserConn, err := instrument.OpenSerial(cfg.GetLaserAddress(), cfg.GetLaserPort())
	if err != nil {
		return nil, fmt.Errorf("laser: %w", err)
	}
	detectorConn, err := instrument.OpenSerial(cfg.GetDetectorAddress(), cfg.GetDetectorPort())
	if err != nil {
		laserConn.Close()
		return nil, fmt.Errorf("detector: %w", err)
	}
	return &hardware{
		laser:    instrument.NewSerialLaser(laserConn),
		detector: instrument.NewSerialDetector(detectorConn),
		close: func() {
			laserConn.Close()
			detectorConn.Close()
		},
	}, nil
}

func run(ctx context.Context, cfg *config.Config, dev bool) error {
	hw, err := openHardware(cfg, dev)
	if err != nil {
		return err
	}
	defer hw.close()

	if err := hw.laser.EnableOutput(true); err != nil {
		return fmt.Errorf("enable laser output: %w", err)
	}
	defer func() {
		if err := hw.laser.EnableOutput(false); err != nil {
			monitoring.Logf("failed to disable laser output: %v", err)
		}
	}()

	database, err := db.NewDB(cfg.GetDatabasePath())
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer database.Close()

	opts := []stage.Option{stage.WithSettle(cfg.GetSweepSettle(), cfg.GetAlignmentSettle())}
	if hw.mover != nil {
		opts = append(opts, stage.WithMover(hw.mover))
	}
	session := stage.NewSession(hw.laser, hw.detector, opts...)

	samples := stream.New(cfg.GetBufferSize())
	scheduler := acquisition.NewScheduler(hw.laser, hw.detector, samples)
	if err := scheduler.Start(cfg.GetInterval()); err != nil {
		return fmt.Errorf("start acquisition: %w", err)
	}

	orchestrator := characterize.New(session, database, cfg)
	apiServer := api.NewServer(samples, session, orchestrator, database)
	apiServer.ImageRoot = cfg.GetImageDir()
	if apiServer.ImageRoot == "" {
		monitoring.Logf("images.dir not set: characterization requests with image_path will be rejected")
	}
	server := &http.Server{
		Addr:              cfg.GetListen(),
		Handler:           api.LoggingMiddleware(apiServer.ServeMux()),
		ReadHeaderTimeout: 10 * time.Second,
	}

	var wg sync.WaitGroup
	serveErr := make(chan error, 1)

	wg.Add(1)
	go func() {
		defer wg.Done()
		monitoring.Logf("listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	// report acquisition failure; the API keeps serving stored measurements
	wg.Add(1)
	go func() {
		defer wg.Done()
		select {
		case <-scheduler.Done():
			if err := scheduler.Err(); err != nil {
				monitoring.Logf("acquisition stopped: %v", err)
			}
		case <-ctx.Done():
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-serveErr:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		monitoring.Logf("HTTP server shutdown error: %v", err)
	}
	if err := scheduler.Stop(); err != nil {
		monitoring.Logf("acquisition ended with: %v", err)
	}
	samples.Close()
	wg.Wait()
	return runErr
}
