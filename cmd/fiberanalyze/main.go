// Command fiberanalyze runs the geometry and signal analyzers offline on an
// end-face image or a CSV power series and prints the result as JSON.
//
// Usage:
//
//	fiberanalyze -mode geometry -image face.png
//	fiberanalyze -mode attenuation -csv cutback.csv -x 0 -y 1
//	fiberanalyze -mode dispersion -csv trace.csv -y 1 -rate 1000
//	fiberanalyze -mode noise -csv trace.csv -y 1 -window 51
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"go.uber.org/zap"

	"github.com/FakeCoder01/fiber-characterization-system/internal/geometry"
	"github.com/FakeCoder01/fiber-characterization-system/internal/monitoring"
	"github.com/FakeCoder01/fiber-characterization-system/internal/signal"
	"github.com/FakeCoder01/fiber-characterization-system/internal/units"
	"github.com/FakeCoder01/fiber-characterization-system/internal/version"
)

var (
	mode         = flag.String("mode", "geometry", "Analysis: geometry, attenuation, dispersion or noise")
	imagePath    = flag.String("image", "", "End-face image for geometry mode")
	csvPath      = flag.String("csv", "", "CSV series for signal modes (- for stdin)")
	xCol         = flag.Int("x", 0, "CSV column holding distances (attenuation)")
	yCol         = flag.Int("y", 1, "CSV column holding powers")
	dbm          = flag.Bool("dbm", false, "Powers are in dBm and are converted to mW first")
	rate         = flag.Float64("rate", 1000, "Sampling rate in Hz (dispersion)")
	window       = flag.Int("window", 51, "Savitzky-Golay window (noise)")
	minArea      = flag.Int("min-area", geometry.DefaultOptions().MinArea, "Minimum region area in pixels (geometry)")
	plausibility = flag.Bool("check-plausibility", false, "Reject a core that is not smaller than the cladding (geometry)")
	verbose      = flag.Bool("v", false, "Log pipeline diagnostics to stderr")
	showVer      = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()
	if *showVer {
		fmt.Println("fiberanalyze", version.String())
		return
	}

	if *verbose {
		logger, err := zap.NewDevelopment()
		if err != nil {
			log.Fatalf("failed to create logger: %v", err)
		}
		defer logger.Sync()
		monitoring.UseZap(logger)
	} else {
		monitoring.SetLogger(nil)
	}

	result, err := analyze(*mode)
	if err != nil {
		log.Fatalf("%s: %v", *mode, err)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		log.Fatalf("failed to encode result: %v", err)
	}
}

func analyze(mode string) (any, error) {
	switch mode {
	case "geometry":
		if *imagePath == "" {
			return nil, fmt.Errorf("-image is required")
		}
		img, err := geometry.Load(*imagePath)
		if err != nil {
			return nil, err
		}
		opts := geometry.DefaultOptions()
		opts.MinArea = *minArea
		opts.CheckPlausibility = *plausibility
		return geometry.Analyze(img, opts)

	case "attenuation":
		cols, err := loadColumns(*xCol, *yCol)
		if err != nil {
			return nil, err
		}
		return signal.Attenuation(powers(cols[1]), cols[0])

	case "dispersion":
		cols, err := loadColumns(*yCol)
		if err != nil {
			return nil, err
		}
		return signal.Dispersion(powers(cols[0]), *rate)

	case "noise":
		cols, err := loadColumns(*yCol)
		if err != nil {
			return nil, err
		}
		return signal.NoiseSNR(powers(cols[0]), *window)

	default:
		return nil, fmt.Errorf("unknown mode %q", mode)
	}
}

func powers(v []float64) []float64 {
	if *dbm {
		return units.DBmToMilliwattSlice(v)
	}
	return v
}

func loadColumns(cols ...int) ([][]float64, error) {
	if *csvPath == "" {
		return nil, fmt.Errorf("-csv is required")
	}
	var r io.Reader = os.Stdin
	if *csvPath != "-" {
		f, err := os.Open(*csvPath)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}
	return readColumns(r, cols...)
}
