// Package geometry extracts core and cladding regions and the mode field
// diameter from fiber end-face images.
package geometry

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"
	"sort"

	"github.com/anthonynsimon/bild/blur"
	"github.com/anthonynsimon/bild/effect"

	"github.com/FakeCoder01/fiber-characterization-system/internal/fiberr"
	"github.com/FakeCoder01/fiber-characterization-system/internal/monitoring"
)

// ErrImplausibleGeometry is returned when plausibility checking is enabled and
// the core is not smaller than the cladding.
var ErrImplausibleGeometry = errors.New("implausible fiber geometry")

// Point is a sub-pixel image coordinate.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Region is one segmented component.
type Region struct {
	// Area is the pixel count including enclosed holes.
	Area int `json:"area"`
	// Diameter is the equivalent-circle diameter sqrt(4·Area/π) in pixels.
	Diameter float64 `json:"diameter"`
	Centroid Point   `json:"centroid"`
	// Orientation is the major-axis angle in radians from the x axis.
	Orientation float64 `json:"orientation"`
}

// Geometry is the result of Analyze.
type Geometry struct {
	Core     Region `json:"core"`
	Cladding Region `json:"cladding"`
	// MFD is twice the fitted core radius in pixels.
	MFD float64 `json:"mfd"`
	// Profile is the normalized centre-row intensity the MFD was fit to.
	Profile []float64 `json:"profile"`
	// Index holds the fitted n_core, n_clad, r_core and alpha.
	Index []float64 `json:"index"`
}

// Options tunes the segmentation pipeline.
type Options struct {
	MedianRadius      float64
	ThresholdRadius   float64
	ThresholdOffset   float64
	OpeningRadius     float64
	MinArea           int
	CheckPlausibility bool
}

// DefaultOptions returns the pipeline parameters used by the daemon.
func DefaultOptions() Options {
	return Options{
		MedianRadius:    5,
		ThresholdRadius: 5,
		ThresholdOffset: 2,
		OpeningRadius:   2,
		MinArea:         100,
	}
}

// Analyze segments img and fits its mode field diameter.
func Analyze(img image.Image, opts Options) (Geometry, error) {
	core, cladding, err := Segment(img, opts)
	if err != nil {
		return Geometry{}, err
	}
	mfd, err := MFD(img)
	if err != nil {
		return Geometry{}, err
	}
	return Geometry{
		Core:     core,
		Cladding: cladding,
		MFD:      mfd.Diameter,
		Profile:  mfd.Profile,
		Index:    mfd.Fit.Params,
	}, nil
}

// Segment returns the two largest interior components of img ranked by area.
// The larger is reported as the cladding.
func Segment(img image.Image, opts Options) (core, cladding Region, err error) {
	b := img.Bounds()
	if b.Empty() {
		return Region{}, Region{}, fmt.Errorf("segment empty image: %w", fiberr.ErrGeometryNotFound)
	}

	smoothed := smooth(img, opts.MedianRadius)
	var mean image.Image = blur.Box(smoothed, opts.ThresholdRadius)

	w, h := b.Dx(), b.Dy()
	sp := luminance(smoothed)
	mp := luminance(mean)
	mask := image.NewGray(image.Rect(0, 0, w, h))
	for i := range sp {
		if float64(sp[i]) > float64(mp[i])-opts.ThresholdOffset {
			mask.Pix[i] = 0xff
		}
	}

	var opened image.Image = mask
	if opts.OpeningRadius > 0 {
		var eroded image.Image = effect.Erode(mask, opts.OpeningRadius)
		opened = effect.Dilate(eroded, opts.OpeningRadius)
	}

	fg := make([]bool, w*h)
	for i, v := range luminance(opened) {
		fg[i] = v >= 0x80
	}

	var regions []Region
	for _, c := range label(fg, w, h) {
		if c.touchesBorder {
			continue
		}
		pixels := fillHoles(c, w)
		if len(pixels) <= opts.MinArea {
			continue
		}
		regions = append(regions, describe(pixels, w))
	}
	if len(regions) < 2 {
		return Region{}, Region{}, fmt.Errorf("segment: %d regions above %d px: %w", len(regions), opts.MinArea, fiberr.ErrGeometryNotFound)
	}

	sort.SliceStable(regions, func(i, j int) bool { return regions[i].Area > regions[j].Area })
	cladding, core = regions[0], regions[1]
	if opts.CheckPlausibility && !plausible(core, cladding) {
		return Region{}, Region{}, fmt.Errorf("core %.1f px, cladding %.1f px: %w: %w", core.Diameter, cladding.Diameter, fiberr.ErrGeometryNotFound, ErrImplausibleGeometry)
	}
	monitoring.Logf("geometry: core %.1f px, cladding %.1f px (%d candidate regions)", core.Diameter, cladding.Diameter, len(regions))
	return core, cladding, nil
}

// plausible reports whether core is smaller than cladding and centred inside it.
func plausible(core, cladding Region) bool {
	if core.Diameter >= cladding.Diameter {
		return false
	}
	offset := math.Hypot(core.Centroid.X-cladding.Centroid.X, core.Centroid.Y-cladding.Centroid.Y)
	return offset+core.Diameter/2 <= cladding.Diameter/2
}

// smooth converts img to grayscale and applies a median filter.
func smooth(img image.Image, radius float64) image.Image {
	var gray image.Image = effect.Grayscale(img)
	if radius <= 0 {
		return gray
	}
	return effect.Median(gray, radius)
}

// luminance returns the row-major 8-bit luma of img, origin at its bounds'
// minimum point.
func luminance(img image.Image) []uint8 {
	b := img.Bounds()
	w := b.Dx()
	out := make([]uint8, w*b.Dy())
	if g, ok := img.(*image.Gray); ok && g.Stride == w && b.Min == (image.Point{}) {
		copy(out, g.Pix)
		return out
	}
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			out[(y-b.Min.Y)*w+(x-b.Min.X)] = color.GrayModel.Convert(img.At(x, y)).(color.Gray).Y
		}
	}
	return out
}

func describe(pixels []int, w int) Region {
	n := float64(len(pixels))
	var sx, sy float64
	for _, p := range pixels {
		sx += float64(p % w)
		sy += float64(p / w)
	}
	cx, cy := sx/n, sy/n

	var mu20, mu02, mu11 float64
	for _, p := range pixels {
		dx := float64(p%w) - cx
		dy := float64(p/w) - cy
		mu20 += dx * dx
		mu02 += dy * dy
		mu11 += dx * dy
	}

	return Region{
		Area:        len(pixels),
		Diameter:    math.Sqrt(4 * n / math.Pi),
		Centroid:    Point{X: cx, Y: cy},
		Orientation: 0.5 * math.Atan2(2*mu11, mu20-mu02),
	}
}
