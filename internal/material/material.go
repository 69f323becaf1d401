// Package material estimates what a vehicle carries and how full it is.
// The real classifier runs behind an HTTP model service; the deterministic
// variant derives stable pseudo-estimates from pixel statistics so the
// pipeline can be exercised end to end without a model.
package material

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"math"
	"net/http"

	"github.com/rs/zerolog"

	"gatewatch/internal/config"
)

// Load labels with their percentage thresholds.
const (
	LoadEmpty   = "Empty"
	LoadPartial = "Partial"
	LoadHalf    = "Half"
	LoadFull    = "Full"
)

// LoadLabelFor maps a load percentage onto its label: <25 Empty, <50 Partial,
// <75 Half, else Full.
func LoadLabelFor(pct float64) string {
	switch {
	case pct < 25:
		return LoadEmpty
	case pct < 50:
		return LoadPartial
	case pct < 75:
		return LoadHalf
	default:
		return LoadFull
	}
}

// Estimate is a material classification plus load estimate for one crop.
type Estimate struct {
	MaterialType       string  `json:"material_type"`
	MaterialConfidence float64 `json:"material_confidence"`
	LoadPercentage     float64 `json:"load_percentage"`
	LoadLabel          string  `json:"load_label"`
}

type Estimator interface {
	Estimate(ctx context.Context, crop image.Image) (Estimate, error)
}

// New selects the estimator backend.
func New(cfg config.MaterialConfig, log zerolog.Logger) Estimator {
	switch cfg.Backend {
	case "http":
		if cfg.URL != "" {
			log.Info().Str("url", cfg.URL).Msg("using http material estimator")
			return &httpEstimator{url: cfg.URL, client: &http.Client{Timeout: cfg.Timeout}}
		}
		log.Warn().Msg("material backend http without url, falling back to deterministic estimator")
		return Deterministic{}
	case "none":
		log.Info().Msg("material estimation disabled")
		return Unavailable{}
	default:
		log.Info().Msg("using deterministic material estimator")
		return Deterministic{}
	}
}

// ErrUnavailable marks the explicit no-capability variant.
var ErrUnavailable = fmt.Errorf("material estimation unavailable")

type Unavailable struct{}

func (Unavailable) Estimate(context.Context, image.Image) (Estimate, error) {
	return Estimate{}, ErrUnavailable
}

var materials = []string{"sand", "soil", "stone", "debris"}

// Deterministic derives the material from the mean pixel value and the load
// percentage from mean brightness, so identical crops always yield identical
// estimates.
type Deterministic struct{}

func (Deterministic) Estimate(_ context.Context, crop image.Image) (Estimate, error) {
	if crop == nil || crop.Bounds().Empty() {
		return Estimate{}, fmt.Errorf("empty crop")
	}
	meanRGB, meanGray := pixelMeans(crop)

	idx := int(meanRGB) % len(materials)
	conf := math.Min(1.0, 0.55+math.Mod(meanRGB, 45)/100.0)

	pct := meanGray / 255.0 * 100.0
	pct = math.Max(0, math.Min(100, pct))

	return Estimate{
		MaterialType:       materials[idx],
		MaterialConfidence: conf,
		LoadPercentage:     pct,
		LoadLabel:          LoadLabelFor(pct),
	}, nil
}

func pixelMeans(img image.Image) (meanRGB, meanGray float64) {
	b := img.Bounds()
	var sumRGB, sumGray float64
	n := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bb, _ := img.At(x, y).RGBA()
			r8, g8, b8 := float64(r>>8), float64(g>>8), float64(bb>>8)
			sumRGB += (r8 + g8 + b8) / 3
			sumGray += 0.299*r8 + 0.587*g8 + 0.114*b8
			n++
		}
	}
	if n == 0 {
		return 0, 0
	}
	return sumRGB / float64(n), sumGray / float64(n)
}

func encodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type httpEstimator struct {
	url    string
	client *http.Client
}

func (e *httpEstimator) Estimate(ctx context.Context, crop image.Image) (Estimate, error) {
	if crop == nil || crop.Bounds().Empty() {
		return Estimate{}, fmt.Errorf("empty crop")
	}
	jpg, err := encodeJPEG(crop)
	if err != nil {
		return Estimate{}, fmt.Errorf("encode crop: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url+"/estimate", bytes.NewReader(jpg))
	if err != nil {
		return Estimate{}, err
	}
	req.Header.Set("Content-Type", "image/jpeg")

	resp, err := e.client.Do(req)
	if err != nil {
		return Estimate{}, fmt.Errorf("material request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Estimate{}, fmt.Errorf("material: status %d", resp.StatusCode)
	}

	var est Estimate
	if err := json.NewDecoder(resp.Body).Decode(&est); err != nil {
		return Estimate{}, fmt.Errorf("material response: %w", err)
	}
	if est.LoadLabel == "" {
		est.LoadLabel = LoadLabelFor(est.LoadPercentage)
	}
	return est, nil
}
