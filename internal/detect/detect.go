// Package detect is the boundary to the external object detector. The
// concrete backend is selected once at construction; when it cannot be
// reached the pipeline runs against an explicit degraded variant instead of
// probing types at runtime.
package detect

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"gatewatch/internal/config"
	"gatewatch/internal/geom"
	"gatewatch/internal/snapshot"
	"gatewatch/internal/source"
	"gatewatch/internal/tracker"
)

// Detector turns a frame into an ordered list of detections.
type Detector interface {
	Detect(ctx context.Context, frame source.Frame) ([]tracker.Detection, error)
}

// New selects the detector backend. Init failure degrades to Unavailable and
// logs, never errors: a worker with no detector still runs its loop.
func New(cfg config.DetectionConfig, log zerolog.Logger) Detector {
	if cfg.Backend != "http" || cfg.URL == "" {
		log.Info().Str("backend", cfg.Backend).Msg("detector disabled, using degraded no-op detector")
		return Unavailable{}
	}
	d := &httpDetector{
		url:           cfg.URL,
		confThreshold: cfg.ConfThreshold,
		client:        &http.Client{Timeout: cfg.Timeout},
	}
	if err := d.ping(); err != nil {
		log.Warn().Err(err).Str("url", cfg.URL).Msg("detector unavailable, using degraded no-op detector")
		return Unavailable{}
	}
	log.Info().Str("url", cfg.URL).Msg("using http detector")
	return d
}

// Unavailable is the degraded detector: no detections, no errors.
type Unavailable struct{}

func (Unavailable) Detect(context.Context, source.Frame) ([]tracker.Detection, error) {
	return nil, nil
}

// httpDetector posts the frame as JPEG to an inference service and expects
// a JSON list of {bbox:[x1,y1,x2,y2], class, confidence}.
type httpDetector struct {
	url           string
	confThreshold float64
	client        *http.Client
}

type detectionDTO struct {
	BBox       [4]float64 `json:"bbox"`
	Class      string     `json:"class"`
	Confidence float64    `json:"confidence"`
}

func (d *httpDetector) ping() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.url+"/healthz", nil)
	if err != nil {
		return err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("detector health: status %d", resp.StatusCode)
	}
	return nil
}

func (d *httpDetector) Detect(ctx context.Context, frame source.Frame) ([]tracker.Detection, error) {
	jpg, err := snapshot.Crop(frame.Image, geom.BBox{
		X1: float64(frame.Image.Bounds().Min.X),
		Y1: float64(frame.Image.Bounds().Min.Y),
		X2: float64(frame.Image.Bounds().Max.X),
		Y2: float64(frame.Image.Bounds().Max.Y),
	})
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url+"/detect", bytes.NewReader(jpg))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "image/jpeg")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("detector request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("detector: status %d", resp.StatusCode)
	}

	var dtos []detectionDTO
	if err := json.NewDecoder(resp.Body).Decode(&dtos); err != nil {
		return nil, fmt.Errorf("detector response: %w", err)
	}

	dets := make([]tracker.Detection, 0, len(dtos))
	for _, dto := range dtos {
		if dto.Confidence < d.confThreshold {
			continue
		}
		dets = append(dets, tracker.Detection{
			BBox:  geom.BBox{X1: dto.BBox[0], Y1: dto.BBox[1], X2: dto.BBox[2], Y2: dto.BBox[3]},
			Class: dto.Class,
			Conf:  dto.Confidence,
		})
	}
	return dets, nil
}
