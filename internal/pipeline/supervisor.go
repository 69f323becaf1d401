package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"gatewatch/internal/config"
	"gatewatch/internal/detect"
	"gatewatch/internal/geom"
	"gatewatch/internal/identify"
	"gatewatch/internal/material"
	"gatewatch/internal/metrics"
	"gatewatch/internal/repository"
	"gatewatch/internal/source"
	"gatewatch/internal/storage"
)

var (
	// ErrNoROI marks a camera with no configured crossing region; its task
	// exits cleanly without consuming the stream.
	ErrNoROI = errors.New("no roi configured")
	// ErrSourceUnavailable marks a stream that could not be opened at all.
	ErrSourceUnavailable = errors.New("source unavailable")
)

// CameraRegistry lists the cameras to run and their crossing regions.
type CameraRegistry interface {
	ListActiveCameras(ctx context.Context) ([]repository.ActiveCamera, error)
	GetROI(ctx context.Context, gateID, cameraID int64) (*geom.ROI, error)
	UpdateLastSeen(ctx context.Context, cameraID int64, at time.Time) error
}

// Supervisor starts one pipeline goroutine per active camera and waits for
// all of them. A camera whose stream cannot be opened or that has no ROI is
// skipped; the rest keep running.
type Supervisor struct {
	registry   CameraRegistry
	detector   detect.Detector
	identifier identify.Identifier
	estimator  material.Estimator
	blobs      storage.BlobStore
	events     EventStore
	dispatcher Dispatcher
	m          *metrics.Metrics
	cfg        config.PipelineConfig
	identMode  identify.Mode
	log        zerolog.Logger
}

func NewSupervisor(
	registry CameraRegistry,
	detector detect.Detector,
	identifier identify.Identifier,
	estimator material.Estimator,
	blobs storage.BlobStore,
	events EventStore,
	dispatcher Dispatcher,
	m *metrics.Metrics,
	cfg config.PipelineConfig,
	identMode identify.Mode,
	log zerolog.Logger,
) *Supervisor {
	return &Supervisor{
		registry:   registry,
		detector:   detector,
		identifier: identifier,
		estimator:  estimator,
		blobs:      blobs,
		events:     events,
		dispatcher: dispatcher,
		m:          m,
		cfg:        cfg,
		identMode:  identMode,
		log:        log,
	}
}

func (s *Supervisor) Run(ctx context.Context) error {
	cams, err := s.registry.ListActiveCameras(ctx)
	if err != nil {
		return fmt.Errorf("list active cameras: %w", err)
	}
	if len(cams) == 0 {
		s.log.Warn().Msg("no active cameras configured")
		return nil
	}

	var wg sync.WaitGroup
	started := 0
	for _, cam := range cams {
		p, err := s.prepare(ctx, cam)
		switch {
		case errors.Is(err, ErrNoROI):
			s.log.Info().
				Int64("camera_id", cam.ID).
				Int64("gate_id", cam.GateID).
				Msg("camera has no roi configured, skipping")
			continue
		case errors.Is(err, ErrSourceUnavailable):
			s.m.IncStreamError(cam.ID)
			s.log.Error().Err(err).
				Int64("camera_id", cam.ID).
				Str("source_url", cam.SourceURL).
				Msg("open stream failed")
			continue
		case err != nil:
			s.log.Error().Err(err).Int64("camera_id", cam.ID).Msg("camera setup failed")
			continue
		}

		started++
		wg.Add(1)
		go func(camID int64) {
			defer wg.Done()
			if err := p.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.m.IncStreamError(camID)
				s.log.Error().Err(err).Int64("camera_id", camID).Msg("camera pipeline terminated")
			}
		}(cam.ID)
	}

	s.log.Info().Int("cameras", started).Msg("pipelines started")
	wg.Wait()
	return nil
}

// prepare resolves a camera's crossing region and opens its stream.
func (s *Supervisor) prepare(ctx context.Context, cam repository.ActiveCamera) (*Pipeline, error) {
	roi, err := s.registry.GetROI(ctx, cam.GateID, cam.ID)
	if err != nil {
		return nil, fmt.Errorf("load roi for camera %d: %w", cam.ID, err)
	}
	if roi == nil {
		return nil, fmt.Errorf("%w: camera %d", ErrNoROI, cam.ID)
	}

	src, err := source.Open(cam.SourceURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}

	return New(Camera{
		ID:              cam.ID,
		GateID:          cam.GateID,
		GateName:        cam.GateName,
		Name:            cam.Name,
		SourceURL:       cam.SourceURL,
		InvertDirection: cam.InvertDirection,
	}, roi, s.cfg, s.identMode, Deps{
		Source:     src,
		Detector:   s.detector,
		Identifier: s.identifier,
		Estimator:  s.estimator,
		Blobs:      s.blobs,
		Events:     s.events,
		Cameras:    s.registry,
		Dispatcher: s.dispatcher,
		Metrics:    s.m,
		Log:        s.log,
	}), nil
}
