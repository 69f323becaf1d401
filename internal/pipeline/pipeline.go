// Package pipeline runs the per-camera loop that turns frames into
// deduplicated, directional vehicle crossing events: detect, track, evaluate
// the crossing per track, debounce, enrich, persist, hand off to dispatch.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"gatewatch/internal/config"
	"gatewatch/internal/detect"
	"gatewatch/internal/domain/vehicle"
	"gatewatch/internal/geom"
	"gatewatch/internal/identify"
	"gatewatch/internal/material"
	"gatewatch/internal/metrics"
	"gatewatch/internal/snapshot"
	"gatewatch/internal/source"
	"gatewatch/internal/storage"
	"gatewatch/internal/tracker"
	"gatewatch/internal/utils"
)

// Camera is the per-stream identity the pipeline runs for.
type Camera struct {
	ID              int64
	GateID          int64
	GateName        string
	Name            string
	SourceURL       string
	InvertDirection bool
}

// EventStore persists crossing events. A failed write is fatal to the event
// and to the camera task: losing an event is a correctness defect.
type EventStore interface {
	CreateEvent(ctx context.Context, event *vehicle.Event) error
}

// CameraStore records stream liveness; optional.
type CameraStore interface {
	UpdateLastSeen(ctx context.Context, cameraID int64, at time.Time) error
}

// Dispatcher receives persisted events for notification fan-out. The call
// must not block the frame loop.
type Dispatcher interface {
	Dispatch(ev vehicle.Event)
}

// Deps are the pipeline's collaborators, injected at construction.
type Deps struct {
	Source     source.FrameSource
	Detector   detect.Detector
	Identifier identify.Identifier
	Estimator  material.Estimator
	Blobs      storage.BlobStore
	Events     EventStore
	Cameras    CameraStore
	Dispatcher Dispatcher
	Metrics    *metrics.Metrics
	Log        zerolog.Logger
	Now        func() time.Time // test hook, defaults to time.Now
}

// crossingState is the pipeline-owned policy state for one track, linked to
// the tracker's identity only by id.
type crossingState struct {
	lastPos  geom.Point
	hasPrev  bool
	inside   bool
	lastEmit time.Time
	hasEmit  bool
}

type Pipeline struct {
	cam       Camera
	roi       *geom.ROI
	cfg       config.PipelineConfig
	identMode identify.Mode

	deps    Deps
	tracker *tracker.Tracker
	states  map[int64]*crossingState
	now     func() time.Time
	log     zerolog.Logger

	lastSeenTouch time.Time
}

func New(cam Camera, roi *geom.ROI, cfg config.PipelineConfig, identMode identify.Mode, deps Deps) *Pipeline {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	if cfg.EventDebounce <= 0 {
		cfg.EventDebounce = 2 * time.Second
	}
	return &Pipeline{
		cam:       cam,
		roi:       roi,
		cfg:       cfg,
		identMode: identMode,
		deps:      deps,
		tracker:   tracker.New(cfg.IOUThreshold, cfg.MaxTrackAge),
		states:    make(map[int64]*crossingState),
		now:       now,
		log: deps.Log.With().
			Int64("camera_id", cam.ID).
			Int64("gate_id", cam.GateID).
			Logger(),
	}
}

// Run consumes the stream until the context is cancelled or a fatal error
// occurs. End-of-stream is a loop-back with capped backoff, not termination.
func (p *Pipeline) Run(ctx context.Context) error {
	defer p.deps.Source.Close()

	backoffMin := p.cfg.RestartBackoffMin
	if backoffMin <= 0 {
		backoffMin = 200 * time.Millisecond
	}
	backoffMax := p.cfg.RestartBackoffMax
	if backoffMax < backoffMin {
		backoffMax = time.Second
	}
	maxErrors := p.cfg.MaxConsecutiveErrors
	if maxErrors <= 0 {
		maxErrors = 30
	}

	backoff := backoffMin
	consecutive := 0

	for {
		if ctx.Err() != nil {
			return nil
		}

		frame, err := p.deps.Source.Read(ctx)
		switch {
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return nil
		case errors.Is(err, source.ErrEndOfStream):
			if rerr := p.deps.Source.Reset(); rerr != nil {
				consecutive++
				p.deps.Metrics.IncStreamError(p.cam.ID)
				p.log.Warn().Err(rerr).Msg("stream reset failed")
				if consecutive > maxErrors {
					return fmt.Errorf("camera %d: stream restart exhausted: %w", p.cam.ID, rerr)
				}
			}
			if !p.sleep(ctx, backoff) {
				return nil
			}
			backoff = nextBackoff(backoff, backoffMax)
			continue
		case err != nil:
			consecutive++
			p.deps.Metrics.IncStreamError(p.cam.ID)
			p.log.Warn().Err(err).Int("consecutive", consecutive).Msg("frame read failed")
			if consecutive > maxErrors {
				return fmt.Errorf("camera %d: stream failing repeatedly: %w", p.cam.ID, err)
			}
			if !p.sleep(ctx, backoff) {
				return nil
			}
			backoff = nextBackoff(backoff, backoffMax)
			continue
		}

		consecutive = 0
		backoff = backoffMin

		if err := p.ProcessFrame(ctx, frame); err != nil {
			return err
		}
		p.touchLastSeen(ctx)

		if p.cfg.FrameInterval > 0 && !p.sleep(ctx, p.cfg.FrameInterval) {
			return nil
		}
	}
}

// nextBackoff doubles the restart delay up to the configured cap.
func nextBackoff(cur, max time.Duration) time.Duration {
	cur *= 2
	if cur > max {
		return max
	}
	return cur
}

func (p *Pipeline) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

// ProcessFrame runs one detect-track-evaluate step. Only a persistence
// failure propagates.
func (p *Pipeline) ProcessFrame(ctx context.Context, frame source.Frame) error {
	dets, err := p.deps.Detector.Detect(ctx, frame)
	if err != nil {
		// degraded frame: no detections this round, tracks age naturally
		p.log.Warn().Err(err).Int("frame", frame.Index).Msg("detection failed")
		dets = nil
	}

	tracks := p.tracker.Update(dets)

	// crossing state follows tracker eviction
	active := p.tracker.ActiveIDs()
	for id := range p.states {
		if _, ok := active[id]; !ok {
			delete(p.states, id)
		}
	}

	for _, trk := range tracks {
		if err := p.evaluateTrack(ctx, frame, trk); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) evaluateTrack(ctx context.Context, frame source.Frame, trk tracker.Track) error {
	centroid := trk.BBox.Center()

	st := p.states[trk.ID]
	if st == nil {
		st = &crossingState{}
		p.states[trk.ID] = st
	}

	wasInside := st.inside
	prev := st.lastPos
	hasPrev := st.hasPrev

	nowInside := p.roi.Inside(centroid)
	midCross := hasPrev && p.roi.CrossedMidline(prev, centroid)
	entered := !wasInside && nowInside

	st.lastPos = centroid
	st.hasPrev = true
	st.inside = nowInside

	// either trigger is one logical crossing, both firing at once still is
	if !midCross && !entered {
		return nil
	}

	now := p.now()
	if st.hasEmit && now.Sub(st.lastEmit) < p.cfg.EventDebounce {
		return nil
	}
	st.lastEmit = now
	st.hasEmit = true

	direction := vehicle.DirectionEntry
	if hasPrev {
		direction = geom.DirectionOf(prev, centroid, p.roi, p.cam.InvertDirection)
	}

	return p.emit(ctx, frame, trk, direction, now)
}

// emit builds, persists and hands off one event. Enrichment failures degrade
// to empty fields; the persistence write is the only fatal step.
func (p *Pipeline) emit(ctx context.Context, frame source.Frame, trk tracker.Track, direction vehicle.Direction, now time.Time) error {
	ev := vehicle.Event{
		UUID:        uuid.New(),
		GateID:      p.cam.GateID,
		CameraID:    p.cam.ID,
		TrackID:     trk.ID,
		Direction:   direction,
		VehicleType: vehicle.TypeFromClass(trk.Class),
		Confidence:  trk.Conf,
		Timestamp:   now,
		GateName:    p.cam.GateName,
		CameraName:  p.cam.Name,
	}

	if annotated, err := snapshot.Annotate(frame.Image, trk.BBox); err != nil {
		p.log.Warn().Err(err).Msg("snapshot encode failed")
	} else if url, err := p.deps.Blobs.Upload(ctx, ev.UUID.String()+".jpg", "image/jpeg", annotated); err != nil {
		p.log.Warn().Err(err).Msg("snapshot upload failed")
	} else {
		ev.SnapshotURL = &url
	}

	crop, err := snapshot.Crop(frame.Image, trk.BBox)
	if err != nil {
		p.log.Warn().Err(err).Msg("crop encode failed")
	}
	if len(crop) > 0 {
		res, err := p.deps.Identifier.Identify(ctx, crop, p.identMode)
		if err != nil {
			p.log.Warn().Err(err).Int64("track_id", trk.ID).Msg("identification failed")
		} else {
			if res.Plate != nil {
				if normalized := utils.NormalizePlate(*res.Plate); normalized != "" {
					ev.Plate = &normalized
				}
			}
			ev.Barcode = res.Barcode
		}

		if url, err := p.deps.Blobs.Upload(ctx, "load_"+ev.UUID.String()+".jpg", "image/jpeg", crop); err != nil {
			p.log.Warn().Err(err).Msg("load crop upload failed")
		} else {
			ev.LoadCropURL = &url
		}
	}

	if cropImg := snapshot.CropImage(frame.Image, trk.BBox); cropImg != nil {
		est, err := p.deps.Estimator.Estimate(ctx, cropImg)
		if err != nil {
			if !errors.Is(err, material.ErrUnavailable) {
				p.log.Warn().Err(err).Int64("track_id", trk.ID).Msg("material estimation failed")
			}
		} else {
			ev.MaterialType = &est.MaterialType
			ev.MaterialConfidence = &est.MaterialConfidence
			ev.LoadPercentage = &est.LoadPercentage
			ev.LoadLabel = &est.LoadLabel
		}
	}

	if err := p.deps.Events.CreateEvent(ctx, &ev); err != nil {
		return fmt.Errorf("persist event for camera %d track %d: %w", p.cam.ID, trk.ID, err)
	}

	p.deps.Metrics.IncEvent(ev.GateID, string(ev.VehicleType), string(ev.Direction))
	p.log.Info().
		Int64("event_id", ev.ID).
		Int64("track_id", trk.ID).
		Str("direction", string(ev.Direction)).
		Str("vehicle_type", string(ev.VehicleType)).
		Float64("confidence", ev.Confidence).
		Msg("crossing event persisted")

	p.deps.Dispatcher.Dispatch(ev)
	return nil
}

func (p *Pipeline) touchLastSeen(ctx context.Context) {
	if p.deps.Cameras == nil {
		return
	}
	now := p.now()
	if now.Sub(p.lastSeenTouch) < time.Minute {
		return
	}
	p.lastSeenTouch = now
	if err := p.deps.Cameras.UpdateLastSeen(ctx, p.cam.ID, now); err != nil {
		p.log.Warn().Err(err).Msg("last_seen update failed")
	}
}
