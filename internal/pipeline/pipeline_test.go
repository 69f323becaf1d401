package pipeline

import (
	"context"
	"fmt"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gatewatch/internal/config"
	"gatewatch/internal/domain/vehicle"
	"gatewatch/internal/geom"
	"gatewatch/internal/identify"
	"gatewatch/internal/material"
	"gatewatch/internal/metrics"
	"gatewatch/internal/source"
	"gatewatch/internal/tracker"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type scriptedDetector struct {
	steps [][]tracker.Detection
	i     int
	err   error
}

func (d *scriptedDetector) Detect(context.Context, source.Frame) ([]tracker.Detection, error) {
	if d.err != nil {
		return nil, d.err
	}
	if d.i >= len(d.steps) {
		return nil, nil
	}
	s := d.steps[d.i]
	d.i++
	return s, nil
}

type memEventStore struct {
	mu     sync.Mutex
	events []vehicle.Event
	err    error
}

func (s *memEventStore) CreateEvent(_ context.Context, ev *vehicle.Event) error {
	if s.err != nil {
		return s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ev.ID = int64(len(s.events) + 1)
	s.events = append(s.events, *ev)
	return nil
}

func (s *memEventStore) all() []vehicle.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]vehicle.Event, len(s.events))
	copy(out, s.events)
	return out
}

type recordingDispatcher struct {
	mu     sync.Mutex
	events []vehicle.Event
}

func (d *recordingDispatcher) Dispatch(ev vehicle.Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, ev)
}

type fakeBlobs struct {
	err error
}

func (b *fakeBlobs) Upload(_ context.Context, objectName, _ string, _ []byte) (string, error) {
	if b.err != nil {
		return "", b.err
	}
	return "http://blobs.local/events/" + objectName, nil
}

type fakeIdentifier struct {
	plate string
	err   error
}

func (f *fakeIdentifier) Identify(context.Context, []byte, identify.Mode) (identify.Result, error) {
	if f.err != nil {
		return identify.Result{}, f.err
	}
	if f.plate == "" {
		return identify.Result{}, nil
	}
	p := f.plate
	return identify.Result{Plate: &p}, nil
}

type scriptedSource struct {
	mu     sync.Mutex
	frames []source.Frame
	i      int
	resets int
}

func (s *scriptedSource) Read(context.Context) (source.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.i >= len(s.frames) {
		return source.Frame{}, source.ErrEndOfStream
	}
	f := s.frames[s.i]
	s.i++
	return f, nil
}

func (s *scriptedSource) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.i = 0
	s.resets++
	return nil
}

func (s *scriptedSource) Close() error { return nil }

var testROI = &geom.ROI{
	Shape:  geom.ShapeRectangle,
	Points: []geom.Point{{X: 200, Y: 150}, {X: 440, Y: 330}},
}

// boxAt is a tall detection box centered on (cx, cy), big enough that
// consecutive positions overlap and keep the same track id.
func boxAt(cx, cy float64) geom.BBox {
	return geom.BBox{X1: cx - 60, Y1: cy - 100, X2: cx + 60, Y2: cy + 100}
}

func detAt(cx, cy float64, class string) tracker.Detection {
	return tracker.Detection{BBox: boxAt(cx, cy), Class: class, Conf: 0.9}
}

func testFrame(idx int, at time.Time) source.Frame {
	return source.Frame{Index: idx, Time: at, Image: image.NewRGBA(image.Rect(0, 0, 640, 480))}
}

func testConfig() config.PipelineConfig {
	return config.PipelineConfig{
		IOUThreshold:         0.05,
		MaxTrackAge:          5,
		EventDebounce:        2 * time.Second,
		RestartBackoffMin:    time.Millisecond,
		RestartBackoffMax:    5 * time.Millisecond,
		MaxConsecutiveErrors: 3,
	}
}

type pipelineHarness struct {
	p          *Pipeline
	clock      *testClock
	detector   *scriptedDetector
	store      *memEventStore
	dispatcher *recordingDispatcher
}

func newHarness(t *testing.T, mutate func(*Deps)) *pipelineHarness {
	t.Helper()
	clock := newTestClock()
	det := &scriptedDetector{}
	store := &memEventStore{}
	disp := &recordingDispatcher{}

	deps := Deps{
		Detector:   det,
		Identifier: identify.Unavailable{},
		Estimator:  material.Unavailable{},
		Blobs:      &fakeBlobs{},
		Events:     store,
		Dispatcher: disp,
		Metrics:    metrics.New(),
		Log:        zerolog.Nop(),
		Now:        clock.Now,
	}
	if mutate != nil {
		mutate(&deps)
	}

	cam := Camera{ID: 7, GateID: 3, GateName: "North Gate", Name: "cam-7"}
	p := New(cam, testROI, testConfig(), identify.ModeANPR, deps)
	return &pipelineHarness{p: p, clock: clock, detector: det, store: store, dispatcher: disp}
}

func (h *pipelineHarness) step(t *testing.T, dets ...tracker.Detection) {
	t.Helper()
	h.detector.steps = append(h.detector.steps, dets)
	err := h.p.ProcessFrame(context.Background(), testFrame(len(h.detector.steps), h.clock.Now()))
	require.NoError(t, err)
}

func TestPipelineEmitsSingleEventWhenBothTriggersFire(t *testing.T) {
	h := newHarness(t, nil)

	// approach from above the region, then one move that both enters the
	// region and crosses its midline
	h.step(t, detAt(320, 100, "truck"))
	h.step(t, detAt(320, 260, "truck"))

	events := h.store.all()
	require.Len(t, events, 1)
	ev := events[0]
	assert.Equal(t, vehicle.DirectionExit, ev.Direction)
	assert.Equal(t, vehicle.TypeTruck, ev.VehicleType)
	assert.Equal(t, int64(3), ev.GateID)
	assert.Equal(t, int64(7), ev.CameraID)
	assert.Equal(t, int64(1), ev.TrackID)
	assert.NotEqual(t, "", ev.UUID.String())
	require.NotNil(t, ev.SnapshotURL)
	assert.Contains(t, *ev.SnapshotURL, ev.UUID.String())

	require.Len(t, h.dispatcher.events, 1)
}

func TestPipelineDebouncesRepeatedCrossings(t *testing.T) {
	h := newHarness(t, nil)

	h.step(t, detAt(320, 100, "truck"))
	h.step(t, detAt(320, 260, "truck")) // crossing, emits
	h.step(t, detAt(320, 100, "truck")) // crosses back immediately, debounced
	require.Len(t, h.store.all(), 1)

	h.clock.Advance(3 * time.Second)
	h.step(t, detAt(320, 260, "truck")) // past the window, emits again

	events := h.store.all()
	require.Len(t, events, 2)
	assert.Equal(t, events[0].TrackID, events[1].TrackID)
}

func TestPipelineDirectionFollowsVerticalMotion(t *testing.T) {
	h := newHarness(t, nil)

	// downward through the midline
	h.step(t, detAt(320, 100, "car"))
	h.step(t, detAt(320, 260, "car"))
	h.clock.Advance(3 * time.Second)
	// back upward through the midline
	h.step(t, detAt(320, 100, "car"))

	events := h.store.all()
	require.Len(t, events, 2)
	assert.Equal(t, vehicle.DirectionExit, events[0].Direction)
	assert.Equal(t, vehicle.DirectionEntry, events[1].Direction)
}

func TestPipelineUnknownClassStillEmits(t *testing.T) {
	h := newHarness(t, nil)

	h.step(t, detAt(320, 100, "forklift"))
	h.step(t, detAt(320, 260, "forklift"))

	events := h.store.all()
	require.Len(t, events, 1)
	assert.Equal(t, vehicle.TypeUnknown, events[0].VehicleType)
}

func TestPipelineEnrichmentFailuresDegrade(t *testing.T) {
	h := newHarness(t, func(d *Deps) {
		d.Blobs = &fakeBlobs{err: fmt.Errorf("bucket unreachable")}
		d.Identifier = &fakeIdentifier{err: fmt.Errorf("anpr timeout")}
	})

	h.step(t, detAt(320, 100, "truck"))
	h.step(t, detAt(320, 260, "truck"))

	events := h.store.all()
	require.Len(t, events, 1)
	ev := events[0]
	assert.Nil(t, ev.SnapshotURL)
	assert.Nil(t, ev.LoadCropURL)
	assert.Nil(t, ev.Plate)
	assert.Nil(t, ev.MaterialType)
	assert.Equal(t, vehicle.TypeTruck, ev.VehicleType)
}

func TestPipelineNormalizesPlate(t *testing.T) {
	h := newHarness(t, func(d *Deps) {
		d.Identifier = &fakeIdentifier{plate: "ka-01 ab 1234"}
	})

	h.step(t, detAt(320, 100, "truck"))
	h.step(t, detAt(320, 260, "truck"))

	events := h.store.all()
	require.Len(t, events, 1)
	require.NotNil(t, events[0].Plate)
	assert.Equal(t, "KA01AB1234", *events[0].Plate)
}

func TestPipelinePersistenceFailureIsFatal(t *testing.T) {
	h := newHarness(t, nil)
	h.store.err = fmt.Errorf("connection refused")

	h.detector.steps = append(h.detector.steps, []tracker.Detection{detAt(320, 100, "truck")})
	require.NoError(t, h.p.ProcessFrame(context.Background(), testFrame(1, h.clock.Now())))

	h.detector.steps = append(h.detector.steps, []tracker.Detection{detAt(320, 260, "truck")})
	err := h.p.ProcessFrame(context.Background(), testFrame(2, h.clock.Now()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "persist event")

	assert.Empty(t, h.dispatcher.events)
}

func TestPipelineDetectorFailureSkipsFrame(t *testing.T) {
	h := newHarness(t, nil)
	h.detector.err = fmt.Errorf("backend down")

	err := h.p.ProcessFrame(context.Background(), testFrame(1, h.clock.Now()))
	require.NoError(t, err)
	assert.Empty(t, h.store.all())
}

func TestPipelineStatePrunedAfterEviction(t *testing.T) {
	h := newHarness(t, nil)

	h.step(t, detAt(320, 100, "truck"))
	h.step(t, detAt(320, 260, "truck"))
	require.Len(t, h.store.all(), 1)

	// starve the track past max age so the tracker evicts it
	for i := 0; i < 7; i++ {
		h.step(t)
	}
	assert.Empty(t, h.p.states)

	// a new object on the same path gets a fresh id and its own debounce
	h.step(t, detAt(320, 100, "truck"))
	h.step(t, detAt(320, 260, "truck"))
	events := h.store.all()
	require.Len(t, events, 2)
	assert.NotEqual(t, events[0].TrackID, events[1].TrackID)
}

func TestNextBackoffDoublesUpToCap(t *testing.T) {
	assert.Equal(t, 400*time.Millisecond, nextBackoff(200*time.Millisecond, time.Second))
	assert.Equal(t, 800*time.Millisecond, nextBackoff(400*time.Millisecond, time.Second))
	assert.Equal(t, time.Second, nextBackoff(800*time.Millisecond, time.Second))
	assert.Equal(t, time.Second, nextBackoff(time.Second, time.Second))
}

func TestPipelineDebounceDefaultsWhenUnset(t *testing.T) {
	clock := newTestClock()
	det := &scriptedDetector{}
	store := &memEventStore{}

	cfg := testConfig()
	cfg.EventDebounce = 0
	deps := Deps{
		Detector:   det,
		Identifier: identify.Unavailable{},
		Estimator:  material.Unavailable{},
		Blobs:      &fakeBlobs{},
		Events:     store,
		Dispatcher: &recordingDispatcher{},
		Metrics:    metrics.New(),
		Log:        zerolog.Nop(),
		Now:        clock.Now,
	}
	p := New(Camera{ID: 7, GateID: 3}, testROI, cfg, identify.ModeANPR, deps)

	step := func(dets ...tracker.Detection) {
		det.steps = append(det.steps, dets)
		require.NoError(t, p.ProcessFrame(context.Background(), testFrame(len(det.steps), clock.Now())))
	}

	step(detAt(320, 100, "truck"))
	step(detAt(320, 260, "truck")) // crossing, emits
	step(detAt(320, 100, "truck")) // immediate re-cross, suppressed by the default window
	require.Len(t, store.all(), 1)

	clock.Advance(3 * time.Second)
	step(detAt(320, 260, "truck"))
	assert.Len(t, store.all(), 2)
}

func TestPipelineRunLoopsOnEndOfStream(t *testing.T) {
	clock := newTestClock()
	store := &memEventStore{}
	src := &scriptedSource{frames: []source.Frame{
		testFrame(1, clock.Now()),
		testFrame(2, clock.Now()),
	}}

	deps := Deps{
		Source:     src,
		Detector:   &scriptedDetector{},
		Identifier: identify.Unavailable{},
		Estimator:  material.Unavailable{},
		Blobs:      &fakeBlobs{},
		Events:     store,
		Dispatcher: &recordingDispatcher{},
		Metrics:    metrics.New(),
		Log:        zerolog.Nop(),
		Now:        clock.Now,
	}
	p := New(Camera{ID: 1, GateID: 1}, testROI, testConfig(), identify.ModeANPR, deps)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	require.NoError(t, p.Run(ctx))

	src.mu.Lock()
	defer src.mu.Unlock()
	assert.Greater(t, src.resets, 0)
}
