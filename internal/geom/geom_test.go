package geom

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"gatewatch/internal/domain/vehicle"
)

func TestIOU(t *testing.T) {
	a := BBox{X1: 0, Y1: 0, X2: 10, Y2: 10}

	assert.InDelta(t, 1.0, IOU(a, a), 1e-9)
	assert.Zero(t, IOU(a, BBox{X1: 20, Y1: 20, X2: 30, Y2: 30}))

	// 5x10 overlap over a 150 union
	b := BBox{X1: 5, Y1: 0, X2: 15, Y2: 10}
	assert.InDelta(t, 50.0/150.0, IOU(a, b), 1e-9)

	// touching edges share no area
	assert.Zero(t, IOU(a, BBox{X1: 10, Y1: 0, X2: 20, Y2: 10}))
}

func TestRectangleInsideInclusiveBounds(t *testing.T) {
	roi := &ROI{Shape: ShapeRectangle, Points: []Point{{X: 200, Y: 150}, {X: 440, Y: 330}}}

	assert.True(t, roi.Inside(Point{X: 300, Y: 240}))
	assert.True(t, roi.Inside(Point{X: 200, Y: 150}), "corner is inside")
	assert.True(t, roi.Inside(Point{X: 440, Y: 330}), "opposite corner is inside")
	assert.False(t, roi.Inside(Point{X: 199.9, Y: 240}))
	assert.False(t, roi.Inside(Point{X: 300, Y: 331}))
}

func TestRectangleInsideUnorderedCorners(t *testing.T) {
	roi := &ROI{Shape: ShapeRectangle, Points: []Point{{X: 440, Y: 330}, {X: 200, Y: 150}}}
	assert.True(t, roi.Inside(Point{X: 300, Y: 240}))
}

func TestPolygonInside(t *testing.T) {
	// diamond centred on (50,50)
	roi := &ROI{Shape: ShapePolygon, Points: []Point{
		{X: 50, Y: 0}, {X: 100, Y: 50}, {X: 50, Y: 100}, {X: 0, Y: 50},
	}}

	assert.True(t, roi.Inside(Point{X: 50, Y: 50}))
	assert.True(t, roi.Inside(Point{X: 60, Y: 50}))
	assert.False(t, roi.Inside(Point{X: 95, Y: 95}))
	assert.False(t, roi.Inside(Point{X: -1, Y: 50}))
}

func TestMidline(t *testing.T) {
	roi := &ROI{Shape: ShapeRectangle, Points: []Point{{X: 200, Y: 150}, {X: 440, Y: 330}}}
	assert.InDelta(t, 240.0, roi.Midline(), 1e-9)
}

func TestDirectionOfMidlineFlip(t *testing.T) {
	roi := &ROI{Shape: ShapeRectangle, Points: []Point{{X: 200, Y: 150}, {X: 440, Y: 330}}}

	// downward across y=240 is EXIT, upward is ENTRY
	assert.Equal(t, vehicle.DirectionExit, DirectionOf(Point{X: 300, Y: 200}, Point{X: 300, Y: 260}, roi, false))
	assert.Equal(t, vehicle.DirectionEntry, DirectionOf(Point{X: 300, Y: 260}, Point{X: 300, Y: 200}, roi, false))
}

func TestCrossedMidline(t *testing.T) {
	roi := &ROI{Shape: ShapeRectangle, Points: []Point{{X: 200, Y: 150}, {X: 440, Y: 330}}}

	assert.True(t, roi.CrossedMidline(Point{Y: 200}, Point{Y: 260}))
	assert.True(t, roi.CrossedMidline(Point{Y: 260}, Point{Y: 200}))
	assert.True(t, roi.CrossedMidline(Point{Y: 240}, Point{Y: 241}), "starting on the line counts")
	assert.False(t, roi.CrossedMidline(Point{Y: 200}, Point{Y: 239}))
	assert.False(t, roi.CrossedMidline(Point{Y: 250}, Point{Y: 260}))
}

func TestDirectionOfFallbackWithoutROI(t *testing.T) {
	up := DirectionOf(Point{Y: 100}, Point{Y: 90}, nil, false)
	down := DirectionOf(Point{Y: 90}, Point{Y: 100}, nil, false)
	assert.Equal(t, vehicle.DirectionEntry, up)
	assert.Equal(t, vehicle.DirectionExit, down)

	// per-deployment override for cameras facing the other way
	assert.Equal(t, vehicle.DirectionExit, DirectionOf(Point{Y: 100}, Point{Y: 90}, nil, true))
	assert.Equal(t, vehicle.DirectionEntry, DirectionOf(Point{Y: 90}, Point{Y: 100}, nil, true))
}

func TestDirectionOfInsideROIWithoutCrossUsesMotionSign(t *testing.T) {
	roi := &ROI{Shape: ShapeRectangle, Points: []Point{{X: 200, Y: 150}, {X: 440, Y: 330}}}
	// both positions below the midline: no flip, fall through to motion sign
	assert.Equal(t, vehicle.DirectionEntry, DirectionOf(Point{Y: 300}, Point{Y: 290}, roi, false))
}
