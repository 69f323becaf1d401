// Package geom holds the crossing geometry: bounding-box overlap used for
// detection-to-track matching, region-of-interest membership tests and
// ENTRY/EXIT inference from consecutive centroid positions.
package geom

import (
	"math"

	"gatewatch/internal/domain/vehicle"
)

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// BBox is an axis-aligned box in pixel coordinates, corners (X1,Y1)-(X2,Y2).
type BBox struct {
	X1, Y1, X2, Y2 float64
}

func (b BBox) Center() Point {
	return Point{X: (b.X1 + b.X2) / 2, Y: (b.Y1 + b.Y2) / 2}
}

func (b BBox) Area() float64 {
	return (b.X2 - b.X1) * (b.Y2 - b.Y1)
}

// IOU returns the intersection-over-union overlap ratio of two boxes.
func IOU(a, b BBox) float64 {
	x1 := math.Max(a.X1, b.X1)
	y1 := math.Max(a.Y1, b.Y1)
	x2 := math.Min(a.X2, b.X2)
	y2 := math.Min(a.Y2, b.Y2)
	inter := math.Max(0, x2-x1) * math.Max(0, y2-y1)
	if inter <= 0 {
		return 0
	}
	union := a.Area() + b.Area() - inter
	return inter / math.Max(1e-6, union)
}

// ROIShape tags how an ROI's coordinate list is interpreted.
type ROIShape string

const (
	ShapeRectangle ROIShape = "rectangle"
	ShapePolygon   ROIShape = "polygon"
)

// ROI is the spatial gate boundary within a camera frame.
type ROI struct {
	Shape  ROIShape
	Points []Point
}

func (r *ROI) boundsY() (minY, maxY float64) {
	minY = math.Inf(1)
	maxY = math.Inf(-1)
	for _, p := range r.Points {
		minY = math.Min(minY, p.Y)
		maxY = math.Max(maxY, p.Y)
	}
	return minY, maxY
}

// Midline is the horizontal line halfway between the ROI's top and bottom.
func (r *ROI) Midline() float64 {
	minY, maxY := r.boundsY()
	return (minY + maxY) / 2
}

// Inside reports whether p lies within the ROI. Rectangle bounds are
// inclusive; polygons use ray casting.
func (r *ROI) Inside(p Point) bool {
	if r == nil || len(r.Points) < 2 {
		return false
	}
	if r.Shape == ShapePolygon && len(r.Points) >= 3 {
		return insidePolygon(p, r.Points)
	}
	minX, maxX := math.Inf(1), math.Inf(-1)
	for _, pt := range r.Points {
		minX = math.Min(minX, pt.X)
		maxX = math.Max(maxX, pt.X)
	}
	minY, maxY := r.boundsY()
	return p.X >= minX && p.X <= maxX && p.Y >= minY && p.Y <= maxY
}

func insidePolygon(p Point, poly []Point) bool {
	inside := false
	j := len(poly) - 1
	for i := range poly {
		pi, pj := poly[i], poly[j]
		if (pi.Y > p.Y) != (pj.Y > p.Y) &&
			p.X < (pj.X-pi.X)*(p.Y-pi.Y)/(pj.Y-pi.Y)+pi.X {
			inside = !inside
		}
		j = i
	}
	return inside
}

// CrossedMidline reports whether the y coordinate moved across the ROI
// midline between two consecutive frames, in either direction.
func (r *ROI) CrossedMidline(prev, curr Point) bool {
	if r == nil || len(r.Points) < 2 {
		return false
	}
	mid := r.Midline()
	return (prev.Y <= mid && mid < curr.Y) || (prev.Y >= mid && mid > curr.Y)
}

// DirectionOf infers ENTRY or EXIT from consecutive centroid positions.
// With an ROI the decision is the midline sign flip: a downward flip is EXIT,
// an upward flip is ENTRY. Without one it falls back to the vertical motion
// sign (up means ENTRY); invert flips that for cameras mounted facing the
// opposite way.
func DirectionOf(prev, curr Point, roi *ROI, invert bool) vehicle.Direction {
	if roi != nil && len(roi.Points) >= 2 {
		mid := roi.Midline()
		if prev.Y <= mid && mid < curr.Y {
			return exitMaybeInverted(invert)
		}
		if prev.Y >= mid && mid > curr.Y {
			return entryMaybeInverted(invert)
		}
	}
	if curr.Y < prev.Y {
		return entryMaybeInverted(invert)
	}
	return exitMaybeInverted(invert)
}

func entryMaybeInverted(invert bool) vehicle.Direction {
	if invert {
		return vehicle.DirectionExit
	}
	return vehicle.DirectionEntry
}

func exitMaybeInverted(invert bool) vehicle.Direction {
	if invert {
		return vehicle.DirectionEntry
	}
	return vehicle.DirectionExit
}
