// Package tracker assigns persistent identity to per-frame detections via
// greedy IOU matching.
package tracker

import (
	"gatewatch/internal/geom"
)

// Detection is one detector output for a single frame.
type Detection struct {
	BBox  geom.BBox
	Class string
	Conf  float64
}

// Track links detections across frames under one id. Ids are monotonically
// increasing and never reused within a Tracker instance.
type Track struct {
	ID    int64
	BBox  geom.BBox
	Class string
	Conf  float64
	Age   int // consecutive frames without a matching detection
}

type Tracker struct {
	iouThreshold float64
	maxAge       int
	nextID       int64
	tracks       map[int64]*Track
	order        []int64 // track ids in creation order, for deterministic matching
}

const (
	DefaultIOUThreshold = 0.3
	DefaultMaxAge       = 20
)

func New(iouThreshold float64, maxAge int) *Tracker {
	if iouThreshold <= 0 {
		iouThreshold = DefaultIOUThreshold
	}
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return &Tracker{
		iouThreshold: iouThreshold,
		maxAge:       maxAge,
		tracks:       make(map[int64]*Track),
	}
}

// Update matches detections against live tracks and returns the active set.
// Each live track takes its maximum-IOU unassigned detection when that IOU
// meets the threshold; ties break to the lowest detection index. Unmatched
// tracks age by one and are evicted once age exceeds maxAge; unmatched
// detections spawn new tracks.
func (t *Tracker) Update(detections []Detection) []Track {
	assigned := make(map[int]bool, len(detections))
	var keepOrder []int64

	for _, tid := range t.order {
		st := t.tracks[tid]
		bestIOU := 0.0
		bestIdx := -1
		for j, det := range detections {
			if assigned[j] {
				continue
			}
			if iou := geom.IOU(st.BBox, det.BBox); iou > bestIOU {
				bestIOU = iou
				bestIdx = j
			}
		}
		if bestIdx >= 0 && bestIOU >= t.iouThreshold {
			det := detections[bestIdx]
			assigned[bestIdx] = true
			st.BBox = det.BBox
			st.Class = det.Class
			st.Conf = det.Conf
			st.Age = 0
			keepOrder = append(keepOrder, tid)
			continue
		}
		st.Age++
		if st.Age <= t.maxAge {
			keepOrder = append(keepOrder, tid)
		} else {
			delete(t.tracks, tid)
		}
	}

	for j, det := range detections {
		if assigned[j] {
			continue
		}
		t.nextID++
		tid := t.nextID
		t.tracks[tid] = &Track{
			ID:    tid,
			BBox:  det.BBox,
			Class: det.Class,
			Conf:  det.Conf,
		}
		keepOrder = append(keepOrder, tid)
	}

	t.order = keepOrder

	out := make([]Track, 0, len(t.order))
	for _, tid := range t.order {
		out = append(out, *t.tracks[tid])
	}
	return out
}

// ActiveIDs returns the ids of all live tracks, matched or aging.
func (t *Tracker) ActiveIDs() map[int64]struct{} {
	ids := make(map[int64]struct{}, len(t.tracks))
	for tid := range t.tracks {
		ids[tid] = struct{}{}
	}
	return ids
}

// Reset drops all track state but keeps the id sequence so ids are never
// reused across resets of the same instance.
func (t *Tracker) Reset() {
	t.tracks = make(map[int64]*Track)
	t.order = nil
}
