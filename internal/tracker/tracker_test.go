package tracker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gatewatch/internal/geom"
)

func det(x1, y1, x2, y2 float64) Detection {
	return Detection{BBox: geom.BBox{X1: x1, Y1: y1, X2: x2, Y2: y2}, Class: "truck", Conf: 0.9}
}

func TestNewDetectionSpawnsTrack(t *testing.T) {
	tr := New(0.3, 20)
	tracks := tr.Update([]Detection{det(0, 0, 100, 100)})
	require.Len(t, tracks, 1)
	assert.Equal(t, int64(1), tracks[0].ID)
	assert.Equal(t, 0, tracks[0].Age)
}

func TestOverlappingDetectionKeepsIdentity(t *testing.T) {
	tr := New(0.3, 20)
	tr.Update([]Detection{det(0, 0, 100, 100)})

	// shifted by 10px, well above the IOU threshold against the only track
	tracks := tr.Update([]Detection{det(10, 0, 110, 100)})
	require.Len(t, tracks, 1)
	assert.Equal(t, int64(1), tracks[0].ID)
	assert.InDelta(t, 10.0, tracks[0].BBox.X1, 1e-9)
}

func TestLowOverlapSpawnsNewTrack(t *testing.T) {
	tr := New(0.3, 20)
	tr.Update([]Detection{det(0, 0, 100, 100)})

	tracks := tr.Update([]Detection{det(500, 500, 600, 600)})
	require.Len(t, tracks, 2)
	assert.Equal(t, int64(1), tracks[0].ID)
	assert.Equal(t, 1, tracks[0].Age, "unmatched track aged")
	assert.Equal(t, int64(2), tracks[1].ID)
}

func TestIdsAreMonotonicAndNeverReused(t *testing.T) {
	tr := New(0.3, 2)
	tr.Update([]Detection{det(0, 0, 100, 100)})

	// age the track past maxAge so it is evicted
	for i := 0; i < 3; i++ {
		tr.Update(nil)
	}
	assert.Empty(t, tr.Update(nil))

	tracks := tr.Update([]Detection{det(0, 0, 100, 100)})
	require.Len(t, tracks, 1)
	assert.Equal(t, int64(2), tracks[0].ID, "evicted id 1 must not reappear")
}

func TestEvictionAfterMaxAge(t *testing.T) {
	tr := New(0.3, 3)
	tr.Update([]Detection{det(0, 0, 100, 100)})

	for i := 1; i <= 3; i++ {
		tracks := tr.Update(nil)
		require.Len(t, tracks, 1, "still alive at age %d", i)
		assert.Equal(t, i, tracks[0].Age)
	}
	assert.Empty(t, tr.Update(nil), "evicted once age exceeds max")
	_, ok := tr.ActiveIDs()[1]
	assert.False(t, ok)
}

func TestTieBreaksToLowestDetectionIndex(t *testing.T) {
	tr := New(0.3, 20)
	tr.Update([]Detection{det(0, 0, 100, 100)})

	// two identical candidates: index 0 must win, index 1 spawns a new track
	tracks := tr.Update([]Detection{det(0, 0, 100, 100), det(0, 0, 100, 100)})
	require.Len(t, tracks, 2)
	assert.Equal(t, int64(1), tracks[0].ID)
	assert.Equal(t, int64(2), tracks[1].ID)
}

func TestUnambiguousMatchAlwaysTakesItsTrack(t *testing.T) {
	tr := New(0.3, 20)
	tr.Update([]Detection{det(0, 0, 100, 100), det(1000, 1000, 1100, 1100)})

	tracks := tr.Update([]Detection{det(1005, 1000, 1105, 1100)})
	require.Len(t, tracks, 2)
	assert.Equal(t, 1, tracks[0].Age)
	assert.Equal(t, int64(2), tracks[1].ID)
	assert.Equal(t, 0, tracks[1].Age)
}

func TestResetKeepsIDSequence(t *testing.T) {
	tr := New(0.3, 20)
	tr.Update([]Detection{det(0, 0, 100, 100)})
	tr.Reset()

	tracks := tr.Update([]Detection{det(0, 0, 100, 100)})
	require.Len(t, tracks, 1)
	assert.Equal(t, int64(2), tracks[0].ID)
}
