package material

import (
	"context"
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadLabelFor(t *testing.T) {
	cases := []struct {
		pct  float64
		want string
	}{
		{10, LoadEmpty},
		{40, LoadPartial},
		{60, LoadHalf},
		{90, LoadFull},
		// threshold boundaries
		{24.99, LoadEmpty},
		{25, LoadPartial},
		{49.99, LoadPartial},
		{50, LoadHalf},
		{74.99, LoadHalf},
		{75, LoadFull},
		{0, LoadEmpty},
		{100, LoadFull},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, LoadLabelFor(tc.pct), "pct=%v", tc.pct)
	}
}

func uniformCrop(c color.RGBA) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func TestDeterministicEstimateIsStable(t *testing.T) {
	crop := uniformCrop(color.RGBA{R: 120, G: 80, B: 200, A: 255})

	first, err := Deterministic{}.Estimate(context.Background(), crop)
	require.NoError(t, err)
	second, err := Deterministic{}.Estimate(context.Background(), crop)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Contains(t, []string{"sand", "soil", "stone", "debris"}, first.MaterialType)
	assert.GreaterOrEqual(t, first.MaterialConfidence, 0.55)
	assert.LessOrEqual(t, first.MaterialConfidence, 1.0)
	assert.GreaterOrEqual(t, first.LoadPercentage, 0.0)
	assert.LessOrEqual(t, first.LoadPercentage, 100.0)
	assert.Equal(t, LoadLabelFor(first.LoadPercentage), first.LoadLabel)
}

func TestDeterministicEstimateTracksBrightness(t *testing.T) {
	dark, err := Deterministic{}.Estimate(context.Background(), uniformCrop(color.RGBA{A: 255}))
	require.NoError(t, err)
	bright, err := Deterministic{}.Estimate(context.Background(), uniformCrop(color.RGBA{R: 255, G: 255, B: 255, A: 255}))
	require.NoError(t, err)

	assert.Equal(t, LoadEmpty, dark.LoadLabel)
	assert.Equal(t, LoadFull, bright.LoadLabel)
}

func TestDeterministicRejectsEmptyCrop(t *testing.T) {
	_, err := Deterministic{}.Estimate(context.Background(), nil)
	assert.Error(t, err)
}

func TestUnavailableReturnsErrUnavailable(t *testing.T) {
	_, err := Unavailable{}.Estimate(context.Background(), uniformCrop(color.RGBA{A: 255}))
	assert.ErrorIs(t, err, ErrUnavailable)
}
