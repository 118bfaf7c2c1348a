package annotation

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkarpova/fieldsync/internal/faults"
)

func strptr(s string) *string { return &s }

func sampleDrawing() Drawing {
	return Drawing{
		Width:  1024,
		Height: 768,
		Strokes: []Stroke{
			{
				Tool:  "pen",
				Color: strptr("#ff0000"),
				Width: 2.5,
				Points: []Point{
					{X: 10, Y: 10},
					{X: 200, Y: 140.5},
				},
			},
			{
				Tool:   "arrow",
				Width:  1,
				Points: []Point{{X: 5, Y: 5}, {X: 50, Y: 50}},
			},
		},
	}
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	d := sampleDrawing()

	b, err := Encode(d)
	require.NoError(t, err)
	assert.False(t, IsEmpty(b))

	got, err := Decode(b)
	require.NoError(t, err)
	assert.Equal(t, d, got)
}

func TestEncode_EmptyDrawingIsSentinel(t *testing.T) {
	b, err := Encode(Drawing{Width: 100, Height: 100})
	require.NoError(t, err)

	assert.True(t, IsEmpty(b))
	assert.Equal(t, Empty(), b)

	// sentinel decodes to an empty drawing, no decompression involved
	d, err := Decode(b)
	require.NoError(t, err)
	assert.True(t, d.IsEmpty())
}

func TestIsEmpty(t *testing.T) {
	assert.True(t, IsEmpty(nil))
	assert.True(t, IsEmpty([]byte{}))
	assert.True(t, IsEmpty(Empty()))
	assert.False(t, IsEmpty([]byte("something else")))
}

func TestEncode_StripsControlCharacters(t *testing.T) {
	d := Drawing{Strokes: []Stroke{{
		Tool:   "pen\x00\x1b",
		Color:  strptr("#00ff0\x070"),
		Points: []Point{{X: 1, Y: 1}},
	}}}

	b, err := Encode(d)
	require.NoError(t, err)

	got, err := Decode(b)
	require.NoError(t, err)
	assert.Equal(t, "pen", got.Strokes[0].Tool)
	require.NotNil(t, got.Strokes[0].Color)
	assert.Equal(t, "#00ff00", *got.Strokes[0].Color)
}

func TestEncode_NormalizesNonFiniteCoordinates(t *testing.T) {
	d := Drawing{Strokes: []Stroke{{
		Tool:   "pen",
		Width:  math.NaN(),
		Points: []Point{{X: math.Inf(1), Y: math.Inf(-1)}},
	}}}

	b, err := Encode(d)
	require.NoError(t, err)

	got, err := Decode(b)
	require.NoError(t, err)
	assert.Zero(t, got.Strokes[0].Width)
	assert.Zero(t, got.Strokes[0].Points[0].X)
	assert.Zero(t, got.Strokes[0].Points[0].Y)
}

func TestEncode_MissingColorStaysNull(t *testing.T) {
	d := Drawing{Strokes: []Stroke{{Tool: "pen", Points: []Point{{X: 1, Y: 2}}}}}

	b, err := Encode(d)
	require.NoError(t, err)

	got, err := Decode(b)
	require.NoError(t, err)
	assert.Nil(t, got.Strokes[0].Color)
}

func TestEncode_EnforcesSizeCeiling(t *testing.T) {
	// incompressible text: distinct random-ish tool names per stroke
	var strokes []Stroke
	for i := 0; i < 40000; i++ {
		strokes = append(strokes, Stroke{
			Tool:   strings.Repeat("x", i%7+1),
			Points: []Point{{X: float64(i) * 1.000001, Y: float64(i) * 0.999973}},
		})
	}

	_, err := Encode(Drawing{Strokes: strokes})
	require.Error(t, err)
	assert.ErrorIs(t, err, faults.ErrValidation)
}

func TestDecode_MalformedPayloadIsValidationError(t *testing.T) {
	_, err := Decode([]byte("definitely not a flate stream"))
	require.Error(t, err)
	assert.ErrorIs(t, err, faults.ErrValidation)
}
