// Package annotation serializes vector-drawing overlays to a compact,
// size-bounded wire format. Payloads are sanitized, compressed and capped;
// an empty drawing encodes to a fixed sentinel so emptiness is testable
// with a byte comparison, without running the decompressor.
package annotation

import (
	"bytes"
	"encoding/json"
	"io"
	"math"
	"strings"
	"unicode"

	"github.com/klauspost/compress/flate"

	"github.com/mkarpova/fieldsync/internal/faults"
)

// MaxEncodedSize is the hard ceiling for a compressed payload. Exceeding it
// fails encoding as a validation error; payloads are never truncated.
const MaxEncodedSize = 64000

// emptySentinel is the well-known encoding of "no strokes". It is not a
// valid flate stream, so it can never collide with a real payload.
var emptySentinel = []byte("fsann:empty")

// Point is one vertex of a stroke, in image coordinates.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Stroke is one drawn shape. Color is optional; a missing value is encoded
// as an explicit null rather than omitted.
type Stroke struct {
	Tool   string  `json:"tool"`
	Color  *string `json:"color"`
	Width  float64 `json:"width"`
	Points []Point `json:"points"`
}

// Drawing is the structured annotation overlay for one photograph.
type Drawing struct {
	Width   int      `json:"width"`
	Height  int      `json:"height"`
	Strokes []Stroke `json:"strokes"`
}

// IsEmpty reports whether the drawing has no strokes.
func (d Drawing) IsEmpty() bool {
	return len(d.Strokes) == 0
}

// Encode sanitizes, normalizes and compresses a drawing. An empty drawing
// returns the sentinel. Compressed payloads over MaxEncodedSize fail with a
// validation error.
func Encode(d Drawing) ([]byte, error) {
	if d.IsEmpty() {
		return Empty(), nil
	}

	norm := normalize(d)

	raw, err := json.Marshal(norm)
	if err != nil {
		return nil, faults.Validationf("marshal drawing: %v", err)
	}

	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.BestCompression)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(raw); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	if buf.Len() > MaxEncodedSize {
		return nil, faults.Validationf("annotation payload %d bytes exceeds ceiling %d", buf.Len(), MaxEncodedSize)
	}
	return buf.Bytes(), nil
}

// Decode is the inverse of Encode. The sentinel and a nil payload both
// decode to an empty drawing.
func Decode(b []byte) (Drawing, error) {
	if IsEmpty(b) {
		return Drawing{}, nil
	}

	r := flate.NewReader(bytes.NewReader(b))
	defer r.Close()

	raw, err := io.ReadAll(r)
	if err != nil {
		return Drawing{}, faults.Validationf("decompress annotation: %v", err)
	}

	var d Drawing
	if err := json.Unmarshal(raw, &d); err != nil {
		return Drawing{}, faults.Validationf("unmarshal annotation: %v", err)
	}
	return d, nil
}

// IsEmpty reports, in O(1), whether b encodes "no annotation".
func IsEmpty(b []byte) bool {
	return len(b) == 0 || bytes.Equal(b, emptySentinel)
}

// Empty returns the sentinel payload. Callers must not mutate it.
func Empty() []byte {
	return emptySentinel
}

// normalize strips control characters from text fields, replaces
// non-finite coordinates with zero, and guarantees non-nil point slices so
// the wire form has no "undefined" shapes.
func normalize(d Drawing) Drawing {
	out := Drawing{Width: d.Width, Height: d.Height, Strokes: make([]Stroke, len(d.Strokes))}
	for i, s := range d.Strokes {
		ns := Stroke{
			Tool:  stripControl(s.Tool),
			Width: finite(s.Width),
		}
		if s.Color != nil {
			c := stripControl(*s.Color)
			ns.Color = &c
		}
		ns.Points = make([]Point, len(s.Points))
		for j, p := range s.Points {
			ns.Points[j] = Point{X: finite(p.X), Y: finite(p.Y)}
		}
		out.Strokes[i] = ns
	}
	return out
}

func stripControl(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
}

func finite(f float64) float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}
