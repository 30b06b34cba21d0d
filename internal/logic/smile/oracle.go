package smile

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/cjeanneret/SmileGo/internal/hw/camera"
)

// DefaultThreshold is the smiling probability at which a face counts.
const DefaultThreshold = 0.90

var (
	// ErrInvalidResponse is returned when an oracle answer can't be interpreted.
	ErrInvalidResponse = errors.New("smile: invalid oracle response")
	// ErrUnsupported is returned for an oracle left out of this build.
	ErrUnsupported = errors.New("smile: oracle not built in")
)

// Box is a face bounding box in frame pixels.
type Box struct {
	X int `json:"x" msgpack:"x"`
	Y int `json:"y" msgpack:"y"`
	W int `json:"w" msgpack:"w"`
	H int `json:"h" msgpack:"h"`
}

// FaceObservation is one detected face.
type FaceObservation struct {
	SmilingProbability float64 `json:"smiling_probability" msgpack:"p"`
	Box                Box     `json:"box" msgpack:"box"`
}

// Smiling reports whether the face reaches the threshold.
func (f FaceObservation) Smiling(threshold float64) bool {
	return f.SmilingProbability >= threshold
}

// Oracle evaluates a frame and returns the faces it found. An empty result
// means no face. Implementations must honour ctx cancellation.
type Oracle interface {
	Evaluate(ctx context.Context, frame camera.Frame) ([]FaceObservation, error)
}

// Closer is implemented by oracles holding native or network resources.
type Closer interface {
	Close() error
}

// checkProbability rejects values an oracle must never produce.
func checkProbability(p float64) error {
	if math.IsNaN(p) || p < 0 || p > 1 {
		return fmt.Errorf("%w: smiling probability %v outside [0,1]", ErrInvalidResponse, p)
	}
	return nil
}

// Probabilities extracts the smiling probabilities, in detection order.
func Probabilities(faces []FaceObservation) []float64 {
	out := make([]float64, len(faces))
	for i, f := range faces {
		out[i] = f.SmilingProbability
	}
	return out
}
