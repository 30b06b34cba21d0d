package smile

import (
	"context"
	"sync"

	"github.com/cjeanneret/SmileGo/internal/hw/camera"
)

// Scripted replays a fixed list of per-frame probabilities, looping at the
// end. An empty entry means "no face". Used for development without a model.
type Scripted struct {
	mu     sync.Mutex
	script [][]float64
	next   int
}

// NewScripted validates and stores the script.
func NewScripted(script [][]float64) (*Scripted, error) {
	for _, frame := range script {
		for _, p := range frame {
			if err := checkProbability(p); err != nil {
				return nil, err
			}
		}
	}
	return &Scripted{script: script}, nil
}

func (s *Scripted) Evaluate(ctx context.Context, frame camera.Frame) ([]FaceObservation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.script) == 0 {
		return []FaceObservation{}, nil
	}
	probs := s.script[s.next]
	s.next = (s.next + 1) % len(s.script)

	faces := make([]FaceObservation, len(probs))
	for i, p := range probs {
		faces[i] = FaceObservation{SmilingProbability: p}
	}
	return faces, nil
}
