package smile

import (
	"fmt"
	"os"
)

// DefaultNeighborLevels is the minNeighbors sweep used to grade a smile.
var DefaultNeighborLevels = []int{4, 8, 12, 16, 20, 24, 28, 32, 36, 40}

// CascadeConfig holds the Haar cascade models and sweep settings.
type CascadeConfig struct {
	FaceModel      string // e.g. haarcascade_frontalface_default.xml
	SmileModel     string // e.g. haarcascade_smile.xml
	NeighborLevels []int  // ascending minNeighbors values
	MinFace        int    // minimum face side in pixels
}

// NewCascade loads both Haar models into an on-device oracle. The OpenCV
// part is only present in builds with -tags opencv; otherwise the models are
// still checked and ErrUnsupported is returned.
func NewCascade(cfg CascadeConfig) (Oracle, error) {
	for _, p := range []string{cfg.FaceModel, cfg.SmileModel} {
		if _, err := os.Stat(p); err != nil {
			return nil, fmt.Errorf("cascade model: %w", err)
		}
	}
	if len(cfg.NeighborLevels) == 0 {
		cfg.NeighborLevels = DefaultNeighborLevels
	}
	if cfg.MinFace <= 0 {
		cfg.MinFace = 40
	}
	return newCascade(cfg)
}

// sweep runs detect for each level in ascending order and stops at the
// first miss. Detections are monotonic in minNeighbors.
func sweep(levels []int, detect func(minNeighbors int) bool) float64 {
	if len(levels) == 0 {
		return 0
	}
	hits := 0
	for _, n := range levels {
		if !detect(n) {
			break
		}
		hits++
	}
	return float64(hits) / float64(len(levels))
}
