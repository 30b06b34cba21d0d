//go:build !opencv

package camera

import "fmt"

// NewOpenCV returns ErrUnsupported unless built with -tags opencv.
func NewOpenCV(device string, quality int) (Source, error) {
	return nil, fmt.Errorf("%w: opencv (rebuild with -tags opencv)", ErrUnsupported)
}
