//go:build !linux

package camera

import (
	"fmt"
	"time"
)

// NewV4L2 returns ErrUnsupported outside Linux.
func NewV4L2(path string, timeout time.Duration) (Source, error) {
	return nil, fmt.Errorf("%w: v4l2 is only available on Linux", ErrUnsupported)
}
