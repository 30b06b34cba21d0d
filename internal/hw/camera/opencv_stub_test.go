//go:build !opencv

package camera

import (
	"errors"
	"testing"
)

func TestNewOpenCV_NotBuiltIn(t *testing.T) {
	src, err := NewOpenCV("0", 90)
	if !errors.Is(err, ErrUnsupported) {
		t.Errorf("NewOpenCV error = %v, want ErrUnsupported", err)
	}
	if src != nil {
		t.Errorf("NewOpenCV source = %v, want nil", src)
	}
}
