//go:build !opencv

package smile

import "fmt"

func newCascade(cfg CascadeConfig) (Oracle, error) {
	return nil, fmt.Errorf("%w: cascade (rebuild with -tags opencv)", ErrUnsupported)
}
