//go:build opencv

package smile

var (
	_ Oracle = (*Cascade)(nil)
	_ Closer = (*Cascade)(nil)
)
