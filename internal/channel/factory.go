//go:build !debug

package channel

// New returns a pipe buffering size values.
func New[T any](size int) Channel[T] {
	return NewBuffered[T](size)
}
