//go:build debug

package channel

// New ignores size under the debug tag so a slow consumer stalls the
// producer immediately.
func New[T any](size int) Channel[T] {
	return NewUnbuffered[T]()
}
