package channel

// Pipe is a Channel backed by a Go channel. With capacity zero every Send is
// a rendezvous with a receiver.
type Pipe[T any] struct {
	ch chan T
}

// NewBuffered creates a pipe holding up to size values.
func NewBuffered[T any](size int) *Pipe[T] {
	return &Pipe[T]{ch: make(chan T, size)}
}

// NewUnbuffered creates a pipe with no buffer.
func NewUnbuffered[T any]() *Pipe[T] {
	return NewBuffered[T](0)
}

func (p *Pipe[T]) Send(v T) {
	p.ch <- v
}

// TrySend reports whether v was taken without blocking.
func (p *Pipe[T]) TrySend(v T) bool {
	select {
	case p.ch <- v:
		return true
	default:
		return false
	}
}

func (p *Pipe[T]) Receive() <-chan T {
	return p.ch
}

// Drain takes up to max values that are ready now. It stops early when the
// pipe is empty or closed.
func (p *Pipe[T]) Drain(max int) []T {
	var out []T
	for len(out) < max {
		select {
		case v, ok := <-p.ch:
			if !ok {
				return out
			}
			out = append(out, v)
		default:
			return out
		}
	}
	return out
}

// Len is the number of buffered values; always 0 without a buffer.
func (p *Pipe[T]) Len() int {
	return len(p.ch)
}

func (p *Pipe[T]) Close() {
	close(p.ch)
}
