package ws

import (
	"errors"
	"sync"
)

var errQueueClosed = errors.New("ws: queue closed")

// frameQueue is a FIFO of outgoing frames. push never blocks: a subscription's
// initial burst is produced by the store's event drain, which must not wait on
// the network. limit caps the pending frames; 0 means no cap.
type frameQueue struct {
	mu     sync.Mutex
	frames []Frame
	limit  int
	closed bool
	ready  chan struct{}
}

func newFrameQueue(limit int) *frameQueue {
	return &frameQueue{limit: limit, ready: make(chan struct{}, 1)}
}

func (q *frameQueue) push(f Frame) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return errQueueClosed
	}
	if q.limit > 0 && len(q.frames) >= q.limit {
		return ErrSendBufferFull
	}
	q.frames = append(q.frames, f)
	q.signal()
	return nil
}

// close stops further pushes. Frames already queued are still handed out.
func (q *frameQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		q.signal()
	}
}

func (q *frameQueue) isClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// take hands out every pending frame and reports whether the queue is closed.
func (q *frameQueue) take() ([]Frame, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	frames := q.frames
	q.frames = nil
	return frames, q.closed
}

func (q *frameQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.frames)
}

func (q *frameQueue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}
