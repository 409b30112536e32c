package signaling

import "sync"

// outbox is a byte-bounded FIFO of frames waiting to be written to one peer.
//
// Pushes never block, so a slow peer can only lose its own frames. An outbox
// may start held: frames pushed while held are kept but not handed to the
// writer until release, which first prepends the frames the owner must send
// before anything routed from other peers.
type outbox struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	closed   bool
	held     bool

	maxBytes int
	curBytes int
	frames   [][]byte
}

func newOutbox(maxBytes int, held bool) *outbox {
	q := &outbox{maxBytes: maxBytes, held: held}
	q.notEmpty = sync.NewCond(&q.mu)
	return q
}

func (q *outbox) push(frame []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrLinkClosed
	}
	if q.curBytes+len(frame) > q.maxBytes {
		return ErrOutboxFull
	}
	q.frames = append(q.frames, frame)
	q.curBytes += len(frame)
	if !q.held {
		q.notEmpty.Signal()
	}
	return nil
}

// release puts first ahead of everything queued so far and lets the writer
// drain the outbox. first is not subject to the byte budget.
func (q *outbox) release(first ...[]byte) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	if len(first) > 0 {
		frames := make([][]byte, 0, len(first)+len(q.frames))
		frames = append(frames, first...)
		q.frames = append(frames, q.frames...)
		for _, f := range first {
			q.curBytes += len(f)
		}
	}
	q.held = false
	q.mu.Unlock()
	q.notEmpty.Broadcast()
}

// pop blocks until a frame is deliverable or the outbox is closed.
func (q *outbox) pop() ([]byte, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for (q.held || len(q.frames) == 0) && !q.closed {
		q.notEmpty.Wait()
	}
	if q.closed {
		return nil, false
	}
	frame := q.frames[0]
	q.frames[0] = nil
	q.frames = q.frames[1:]
	q.curBytes -= len(frame)
	return frame, true
}

func (q *outbox) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.frames)
}

// close discards pending frames and wakes the writer.
func (q *outbox) close() {
	q.mu.Lock()
	q.closed = true
	q.frames = nil
	q.curBytes = 0
	q.mu.Unlock()
	q.notEmpty.Broadcast()
}
