// Package pipe implements the bounded, single-producer/single-consumer
// byte pipe that feeds every remote .ts read (spec §4.A). It is a
// generalization of the ring buffers the teacher carried in
// vlc/buffer.go and stream/buffer/main.go: same fixed-capacity circular
// array and wraparound copy, but built on sync.Cond instead of
// position-addressed polling, since callers here only ever need
// sequential producer/consumer semantics, never random-access reads.
package pipe

import "sync"

// BoundedPipe is a fixed-capacity FIFO byte channel shared between one
// producer and one consumer. It is not restartable: once Read observes
// stop while empty, it keeps returning 0 even if the caller later
// resumes writing.
type BoundedPipe struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond

	data  []byte
	head  int
	count int

	stop   bool
	closed bool
}

// New returns a BoundedPipe with the given capacity in bytes.
func New(capacity int) *BoundedPipe {
	if capacity <= 0 {
		capacity = 1
	}

	p := &BoundedPipe{
		data: make([]byte, capacity),
	}
	p.notEmpty = sync.NewCond(&p.mu)
	p.notFull = sync.NewCond(&p.mu)

	return p
}

// WriteResult reports the outcome of a Write call.
type WriteResult struct {
	// N is the number of bytes actually appended.
	N int
	// Aborted is true if stop fired before any byte was appended.
	Aborted bool
}

// Write appends b to the tail of the pipe, blocking while the pipe is
// full until space opens up or stop is asserted. Stop is checked before
// every wait and after every wake; a partial write already appended
// before stop fires is retained and reported as Completed, not Aborted.
func (p *BoundedPipe) Write(b []byte, stop func() bool) WriteResult {
	p.mu.Lock()
	defer p.mu.Unlock()

	written := 0
	capacity := len(p.data)

	for written < len(b) {
		if p.closed || stop() {
			if written == 0 {
				return WriteResult{Aborted: true}
			}
			return WriteResult{N: written}
		}

		free := capacity - p.count
		if free == 0 {
			p.notFull.Wait()
			continue
		}

		n := min(free, len(b)-written)
		tail := (p.head + p.count) % capacity

		if tail+n <= capacity {
			copy(p.data[tail:tail+n], b[written:written+n])
		} else {
			first := capacity - tail
			copy(p.data[tail:], b[written:written+first])
			copy(p.data[:n-first], b[written+first:written+n])
		}

		p.count += n
		written += n

		p.notEmpty.Signal()
	}

	return WriteResult{N: written}
}

// Read removes up to len(buf) bytes from the head, blocking while the
// pipe is empty until data arrives or stop is asserted. It returns as
// soon as at least one byte is available, or 0 once stop is asserted and
// the pipe is drained (EOF).
func (p *BoundedPipe) Read(buf []byte, stop func() bool) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	for p.count == 0 {
		if p.closed || p.stop || stop() {
			p.stop = true
			return 0
		}
		p.notEmpty.Wait()
	}

	capacity := len(p.data)
	n := min(p.count, len(buf))

	if p.head+n <= capacity {
		copy(buf, p.data[p.head:p.head+n])
	} else {
		first := capacity - p.head
		copy(buf, p.data[p.head:])
		copy(buf[first:], p.data[:n-first])
	}

	p.head = (p.head + n) % capacity
	p.count -= n

	p.notFull.Signal()

	return n
}

// Clear drops all buffered bytes and wakes any blocked writer.
func (p *BoundedPipe) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.head = 0
	p.count = 0

	p.notFull.Broadcast()
}

// Len reports current occupancy. It is advisory: by the time the caller
// observes the value it may already be stale.
func (p *BoundedPipe) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.count
}

// Cap reports the fixed capacity.
func (p *BoundedPipe) Cap() int {
	return len(p.data)
}

// WakeAll wakes every blocked reader and writer without altering
// contents, used to propagate a stop signal that was asserted outside
// the pipe (e.g. global shutdown).
func (p *BoundedPipe) WakeAll() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.notEmpty.Broadcast()
	p.notFull.Broadcast()
}

// Close marks the pipe permanently closed: further Read/Write calls
// return immediately regardless of the stop predicate. Safe to call more
// than once.
func (p *BoundedPipe) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true
	p.notEmpty.Broadcast()
	p.notFull.Broadcast()
}
