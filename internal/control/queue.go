// SPDX-License-Identifier: MIT
package control

import (
	"encoding/binary"
	"errors"
	"math"
	"sync"

	"github.com/smallnest/ringbuffer"
)

// recordSize is the encoded size of one Intent.
const recordSize = 16

// ErrQueueFull is returned by Push when the queue has no room for a record.
var ErrQueueFull = errors.New("control: intent queue full")

// Queue is a bounded FIFO of Intents between control goroutines and the
// audio thread. Producers are serialized by a mutex; the single consumer
// never waits on it and polls with TryRead, so a contended poll reads as
// drained and is retried on the next callback.
type Queue struct {
	buf *ringbuffer.RingBuffer

	mu      sync.Mutex // Serializes producers.
	scratch [recordSize]byte

	rec [recordSize]byte // Consumer-side decode buffer.
}

// NewQueue returns a queue holding up to capacity intents.
func NewQueue(capacity int) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue{buf: ringbuffer.New(capacity * recordSize)}
}

// Push enqueues an intent. It never blocks on the consumer.
func (q *Queue) Push(in Intent) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.buf.Free() < recordSize {
		return ErrQueueFull
	}
	encode(q.scratch[:], in)
	if _, err := q.buf.Write(q.scratch[:]); err != nil {
		return err
	}
	return nil
}

// Poll dequeues the oldest intent. It returns false when the queue is
// drained or momentarily locked by a producer. Only one goroutine may poll.
func (q *Queue) Poll() (Intent, bool) {
	n, err := q.buf.TryRead(q.rec[:])
	if err != nil || n != recordSize {
		return Intent{}, false
	}
	return decode(q.rec[:]), true
}

// Len returns the number of queued intents.
func (q *Queue) Len() int {
	return q.buf.Length() / recordSize
}

func encode(b []byte, in Intent) {
	b[0] = byte(in.Kind)
	b[1], b[2], b[3] = 0, 0, 0
	binary.LittleEndian.PutUint32(b[4:8], uint32(int32(in.Voice)))
	binary.LittleEndian.PutUint64(b[8:16], math.Float64bits(in.Value))
}

func decode(b []byte) Intent {
	return Intent{
		Kind:  Kind(b[0]),
		Voice: int(int32(binary.LittleEndian.Uint32(b[4:8]))),
		Value: math.Float64frombits(binary.LittleEndian.Uint64(b[8:16])),
	}
}
