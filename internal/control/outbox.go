// SPDX-License-Identifier: MIT
package control

import "sync/atomic"

// Event is a voice status update leaving the audio thread.
type Event struct {
	Voice     int
	Level     float64
	Indicator bool // Set for LED events; Level is ignored.
	On        bool
}

// Message converts the event to its outbound control message.
func (e Event) Message() Message {
	if e.Indicator {
		return IndicatorMessage(e.Voice, e.On)
	}
	return LevelMessage(e.Voice, e.Level)
}

// Outbox is a bounded channel of Events written by the audio thread. Writes
// never block; events are dropped and counted when it is full.
type Outbox struct {
	events  chan Event
	dropped atomic.Uint64
}

// NewOutbox returns an outbox buffering up to size events.
func NewOutbox(size int) *Outbox {
	return &Outbox{events: make(chan Event, size)}
}

// Level queues a level update for voice.
func (o *Outbox) Level(voice int, level float64) {
	o.offer(Event{Voice: voice, Level: level})
}

// Indicator queues an LED update for voice.
func (o *Outbox) Indicator(voice int, on bool) {
	o.offer(Event{Voice: voice, Indicator: true, On: on})
}

func (o *Outbox) offer(e Event) {
	select {
	case o.events <- e:
	default:
		o.dropped.Add(1)
	}
}

// Events returns the receive side for the forwarding goroutine.
func (o *Outbox) Events() <-chan Event { return o.events }

// Dropped returns how many events were discarded.
func (o *Outbox) Dropped() uint64 { return o.dropped.Load() }
