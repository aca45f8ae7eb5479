// SPDX-License-Identifier: MIT
package control

import (
	"errors"
	"math"
	"sync"
	"testing"
)

func TestQueueFIFO(t *testing.T) {
	q := NewQueue(8)
	in := []Intent{
		{Kind: Activate, Voice: 0},
		{Kind: SetStretch, Voice: 2, Value: 7.25},
		{Kind: FadeOut, Voice: 1},
		{Kind: Toggle, Voice: -1, Value: math.Inf(-1)},
	}
	for _, i := range in {
		if err := q.Push(i); err != nil {
			t.Fatal(err)
		}
	}
	if q.Len() != len(in) {
		t.Errorf("Len = %d, want %d", q.Len(), len(in))
	}
	for k, want := range in {
		got, ok := q.Poll()
		if !ok {
			t.Fatalf("Poll %d reported drained", k)
		}
		if got != want {
			t.Errorf("Poll %d = %+v, want %+v", k, got, want)
		}
	}
	if _, ok := q.Poll(); ok {
		t.Error("Poll on an empty queue reported an intent")
	}
}

func TestQueueFull(t *testing.T) {
	q := NewQueue(2)
	_ = q.Push(Intent{Kind: Activate})
	_ = q.Push(Intent{Kind: Activate, Voice: 1})
	if err := q.Push(Intent{Kind: Activate, Voice: 2}); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("Push on a full queue error = %v, want ErrQueueFull", err)
	}
	if _, ok := q.Poll(); !ok {
		t.Fatal("Poll failed")
	}
	if err := q.Push(Intent{Kind: FadeOut, Voice: 2}); err != nil {
		t.Errorf("Push after Poll: %v", err)
	}
}

func TestQueueConcurrentProducers(t *testing.T) {
	q := NewQueue(1024)
	var wg sync.WaitGroup
	for p := range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 100 {
				_ = q.Push(Intent{Kind: SetStretch, Voice: p, Value: float64(i)})
			}
		}()
	}
	wg.Wait()

	last := map[int]float64{0: -1, 1: -1, 2: -1, 3: -1}
	n := 0
	for {
		in, ok := q.Poll()
		if !ok {
			break
		}
		if in.Value <= last[in.Voice] {
			t.Fatalf("voice %d values out of order: %v after %v", in.Voice, in.Value, last[in.Voice])
		}
		last[in.Voice] = in.Value
		n++
	}
	if n != 400 {
		t.Errorf("polled %d intents, want 400", n)
	}
}

func TestPollDoesNotAllocate(t *testing.T) {
	q := NewQueue(4)
	allocs := testing.AllocsPerRun(100, func() {
		if _, ok := q.Poll(); ok {
			t.Fatal("unexpected intent")
		}
	})
	if allocs != 0 {
		t.Errorf("Poll allocated %v times per run, want 0", allocs)
	}
}
