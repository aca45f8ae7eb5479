// SPDX-License-Identifier: MIT
package control

import (
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/goleak"
)

func startSurface(t *testing.T, opts SurfaceOptions) (*Surface, *Queue, *Outbox) {
	t.Helper()
	opts.Addr = "127.0.0.1:0"
	q := NewQueue(16)
	out := NewOutbox(16)
	s := NewSurface(opts, q, out)
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	return s, q, out
}

func dial(t *testing.T, s *Surface) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws://"+s.Addr()+"/control", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSurfaceQueuesIntents(t *testing.T) {
	defer goleak.VerifyNone(t)

	s, q, _ := startSurface(t, SurfaceOptions{Voices: 4, Stretch: StretchRange{Min: 1, Max: 9}})
	defer s.Close()
	conn := dial(t, s)
	defer conn.Close()

	frames := []string{
		`{"address":"/1/toggle2","args":[1]}`,
		`{"address":"/1/fader2","args":[0.5]}`,
		`not json`,
		`{"address":"/1/toggle9","args":[1]}`,
		`{"address":"/1/toggle2","args":[0]}`,
	}
	for _, f := range frames {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
			t.Fatal(err)
		}
	}
	waitFor(t, "intents", func() bool { return s.Accepted()+s.Rejected() == uint64(len(frames)) })

	if s.Rejected() != 2 {
		t.Errorf("rejected = %d, want 2", s.Rejected())
	}
	want := []Intent{
		{Kind: Activate, Voice: 1},
		{Kind: SetStretch, Voice: 1, Value: 5},
		{Kind: FadeOut, Voice: 1},
	}
	for k, w := range want {
		got, ok := q.Poll()
		if !ok || got != w {
			t.Errorf("intent %d = %+v, %v, want %+v", k, got, ok, w)
		}
	}
}

func TestSurfaceBroadcastsEvents(t *testing.T) {
	defer goleak.VerifyNone(t)

	s, _, out := startSurface(t, SurfaceOptions{})
	defer s.Close()
	conn := dial(t, s)
	defer conn.Close()
	waitFor(t, "client registration", func() bool { return s.Clients() == 1 })

	out.Indicator(0, true)
	out.Level(2, 0.75)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got []Message
	for range 2 {
		var m Message
		if err := conn.ReadJSON(&m); err != nil {
			t.Fatalf("read: %v", err)
		}
		got = append(got, m)
	}
	if got[0].Address != "/1/led1" || got[0].Args[0] != 1 {
		t.Errorf("first message = %+v", got[0])
	}
	if got[1].Address != "/1/fader3" || got[1].Args[0] != 0.75 {
		t.Errorf("second message = %+v", got[1])
	}
}

func TestSurfaceServesMetrics(t *testing.T) {
	defer goleak.VerifyNone(t)

	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "paulring_callbacks_total 3\n")
	})
	s, _, _ := startSurface(t, SurfaceOptions{Metrics: metrics})
	defer s.Close()

	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}
	resp, err := client.Get("http://" + s.Addr() + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), "paulring_callbacks_total") {
		t.Errorf("metrics body = %q", body)
	}
}

func TestOutboxDropsWhenFull(t *testing.T) {
	out := NewOutbox(1)
	out.Level(0, 0.5)
	out.Level(0, 0.6)
	out.Indicator(0, false)
	if out.Dropped() != 2 {
		t.Errorf("dropped = %d, want 2", out.Dropped())
	}
	e := <-out.Events()
	if e.Level != 0.5 {
		t.Errorf("kept event = %+v, want the first", e)
	}

	allocs := testing.AllocsPerRun(100, func() { out.Level(1, 0.1) })
	if allocs != 0 {
		t.Errorf("Level allocated %v times per run, want 0", allocs)
	}
}
