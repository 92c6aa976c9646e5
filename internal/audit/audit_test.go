package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"
)

func TestRingSinkNewestFirst(t *testing.T) {
	sink := NewRingSink(4)
	for i := 0; i < 6; i++ {
		sink.Emit(context.Background(), Event{EventType: fmt.Sprintf("e%d", i)})
	}

	got := sink.Recent(0)
	if len(got) != 4 {
		t.Fatalf("len = %d, want 4 (capacity)", len(got))
	}
	want := []string{"e5", "e4", "e3", "e2"}
	for i, ev := range got {
		if ev.EventType != want[i] {
			t.Fatalf("Recent[%d] = %s, want %s", i, ev.EventType, want[i])
		}
	}

	if got := sink.Recent(2); len(got) != 2 || got[0].EventType != "e5" {
		t.Fatalf("Recent(2) = %+v", got)
	}
}

func TestRingSinkBeforeWraparound(t *testing.T) {
	sink := NewRingSink(8)
	sink.Emit(context.Background(), Event{EventType: "only"})

	got := sink.Recent(100)
	if len(got) != 1 || got[0].EventType != "only" {
		t.Fatalf("Recent = %+v", got)
	}
}

func TestJSONWriterSinkWritesLines(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONWriterSink(&buf)

	sink.Emit(context.Background(), Event{EventType: "a", Success: true})
	sink.Emit(context.Background(), Event{EventType: "b"})

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}
	var ev Event
	if err := json.Unmarshal(lines[0], &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ev.EventType != "a" || !ev.Success {
		t.Fatalf("decoded = %+v", ev)
	}
}

func TestDispatcherDeliversAndDrains(t *testing.T) {
	sink := NewChannelSink(16)
	d := NewDispatcher(Config{Enabled: true, BufferSize: 16, DropIfFull: true}, sink)

	for i := 0; i < 5; i++ {
		d.Emit(context.Background(), Event{EventType: "e"})
	}
	d.Close()

	var n int
	for {
		select {
		case <-sink.Events():
			n++
		case <-time.After(100 * time.Millisecond):
			if n != 5 {
				t.Fatalf("delivered %d events, want 5", n)
			}
			return
		}
	}
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	block := make(chan struct{})
	sink := blockingSink{release: block}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1, DropIfFull: true}, sink)
	defer func() {
		close(block)
		d.Close()
	}()

	// First event occupies the worker, second fills the buffer, the rest
	// must be dropped.
	for i := 0; i < 10; i++ {
		d.Emit(context.Background(), Event{EventType: "e"})
	}

	if d.Dropped() == 0 {
		t.Fatal("expected dropped events with a full buffer")
	}
}

type blockingSink struct{ release chan struct{} }

func (s blockingSink) Emit(context.Context, Event) { <-s.release }

func TestNilDispatcherIsSafe(t *testing.T) {
	var d *Dispatcher
	d.Emit(context.Background(), Event{})
	d.Close()
	if d.Dropped() != 0 {
		t.Fatal("nil dispatcher reported drops")
	}
}

func TestDisabledDispatcherIsNil(t *testing.T) {
	if d := NewDispatcher(Config{Enabled: false}, nil); d != nil {
		t.Fatal("disabled config should return nil dispatcher")
	}
}

func TestMultiSinkFansOut(t *testing.T) {
	a := NewRingSink(4)
	b := NewRingSink(4)
	m := MultiSink{a, nil, b}

	m.Emit(context.Background(), Event{EventType: "x"})

	if len(a.Recent(0)) != 1 || len(b.Recent(0)) != 1 {
		t.Fatal("event not delivered to all sinks")
	}
}
