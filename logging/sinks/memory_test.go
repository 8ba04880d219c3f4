package sinks

import (
	"context"
	"testing"

	"netplay/logging"
)

func TestMemorySinkRetainsAndFilters(t *testing.T) {
	sink := NewMemorySink()
	sink.Write(logging.Event{Type: "replication.patch_skipped", Tick: 1})
	sink.Write(logging.Event{Type: "lifecycle.rollback", Tick: 2})
	sink.Write(logging.Event{Type: "replication.patch_skipped", Tick: 3})

	if got := len(sink.Events()); got != 3 {
		t.Fatalf("retained %d events, want 3", got)
	}
	skipped := sink.EventsOfType("replication.patch_skipped")
	if len(skipped) != 2 || skipped[0].Tick != 1 || skipped[1].Tick != 3 {
		t.Fatalf("filtered events = %+v", skipped)
	}
}

func TestMemorySinkEventsReturnsCopy(t *testing.T) {
	sink := NewMemorySink()
	sink.Write(logging.Event{Type: "election.started"})

	events := sink.Events()
	events[0].Type = "mutated"
	if sink.Events()[0].Type != "election.started" {
		t.Fatal("caller mutation leaked into the sink")
	}
}

func TestMemorySinkReset(t *testing.T) {
	sink := NewMemorySink()
	sink.Write(logging.Event{Type: "lifecycle.player_joined"})
	sink.Reset()
	if len(sink.Events()) != 0 {
		t.Fatal("reset did not clear events")
	}
	if err := sink.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
