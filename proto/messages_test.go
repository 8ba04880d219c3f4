package proto

import (
	"strings"
	"testing"

	"netplay/diff"
	"netplay/sim"
	"netplay/standby"
	"netplay/syncer"
)

func TestEncodeRejectsMissingPayload(t *testing.T) {
	_, err := Encode(Message{Kind: KindDiff})
	if err == nil || !strings.Contains(err.Error(), "missing payload") {
		t.Fatalf("expected missing-payload error, got %v", err)
	}
}

func TestDecodeRejectsUnknownKind(t *testing.T) {
	_, err := Decode([]byte(`{"kind":"warp"}`))
	if err == nil || !strings.Contains(err.Error(), "unknown message kind") {
		t.Fatalf("expected unknown-kind error, got %v", err)
	}
}

func TestActionEnvelopeRoundTrip(t *testing.T) {
	msg := Message{
		Kind:     KindAction,
		SenderID: "p2",
		Action: &sim.QueuedAction{
			Name:      "move",
			PlayerID:  "p2",
			Tick:      42,
			Timestamp: 1700000000000,
			Payload:   map[string]any{"dx": 1.0},
		},
	}
	raw, err := Encode(msg)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Kind != KindAction || decoded.Action.Name != "move" || decoded.Action.Tick != 42 {
		t.Fatalf("round trip lost fields: %+v", decoded.Action)
	}
	if decoded.Ver != Version {
		t.Fatalf("expected protocol version %d, got %d", Version, decoded.Ver)
	}
}

func TestDiffEnvelopeCarriesPathSegments(t *testing.T) {
	msg := Message{
		Kind: KindDiff,
		Diff: &syncer.WireDiff{
			Tick:         7,
			Revision:     3,
			BaseRevision: 2,
			Patches: []diff.Patch{
				{Op: diff.OpSet, Path: []string{"players", "p.1", "x"}, Value: 4.0},
			},
		},
	}
	raw, err := Encode(msg)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	path := decoded.Diff.Patches[0].Path
	// Segments survive verbatim; a dot inside a key never splits it.
	if len(path) != 3 || path[1] != "p.1" {
		t.Fatalf("path segments corrupted: %v", path)
	}
}

func TestHeartbeatEnvelopeRoundTrip(t *testing.T) {
	msg := Message{
		Kind:     KindHeartbeat,
		SenderID: "host",
		Heartbeat: &standby.Heartbeat{
			Tick:          90,
			Revision:      88,
			SessionID:     "session-1",
			QueueChecksum: 12345,
			QueueTail: []sim.QueuedAction{
				{Name: "move", PlayerID: "p1", Tick: 90},
			},
		},
	}
	raw, err := Encode(msg)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	hb := decoded.Heartbeat
	if hb.SessionID != "session-1" || len(hb.QueueTail) != 1 || hb.QueueTail[0].Tick != 90 {
		t.Fatalf("heartbeat round trip lost fields: %+v", hb)
	}
}
