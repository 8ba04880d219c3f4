package memory

import (
	"testing"

	"netplay/proto"
	"netplay/transport"
)

func TestFirstJoinerIsHost(t *testing.T) {
	mesh := NewMesh()
	a := mesh.Join("a")
	b := mesh.Join("b")

	if !a.IsHost() {
		t.Fatal("first joiner should hold host authority")
	}
	if b.IsHost() {
		t.Fatal("second joiner should not be host")
	}
	if got := mesh.HostID(); got != "a" {
		t.Fatalf("HostID = %q, want a", got)
	}
}

func TestBroadcastSkipsSender(t *testing.T) {
	mesh := NewMesh()
	a := mesh.Join("a")
	b := mesh.Join("b")
	c := mesh.Join("c")

	var aGot, bGot, cGot []string
	a.OnMessage(func(msg proto.Message, sender string) { aGot = append(aGot, sender) })
	b.OnMessage(func(msg proto.Message, sender string) { bGot = append(bGot, sender) })
	c.OnMessage(func(msg proto.Message, sender string) { cGot = append(cGot, sender) })

	if err := a.Send(proto.Message{Kind: proto.KindHeartbeat}, transport.Broadcast); err != nil {
		t.Fatalf("Send: %v", err)
	}

	if len(aGot) != 0 {
		t.Fatal("broadcast echoed to the sender")
	}
	if len(bGot) != 1 || bGot[0] != "a" || len(cGot) != 1 || cGot[0] != "a" {
		t.Fatalf("broadcast delivery b=%v c=%v", bGot, cGot)
	}
}

func TestUnicastToUnknownPeerFails(t *testing.T) {
	mesh := NewMesh()
	a := mesh.Join("a")
	if err := a.Send(proto.Message{Kind: proto.KindHeartbeat}, "ghost"); err == nil {
		t.Fatal("expected an error for an unknown target")
	}
}

func TestDropFilterSimulatesPartition(t *testing.T) {
	mesh := NewMesh()
	a := mesh.Join("a")
	b := mesh.Join("b")
	c := mesh.Join("c")

	var bCount, cCount int
	b.OnMessage(func(proto.Message, string) { bCount++ })
	c.OnMessage(func(proto.Message, string) { cCount++ })

	mesh.DropFilter = func(msg proto.Message, from, to string) bool {
		return to == "b"
	}
	a.Send(proto.Message{Kind: proto.KindDiff}, transport.Broadcast)
	mesh.DropFilter = nil
	a.Send(proto.Message{Kind: proto.KindDiff}, transport.Broadcast)

	if bCount != 1 {
		t.Fatalf("partitioned peer got %d messages, want 1", bCount)
	}
	if cCount != 2 {
		t.Fatalf("unaffected peer got %d messages, want 2", cCount)
	}
}

func TestPeerJoinLeaveNotifications(t *testing.T) {
	mesh := NewMesh()
	a := mesh.Join("a")

	var joined, left []string
	a.OnPeerJoin(func(id string) { joined = append(joined, id) })
	a.OnPeerLeave(func(id string) { left = append(left, id) })

	b := mesh.Join("b")
	mesh.Leave("b")

	if len(joined) != 1 || joined[0] != "b" {
		t.Fatalf("join notifications = %v", joined)
	}
	if len(left) != 1 || left[0] != "b" {
		t.Fatalf("leave notifications = %v", left)
	}
	if b.ConnectionState() != transport.StateDisconnected {
		t.Fatalf("left peer state = %s", b.ConnectionState())
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	mesh := NewMesh()
	a := mesh.Join("a")
	b := mesh.Join("b")

	count := 0
	unsub := b.OnMessage(func(proto.Message, string) { count++ })
	a.Send(proto.Message{Kind: proto.KindHeartbeat}, "b")
	unsub()
	a.Send(proto.Message{Kind: proto.KindHeartbeat}, "b")

	if count != 1 {
		t.Fatalf("handler ran %d times after unsubscribe, want 1", count)
	}
}

func TestSenderIDStamped(t *testing.T) {
	mesh := NewMesh()
	a := mesh.Join("a")
	b := mesh.Join("b")

	var got proto.Message
	b.OnMessage(func(msg proto.Message, _ string) { got = msg })
	a.Send(proto.Message{Kind: proto.KindLeave}, "b")

	if got.SenderID != "a" {
		t.Fatalf("SenderID = %q, want a", got.SenderID)
	}
}
