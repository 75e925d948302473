package chat

import (
	"context"
	"testing"
	"time"
)

func drainOutbound(t *testing.T, room *Room, n int) []Outbound {
	t.Helper()
	out := make([]Outbound, 0, n)
	deadline := time.After(2 * time.Second)
	for len(out) < n {
		select {
		case ev := <-room.Outbound():
			out = append(out, ev)
		case <-deadline:
			t.Fatalf("timed out waiting for %d outbound events, got %d", n, len(out))
		}
	}
	return out
}

func startRoom(t *testing.T) (*Room, func()) {
	t.Helper()
	room := NewRoom()
	ctx, cancel := context.WithCancel(context.Background())
	go room.Run(ctx)
	return room, cancel
}

func TestRoomJoinOrder(t *testing.T) {
	room, cancel := startRoom(t)
	defer cancel()

	room.Inbound() <- Connected{Member: 1, Name: "alice"}
	events := drainOutbound(t, room, 1)
	if events[0].Member != 1 || events[0].Text != "* The room contains: " {
		t.Fatalf("got %#v", events[0])
	}

	room.Inbound() <- Connected{Member: 2, Name: "bob"}
	events = drainOutbound(t, room, 2)

	var sawAliceNotice, sawBobWelcome bool
	for _, ev := range events {
		if ev.Member == 1 && ev.Text == "* bob has entered the room" {
			sawAliceNotice = true
		}
		if ev.Member == 2 && ev.Text == "* The room contains: alice" {
			sawBobWelcome = true
		}
	}
	if !sawAliceNotice {
		t.Fatalf("alice did not receive bob's join notice: %#v", events)
	}
	if !sawBobWelcome {
		t.Fatalf("bob did not receive room-contents listing alice: %#v", events)
	}
}

func TestRoomRelay(t *testing.T) {
	room, cancel := startRoom(t)
	defer cancel()

	room.Inbound() <- Connected{Member: 1, Name: "alice"}
	drainOutbound(t, room, 1)
	room.Inbound() <- Connected{Member: 2, Name: "bob"}
	drainOutbound(t, room, 2)

	room.Inbound() <- Chatted{Member: 1, Text: "hi"}
	events := drainOutbound(t, room, 1)
	if events[0].Member != 2 || events[0].Text != "[alice] hi" {
		t.Fatalf("got %#v, want bob to receive [alice] hi", events[0])
	}
}

func TestRoomLeaveNotice(t *testing.T) {
	room, cancel := startRoom(t)
	defer cancel()

	room.Inbound() <- Connected{Member: 1, Name: "alice"}
	drainOutbound(t, room, 1)
	room.Inbound() <- Connected{Member: 2, Name: "bob"}
	drainOutbound(t, room, 2)

	room.Inbound() <- Disconnected{Member: 1}
	events := drainOutbound(t, room, 1)
	if events[0].Member != 2 || events[0].Text != "* alice has left the room" {
		t.Fatalf("got %#v", events[0])
	}
}

func TestRoomNeverEmitsLeaveForUnknownMember(t *testing.T) {
	room, cancel := startRoom(t)
	defer cancel()

	room.Inbound() <- Disconnected{Member: 99}

	select {
	case ev := <-room.Outbound():
		t.Fatalf("unexpected outbound event for unknown member: %#v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRoomDropsMessageFromUnknownMember(t *testing.T) {
	room, cancel := startRoom(t)
	defer cancel()

	room.Inbound() <- Connected{Member: 1, Name: "alice"}
	drainOutbound(t, room, 1)

	room.Inbound() <- Chatted{Member: 99, Text: "ghost"}

	select {
	case ev := <-room.Outbound():
		t.Fatalf("unexpected outbound event from unknown sender: %#v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}
