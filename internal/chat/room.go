package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"protorelay/internal/queue"
)

// MemberID identifies one joined chat member for the lifetime of its
// connection. It is assigned by the shell, not by Room.
type MemberID uint64

// Connected is emitted once a peer's name ceremony succeeds.
type Connected struct {
	Member MemberID
	Name   string
}

// Disconnected is emitted once a member's connection ends.
type Disconnected struct {
	Member MemberID
}

// Chatted is emitted for every inbound line from a joined member.
type Chatted struct {
	Member MemberID
	Text   string
}

// inboundEvent is the union Room's single-consumer input channel carries.
type inboundEvent any

// Outbound is one record Room wants delivered to one member's connection.
// The shell is the single consumer of Room's outbound channel and is
// responsible for routing each record to the right PerConnection's
// outbound queue.
type Outbound struct {
	Member MemberID
	Text   string
}

// Room is the authoritative member set and broadcast router described as
// the chat coordinator. All mutation of its member map happens on a single
// goroutine processing inbound events strictly in arrival order, which is
// what gives the join/leave notice ordering guarantees their meaning.
type Room struct {
	inbound  chan inboundEvent
	outbound *queue.Unbounded[Outbound]
	members  map[MemberID]string
}

// NewRoom constructs an empty Room. Call Run in its own goroutine to start
// processing events.
func NewRoom() *Room {
	return &Room{
		inbound:  make(chan inboundEvent, 64),
		outbound: queue.New[Outbound](),
		members:  make(map[MemberID]string),
	}
}

// Inbound returns the channel the shell sends Connected/Disconnected/
// Chatted events on. It must be the only writer-side fan-in point: the
// ordering invariants depend on there being a single consumer reading a
// single channel.
func (r *Room) Inbound() chan<- inboundEvent { return r.inbound }

// Outbound returns the channel Room emits records on for the shell to
// route to individual connections. It never blocks Room's event loop: the
// queue backing it is unbounded, matching the outbound-queue policy used
// everywhere else in this relay.
func (r *Room) Outbound() <-chan Outbound { return r.outbound.Out() }

// Run drains Inbound until ctx is cancelled or the channel is closed, which
// this implementation treats as orderly shutdown.
func (r *Room) Run(ctx context.Context) {
	defer r.outbound.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-r.inbound:
			if !ok {
				return
			}
			r.handle(ev)
		}
	}
}

func (r *Room) handle(ev inboundEvent) {
	switch e := ev.(type) {
	case Connected:
		r.onConnected(e)
	case Disconnected:
		r.onDisconnected(e)
	case Chatted:
		r.onChatted(e)
	case snapshotQuery:
		r.onSnapshotQuery(e)
	default:
		slog.Warn("room received unrecognized event", "type", fmt.Sprintf("%T", ev))
	}
}

// MemberInfo is a read-only view of one joined member, returned by
// Snapshot for operator introspection.
type MemberInfo struct {
	ID   MemberID
	Name string
}

type snapshotQuery struct {
	reply chan []MemberInfo
}

func (r *Room) onSnapshotQuery(q snapshotQuery) {
	out := make([]MemberInfo, 0, len(r.members))
	for id, name := range r.members {
		out = append(out, MemberInfo{ID: id, Name: name})
	}
	q.reply <- out
}

// Snapshot returns the current member list. It round-trips through Room's
// single-consumer event loop so it never races with membership changes.
// It returns nil if ctx is cancelled before Room replies (e.g. during
// shutdown).
func (r *Room) Snapshot(ctx context.Context) []MemberInfo {
	reply := make(chan []MemberInfo, 1)
	select {
	case r.inbound <- snapshotQuery{reply: reply}:
	case <-ctx.Done():
		return nil
	}
	select {
	case members := <-reply:
		return members
	case <-ctx.Done():
		return nil
	}
}

func (r *Room) onConnected(e Connected) {
	others := make([]string, 0, len(r.members))
	for _, name := range r.members {
		others = append(others, name)
	}
	r.members[e.Member] = e.Name

	r.emit(e.Member, "* The room contains: "+strings.Join(others, ", "))
	for id := range r.members {
		if id == e.Member {
			continue
		}
		r.emit(id, "* "+e.Name+" has entered the room")
	}
	slog.Info("member joined", "member", e.Member, "name", e.Name, "room_size", len(r.members))
}

func (r *Room) onDisconnected(e Disconnected) {
	name, known := r.members[e.Member]
	if !known {
		return
	}
	delete(r.members, e.Member)
	for id := range r.members {
		r.emit(id, "* "+name+" has left the room")
	}
	slog.Info("member left", "member", e.Member, "name", name, "room_size", len(r.members))
}

func (r *Room) onChatted(e Chatted) {
	name, known := r.members[e.Member]
	if !known {
		return
	}
	line := "[" + name + "] " + e.Text
	for id := range r.members {
		if id == e.Member {
			continue
		}
		r.emit(id, line)
	}
}

// emit enqueues one outbound record. Push only returns false once the queue
// has been closed (Room shutting down), in which case there is no shell
// left to route the record to and it is simply dropped.
func (r *Room) emit(member MemberID, text string) {
	r.outbound.Push(Outbound{Member: member, Text: text})
}
