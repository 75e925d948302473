// Package chat implements the budget-chat relay: a line-oriented,
// multi-room-in-name-only (the reference protocol has exactly one room)
// TCP chat service built from an accept loop, per-connection actors, a
// single-consumer coordinator, and a name ceremony gating admission.
package chat

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// stagingTimeout is the shell-imposed deadline on the name ceremony; the
// ceremony itself has no built-in timeout.
const stagingTimeout = 10 * time.Second

// Server is the chat relay's accept loop and routing map. It owns no member
// state itself — that belongs to Room — but mediates every outbound record
// Room wants delivered to a live connection.
type Server struct {
	listener net.Listener
	maxLine  int
	room     *Room

	nextMember atomic.Uint64

	routingMu sync.Mutex
	routing   map[MemberID]*PerConnection
}

// NewServer constructs a Server bound to an already-listening listener.
// maxLine bounds a single chat line's length (0 selects the line codec's
// default).
func NewServer(listener net.Listener, maxLine int) *Server {
	return &Server{
		listener: listener,
		maxLine:  maxLine,
		room:     NewRoom(),
		routing:  make(map[MemberID]*PerConnection),
	}
}

// Addr returns the server's bound address.
func (s *Server) Addr() net.Addr { return s.listener.Addr() }

// Room exposes the underlying coordinator, chiefly so a synthetic test
// participant can join without going through a real socket.
func (s *Server) Room() *Room { return s.room }

// Serve runs the accept loop and the Room/routing goroutines until ctx is
// cancelled, then closes the listener and returns.
func (s *Server) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go s.room.Run(ctx)
	go s.routeOutbound()

	go func() {
		<-ctx.Done()
		_ = s.listener.Close()
	}()

	var wg sync.WaitGroup
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				wg.Wait()
				return nil
			}
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.HandleConn(ctx, conn)
		}()
	}
}

// routeOutbound is the single consumer of Room's outbound channel: a member
// appears in routing iff Room has processed its Connected event but not yet
// its Disconnected event, and races between removal and delivery are
// resolved by silent discard here.
func (s *Server) routeOutbound() {
	for ev := range s.room.Outbound() {
		s.routingMu.Lock()
		pc, ok := s.routing[ev.Member]
		s.routingMu.Unlock()
		if !ok {
			continue
		}
		pc.Send(ev.Text)
	}
}

// HandleConn runs the full name-ceremony-then-relay lifecycle for one
// already-accepted connection. It is exported so a WebSocket-upgraded
// connection (see wsbridge.go) can join the same relay as a raw TCP peer.
func (s *Server) HandleConn(ctx context.Context, conn net.Conn) {
	remote := conn.RemoteAddr().String()

	stagingCtx, cancel := context.WithTimeout(ctx, stagingTimeout)
	name, err := Conduct(stagingCtx, conn, s.maxLine)
	cancel()
	if err != nil {
		if errors.Is(err, ErrInvalidName) {
			slog.Info("chat peer rejected", "remote", remote, "reason", "invalid name")
		} else {
			slog.Debug("chat peer aborted staging", "remote", remote, "err", err)
		}
		return
	}

	member := MemberID(s.nextMember.Add(1))
	pc := NewPerConnection(conn, s.maxLine)

	s.routingMu.Lock()
	s.routing[member] = pc
	s.routingMu.Unlock()

	records, _, unsubscribe := pc.Subscribe()
	forwardDone := make(chan struct{})
	go func() {
		defer close(forwardDone)
		for record := range records {
			s.room.Inbound() <- Chatted{Member: member, Text: record}
		}
	}()

	s.room.Inbound() <- Connected{Member: member, Name: name}
	slog.Info("chat member connected", "remote", remote, "member", member, "name", name)

	if err := pc.Run(); err != nil {
		slog.Debug("chat connection ended", "remote", remote, "member", member, "err", err)
	}

	unsubscribe()
	<-forwardDone

	s.routingMu.Lock()
	delete(s.routing, member)
	s.routingMu.Unlock()

	s.room.Inbound() <- Disconnected{Member: member}
	slog.Info("chat member disconnected", "remote", remote, "member", member, "name", name)
}
