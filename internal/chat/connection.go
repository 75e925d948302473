package chat

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"

	"protorelay/internal/lineproto"
	"protorelay/internal/queue"
)

// PerConnection owns one peer socket: it fans inbound lines out to any
// number of subscribers and drains an outbound queue to the socket. Exactly
// one PerConnection exclusively owns a given net.Conn.
type PerConnection struct {
	RemoteAddr string

	conn     net.Conn
	outbound *queue.Unbounded[string]
	maxLine  int

	mu      sync.Mutex
	subs    map[int]*subscription
	nextSub int
}

type subscription struct {
	sink       *queue.Unbounded[string]
	disconnect chan struct{}
	closeOnce  sync.Once
}

func (s *subscription) fireDisconnect() {
	s.closeOnce.Do(func() { close(s.disconnect) })
}

// NewPerConnection wraps conn. maxLine bounds a single inbound record's
// length (0 selects lineproto.DefaultMaxRecordLength).
func NewPerConnection(conn net.Conn, maxLine int) *PerConnection {
	return &PerConnection{
		RemoteAddr: conn.RemoteAddr().String(),
		conn:       conn,
		outbound:   queue.New[string](),
		maxLine:    maxLine,
		subs:       make(map[int]*subscription),
	}
}

// Send enqueues one outbound record; it never blocks on a slow peer.
func (p *PerConnection) Send(record string) {
	p.outbound.Push(record)
}

// Subscribe registers a new consumer of inbound records. Both returned
// channels are owned by the caller: recordCh yields records in the order
// bytes arrived on the socket, and disconnect is closed exactly once, either
// when the caller later calls the returned unsubscribe func or when the
// connection itself terminates.
func (p *PerConnection) Subscribe() (recordCh <-chan string, disconnect <-chan struct{}, unsubscribe func()) {
	sub := &subscription{
		sink:       queue.New[string](),
		disconnect: make(chan struct{}),
	}

	p.mu.Lock()
	id := p.nextSub
	p.nextSub++
	p.subs[id] = sub
	p.mu.Unlock()

	unsub := func() {
		p.mu.Lock()
		delete(p.subs, id)
		p.mu.Unlock()
		sub.sink.Close()
		sub.fireDisconnect()
	}
	return sub.sink.Out(), sub.disconnect, unsub
}

// Run drives the connection until EOF, a transport error, or outbound
// queue closure. It always closes conn and fires every subscriber's
// disconnect signal before returning.
func (p *PerConnection) Run() error {
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		w := lineproto.NewWriter(p.conn)
		for record := range p.outbound.Out() {
			if err := w.WriteRecord(record); err != nil {
				slog.Debug("chat connection write failed", "remote", p.RemoteAddr, "err", err)
				_ = p.conn.Close()
				return
			}
		}
	}()

	r := lineproto.NewReader(p.conn, p.maxLine)
	var readErr error
	for {
		record, err := r.ReadRecord()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				readErr = err
			}
			break
		}
		p.broadcast(record)
	}

	_ = p.conn.Close()
	p.outbound.Close()
	<-writerDone
	p.disconnectAll()
	return readErr
}

// broadcast delivers record to every current subscriber, pruning any whose
// sink has already been closed by its owner.
func (p *PerConnection) broadcast(record string) {
	p.mu.Lock()
	subs := make([]*subscription, 0, len(p.subs))
	ids := make([]int, 0, len(p.subs))
	for id, sub := range p.subs {
		subs = append(subs, sub)
		ids = append(ids, id)
	}
	p.mu.Unlock()

	for i, sub := range subs {
		if ok := sub.sink.Push(record); !ok {
			p.mu.Lock()
			delete(p.subs, ids[i])
			p.mu.Unlock()
			sub.fireDisconnect()
		}
	}
}

func (p *PerConnection) disconnectAll() {
	p.mu.Lock()
	subs := make([]*subscription, 0, len(p.subs))
	for _, sub := range p.subs {
		subs = append(subs, sub)
	}
	p.subs = make(map[int]*subscription)
	p.mu.Unlock()

	for _, sub := range subs {
		sub.sink.Close()
		sub.fireDisconnect()
	}
}
