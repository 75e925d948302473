// Package speed implements the speed-enforcement coordinator: the
// supplementary business logic that sits behind the frame codec and
// transport, pairing a car's plate sightings from different cameras on the
// same road into speeding tickets and routing those tickets to whichever
// dispatcher is registered for the road.
package speed

import (
	"context"
	"log/slog"
	"strconv"

	"protorelay/internal/frameproto"
	"protorelay/internal/queue"
)

// CameraID and DispatcherID are assigned by the shell, one per connection,
// the same way Room's MemberID is assigned by the chat shell.
type CameraID uint64
type DispatcherID uint64

// violationToleranceHundredths is the 0.5 mph grace the wire schema's
// 100x-scaled speed field implies before a ticket is warranted.
const violationToleranceHundredths = 50

const secondsPerDay = 86400

// RegisterCamera records one camera connection's road, mile marker, and
// posted limit, learned from its IAmCamera handshake.
type RegisterCamera struct {
	Camera CameraID
	Road   uint16
	Mile   uint16
	Limit  uint16
}

// Observe records one Plate frame from an already-registered camera.
type Observe struct {
	Camera    CameraID
	Plate     string
	Timestamp uint32
}

// CameraDisconnected stops associating future observations with Camera;
// observations already recorded remain usable for pairing.
type CameraDisconnected struct {
	Camera CameraID
}

// RegisterDispatcher records a dispatcher connection's subscribed roads and
// flushes any tickets that were pending for those roads.
type RegisterDispatcher struct {
	Dispatcher DispatcherID
	Roads      []uint16
}

// DispatcherDisconnected stops routing future tickets to Dispatcher.
type DispatcherDisconnected struct {
	Dispatcher DispatcherID
}

type inboundEvent any

// TicketDelivery is one ticket Coordinator wants written to one
// dispatcher's connection.
type TicketDelivery struct {
	Dispatcher DispatcherID
	Ticket     frameproto.Ticket
}

// Ledger persists issued tickets. The coordinator only writes to it: the
// per-car-per-day dedupe state is held in memory and is not reloaded from
// the ledger, so it does not survive a coordinator restart. ledger may be
// nil, in which case tickets are not persisted.
type Ledger interface {
	RecordTicket(ctx context.Context, t frameproto.Ticket) error
}

type observation struct {
	mile      uint16
	timestamp uint32
}

// Coordinator is the single-writer actor owning all camera, dispatcher, and
// ticket state, mirroring the chat relay's Room.
type Coordinator struct {
	inbound  chan inboundEvent
	outbound *queue.Unbounded[TicketDelivery]
	ledger   Ledger

	cameras      map[CameraID]RegisterCamera
	observations map[string][]observation // key: plate + "\x00" + road
	ticketedDays map[string]map[int64]bool // key: plate

	dispatchersByRoad map[uint16]map[DispatcherID]struct{}
	pendingByRoad     map[uint16][]frameproto.Ticket
}

// NewCoordinator constructs an empty Coordinator. ledger may be nil.
func NewCoordinator(ledger Ledger) *Coordinator {
	return &Coordinator{
		inbound:           make(chan inboundEvent, 256),
		outbound:          queue.New[TicketDelivery](),
		ledger:            ledger,
		cameras:           make(map[CameraID]RegisterCamera),
		observations:      make(map[string][]observation),
		ticketedDays:      make(map[string]map[int64]bool),
		dispatchersByRoad: make(map[uint16]map[DispatcherID]struct{}),
		pendingByRoad:     make(map[uint16][]frameproto.Ticket),
	}
}

// Inbound is the single-consumer input channel; every camera/dispatcher
// connection goroutine sends its events here.
func (c *Coordinator) Inbound() chan<- inboundEvent { return c.inbound }

// Outbound yields tickets as they become deliverable.
func (c *Coordinator) Outbound() <-chan TicketDelivery { return c.outbound.Out() }

// Run drains Inbound until ctx is cancelled or the channel is closed.
func (c *Coordinator) Run(ctx context.Context) {
	defer c.outbound.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-c.inbound:
			if !ok {
				return
			}
			c.handle(ctx, ev)
		}
	}
}

func (c *Coordinator) handle(ctx context.Context, ev inboundEvent) {
	switch e := ev.(type) {
	case RegisterCamera:
		c.cameras[e.Camera] = e
	case CameraDisconnected:
		delete(c.cameras, e.Camera)
	case Observe:
		c.onObserve(ctx, e)
	case RegisterDispatcher:
		c.onRegisterDispatcher(e)
	case DispatcherDisconnected:
		c.onDispatcherDisconnected(e)
	default:
		slog.Warn("speed coordinator received unrecognized event")
	}
}

func observationKey(plate string, road uint16) string {
	return plate + "\x00" + strconv.Itoa(int(road))
}

func (c *Coordinator) onObserve(ctx context.Context, e Observe) {
	cam, known := c.cameras[e.Camera]
	if !known {
		slog.Debug("observation from unregistered camera dropped", "camera", e.Camera)
		return
	}

	key := observationKey(e.Plate, cam.Road)
	prior := c.observations[key]

	for _, other := range prior {
		c.considerPair(ctx, e.Plate, cam.Road, cam.Limit, other, observation{mile: cam.Mile, timestamp: e.Timestamp})
	}
	c.observations[key] = append(prior, observation{mile: cam.Mile, timestamp: e.Timestamp})
}

// considerPair orders two observations of the same car on the same road by
// timestamp (not arrival order) and issues a ticket if the implied speed
// exceeds the posted limit by more than the tolerance, unless either
// violation day has already been ticketed for this plate.
func (c *Coordinator) considerPair(ctx context.Context, plate string, road uint16, limit uint16, a, b observation) {
	first, second := a, b
	if second.timestamp < first.timestamp {
		first, second = second, first
	}
	if first.timestamp == second.timestamp {
		return
	}

	deltaMiles := int64(second.mile) - int64(first.mile)
	if deltaMiles < 0 {
		deltaMiles = -deltaMiles
	}
	deltaSeconds := int64(second.timestamp) - int64(first.timestamp)

	speedHundredths := deltaMiles * 360000 / deltaSeconds
	limitHundredths := int64(limit) * 100
	if speedHundredths <= limitHundredths+violationToleranceHundredths {
		return
	}

	day1 := int64(first.timestamp) / secondsPerDay
	day2 := int64(second.timestamp) / secondsPerDay
	if c.alreadyTicketed(plate, day1) || c.alreadyTicketed(plate, day2) {
		return
	}

	ticket := frameproto.Ticket{
		Plate:      plate,
		Road:       road,
		Mile1:      first.mile,
		Timestamp1: first.timestamp,
		Mile2:      second.mile,
		Timestamp2: second.timestamp,
		Speed:      uint16(speedHundredths),
	}
	c.markTicketed(plate, day1)
	c.markTicketed(plate, day2)
	if c.ledger != nil {
		if err := c.ledger.RecordTicket(ctx, ticket); err != nil {
			slog.Error("failed to persist ticket", "plate", plate, "road", road, "err", err)
		}
	}
	c.deliverOrQueue(road, ticket)
}

func (c *Coordinator) alreadyTicketed(plate string, day int64) bool {
	days := c.ticketedDays[plate]
	if days == nil {
		return false
	}
	return days[day]
}

func (c *Coordinator) markTicketed(plate string, day int64) {
	days := c.ticketedDays[plate]
	if days == nil {
		days = make(map[int64]bool)
		c.ticketedDays[plate] = days
	}
	days[day] = true
}

func (c *Coordinator) deliverOrQueue(road uint16, ticket frameproto.Ticket) {
	dispatchers := c.dispatchersByRoad[road]
	if len(dispatchers) == 0 {
		c.pendingByRoad[road] = append(c.pendingByRoad[road], ticket)
		return
	}
	for dispatcher := range dispatchers {
		c.outbound.Push(TicketDelivery{Dispatcher: dispatcher, Ticket: ticket})
		return
	}
}

func (c *Coordinator) onRegisterDispatcher(e RegisterDispatcher) {
	for _, road := range e.Roads {
		set := c.dispatchersByRoad[road]
		if set == nil {
			set = make(map[DispatcherID]struct{})
			c.dispatchersByRoad[road] = set
		}
		set[e.Dispatcher] = struct{}{}

		pending := c.pendingByRoad[road]
		if len(pending) == 0 {
			continue
		}
		delete(c.pendingByRoad, road)
		for _, ticket := range pending {
			c.outbound.Push(TicketDelivery{Dispatcher: e.Dispatcher, Ticket: ticket})
		}
	}
}

func (c *Coordinator) onDispatcherDisconnected(e DispatcherDisconnected) {
	for road, set := range c.dispatchersByRoad {
		delete(set, e.Dispatcher)
		if len(set) == 0 {
			delete(c.dispatchersByRoad, road)
		}
	}
}
