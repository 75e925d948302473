package speed

import (
	"context"
	"testing"
	"time"

	"protorelay/internal/frameproto"
)

func startCoordinator(t *testing.T) (*Coordinator, func()) {
	t.Helper()
	c := NewCoordinator(nil)
	ctx, cancel := context.WithCancel(context.Background())
	go c.Run(ctx)
	return c, cancel
}

func expectTicket(t *testing.T, c *Coordinator) TicketDelivery {
	t.Helper()
	select {
	case d := <-c.Outbound():
		return d
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a ticket")
	}
	return TicketDelivery{}
}

func expectNoTicket(t *testing.T, c *Coordinator) {
	t.Helper()
	select {
	case d := <-c.Outbound():
		t.Fatalf("unexpected ticket: %#v", d)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestCoordinatorIssuesTicketForSpeeding(t *testing.T) {
	c, cancel := startCoordinator(t)
	defer cancel()

	c.Inbound() <- RegisterCamera{Camera: 1, Road: 66, Mile: 100, Limit: 60}
	c.Inbound() <- RegisterCamera{Camera: 2, Road: 66, Mile: 110, Limit: 60}
	c.Inbound() <- RegisterDispatcher{Dispatcher: 1, Roads: []uint16{66}}

	// 10 miles in 300 seconds = 120 mph, well over a 60 mph limit.
	c.Inbound() <- Observe{Camera: 1, Plate: "UN1X", Timestamp: 0}
	c.Inbound() <- Observe{Camera: 2, Plate: "UN1X", Timestamp: 300}

	delivery := expectTicket(t, c)
	if delivery.Dispatcher != 1 {
		t.Fatalf("got dispatcher %d, want 1", delivery.Dispatcher)
	}
	ticket := delivery.Ticket
	if ticket.Plate != "UN1X" || ticket.Road != 66 {
		t.Fatalf("got %#v", ticket)
	}
	if ticket.Mile1 != 100 || ticket.Timestamp1 != 0 || ticket.Mile2 != 110 || ticket.Timestamp2 != 300 {
		t.Fatalf("got %#v", ticket)
	}
	if ticket.Speed != 12000 {
		t.Fatalf("got speed %d, want 12000 (120.00 mph)", ticket.Speed)
	}
}

func TestCoordinatorSpeedIsOrderIndependent(t *testing.T) {
	c, cancel := startCoordinator(t)
	defer cancel()

	c.Inbound() <- RegisterCamera{Camera: 1, Road: 66, Mile: 100, Limit: 60}
	c.Inbound() <- RegisterCamera{Camera: 2, Road: 66, Mile: 110, Limit: 60}
	c.Inbound() <- RegisterDispatcher{Dispatcher: 1, Roads: []uint16{66}}

	// Later mile marker's observation arrives first.
	c.Inbound() <- Observe{Camera: 2, Plate: "UN1X", Timestamp: 300}
	c.Inbound() <- Observe{Camera: 1, Plate: "UN1X", Timestamp: 0}

	delivery := expectTicket(t, c)
	if delivery.Ticket.Mile1 != 100 || delivery.Ticket.Timestamp1 != 0 {
		t.Fatalf("got %#v, want mile1/timestamp1 to be the earlier observation regardless of arrival order", delivery.Ticket)
	}
}

func TestCoordinatorDoesNotTicketUnderLimit(t *testing.T) {
	c, cancel := startCoordinator(t)
	defer cancel()

	c.Inbound() <- RegisterCamera{Camera: 1, Road: 66, Mile: 100, Limit: 60}
	c.Inbound() <- RegisterCamera{Camera: 2, Road: 66, Mile: 110, Limit: 60}
	c.Inbound() <- RegisterDispatcher{Dispatcher: 1, Roads: []uint16{66}}

	// 10 miles in 600 seconds = 60 mph, at the limit.
	c.Inbound() <- Observe{Camera: 1, Plate: "UN1X", Timestamp: 0}
	c.Inbound() <- Observe{Camera: 2, Plate: "UN1X", Timestamp: 600}

	expectNoTicket(t, c)
}

func TestCoordinatorDedupesPerCarPerDay(t *testing.T) {
	c, cancel := startCoordinator(t)
	defer cancel()

	c.Inbound() <- RegisterCamera{Camera: 1, Road: 66, Mile: 100, Limit: 60}
	c.Inbound() <- RegisterCamera{Camera: 2, Road: 66, Mile: 110, Limit: 60}
	c.Inbound() <- RegisterDispatcher{Dispatcher: 1, Roads: []uint16{66}}

	c.Inbound() <- Observe{Camera: 1, Plate: "UN1X", Timestamp: 0}
	c.Inbound() <- Observe{Camera: 2, Plate: "UN1X", Timestamp: 300}
	expectTicket(t, c)

	// A second violation later the same day must not produce a second ticket.
	c.Inbound() <- Observe{Camera: 1, Plate: "UN1X", Timestamp: 1000}
	c.Inbound() <- Observe{Camera: 2, Plate: "UN1X", Timestamp: 1300}
	expectNoTicket(t, c)
}

func TestCoordinatorQueuesTicketUntilDispatcherRegisters(t *testing.T) {
	c, cancel := startCoordinator(t)
	defer cancel()

	c.Inbound() <- RegisterCamera{Camera: 1, Road: 66, Mile: 100, Limit: 60}
	c.Inbound() <- RegisterCamera{Camera: 2, Road: 66, Mile: 110, Limit: 60}

	c.Inbound() <- Observe{Camera: 1, Plate: "UN1X", Timestamp: 0}
	c.Inbound() <- Observe{Camera: 2, Plate: "UN1X", Timestamp: 300}

	expectNoTicket(t, c)

	c.Inbound() <- RegisterDispatcher{Dispatcher: 7, Roads: []uint16{66}}
	delivery := expectTicket(t, c)
	if delivery.Dispatcher != 7 {
		t.Fatalf("got dispatcher %d, want 7", delivery.Dispatcher)
	}
}

func TestCoordinatorIgnoresObservationFromUnregisteredCamera(t *testing.T) {
	c, cancel := startCoordinator(t)
	defer cancel()

	c.Inbound() <- RegisterDispatcher{Dispatcher: 1, Roads: []uint16{66}}
	c.Inbound() <- Observe{Camera: 99, Plate: "GHOST", Timestamp: 0}

	expectNoTicket(t, c)
}

func TestCoordinatorDeliversWireCompatibleTicketFrame(t *testing.T) {
	c, cancel := startCoordinator(t)
	defer cancel()

	c.Inbound() <- RegisterCamera{Camera: 1, Road: 1, Mile: 0, Limit: 10}
	c.Inbound() <- RegisterCamera{Camera: 2, Road: 1, Mile: 10, Limit: 10}
	c.Inbound() <- RegisterDispatcher{Dispatcher: 1, Roads: []uint16{1}}

	c.Inbound() <- Observe{Camera: 1, Plate: "FAST1", Timestamp: 0}
	c.Inbound() <- Observe{Camera: 2, Plate: "FAST1", Timestamp: 60}

	delivery := expectTicket(t, c)
	if _, err := frameproto.Encode(delivery.Ticket); err != nil {
		t.Fatalf("delivered ticket does not encode: %v", err)
	}
}
