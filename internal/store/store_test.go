package store

import (
	"context"
	"path/filepath"
	"testing"

	"protorelay/internal/frameproto"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tickets.db")
	st, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestRecordAndQueryTicket(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	ticket := frameproto.Ticket{
		Plate: "UN1X", Road: 66,
		Mile1: 100, Timestamp1: 0,
		Mile2: 110, Timestamp2: 300,
		Speed: 12000,
	}
	if err := st.RecordTicket(ctx, ticket); err != nil {
		t.Fatalf("RecordTicket: %v", err)
	}

	rows, err := st.TicketsByRoad(ctx, 66, 10)
	if err != nil {
		t.Fatalf("TicketsByRoad: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("got %d tickets, want 1", len(rows))
	}
	if rows[0].Plate != "UN1X" || rows[0].Speed != 12000 {
		t.Fatalf("got %#v", rows[0])
	}

	roads, err := st.Roads(ctx)
	if err != nil {
		t.Fatalf("Roads: %v", err)
	}
	if len(roads) != 1 || roads[0] != 66 {
		t.Fatalf("got %#v, want [66]", roads)
	}
}

func TestTicketsByRoadEmpty(t *testing.T) {
	st := openTestStore(t)
	rows, err := st.TicketsByRoad(context.Background(), 5, 10)
	if err != nil {
		t.Fatalf("TicketsByRoad: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("got %d rows, want 0", len(rows))
	}
}

func TestOpenRejectsEmptyPath(t *testing.T) {
	if _, err := Open(""); err == nil {
		t.Fatal("expected an error for an empty path")
	}
}
