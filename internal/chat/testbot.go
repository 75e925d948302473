package chat

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// RunTestBot joins room as a synthetic member under name and posts a
// periodic heartbeat line until ctx is cancelled, without ever opening a
// real socket. It exists purely as a manual smoke-testing aid for an
// operator driving a deployed relay from one terminal.
func RunTestBot(ctx context.Context, room *Room, name string, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}

	member := MemberID(syntheticMemberID())
	room.Inbound() <- Connected{Member: member, Name: name}
	slog.Info("test participant joined", "name", name, "member", member)
	defer func() {
		room.Inbound() <- Disconnected{Member: member}
		slog.Info("test participant left", "name", name, "member", member)
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var n int
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n++
			room.Inbound() <- Chatted{Member: member, Text: fmt.Sprintf("still here (beat %d)", n)}
		}
	}
}

// syntheticMemberID derives an identifier for the bot that cannot collide
// with the ever-increasing member IDs a real Server hands out, which start
// at 1 and only grow.
func syntheticMemberID() uint64 {
	return ^uint64(0)
}
