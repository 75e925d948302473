package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"testing/iotest"
	"time"

	"protorelay/internal/lineproto"
)

// welcomePrompt is emitted verbatim as the very first bytes of any session.
const welcomePrompt = "Welcome to budgetchat! What shall I call you?"

// ErrAborted means the peer disconnected or a transport error occurred
// before a name line was received.
var ErrAborted = errors.New("staging: aborted before a name was received")

// ErrInvalidName means a name line was received but failed validation.
var ErrInvalidName = errors.New("staging: candidate name failed validation")

// Conduct runs the name ceremony (Awaiting-send -> Awaiting-name ->
// Validating -> Accepted/Rejected) on conn. On success it returns the
// validated, cleaned name with conn left open and otherwise untouched. On
// failure conn is closed before Conduct returns, and the caller must not
// write to or read from it again.
//
// If ctx carries a deadline, it is applied to conn for the duration of the
// ceremony (the recommended caller-imposed timeout is 10s); Staging itself
// has no built-in timeout.
func Conduct(ctx context.Context, conn net.Conn, maxLine int) (string, error) {
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	writer := lineproto.NewWriter(conn)
	if err := writer.WriteRecord(welcomePrompt); err != nil {
		_ = conn.Close()
		return "", fmt.Errorf("staging: write welcome prompt: %w", err)
	}

	// Read the name one byte at a time so that nothing after its LF is taken
	// from conn before the caller's PerConnection reads it.
	reader := lineproto.NewReader(iotest.OneByteReader(conn), maxLine)
	raw, err := reader.ReadRecord()
	if err != nil {
		_ = conn.Close()
		if errors.Is(err, io.EOF) {
			return "", ErrAborted
		}
		return "", fmt.Errorf("%w: %v", ErrAborted, err)
	}

	name := CleanName(raw)
	if !ValidName(name) {
		_ = conn.Close()
		return "", ErrInvalidName
	}

	if err := conn.SetDeadline(time.Time{}); err != nil {
		_ = conn.Close()
		return "", fmt.Errorf("staging: clear deadline: %w", err)
	}
	return name, nil
}
