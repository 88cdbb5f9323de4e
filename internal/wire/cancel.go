package wire

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
)

const cancelRequestCode = 80877102

// CancelKey is the (backend PID, secret key) pair needed to cancel a
// running query on another connection.
type CancelKey struct {
	BackendPID uint32
	SecretKey  uint32
}

// Cancel opens a fresh connection to addr and sends a CancelRequest for
// key, per the protocol's dedicated cancellation side-channel: cancellation
// never goes through an existing Engine, since the backend processing the
// cancelled query cannot also be reading new protocol messages.
func Cancel(ctx context.Context, dialer *net.Dialer, network, addr string, key CancelKey) error {
	conn, err := dialer.DialContext(ctx, network, addr)
	if err != nil {
		return fmt.Errorf("dialing cancellation channel: %w", err)
	}
	defer conn.Close()

	if dl, ok := ctx.Deadline(); ok {
		conn.SetDeadline(dl)
	}

	body := make([]byte, 12)
	binary.BigEndian.PutUint32(body[0:4], cancelRequestCode)
	binary.BigEndian.PutUint32(body[4:8], key.BackendPID)
	binary.BigEndian.PutUint32(body[8:12], key.SecretKey)

	if err := WriteUntypedMessage(conn, body); err != nil {
		return fmt.Errorf("writing CancelRequest: %w", err)
	}

	// The server closes the connection without replying; read until EOF (or
	// a timeout passed via ctx) so the caller's dial/write errors surface
	// rather than racing conn.Close() against an unsent packet.
	buf := make([]byte, 1)
	_, _ = conn.Read(buf)
	return nil
}
