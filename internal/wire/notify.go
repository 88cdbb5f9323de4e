package wire

import (
	"context"
	"fmt"
)

// Notification is one parsed NotificationResponse frame: channel, payload,
// and the notifying backend's process ID.
type Notification struct {
	Channel string
	Payload string
	PID     uint32
}

// WaitNotification blocks until a NotificationResponse frame arrives on
// this Engine's connection, absorbing and discarding any ParameterStatus
// or NoticeResponse frames seen in between. Used by a dedicated
// LISTEN-only Connection; cancelling ctx unblocks the read the same way
// withDeadline unblocks any other suspended operation.
func (e *Engine) WaitNotification(ctx context.Context) (*Notification, error) {
	if err := e.acquireStep(); err != nil {
		return nil, err
	}
	defer e.releaseStep()

	var note *Notification
	err := e.withDeadline(ctx, func() error {
		for {
			msgType, payload, err := ReadMessage(e.br)
			if err != nil {
				e.MarkBroken()
				return fmt.Errorf("waiting for notification: %w", err)
			}
			switch msgType {
			case MsgNotificationResp:
				note = parseNotification(payload)
				return nil
			case MsgParameterStatus, MsgNoticeResponse:
				continue
			case MsgErrorResponse:
				return ParsePgError(payload)
			default:
				continue
			}
		}
	})
	if err != nil {
		return nil, err
	}
	return note, nil
}

func parseNotification(payload []byte) *Notification {
	if len(payload) < 4 {
		return &Notification{}
	}
	pid := beUint32(payload[0:4])
	rest := payload[4:]
	channel, rest, _ := splitCString(rest)
	msg, _, _ := splitCString(rest)
	return &Notification{Channel: channel, Payload: msg, PID: pid}
}
