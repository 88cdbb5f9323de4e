// Package wire implements the PostgreSQL frontend/backend protocol version
// 3.0: message framing, the startup/authentication handshake, the simple
// and extended query sub-protocols, COPY streaming, and cancellation.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Backend message type bytes (server -> client).
const (
	MsgAuthentication   byte = 'R'
	MsgBackendKeyData   byte = 'K'
	MsgBindComplete     byte = '2'
	MsgCloseComplete    byte = '3'
	MsgCommandComplete  byte = 'C'
	MsgCopyData         byte = 'd'
	MsgCopyDone         byte = 'c'
	MsgCopyInResponse   byte = 'G'
	MsgCopyOutResponse  byte = 'H'
	MsgDataRow          byte = 'D'
	MsgEmptyQueryResp   byte = 'I'
	MsgErrorResponse    byte = 'E'
	MsgNoData           byte = 'n'
	MsgNoticeResponse   byte = 'N'
	MsgNotificationResp byte = 'A'
	MsgParameterDesc    byte = 't'
	MsgParameterStatus  byte = 'S'
	MsgParseComplete    byte = '1'
	MsgPortalSuspended  byte = 's'
	MsgReadyForQuery    byte = 'Z'
	MsgRowDescription   byte = 'T'
)

// Frontend message type bytes (client -> server).
const (
	MsgBind            byte = 'B'
	MsgClose           byte = 'C'
	MsgCopyFail        byte = 'f'
	MsgDescribe        byte = 'D'
	MsgExecute         byte = 'E'
	MsgFlush           byte = 'H'
	MsgParse           byte = 'P'
	MsgPasswordMessage byte = 'p'
	MsgQuery           byte = 'Q'
	MsgSync            byte = 'S'
	MsgTerminate       byte = 'X'
)

// MaxMessageLen bounds a single message payload to guard against a
// corrupted length field causing an unbounded allocation.
const MaxMessageLen = 1 << 28

// ReadMessage reads one backend message: a type byte, an int32 length
// (inclusive of itself), and the payload.
func ReadMessage(r io.Reader) (msgType byte, payload []byte, err error) {
	hdr := make([]byte, 5)
	if _, err = io.ReadFull(r, hdr); err != nil {
		return 0, nil, err
	}
	msgType = hdr[0]
	payloadLen := int(binary.BigEndian.Uint32(hdr[1:5])) - 4
	if payloadLen < 0 || payloadLen > MaxMessageLen {
		return 0, nil, fmt.Errorf("wire: invalid message length %d for type %q", payloadLen, msgType)
	}
	if payloadLen == 0 {
		return msgType, nil, nil
	}
	payload = make([]byte, payloadLen)
	if _, err = io.ReadFull(r, payload); err != nil {
		return 0, nil, err
	}
	return msgType, payload, nil
}

// WriteMessage writes one typed frontend message.
func WriteMessage(w io.Writer, msgType byte, payload []byte) error {
	buf := make([]byte, 5+len(payload))
	buf[0] = msgType
	binary.BigEndian.PutUint32(buf[1:5], uint32(4+len(payload)))
	copy(buf[5:], payload)
	_, err := w.Write(buf)
	return err
}

// WriteUntypedMessage writes a message with no leading type byte, used only
// for the startup, SSLRequest and CancelRequest messages, which sit
// outside the typed protocol.
func WriteUntypedMessage(w io.Writer, payload []byte) error {
	buf := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(buf[:4], uint32(4+len(payload)))
	copy(buf[4:], payload)
	_, err := w.Write(buf)
	return err
}

// cstring appends a null-terminated string to buf.
func cstring(buf []byte, s string) []byte {
	buf = append(buf, s...)
	return append(buf, 0)
}

// splitCString splits the leading null-terminated string off data, returning
// the string (without the terminator) and the remainder.
func splitCString(data []byte) (s string, rest []byte, ok bool) {
	for i, b := range data {
		if b == 0 {
			return string(data[:i]), data[i+1:], true
		}
	}
	return "", data, false
}
