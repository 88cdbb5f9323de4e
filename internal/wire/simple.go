package wire

import (
	"context"
	"fmt"
)

// CommandTag is the raw "INSERT 0 1" / "SELECT 3" style status string
// PostgreSQL returns in CommandComplete.
type CommandTag string

// RowsAffected parses the row count out of a CommandTag, when present.
func (ct CommandTag) RowsAffected() int64 {
	var n int64
	var discard string
	// Every CommandComplete tag ends in a row count except a few
	// zero-argument commands (BEGIN, COMMIT, ROLLBACK, ...). INSERT's tag
	// carries an OID before the count, so the three-part form is tried
	// first.
	var a, b int64
	if _, err := fmt.Sscanf(string(ct), "%s %d %d", &discard, &a, &b); err == nil {
		return b
	}
	if _, err := fmt.Sscanf(string(ct), "%s %d", &discard, &n); err == nil {
		return n
	}
	return 0
}

// FieldDescription describes one column of a result set.
type FieldDescription struct {
	Name         string
	TableOID     uint32
	ColumnAttr   int16
	DataTypeOID  uint32
	DataTypeSize int16
	TypeModifier int32
	Format       int16
}

// SimpleResult is one statement's worth of output from the simple query
// protocol.
type SimpleResult struct {
	Fields []FieldDescription
	Rows   [][][]byte
	Tag    CommandTag
}

// SimpleQuery sends a (possibly semicolon-joined, unparameterized) query
// string via the simple query protocol and returns one SimpleResult per
// statement executed, in order. Used for execute_batch (DDL scripts) and
// for the Pool's internal DISCARD ALL / ROLLBACK housekeeping.
func (e *Engine) SimpleQuery(ctx context.Context, sql string) ([]SimpleResult, error) {
	if err := e.acquireStep(); err != nil {
		return nil, err
	}
	defer e.releaseStep()

	var results []SimpleResult
	err := e.withDeadline(ctx, func() error {
		if err := WriteMessage(e.conn, MsgQuery, cstring(nil, sql)); err != nil {
			e.MarkBroken()
			return fmt.Errorf("writing query message: %w", err)
		}

		var cur *SimpleResult
		for {
			msgType, payload, err := ReadMessage(e.br)
			if err != nil {
				e.MarkBroken()
				return fmt.Errorf("reading query response: %w", err)
			}

			switch msgType {
			case MsgRowDescription:
				cur = &SimpleResult{Fields: parseRowDescription(payload)}

			case MsgDataRow:
				if cur == nil {
					cur = &SimpleResult{}
				}
				cur.Rows = append(cur.Rows, parseDataRow(payload))

			case MsgCommandComplete:
				if cur == nil {
					cur = &SimpleResult{}
				}
				cur.Tag = CommandTag(trimNulTerminator(payload))
				results = append(results, *cur)
				cur = nil

			case MsgEmptyQueryResp:
				results = append(results, SimpleResult{})
				cur = nil

			case MsgNoticeResponse:
				continue

			case MsgErrorResponse:
				pgErr := ParsePgError(payload)
				// Drain to ReadyForQuery so the connection's framing stays
				// aligned; the transaction-state tracking happens there.
				if rfqErr := e.drainToReady(); rfqErr != nil {
					e.MarkBroken()
				}
				return pgErr

			case MsgReadyForQuery:
				e.setState(readyState(payload))
				return nil

			default:
				continue
			}
		}
	})
	return results, err
}

// drainToReady reads and discards messages until ReadyForQuery, used after
// an ErrorResponse to resynchronize the simple query protocol (the server
// still owes us a ReadyForQuery even on failure).
func (e *Engine) drainToReady() error {
	for {
		msgType, payload, err := ReadMessage(e.br)
		if err != nil {
			return err
		}
		if msgType == MsgReadyForQuery {
			e.setState(readyState(payload))
			return nil
		}
	}
}

func trimNulTerminator(b []byte) string {
	if s, _, ok := splitCString(b); ok {
		return s
	}
	return string(b)
}

func parseRowDescription(payload []byte) []FieldDescription {
	if len(payload) < 2 {
		return nil
	}
	n := int(beUint16(payload[0:2]))
	fields := make([]FieldDescription, 0, n)
	data := payload[2:]
	for i := 0; i < n; i++ {
		name, rest, ok := splitCString(data)
		if !ok || len(rest) < 18 {
			break
		}
		fields = append(fields, FieldDescription{
			Name:         name,
			TableOID:     beUint32(rest[0:4]),
			ColumnAttr:   int16(beUint16(rest[4:6])),
			DataTypeOID:  beUint32(rest[6:10]),
			DataTypeSize: int16(beUint16(rest[10:12])),
			TypeModifier: int32(beUint32(rest[12:16])),
			Format:       int16(beUint16(rest[16:18])),
		})
		data = rest[18:]
	}
	return fields
}

func parseDataRow(payload []byte) [][]byte {
	if len(payload) < 2 {
		return nil
	}
	n := int(beUint16(payload[0:2]))
	values := make([][]byte, 0, n)
	data := payload[2:]
	for i := 0; i < n; i++ {
		if len(data) < 4 {
			break
		}
		length := int32(beUint32(data[0:4]))
		data = data[4:]
		if length < 0 {
			values = append(values, nil)
			continue
		}
		if int(length) > len(data) {
			break
		}
		values = append(values, data[:length])
		data = data[length:]
	}
	return values
}

func beUint16(b []byte) uint16 { return uint16(b[0])<<8 | uint16(b[1]) }
func beUint32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}
