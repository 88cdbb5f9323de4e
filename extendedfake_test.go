package pgasync

import (
	"net"
	"testing"

	"github.com/augustdb/pgasync/internal/codec"
	"github.com/augustdb/pgasync/internal/wire"
)

// fakeExtendedRow, when non-nil, is echoed back as a single DataRow ahead
// of CommandComplete on every extended-query cycle the fake server serves.
// With noRows set, only the RowDescription is sent: a row-returning
// statement that yields zero rows.
type fakeExtendedRow struct {
	column string
	oid    uint32
	value  []byte
	noRows bool
}

// newFakeExtendedConnection builds a Connection whose extended-query
// cycles (Parse?+Bind+Describe+Execute+Sync) are served by a goroutine
// that always succeeds: ParseComplete (if a Parse was sent), BindComplete,
// then either NoData+CommandComplete or RowDescription+DataRow+
// CommandComplete when row is non-nil (no DataRow when row.noRows is
// set), then ReadyForQuery(idle).
func newFakeExtendedConnection(t *testing.T, row *fakeExtendedRow) *Connection {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() { client.Close(); server.Close() })

	go serveFakeExtendedCycles(server, row)

	reg := codec.NewRegistry()
	return &Connection{
		engine:    wire.NewEngine(client),
		registry:  reg,
		stmtCache: wire.NewStatementCache(),
		typeCache: codec.NewTypeInfoCache(reg),
	}
}

func serveFakeExtendedCycles(server net.Conn, row *fakeExtendedRow) {
	for {
		sawParse, ok := drainOneCycle(server)
		if !ok {
			return
		}
		if sawParse {
			if wire.WriteMessage(server, wire.MsgParseComplete, nil) != nil {
				return
			}
		}
		if wire.WriteMessage(server, wire.MsgBindComplete, nil) != nil {
			return
		}
		if row != nil {
			if !writeFakeRow(server, *row) {
				return
			}
		} else {
			if wire.WriteMessage(server, wire.MsgNoData, nil) != nil {
				return
			}
			if wire.WriteMessage(server, wire.MsgCommandComplete, append([]byte("OK"), 0)) != nil {
				return
			}
		}
		if wire.WriteMessage(server, wire.MsgReadyForQuery, []byte{'I'}) != nil {
			return
		}
	}
}

// drainOneCycle reads messages until Sync, reporting whether a Parse
// message was seen in that cycle. Returns ok=false on read error (peer
// closed the pipe, normal at test teardown).
func drainOneCycle(server net.Conn) (sawParse bool, ok bool) {
	for {
		msgType, _, err := wire.ReadMessage(server)
		if err != nil {
			return sawParse, false
		}
		switch msgType {
		case wire.MsgParse:
			sawParse = true
		case wire.MsgSync:
			return sawParse, true
		}
	}
}

func writeFakeRow(server net.Conn, row fakeExtendedRow) bool {
	rd := make([]byte, 0, 64)
	rd = append(rd, 0, 1) // one field
	rd = append(rd, row.column...)
	rd = append(rd, 0)
	rd = append(rd, 0, 0, 0, 0) // table OID
	rd = append(rd, 0, 0)       // column attr
	rd = append(rd, byte(row.oid>>24), byte(row.oid>>16), byte(row.oid>>8), byte(row.oid))
	rd = append(rd, 0, 0) // type size (unused by the client)
	rd = append(rd, 0, 0, 0, 0)
	rd = append(rd, 0, 0) // format
	if wire.WriteMessage(server, wire.MsgRowDescription, rd) != nil {
		return false
	}
	if row.noRows {
		return wire.WriteMessage(server, wire.MsgCommandComplete, append([]byte("SELECT 0"), 0)) == nil
	}

	dr := make([]byte, 0, 32)
	dr = append(dr, 0, 1) // one field
	dr = append(dr, byte(len(row.value)>>24), byte(len(row.value)>>16), byte(len(row.value)>>8), byte(len(row.value)))
	dr = append(dr, row.value...)
	if wire.WriteMessage(server, wire.MsgDataRow, dr) != nil {
		return false
	}

	return wire.WriteMessage(server, wire.MsgCommandComplete, append([]byte("SELECT 1"), 0)) == nil
}
