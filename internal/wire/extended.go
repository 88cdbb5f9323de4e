package wire

import (
	"context"
	"crypto/sha1" //nolint:gosec // used only to derive a short, deterministic statement name, not for security
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"sync"
)

// preparedStatement is one cached server-side Parse result.
type preparedStatement struct {
	name      string
	paramOIDs []uint32
}

// StatementCache maps (SQL text, parameter type OIDs) to a server-side
// prepared statement name. It is owned by a single Connection/Engine and
// needs no locking of its own beyond what the Engine's
// single-in-flight-operation invariant already provides, but a mutex is
// kept since cache lookups can happen from Close/cleanup paths outside
// the normal step sequence.
type StatementCache struct {
	mu    sync.Mutex
	byKey map[string]*preparedStatement
	seq   int
}

// NewStatementCache creates an empty cache.
func NewStatementCache() *StatementCache {
	return &StatementCache{byKey: make(map[string]*preparedStatement)}
}

func cacheKey(sql string, paramOIDs []uint32) string {
	var b strings.Builder
	b.WriteString(sql)
	b.WriteByte(0)
	for _, oid := range paramOIDs {
		b.WriteString(strconv.FormatUint(uint64(oid), 10))
		b.WriteByte(',')
	}
	return b.String()
}

func (c *StatementCache) lookup(sql string, paramOIDs []uint32) (*preparedStatement, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ps, ok := c.byKey[cacheKey(sql, paramOIDs)]
	return ps, ok
}

func (c *StatementCache) store(sql string, paramOIDs []uint32, ps *preparedStatement) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byKey[cacheKey(sql, paramOIDs)] = ps
}

// nextStatementName builds a statement name from a short hash of the SQL
// text plus this cache's sequence number, so every call returns a distinct
// name, even for identical text.
func (c *StatementCache) nextStatementName(sql string) string {
	c.mu.Lock()
	c.seq++
	seq := c.seq
	c.mu.Unlock()
	sum := sha1.Sum([]byte(sql)) //nolint:gosec
	return "pgasync_" + hex.EncodeToString(sum[:6]) + "_" + strconv.Itoa(seq)
}

// ExtendedQueryRequest describes one Parse+Bind+Describe+Execute+Sync cycle.
type ExtendedQueryRequest struct {
	SQL           string
	ParamOIDs     []uint32 // type hints; 0 entries let the server infer
	ParamValues   [][]byte // nil entry encodes SQL NULL
	PortalName    string   // "" for the unnamed portal (cursors use a name)
	Prepared      bool     // use/create a named, cached statement
	MaxRows       int32    // 0 = fetch all rows for this Execute
}

// ExtendedQueryResult is one cycle's output.
type ExtendedQueryResult struct {
	Fields    []FieldDescription
	Rows      [][][]byte
	Tag       CommandTag
	Suspended bool // true if MaxRows cut the result short (PortalSuspended)
}

// Execute runs one extended-query cycle: Parse (or reuse a cached prepared
// statement), Bind, Describe the portal, Execute, Sync.
func (e *Engine) Execute(ctx context.Context, cache *StatementCache, req ExtendedQueryRequest) (*ExtendedQueryResult, error) {
	if err := e.acquireStep(); err != nil {
		return nil, err
	}
	defer e.releaseStep()

	var result *ExtendedQueryResult
	err := e.withDeadline(ctx, func() error {
		stmtName, needsParse, err := e.resolveStatement(cache, req)
		if err != nil {
			return err
		}

		var out []byte
		if needsParse {
			out = append(out, buildParse(stmtName, req.SQL, req.ParamOIDs)...)
		}
		paramFormats := make([]int16, len(req.ParamValues))
		for i := range paramFormats {
			paramFormats[i] = 1 // binary
		}
		out = append(out, buildBind(req.PortalName, stmtName, paramFormats, req.ParamValues, []int16{1})...)
		out = append(out, buildDescribe('P', req.PortalName)...)
		out = append(out, buildExecute(req.PortalName, req.MaxRows)...)
		out = append(out, buildSync()...)

		if _, err := e.conn.Write(out); err != nil {
			e.MarkBroken()
			return fmt.Errorf("writing extended query: %w", err)
		}

		res, err := e.readExtendedResponses(needsParse, stmtName, cache, req)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	return result, err
}

// resolveStatement decides whether Parse must be sent and what statement
// name to bind against.
func (e *Engine) resolveStatement(cache *StatementCache, req ExtendedQueryRequest) (stmtName string, needsParse bool, err error) {
	if !req.Prepared {
		return "", true, nil // unnamed statement: re-Parse every call
	}
	if cache == nil {
		return "", false, fmt.Errorf("wire: prepared=true requires a statement cache")
	}
	if ps, ok := cache.lookup(req.SQL, req.ParamOIDs); ok {
		return ps.name, false, nil
	}
	return cache.nextStatementName(req.SQL), true, nil
}

func (e *Engine) readExtendedResponses(parsed bool, stmtName string, cache *StatementCache, req ExtendedQueryRequest) (*ExtendedQueryResult, error) {
	result := &ExtendedQueryResult{}
	var pgErr *PgError

	for {
		msgType, payload, err := ReadMessage(e.br)
		if err != nil {
			e.MarkBroken()
			return nil, fmt.Errorf("reading extended query response: %w", err)
		}

		switch msgType {
		case MsgParseComplete:
			if parsed && req.Prepared && cache != nil {
				cache.store(req.SQL, req.ParamOIDs, &preparedStatement{name: stmtName, paramOIDs: req.ParamOIDs})
			}

		case MsgBindComplete:
			// nothing to record

		case MsgParameterDesc:
			// Parameter type OIDs for the statement; not surfaced to the
			// caller, who already supplied ParamOIDs hints.

		case MsgRowDescription:
			result.Fields = parseRowDescription(payload)

		case MsgNoData:
			// statement returns no rows (e.g. an UPDATE)

		case MsgDataRow:
			result.Rows = append(result.Rows, parseDataRow(payload))

		case MsgCommandComplete:
			result.Tag = CommandTag(trimNulTerminator(payload))

		case MsgPortalSuspended:
			result.Suspended = true

		case MsgCloseComplete:
			// unused here; Close is issued via a separate helper

		case MsgNoticeResponse:
			continue

		case MsgErrorResponse:
			pgErr = ParsePgError(payload)

		case MsgReadyForQuery:
			e.setState(readyState(payload))
			if pgErr != nil {
				return nil, pgErr
			}
			return result, nil

		default:
			continue
		}
	}
}

// ClosePortal sends a Close('P') + Sync for a named portal. Cursor.Close
// does not use it; it closes its cursor with a CLOSE statement.
func (e *Engine) ClosePortal(ctx context.Context, portalName string) error {
	if err := e.acquireStep(); err != nil {
		return err
	}
	defer e.releaseStep()

	return e.withDeadline(ctx, func() error {
		out := buildClose('P', portalName)
		out = append(out, buildSync()...)
		if _, err := e.conn.Write(out); err != nil {
			e.MarkBroken()
			return fmt.Errorf("writing close portal: %w", err)
		}
		for {
			msgType, payload, err := ReadMessage(e.br)
			if err != nil {
				e.MarkBroken()
				return fmt.Errorf("reading close portal response: %w", err)
			}
			switch msgType {
			case MsgReadyForQuery:
				e.setState(readyState(payload))
				return nil
			case MsgErrorResponse:
				return ParsePgError(payload)
			}
		}
	})
}

func buildParse(stmtName, sql string, paramOIDs []uint32) []byte {
	var body []byte
	body = cstring(body, stmtName)
	body = cstring(body, sql)
	n := make([]byte, 2)
	binary.BigEndian.PutUint16(n, uint16(len(paramOIDs)))
	body = append(body, n...)
	for _, oid := range paramOIDs {
		b := make([]byte, 4)
		binary.BigEndian.PutUint32(b, oid)
		body = append(body, b...)
	}
	return frame(MsgParse, body)
}

func buildBind(portal, stmtName string, paramFormats []int16, paramValues [][]byte, resultFormats []int16) []byte {
	var body []byte
	body = cstring(body, portal)
	body = cstring(body, stmtName)

	body = append(body, int16Slice(paramFormats)...)

	np := make([]byte, 2)
	binary.BigEndian.PutUint16(np, uint16(len(paramValues)))
	body = append(body, np...)
	for _, v := range paramValues {
		if v == nil {
			lb := make([]byte, 4)
			binary.BigEndian.PutUint32(lb, 0xFFFFFFFF) // -1 as uint32
			body = append(body, lb...)
			continue
		}
		lb := make([]byte, 4)
		binary.BigEndian.PutUint32(lb, uint32(len(v)))
		body = append(body, lb...)
		body = append(body, v...)
	}

	body = append(body, int16Slice(resultFormats)...)
	return frame(MsgBind, body)
}

func int16Slice(vals []int16) []byte {
	out := make([]byte, 2+2*len(vals))
	binary.BigEndian.PutUint16(out[0:2], uint16(len(vals)))
	for i, v := range vals {
		binary.BigEndian.PutUint16(out[2+2*i:4+2*i], uint16(v))
	}
	return out
}

func buildDescribe(which byte, name string) []byte {
	var body []byte
	body = append(body, which)
	body = cstring(body, name)
	return frame(MsgDescribe, body)
}

func buildExecute(portal string, maxRows int32) []byte {
	var body []byte
	body = cstring(body, portal)
	n := make([]byte, 4)
	binary.BigEndian.PutUint32(n, uint32(maxRows))
	body = append(body, n...)
	return frame(MsgExecute, body)
}

func buildClose(which byte, name string) []byte {
	var body []byte
	body = append(body, which)
	body = cstring(body, name)
	return frame(MsgClose, body)
}

func buildSync() []byte {
	return frame(MsgSync, nil)
}

func frame(msgType byte, payload []byte) []byte {
	buf := make([]byte, 5+len(payload))
	buf[0] = msgType
	binary.BigEndian.PutUint32(buf[1:5], uint32(4+len(payload)))
	copy(buf[5:], payload)
	return buf
}
