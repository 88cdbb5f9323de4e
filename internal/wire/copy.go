package wire

import (
	"context"
	"encoding/binary"
	"fmt"
)

// copyBinarySignature is the fixed 11-byte PGCOPY file signature, followed
// by a 4-byte flags field and a 4-byte header extension length, both zero
// for a plain stream with no extensions.
var copyBinarySignature = []byte("PGCOPY\n\377\r\n\000")

// CopyInResult reports the outcome of a CopyInBinary call.
type CopyInResult struct {
	Tag CommandTag
}

// CopyInBinary drives a COPY ... FROM STDIN (BINARY) session: it sends the
// COPY command via the simple query protocol, then streams rows (each
// already encoded as a tuple payload by the caller) as CopyData messages,
// followed by CopyDone, and waits for CommandComplete.
//
// rows holds the encoded rows; each is sent as one CopyData message, in
// order. To keep this package decoupled from the codec package,
// the caller is responsible for binary-encoding each row into the
// COPY binary tuple format (field count + per-field length-prefixed bytes,
// -1 length for SQL NULL) before it is appended to rows.
func (e *Engine) CopyInBinary(ctx context.Context, copySQL string, rows [][]byte) (*CopyInResult, error) {
	if err := e.acquireStep(); err != nil {
		return nil, err
	}
	defer e.releaseStep()

	var result *CopyInResult
	err := e.withDeadline(ctx, func() error {
		if err := WriteMessage(e.conn, MsgQuery, cstring(nil, copySQL)); err != nil {
			e.MarkBroken()
			return fmt.Errorf("writing COPY query: %w", err)
		}

		if err := e.awaitCopyInResponse(); err != nil {
			return err
		}

		if err := e.streamCopyRows(rows); err != nil {
			e.MarkBroken()
			return err
		}

		res, err := e.finishCopyIn()
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	return result, err
}

func (e *Engine) awaitCopyInResponse() error {
	for {
		msgType, payload, err := ReadMessage(e.br)
		if err != nil {
			e.MarkBroken()
			return fmt.Errorf("awaiting CopyInResponse: %w", err)
		}
		switch msgType {
		case MsgCopyInResponse:
			return nil
		case MsgNoticeResponse:
			continue
		case MsgErrorResponse:
			pgErr := ParsePgError(payload)
			if rfqErr := e.drainToReady(); rfqErr != nil {
				e.MarkBroken()
			}
			return pgErr
		default:
			continue
		}
	}
}

func (e *Engine) streamCopyRows(rows [][]byte) error {
	out := append([]byte(nil), copyBinarySignature...)
	out = append(out, 0, 0, 0, 0) // flags
	out = append(out, 0, 0, 0, 0) // header extension length

	if err := WriteMessage(e.conn, MsgCopyData, out); err != nil {
		return fmt.Errorf("writing COPY header: %w", err)
	}
	for _, row := range rows {
		if err := WriteMessage(e.conn, MsgCopyData, row); err != nil {
			return fmt.Errorf("writing COPY row: %w", err)
		}
	}

	trailer := make([]byte, 2)
	binary.BigEndian.PutUint16(trailer, 0xFFFF) // -1 as a field count signals end-of-data
	if err := WriteMessage(e.conn, MsgCopyData, trailer); err != nil {
		return fmt.Errorf("writing COPY trailer: %w", err)
	}
	if err := WriteMessage(e.conn, MsgCopyDone, nil); err != nil {
		return fmt.Errorf("writing CopyDone: %w", err)
	}
	return nil
}

func (e *Engine) finishCopyIn() (*CopyInResult, error) {
	var tag CommandTag
	var pgErr *PgError
	for {
		msgType, payload, err := ReadMessage(e.br)
		if err != nil {
			e.MarkBroken()
			return nil, fmt.Errorf("reading COPY completion: %w", err)
		}
		switch msgType {
		case MsgCommandComplete:
			tag = CommandTag(trimNulTerminator(payload))
		case MsgNoticeResponse:
			continue
		case MsgErrorResponse:
			pgErr = ParsePgError(payload)
		case MsgReadyForQuery:
			e.setState(readyState(payload))
			if pgErr != nil {
				return nil, pgErr
			}
			return &CopyInResult{Tag: tag}, nil
		default:
			continue
		}
	}
}

// CopyFail aborts an in-progress COPY IN, used when row encoding fails
// partway through and the protocol framing must still be resynchronized.
func (e *Engine) CopyFail(ctx context.Context, reason string) error {
	return e.withDeadline(ctx, func() error {
		if err := WriteMessage(e.conn, MsgCopyFail, cstring(nil, reason)); err != nil {
			e.MarkBroken()
			return fmt.Errorf("writing CopyFail: %w", err)
		}
		_, err := e.finishCopyIn()
		return err
	})
}
