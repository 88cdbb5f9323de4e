package pgasync

import (
	"errors"
	"fmt"

	"github.com/augustdb/pgasync/internal/wire"
)

// BaseError is embedded by every error kind this package returns, so a
// caller can type-switch on it to recognize "this came from pgasync"
// without enumerating every concrete kind.
type BaseError struct {
	Msg string
	Err error
}

func (e *BaseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *BaseError) Unwrap() error { return e.Err }

func base(msg string, err error) BaseError { return BaseError{Msg: msg, Err: err} }

// ConnectionPoolError reports a failure acquiring, releasing, or closing a
// Pool-managed connection that is not a configuration mistake.
type ConnectionPoolError struct{ BaseError }

func newConnectionPoolError(msg string, err error) *ConnectionPoolError {
	return &ConnectionPoolError{base(msg, err)}
}

// ConnectionPoolConfigurationError reports an invalid ConnectConfig or
// Builder setter value, caught before any socket is opened.
type ConnectionPoolConfigurationError struct{ BaseError }

func newConnectionPoolConfigurationError(msg string) *ConnectionPoolConfigurationError {
	return &ConnectionPoolConfigurationError{base(msg, nil)}
}

// ConnectionError reports a dial, TLS, or startup/auth failure.
type ConnectionError struct{ BaseError }

func newConnectionError(msg string, err error) *ConnectionError {
	return &ConnectionError{base(msg, err)}
}

// ConnectionClosedError reports an operation attempted against a
// Connection that has already been closed or discarded.
type ConnectionClosedError struct{ BaseError }

func newConnectionClosedError(msg string) *ConnectionClosedError {
	return &ConnectionClosedError{base(msg, nil)}
}

// ConnectionExecuteError wraps a server ErrorResponse (or malformed-result
// condition) surfaced by execute/fetch and friends.
type ConnectionExecuteError struct{ BaseError }

func newConnectionExecuteError(msg string, err error) *ConnectionExecuteError {
	return &ConnectionExecuteError{base(msg, err)}
}

// TransactionBeginError reports a failed BEGIN.
type TransactionBeginError struct{ BaseError }

func newTransactionBeginError(msg string, err error) *TransactionBeginError {
	return &TransactionBeginError{base(msg, err)}
}

// TransactionExecuteError wraps a failure of a statement run inside a
// Transaction, including the execute_many([]) misuse case.
type TransactionExecuteError struct{ BaseError }

func newTransactionExecuteError(msg string, err error) *TransactionExecuteError {
	return &TransactionExecuteError{base(msg, err)}
}

// TransactionClosedError reports an operation against a Transaction that
// already committed or rolled back.
type TransactionClosedError struct{ BaseError }

func newTransactionClosedError(msg string) *TransactionClosedError {
	return &TransactionClosedError{base(msg, nil)}
}

// TransactionSavepointError reports a savepoint operation against a name
// not on the stack (rollback/release of an unknown savepoint).
type TransactionSavepointError struct{ BaseError }

func newTransactionSavepointError(msg string) *TransactionSavepointError {
	return &TransactionSavepointError{base(msg, nil)}
}

// CursorError wraps a failed DECLARE/FETCH/CLOSE.
type CursorError struct{ BaseError }

func newCursorError(msg string, err error) *CursorError {
	return &CursorError{base(msg, err)}
}

// CursorClosedError reports an operation against a Cursor whose owning
// Transaction has already terminated.
type CursorClosedError struct{ BaseError }

func newCursorClosedError(msg string) *CursorClosedError {
	return &CursorClosedError{base(msg, nil)}
}

// ListenerStartError reports a second Listener.Startup call.
type ListenerStartError struct{ BaseError }

func newListenerStartError(msg string) *ListenerStartError {
	return &ListenerStartError{base(msg, nil)}
}

// ListenerClosedError reports an operation against a stopped Listener.
type ListenerClosedError struct{ BaseError }

func newListenerClosedError(msg string) *ListenerClosedError {
	return &ListenerClosedError{base(msg, nil)}
}

// ValueEncodeError reports that a host value could not be mapped onto its
// declared (or inferred) OID. Re-exported from internal/codec so callers
// never need to import an internal package to type-switch on it.
type ValueEncodeError struct{ BaseError }

func newValueEncodeError(msg string, err error) *ValueEncodeError {
	return &ValueEncodeError{base(msg, err)}
}

// ValueDecodeError reports malformed or unrecognized server wire bytes.
type ValueDecodeError struct{ BaseError }

func newValueDecodeError(msg string, err error) *ValueDecodeError {
	return &ValueDecodeError{base(msg, err)}
}

// InterfaceError reports caller misuse independent of server state: a
// second concurrent operation on one Connection, fetch on a non-row
// statement, fetch_row on other than exactly one row, and similar.
type InterfaceError struct{ BaseError }

func newInterfaceError(msg string) *InterfaceError {
	return &InterfaceError{base(msg, nil)}
}

// UUIDValueConvertError reports a string that does not parse as a UUID.
type UUIDValueConvertError struct{ BaseError }

func newUUIDValueConvertError(msg string, err error) *UUIDValueConvertError {
	return &UUIDValueConvertError{base(msg, err)}
}

// MacAddrConversionError reports a string that does not parse as a
// hardware address of the width the target OID expects.
type MacAddrConversionError struct{ BaseError }

func newMacAddrConversionError(msg string, err error) *MacAddrConversionError {
	return &MacAddrConversionError{base(msg, err)}
}

// SQLState extracts the PostgreSQL SQLSTATE code from err's chain, when a
// *wire.PgError is present, so a caller can branch on server error codes
// without importing an internal package.
func SQLState(err error) string {
	var pgErr *wire.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}
