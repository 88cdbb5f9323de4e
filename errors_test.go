package pgasync

import (
	"errors"
	"fmt"
	"testing"

	"github.com/augustdb/pgasync/internal/wire"
)

func TestBaseErrorFormatsWithAndWithoutWrapped(t *testing.T) {
	bare := newCursorClosedError("cursor closed")
	if bare.Error() != "cursor closed" {
		t.Errorf("Error() = %q", bare.Error())
	}

	wrapped := newConnectionExecuteError("exec failed", fmt.Errorf("boom"))
	if wrapped.Error() != "exec failed: boom" {
		t.Errorf("Error() = %q", wrapped.Error())
	}
}

func TestErrorsUnwrapReachesCause(t *testing.T) {
	cause := fmt.Errorf("underlying failure")
	err := newTransactionBeginError("begin failed", cause)
	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to find the wrapped cause")
	}
}

func TestSQLStateExtractsPgErrorCode(t *testing.T) {
	pgErr := &wire.PgError{Code: "23505", Message: "duplicate key"}
	wrapped := newConnectionExecuteError("insert failed", pgErr)
	if got := SQLState(wrapped); got != "23505" {
		t.Errorf("SQLState() = %q, want 23505", got)
	}
}

func TestSQLStateEmptyForNonPgError(t *testing.T) {
	if got := SQLState(fmt.Errorf("not a pg error")); got != "" {
		t.Errorf("SQLState() = %q, want empty string", got)
	}
}
