package wire

import (
	"strings"
	"testing"
)

func buildErrorPayload(fields map[byte]string) []byte {
	var payload []byte
	for tag, val := range fields {
		payload = append(payload, tag)
		payload = cstring(payload, val)
	}
	payload = append(payload, 0) // terminator
	return payload
}

func TestParsePgErrorAllFields(t *testing.T) {
	payload := buildErrorPayload(map[byte]string{
		'S': "ERROR",
		'C': "23505",
		'M': "duplicate key value violates unique constraint",
		'D': "Key (id)=(1) already exists.",
		'H': "try a different id",
		'P': "42",
		'W': "SQL statement \"INSERT ...\"",
		'R': "_bt_check_unique",
	})

	pgErr := ParsePgError(payload)
	if pgErr.Severity != "ERROR" {
		t.Errorf("Severity = %q", pgErr.Severity)
	}
	if pgErr.Code != "23505" {
		t.Errorf("Code = %q", pgErr.Code)
	}
	if !strings.Contains(pgErr.Message, "duplicate key") {
		t.Errorf("Message = %q", pgErr.Message)
	}
	if pgErr.Detail == "" {
		t.Error("Detail should not be empty")
	}
	if pgErr.Hint == "" {
		t.Error("Hint should not be empty")
	}
	if pgErr.Position != "42" {
		t.Errorf("Position = %q", pgErr.Position)
	}
	if pgErr.Where == "" {
		t.Error("Where should not be empty")
	}
	if pgErr.Routine != "_bt_check_unique" {
		t.Errorf("Routine = %q", pgErr.Routine)
	}
}

func TestParsePgErrorMinimal(t *testing.T) {
	payload := buildErrorPayload(map[byte]string{
		'S': "FATAL",
		'C': "28000",
		'M': "password authentication failed",
	})

	pgErr := ParsePgError(payload)
	if pgErr.Severity != "FATAL" {
		t.Errorf("Severity = %q", pgErr.Severity)
	}
	if pgErr.Detail != "" {
		t.Errorf("Detail = %q, want empty", pgErr.Detail)
	}
}

func TestPgErrorErrorString(t *testing.T) {
	pgErr := &PgError{Severity: "ERROR", Code: "42601", Message: "syntax error"}
	s := pgErr.Error()
	if !strings.Contains(s, "42601") || !strings.Contains(s, "syntax error") {
		t.Errorf("Error() = %q, missing code or message", s)
	}
}
