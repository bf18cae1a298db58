// Package auditmsg extracts and parses the pgaudit-style payload embedded
// in a log_event's message field.
package auditmsg

import (
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"
)

// Prefix is the literal marker, including trailing space, that identifies
// an audit-carrying message.
const Prefix = "AUDIT: "

// noneLiteral is the sentinel the logging collector writes for an absent
// parameter.
const noneLiteral = "<none>"

// Message is one decoded audit payload: a nested CSV record of nine fields
// in fixed order.
type Message struct {
	AuditType     string
	StatementID   int64
	SubstatementID int64
	Class         string
	Command       string
	ObjectType    string
	ObjectName    string
	Statement     string
	Parameter     string
	HasParameter  bool
}

// HasPrefix reports whether message begins with the audit marker.
func HasPrefix(message string) bool {
	return strings.HasPrefix(message, Prefix)
}

// Parse strips the audit prefix and decodes the remaining nine-field CSV
// record. It reuses encoding/csv (the same lexer the top-level reader
// trusts) since the embedded payload follows the identical quoting
// rules.
func Parse(message string) (Message, error) {
	if !HasPrefix(message) {
		return Message{}, fmt.Errorf("auditmsg: message does not start with %q", Prefix)
	}
	payload := strings.TrimPrefix(message, Prefix)

	cr := csv.NewReader(strings.NewReader(payload))
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = false

	fields, err := cr.Read()
	if err != nil {
		return Message{}, fmt.Errorf("auditmsg: parse payload: %w", err)
	}
	if len(fields) != 9 {
		return Message{}, fmt.Errorf("auditmsg: expected 9 fields, got %d", len(fields))
	}

	statementID, err := strconv.ParseInt(strings.TrimSpace(fields[1]), 10, 64)
	if err != nil {
		return Message{}, fmt.Errorf("auditmsg: invalid statement_id %q: %w", fields[1], err)
	}
	substatementID, err := strconv.ParseInt(strings.TrimSpace(fields[2]), 10, 64)
	if err != nil {
		return Message{}, fmt.Errorf("auditmsg: invalid substatement_id %q: %w", fields[2], err)
	}

	m := Message{
		AuditType:      fields[0],
		StatementID:    statementID,
		SubstatementID: substatementID,
		Class:          fields[3],
		Command:        fields[4],
		ObjectType:     fields[5],
		ObjectName:     fields[6],
		Statement:      fields[7],
	}

	param := fields[8]
	if param != "" && param != noneLiteral {
		m.Parameter = param
		m.HasParameter = true
	}

	return m, nil
}
