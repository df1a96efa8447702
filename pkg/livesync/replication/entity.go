package replication

import (
	"encoding/json"
	"fmt"

	"github.com/teamtally/tally/pkg/domain"
)

// Op is the database operation a change notification describes.
type Op string

const (
	OpInsert Op = "INSERT"
	OpUpdate Op = "UPDATE"
	OpDelete Op = "DELETE"
)

// Row is a full representation of one table row.
type Row[K comparable] interface {
	Pkey() K
}

// Partial is a sparse update for R: the primary key plus the fields to
// overwrite.
type Partial[K comparable, R any] interface {
	Pkey() K
	ApplyTo(row *R)
}

// Entity describes one replicated table: its name, the NOTIFY channel its
// trigger publishes to, and (via type parameters) its key, full and
// partial representations.
type Entity[K comparable, R Row[K], P Partial[K, R]] struct {
	Name    string
	Channel string
}

// Event is one decoded change notification.
//
// Row is set for OpInsert and OpDelete (triggers publish the OLD row on
// delete), Part for OpUpdate. Key is always set.
type Event[K comparable, R Row[K], P Partial[K, R]] struct {
	Op   Op
	Key  K
	Row  R
	Part P
}

// Apply folds the event into a keyed view of the table.
//
// Insert (re)defines the keyed slot. Update is a no-op unless the key is
// already known. Delete removes the slot if present.
//
// Returns the affected row and whether the view changed.
func (e Event[K, R, P]) Apply(view map[K]R) (R, bool) {
	switch e.Op {
	case OpInsert:
		view[e.Key] = e.Row
		return e.Row, true
	case OpUpdate:
		row, ok := view[e.Key]
		if !ok {
			return *new(R), false
		}
		e.Part.ApplyTo(&row)
		view[e.Key] = row
		return row, true
	case OpDelete:
		row, ok := view[e.Key]
		if ok {
			delete(view, e.Key)
		}
		return row, ok
	}
	return *new(R), false
}

// Decode parses a raw trigger payload, shaped
//
//	{"operation": "INSERT"|"UPDATE"|"DELETE", ...row columns}
//
// into a typed event.
func (ent Entity[K, R, P]) Decode(payload []byte) (Event[K, R, P], error) {
	head := struct {
		Operation Op `json:"operation"`
	}{}
	if err := json.Unmarshal(payload, &head); err != nil {
		return Event[K, R, P]{}, fmt.Errorf("%s: undecodable payload: %w", ent.Name, err)
	}

	switch head.Operation {
	case OpInsert, OpDelete:
		var row R
		if err := json.Unmarshal(payload, &row); err != nil {
			return Event[K, R, P]{}, fmt.Errorf("%s: bad %s payload: %w", ent.Name, head.Operation, err)
		}
		return Event[K, R, P]{Op: head.Operation, Key: row.Pkey(), Row: row}, nil
	case OpUpdate:
		var part P
		if err := json.Unmarshal(payload, &part); err != nil {
			return Event[K, R, P]{}, fmt.Errorf("%s: bad UPDATE payload: %w", ent.Name, err)
		}
		return Event[K, R, P]{Op: OpUpdate, Key: part.Pkey(), Part: part}, nil
	}
	return Event[K, R, P]{}, fmt.Errorf("%s: unknown operation %q", ent.Name, head.Operation)
}

// The replicated tables of this backend.
var (
	Records = Entity[string, domain.Record, domain.PartialRecord]{
		Name:    "records",
		Channel: "record_update",
	}

	Students = Entity[string, domain.Student, domain.PartialStudent]{
		Name:    "students",
		Channel: "student_update",
	}

	// Telemetry only ever sees INSERT: the audit log is append only.
	Telemetry = Entity[string, domain.TelemetryEvent, domain.PartialTelemetryEvent]{
		Name:    "telemetry",
		Channel: "telemetry_update",
	}
)
