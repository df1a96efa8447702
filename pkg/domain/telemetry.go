package domain

import (
	"encoding/json"
	"time"
)

// Audit event names, one per notable API action.
const (
	TelemetryAdminLogin    = "admin_login"
	TelemetryStudentEdit   = "student_edit"
	TelemetryStudentDelete = "student_delete"
	TelemetryRecordAdd     = "record_add"
	TelemetryRecordEdit    = "record_edit"
	TelemetryRecordDelete  = "record_delete"
)

// TelemetryEvent is one line of the audit log: who did what, when.
// The log is append only; events are never edited.
type TelemetryEvent struct {
	ID        string          `json:"id"`
	Event     string          `json:"event"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

func (e TelemetryEvent) Pkey() string { return e.ID }

// PartialTelemetryEvent exists to satisfy the change feed's shape.
// The table is append only, so there is nothing to merge.
type PartialTelemetryEvent struct {
	ID string `json:"id"`
}

func (p PartialTelemetryEvent) Pkey() string { return p.ID }

func (p PartialTelemetryEvent) ApplyTo(row *TelemetryEvent) {}
