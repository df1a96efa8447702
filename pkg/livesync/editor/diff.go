package editor

import (
	"github.com/teamtally/tally/pkg/domain"
	"github.com/teamtally/tally/pkg/livesync/wire"
)

// FullSnapshot is the first message every editor subscriber receives.
type FullSnapshot struct {
	Dates []domain.Date `json:"dates"`
	Rows  []Row         `json:"rows"`
}

// FieldUpdate carries the new absolute value of one entry field. Diffs
// never carry deltas, so applying one twice is harmless.
type FieldUpdate struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

type EntryAdd struct {
	StudentID string      `json:"student_id"`
	Date      domain.Date `json:"date"`
	Entry     Entry       `json:"entry"`
}

type EntryUpdate struct {
	StudentID string        `json:"student_id"`
	Date      domain.Date   `json:"date"`
	ID        string        `json:"id"`
	Updates   []FieldUpdate `json:"updates"`
}

type EntryDelete struct {
	StudentID string      `json:"student_id"`
	Date      domain.Date `json:"date"`
	ID        string      `json:"id"`
}

func (s FullSnapshot) envelope() wire.Envelope { return wire.Envelope{Type: "EditorFull", Data: s} }
func (d *EntryAdd) envelope() wire.Envelope    { return wire.Envelope{Type: "EntryAdd", Data: d} }
func (d *EntryUpdate) envelope() wire.Envelope { return wire.Envelope{Type: "EntryUpdate", Data: d} }
func (d *EntryDelete) envelope() wire.Envelope { return wire.Envelope{Type: "EntryDelete", Data: d} }
