package editor

import (
	"sort"
	"sync"
	"time"

	"github.com/teamtally/tally/pkg/domain"
)

// Entry is the denormalized view of one attendance record inside the grid.
type Entry struct {
	ID    string          `json:"id"`
	Kind  domain.HourType `json:"kind"`
	Start time.Time       `json:"start"`
	End   *time.Time      `json:"end"`
}

// Cell holds every entry of one student on one calendar day.
type Cell struct {
	Date    domain.Date      `json:"date"`
	Entries map[string]Entry `json:"entries"`
}

// Row is one student's line in the grid: one cell per known date, in
// chronological order, even for days the student never swiped.
type Row struct {
	StudentID string `json:"student_id"`
	Cells     []Cell `json:"cells"`
}

// Projection is the in-memory editor grid.
//
// One coarse RWMutex guards the whole structure: inserting a new date is
// a cross-cutting write touching every row, so per-row locking cannot be
// made safe. Correctness over throughput, deliberately.
//
// The watch worker is the only mutator; the add worker reads snapshots.
type Projection struct {
	mu  sync.RWMutex
	loc *time.Location

	dates []domain.Date
	rows  map[string]*Row
}

func NewProjection(loc *time.Location) *Projection {
	if loc == nil {
		loc = time.Local
	}
	return &Projection{
		loc:  loc,
		rows: map[string]*Row{},
	}
}

// Load rebuilds the grid from scratch out of the full backing table.
func (p *Projection) Load(records []domain.Record) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.dates = nil
	p.rows = map[string]*Row{}

	for _, rec := range records {
		date := domain.DateOf(rec.SignIn, p.loc)
		p.ensureDate(date)
		row := p.ensureRow(rec.StudentID)
		cell := row.cell(date)
		cell.Entries[rec.ID] = entryOf(rec)
	}
}

// Full captures dates and rows under a single read lock, so the
// delivered snapshot is internally consistent: every row carries exactly
// one cell per listed date, even while the watch worker is inserting a
// new date column.
func (p *Projection) Full() FullSnapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return FullSnapshot{
		Dates: append([]domain.Date{}, p.dates...),
		Rows:  p.copyRows(),
	}
}

// Snapshot deep-copies the grid for serialization, rows sorted by
// student id.
func (p *Projection) Snapshot() []Row {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.copyRows()
}

// copyRows deep-copies the rows. Caller holds at least the read lock.
func (p *Projection) copyRows() []Row {
	rows := make([]Row, 0, len(p.rows))
	for _, row := range p.rows {
		cells := make([]Cell, len(row.Cells))
		for nth, cell := range row.Cells {
			entries := make(map[string]Entry, len(cell.Entries))
			for id, e := range cell.Entries {
				entries[id] = e
			}
			cells[nth] = Cell{Date: cell.Date, Entries: entries}
		}
		rows = append(rows, Row{StudentID: row.StudentID, Cells: cells})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].StudentID < rows[j].StudentID })
	return rows
}

// Dates lists the known dates, ascending.
func (p *Projection) Dates() []domain.Date {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]domain.Date{}, p.dates...)
}

// ApplyInsert folds a new record in: the date column is created in every
// row (sorted position) before the entry lands in its cell.
func (p *Projection) ApplyInsert(rec domain.Record) *EntryAdd {
	p.mu.Lock()
	defer p.mu.Unlock()

	date := domain.DateOf(rec.SignIn, p.loc)
	p.ensureDate(date)
	row := p.ensureRow(rec.StudentID)
	entry := entryOf(rec)
	row.cell(date).Entries[rec.ID] = entry

	return &EntryAdd{StudentID: rec.StudentID, Date: date, Entry: entry}
}

// ApplyUpdate overwrites only the fields the partial carries and reports
// exactly which of them actually changed. Unknown ids are skipped (the
// projection must already know the row; the consumer missed the insert).
func (p *Projection) ApplyUpdate(part domain.PartialRecord) *EntryUpdate {
	p.mu.Lock()
	defer p.mu.Unlock()

	row, cell, entry := p.locate(part.ID, part.StudentID)
	if entry == nil {
		return nil
	}

	updates := []FieldUpdate{}
	if part.Kind != nil && *part.Kind != entry.Kind {
		entry.Kind = *part.Kind
		updates = append(updates, FieldUpdate{Key: "kind", Value: entry.Kind})
	}
	if part.SignIn != nil && !part.SignIn.Equal(entry.Start) {
		entry.Start = *part.SignIn
		updates = append(updates, FieldUpdate{Key: "start", Value: entry.Start})
	}

	end := entry.End
	if part.SignOut != nil {
		end = part.SignOut
	} else if part.InProgress != nil && *part.InProgress {
		end = nil
	}
	if !timePtrEq(end, entry.End) {
		entry.End = end
		updates = append(updates, FieldUpdate{Key: "end", Value: entry.End})
	}

	if len(updates) == 0 {
		return nil
	}
	cell.Entries[entry.ID] = *entry
	return &EntryUpdate{
		StudentID: row.StudentID,
		Date:      cell.Date,
		ID:        entry.ID,
		Updates:   updates,
	}
}

// ApplyDelete drops the entry if present; absent ids are a no-op.
func (p *Projection) ApplyDelete(rec domain.Record) *EntryDelete {
	p.mu.Lock()
	defer p.mu.Unlock()

	row, cell, entry := p.locate(rec.ID, &rec.StudentID)
	if entry == nil {
		return nil
	}
	delete(cell.Entries, rec.ID)
	return &EntryDelete{StudentID: row.StudentID, Date: cell.Date, ID: rec.ID}
}

// locate finds an entry by id. When the hinted student is known, only
// that row is searched; otherwise every row is.
func (p *Projection) locate(id string, studentHint *string) (*Row, *Cell, *Entry) {
	scan := func(row *Row) (*Cell, *Entry) {
		for nth := range row.Cells {
			if e, ok := row.Cells[nth].Entries[id]; ok {
				return &row.Cells[nth], &e
			}
		}
		return nil, nil
	}

	if studentHint != nil {
		if row, ok := p.rows[*studentHint]; ok {
			if cell, entry := scan(row); entry != nil {
				return row, cell, entry
			}
		}
	}
	for _, row := range p.rows {
		if cell, entry := scan(row); entry != nil {
			return row, cell, entry
		}
	}
	return nil, nil, nil
}

// ensureDate inserts date at its sorted position into the date list and
// into every row. Caller holds the write lock.
func (p *Projection) ensureDate(date domain.Date) {
	at := sort.Search(len(p.dates), func(i int) bool { return p.dates[i] >= date })
	if at < len(p.dates) && p.dates[at] == date {
		return
	}

	p.dates = append(p.dates, "")
	copy(p.dates[at+1:], p.dates[at:])
	p.dates[at] = date

	for _, row := range p.rows {
		row.Cells = append(row.Cells, Cell{})
		copy(row.Cells[at+1:], row.Cells[at:])
		row.Cells[at] = Cell{Date: date, Entries: map[string]Entry{}}
	}
}

// ensureRow returns the student's row, creating it with one empty cell
// per known date. Caller holds the write lock.
func (p *Projection) ensureRow(studentID string) *Row {
	if row, ok := p.rows[studentID]; ok {
		return row
	}
	row := &Row{StudentID: studentID, Cells: make([]Cell, len(p.dates))}
	for nth, date := range p.dates {
		row.Cells[nth] = Cell{Date: date, Entries: map[string]Entry{}}
	}
	p.rows[studentID] = row
	return row
}

func (r *Row) cell(date domain.Date) *Cell {
	for nth := range r.Cells {
		if r.Cells[nth].Date == date {
			return &r.Cells[nth]
		}
	}
	return nil
}

func entryOf(rec domain.Record) Entry {
	return Entry{
		ID:    rec.ID,
		Kind:  rec.Kind,
		Start: rec.SignIn,
		End:   rec.SignOut,
	}
}

func timePtrEq(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
