package presence

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	kpool "github.com/teamtally/tally/pkg/conn/db/postgres/pool"
	"github.com/teamtally/tally/pkg/domain"
	domerr "github.com/teamtally/tally/pkg/domain/errors"
	"github.com/teamtally/tally/pkg/livesync/registry"
	"github.com/teamtally/tally/pkg/livesync/replication"
	"github.com/teamtally/tally/pkg/livesync/session"
	"github.com/teamtally/tally/pkg/livesync/wire"
)

// Present is one student currently signed in.
type Present struct {
	StudentID string          `json:"student_id"`
	First     string          `json:"first"`
	Last      string          `json:"last"`
	Kind      domain.HourType `json:"kind"`
	Since     time.Time       `json:"since"`
}

// Snapshot is the full presence board. Presence never sends diffs; the
// board is small enough to resend whole on every change.
type Snapshot struct {
	Present []Present `json:"present"`
}

func (s Snapshot) envelope() wire.Envelope { return wire.Envelope{Type: "Presence", Data: s} }

// ErrReadOnly rejects mutation attempts; presence has no writable state.
var ErrReadOnly = domerr.WithCategory(
	domerr.CategoryData, errors.New("presence is read only"),
)

type Config struct {
	DB  kpool.Pool
	Bus *replication.Bus

	// Timezone deciding when an open record is stale (yesterday's
	// forgotten sign in is not "present").
	Location *time.Location

	Logger *log.Logger
	Fatal  func(error)

	// overridable for tests.
	Now func() time.Time
}

// NewFactory returns the registry factory for the presence pool. It
// follows both the records and the students feeds: a rename shows up on
// the board as fast as a swipe does.
func NewFactory(cfg Config) registry.Factory {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	fatal := cfg.Fatal
	if fatal == nil {
		fatal = func(err error) { logger.Fatalf("presence: %s", err) }
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}

	return func(ctx context.Context) (*registry.Pool, error) {
		b := &board{
			loc:      loc,
			now:      now,
			logger:   logger,
			fatal:    fatal,
			open:     map[string]domain.Record{},
			students: map[string]domain.Student{},
			sessions: map[uint64]*session.Session{},
		}
		if err := b.load(ctx, cfg.DB); err != nil {
			logger.Printf("presence: initial load failed, starting empty: %s", err)
		}

		records, err := replication.Subscribe(ctx, cfg.Bus, replication.Records)
		if err != nil {
			return nil, err
		}
		students, err := replication.Subscribe(ctx, cfg.Bus, replication.Students)
		if err != nil {
			records.Close()
			return nil, err
		}

		pool := registry.NewPool()
		go b.addWorker(pool.Add.Out())
		go b.watchWorker(records, students)
		go b.updateWorker(pool.Update.Out())
		go b.removeWorker(pool.Remove.Out())
		return pool, nil
	}
}

type board struct {
	loc    *time.Location
	now    func() time.Time
	logger *log.Logger
	fatal  func(error)

	mu       sync.RWMutex
	open     map[string]domain.Record  // record id -> open record
	students map[string]domain.Student // hashed id -> student; records point at the hash

	smu      sync.RWMutex
	sessions map[uint64]*session.Session
}

func (b *board) load(ctx context.Context, db kpool.Queryer) error {
	rows, err := db.Query(
		ctx,
		`
		select "id", "student_id", "hour_type", "sign_in"
		from "records" where "in_progress"
		`,
	)
	if err != nil {
		return fmt.Errorf("load open records: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		rec := domain.Record{InProgress: true}
		if err := rows.Scan(&rec.ID, &rec.StudentID, &rec.Kind, &rec.SignIn); err != nil {
			return fmt.Errorf("load open records: %w", err)
		}
		b.open[rec.ID] = rec
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("load open records: %w", err)
	}

	rows, err = db.Query(
		ctx, `select "id", "hashed", "first_name", "last_name" from "students"`,
	)
	if err != nil {
		return fmt.Errorf("load students: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var st domain.Student
		if err := rows.Scan(&st.ID, &st.Hashed, &st.First, &st.Last); err != nil {
			return fmt.Errorf("load students: %w", err)
		}
		b.students[st.Hashed] = st
	}
	return rows.Err()
}

func (b *board) snapshot() Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()

	today := domain.DateOf(b.now(), b.loc)
	present := []Present{}
	for _, rec := range b.open {
		if domain.DateOf(rec.SignIn, b.loc) != today {
			continue
		}
		p := Present{StudentID: rec.StudentID, Kind: rec.Kind, Since: rec.SignIn}
		if st, ok := b.students[rec.StudentID]; ok {
			p.First, p.Last = st.First, st.Last
		}
		present = append(present, p)
	}
	sort.Slice(present, func(i, j int) bool {
		if present[i].Last != present[j].Last {
			return present[i].Last < present[j].Last
		}
		return present[i].StudentID < present[j].StudentID
	})
	return Snapshot{Present: present}
}

func (b *board) addWorker(in <-chan *session.Session) {
	for s := range in {
		b.smu.Lock()
		b.sessions[s.ID()] = s
		b.smu.Unlock()

		if err := s.Send(b.snapshot().envelope()); err != nil {
			b.logger.Printf("presence: snapshot to session %d: %s", s.ID(), err)
		}
	}
}

func (b *board) watchWorker(
	records *replication.Cursor[replication.Event[string, domain.Record, domain.PartialRecord]],
	students *replication.Cursor[replication.Event[string, domain.Student, domain.PartialStudent]],
) {
	for {
		changed := false
		select {
		case ev, ok := <-records.C():
			if !ok {
				b.fatal(errors.New("record feed lost; the board can no longer be trusted"))
				return
			}
			changed = b.applyRecord(ev)
		case ev, ok := <-students.C():
			if !ok {
				b.fatal(errors.New("student feed lost; the board can no longer be trusted"))
				return
			}
			changed = b.applyStudent(ev)
		}
		if changed {
			b.broadcast()
		}
	}
}

func (b *board) applyRecord(ev replication.Event[string, domain.Record, domain.PartialRecord]) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch ev.Op {
	case replication.OpInsert:
		if !ev.Row.InProgress {
			return false
		}
		b.open[ev.Row.ID] = ev.Row
		return true
	case replication.OpUpdate:
		part := ev.Part
		rec, known := b.open[part.ID]
		nowOpen := known
		if part.InProgress != nil {
			nowOpen = *part.InProgress
		}
		if !nowOpen {
			if known {
				delete(b.open, part.ID)
			}
			return known
		}
		rec.ID = part.ID
		rec.InProgress = true
		part.ApplyTo(&rec)
		b.open[part.ID] = rec
		return true
	case replication.OpDelete:
		if _, known := b.open[ev.Row.ID]; !known {
			return false
		}
		delete(b.open, ev.Row.ID)
		return true
	}
	return false
}

func (b *board) applyStudent(ev replication.Event[string, domain.Student, domain.PartialStudent]) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch ev.Op {
	case replication.OpInsert:
		b.students[ev.Row.Hashed] = ev.Row
	case replication.OpUpdate:
		st := b.students[ev.Part.Hashed]
		st.Hashed = ev.Part.Hashed
		ev.Part.ApplyTo(&st)
		b.students[st.Hashed] = st
	case replication.OpDelete:
		delete(b.students, ev.Row.Hashed)
	}
	return true
}

// updateWorker exists only to tell callers no. Presence state is derived
// from the database; there is nothing for a client to write.
func (b *board) updateWorker(in <-chan registry.Mutation) {
	for m := range in {
		b.smu.RLock()
		s := b.sessions[m.SessionID]
		b.smu.RUnlock()
		if s == nil {
			continue
		}
		if err := s.Send(wire.Error(ErrReadOnly)); err != nil {
			b.logger.Printf("presence: error reply to session %d: %s", m.SessionID, err)
		}
	}
}

func (b *board) removeWorker(in <-chan uint64) {
	for id := range in {
		b.smu.Lock()
		delete(b.sessions, id)
		b.smu.Unlock()
	}
}

func (b *board) broadcast() {
	env := b.snapshot().envelope()

	b.smu.RLock()
	defer b.smu.RUnlock()
	for id, s := range b.sessions {
		if err := s.Send(env); err != nil {
			b.logger.Printf("presence: broadcast to session %d: %s", id, err)
		}
	}
}
