package editor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/jackc/pgtype"

	kpool "github.com/teamtally/tally/pkg/conn/db/postgres/pool"
	"github.com/teamtally/tally/pkg/domain"
	"github.com/teamtally/tally/pkg/livesync/registry"
	"github.com/teamtally/tally/pkg/livesync/replication"
	"github.com/teamtally/tally/pkg/livesync/session"
	"github.com/teamtally/tally/pkg/livesync/wire"
)

// Config carries the dependencies of the editor worker group.
type Config struct {
	DB  kpool.Pool
	Bus *replication.Bus

	// Timezone deciding which calendar day a timestamp belongs to.
	Location *time.Location

	Logger *log.Logger

	// Fatal is invoked when the change feed is lost. The projection
	// cannot be trusted past that point, so the default exits the
	// process; tests override it.
	Fatal func(error)
}

// NewFactory returns the registry factory for the editor pool.
//
// The factory loads the whole records table into the projection and
// opens the change feed before it returns, so the first subscriber
// already sees a complete snapshot. A failing initial load is logged and
// yields an empty grid; a failing feed subscription fails the factory.
func NewFactory(cfg Config) registry.Factory {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	fatal := cfg.Fatal
	if fatal == nil {
		fatal = func(err error) { logger.Fatalf("editor: %s", err) }
	}

	return func(ctx context.Context) (*registry.Pool, error) {
		proj := NewProjection(cfg.Location)
		if records, err := loadRecords(ctx, cfg.DB); err != nil {
			logger.Printf("editor: initial load failed, starting empty: %s", err)
		} else {
			proj.Load(records)
		}

		cursor, err := replication.Subscribe(ctx, cfg.Bus, replication.Records)
		if err != nil {
			return nil, err
		}

		g := &group{
			proj:     proj,
			mut:      newMutator(cfg.DB, cfg.Location),
			logger:   logger,
			fatal:    fatal,
			sessions: map[uint64]*session.Session{},
		}

		pool := registry.NewPool()
		go g.addWorker(pool.Add.Out())
		go g.watchWorker(cursor)
		go g.updateWorker(ctx, pool.Update.Out())
		go g.removeWorker(pool.Remove.Out())
		return pool, nil
	}
}

// group is the state shared by the four editor workers.
type group struct {
	proj   *Projection
	mut    *mutator
	logger *log.Logger
	fatal  func(error)

	mu       sync.RWMutex
	sessions map[uint64]*session.Session
}

// addWorker admits subscribers: membership first, snapshot second. A
// broadcast racing the admission can then at worst deliver a diff the
// snapshot already contains; diffs carry absolute values, so replaying
// one is harmless, while losing one would desync the client for good.
func (g *group) addWorker(in <-chan *session.Session) {
	for s := range in {
		g.mu.Lock()
		g.sessions[s.ID()] = s
		g.mu.Unlock()

		if err := s.Send(g.proj.Full().envelope()); err != nil {
			g.logger.Printf("editor: snapshot to session %d: %s", s.ID(), err)
		}
	}
}

// watchWorker is the single writer of the projection. Every change,
// client-made or external, arrives here through the change feed.
func (g *group) watchWorker(cursor *replication.Cursor[replication.Event[string, domain.Record, domain.PartialRecord]]) {
	for ev := range cursor.C() {
		var env wire.Envelope
		switch ev.Op {
		case replication.OpInsert:
			if diff := g.proj.ApplyInsert(ev.Row); diff != nil {
				env = diff.envelope()
			}
		case replication.OpUpdate:
			if diff := g.proj.ApplyUpdate(ev.Part); diff != nil {
				env = diff.envelope()
			}
		case replication.OpDelete:
			if diff := g.proj.ApplyDelete(ev.Row); diff != nil {
				env = diff.envelope()
			}
		}
		if env.Type == "" {
			continue
		}
		g.broadcast(env)
	}

	g.fatal(errors.New("change feed lost; projection can no longer be trusted"))
}

// updateWorker executes mutations. It never touches the projection; the
// watch worker picks the effects up from the change feed. Failures go
// back to the session that asked, nobody else.
func (g *group) updateWorker(ctx context.Context, in <-chan registry.Mutation) {
	for m := range in {
		var req Request
		err := json.Unmarshal(m.Payload, &req)
		if err == nil {
			err = g.mut.Execute(ctx, req)
		}
		if err == nil {
			continue
		}

		g.mu.RLock()
		s := g.sessions[m.SessionID]
		g.mu.RUnlock()
		if s == nil {
			continue
		}
		if err := s.Send(wire.Error(err)); err != nil {
			g.logger.Printf("editor: error reply to session %d: %s", m.SessionID, err)
		}
	}
}

func (g *group) removeWorker(in <-chan uint64) {
	for id := range in {
		g.mu.Lock()
		delete(g.sessions, id)
		g.mu.Unlock()
	}
}

// broadcast serializes once and fans out. Send failures mean the peer is
// on its way out; the disconnect path cleans up.
func (g *group) broadcast(env wire.Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		g.logger.Printf("editor: marshal %s: %s", env.Type, err)
		return
	}

	g.mu.RLock()
	defer g.mu.RUnlock()
	for id, s := range g.sessions {
		if err := s.SendRaw(data); err != nil {
			g.logger.Printf("editor: %s to session %d: %s", env.Type, id, err)
		}
	}
}

// loadRecords reads the whole backing table, newest first.
func loadRecords(ctx context.Context, db kpool.Queryer) ([]domain.Record, error) {
	rows, err := db.Query(
		ctx,
		`
		select "id", "student_id", "hour_type", "sign_in", "sign_out", "in_progress"
		from "records" order by "sign_in" desc
		`,
	)
	if err != nil {
		return nil, fmt.Errorf("load records: %w", err)
	}
	defer rows.Close()

	records := []domain.Record{}
	for rows.Next() {
		var (
			rec     domain.Record
			signOut pgtype.Timestamptz
		)
		if err := rows.Scan(
			&rec.ID, &rec.StudentID, &rec.Kind, &rec.SignIn, &signOut, &rec.InProgress,
		); err != nil {
			return nil, fmt.Errorf("load records: %w", err)
		}
		if signOut.Status == pgtype.Present {
			t := signOut.Time
			rec.SignOut = &t
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load records: %w", err)
	}
	return records, nil
}
