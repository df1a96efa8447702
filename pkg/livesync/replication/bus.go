package replication

import (
	"context"
	"fmt"
	"log"
	"sync"

	kpool "github.com/teamtally/tally/pkg/conn/db/postgres/pool"
)

// pending events a slow consumer may lag behind before losing the oldest.
const cursorBacklog = 1024

// Bus multiplexes database change notifications to many consumers.
//
// The first Subscribe for an entity opens one LISTEN connection and keeps
// it for the process lifetime; later subscribers share it through
// independent cursors. Delivery is at-most-once: a consumer that falls
// more than cursorBacklog events behind loses the oldest undelivered ones.
//
// One Bus instance is wired through the application at startup; entities
// are keyed by name.
type Bus struct {
	pool   kpool.Pool
	logger *log.Logger

	mu    sync.Mutex
	feeds map[string]any // entity name -> *feed[Event[...]]
}

func NewBus(pool kpool.Pool, logger *log.Logger) *Bus {
	if logger == nil {
		logger = log.Default()
	}
	return &Bus{
		pool:   pool,
		logger: logger,
		feeds:  map[string]any{},
	}
}

// Subscribe returns a cursor over ent's change events.
//
// The error is non-nil only when this call had to open the upstream
// listener and failed to; an established feed never fails Subscribe.
// The returned cursor's channel is closed when the upstream listener is
// lost -- consumers must treat that as fatal for their view: a broken
// change feed silently staling the projection is unrecoverable.
func Subscribe[K comparable, R Row[K], P Partial[K, R]](
	ctx context.Context, bus *Bus, ent Entity[K, R, P],
) (*Cursor[Event[K, R, P]], error) {
	bus.mu.Lock()
	defer bus.mu.Unlock()

	if f, ok := bus.feeds[ent.Name]; ok {
		return f.(*feed[Event[K, R, P]]).subscribe(), nil
	}

	conn, err := bus.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("replication %s: acquire listener conn: %w", ent.Name, err)
	}
	if _, err := conn.Exec(ctx, fmt.Sprintf(`listen %q`, ent.Channel)); err != nil {
		conn.Release()
		return nil, fmt.Errorf("replication %s: listen %s: %w", ent.Name, ent.Channel, err)
	}

	f := newFeed[Event[K, R, P]]()
	bus.feeds[ent.Name] = f

	// subscribe before the listener starts, so the first consumer cannot
	// miss an event that arrives while Subscribe is still returning.
	c := f.subscribe()

	go func() {
		// the conn is held for the feed's whole lifetime; losing it
		// closes every cursor. The dead feed is unregistered so a later
		// Subscribe opens a fresh listener instead of a closed cursor.
		defer conn.Release()
		defer func() {
			bus.mu.Lock()
			delete(bus.feeds, ent.Name)
			bus.mu.Unlock()
			f.close()
		}()

		for {
			raw, err := conn.WaitForNotification(ctx)
			if err != nil {
				bus.logger.Printf("replication %s: listener lost: %s", ent.Name, err)
				return
			}

			ev, err := ent.Decode([]byte(raw.Payload))
			if err != nil {
				bus.logger.Printf("replication %s: skipping: %s", ent.Name, err)
				continue
			}

			f.publish(ev)
		}
	}()

	return c, nil
}

// feed is one broadcast point: the shared upstream of all cursors for an
// entity.
type feed[T any] struct {
	mu     sync.Mutex
	subs   map[uint64]*Cursor[T]
	nextId uint64
	closed bool
}

func newFeed[T any]() *feed[T] {
	return &feed[T]{subs: map[uint64]*Cursor[T]{}}
}

func (f *feed[T]) subscribe() *Cursor[T] {
	f.mu.Lock()
	defer f.mu.Unlock()

	c := &Cursor[T]{
		ch:   make(chan T, cursorBacklog),
		drop: func(id uint64) { f.unsubscribe(id) },
		id:   f.nextId,
	}
	f.nextId += 1

	if f.closed {
		close(c.ch)
		return c
	}
	f.subs[c.id] = c
	return c
}

func (f *feed[T]) unsubscribe(id uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.subs[id]; ok {
		delete(f.subs, id)
		close(c.ch)
	}
}

func (f *feed[T]) publish(item T) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.subs {
		for {
			select {
			case c.ch <- item:
			default:
				// full: shed the oldest pending event and retry.
				select {
				case <-c.ch:
				default:
				}
				continue
			}
			break
		}
	}
}

func (f *feed[T]) close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	for id, c := range f.subs {
		delete(f.subs, id)
		close(c.ch)
	}
}

// Cursor is one consumer's view of a feed.
//
// Dropping a cursor (Close) does not disturb other consumers or the
// upstream listener.
type Cursor[T any] struct {
	ch   chan T
	drop func(id uint64)
	id   uint64
	once sync.Once
}

// C yields events in publish order. It is closed when the cursor is
// Closed or the upstream listener is lost.
func (c *Cursor[T]) C() <-chan T {
	return c.ch
}

func (c *Cursor[T]) Close() {
	c.once.Do(func() { c.drop(c.id) })
}
