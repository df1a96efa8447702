package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/teamtally/tally/pkg/livesync/session"
	"github.com/teamtally/tally/pkg/utils/queue"
)

// Kind names one logical class of live data served by a worker group.
type Kind string

const (
	KindEditor   Kind = "editor"
	KindPresence Kind = "presence"
)

// Mutation is a client-submitted change request, opaque to the registry;
// the pool's update worker decodes it. Errors go back to SessionID only.
type Mutation struct {
	SessionID uint64
	Payload   json.RawMessage
}

// Pool is the channel surface of one subscription pool's worker group.
//
// All three queues are unbounded so no caller ever blocks on a busy
// worker (a blocked disconnect path could deadlock the server).
type Pool struct {
	Add    *queue.Unbounded[*session.Session]
	Remove *queue.Unbounded[uint64]
	Update *queue.Unbounded[Mutation]
}

func NewPool() *Pool {
	return &Pool{
		Add:    queue.NewUnbounded[*session.Session](),
		Remove: queue.NewUnbounded[uint64](),
		Update: queue.NewUnbounded[Mutation](),
	}
}

// Factory builds a pool and spawns its workers. Construction must finish
// the initial projection load before returning, so the first subscriber
// sees a complete snapshot.
type Factory func(ctx context.Context) (*Pool, error)

// Registry lazily builds and caches one pool per kind.
//
// Pools live for the process lifetime; there is no eviction.
type Registry struct {
	mu        sync.RWMutex
	factories map[Kind]Factory
	pools     map[Kind]*Pool
}

func New(factories map[Kind]Factory) *Registry {
	return &Registry{
		factories: factories,
		pools:     map[Kind]*Pool{},
	}
}

// Get returns the pool for kind, constructing it on first use.
func (r *Registry) Get(ctx context.Context, kind Kind) (*Pool, error) {
	r.mu.RLock()
	pool, ok := r.pools[kind]
	r.mu.RUnlock()
	if ok {
		return pool, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if pool, ok := r.pools[kind]; ok {
		return pool, nil
	}

	factory, ok := r.factories[kind]
	if !ok {
		return nil, fmt.Errorf("unknown subscription kind: %s", kind)
	}
	pool, err := factory(ctx)
	if err != nil {
		return nil, fmt.Errorf("subscription pool %s: %w", kind, err)
	}
	r.pools[kind] = pool
	return pool, nil
}

// RemoveSession asks every known pool to drop the session, whether or not
// it ever joined (pools treat unknown ids as no-ops).
func (r *Registry) RemoveSession(id uint64) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, pool := range r.pools {
		pool.Remove.Push(id)
	}
}
