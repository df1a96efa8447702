package session

import (
	"encoding/json"
	"errors"
	"math/rand"
	"sync"
)

// Conn is the transport a session writes to. It must deliver whole text
// messages; writes to a closed connection return an error.
type Conn interface {
	WriteText(data []byte) error
	Close() error
}

// ErrExhausted: no free id found within the retry budget. Callers treat
// this as fatal.
var ErrExhausted = errors.New("session id space exhausted")

// collisions before Register gives up. With random 64-bit ids this many
// in a row means the generator is broken, not the id space full.
const registerAttempts = 64

// Session is one live connection with a process-unique id.
type Session struct {
	id   uint64
	conn Conn

	// serializes writes; the transport is not assumed write-safe
	// across goroutines.
	mu sync.Mutex
}

func (s *Session) ID() uint64 { return s.id }

// Send serializes v as JSON and writes it to the connection.
//
// A closed connection yields an error, never a panic; callers log and
// leave cleanup to the disconnect path.
func (s *Session) Send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.SendRaw(data)
}

// SendRaw writes a pre-serialized message.
func (s *Session) SendRaw(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteText(data)
}

// Registry hands out session ids and tracks which are live.
type Registry struct {
	mu   sync.Mutex
	live map[uint64]struct{}

	// overridable for tests.
	random func() uint64
}

func NewRegistry() *Registry {
	return &Registry{
		live:   map[uint64]struct{}{},
		random: rand.Uint64,
	}
}

// Register wraps conn into a session with a fresh random id, retrying on
// collision. ErrExhausted after the retry budget runs out; the caller
// exits rather than reusing a live id.
func (r *Registry) Register(conn Conn) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for attempt := 0; attempt < registerAttempts; attempt++ {
		id := r.random()
		if _, taken := r.live[id]; taken {
			continue
		}
		r.live[id] = struct{}{}
		return &Session{id: id, conn: conn}, nil
	}
	return nil, ErrExhausted
}

// Release returns the id to the free pool. Idempotent.
func (r *Registry) Release(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.live, id)
}
