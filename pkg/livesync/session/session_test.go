package session

import (
	"errors"
	"testing"

	"github.com/teamtally/tally/pkg/utils/cmp"
)

type fakeConn struct {
	sent   []string
	err    error
	closed bool
}

func (c *fakeConn) WriteText(data []byte) error {
	if c.err != nil {
		return c.err
	}
	c.sent = append(c.sent, string(data))
	return nil
}

func (c *fakeConn) Close() error {
	c.closed = true
	return nil
}

func TestRegistry_Register(t *testing.T) {
	t.Run("ids are unique even when the generator collides", func(t *testing.T) {
		reg := NewRegistry()
		rolls := []uint64{42, 42, 42, 7}
		reg.random = func() uint64 {
			head := rolls[0]
			if len(rolls) > 1 {
				rolls = rolls[1:]
			}
			return head
		}

		a, err := reg.Register(&fakeConn{})
		if err != nil {
			t.Fatal(err)
		}
		b, err := reg.Register(&fakeConn{})
		if err != nil {
			t.Fatal(err)
		}

		if a.ID() != 42 {
			t.Errorf("first id = %d, want 42", a.ID())
		}
		if b.ID() != 7 {
			t.Errorf("second id = %d, want 7 (42 is taken)", b.ID())
		}
	})

	t.Run("a generator stuck on a live id gives up, not spins", func(t *testing.T) {
		reg := NewRegistry()
		reg.random = func() uint64 { return 42 }

		if _, err := reg.Register(&fakeConn{}); err != nil {
			t.Fatal(err)
		}
		if _, err := reg.Register(&fakeConn{}); !errors.Is(err, ErrExhausted) {
			t.Errorf("err = %v, want ErrExhausted", err)
		}
	})

	t.Run("a released id can be handed out again", func(t *testing.T) {
		reg := NewRegistry()
		reg.random = func() uint64 { return 1 }

		a, err := reg.Register(&fakeConn{})
		if err != nil {
			t.Fatal(err)
		}
		reg.Release(a.ID())
		reg.Release(a.ID()) // idempotent

		b, err := reg.Register(&fakeConn{})
		if err != nil {
			t.Fatal(err)
		}
		if b.ID() != 1 {
			t.Errorf("id = %d, want 1", b.ID())
		}
	})
}

func TestSession_Send(t *testing.T) {
	t.Run("values go out as JSON", func(t *testing.T) {
		conn := &fakeConn{}
		reg := NewRegistry()
		s, err := reg.Register(conn)
		if err != nil {
			t.Fatal(err)
		}

		if err := s.Send(map[string]string{"hello": "world"}); err != nil {
			t.Fatal(err)
		}
		if !cmp.SliceEq(conn.sent, []string{`{"hello":"world"}`}) {
			t.Errorf("sent = %+v", conn.sent)
		}
	})

	t.Run("write failures surface as errors", func(t *testing.T) {
		conn := &fakeConn{err: errors.New("closed")}
		reg := NewRegistry()
		s, err := reg.Register(conn)
		if err != nil {
			t.Fatal(err)
		}
		if err := s.Send("x"); err == nil {
			t.Error("send to a closed conn should fail")
		}
	})

	t.Run("unmarshalable values fail before the wire", func(t *testing.T) {
		conn := &fakeConn{}
		reg := NewRegistry()
		s, err := reg.Register(conn)
		if err != nil {
			t.Fatal(err)
		}
		if err := s.Send(make(chan int)); err == nil {
			t.Error("channels are not JSON")
		}
		if len(conn.sent) != 0 {
			t.Errorf("nothing should have been written: %+v", conn.sent)
		}
	})
}
