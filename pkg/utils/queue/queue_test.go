package queue_test

import (
	"testing"
	"time"

	"github.com/teamtally/tally/pkg/utils/queue"
)

func TestUnbounded(t *testing.T) {
	t.Run("items come out in push order", func(t *testing.T) {
		q := queue.NewUnbounded[int]()
		defer q.Close()

		for n := 1; n <= 100; n++ {
			q.Push(n)
		}
		for n := 1; n <= 100; n++ {
			select {
			case got := <-q.Out():
				if got != n {
					t.Fatalf("got %d, want %d", got, n)
				}
			case <-time.After(time.Second):
				t.Fatal("timeout")
			}
		}
	})

	t.Run("push never blocks without a reader", func(t *testing.T) {
		q := queue.NewUnbounded[int]()
		defer q.Close()

		done := make(chan struct{})
		go func() {
			for n := 0; n < 10000; n++ {
				q.Push(n)
			}
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("push blocked")
		}
	})

	t.Run("close drains pending items then closes the channel", func(t *testing.T) {
		q := queue.NewUnbounded[string]()
		q.Push("a")
		q.Push("b")
		q.Close()
		q.Push("dropped")

		got := []string{}
		timeout := time.After(time.Second)
		for {
			select {
			case item, ok := <-q.Out():
				if !ok {
					if len(got) != 2 || got[0] != "a" || got[1] != "b" {
						t.Errorf("drained = %v", got)
					}
					return
				}
				got = append(got, item)
			case <-timeout:
				t.Fatal("timeout")
			}
		}
	})
}
