package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/teamtally/tally/pkg/conn/db/postgres/pool/fake"
	domerr "github.com/teamtally/tally/pkg/domain/errors"
	"github.com/teamtally/tally/pkg/domain/telemetry/db"
)

func testLog(pool *fake.Pool, now time.Time) *telemetryPG {
	return &telemetryPG{
		pool:  pool,
		now:   func() time.Time { return now },
		newID: func() string { return "t1" },
	}
}

func TestAppend(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, time.February, 1, 18, 0, 0, 0, time.UTC)

	t.Run("events land with id, json data and timestamp", func(t *testing.T) {
		pool := &fake.Pool{}

		id, err := testLog(pool, now).Append(ctx, "admin_login", map[string]any{
			"username": "ada",
		})
		if err != nil {
			t.Fatal(err)
		}
		if id != "t1" {
			t.Errorf("id = %s", id)
		}

		if len(pool.Log) != 1 {
			t.Fatalf("statements = %d", len(pool.Log))
		}
		call := pool.Log[0]
		if !strings.Contains(call.SQL, `insert into "telemetry"`) {
			t.Errorf("sql = %s", call.SQL)
		}
		if call.Args[0] != "t1" || call.Args[1] != "admin_login" {
			t.Errorf("args = %+v", call.Args)
		}
		if string(call.Args[2].([]byte)) != `{"username":"ada"}` {
			t.Errorf("data = %s", call.Args[2])
		}
		if !call.Args[3].(time.Time).Equal(now) {
			t.Errorf("timestamp = %v", call.Args[3])
		}
	})

	t.Run("unserializable data never reaches the database", func(t *testing.T) {
		pool := &fake.Pool{}

		_, err := testLog(pool, now).Append(ctx, "admin_login", make(chan int))
		if err == nil {
			t.Fatal("channels are not JSON")
		}
		if domerr.CategoryOf(err) != domerr.CategoryData {
			t.Errorf("category = %s", domerr.CategoryOf(err))
		}
		if len(pool.Log) != 0 {
			t.Errorf("statements = %+v", pool.Log)
		}
	})
}

func TestList(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, time.February, 1, 18, 0, 0, 0, time.UTC)

	t.Run("a page comes back oldest first", func(t *testing.T) {
		pool := &fake.Pool{Queryer: fake.Queryer{NextQuery: []fake.QueryResult{
			{Rows: &fake.Rows{Data: [][]interface{}{
				{"t1", "admin_login", json.RawMessage(`{"username":"ada"}`), now},
				{"t2", "record_edit", json.RawMessage(`{"id":"r1"}`), now.Add(time.Minute)},
			}}},
		}}}

		events, err := testLog(pool, now).List(ctx, db.Page{Count: 50})
		if err != nil {
			t.Fatal(err)
		}
		if len(events) != 2 || events[0].ID != "t1" || events[1].Event != "record_edit" {
			t.Errorf("events = %+v", events)
		}
		if string(events[0].Data) != `{"username":"ada"}` {
			t.Errorf("data = %s", events[0].Data)
		}

		call := pool.Log[0]
		if !strings.Contains(call.SQL, `order by "timestamp" limit $1 offset $2`) {
			t.Errorf("sql = %s", call.SQL)
		}
		if strings.Contains(call.SQL, "where") {
			t.Errorf("no filter was asked for: %s", call.SQL)
		}
		if len(call.Args) != 2 || call.Args[0] != 50 || call.Args[1] != 0 {
			t.Errorf("args = %+v", call.Args)
		}
	})

	t.Run("an event filter narrows the query", func(t *testing.T) {
		pool := &fake.Pool{}

		if _, err := testLog(pool, now).List(ctx, db.Page{
			Count: 10, Skip: 20, Event: "record_edit",
		}); err != nil {
			t.Fatal(err)
		}

		call := pool.Log[0]
		if !strings.Contains(call.SQL, `where "event" = $3`) {
			t.Errorf("sql = %s", call.SQL)
		}
		if len(call.Args) != 3 || call.Args[0] != 10 || call.Args[1] != 20 || call.Args[2] != "record_edit" {
			t.Errorf("args = %+v", call.Args)
		}
	})

	t.Run("an oversized page is refused before the query", func(t *testing.T) {
		pool := &fake.Pool{}

		_, err := testLog(pool, now).List(ctx, db.Page{Count: 101})
		if !errors.Is(err, ErrPageTooLarge) {
			t.Fatalf("err = %v", err)
		}
		if domerr.CategoryOf(err) != domerr.CategoryData {
			t.Errorf("category = %s", domerr.CategoryOf(err))
		}
		if len(pool.Log) != 0 {
			t.Errorf("statements = %+v", pool.Log)
		}
	})

	t.Run("a non-positive count is refused", func(t *testing.T) {
		pool := &fake.Pool{}

		_, err := testLog(pool, now).List(ctx, db.Page{Count: 0})
		if err == nil || domerr.CategoryOf(err) != domerr.CategoryData {
			t.Fatalf("err = %v", err)
		}
		if len(pool.Log) != 0 {
			t.Errorf("statements = %+v", pool.Log)
		}
	})
}
