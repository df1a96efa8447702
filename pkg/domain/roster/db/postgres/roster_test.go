package postgres

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgtype"

	"github.com/teamtally/tally/pkg/conn/db/postgres/pool/fake"
	"github.com/teamtally/tally/pkg/domain"
	domerr "github.com/teamtally/tally/pkg/domain/errors"
	"github.com/teamtally/tally/pkg/domain/roster/db"
)

func testRoster(pool *fake.Pool, now time.Time) *rosterPG {
	n := 0
	return &rosterPG{
		pool: pool,
		loc:  time.UTC,
		now:  func() time.Time { return now },
		newID: func() string {
			n += 1
			return strings.Repeat("0", n)
		},
	}
}

func studentRow() []interface{} {
	return []interface{}{"s1", "hash-ada", "Ada", "Lovelace"}
}

func openRow(id string, signIn time.Time) []interface{} {
	return []interface{}{
		id, "hash-ada", domain.Build, signIn,
		pgtype.Timestamptz{Status: pgtype.Null}, true,
	}
}

func TestSwipe(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, time.February, 1, 18, 0, 0, 0, time.UTC)

	t.Run("a first swipe of the day signs in", func(t *testing.T) {
		tx := &fake.Tx{Queryer: fake.Queryer{NextQuery: []fake.QueryResult{
			{Rows: &fake.Rows{Data: [][]interface{}{studentRow()}}},
			{Rows: &fake.Rows{}}, // no open record
		}}}
		pool := &fake.Pool{}
		pool.NextBegin.Tx = tx

		got, err := testRoster(pool, now).Swipe(ctx, db.SwipeSpec{
			Hashed: "hash-ada", Kind: domain.Build,
		})
		if err != nil {
			t.Fatal(err)
		}
		if got.Action != db.SwipedIn {
			t.Errorf("action = %s", got.Action)
		}
		if got.Student.First != "Ada" {
			t.Errorf("student = %+v", got.Student)
		}
		if !got.Record.InProgress || !got.Record.SignIn.Equal(now) {
			t.Errorf("record = %+v", got.Record)
		}
		if !tx.Committed {
			t.Error("not committed")
		}
		insert := tx.Log[len(tx.Log)-1]
		if !strings.Contains(insert.SQL, `insert into "records"`) {
			t.Errorf("last statement = %s", insert.SQL)
		}
	})

	t.Run("a swipe with an open record signs out", func(t *testing.T) {
		tx := &fake.Tx{Queryer: fake.Queryer{NextQuery: []fake.QueryResult{
			{Rows: &fake.Rows{Data: [][]interface{}{studentRow()}}},
			{Rows: &fake.Rows{Data: [][]interface{}{openRow("r1", now.Add(-2 * time.Hour))}}},
		}}}
		pool := &fake.Pool{}
		pool.NextBegin.Tx = tx

		got, err := testRoster(pool, now).Swipe(ctx, db.SwipeSpec{
			Hashed: "hash-ada", Kind: domain.Build,
		})
		if err != nil {
			t.Fatal(err)
		}
		if got.Action != db.SwipedOut {
			t.Errorf("action = %s", got.Action)
		}
		if got.Record.SignOut == nil || !got.Record.SignOut.Equal(now) || got.Record.InProgress {
			t.Errorf("record = %+v", got.Record)
		}
		if !tx.Committed {
			t.Error("not committed")
		}
	})

	t.Run("a quick second swipe bounces", func(t *testing.T) {
		tx := &fake.Tx{Queryer: fake.Queryer{NextQuery: []fake.QueryResult{
			{Rows: &fake.Rows{Data: [][]interface{}{studentRow()}}},
			{Rows: &fake.Rows{Data: [][]interface{}{openRow("r1", now.Add(-time.Minute))}}},
		}}}
		pool := &fake.Pool{}
		pool.NextBegin.Tx = tx

		_, err := testRoster(pool, now).Swipe(ctx, db.SwipeSpec{
			Hashed: "hash-ada", Kind: domain.Build,
		})
		if !errors.Is(err, ErrBounce) {
			t.Fatalf("err = %v", err)
		}
		if domerr.CategoryOf(err) != domerr.CategoryTimeOrder {
			t.Errorf("category = %s", domerr.CategoryOf(err))
		}
		if tx.Committed {
			t.Error("a bounce should not commit")
		}
	})

	t.Run("force overrides the bounce window", func(t *testing.T) {
		tx := &fake.Tx{Queryer: fake.Queryer{NextQuery: []fake.QueryResult{
			{Rows: &fake.Rows{Data: [][]interface{}{studentRow()}}},
			{Rows: &fake.Rows{Data: [][]interface{}{openRow("r1", now.Add(-time.Minute))}}},
		}}}
		pool := &fake.Pool{}
		pool.NextBegin.Tx = tx

		got, err := testRoster(pool, now).Swipe(ctx, db.SwipeSpec{
			Hashed: "hash-ada", Kind: domain.Build, Force: true,
		})
		if err != nil {
			t.Fatal(err)
		}
		if got.Action != db.SwipedOut {
			t.Errorf("action = %s", got.Action)
		}
	})

	t.Run("yesterday's forgotten record does not block today", func(t *testing.T) {
		tx := &fake.Tx{Queryer: fake.Queryer{NextQuery: []fake.QueryResult{
			{Rows: &fake.Rows{Data: [][]interface{}{studentRow()}}},
			{Rows: &fake.Rows{Data: [][]interface{}{openRow("r0", now.Add(-26 * time.Hour))}}},
		}}}
		pool := &fake.Pool{}
		pool.NextBegin.Tx = tx

		got, err := testRoster(pool, now).Swipe(ctx, db.SwipeSpec{
			Hashed: "hash-ada", Kind: domain.Build,
		})
		if err != nil {
			t.Fatal(err)
		}
		if got.Action != db.SwipedIn {
			t.Errorf("action = %s", got.Action)
		}
	})

	t.Run("an unknown badge is refused", func(t *testing.T) {
		tx := &fake.Tx{Queryer: fake.Queryer{NextQuery: []fake.QueryResult{
			{Rows: &fake.Rows{}},
		}}}
		pool := &fake.Pool{}
		pool.NextBegin.Tx = tx

		_, err := testRoster(pool, now).Swipe(ctx, db.SwipeSpec{
			Hashed: "hash-nobody", Kind: domain.Build,
		})
		if !errors.Is(err, ErrUnknownBadge) {
			t.Fatalf("err = %v", err)
		}
		if !errors.Is(err, domerr.ErrMissing) {
			t.Error("should carry ErrMissing")
		}
	})

	t.Run("out of season hours are refused", func(t *testing.T) {
		june := time.Date(2025, time.June, 10, 18, 0, 0, 0, time.UTC)
		tx := &fake.Tx{Queryer: fake.Queryer{NextQuery: []fake.QueryResult{
			{Rows: &fake.Rows{Data: [][]interface{}{studentRow()}}},
			{Rows: &fake.Rows{}},
		}}}
		pool := &fake.Pool{}
		pool.NextBegin.Tx = tx

		_, err := testRoster(pool, june).Swipe(ctx, db.SwipeSpec{
			Hashed: "hash-ada", Kind: domain.Build,
		})
		if err == nil {
			t.Fatal("build hours in June should be refused")
		}
		if domerr.CategoryOf(err) != domerr.CategoryData {
			t.Errorf("category = %s", domerr.CategoryOf(err))
		}
		if tx.Committed {
			t.Error("refusal should not commit")
		}
	})
}

func TestCreateRecord(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, time.February, 1, 18, 0, 0, 0, time.UTC)

	t.Run("a closed span inserts with in_progress false", func(t *testing.T) {
		pool := &fake.Pool{}
		out := now.Add(2 * time.Hour)

		id, err := testRoster(pool, now).CreateRecord(ctx, db.NewRecord{
			StudentID: "hash-ada", Kind: domain.Build, SignIn: now, SignOut: &out,
		})
		if err != nil {
			t.Fatal(err)
		}
		if id == "" {
			t.Error("no id")
		}
		if len(pool.Log) != 1 {
			t.Fatalf("log = %+v", pool.Log)
		}
		if inProgress := pool.Log[0].Args[5]; inProgress != false {
			t.Errorf("in_progress = %v", inProgress)
		}
	})

	t.Run("a backwards span never reaches the database", func(t *testing.T) {
		pool := &fake.Pool{}
		out := now.Add(-time.Hour)

		_, err := testRoster(pool, now).CreateRecord(ctx, db.NewRecord{
			StudentID: "hash-ada", Kind: domain.Build, SignIn: now, SignOut: &out,
		})
		if domerr.CategoryOf(err) != domerr.CategoryTimeOrder {
			t.Fatalf("err = %v", err)
		}
		if len(pool.Log) != 0 {
			t.Errorf("log = %+v", pool.Log)
		}
	})

	t.Run("a span crossing midnight never reaches the database", func(t *testing.T) {
		pool := &fake.Pool{}
		out := now.Add(8 * time.Hour) // 02:00 the next day

		_, err := testRoster(pool, now).CreateRecord(ctx, db.NewRecord{
			StudentID: "hash-ada", Kind: domain.Build, SignIn: now, SignOut: &out,
		})
		if domerr.CategoryOf(err) != domerr.CategoryTimeOrder {
			t.Fatalf("err = %v", err)
		}
		if len(pool.Log) != 0 {
			t.Errorf("log = %+v", pool.Log)
		}
	})
}

func TestUpdateRecord(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, time.February, 1, 18, 0, 0, 0, time.UTC)

	t.Run("changes merge into the stored record", func(t *testing.T) {
		tx := &fake.Tx{Queryer: fake.Queryer{NextQuery: []fake.QueryResult{
			{Rows: &fake.Rows{Data: [][]interface{}{openRow("r1", now.Add(-2 * time.Hour))}}},
		}}}
		pool := &fake.Pool{}
		pool.NextBegin.Tx = tx

		out := now
		err := testRoster(pool, now).UpdateRecord(ctx, "r1", db.RecordChange{SignOut: &out})
		if err != nil {
			t.Fatal(err)
		}
		if !tx.Committed {
			t.Error("not committed")
		}

		update := tx.Log[len(tx.Log)-1]
		if !strings.Contains(update.SQL, `update "records"`) {
			t.Fatalf("last statement = %s", update.SQL)
		}
		// $1 id, $2 kind, $3 sign_in, $4 sign_out, $5 in_progress
		if update.Args[0] != "r1" || update.Args[1] != domain.Build {
			t.Errorf("args = %v", update.Args)
		}
		if got := update.Args[3].(*time.Time); got == nil || !got.Equal(out) {
			t.Errorf("sign_out = %v", update.Args[3])
		}
		if update.Args[4] != false {
			t.Errorf("in_progress = %v", update.Args[4])
		}
	})

	t.Run("clearing the sign out reopens the record", func(t *testing.T) {
		signIn := now.Add(-2 * time.Hour)
		out := now.Add(-time.Hour)
		tx := &fake.Tx{Queryer: fake.Queryer{NextQuery: []fake.QueryResult{
			{Rows: &fake.Rows{Data: [][]interface{}{{
				"r1", "hash-ada", domain.Build, signIn,
				pgtype.Timestamptz{Time: out, Status: pgtype.Present}, false,
			}}}},
		}}}
		pool := &fake.Pool{}
		pool.NextBegin.Tx = tx

		err := testRoster(pool, now).UpdateRecord(ctx, "r1", db.RecordChange{ClearSignOut: true})
		if err != nil {
			t.Fatal(err)
		}
		update := tx.Log[len(tx.Log)-1]
		if got := update.Args[3].(*time.Time); got != nil {
			t.Errorf("sign_out = %v", got)
		}
		if update.Args[4] != true {
			t.Errorf("in_progress = %v", update.Args[4])
		}
	})

	t.Run("a merge breaking the time order rolls back", func(t *testing.T) {
		tx := &fake.Tx{Queryer: fake.Queryer{NextQuery: []fake.QueryResult{
			{Rows: &fake.Rows{Data: [][]interface{}{openRow("r1", now)}}},
		}}}
		pool := &fake.Pool{}
		pool.NextBegin.Tx = tx

		out := now.Add(-time.Hour)
		err := testRoster(pool, now).UpdateRecord(ctx, "r1", db.RecordChange{SignOut: &out})
		if domerr.CategoryOf(err) != domerr.CategoryTimeOrder {
			t.Fatalf("err = %v", err)
		}
		if tx.Committed {
			t.Error("should not commit")
		}
		if len(tx.Log) != 1 { // the select only
			t.Errorf("log = %+v", tx.Log)
		}
	})

	t.Run("a missing record is reported as such", func(t *testing.T) {
		tx := &fake.Tx{Queryer: fake.Queryer{NextQuery: []fake.QueryResult{
			{Rows: &fake.Rows{}},
		}}}
		pool := &fake.Pool{}
		pool.NextBegin.Tx = tx

		err := testRoster(pool, now).UpdateRecord(ctx, "gone", db.RecordChange{})
		if !errors.Is(err, domerr.ErrMissing) {
			t.Fatalf("err = %v", err)
		}
	})
}

func TestDeleteRecord(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, time.February, 1, 18, 0, 0, 0, time.UTC)

	t.Run("deleting nothing is an error", func(t *testing.T) {
		pool := &fake.Pool{Queryer: fake.Queryer{NextExec: []fake.ExecResult{
			{Tag: []byte("DELETE 0")},
		}}}
		err := testRoster(pool, now).DeleteRecord(ctx, "gone")
		if !errors.Is(err, domerr.ErrMissing) {
			t.Fatalf("err = %v", err)
		}
	})

	t.Run("deleting a row is not", func(t *testing.T) {
		pool := &fake.Pool{Queryer: fake.Queryer{NextExec: []fake.ExecResult{
			{Tag: []byte("DELETE 1")},
		}}}
		if err := testRoster(pool, now).DeleteRecord(ctx, "r1"); err != nil {
			t.Fatal(err)
		}
	})
}

func TestPresent(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, time.February, 1, 18, 0, 0, 0, time.UTC)

	pool := &fake.Pool{Queryer: fake.Queryer{NextQuery: []fake.QueryResult{
		{Rows: &fake.Rows{Data: [][]interface{}{
			{"Ada", "Lovelace", "hash-ada", domain.Build, now.Add(-time.Hour)},
			// forgotten sign out from yesterday
			{"Bob", "Byrne", "hash-bob", domain.Build, now.Add(-30 * time.Hour)},
		}}},
	}}}

	present, err := testRoster(pool, now).Present(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(present) != 1 || present[0].StudentID != "hash-ada" {
		t.Errorf("present = %+v", present)
	}
}

func TestExport(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, time.February, 1, 18, 0, 0, 0, time.UTC)
	out := now.Add(2 * time.Hour)

	pool := &fake.Pool{Queryer: fake.Queryer{NextQuery: []fake.QueryResult{
		{Rows: &fake.Rows{Data: [][]interface{}{
			{
				pgtype.Text{String: "Ada", Status: pgtype.Present},
				pgtype.Text{String: "Lovelace", Status: pgtype.Present},
				"hash-ada", domain.Build, now,
				pgtype.Timestamptz{Time: out, Status: pgtype.Present},
			},
			// a record whose student left the roster
			{
				pgtype.Text{Status: pgtype.Null}, pgtype.Text{Status: pgtype.Null},
				"hash-gone", domain.Demo, now,
				pgtype.Timestamptz{Time: out, Status: pgtype.Present},
			},
		}}},
	}}}

	rows, err := testRoster(pool, now).Export(ctx, now.AddDate(0, -1, 0), now.AddDate(0, 1, 0))
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %+v", rows)
	}
	if rows[0].First != "Ada" || rows[0].SignOut == nil || !rows[0].SignOut.Equal(out) {
		t.Errorf("row = %+v", rows[0])
	}
	if rows[1].First != "" || rows[1].Last != "" {
		t.Errorf("orphan row = %+v", rows[1])
	}
}
