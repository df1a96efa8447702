package schema

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"

	kpool "github.com/teamtally/tally/pkg/conn/db/postgres/pool"
)

// Schema applies versioned DDL out of a repository directory.
//
// The repository holds one numbered directory per version; every .sql
// file inside a version is applied in path order. The tables and the
// NOTIFY triggers the live sync relies on both live here, so the server
// refuses to start against a database behind its repository.
type Schema struct {
	pool       kpool.Pool
	repository string
}

func New(pool kpool.Pool, repository string) *Schema {
	return &Schema{pool: pool, repository: repository}
}

// Version reads the version recorded in the database. A database with
// no schema_version table is version 0.
func (s *Schema) Version(ctx context.Context) (int, error) {
	var version int
	if err := s.pool.QueryRow(
		ctx, `select max("version") from "schema_version"`,
	).Scan(&version); err != nil {
		if pgerr := new(pgconn.PgError); errors.As(err, &pgerr) {
			if pgerr.Code == pgerrcode.UndefinedTable {
				return 0, nil
			}
		}
		return -1, err
	}
	return version, nil
}

// Upgrade applies every version newer than the database, in one
// transaction.
func (s *Schema) Upgrade(ctx context.Context) error {
	versions, err := s.versions()
	if err != nil {
		return err
	}
	current, err := s.Version(ctx)
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	applied := false
	for _, v := range versions {
		if v.version <= current {
			continue
		}
		if err := v.apply(ctx, tx); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `delete from "schema_version"`); err != nil {
			return err
		}
		if _, err := tx.Exec(
			ctx, `insert into "schema_version" ("version") values ($1)`, v.version,
		); err != nil {
			return err
		}
		applied = true
	}
	if !applied {
		return nil
	}
	return tx.Commit(ctx)
}

// UpToDate errors when the repository knows a version the database does
// not have yet.
func (s *Schema) UpToDate(ctx context.Context) error {
	versions, err := s.versions()
	if err != nil {
		return err
	}
	current, err := s.Version(ctx)
	if err != nil {
		return err
	}
	for _, v := range versions {
		if current < v.version {
			return errors.New(
				"schema is outdated: " +
					strconv.Itoa(current) + " (in db) < " +
					strconv.Itoa(v.version) + " (in repository)",
			)
		}
	}
	return nil
}

type version struct {
	version int
	root    string
}

func (v version) apply(ctx context.Context, conn kpool.Queryer) error {
	return filepath.WalkDir(v.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".sql") {
			return nil
		}
		query, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		_, err = conn.Exec(ctx, string(query))
		return err
	})
}

func (s *Schema) versions() ([]version, error) {
	dir, err := os.ReadDir(s.repository)
	if err != nil {
		return nil, err
	}

	versions := make([]version, 0, len(dir))
	for _, entry := range dir {
		if !entry.IsDir() {
			continue
		}
		v, err := strconv.Atoi(entry.Name())
		if err != nil {
			continue
		}
		versions = append(versions, version{
			version: v,
			root:    filepath.Join(s.repository, entry.Name()),
		})
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i].version < versions[j].version })
	return versions, nil
}
