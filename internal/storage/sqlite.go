package storage

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/san-kum/keystone/internal/dynamo"
	"github.com/sbinet/npyio"
	_ "modernc.org/sqlite" // pure go sqlite driver
)

// SQLite is a ledger in a single database file. Mean vectors are stored as
// .npy blobs.
type SQLite struct {
	db   *sql.DB
	path string
}

func NewSQLite(path string) (*SQLite, error) {
	if path == "" {
		path = "keystone.db"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, dynamo.Resource("mkdir", filepath.Dir(path), err)
	}
	// batch jobs may share the file
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, dynamo.Resource("open", path, err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS outcomes (
		idx INTEGER PRIMARY KEY,
		knockout TEXT NOT NULL,
		mask TEXT NOT NULL,
		samples INTEGER NOT NULL,
		saved_at TEXT NOT NULL,
		mean BLOB NOT NULL
	)`); err != nil {
		db.Close()
		return nil, dynamo.Resource("create table", path, err)
	}
	return &SQLite{db: db, path: path}, nil
}

func (s *SQLite) Put(ctx context.Context, e Entry) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	mask, err := json.Marshal(e.Mask)
	if err != nil {
		return dynamo.Resource("encode mask", s.path, err)
	}
	var mean bytes.Buffer
	if err := npyio.Write(&mean, e.Mean); err != nil {
		return dynamo.Resource("encode mean", s.path, err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO outcomes(idx, knockout, mask, samples, saved_at, mean)
		VALUES(?, ?, ?, ?, ?, ?)
		ON CONFLICT(idx) DO UPDATE SET knockout=excluded.knockout, mask=excluded.mask,
			samples=excluded.samples, saved_at=excluded.saved_at, mean=excluded.mean`,
		e.Index, e.Key, string(mask), e.Samples, e.Timestamp.UTC().Format(time.RFC3339Nano), mean.Bytes())
	if err != nil {
		return dynamo.Resource("insert", s.path, err)
	}
	return nil
}

func (s *SQLite) Get(ctx context.Context, index int) (*Entry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT idx, knockout, mask, samples, saved_at, mean FROM outcomes WHERE idx = ?`, index)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: index %d in %s", ErrNotFound, index, s.path)
	}
	if err != nil {
		return nil, dynamo.Resource("select", s.path, err)
	}
	return e, nil
}

func (s *SQLite) List(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT idx, knockout, mask, samples, saved_at, mean FROM outcomes ORDER BY idx`)
	if err != nil {
		return nil, dynamo.Resource("select", s.path, err)
	}
	defer func() { _ = rows.Close() }()

	entries := make([]Entry, 0)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, dynamo.Resource("scan", s.path, err)
		}
		entries = append(entries, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, dynamo.Resource("select", s.path, err)
	}
	return entries, nil
}

func (s *SQLite) Close() error { return s.db.Close() }

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(sc scanner) (*Entry, error) {
	var (
		e     Entry
		mask  string
		saved string
		blob  []byte
	)
	if err := sc.Scan(&e.Index, &e.Key, &mask, &e.Samples, &saved, &blob); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(mask), &e.Mask); err != nil {
		return nil, fmt.Errorf("decode mask: %w", err)
	}
	t, err := time.Parse(time.RFC3339Nano, saved)
	if err != nil {
		return nil, fmt.Errorf("decode timestamp: %w", err)
	}
	e.Timestamp = t
	mean, err := readVector(bytes.NewReader(blob))
	if err != nil {
		return nil, fmt.Errorf("decode mean: %w", err)
	}
	e.Mean = mean
	return &e, nil
}
