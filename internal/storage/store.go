// Package storage keeps the mean terminal vectors of individual knockout
// evaluations so that batch jobs can be aggregated into a ranking later.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/san-kum/keystone/internal/dynamo"
	"github.com/sbinet/npyio"
)

// ErrNotFound is returned when no entry exists for an index.
var ErrNotFound = errors.New("storage: entry not found")

// BaseIndex identifies the baseline entry.
const BaseIndex = -1

// Entry is the mean terminal abundance of one knockout evaluation. Index is
// the 0-based line of the knockout list, or BaseIndex.
type Entry struct {
	Index     int       `json:"index"`
	Key       string    `json:"key"`
	Mask      []bool    `json:"mask"`
	Samples   int       `json:"samples"`
	Timestamp time.Time `json:"timestamp"`
	Mean      []float64 `json:"-"`
}

// Ledger persists entries by index. Put replaces an existing entry.
type Ledger interface {
	Put(ctx context.Context, e Entry) error
	Get(ctx context.Context, index int) (*Entry, error)
	List(ctx context.Context) ([]Entry, error)
	Close() error
}

// Open returns the ledger for a backend name: "dir" or "sqlite".
func Open(backend, path string) (Ledger, error) {
	switch backend {
	case "", "dir":
		s := New(path)
		if err := s.Init(); err != nil {
			return nil, err
		}
		return s, nil
	case "sqlite":
		return NewSQLite(path)
	default:
		return nil, dynamo.Configf("results.backend", "unknown backend %q (want dir or sqlite)", backend)
	}
}

// FileName is the array file name of an entry: base.npy or leave_out<i>.npy.
func FileName(index int) string {
	if index == BaseIndex {
		return "base.npy"
	}
	return fmt.Sprintf("leave_out%d.npy", index)
}

// Store is a directory ledger. Every entry is a .npy mean vector next to a
// .json metadata file of the same stem, so concurrent jobs never write the
// same file.
type Store struct {
	baseDir string
}

func New(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

func (s *Store) Init() error {
	if err := os.MkdirAll(s.baseDir, 0o750); err != nil {
		return dynamo.Resource("mkdir", s.baseDir, err)
	}
	return nil
}

func (s *Store) Put(_ context.Context, e Entry) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	name := FileName(e.Index)

	var buf bytes.Buffer
	if err := npyio.Write(&buf, e.Mean); err != nil {
		return dynamo.Resource("encode", filepath.Join(s.baseDir, name), err)
	}
	if err := writeAtomic(filepath.Join(s.baseDir, name), buf.Bytes()); err != nil {
		return err
	}

	meta, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return dynamo.Resource("encode", filepath.Join(s.baseDir, metaName(name)), err)
	}
	return writeAtomic(filepath.Join(s.baseDir, metaName(name)), meta)
}

func (s *Store) Get(_ context.Context, index int) (*Entry, error) {
	name := FileName(index)
	metaPath := filepath.Join(s.baseDir, metaName(name))
	data, err := os.ReadFile(metaPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, metaPath)
		}
		return nil, dynamo.Resource("read", metaPath, err)
	}

	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, dynamo.Resource("decode", metaPath, err)
	}

	arrPath := filepath.Join(s.baseDir, name)
	f, err := os.Open(arrPath)
	if err != nil {
		return nil, dynamo.Resource("open", arrPath, err)
	}
	defer f.Close()
	if e.Mean, err = readVector(f); err != nil {
		return nil, dynamo.Resource("decode", arrPath, err)
	}
	return &e, nil
}

// List returns every entry in the directory ordered by index.
func (s *Store) List(ctx context.Context) ([]Entry, error) {
	files, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []Entry{}, nil
		}
		return nil, dynamo.Resource("list", s.baseDir, err)
	}

	entries := make([]Entry, 0)
	for _, f := range files {
		idx, ok := parseName(f.Name())
		if !ok {
			continue
		}
		e, err := s.Get(ctx, idx)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		entries = append(entries, *e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Index < entries[j].Index })
	return entries, nil
}

func (s *Store) Close() error { return nil }

// readVector reads a one dimensional float64 array.
func readVector(r io.Reader) ([]float64, error) {
	nr, err := npyio.NewReader(r)
	if err != nil {
		return nil, err
	}
	shape := nr.Header.Descr.Shape
	if len(shape) != 1 {
		return nil, fmt.Errorf("array has shape %v, want a vector", shape)
	}
	v := make([]float64, shape[0])
	if err := nr.Read(&v); err != nil {
		return nil, err
	}
	return v, nil
}

func metaName(npy string) string {
	return strings.TrimSuffix(npy, ".npy") + ".json"
}

// parseName maps an array file name back to its index.
func parseName(name string) (int, bool) {
	if name == "base.npy" {
		return BaseIndex, true
	}
	if !strings.HasPrefix(name, "leave_out") || !strings.HasSuffix(name, ".npy") {
		return 0, false
	}
	idx, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, "leave_out"), ".npy"))
	if err != nil || idx < 0 {
		return 0, false
	}
	return idx, true
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*")
	if err != nil {
		return dynamo.Resource("create", path, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return dynamo.Resource("write", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return dynamo.Resource("close", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return dynamo.Resource("rename", path, err)
	}
	return nil
}
