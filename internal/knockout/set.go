package knockout

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/san-kum/keystone/internal/dynamo"
	"github.com/san-kum/keystone/internal/taxa"
)

// BaseKey identifies the baseline (nothing removed) in reports.
const BaseKey = "base"

// Set is a group of taxa removed together. Names are unique and keep the
// order of first appearance; an empty Set is the baseline.
type Set struct {
	Names []string
	// Line is the 1-based line of the list file, 0 if not from a file.
	Line int
}

// NewSet builds a set, dropping empty and repeated names.
func NewSet(names ...string) Set {
	var s Set
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		s.Names = append(s.Names, n)
	}
	return s
}

func (s Set) IsBase() bool { return len(s.Names) == 0 }

// Key renders the set as a comma separated list, or BaseKey.
func (s Set) Key() string {
	if s.IsBase() {
		return BaseKey
	}
	return strings.Join(s.Names, ",")
}

func (s Set) String() string { return s.Key() }

// ParseList reads one set per line, names separated by commas. Blank lines
// are baseline sets.
func ParseList(r io.Reader) ([]Set, error) {
	var sets []Set
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		s := NewSet(strings.Split(sc.Text(), ",")...)
		s.Line = line
		sets = append(sets, s)
	}
	if err := sc.Err(); err != nil {
		return nil, dynamo.Resource("read", "knockout list", err)
	}
	return sets, nil
}

func LoadList(path string) ([]Set, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, dynamo.Resource("open", path, err)
	}
	defer f.Close()
	sets, err := ParseList(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return sets, nil
}

// Mask returns the retain-mask of s over the registry ordering. Unknown
// names and sets removing every taxon are configuration errors.
func Mask(reg *taxa.Registry, s Set) ([]bool, error) {
	mask := make([]bool, reg.Len())
	for i := range mask {
		mask[i] = true
	}
	kept := len(mask)
	for _, name := range s.Names {
		tx, err := reg.Resolve(name)
		if err != nil {
			return nil, setError(s, err)
		}
		if mask[tx.Index] {
			mask[tx.Index] = false
			kept--
		}
	}
	if kept == 0 {
		return nil, setError(s, dynamo.Configf("knockout", "removes all %d taxa", reg.Len()))
	}
	return mask, nil
}

// ValidateAll checks every set against the registry.
func ValidateAll(reg *taxa.Registry, sets []Set) error {
	for _, s := range sets {
		if _, err := Mask(reg, s); err != nil {
			return err
		}
	}
	return nil
}

func setError(s Set, err error) error {
	if s.Line > 0 {
		return fmt.Errorf("knockout set %q (line %d): %w", s.Key(), s.Line, err)
	}
	return fmt.Errorf("knockout set %q: %w", s.Key(), err)
}
