package taxa

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/san-kum/keystone/internal/dynamo"
)

func newTSVReader(r io.Reader) *csv.Reader {
	tab := csv.NewReader(r)
	tab.Comma = '\t'
	tab.Comment = '#'
	tab.LazyQuotes = true
	tab.FieldsPerRecord = -1
	return tab
}

// header maps lower-cased column names to their position.
func header(row []string) map[string]int {
	fields := make(map[string]int, len(row))
	for i, h := range row {
		fields[strings.ToLower(strings.TrimSpace(h))] = i
	}
	return fields
}

// tableError classifies a failed read of table: malformed content is a
// configuration error, anything else a resource error.
func tableError(table string, err error) error {
	var perr *csv.ParseError
	switch {
	case errors.As(err, &perr):
		return dynamo.Configf(table, "%v", perr)
	case errors.Is(err, io.EOF):
		return dynamo.Configf(table, "no header row")
	}
	return dynamo.Resource("read", table, err)
}

func cell(row []string, fields map[string]int, name string) string {
	i, ok := fields[name]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func openTable(path string) (*os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, dynamo.Resource("open", path, err)
	}
	return f, nil
}

// ReadTaxonomy reads a tab-delimited taxonomy table. The columns are
//
//	name, sequence, kingdom, phylum, class, order, family, genus, species
//
// Only "name" is required; row order defines the registry order.
func ReadTaxonomy(r io.Reader) (*Registry, error) {
	tab := newTSVReader(r)
	head, err := tab.Read()
	if err != nil {
		return nil, tableError("taxonomy", err)
	}
	fields := header(head)
	if _, ok := fields["name"]; !ok {
		return nil, dynamo.Configf("taxonomy", "expecting field %q", "name")
	}

	var list []Taxon
	for {
		row, err := tab.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, tableError("taxonomy", err)
		}
		list = append(list, Taxon{
			Name:     cell(row, fields, "name"),
			Sequence: cell(row, fields, "sequence"),
			Taxonomy: Taxonomy{
				Kingdom: cell(row, fields, "kingdom"),
				Phylum:  cell(row, fields, "phylum"),
				Class:   cell(row, fields, "class"),
				Order:   cell(row, fields, "order"),
				Family:  cell(row, fields, "family"),
				Genus:   cell(row, fields, "genus"),
				Species: cell(row, fields, "species"),
			},
		})
	}
	return NewRegistry(list)
}

func LoadTaxonomy(path string) (*Registry, error) {
	f, err := openTable(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	reg, err := ReadTaxonomy(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return reg, nil
}

// Measurement is the absolute abundance of every taxon in one sample.
type Measurement struct {
	Subject string
	Time    float64
	Values  []float64
}

// ReadAbundance reads a tab-delimited table with columns subject, time and
// one column per registry taxon. Values are reordered to registry order.
func ReadAbundance(r io.Reader, reg *Registry) ([]Measurement, error) {
	tab := newTSVReader(r)
	head, err := tab.Read()
	if err != nil {
		return nil, tableError("abundance", err)
	}
	fields := make(map[string]int, len(head))
	for i, h := range head {
		fields[strings.TrimSpace(h)] = i
	}
	for _, f := range []string{"subject", "time"} {
		if _, ok := fields[f]; !ok {
			return nil, dynamo.Configf("abundance", "expecting field %q", f)
		}
	}
	cols := make([]int, reg.Len())
	for i, name := range reg.Names() {
		c, ok := fields[name]
		if !ok {
			return nil, dynamo.Configf("abundance", "no column for taxon %q", name)
		}
		cols[i] = c
	}

	var rows []Measurement
	for {
		row, err := tab.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, tableError("abundance", err)
		}
		ln, _ := tab.FieldPos(0)

		tm, err := strconv.ParseFloat(cell(row, fields, "time"), 64)
		if err != nil {
			return nil, dynamo.Configf("abundance", "on row %d: field \"time\": %v", ln, err)
		}
		m := Measurement{
			Subject: cell(row, fields, "subject"),
			Time:    tm,
			Values:  make([]float64, len(cols)),
		}
		for i, c := range cols {
			if c >= len(row) {
				return nil, dynamo.Configf("abundance", "on row %d: missing value for %q", ln, reg.At(i).Name)
			}
			v, err := strconv.ParseFloat(strings.TrimSpace(row[c]), 64)
			if err != nil {
				return nil, dynamo.Configf("abundance", "on row %d: field %q: %v", ln, reg.At(i).Name, err)
			}
			if v < 0 {
				return nil, dynamo.Configf("abundance", "on row %d: negative abundance for %q", ln, reg.At(i).Name)
			}
			m.Values[i] = v
		}
		rows = append(rows, m)
	}
	return rows, nil
}

func LoadAbundance(path string, reg *Registry) ([]Measurement, error) {
	f, err := openTable(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	rows, err := ReadAbundance(f, reg)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return rows, nil
}

// InitialConditions takes, for every subject, the first measurement at or
// after day at, averages them across subjects and replaces zeros with the
// detection limit.
func InitialConditions(rows []Measurement, at, detectionLimit float64) ([]float64, error) {
	if len(rows) == 0 {
		return nil, dynamo.Configf("abundance", "no measurements")
	}
	if !(detectionLimit > 0) {
		return nil, dynamo.Configf("detection_limit", "must be positive, got %g", detectionLimit)
	}

	var order []string
	bySubject := make(map[string][]Measurement)
	for _, m := range rows {
		if _, ok := bySubject[m.Subject]; !ok {
			order = append(order, m.Subject)
		}
		bySubject[m.Subject] = append(bySubject[m.Subject], m)
	}

	mean := make([]float64, len(rows[0].Values))
	for _, subj := range order {
		ms := bySubject[subj]
		sort.SliceStable(ms, func(i, j int) bool { return ms[i].Time < ms[j].Time })
		k := sort.Search(len(ms), func(i int) bool { return ms[i].Time >= at })
		if k == len(ms) {
			return nil, dynamo.Configf("abundance", "subject %q has no sample at or after day %g", subj, at)
		}
		for i, v := range ms[k].Values {
			mean[i] += v
		}
	}
	for i := range mean {
		mean[i] /= float64(len(order))
		if mean[i] == 0 {
			mean[i] = detectionLimit
		}
	}
	return mean, nil
}

// Perturbation is a named interval [Start, End) in days.
type Perturbation struct {
	Name  string
	Start float64
	End   float64
}

// ReadPerturbations reads a tab-delimited table with columns name, start,
// end and an optional subject. Each distinct name yields one perturbation,
// taken from its first row, in order of appearance.
func ReadPerturbations(r io.Reader) ([]Perturbation, error) {
	tab := newTSVReader(r)
	head, err := tab.Read()
	if err != nil {
		return nil, tableError("perturbations", err)
	}
	fields := header(head)
	for _, f := range []string{"name", "start", "end"} {
		if _, ok := fields[f]; !ok {
			return nil, dynamo.Configf("perturbations", "expecting field %q", f)
		}
	}

	var perts []Perturbation
	seen := make(map[string]bool)
	for {
		row, err := tab.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, tableError("perturbations", err)
		}
		ln, _ := tab.FieldPos(0)

		name := cell(row, fields, "name")
		if seen[name] {
			continue
		}
		start, err := strconv.ParseFloat(cell(row, fields, "start"), 64)
		if err != nil {
			return nil, dynamo.Configf("perturbations", "on row %d: field \"start\": %v", ln, err)
		}
		end, err := strconv.ParseFloat(cell(row, fields, "end"), 64)
		if err != nil {
			return nil, dynamo.Configf("perturbations", "on row %d: field \"end\": %v", ln, err)
		}
		if !(start < end) {
			return nil, dynamo.Configf("perturbations", "on row %d: %q ends before it starts", ln, name)
		}
		seen[name] = true
		perts = append(perts, Perturbation{Name: name, Start: start, End: end})
	}
	return perts, nil
}

func LoadPerturbations(path string) ([]Perturbation, error) {
	f, err := openTable(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	perts, err := ReadPerturbations(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return perts, nil
}
