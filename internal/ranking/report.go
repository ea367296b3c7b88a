package ranking

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"

	"github.com/san-kum/keystone/internal/dynamo"
	"github.com/san-kum/keystone/internal/knockout"
	"github.com/san-kum/keystone/internal/taxa"
)

const separator = "---------------------------------------------"

// NA marks a knocked-out taxon in the abundance table.
const NA = "NA"

// WriteText writes the concise ranking, the Spearman line and the expanded
// per-taxon breakdown.
func WriteText(w io.Writer, res Result, reg *taxa.Registry) error {
	bw := bufio.NewWriter(w)

	fmt.Fprintln(bw, "Concise results")
	for i, e := range res.Entries {
		fmt.Fprintf(bw, "%d: %s (was %d on bfs)\n", i+1, e.Set.Key(), e.Position+1)
	}
	fmt.Fprintf(bw, "Spearman correlation on ranking: %s\n", formatFloat(res.Spearman))

	fmt.Fprint(bw, "expanded results")
	for _, e := range res.Entries {
		fmt.Fprintf(bw, "\n\n%s\n%s\n", separator, e.Set.Key())
		for _, name := range e.Set.Names {
			tx, err := reg.Resolve(name)
			if err != nil {
				return err
			}
			fmt.Fprintf(bw, "%s\n", tx)
		}
		fmt.Fprintf(bw, "Effect: %.4E\n", e.Effect)
	}
	return bw.Flush()
}

// WriteTable writes the mean terminal abundances as TSV: a header of taxon
// names, the baseline row, then one row per outcome in input order. Every
// outcome must match the registry.
func WriteTable(w io.Writer, reg *taxa.Registry, base *knockout.Outcome, outcomes []*knockout.Outcome) error {
	cw := csv.NewWriter(w)
	cw.Comma = '\t'

	header := append([]string{""}, reg.Names()...)
	if err := cw.Write(header); err != nil {
		return err
	}

	row := func(key string, o *knockout.Outcome) error {
		if err := o.Check(reg.Len()); err != nil {
			return err
		}
		rec := make([]string, 1, reg.Len()+1)
		rec[0] = key
		j := 0
		for i := 0; i < reg.Len(); i++ {
			if o.Mask != nil && !o.Mask[i] {
				rec = append(rec, NA)
				continue
			}
			rec = append(rec, formatFloat(o.Mean[j]))
			j++
		}
		return cw.Write(rec)
	}

	if err := row(knockout.BaseKey, base); err != nil {
		return err
	}
	for _, o := range outcomes {
		if err := row(o.Set.Key(), o); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Save writes the text report and the table to their paths. Outcomes are
// checked against the registry before either file is created.
func Save(txtPath, tblPath string, res Result, reg *taxa.Registry, base *knockout.Outcome, outcomes []*knockout.Outcome) error {
	for _, o := range append([]*knockout.Outcome{base}, outcomes...) {
		if err := o.Check(reg.Len()); err != nil {
			return err
		}
	}
	if err := writeFile(txtPath, func(w io.Writer) error { return WriteText(w, res, reg) }); err != nil {
		return err
	}
	return writeFile(tblPath, func(w io.Writer) error { return WriteTable(w, reg, base, outcomes) })
}

func writeFile(path string, fn func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return dynamo.Resource("create", path, err)
	}
	if err := fn(f); err != nil {
		f.Close()
		return dynamo.Resource("write", path, err)
	}
	if err := f.Close(); err != nil {
		return dynamo.Resource("close", path, err)
	}
	return nil
}

func formatFloat(v float64) string {
	if math.IsNaN(v) {
		return "nan"
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}
