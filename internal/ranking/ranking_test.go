package ranking_test

import (
	"bytes"
	"math"
	"os"
	"path/filepath"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/san-kum/keystone/internal/dynamo"
	"github.com/san-kum/keystone/internal/knockout"
	"github.com/san-kum/keystone/internal/ranking"
	"github.com/san-kum/keystone/internal/taxa"
)

func rank(base *knockout.Outcome, outs []*knockout.Outcome) ranking.Result {
	GinkgoHelper()
	res, err := ranking.Rank(base, outs)
	Expect(err).NotTo(HaveOccurred())
	return res
}

var _ = Describe("Ranking", func() {
	var (
		reg  *taxa.Registry
		base *knockout.Outcome
		outs []*knockout.Outcome
	)

	BeforeEach(func() {
		var err error
		reg, err = taxa.FromNames("A", "B", "C")
		Expect(err).NotTo(HaveOccurred())

		base = &knockout.Outcome{Mask: []bool{true, true, true}, Mean: dynamo.State{1, 1, 1}}
		outs = []*knockout.Outcome{
			{Set: knockout.NewSet("A"), Mask: []bool{false, true, true}, Mean: dynamo.State{4, 5}},
			{Set: knockout.NewSet("B"), Mask: []bool{true, false, true}, Mean: dynamo.State{4, 1}},
			{Set: knockout.NewSet("C"), Mask: []bool{true, true, false}, Mean: dynamo.State{1, 6}},
		}
	})

	Describe("Effect", func() {
		It("is the distance between mean vectors of retained taxa", func() {
			Expect(ranking.Effect(base.Mean, outs[0])).To(BeNumerically("~", 5.0, 1e-12))
			Expect(ranking.Effect(base.Mean, outs[1])).To(BeNumerically("~", 3.0, 1e-12))
		})

		It("is zero for the baseline", func() {
			Expect(ranking.Effect(base.Mean, base)).To(BeZero())
		})

		It("rejects outcomes over a different set of taxa", func() {
			wider := &knockout.Outcome{Set: knockout.NewSet("A"), Mask: []bool{false, true, true, true}, Mean: dynamo.State{4, 5, 6}}
			_, err := ranking.Effect(base.Mean, wider)
			Expect(err).To(MatchError(dynamo.ErrConfiguration))

			short := &knockout.Outcome{Set: knockout.NewSet("A"), Mask: []bool{false, true, true}, Mean: dynamo.State{4}}
			_, err = ranking.Effect(base.Mean, short)
			Expect(err).To(MatchError(dynamo.ErrConfiguration))

			outs[1].Mean = dynamo.State{math.NaN(), 1}
			_, err = ranking.Rank(base, outs)
			Expect(err).To(MatchError(dynamo.ErrConfiguration))
		})
	})

	Describe("Rank", func() {
		It("orders by descending effect and keeps tied sets in input order", func() {
			res := rank(base, outs)

			keys := make([]string, len(res.Entries))
			for i, e := range res.Entries {
				keys[i] = e.Set.Key()
			}
			Expect(keys).To(Equal([]string{"A", "C", "B"}))
			Expect(res.Entries[0].Position).To(Equal(0))
			Expect(res.Entries[1].Position).To(Equal(2))
			Expect(res.Entries[2].Position).To(Equal(1))
			Expect(res.Spearman).To(BeNumerically("~", 0.5, 1e-12))
		})

		It("has perfect correlation when the order is unchanged", func() {
			outs[1].Mean = dynamo.State{4.5, 1}
			outs[2].Mean = dynamo.State{1, 1.5}
			res := rank(base, outs)
			Expect(res.Spearman).To(BeNumerically("~", 1.0, 1e-12))
		})

		It("has no correlation for a single set", func() {
			res := rank(base, outs[:1])
			Expect(res.Entries).To(HaveLen(1))
			Expect(math.IsNaN(res.Spearman)).To(BeTrue())
		})
	})

	Describe("WriteText", func() {
		It("writes the concise and expanded sections", func() {
			var buf bytes.Buffer
			Expect(ranking.WriteText(&buf, rank(base, outs), reg)).To(Succeed())
			out := buf.String()

			Expect(out).To(HavePrefix("Concise results\n1: A (was 1 on bfs)\n2: C (was 3 on bfs)\n3: B (was 2 on bfs)\n"))
			Expect(out).To(ContainSubstring("Spearman correlation on ranking: 0.5"))
			Expect(out).To(ContainSubstring("\nexpanded results\n\n---------------------------------------------\nA\nTaxon A (index 0)\nEffect: 5.0000E+00\n"))
			Expect(out).To(HaveSuffix("\nB\nTaxon B (index 1)\nEffect: 3.0000E+00\n"))
			Expect(strings.Count(out, "---------------------------------------------")).To(Equal(3))
		})

		It("lists every taxon of a multi-taxon set", func() {
			o := &knockout.Outcome{Set: knockout.NewSet("C", "A"), Mask: []bool{false, true, false}, Mean: dynamo.State{2}}
			var buf bytes.Buffer
			Expect(ranking.WriteText(&buf, rank(base, []*knockout.Outcome{o}), reg)).To(Succeed())
			Expect(buf.String()).To(ContainSubstring("C,A\nTaxon C (index 2)\nTaxon A (index 0)\nEffect: 1.0000E+00\n"))
			Expect(buf.String()).To(ContainSubstring("Spearman correlation on ranking: nan"))
		})
	})

	Describe("WriteTable", func() {
		It("marks knocked-out taxa as not available", func() {
			var buf bytes.Buffer
			Expect(ranking.WriteTable(&buf, reg, base, outs)).To(Succeed())

			lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
			Expect(lines).To(Equal([]string{
				"\tA\tB\tC",
				"base\t1\t1\t1",
				"A\tNA\t4\t5",
				"B\t4\tNA\t1",
				"C\t1\t6\tNA",
			}))
		})
	})

	Describe("Save", func() {
		It("writes both files", func() {
			dir := GinkgoT().TempDir()
			txt := filepath.Join(dir, "rank.txt")
			tbl := filepath.Join(dir, "table.tsv")

			Expect(ranking.Save(txt, tbl, rank(base, outs), reg, base, outs)).To(Succeed())
			Expect(txt).To(BeAnExistingFile())
			data, err := os.ReadFile(tbl)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(data)).To(HavePrefix("\tA\tB\tC\n"))
		})

		It("refuses outcomes that do not match the registry before writing", func() {
			dir := GinkgoT().TempDir()
			txt := filepath.Join(dir, "rank.txt")
			wider, err := taxa.FromNames("A", "B", "C", "D")
			Expect(err).NotTo(HaveOccurred())

			err = ranking.Save(txt, filepath.Join(dir, "table.tsv"), rank(base, outs), wider, base, outs)
			Expect(err).To(MatchError(dynamo.ErrConfiguration))
			Expect(err).NotTo(MatchError(dynamo.ErrResource))
			Expect(txt).NotTo(BeAnExistingFile())

			var buf bytes.Buffer
			Expect(ranking.WriteTable(&buf, wider, base, outs)).To(MatchError(dynamo.ErrConfiguration))
		})

		It("reports an unwritable path as a resource error", func() {
			err := ranking.Save(filepath.Join(GinkgoT().TempDir(), "missing", "rank.txt"), "x", ranking.Result{}, reg, base, nil)
			Expect(err).To(MatchError(dynamo.ErrResource))
		})
	})
})
