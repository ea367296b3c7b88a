package knockout_test

import (
	"context"
	"errors"
	"math"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/san-kum/keystone/internal/dynamo"
	"github.com/san-kum/keystone/internal/glv"
	"github.com/san-kum/keystone/internal/knockout"
	"github.com/san-kum/keystone/internal/posterior"
	"github.com/san-kum/keystone/internal/sim"
	"github.com/san-kum/keystone/internal/taxa"
	"gonum.org/v1/gonum/mat"
)

var _ = Describe("ParseList", func() {
	It("removes repeated names within a line", func() {
		sets, err := knockout.ParseList(strings.NewReader("TaxonA,TaxonA,TaxonB\nTaxonA,TaxonB\n"))
		Expect(err).NotTo(HaveOccurred())
		Expect(sets).To(HaveLen(2))
		Expect(sets[0].Names).To(Equal([]string{"TaxonA", "TaxonB"}))
		Expect(sets[0].Names).To(Equal(sets[1].Names))
		Expect(sets[0].Key()).To(Equal("TaxonA,TaxonB"))
		Expect(sets[1].Line).To(Equal(2))
	})

	It("treats blank lines as the baseline", func() {
		sets, err := knockout.ParseList(strings.NewReader("A\n\n B , C \n"))
		Expect(err).NotTo(HaveOccurred())
		Expect(sets).To(HaveLen(3))
		Expect(sets[1].IsBase()).To(BeTrue())
		Expect(sets[1].Key()).To(Equal(knockout.BaseKey))
		Expect(sets[2].Names).To(Equal([]string{"B", "C"}))
	})
})

var _ = Describe("Mask", func() {
	var reg *taxa.Registry

	BeforeEach(func() {
		var err error
		reg, err = taxa.FromNames("A", "B", "C")
		Expect(err).NotTo(HaveOccurred())
	})

	It("retains every taxon not in the set", func() {
		mask, err := knockout.Mask(reg, knockout.NewSet("C", "A"))
		Expect(err).NotTo(HaveOccurred())
		Expect(mask).To(Equal([]bool{false, true, false}))
	})

	It("rejects unknown taxa", func() {
		_, err := knockout.Mask(reg, knockout.NewSet("A", "Z"))
		Expect(err).To(MatchError(dynamo.ErrConfiguration))
		Expect(err.Error()).To(ContainSubstring(`"Z"`))
	})

	It("rejects removing every taxon", func() {
		_, err := knockout.Mask(reg, knockout.NewSet("A", "B", "C", "B"))
		Expect(err).To(MatchError(dynamo.ErrConfiguration))
	})

	It("counts a repeated name once", func() {
		two, err := taxa.FromNames("A", "B")
		Expect(err).NotTo(HaveOccurred())
		mask, err := knockout.Mask(two, knockout.Set{Names: []string{"A", "A"}})
		Expect(err).NotTo(HaveOccurred())
		Expect(mask).To(Equal([]bool{false, true}))

		_, err = knockout.Mask(two, knockout.Set{Names: []string{"A", "B", "A"}})
		Expect(err).To(MatchError(dynamo.ErrConfiguration))
	})
})

var _ = Describe("Slice", func() {
	It("deletes rows and columns and resets the diagonal", func() {
		a := mat.NewDense(4, 4, []float64{
			11, 12, 13, 14,
			21, 22, 23, 24,
			31, 32, 33, 34,
			41, 42, 43, 44,
		})
		smp := posterior.Sample{
			Growth:          []float64{1, 2, 3, 4},
			SelfInteraction: []float64{-0.1, 0.2, -0.3, 0.4},
			Interaction:     a,
			Perturbations:   [][]float64{{5, 6, 7, 8}},
		}

		red := knockout.Slice(smp, []bool{true, false, true, true})

		r, c := red.Interaction.Dims()
		Expect(r).To(Equal(3))
		Expect(c).To(Equal(3))
		Expect(red.Growth).To(Equal([]float64{1, 3, 4}))
		Expect(red.Perturbations[0]).To(Equal([]float64{5, 7, 8}))
		Expect(mat.Row(nil, 0, red.Interaction)).To(Equal([]float64{-0.1, 13, 14}))
		Expect(mat.Row(nil, 1, red.Interaction)).To(Equal([]float64{31, -0.3, 34}))
		Expect(mat.Row(nil, 2, red.Interaction)).To(Equal([]float64{41, 43, -0.4}))
		for i, si := range []float64{-0.1, -0.3, 0.4} {
			Expect(red.Interaction.At(i, i)).To(Equal(-math.Abs(si)))
		}

		By("leaving the sample untouched")
		Expect(a.At(1, 1)).To(Equal(22.0))
		Expect(smp.Growth).To(HaveLen(4))
	})

	It("has shape (n-k, n-k) for every set size", func() {
		set := community(1, 6)
		smp, err := set.Sample(0)
		Expect(err).NotTo(HaveOccurred())
		for k := 0; k < 6; k++ {
			mask := make([]bool, 6)
			for i := k; i < 6; i++ {
				mask[i] = true
			}
			red := knockout.Slice(smp, mask)
			r, c := red.Interaction.Dims()
			Expect(r).To(Equal(6 - k))
			Expect(c).To(Equal(6 - k))
			for i := 0; i < r; i++ {
				Expect(red.Interaction.At(i, i)).To(Equal(-math.Abs(smp.SelfInteraction[i+k])))
			}
		}
	})
})

var _ = Describe("Evaluator", func() {
	var (
		reg   *taxa.Registry
		store *countingStore
		cfg   knockout.Config
		x0    []float64
		ctx   context.Context
	)

	BeforeEach(func() {
		var err error
		reg, err = taxa.FromNames("A", "B", "C", "D")
		Expect(err).NotTo(HaveOccurred())
		store = &countingStore{Store: community(5, 4)}
		cfg = knockout.DefaultConfig()
		cfg.Sim = sim.Config{Dt: 0.1, Days: 5}
		x0 = []float64{50, 20, 80, 5}
		ctx = context.Background()
	})

	It("is bit-identical across baseline runs", func() {
		ev, err := knockout.NewEvaluator(store, reg, x0, cfg)
		Expect(err).NotTo(HaveOccurred())

		first, err := ev.Evaluate(ctx, knockout.Set{})
		Expect(err).NotTo(HaveOccurred())
		second, err := ev.Evaluate(ctx, knockout.Set{})
		Expect(err).NotTo(HaveOccurred())

		Expect(first.Mean).To(HaveLen(4))
		Expect(first.Samples).To(Equal(5))
		for i := range first.Mean {
			Expect(math.Float64bits(first.Mean[i])).To(Equal(math.Float64bits(second.Mean[i])))
		}
	})

	It("averages terminal abundances of the retained taxa", func() {
		ev, err := knockout.NewEvaluator(store, reg, x0, cfg)
		Expect(err).NotTo(HaveOccurred())

		out, err := ev.Evaluate(ctx, knockout.NewSet("B"))
		Expect(err).NotTo(HaveOccurred())
		Expect(out.Mask).To(Equal([]bool{true, false, true, true}))
		Expect(out.Mean).To(HaveLen(3))

		want := make([]float64, 3)
		for i := 0; i < 5; i++ {
			m, err := ev.Model(i, out.Mask)
			Expect(err).NotTo(HaveOccurred())
			traj, err := sim.New(m).Run(ctx, dynamo.State{50, 80, 5}, cfg.Sim)
			Expect(err).NotTo(HaveOccurred())
			for j, v := range traj.Final() {
				want[j] += v / 5
			}
		}
		for j := range want {
			Expect(out.Mean[j]).To(BeNumerically("~", want[j], 1e-9*want[j]))
		}
	})

	It("matches the sequential result with a worker pool", func() {
		seq, err := knockout.NewEvaluator(store, reg, x0, cfg)
		Expect(err).NotTo(HaveOccurred())
		par, err := knockout.NewEvaluator(store, reg, x0, cfg, knockout.WithRunner(sim.NewPool(3)))
		Expect(err).NotTo(HaveOccurred())

		a, err := seq.Evaluate(ctx, knockout.NewSet("A", "D"))
		Expect(err).NotTo(HaveOccurred())
		b, err := par.Evaluate(ctx, knockout.NewSet("A", "D"))
		Expect(err).NotTo(HaveOccurred())
		Expect(b.Mean).To(Equal(a.Mean))
	})

	It("rejects unknown taxa before any simulation", func() {
		ev, err := knockout.NewEvaluator(store, reg, x0, cfg)
		Expect(err).NotTo(HaveOccurred())

		sets := []knockout.Set{knockout.NewSet("A"), knockout.NewSet("Nope")}
		_, _, err = ev.EvaluateAll(ctx, sets)

		var cerr *dynamo.ConfigurationError
		Expect(errors.As(err, &cerr)).To(BeTrue())
		Expect(err.Error()).To(ContainSubstring("Nope"))
		Expect(store.reads.Load()).To(BeZero())
	})

	It("reuses the baseline for blank sets", func() {
		ev, err := knockout.NewEvaluator(store, reg, x0, cfg)
		Expect(err).NotTo(HaveOccurred())

		base, outs, err := ev.EvaluateAll(ctx, []knockout.Set{{Line: 1}, knockout.NewSet("C")})
		Expect(err).NotTo(HaveOccurred())
		Expect(outs).To(HaveLen(2))
		Expect(outs[0].Mean).To(Equal(base.Mean))
		Expect(outs[1].Mean).To(HaveLen(3))
		Expect(store.reads.Load()).To(BeEquivalentTo(10))
	})

	It("reports the knockout and sample of a numeric failure", func() {
		list := make([]posterior.Sample, 3)
		for s := range list {
			list[s] = posterior.Sample{
				Growth:          []float64{0.1, 0.1},
				SelfInteraction: []float64{-0.01, -0.01},
				Interaction:     mat.NewDense(2, 2, nil),
			}
		}
		list[2].Growth = []float64{0.1, math.NaN()}
		set, err := posterior.FromSamples(list)
		Expect(err).NotTo(HaveOccurred())
		two, _ := taxa.FromNames("A", "B")

		ev, err := knockout.NewEvaluator(set, two, []float64{1, 1}, cfg)
		Expect(err).NotTo(HaveOccurred())
		_, err = ev.Evaluate(ctx, knockout.Set{})

		var nerr *dynamo.NumericInstabilityError
		Expect(errors.As(err, &nerr)).To(BeTrue())
		Expect(nerr.Sample).To(Equal(2))
		Expect(nerr.Knockout).To(Equal(knockout.BaseKey))
		Expect(nerr.Taxon).To(Equal(1))
	})

	It("applies perturbation windows", func() {
		list := []posterior.Sample{{
			Growth:          []float64{0.5, 0.5},
			SelfInteraction: []float64{0, 0},
			Interaction:     mat.NewDense(2, 2, nil),
			Perturbations:   [][]float64{{-1, 0}},
		}}
		set, err := posterior.FromSamples(list)
		Expect(err).NotTo(HaveOccurred())
		two, _ := taxa.FromNames("A", "B")

		cfg.Sim = sim.Config{Dt: 0.1, Days: 2}
		cfg.Windows = []glv.Window{{Start: 0, End: 1, Index: 0}}
		ev, err := knockout.NewEvaluator(set, two, []float64{1, 1}, cfg)
		Expect(err).NotTo(HaveOccurred())

		out, err := ev.Evaluate(ctx, knockout.Set{})
		Expect(err).NotTo(HaveOccurred())
		// A grows only after day 1, B for the whole horizon
		Expect(out.Mean[0]).To(BeNumerically("~", math.Exp(0.5), 1e-9))
		Expect(out.Mean[1]).To(BeNumerically("~", math.Exp(1.0), 1e-9))
	})

	It("rejects mismatched inputs", func() {
		_, err := knockout.NewEvaluator(store, reg, []float64{1, 2, 3}, cfg)
		Expect(err).To(MatchError(dynamo.ErrConfiguration))

		three, _ := taxa.FromNames("A", "B", "C")
		_, err = knockout.NewEvaluator(store, three, []float64{1, 2, 3}, cfg)
		Expect(err).To(MatchError(dynamo.ErrConfiguration))

		_, err = knockout.NewEvaluator(store, reg, []float64{1, 0, 3, 4}, cfg)
		Expect(err).To(MatchError(dynamo.ErrConfiguration))

		cfg.Windows = []glv.Window{{Start: 0, End: 1, Index: 0}}
		_, err = knockout.NewEvaluator(store, reg, x0, cfg)
		Expect(err).To(MatchError(dynamo.ErrConfiguration))
	})

	It("rejects bad windows and clamps before any simulation", func() {
		perturbed, err := posterior.FromSamples([]posterior.Sample{{
			Growth:          []float64{0.5, 0.5},
			SelfInteraction: []float64{0, 0},
			Interaction:     mat.NewDense(2, 2, nil),
			Perturbations:   [][]float64{{1, 0}, {0, 1}},
		}})
		Expect(err).NotTo(HaveOccurred())
		counted := &countingStore{Store: perturbed}
		two, _ := taxa.FromNames("A", "B")

		overlap := cfg
		overlap.Windows = []glv.Window{{Start: 0, End: 2, Index: 0}, {Start: 1, End: 3, Index: 1}}
		_, err = knockout.NewEvaluator(counted, two, []float64{1, 1}, overlap)
		Expect(err).To(MatchError(dynamo.ErrConfiguration))
		Expect(err.Error()).To(ContainSubstring("overlap"))
		Expect(err.Error()).NotTo(ContainSubstring("posterior sample"))

		inverted := cfg
		inverted.SimMax, inverted.SimMin = 1, 10
		_, err = knockout.NewEvaluator(counted, two, []float64{1, 1}, inverted)
		Expect(err).To(MatchError(dynamo.ErrConfiguration))

		Expect(counted.reads.Load()).To(BeZero())
	})
})

var _ = Describe("Three taxon scenario", func() {
	It("stays bounded below the ceiling", func() {
		set, err := posterior.FromSamples([]posterior.Sample{{
			Growth:          []float64{0.1, 0.1, 0.1},
			SelfInteraction: []float64{0.01, 0.01, 0.01},
			Interaction:     mat.NewDense(3, 3, []float64{-0.01, 0, 0, 0, -0.01, 0, 0, 0, -0.01}),
		}})
		Expect(err).NotTo(HaveOccurred())
		reg, _ := taxa.FromNames("A", "B", "C")

		cfg := knockout.DefaultConfig()
		cfg.Sim = sim.Config{Dt: 0.1, Days: 5}
		ev, err := knockout.NewEvaluator(set, reg, []float64{100, 100, 100}, cfg)
		Expect(err).NotTo(HaveOccurred())

		m, err := ev.Model(0, []bool{true, true, true})
		Expect(err).NotTo(HaveOccurred())
		times := make([]float64, 51)
		for i := range times {
			times[i] = float64(i) * 0.1
		}
		traj, err := sim.New(m).Run(context.Background(), dynamo.State{100, 100, 100},
			sim.Config{Dt: 0.1, Days: 5, SampleTimes: times})
		Expect(err).NotTo(HaveOccurred())
		Expect(traj.States).To(HaveLen(51))
		for k := 1; k < len(traj.States); k++ {
			for i := 0; i < 3; i++ {
				// carrying capacity is 10: the community declines towards it
				Expect(traj.States[k][i]).To(BeNumerically("<", traj.States[k-1][i]))
				Expect(traj.States[k][i]).To(BeNumerically(">", 10.0))
			}
		}

		out, err := ev.Evaluate(context.Background(), knockout.Set{})
		Expect(err).NotTo(HaveOccurred())
		for _, v := range out.Mean {
			Expect(v).To(BeNumerically("<", glv.DefaultSimMax))
			Expect(v).To(BeNumerically("~", traj.Final()[0], 1e-12))
		}
	})
})
