package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/san-kum/keystone/internal/config"
	"github.com/san-kum/keystone/internal/dynamo"
	"github.com/san-kum/keystone/internal/knockout"
	"github.com/san-kum/keystone/internal/ranking"
	"github.com/san-kum/keystone/internal/sim"
	"github.com/san-kum/keystone/internal/storage"
	"github.com/san-kum/keystone/internal/taxa"
	"github.com/san-kum/keystone/internal/viz"
	"github.com/spf13/cobra"
)

var (
	configFile   string
	preset       string
	verbose      bool
	modelDir     string
	inputList    string
	outputTxt    string
	outputTbl    string
	keystoneType string
	maxPosterior int
	workers      int
	dt           float64
	days         float64
	integrator   string
	resultsPath  string
	backend      string
	save         bool
	leaveOut     int
	sampleIdx    int
	taxonName    string
	top          int
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "keystone",
		Short:         "keystoneness of taxa from gLV posterior forward simulation",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (yaml)")
	rootCmd.PersistentFlags().StringVar(&preset, "preset", "", "simulation preset (see presets)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rankCmd := &cobra.Command{
		Use:   "rank",
		Short: "rank knockout sets by their effect on the community",
		RunE:  runRank,
	}
	rankCmd.Flags().StringVarP(&keystoneType, "type", "t", typeLeaveOneOut, "keystoneness type (leave-one-out)")
	rankCmd.Flags().StringVarP(&inputList, "input", "i", "", "knockout list, one comma separated set per line")
	rankCmd.Flags().StringVar(&outputTxt, "output-txt", "keystoneness.txt", "ranking report path")
	rankCmd.Flags().StringVar(&outputTbl, "output-tbl", "keystoneness.tsv", "abundance table path")
	rankCmd.Flags().BoolVar(&save, "save", false, "also store every mean vector in the result ledger")
	rankCmd.Flags().IntVar(&top, "top", 10, "sets shown in the console summary")
	rankCmd.MarkFlagRequired("input")
	simFlags(rankCmd)
	ledgerFlags(rankCmd)

	singleCmd := &cobra.Command{
		Use:   "single",
		Short: "evaluate one line of the knockout list and store its mean vector",
		RunE:  runSingle,
	}
	singleCmd.Flags().StringVarP(&inputList, "input", "i", "", "knockout list")
	singleCmd.Flags().IntVar(&leaveOut, "leave-out", -1, "0-based line of the knockout list, -1 for the baseline")
	simFlags(singleCmd)
	ledgerFlags(singleCmd)

	aggregateCmd := &cobra.Command{
		Use:   "aggregate",
		Short: "rank the mean vectors stored by single jobs",
		RunE:  runAggregate,
	}
	aggregateCmd.Flags().StringVarP(&inputList, "input", "i", "", "knockout list")
	aggregateCmd.Flags().StringVar(&outputTxt, "output-txt", "keystoneness.txt", "ranking report path")
	aggregateCmd.Flags().StringVar(&outputTbl, "output-tbl", "keystoneness.tsv", "abundance table path")
	aggregateCmd.Flags().StringVar(&modelDir, "model", "", "posterior directory")
	aggregateCmd.Flags().IntVar(&top, "top", 10, "sets shown in the console summary")
	aggregateCmd.MarkFlagRequired("input")
	ledgerFlags(aggregateCmd)

	simulateCmd := &cobra.Command{
		Use:   "simulate",
		Short: "integrate one posterior sample and plot a taxon",
		RunE:  runSimulate,
	}
	simulateCmd.Flags().IntVar(&sampleIdx, "sample", 0, "posterior sample index")
	simulateCmd.Flags().StringVar(&taxonName, "taxon", "", "taxon to plot (default: the first)")
	simFlags(simulateCmd)

	presetsCmd := &cobra.Command{
		Use:   "presets",
		Short: "list simulation presets",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("presets:")
			for _, name := range config.ListPresets() {
				fmt.Printf("  %-8s %s\n", name, config.GetPreset(name))
			}
			return nil
		},
	}

	rootCmd.AddCommand(rankCmd, singleCmd, aggregateCmd, simulateCmd, presetsCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "keystone: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func simFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&modelDir, "model", "m", "", "posterior directory (overrides inputs.dir)")
	cmd.Flags().IntVar(&maxPosterior, "max-posterior", 0, "use at most this many posterior samples (0 for all)")
	cmd.Flags().IntVarP(&workers, "workers", "j", 1, "parallel simulations (0 for every CPU)")
	cmd.Flags().Float64Var(&dt, "dt", config.DefaultDt, "integration step in days")
	cmd.Flags().Float64Var(&days, "days", config.DefaultDays, "simulation horizon in days")
	cmd.Flags().StringVar(&integrator, "integrator", "euler", "step rule (euler, rk4)")
}

func ledgerFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&resultsPath, "results", "results", "result ledger path")
	cmd.Flags().StringVar(&backend, "backend", "dir", "result ledger backend (dir, sqlite)")
}

func runRank(cmd *cobra.Command, args []string) error {
	if err := checkType(keystoneType); err != nil {
		return err
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	sets, err := knockout.LoadList(inputList)
	if err != nil {
		return err
	}
	in, err := loadInputs(cfg)
	if err != nil {
		return err
	}
	if err := knockout.ValidateAll(in.reg, sets); err != nil {
		return err
	}

	log := newLogger(verbose)
	ev, err := newEvaluator(cfg, in, log)
	if err != nil {
		return err
	}

	fmt.Println(viz.Summary("keystoneness", []viz.Field{
		viz.F("posterior", "%s", cfg.Inputs.Dir),
		viz.F("samples", "%d", in.store.NumSamples()),
		viz.F("taxa", "%d", in.reg.Len()),
		viz.F("knockout sets", "%d", len(sets)),
		viz.F("simulation", "%s", cfg.Simulation),
		viz.F("runner", "%v", sim.NewRunner(cfg.Run.Workers)),
	}))

	start := time.Now()
	base, outs, err := ev.EvaluateAll(cmd.Context(), sets)
	if err != nil {
		return err
	}
	log.Info("forward simulation complete", "sets", len(sets), "elapsed", time.Since(start).Round(time.Millisecond))

	if save {
		if err := saveOutcomes(cmd.Context(), cfg, base, outs); err != nil {
			return err
		}
	}

	res, err := ranking.Rank(base, outs)
	if err != nil {
		return err
	}
	if err := ranking.Save(outputTxt, outputTbl, res, in.reg, base, outs); err != nil {
		return err
	}

	fmt.Println(viz.Ranking(res, top))
	fmt.Println(viz.Summary("diagnostics", viz.Diagnostics(base.Diagnostics)))
	fmt.Printf("report: %s\ntable:  %s\n", outputTxt, outputTbl)
	return nil
}

func saveOutcomes(ctx context.Context, cfg *config.Config, base *knockout.Outcome, outs []*knockout.Outcome) error {
	ledger, err := storage.Open(cfg.Results.Backend, cfg.Results.Path)
	if err != nil {
		return err
	}
	defer ledger.Close()

	if err := ledger.Put(ctx, entryFor(storage.BaseIndex, base)); err != nil {
		return err
	}
	for i, o := range outs {
		if err := ledger.Put(ctx, entryFor(i, o)); err != nil {
			return err
		}
	}
	return config.Save(settingsPath(cfg), cfg)
}

// settingsPath is where ledger runs record the configuration they used.
func settingsPath(cfg *config.Config) string {
	if cfg.Results.Backend == "sqlite" {
		return cfg.Results.Path + ".yaml"
	}
	return filepath.Join(cfg.Results.Path, "keystone.yaml")
}

func entryFor(index int, o *knockout.Outcome) storage.Entry {
	return storage.Entry{
		Index:   index,
		Key:     o.Set.Key(),
		Mask:    o.Mask,
		Samples: o.Samples,
		Mean:    o.Mean,
	}
}

func runSingle(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	set := knockout.Set{}
	if leaveOut != storage.BaseIndex {
		if inputList == "" {
			return dynamo.Configf("input", "a knockout list is required with --leave-out %d", leaveOut)
		}
		sets, err := knockout.LoadList(inputList)
		if err != nil {
			return err
		}
		if leaveOut < 0 || leaveOut >= len(sets) {
			return dynamo.Configf("leave-out", "%d is outside the %d lines of %s", leaveOut, len(sets), inputList)
		}
		set = sets[leaveOut]
	}

	in, err := loadInputs(cfg)
	if err != nil {
		return err
	}
	log := newLogger(verbose)
	ev, err := newEvaluator(cfg, in, log)
	if err != nil {
		return err
	}

	start := time.Now()
	out, err := ev.Evaluate(cmd.Context(), set)
	if err != nil {
		return err
	}

	ledger, err := storage.Open(cfg.Results.Backend, cfg.Results.Path)
	if err != nil {
		return err
	}
	defer ledger.Close()
	prev, err := ledger.Get(cmd.Context(), leaveOut)
	switch {
	case err == nil:
		log.Info("replacing stored result", "index", leaveOut, "was", prev.Key, "saved", prev.Timestamp.Format(time.RFC3339))
	case !errors.Is(err, storage.ErrNotFound):
		return err
	}
	if err := ledger.Put(cmd.Context(), entryFor(leaveOut, out)); err != nil {
		return err
	}
	if err := config.Save(settingsPath(cfg), cfg); err != nil {
		return err
	}

	fmt.Println(viz.Summary(set.Key(), append([]viz.Field{
		viz.F("stored", "%s/%s", cfg.Results.Path, storage.FileName(leaveOut)),
		viz.F("elapsed", "%v", time.Since(start).Round(time.Millisecond)),
	}, viz.Diagnostics(out.Diagnostics)...)))
	return nil
}

func runAggregate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	sets, err := knockout.LoadList(inputList)
	if err != nil {
		return err
	}
	reg, err := loadRegistry(cfg)
	if err != nil {
		return err
	}
	if err := knockout.ValidateAll(reg, sets); err != nil {
		return err
	}

	ledger, err := storage.Open(cfg.Results.Backend, cfg.Results.Path)
	if err != nil {
		return err
	}
	defer ledger.Close()

	entries, err := ledger.List(cmd.Context())
	if err != nil {
		return err
	}
	base, outs, err := collectOutcomes(entries, reg, sets)
	if err != nil {
		return err
	}

	res, err := ranking.Rank(base, outs)
	if err != nil {
		return err
	}
	if err := ranking.Save(outputTxt, outputTbl, res, reg, base, outs); err != nil {
		return err
	}

	fields := []viz.Field{viz.F("stored entries", "%d", len(entries))}
	if rec, err := config.Load(settingsPath(cfg)); err == nil {
		fields = append(fields, viz.F("simulation", "%s", rec.Simulation))
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}
	fmt.Println(viz.Summary("aggregate", fields))
	fmt.Println(viz.Ranking(res, top))
	fmt.Printf("report: %s\ntable:  %s\n", outputTxt, outputTbl)
	return nil
}

// collectOutcomes matches stored entries to the lines of the knockout list.
// All unusable entries are reported together in one error.
func collectOutcomes(entries []storage.Entry, reg *taxa.Registry, sets []knockout.Set) (*knockout.Outcome, []*knockout.Outcome, error) {
	byIndex := make(map[int]storage.Entry, len(entries))
	for _, e := range entries {
		byIndex[e.Index] = e
	}

	var problems []string
	lookup := func(index int, s knockout.Set) *knockout.Outcome {
		e, ok := byIndex[index]
		if !ok {
			problems = append(problems, fmt.Sprintf("entry %d: no stored result for %q, run single --leave-out %d", index, s.Key(), index))
			return nil
		}
		if e.Key != s.Key() {
			problems = append(problems, fmt.Sprintf("entry %d: stored for %q, the knockout list has %q", index, e.Key, s.Key()))
			return nil
		}
		o := &knockout.Outcome{Set: s, Mask: e.Mask, Mean: e.Mean, Samples: e.Samples}
		if err := o.Check(reg.Len()); err != nil {
			problems = append(problems, fmt.Sprintf("entry %d: %v", index, err))
			return nil
		}
		return o
	}

	base := lookup(storage.BaseIndex, knockout.Set{})
	outs := make([]*knockout.Outcome, len(sets))
	for i, s := range sets {
		if !s.IsBase() {
			outs[i] = lookup(i, s)
		}
	}
	if len(problems) > 0 {
		return nil, nil, dynamo.Configf("results", "%d stored entries cannot be used:\n  %s", len(problems), strings.Join(problems, "\n  "))
	}

	for i, s := range sets {
		if s.IsBase() {
			o := *base
			o.Set = s
			outs[i] = &o
		}
	}
	return base, outs, nil
}

func runSimulate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	in, err := loadInputs(cfg)
	if err != nil {
		return err
	}
	ev, err := newEvaluator(cfg, in, newLogger(verbose))
	if err != nil {
		return err
	}

	taxon := in.reg.At(0)
	if taxonName != "" {
		if taxon, err = in.reg.Resolve(taxonName); err != nil {
			return err
		}
	}

	mask := make([]bool, in.reg.Len())
	for i := range mask {
		mask[i] = true
	}
	model, err := ev.Model(sampleIdx, mask)
	if err != nil {
		return err
	}

	scfg := sim.Config{Dt: cfg.Simulation.Dt, Days: cfg.Simulation.Days}
	for i := 0; i <= scfg.Steps(); i++ {
		scfg.SampleTimes = append(scfg.SampleTimes, float64(i)*scfg.Dt)
	}
	traj, err := sim.New(model).Run(cmd.Context(), in.initial, scfg)
	if err != nil {
		return err
	}

	series := make([]float64, len(traj.States))
	for i, x := range traj.States {
		series[i] = x[taxon.Index]
	}
	final := traj.Final()

	fmt.Println(viz.Summary(fmt.Sprintf("posterior sample %d", sampleIdx), []viz.Field{
		viz.F("taxon", "%s (index %d)", taxon.Name, taxon.Index),
		viz.F("initial", "%.4E", series[0]),
		viz.F("terminal", "%.4E", final[taxon.Index]),
		viz.F("steps", "%d", traj.StepsTaken),
		viz.F("trend", "%s", viz.Sparkline(series, 40)),
	}))
	fmt.Println(viz.Trajectory(series, fmt.Sprintf("log10 %s vs time (days 0-%g)", taxon.Name, scfg.Days)))
	return nil
}
