// Command traceshark loads kernel scheduling traces and prints the
// analysis a plotter would visualize: per-trace statistics, the
// busiest tasks, and the worst scheduling and wakeup latencies.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/yorickbrunet/traceshark/container"
	"github.com/yorickbrunet/traceshark/trace"
	"github.com/yorickbrunet/traceshark/trace/analyze"
)

var opts struct {
	pids        []int
	excludePids []int
	cpus        []int
	events      []string
	regexes     []string
	window      string
	latencyTop  int
	stateDir    string
	verbose     bool
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "traceshark [flags] trace1 [trace2 ...]",
		Short: "Analyze ftrace and perf scheduling traces",
		Long: `traceshark ingests textual kernel traces (ftrace output or perf script
output) and reports scheduling timelines, latencies and statistics.

Examples:
  traceshark trace.txt                    # summary + worst latencies
  traceshark --pids 42,43 trace.txt       # restrict to two tasks
  traceshark --regex 'kworker' trace.txt  # events whose args match
  traceshark --window 1.5,2.0 trace.txt   # on-CPU time inside a window`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), args)
		},
		SilenceUsage: true,
	}

	f := rootCmd.Flags()
	f.IntSliceVar(&opts.pids, "pids", nil, "only events of these PIDs")
	f.IntSliceVar(&opts.excludePids, "exclude-pids", nil, "drop events of these PIDs")
	f.IntSliceVar(&opts.cpus, "cpus", nil, "only events on these CPUs")
	f.StringSliceVar(&opts.events, "events", nil, "only these event types (e.g. sched_switch)")
	f.StringSliceVar(&opts.regexes, "regex", nil, "only events whose arguments match")
	f.StringVar(&opts.window, "window", "", "LO,HI seconds for windowed on-CPU statistics")
	f.IntVarP(&opts.latencyTop, "latency-top", "n", 10, "number of worst latencies to list")
	f.StringVar(&opts.stateDir, "state-dir", "", "directory for per-trace state files")
	f.BoolVarP(&opts.verbose, "verbose", "v", false, "verbose logging")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newLogger() (*zap.Logger, error) {
	if opts.verbose {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	return cfg.Build()
}

func run(ctx context.Context, paths []string) error {
	log, err := newLogger()
	if err != nil {
		return err
	}
	defer log.Sync()

	analyzers := make([]*analyze.Analyzer, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	for i, path := range paths {
		i, path := i, path
		g.Go(func() error {
			a := analyze.New(analyze.Options{
				Logger:   log.With(zap.String("trace", path)),
				StateDir: opts.stateDir,
			})
			if err := a.Open(gctx, path); err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			analyzers[i] = a
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i, a := range analyzers {
		if i > 0 {
			fmt.Println()
		}
		if err := applyFilters(a); err != nil {
			return err
		}
		report(paths[i], a)
		if err := a.Close(); err != nil {
			log.Warn("close", zap.Error(err))
		}
	}
	return nil
}

func applyFilters(a *analyze.Analyzer) error {
	if len(opts.pids) > 0 {
		set := container.NewSet[int32]()
		for _, pid := range opts.pids {
			set.Add(int32(pid))
		}
		a.CreatePidFilter(set, false, true)
	} else if len(opts.excludePids) > 0 {
		set := container.NewSet[int32]()
		for _, pid := range opts.excludePids {
			set.Add(int32(pid))
		}
		a.CreatePidFilter(set, false, false)
	}
	if len(opts.cpus) > 0 {
		set := container.NewSet[uint16]()
		for _, cpu := range opts.cpus {
			set.Add(uint16(cpu))
		}
		a.CreateCPUFilter(set, false)
	}
	if len(opts.events) > 0 {
		set := container.NewSet[trace.EventType]()
		for _, name := range opts.events {
			found := false
			for t := trace.EventType(0); t < trace.EvCount; t++ {
				if trace.EventDescriptions[t].Name == name {
					set.Add(t)
					found = true
				}
			}
			if !found {
				return fmt.Errorf("unknown event type %q", name)
			}
		}
		a.CreateEventFilter(set, false)
	}
	if len(opts.regexes) > 0 {
		if err := a.CreateRegexFilter(opts.regexes, false); err != nil {
			return err
		}
	}
	return nil
}

func report(path string, a *analyze.Analyzer) {
	p := message.NewPrinter(language.English)
	res := a.Res
	st := res.Stats

	p.Printf("%s: %s trace, %d events on %d CPUs, %v .. %v (precision %d)\n",
		path, res.Flavor, st.Events, res.NrCPUs,
		res.StartTime, res.EndTime, res.TimePrecision)
	if st.Unparsed > 0 || st.UnknownStates > 0 {
		p.Printf("  warnings: %d unparsed lines, %d unknown task states\n",
			st.Unparsed, st.UnknownStates)
	}
	if a.FilterActive() {
		p.Printf("  filter: %d of %d events selected\n", len(a.FilteredEvents), st.Events)
	}

	reportTasks(p, a)
	reportLatencies(p, "scheduling latency", a, a.SchedLatencies)
	reportLatencies(p, "wakeup latency", a, a.WakeupLatencies)
	reportWindow(p, a)
}

func reportTasks(p *message.Printer, a *analyze.Analyzer) {
	type row struct {
		pid      int32
		name     string
		switches int
	}
	var rows []row
	for pid, t := range a.Tasks {
		n := 0
		for _, m := range a.CPUTasks {
			if ct, ok := m[pid]; ok {
				n += len(ct.SchedTimev)
			}
		}
		if n > 0 {
			rows = append(rows, row{pid: pid, name: t.Name, switches: n})
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].switches > rows[j].switches })
	if len(rows) > opts.latencyTop {
		rows = rows[:opts.latencyTop]
	}
	p.Printf("  busiest tasks:\n")
	for _, r := range rows {
		p.Printf("    %8d  %-16s  %d sched steps\n", r.pid, r.name, r.switches)
	}
}

func reportLatencies(p *message.Printer, what string, a *analyze.Analyzer, lats []analyze.Latency) {
	if len(lats) == 0 {
		return
	}
	sorted := make([]analyze.Latency, len(lats))
	copy(sorted, lats)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Delay > sorted[j].Delay })
	n := opts.latencyTop
	if n > len(sorted) {
		n = len(sorted)
	}
	p.Printf("  worst %s (%d samples):\n", what, len(lats))
	for _, l := range sorted[:n] {
		name := ""
		if t, ok := a.Tasks[l.PID]; ok {
			name = t.Name
		}
		p.Printf("    %12.6fs  pid %d (%s) cpu %d\n", l.Delay.Seconds(), l.PID, name, l.CPU)
	}
}

func reportWindow(p *message.Printer, a *analyze.Analyzer) {
	if opts.window == "" {
		return
	}
	los, his, ok := strings.Cut(opts.window, ",")
	if !ok {
		p.Printf("  bad --window %q, want LO,HI\n", opts.window)
		return
	}
	lo, err1 := strconv.ParseFloat(los, 64)
	hi, err2 := strconv.ParseFloat(his, 64)
	if err1 != nil || err2 != nil {
		p.Printf("  bad --window %q, want LO,HI\n", opts.window)
		return
	}
	rep := a.StatsWindowReport(trace.Timestamp(lo*1e9), trace.Timestamp(hi*1e9))
	p.Printf("  on-CPU time in [%g, %g]:\n", lo, hi)
	for _, r := range rep.Rows {
		p.Printf("    %12.6fs  %5.2f%%  pid %d (%s)\n",
			r.OnCPU.Seconds(), float64(r.Pct)/100, r.PID, r.Name)
	}
	p.Printf("    %12.6fs  idle\n", rep.Idle.Seconds())
}
