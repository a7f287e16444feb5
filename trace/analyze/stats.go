package analyze

import (
	"sort"

	"github.com/yorickbrunet/traceshark/trace"
)

// StatsWindow tallies on-CPU time per PID inside [lo, hi], typically
// driven from the plotter's cursor pair. It is a virtual predicate: it
// reads the event store directly and leaves FilteredEvents alone.
func (a *Analyzer) StatsWindow(lo, hi trace.Timestamp) map[int32]trace.Timestamp {
	if hi < lo {
		lo, hi = hi, lo
	}
	out := make(map[int32]trace.Timestamp)

	type running struct {
		pid   int32
		since trace.Timestamp
		valid bool
	}
	cur := make([]running, a.Res.NrCPUs)

	add := func(pid int32, from, to trace.Timestamp) {
		if from < lo {
			from = lo
		}
		if to > hi {
			to = hi
		}
		if to > from {
			out[pid] += to - from
		}
	}

	var scratch [][]byte
	for i := range a.Res.Events {
		ev := &a.Res.Events[i]
		if ev.Type != trace.EvSchedSwitch {
			continue
		}
		if ev.Ts > hi && func() bool {
			// Once past the window every CPU's interval is closed.
			done := true
			for _, r := range cur {
				if r.valid {
					done = false
					break
				}
			}
			return done
		}() {
			break
		}
		sw, ok := trace.ParseSchedSwitch(a.Res.Argv(ev, scratch), a.Res.Pool)
		if !ok {
			continue
		}
		c := &cur[ev.CPU]
		if c.valid {
			add(c.pid, c.since, ev.Ts)
		}
		if ev.Ts > hi {
			c.valid = false
			continue
		}
		*c = running{pid: sw.NewPID, since: ev.Ts, valid: true}
	}
	for _, c := range cur {
		if c.valid {
			add(c.pid, c.since, a.Res.EndTime)
		}
	}
	return out
}

// WindowRow is one task's share of a statistics window.
type WindowRow struct {
	PID   int32
	Name  string
	OnCPU trace.Timestamp
	// Pct is the share of the window in hundredths of a percent
	// (10000 = all of it), summed across CPUs.
	Pct uint32
}

// WindowReport is the cursor-window statistics table: per-task on-CPU
// time sorted busiest first, plus the time no task accounted for.
type WindowReport struct {
	Rows []WindowRow
	// Idle is window*nrCPUs minus the accounted task time.
	Idle trace.Timestamp
}

// StatsWindowReport builds the presentation form of StatsWindow: rows
// sorted by descending on-CPU time with percentages, and the idle
// remainder across all CPUs.
func (a *Analyzer) StatsWindowReport(lo, hi trace.Timestamp) WindowReport {
	if hi < lo {
		lo, hi = hi, lo
	}
	var rep WindowReport
	delta := hi - lo
	if delta <= 0 {
		return rep
	}

	times := a.StatsWindow(lo, hi)
	total := delta * trace.Timestamp(a.Res.NrCPUs)
	accounted := trace.Timestamp(0)
	for pid, d := range times {
		name := ""
		if t, ok := a.Tasks[pid]; ok {
			name = t.Name
		}
		rep.Rows = append(rep.Rows, WindowRow{
			PID:   pid,
			Name:  name,
			OnCPU: d,
			Pct:   uint32(10000 * float64(d) / float64(delta)),
		})
		accounted += d
	}
	sort.Slice(rep.Rows, func(i, j int) bool {
		if rep.Rows[i].OnCPU != rep.Rows[j].OnCPU {
			return rep.Rows[i].OnCPU > rep.Rows[j].OnCPU
		}
		return rep.Rows[i].PID < rep.Rows[j].PID
	})
	rep.Idle = total - accounted
	if rep.Idle < 0 {
		rep.Idle = 0
	}
	return rep
}
