package analyze

import (
	"fmt"

	"github.com/yorickbrunet/traceshark/trace"
)

// Validate checks the structural invariants of the derived data. It is
// meant for tests and debugging; a violation is a bug in the analysis
// pass, not in the input.
func (a *Analyzer) Validate() error {
	res := a.Res
	for i := range res.Events {
		ts := res.Events[i].Ts
		if ts < res.StartTime || ts > res.EndTime {
			return fmt.Errorf("event %d time %v outside [%v, %v]", i, ts, res.StartTime, res.EndTime)
		}
	}

	lo, hi := res.StartTime.Seconds(), res.EndTime.Seconds()
	for cpu, m := range a.CPUTasks {
		for pid, ct := range m {
			if len(ct.SchedTimev) != len(ct.SchedData) {
				return fmt.Errorf("cpu %d pid %d: sched vectors of unequal length", cpu, pid)
			}
			for i := range ct.SchedTimev {
				if i > 0 {
					if ct.SchedTimev[i] < ct.SchedTimev[i-1] {
						return fmt.Errorf("cpu %d pid %d: schedTimev decreases at %d", cpu, pid, i)
					}
					if ct.SchedData[i] == ct.SchedData[i-1] {
						return fmt.Errorf("cpu %d pid %d: schedData does not alternate at %d", cpu, pid, i)
					}
				}
				if v := ct.SchedData[i]; v != schedLevelOff && v != schedLevelOn {
					return fmt.Errorf("cpu %d pid %d: schedData level %v", cpu, pid, v)
				}
				if t := ct.SchedTimev[i]; t < lo || t > hi {
					return fmt.Errorf("cpu %d pid %d: sample %v outside trace bounds", cpu, pid, t)
				}
			}
			for i := range ct.Delay {
				if ct.Delay[i] < 0 {
					return fmt.Errorf("cpu %d pid %d: negative delay at %d", cpu, pid, i)
				}
			}
		}
	}

	check := func(list []Latency, kind LatencyKind) error {
		for i, l := range list {
			if l.Kind != kind {
				return fmt.Errorf("latency %d: kind %v in %v list", i, l.Kind, kind)
			}
			if l.Delay < 0 {
				return fmt.Errorf("latency %d: negative delay", i)
			}
			if l.RunnableIdx < 0 || int(l.RunnableIdx) >= len(res.Events) ||
				l.SchedIdx < 0 || int(l.SchedIdx) >= len(res.Events) {
				return fmt.Errorf("latency %d: index out of range", i)
			}
			d := res.Events[l.SchedIdx].Ts - res.Events[l.RunnableIdx].Ts
			if d != l.Delay {
				return fmt.Errorf("latency %d: delay %v but endpoints span %v", i, l.Delay, d)
			}
			if kind == LatencySched && res.Events[l.SchedIdx].Type != trace.EvSchedSwitch {
				return fmt.Errorf("latency %d: sched endpoint is %v", i, res.Events[l.SchedIdx].Type)
			}
		}
		return nil
	}
	if err := check(a.SchedLatencies, LatencySched); err != nil {
		return err
	}
	if err := check(a.WakeupLatencies, LatencyWakeup); err != nil {
		return err
	}

	for i := 1; i < len(a.FilteredEvents); i++ {
		if a.FilteredEvents[i] <= a.FilteredEvents[i-1] {
			return fmt.Errorf("filteredEvents not strictly ascending at %d", i)
		}
	}
	return nil
}
