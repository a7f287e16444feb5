package analyze

import (
	"sort"

	"github.com/yorickbrunet/traceshark/trace"
)

// LatencyKind distinguishes the two latency lists.
type LatencyKind uint8

const (
	// LatencySched is the interval from a wakeup to the sched_switch
	// that put the task on a CPU.
	LatencySched LatencyKind = iota
	// LatencyWakeup is the interval from sched_waking to the matching
	// sched_wakeup for the same PID.
	LatencyWakeup
)

func (k LatencyKind) String() string {
	if k == LatencySched {
		return "sched"
	}
	return "wakeup"
}

// Latency is one derived latency sample. RunnableIdx and SchedIdx
// index the event store and identify the two endpoint events.
type Latency struct {
	Kind        LatencyKind
	PID         int32
	CPU         uint16
	RunnableIdx trace.EventID
	SchedIdx    trace.EventID
	Delay       trace.Timestamp
}

// searchTime returns the index of the first event with Ts >= t0.
func (a *Analyzer) searchTime(t0 trace.Timestamp) int {
	evs := a.Res.Events
	return sort.Search(len(evs), func(i int) bool {
		return evs[i].Ts >= t0
	})
}

// FindNextSchedSleepEvent returns the first event at time >= t0 that
// is a sched_switch scheduling pid out in a non-runnable state, or -1.
func (a *Analyzer) FindNextSchedSleepEvent(t0 trace.Timestamp, pid int32) trace.EventID {
	res := a.Res
	var scratch [][]byte
	for i := a.searchTime(t0); i < len(res.Events); i++ {
		ev := &res.Events[i]
		if ev.Type != trace.EvSchedSwitch {
			continue
		}
		sw, ok := trace.ParseSchedSwitch(res.Argv(ev, scratch), res.Pool)
		if !ok || sw.OldPID != pid {
			continue
		}
		if sw.State == trace.TaskStateParserError || sw.State.Runnable() {
			continue
		}
		return trace.EventID(i)
	}
	return -1
}

// FindPreviousWakEvent walks backward from schedIdx to the nearest
// wakeup-family event of the given type targeting pid, or -1.
func (a *Analyzer) FindPreviousWakEvent(schedIdx trace.EventID, pid int32, typ trace.EventType) trace.EventID {
	res := a.Res
	var scratch [][]byte
	for i := int(schedIdx) - 1; i >= 0; i-- {
		ev := &res.Events[i]
		if ev.Type != typ {
			continue
		}
		w, ok := trace.ParseSchedWakeup(res.Argv(ev, scratch), res.Pool)
		if !ok || w.PID != pid {
			continue
		}
		return trace.EventID(i)
	}
	return -1
}
