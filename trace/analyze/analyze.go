// Package analyze reconstructs scheduling state from a parsed trace:
// per-CPU run queues, per-task timelines, frequency and idle traces,
// migrations and latency lists. The output is the set of parallel
// arrays an interactive plotter consumes.
package analyze

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/yorickbrunet/traceshark/statefile"
	"github.com/yorickbrunet/traceshark/trace"
)

// Options configures an Analyzer.
type Options struct {
	// Logger receives warnings (state file problems, parse warning
	// summaries). Nil disables logging.
	Logger *zap.Logger
	// StateDir, when set, is where per-trace state files live instead
	// of next to the trace file.
	StateDir string
	// Progress is forwarded to the trace parser and also called during
	// the analysis pass.
	Progress func(float64)
	// Flavor forces the input dialect instead of probing.
	Flavor trace.Flavor
}

// Series is one step curve, x in seconds, y dimensionless (idle state)
// or Hz-ish (frequency in kHz as traced).
type Series struct {
	Timev []float64
	Data  []float64
}

// Migration is one sched_migrate_task marker.
type Migration struct {
	Ts      trace.Timestamp
	Idx     trace.EventID
	PID     int32
	OrigCPU uint16
	DestCPU uint16
}

// Analyzer owns everything derived from one trace file. It is the
// explicit context object: no package-level mutable state exists, and
// all operations hang off it. The zero value is not usable; call New.
type Analyzer struct {
	opts Options
	log  *zap.Logger

	// Result of the parse pass; nil before Open and after Close.
	Res *trace.Result

	Tasks  map[int32]*Task
	Ghosts []*Task
	// CPUTasks[cpu][pid]; one entry per (pid, cpu) pair that ever ran.
	CPUTasks []map[int32]*CPUTask
	CPUIdle  []Series
	CPUFreq  []Series

	SchedLatencies  []Latency
	WakeupLatencies []Latency
	Migrations      []Migration

	// FilteredEvents is the ascending index list produced by the
	// filter engine; nil when no filter is active.
	FilteredEvents []trace.EventID

	filters   filterState
	statePath string
	state     *statefile.State
}

// New creates an Analyzer. It holds no trace until Open is called.
func New(opts Options) *Analyzer {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Analyzer{opts: opts, log: log}
}

// Open ingests the trace at path: persisted state is read first, the
// file is parsed, and the analysis pass runs. Tasks are created with
// their default colors; the persisted colors and filters are applied
// once the analysis pass has finished. Any previously open trace is
// discarded.
func (a *Analyzer) Open(ctx context.Context, path string) error {
	a.reset()

	a.statePath = statefile.PathFor(path, a.opts.StateDir)
	st, err := statefile.Load(a.statePath)
	if err != nil {
		// Corrupt or unreadable state is non-fatal; defaults apply.
		a.log.Warn("state file ignored", zap.String("path", a.statePath), zap.Error(err))
		st = statefile.NewState()
	}
	a.state = st

	res, err := trace.ParseFile(ctx, path, trace.Options{
		Logger:   a.opts.Logger,
		Progress: a.opts.Progress,
		Flavor:   a.opts.Flavor,
	})
	if err != nil {
		return err
	}
	a.Res = res
	if err := a.process(ctx); err != nil {
		a.reset()
		return err
	}
	a.applyState()
	return nil
}

// Close writes back persisted state and releases every derived
// structure. Event indices and pool refs handed out earlier become
// invalid.
func (a *Analyzer) Close() error {
	var err error
	if a.state != nil && a.statePath != "" {
		a.collectState()
		if werr := a.state.Save(a.statePath); werr != nil {
			a.log.Warn("state file not written", zap.String("path", a.statePath), zap.Error(werr))
			err = werr
		}
	}
	a.reset()
	return err
}

func (a *Analyzer) reset() {
	a.Res = nil
	a.Tasks = nil
	a.Ghosts = nil
	a.CPUTasks = nil
	a.CPUIdle = nil
	a.CPUFreq = nil
	a.SchedLatencies = nil
	a.WakeupLatencies = nil
	a.Migrations = nil
	a.FilteredEvents = nil
	a.filters = filterState{}
	a.state = nil
	a.statePath = ""
}

// wakeRec remembers a pending wakeup: who woke when, and which event
// said so.
type wakeRec struct {
	ts  trace.Timestamp
	idx trace.EventID
}

// cpuState is the per-CPU reconstruction state. It exists only during
// process and is discarded afterwards.
type cpuState struct {
	curPID   int32
	curSince trace.Timestamp
	hasCur   bool
	// pendingWake maps PID to its latest unconsumed wakeup on this CPU.
	pendingWake map[int32]wakeRec
}

func (a *Analyzer) process(ctx context.Context) error {
	res := a.Res
	nr := res.NrCPUs
	if nr < 0 || nr > trace.MaxCPUs {
		return fmt.Errorf("analyze: internal error: %d CPUs after parsing", nr)
	}

	a.Tasks = make(map[int32]*Task)
	a.CPUTasks = make([]map[int32]*CPUTask, nr)
	for i := range a.CPUTasks {
		a.CPUTasks[i] = make(map[int32]*CPUTask)
	}
	a.CPUIdle = make([]Series, nr)
	a.CPUFreq = make([]Series, nr)

	cpus := make([]cpuState, nr)
	for i := range cpus {
		cpus[i] = cpuState{curPID: -1, pendingWake: make(map[int32]wakeRec)}
	}
	// Latest sched_waking per PID, for wakeup latencies.
	waking := make(map[int32]wakeRec)

	scratch := make([][]byte, 0, 16)
	for i := range res.Events {
		if i%65536 == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			if a.opts.Progress != nil && len(res.Events) > 0 {
				a.opts.Progress(float64(i) / float64(len(res.Events)))
			}
		}
		ev := &res.Events[i]
		id := trace.EventID(i)
		argv := res.Argv(ev, scratch)

		switch ev.Type {
		case trace.EvSchedSwitch:
			sw, ok := trace.ParseSchedSwitch(argv, res.Pool)
			if !ok {
				res.Stats.Unparsed++
				continue
			}
			a.schedSwitch(&cpus[ev.CPU], ev, id, sw)

		case trace.EvSchedWakeup, trace.EvSchedWakeupNew, trace.EvSchedWaking:
			w, ok := trace.ParseSchedWakeup(argv, res.Pool)
			if !ok {
				res.Stats.Unparsed++
				continue
			}
			if !w.HasPrio {
				res.Stats.PrioUnparsed++
			}
			a.touchTask(w.PID, w.Name)
			if ev.Type == trace.EvSchedWaking {
				waking[w.PID] = wakeRec{ts: ev.Ts, idx: id}
			} else {
				if prev, ok := waking[w.PID]; ok {
					a.WakeupLatencies = append(a.WakeupLatencies, Latency{
						Kind:        LatencyWakeup,
						PID:         w.PID,
						CPU:         w.CPU,
						RunnableIdx: prev.idx,
						SchedIdx:    id,
						Delay:       ev.Ts - prev.ts,
					})
					delete(waking, w.PID)
				}
			}
			if w.Success && int(w.CPU) < nr {
				cpus[w.CPU].pendingWake[w.PID] = wakeRec{ts: ev.Ts, idx: id}
			}

		case trace.EvSchedMigrateTask:
			m, ok := trace.ParseSchedMigrate(argv)
			if !ok {
				res.Stats.Unparsed++
				continue
			}
			a.Migrations = append(a.Migrations, Migration{
				Ts:      ev.Ts,
				Idx:     id,
				PID:     m.PID,
				OrigCPU: m.OrigCPU,
				DestCPU: m.DestCPU,
			})
			if int(m.OrigCPU) < nr && int(m.DestCPU) < nr {
				if w, ok := cpus[m.OrigCPU].pendingWake[m.PID]; ok {
					delete(cpus[m.OrigCPU].pendingWake, m.PID)
					cpus[m.DestCPU].pendingWake[m.PID] = w
				}
			}

		case trace.EvSchedProcessFork:
			f, ok := trace.ParseSchedFork(argv, res.Pool)
			if !ok {
				res.Stats.Unparsed++
				continue
			}
			a.forkTask(f, ev.Ts, id)

		case trace.EvSchedProcessExit:
			e, ok := trace.ParseSchedExit(argv)
			if !ok {
				res.Stats.Unparsed++
				continue
			}
			if t := a.touchTask(e.PID, ev.Name); t != nil {
				t.ExitIdx = id
			}

		case trace.EvCPUIdle:
			ci, ok := trace.ParseCPUIdle(argv)
			if !ok || int(ci.CPU) >= nr {
				res.Stats.Unparsed++
				continue
			}
			s := &a.CPUIdle[ci.CPU]
			s.Timev = append(s.Timev, ev.Ts.Seconds())
			s.Data = append(s.Data, float64(ci.State))

		case trace.EvCPUFrequency:
			cf, ok := trace.ParseCPUFreq(argv)
			if !ok || int(cf.CPU) >= nr {
				res.Stats.Unparsed++
				continue
			}
			s := &a.CPUFreq[cf.CPU]
			s.Timev = append(s.Timev, ev.Ts.Seconds())
			s.Data = append(s.Data, float64(cf.Freq))
		}
	}
	if a.opts.Progress != nil {
		a.opts.Progress(1)
	}
	return nil
}

// schedSwitch drives the core state machine: close the outgoing
// task's running interval with its sleep classification, open the
// incoming task's interval, and emit a scheduling latency if the
// incoming task had a pending wakeup on this CPU.
func (a *Analyzer) schedSwitch(st *cpuState, ev *trace.Event, id trace.EventID, sw trace.SchedSwitch) {
	now := ev.Ts

	a.touchTask(sw.OldPID, sw.OldName)
	a.touchTask(sw.NewPID, sw.NewName)

	old := a.cpuTask(sw.OldPID, ev.CPU)
	old.switchOut(now)
	switch {
	case sw.State == trace.TaskStateParserError:
		a.Res.Stats.UnknownStates++
	case sw.State.Preempted():
		old.addPreempted(now)
	case sw.State.Uninterruptible():
		old.addUninterruptible(now)
	case sw.State&trace.TaskStateRunnable != 0:
		old.addStillRunning(now)
	case sw.State.Dead():
		// X/Z means the task is gone. Close it here in case no
		// sched_process_exit event made it into the trace.
		if t := a.Tasks[sw.OldPID]; t.ExitIdx < 0 {
			t.ExitIdx = id
		}
	}

	next := a.cpuTask(sw.NewPID, ev.CPU)
	next.switchIn(now)

	if w, ok := st.pendingWake[sw.NewPID]; ok {
		delete(st.pendingWake, sw.NewPID)
		delay := now - w.ts
		a.SchedLatencies = append(a.SchedLatencies, Latency{
			Kind:        LatencySched,
			PID:         sw.NewPID,
			CPU:         ev.CPU,
			RunnableIdx: w.idx,
			SchedIdx:    id,
			Delay:       delay,
		})
		next.addDelay(w.ts, delay)
	}

	st.curPID = sw.NewPID
	st.curSince = now
	st.hasCur = true
}

// cpuTask returns the (pid, cpu) track, creating it on first use.
func (a *Analyzer) cpuTask(pid int32, cpu uint16) *CPUTask {
	m := a.CPUTasks[cpu]
	ct, ok := m[pid]
	if !ok {
		ct = &CPUTask{PID: pid, CPU: cpu}
		m[pid] = ct
	}
	return ct
}

// touchTask returns the task record for pid, creating it with name if
// needed. An empty name never overwrites a known one.
func (a *Analyzer) touchTask(pid int32, name trace.StringRef) *Task {
	t, ok := a.Tasks[pid]
	if !ok {
		t = &Task{
			PID:       pid,
			NameRef:   name,
			CreateIdx: -1,
			ExitIdx:   -1,
			Color:     DefaultColor(pid),
		}
		if name != trace.NullStringRef {
			t.Name = a.Res.Pool.String(name)
		}
		a.Tasks[pid] = t
		return t
	}
	if t.Name == "" && name != trace.NullStringRef {
		t.NameRef = name
		t.Name = a.Res.Pool.String(name)
	}
	return t
}

// forkTask creates the child task. A fork whose child PID already has
// a task record means the kernel recycled the number: the prior task
// is closed at the fork event if it is still live, and is kept as a
// ghost alias whether or not it had exited; the new task gets a
// generation suffix on its display name.
func (a *Analyzer) forkTask(f trace.SchedFork, ts trace.Timestamp, id trace.EventID) {
	a.touchTask(f.ParentPID, trace.NullStringRef)

	if prev, ok := a.Tasks[f.ChildPID]; ok {
		prev.Ghost = true
		if prev.ExitIdx < 0 {
			prev.ExitIdx = id
		}
		a.Ghosts = append(a.Ghosts, prev)
		gen := prev.Generation + 1
		nt := &Task{
			PID:        f.ChildPID,
			NameRef:    f.ChildName,
			Name:       fmt.Sprintf("%s-%d", a.Res.Pool.String(f.ChildName), gen),
			Generation: gen,
			CreateIdx:  id,
			ExitIdx:    -1,
			Color:      DefaultColor(f.ChildPID),
		}
		a.Tasks[f.ChildPID] = nt
		return
	}
	t := a.touchTask(f.ChildPID, f.ChildName)
	t.CreateIdx = id
}

// applyState overrides default task colors with persisted ones and
// re-applies the last filter set.
func (a *Analyzer) applyState() {
	for pid, c := range a.state.Colors {
		if t, ok := a.Tasks[pid]; ok {
			t.Color = Color{R: c.R, G: c.G, B: c.B}
		}
	}
	a.restoreFilters()
}

// collectState captures the current colors and filters for writing.
func (a *Analyzer) collectState() {
	for pid, t := range a.Tasks {
		if t.Color != DefaultColor(pid) {
			a.state.Colors[pid] = statefile.RGB{R: t.Color.R, G: t.Color.G, B: t.Color.B}
		}
	}
	a.storeFilters()
}

// StartTime returns the first event's timestamp.
func (a *Analyzer) StartTime() trace.Timestamp { return a.Res.StartTime }

// EndTime returns the last event's timestamp.
func (a *Analyzer) EndTime() trace.Timestamp { return a.Res.EndTime }

// NrCPUs returns the number of CPUs seen in the trace.
func (a *Analyzer) NrCPUs() int { return a.Res.NrCPUs }

// TimePrecision returns the number of fractional digits of the first
// timestamp.
func (a *Analyzer) TimePrecision() int { return a.Res.TimePrecision }
