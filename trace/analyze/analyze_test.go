package analyze

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yorickbrunet/traceshark/trace"
)

func openTrace(t *testing.T, content string) *Analyzer {
	t.Helper()
	path := filepath.Join(t.TempDir(), "trace.txt")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	a := New(Options{})
	require.NoError(t, a.Open(context.Background(), path))
	t.Cleanup(func() { a.Close() })
	return a
}

const schedSample = `# tracer: nop
waker-1 [000] .... 1.000000: sched_waking: comm=bash pid=42 prio=120 target_cpu=000
waker-1 [000] .... 1.000200: sched_wakeup: comm=bash pid=42 prio=120 target_cpu=000
swapper/0-0 [000] .... 1.500000: sched_switch: prev_comm=swapper/0 prev_pid=0 prev_prio=120 prev_state=R ==> next_comm=bash next_pid=42 next_prio=120
bash-42 [000] .... 2.000000: sched_switch: prev_comm=bash prev_pid=42 prev_prio=120 prev_state=S ==> next_comm=swapper/0 next_pid=0 next_prio=120
bash-42 [000] .... 2.100000: cpu_idle: state=1 cpu_id=0
bash-42 [000] .... 2.200000: cpu_idle: state=4294967295 cpu_id=0
bash-42 [000] .... 2.300000: cpu_frequency: state=1800000 cpu_id=0
`

func TestSchedLatencyDerivation(t *testing.T) {
	a := openTrace(t, schedSample)

	require.Len(t, a.SchedLatencies, 1)
	l := a.SchedLatencies[0]
	assert.Equal(t, LatencySched, l.Kind)
	assert.Equal(t, int32(42), l.PID)
	assert.Equal(t, uint16(0), l.CPU)
	assert.Equal(t, trace.EventID(1), l.RunnableIdx)
	assert.Equal(t, trace.EventID(2), l.SchedIdx)
	assert.InDelta(t, 0.4998, l.Delay.Seconds(), 1e-9)

	// The latency endpoints must agree with the event store.
	d := a.Res.Events[l.SchedIdx].Ts - a.Res.Events[l.RunnableIdx].Ts
	assert.Equal(t, l.Delay, d)
	assert.Equal(t, trace.EvSchedSwitch, a.Res.Events[l.SchedIdx].Type)
}

func TestWakeupLatencyDerivation(t *testing.T) {
	a := openTrace(t, schedSample)

	require.Len(t, a.WakeupLatencies, 1)
	l := a.WakeupLatencies[0]
	assert.Equal(t, LatencyWakeup, l.Kind)
	assert.Equal(t, int32(42), l.PID)
	assert.Equal(t, trace.EventID(0), l.RunnableIdx)
	assert.Equal(t, trace.EventID(1), l.SchedIdx)
	assert.InDelta(t, 0.0002, l.Delay.Seconds(), 1e-9)
}

func TestCPUTaskTimeline(t *testing.T) {
	a := openTrace(t, schedSample)

	ct := a.CPUTasks[0][42]
	require.NotNil(t, ct)
	require.Equal(t, []float64{1.5, 2.0}, ct.SchedTimev)
	assert.Equal(t, []float64{1.0, 0.0}, ct.SchedData)

	// One wakeup-to-schedule bar starting at the wakeup instant.
	require.Len(t, ct.Delay, 1)
	assert.InDelta(t, 1.0002, ct.DelayTimev[0], 1e-9)
	assert.InDelta(t, 0.4998, ct.Delay[0], 1e-9)
	assert.InDelta(t, 1.5, ct.DelayTimev[0]+ct.Delay[0], 1e-9)

	// Swapper was still runnable when it was switched out.
	sw := a.CPUTasks[0][0]
	require.NotNil(t, sw)
	assert.Len(t, sw.RunningTimev, 1)
	assert.Empty(t, sw.PreemptedTimev)
	assert.Empty(t, sw.UninterruptibleTimev)
}

func TestSleepClassification(t *testing.T) {
	a := openTrace(t, `
a-1 [000] 1.000000: sched_switch: prev_comm=a prev_pid=1 prev_prio=120 prev_state=R+ ==> next_comm=b next_pid=2 next_prio=120
b-2 [000] 2.000000: sched_switch: prev_comm=b prev_pid=2 prev_prio=120 prev_state=D ==> next_comm=c next_pid=3 next_prio=120
c-3 [000] 3.000000: sched_switch: prev_comm=c prev_pid=3 prev_prio=120 prev_state=Q ==> next_comm=a next_pid=1 next_prio=120
`)
	assert.Len(t, a.CPUTasks[0][1].PreemptedTimev, 1)
	assert.Len(t, a.CPUTasks[0][2].UninterruptibleTimev, 1)
	assert.Equal(t, 1, a.Res.Stats.UnknownStates)
}

func TestCPUIdleAndFrequencySeries(t *testing.T) {
	a := openTrace(t, schedSample)

	idle := a.CPUIdle[0]
	require.Equal(t, []float64{2.1, 2.2}, idle.Timev)
	assert.Equal(t, []float64{1, -1}, idle.Data)

	freq := a.CPUFreq[0]
	require.Equal(t, []float64{2.3}, freq.Timev)
	assert.Equal(t, []float64{1800000}, freq.Data)
}

func TestTaskMap(t *testing.T) {
	a := openTrace(t, schedSample)

	require.Contains(t, a.Tasks, int32(42))
	assert.Equal(t, "bash", a.Tasks[42].Name)
	assert.Equal(t, DefaultColor(42), a.Tasks[42].Color)
	require.Contains(t, a.Tasks, int32(0))
	assert.Equal(t, "swapper/0", a.Tasks[0].Name)
}

func TestMigrationTransfersPendingWakeup(t *testing.T) {
	a := openTrace(t, `
w-1 [000] .... 1.000000: sched_wakeup: comm=sleep pid=7 prio=120 target_cpu=000
m-2 [000] .... 1.100000: sched_migrate_task: comm=sleep pid=7 prio=120 orig_cpu=0 dest_cpu=1
swapper/1-0 [001] .... 1.300000: sched_switch: prev_comm=swapper/1 prev_pid=0 prev_prio=120 prev_state=R ==> next_comm=sleep next_pid=7 next_prio=120
`)
	require.Len(t, a.Migrations, 1)
	m := a.Migrations[0]
	assert.Equal(t, int32(7), m.PID)
	assert.Equal(t, uint16(0), m.OrigCPU)
	assert.Equal(t, uint16(1), m.DestCPU)

	require.Len(t, a.SchedLatencies, 1)
	l := a.SchedLatencies[0]
	assert.Equal(t, uint16(1), l.CPU)
	assert.Equal(t, trace.EventID(0), l.RunnableIdx)
	assert.InDelta(t, 0.3, l.Delay.Seconds(), 1e-9)
}

func TestGhostTaskOnPIDReuse(t *testing.T) {
	a := openTrace(t, `
p-1 [000] 1.000000: sched_process_fork: comm=p pid=1 child_comm=kid child_pid=77
p-1 [000] 2.000000: sched_process_exit: comm=kid pid=77 prio=120
p-1 [000] 3.000000: sched_process_fork: comm=p pid=1 child_comm=kid child_pid=77
`)
	require.Len(t, a.Ghosts, 1)
	ghost := a.Ghosts[0]
	assert.True(t, ghost.Ghost)
	assert.Equal(t, "kid", ghost.Name)
	assert.Equal(t, trace.EventID(1), ghost.ExitIdx)

	cur := a.Tasks[77]
	require.NotNil(t, cur)
	assert.Equal(t, "kid-1", cur.Name)
	assert.Equal(t, 1, cur.Generation)
	assert.Equal(t, trace.EventID(2), cur.CreateIdx)
}

func TestDeadSwitchOutClosesTask(t *testing.T) {
	a := openTrace(t, `
z-9 [000] 1.000000: sched_switch: prev_comm=z prev_pid=9 prev_prio=120 prev_state=Z ==> next_comm=swapper/0 next_pid=0 next_prio=120
`)
	// No sched_process_exit in the trace; the zombie switch-out closes
	// the task.
	require.Contains(t, a.Tasks, int32(9))
	assert.Equal(t, trace.EventID(0), a.Tasks[9].ExitIdx)
	// Dead tasks leave no sleep-reason scatter point.
	ct := a.CPUTasks[0][9]
	assert.Empty(t, ct.RunningTimev)
	assert.Empty(t, ct.PreemptedTimev)
	assert.Empty(t, ct.UninterruptibleTimev)
}

func TestValidateInvariants(t *testing.T) {
	a := openTrace(t, schedSample)
	assert.NoError(t, a.Validate())
}

func TestFindNextSchedSleepEvent(t *testing.T) {
	a := openTrace(t, schedSample)

	// bash goes to sleep at index 3 (prev_state=S).
	idx := a.FindNextSchedSleepEvent(0, 42)
	assert.Equal(t, trace.EventID(3), idx)

	// swapper never sleeps in this trace.
	assert.Equal(t, trace.EventID(-1), a.FindNextSchedSleepEvent(0, 0))

	// Starting past the event finds nothing.
	assert.Equal(t, trace.EventID(-1), a.FindNextSchedSleepEvent(trace.Timestamp(2_500_000_000), 42))
}

func TestFindPreviousWakEvent(t *testing.T) {
	a := openTrace(t, schedSample)

	idx := a.FindPreviousWakEvent(2, 42, trace.EvSchedWakeup)
	assert.Equal(t, trace.EventID(1), idx)
	idx = a.FindPreviousWakEvent(2, 42, trace.EvSchedWaking)
	assert.Equal(t, trace.EventID(0), idx)
	assert.Equal(t, trace.EventID(-1), a.FindPreviousWakEvent(2, 99, trace.EvSchedWakeup))
}

func TestCloseReleasesEverything(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.txt")
	require.NoError(t, os.WriteFile(path, []byte(schedSample), 0o644))
	a := New(Options{})
	require.NoError(t, a.Open(context.Background(), path))
	require.NoError(t, a.Close())
	assert.Nil(t, a.Res)
	assert.Nil(t, a.Tasks)
	assert.Nil(t, a.FilteredEvents)
}

func TestStateColorOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "trace.txt")
	require.NoError(t, os.WriteFile(path, []byte(schedSample), 0o644))
	require.NoError(t, os.WriteFile(path+".tsstate", []byte("color.42=FF0000\n"), 0o644))

	a := New(Options{})
	require.NoError(t, a.Open(context.Background(), path))
	defer a.Close()
	assert.Equal(t, Color{R: 0xFF}, a.Tasks[42].Color)
	assert.Equal(t, DefaultColor(0), a.Tasks[0].Color)
}

func TestStateFilterRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "trace.txt")
	require.NoError(t, os.WriteFile(path, []byte(schedSample), 0o644))

	a := New(Options{})
	require.NoError(t, a.Open(context.Background(), path))
	a.CreatePidFilter(newPidSet(42), false, true)
	require.NoError(t, a.Close())

	a2 := New(Options{})
	require.NoError(t, a2.Open(context.Background(), path))
	defer a2.Close()
	require.True(t, a2.FilterActive())
	for _, id := range a2.FilteredEvents {
		assert.Equal(t, int32(42), a2.Res.Events[id].PID)
	}
}

func TestCorruptStateIsNonFatal(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "trace.txt")
	require.NoError(t, os.WriteFile(path, []byte(schedSample), 0o644))
	require.NoError(t, os.WriteFile(path+".tsstate", []byte("\x00\xff garbage without structure"), 0o644))

	a := New(Options{})
	require.NoError(t, a.Open(context.Background(), path))
	defer a.Close()
	assert.Equal(t, DefaultColor(42), a.Tasks[42].Color)
}
