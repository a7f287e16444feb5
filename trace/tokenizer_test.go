package trace

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tokenizeLine(t *testing.T, line string, flavor Flavor) (Event, int, *StringPool, bool) {
	t.Helper()
	pool := NewStringPool()
	tok := newTokenizer(pool)
	ev, prec, ok := tok.tokenize([]byte(line), flavor)
	return ev, prec, pool, ok
}

func TestTokenizeFtrace(t *testing.T) {
	line := "kworker/0:1-5 [000] .... 10.000001: sched_switch: prev_comm=kworker/0:1 prev_pid=5 prev_prio=120 prev_state=S ==> next_comm=bash next_pid=42 next_prio=120"
	ev, prec, pool, ok := tokenizeLine(t, line, FlavorFtrace)
	require.True(t, ok)
	assert.Equal(t, EvSchedSwitch, ev.Type)
	assert.Equal(t, uint16(0), ev.CPU)
	assert.Equal(t, int32(5), ev.PID)
	assert.Equal(t, "kworker/0:1", pool.String(ev.Name))
	assert.Equal(t, Timestamp(10_000_001_000), ev.Ts)
	assert.GreaterOrEqual(t, prec, 6)
	assert.Equal(t, 8, len(ev.Argv))
	assert.Equal(t, "prev_comm=kworker/0:1", pool.String(ev.Argv[0]))
	assert.Equal(t, "next_prio=120", pool.String(ev.Argv[7]))
}

func TestTokenizeFtraceNoFlags(t *testing.T) {
	line := "bash-42 [003] 1.500000: cpu_idle: state=1 cpu_id=3"
	ev, _, _, ok := tokenizeLine(t, line, FlavorFtrace)
	require.True(t, ok)
	assert.Equal(t, EvCPUIdle, ev.Type)
	assert.Equal(t, uint16(3), ev.CPU)
	assert.Equal(t, int32(42), ev.PID)
}

func TestTokenizePerfSeparatePID(t *testing.T) {
	line := "bash 42 [002] 123.456789: sched_waking: comm=sleep pid=7 prio=120 target_cpu=002"
	ev, prec, pool, ok := tokenizeLine(t, line, FlavorPerf)
	require.True(t, ok)
	assert.Equal(t, EvSchedWaking, ev.Type)
	assert.Equal(t, int32(42), ev.PID)
	assert.Equal(t, "bash", pool.String(ev.Name))
	assert.Equal(t, uint16(2), ev.CPU)
	assert.Equal(t, 6, prec)
}

func TestTokenizePerfFusedPID(t *testing.T) {
	line := "bash-42 [002] 123.456789: sched_wakeup: sleep:7 [120] CPU:2"
	ev, _, pool, ok := tokenizeLine(t, line, FlavorPerf)
	require.True(t, ok)
	assert.Equal(t, int32(42), ev.PID)
	assert.Equal(t, "bash", pool.String(ev.Name))
}

func TestTokenizeNameWithSpaces(t *testing.T) {
	line := "Web Content-1234 [001] 2.000000: sched_process_exit: comm=Web Content pid=1234 prio=120"
	ev, _, pool, ok := tokenizeLine(t, line, FlavorFtrace)
	require.True(t, ok)
	assert.Equal(t, int32(1234), ev.PID)
	assert.Equal(t, "Web Content", pool.String(ev.Name))
}

func TestTokenizeUnknownEventIsOther(t *testing.T) {
	line := "bash-42 [000] 1.000000: irq_handler_entry: irq=30 name=i8042"
	ev, _, _, ok := tokenizeLine(t, line, FlavorFtrace)
	require.True(t, ok)
	assert.Equal(t, EvOther, ev.Type)
}

func TestTokenizeRejects(t *testing.T) {
	bad := []string{
		"",
		"just some words",
		"bash-42 1.000000: sched_switch: a b",           // no CPU field
		"bash-42 [000] 1.000000 sched_switch: a b",      // timestamp lacks colon
		"bash-42 [999] 1.000000: sched_switch: a b",     // CPU out of range
		"averyveryverylongtaskname-42 [000] 1.0: ev: x", // name over the limit
		"bash [000] 1.000000: sched_switch: a b",        // no PID at all
	}
	for _, line := range bad {
		_, _, _, ok := tokenizeLine(t, line, FlavorFtrace)
		assert.False(t, ok, "line %q", line)
	}
}
