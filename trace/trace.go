// Package trace ingests textual kernel scheduling traces and turns them
// into a normalized in-memory event store.
//
// Two dialects are recognized: the ftrace text format written by the
// kernel's human-readable tracer, and the text output of the perf
// sampling profiler, which may follow each event line with an indented
// backtrace. Parsing is streaming and line oriented; malformed lines
// are counted and skipped, never fatal.
package trace

import (
	"fmt"
	"math"
	"strconv"

	"github.com/yorickbrunet/traceshark/mem"
)

// Timestamp is a trace time in nanoseconds. Trace files carry seconds
// with a fractional part; we parse the integer and fractional digits
// separately and never round-trip through a float, so timestamps that
// are equal in the file compare equal here.
type Timestamp int64

// Seconds converts to floating point for the plotter boundary.
func (ts Timestamp) Seconds() float64 {
	return float64(ts) / 1e9
}

func (ts Timestamp) String() string {
	sign := ""
	v := int64(ts)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%09d", sign, v/1_000_000_000, v%1_000_000_000)
}

// MaxCPUs bounds the per-CPU tables. Events naming a CPU at or above
// this are dropped as malformed.
const MaxCPUs = 256

// TasknameMaxLen is the longest task name we accept, in bytes. The
// kernel's TASK_COMM_LEN is also 16, counting the terminator, so kernel
// task names always fit. Reconstructed names longer than this fail the
// line.
const TasknameMaxLen = 16

// EventType tags one recognized event family.
type EventType uint8

const (
	EvNone EventType = iota

	EvSchedSwitch
	EvSchedWakeup
	EvSchedWakeupNew
	EvSchedWaking
	EvSchedMigrateTask
	EvSchedProcessFork
	EvSchedProcessExit
	EvCPUIdle
	EvCPUFrequency

	// EvOther covers event lines that tokenized fine but whose name is
	// not one we analyze. They stay in the store so filters and the
	// plotter can still show them.
	EvOther

	EvCount
)

// EventDescriptions maps event types to their trace names.
var EventDescriptions = [EvCount]struct {
	Name string
}{
	EvNone:             {""},
	EvSchedSwitch:      {"sched_switch"},
	EvSchedWakeup:      {"sched_wakeup"},
	EvSchedWakeupNew:   {"sched_wakeup_new"},
	EvSchedWaking:      {"sched_waking"},
	EvSchedMigrateTask: {"sched_migrate_task"},
	EvSchedProcessFork: {"sched_process_fork"},
	EvSchedProcessExit: {"sched_process_exit"},
	EvCPUIdle:          {"cpu_idle"},
	EvCPUFrequency:     {"cpu_frequency"},
	EvOther:            {"other"},
}

func (t EventType) String() string {
	if t < EvCount {
		return EventDescriptions[t].Name
	}
	return fmt.Sprintf("EventType(%d)", uint8(t))
}

// EventID indexes into the event store. IDs are stable across filter
// changes; only close/reopen invalidates them.
type EventID int32

// Event is one normalized trace line.
type Event struct {
	Ts   Timestamp
	PID  int32
	Name StringRef // reporting task's name, interned
	// Argv holds the interned tokens of the event's free-form argument
	// text. Each event has its own slice; events do not share one
	// argument arena.
	Argv []StringRef
	// Backtrace indexes Result.Backtraces, -1 when the event carried
	// none. Only the perf dialect produces backtraces.
	Backtrace int32
	CPU       uint16
	Type      EventType
}

// Flavor selects the input dialect.
type Flavor uint8

const (
	FlavorUnknown Flavor = iota
	FlavorFtrace
	FlavorPerf
)

func (f Flavor) String() string {
	switch f {
	case FlavorFtrace:
		return "ftrace"
	case FlavorPerf:
		return "perf"
	default:
		return "unknown"
	}
}

// Stats counts what happened during one ingestion pass.
type Stats struct {
	Lines         int // lines read, including comments and blanks
	Events        int // events appended to the store
	Unparsed      int // lines that matched no grammar or failed payload decoding
	UnknownStates int // sched_switch prev_state values we couldn't map
	PrioUnparsed  int // wakeup prio fields we refused to guess
}

// Result is the output of Parse: the append-only event store plus
// everything the analyzer needs alongside it.
type Result struct {
	Events []Event
	Pool   *StringPool
	// Backtraces holds the interned continuation lines of perf events,
	// indexed by Event.Backtrace. A bucketed slice keeps entries
	// stable while backtrace lines trickle in during the scan.
	Backtraces mem.BucketSlice[Backtrace]

	Flavor        Flavor
	StartTime     Timestamp
	EndTime       Timestamp
	NrCPUs        int
	TimePrecision int
	Stats         Stats
}

// Backtrace is the sequence of interned continuation lines that
// followed one event line.
type Backtrace []StringRef

// Str resolves an interned reference against the result's pool.
func (r *Result) Str(ref StringRef) string {
	return r.Pool.String(ref)
}

// Backtrace returns the backtrace attached to ev, nil when it carried
// none.
func (r *Result) Backtrace(ev *Event) Backtrace {
	if ev.Backtrace < 0 {
		return nil
	}
	return r.Backtraces.Get(int(ev.Backtrace))
}

// ArgString joins an event's argument tokens with single spaces,
// reconstructing the free-form argument text.
func (r *Result) ArgString(ev *Event) string {
	n := 0
	for _, ref := range ev.Argv {
		n += len(r.Pool.Bytes(ref)) + 1
	}
	if n == 0 {
		return ""
	}
	buf := make([]byte, 0, n-1)
	for i, ref := range ev.Argv {
		if i > 0 {
			buf = append(buf, ' ')
		}
		buf = append(buf, r.Pool.Bytes(ref)...)
	}
	return string(buf)
}

// parseTimestamp parses the "SECONDS[.FRACTION]:" form used in both
// dialects. The terminating colon is required; trailing junk fails.
// The integer and fractional parts are accumulated separately so no
// precision is lost to binary floating point. Returns the value, the
// number of fractional digits seen, and ok.
func parseTimestamp(b []byte) (ts Timestamp, precision int, ok bool) {
	i := 0
	neg := false
	if i < len(b) && b[i] == '-' {
		neg = true
		i++
	}
	start := i
	var sec uint64
	for ; i < len(b) && b[i] >= '0' && b[i] <= '9'; i++ {
		sec = sec*10 + uint64(b[i]-'0')
		if sec > math.MaxInt64/1_000_000_000 {
			return 0, 0, false
		}
	}
	if i == start {
		return 0, 0, false
	}
	var frac uint64
	if i < len(b) && b[i] == '.' {
		i++
		fs := i
		for ; i < len(b) && b[i] >= '0' && b[i] <= '9'; i++ {
			if precision < 9 {
				frac = frac*10 + uint64(b[i]-'0')
				precision++
			}
			// Digits beyond nanosecond resolution are consumed and
			// dropped.
		}
		if i == fs {
			return 0, 0, false
		}
	}
	if i >= len(b) || b[i] != ':' || i+1 != len(b) {
		return 0, 0, false
	}
	for p := precision; p < 9; p++ {
		frac *= 10
	}
	v := int64(sec)*1_000_000_000 + int64(frac)
	if neg {
		v = -v
	}
	return Timestamp(v), precision, true
}

// ParseTimestamp is the exported form of parseTimestamp, used by tests.
// It accepts exactly "[-]DIGITS[.DIGITS]:".
func ParseTimestamp(s string) (Timestamp, int, bool) {
	return parseTimestamp([]byte(s))
}

// atoiBytes parses a decimal integer out of b, with optional leading
// minus. Fails on empty input or any non-digit.
func atoiBytes(b []byte) (int64, bool) {
	if len(b) == 0 {
		return 0, false
	}
	v, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// atouBytes parses an unsigned decimal integer out of b.
func atouBytes(b []byte) (uint64, bool) {
	if len(b) == 0 {
		return 0, false
	}
	v, err := strconv.ParseUint(string(b), 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
