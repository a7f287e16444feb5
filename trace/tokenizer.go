package trace

import (
	"bytes"
)

// eventKinds resolves an event name to its family. Looking a []byte up
// via string conversion in a map key position does not allocate, so
// this is a single hash probe per line.
var eventKinds = map[string]EventType{
	"sched_switch":       EvSchedSwitch,
	"sched_wakeup":       EvSchedWakeup,
	"sched_wakeup_new":   EvSchedWakeupNew,
	"sched_waking":       EvSchedWaking,
	"sched_migrate_task": EvSchedMigrateTask,
	"sched_process_fork": EvSchedProcessFork,
	"sched_process_exit": EvSchedProcessExit,
	"cpu_idle":           EvCPUIdle,
	"cpu_frequency":      EvCPUFrequency,
}

// tokenizer splits raw lines into events. It reuses its scratch
// buffers between lines, so one tokenizer must not be shared across
// goroutines.
type tokenizer struct {
	pool *StringPool
	toks [][]byte // scratch: whitespace-split tokens of the current line
}

func newTokenizer(pool *StringPool) *tokenizer {
	return &tokenizer{pool: pool}
}

// split fills t.toks with the whitespace-delimited tokens of line.
func (t *tokenizer) split(line []byte) {
	t.toks = t.toks[:0]
	i := 0
	for i < len(line) {
		for i < len(line) && (line[i] == ' ' || line[i] == '\t') {
			i++
		}
		start := i
		for i < len(line) && line[i] != ' ' && line[i] != '\t' {
			i++
		}
		if i > start {
			t.toks = append(t.toks, line[start:i])
		}
	}
}

// tokenize parses one raw line into an event skeleton: header fields
// decoded, event family classified, arguments interned. The returned
// precision is that of the line's timestamp. ok=false means the line
// matched neither grammar and should be counted as unparsed.
func (t *tokenizer) tokenize(line []byte, flavor Flavor) (ev Event, precision int, ok bool) {
	t.split(line)
	toks := t.toks

	// Locate the timestamp: the first token of the form "123.456:"
	// whose successor ends in ':' (the event name). Everything before
	// belongs to the header, everything after is the argument vector.
	tsIdx := -1
	var ts Timestamp
	for i := 1; i < len(toks)-1; i++ {
		if v, prec, tok := parseTimestamp(toks[i]); tok {
			if last := toks[i+1]; len(last) >= 2 && last[len(last)-1] == ':' {
				ts, precision, tsIdx = v, prec, i
				break
			}
		}
	}
	if tsIdx < 0 {
		return Event{}, 0, false
	}

	// The nearest bracketed token before the timestamp is the CPU.
	// Tokens between it and the timestamp are the ftrace flag field,
	// which we do not consume.
	cpuIdx := -1
	var cpu uint64
	for i := tsIdx - 1; i >= 1; i-- {
		if v, bok := paramInsideBraces(toks[i]); bok {
			cpuIdx, cpu = i, v
			break
		}
	}
	if cpuIdx < 0 || cpu >= MaxCPUs {
		return Event{}, 0, false
	}

	name, pid, hok := t.header(toks[:cpuIdx], flavor)
	if !hok {
		return Event{}, 0, false
	}

	evName := toks[tsIdx+1]
	evName = evName[:len(evName)-1] // drop the ':'

	ev = Event{
		Ts:        ts,
		PID:       pid,
		Name:      t.pool.Intern(name),
		CPU:       uint16(cpu),
		Backtrace: -1,
	}
	kind, known := eventKinds[string(evName)]
	if !known {
		kind = EvOther
	}
	ev.Type = kind

	argv := toks[tsIdx+2:]
	if len(argv) > 0 {
		ev.Argv = make([]StringRef, len(argv))
		for i, a := range argv {
			ev.Argv[i] = t.pool.Intern(a)
		}
	}
	return ev, precision, true
}

// header decodes the leading TASK-PID (ftrace) or TASK PID (perf)
// tokens. Task names may contain spaces and dashes; the PID is always
// the digits after the last dash of the merged text, or a standalone
// trailing integer in the perf dialect.
func (t *tokenizer) header(toks [][]byte, flavor Flavor) (name []byte, pid int32, ok bool) {
	if len(toks) == 0 {
		return nil, 0, false
	}
	if flavor == FlavorPerf && len(toks) >= 2 {
		if v, iok := atoiBytes(toks[len(toks)-1]); iok && v >= 0 {
			nb := newNameBuf()
			mergeArgs(toks, 0, len(toks)-2, &nb, false)
			if n, nok := nb.bytes(); nok {
				return n, int32(v), true
			}
			return nil, 0, false
		}
	}

	// Fused TASK-PID.
	nb := newNameBuf()
	mergeArgs(toks, 0, len(toks)-2, &nb, false)
	last := toks[len(toks)-1]
	dash := bytes.LastIndexByte(last, '-')
	if dash < 0 {
		return nil, 0, false
	}
	v, iok := atoiBytes(last[dash+1:])
	if !iok || v < 0 {
		return nil, 0, false
	}
	if len(toks) > 1 {
		nb.pushSep()
	}
	nb.push(last[:dash])
	n, nok := nb.bytes()
	if !nok {
		return nil, 0, false
	}
	return n, int32(v), true
}
