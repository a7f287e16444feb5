package trace

import (
	"bytes"
)

// Decoded payloads for the event families the analyzer consumes. The
// parsers below work on raw argument tokens and tolerate the format
// drift between kernel versions and between perf/libtraceevent
// pairings; see the per-function comments for the variants.

const (
	arrowToken = "==>"

	freqStatePfix  = "state="
	freqCPUPfix    = "cpu_id="
	wakeCPUPfix    = "CPU:"
	wakeTCPUPfix   = "target_cpu="
	wakePIDPfix    = "pid="
	wakePrioPfix   = "prio="
	wakeSuccPfix   = "success="
	switchPrevPID  = "prev_pid="
	switchNextPID  = "next_pid="
	switchPrevComm = "prev_comm="
	switchNextComm = "next_comm="
	switchPrevSta  = "prev_state="
	migratePIDPfix = "pid="
	migratePrio    = "prio="
	migrateOrig    = "orig_cpu="
	migrateDest    = "dest_cpu="
	forkChildPID   = "child_pid="
	forkChildComm  = "child_comm="
	forkPIDPfix    = "pid="
	exitPIDPfix    = "pid="
)

// SchedSwitch is the payload of a sched_switch event.
type SchedSwitch struct {
	OldPID  int32
	NewPID  int32
	OldName StringRef
	NewName StringRef
	// State is the old task's state at switch-out time.
	// TaskStateParserError means the state string was unrecognized;
	// the event itself is still valid.
	State TaskState
}

// SchedWakeup is the shared payload of sched_wakeup, sched_wakeup_new
// and sched_waking.
type SchedWakeup struct {
	PID     int32
	CPU     uint16
	Name    StringRef
	Prio    uint32
	HasPrio bool
	Success bool
}

// SchedMigrate is the payload of sched_migrate_task.
type SchedMigrate struct {
	PID     int32
	Prio    uint32
	OrigCPU uint16
	DestCPU uint16
}

// SchedFork is the payload of sched_process_fork.
type SchedFork struct {
	ParentPID int32
	ChildPID  int32
	ChildName StringRef
}

// SchedExit is the payload of sched_process_exit.
type SchedExit struct {
	PID int32
}

// CPUFreq is the payload of cpu_frequency.
type CPUFreq struct {
	CPU  uint16
	Freq uint64
}

// CPUIdle is the payload of cpu_idle. State -1 marks leaving idle; the
// trace prints the value as unsigned, so it is reinterpreted here.
type CPUIdle struct {
	CPU   uint16
	State int32
}

// findArrow locates the "==>" separator of sched_switch and decides
// between the two historical formats:
//
//	regular: prev_comm=X prev_pid=N prev_prio=N prev_state=S ==> next_comm=Y next_pid=N next_prio=N
//	distro:  X:N [N] S ==> Y:N [N]
//
// The style is regular when a prev_pid= token appears before the
// arrow.
func findArrow(argv [][]byte) (idx int, distro bool, ok bool) {
	distro = true
	for i, tok := range argv {
		if bytes.Equal(tok, []byte(arrowToken)) {
			if i < 3 || len(argv)-i < 3 {
				return 0, false, false
			}
			return i, distro, true
		}
		if hasPrefix(tok, switchPrevPID) {
			distro = false
		}
	}
	return 0, false, false
}

// ParseSchedSwitch decodes a sched_switch argument vector. ok=false
// marks the whole line malformed. A line with an unrecognized state
// string parses with State set to TaskStateParserError.
func ParseSchedSwitch(argv [][]byte, pool *StringPool) (SchedSwitch, bool) {
	var sw SchedSwitch
	i, distro, ok := findArrow(argv)
	if !ok {
		return sw, false
	}
	argc := len(argv)

	if distro {
		oldpid, pok := intAfterChar(argv[i-3], ':')
		if !pok {
			return sw, false
		}
		newpid, pok := intAfterChar(argv[argc-2], ':')
		if !pok {
			return sw, false
		}
		sw.OldPID, sw.NewPID = int32(oldpid), int32(newpid)

		st := argv[i-1]
		if len(st) == 1 || len(st) == 2 {
			sw.State = parseTaskState(st)
		} else {
			sw.State = TaskStateParserError
		}

		// Old name: everything before the "name:pid" token, plus the
		// part of that token before the colon.
		nb := newNameBuf()
		mergeArgs(argv, 0, i-4, &nb, false)
		frag, fok := beforeChar(argv[i-3], ':').Get()
		if !fok {
			return sw, false
		}
		if i-4 >= 0 {
			nb.pushSep()
		}
		nb.push(frag)
		old, nok := nb.bytes()
		if !nok {
			return sw, false
		}
		sw.OldName = pool.Intern(old)

		nb = newNameBuf()
		mergeArgs(argv, i+1, argc-3, &nb, false)
		frag, fok = beforeChar(argv[argc-2], ':').Get()
		if !fok {
			return sw, false
		}
		if argc-3 >= i+1 {
			nb.pushSep()
		}
		nb.push(frag)
		nw, nok := nb.bytes()
		if !nok {
			return sw, false
		}
		sw.NewName = pool.Intern(nw)
		return sw, true
	}

	// Regular style. PIDs sit behind their prefixes; scan backwards
	// from the known positions to survive names containing spaces.
	oldpid, pok := int64(0), false
	for j := i - 1; j >= 0; j-- {
		if hasPrefix(argv[j], switchPrevPID) {
			oldpid, pok = intAfterChar(argv[j], '=')
			break
		}
	}
	if !pok {
		return sw, false
	}
	newpid, pok := int64(0), false
	for j := argc - 1; j > i; j-- {
		if hasPrefix(argv[j], switchNextPID) {
			newpid, pok = intAfterChar(argv[j], '=')
			break
		}
	}
	if !pok {
		return sw, false
	}
	sw.OldPID, sw.NewPID = int32(oldpid), int32(newpid)

	sw.State = TaskStateParserError
	for j := i - 1; j >= 0; j-- {
		if hasPrefix(argv[j], switchPrevSta) {
			if st, sok := afterChar(argv[j], '=').Get(); sok {
				sw.State = parseTaskState(st)
			}
			break
		}
	}

	// Names: the comm= fragment opens the name; tokens up to the next
	// key= argument belong to it (split off by the whitespace
	// tokenizer).
	nb := newNameBuf()
	frag, fok := afterChar(argv[0], '=').Get()
	if !fok || !hasPrefix(argv[0], switchPrevComm) {
		return sw, false
	}
	nb.push(frag)
	mergeArgs(argv, 1, i-4, &nb, true)
	old, nok := nb.bytes()
	if !nok {
		return sw, false
	}
	sw.OldName = pool.Intern(old)

	nb = newNameBuf()
	frag, fok = afterChar(argv[i+1], '=').Get()
	if !fok || !hasPrefix(argv[i+1], switchNextComm) {
		return sw, false
	}
	nb.push(frag)
	mergeArgs(argv, i+2, argc-3, &nb, true)
	nw, nok := nb.bytes()
	if !nok {
		return sw, false
	}
	sw.NewName = pool.Intern(nw)
	return sw, true
}

// ParseSchedWakeup decodes the argument vector shared by sched_wakeup,
// sched_wakeup_new and sched_waking. Three layouts are tolerated:
//
//	X:N [PRIO] CPU:N                               (libtraceevent)
//	X:N [PRIO]<CANT FIND FIELD success> CPU:N      (new perf, old libtraceevent)
//	comm=X pid=N prio=N [success=1] target_cpu=N   (classic)
//
// In the <CANT ...> case the priority cannot be recovered reliably;
// HasPrio is false and the caller counts a warning instead of
// guessing.
func ParseSchedWakeup(argv [][]byte, pool *StringPool) (SchedWakeup, bool) {
	var w SchedWakeup
	argc := len(argv)
	if argc < 3 {
		return w, false
	}
	last := argv[argc-1]
	w.Success = true

	switch {
	case hasPrefix(last, wakeCPUPfix):
		cpu, cok := uintAfterPrefix(last, wakeCPUPfix)
		if !cok || cpu >= MaxCPUs {
			return w, false
		}
		w.CPU = uint16(cpu)

		idx := 0
		for idx = argc - 2; idx >= 1; idx-- {
			if isParamInsideBracesOrCant(argv[idx]) {
				idx--
				break
			}
		}
		if idx < 0 {
			return w, false
		}
		pid, pok := intAfterChar(argv[idx], ':')
		if !pok {
			return w, false
		}
		w.PID = int32(pid)

		for j := argc - 2; j >= 1; j-- {
			if prio, ook := paramInsideBraces(argv[j]); ook {
				w.Prio, w.HasPrio = uint32(prio), true
				break
			}
			if isParamInsideBracesOrCant(argv[j]) {
				// "[prio]<CANT FIND FIELD success>": unsupported,
				// reported as a warning by the caller.
				break
			}
		}

		endidx := argc - 2
		for ; endidx > 0; endidx-- {
			if isParamInsideBracesOrCant(argv[endidx]) {
				break
			}
		}
		if endidx <= 0 {
			return w, false
		}
		endidx -= 2
		nb := newNameBuf()
		mergeArgs(argv, 0, endidx, &nb, false)
		frag, fok := beforeChar(argv[endidx+1], ':').Get()
		if !fok {
			return w, false
		}
		if endidx >= 0 {
			nb.pushSep()
		}
		nb.push(frag)
		name, nok := nb.bytes()
		if !nok {
			return w, false
		}
		w.Name = pool.Intern(name)

	case hasPrefix(last, wakeTCPUPfix):
		cpu, cok := uintAfterPrefix(last, wakeTCPUPfix)
		if !cok || cpu >= MaxCPUs {
			return w, false
		}
		w.CPU = uint16(cpu)

		pok := false
		for idx := argc - 3; idx >= 0; idx-- {
			if hasPrefix(argv[idx], wakePIDPfix) {
				var pid int64
				pid, pok = intAfterChar(argv[idx], '=')
				if pok {
					w.PID = int32(pid)
				}
				break
			}
		}
		if !pok {
			// Unexpected, but try the slot right before target_cpu.
			pid, ook := intAfterPrefix(argv[argc-2], wakePIDPfix)
			if !ook {
				return w, false
			}
			w.PID = int32(pid)
		}

		for j := argc - 2; j >= 1; j-- {
			if hasPrefix(argv[j], wakePrioPfix) {
				if prio, ook := uintAfterPrefix(argv[j], wakePrioPfix); ook {
					w.Prio, w.HasPrio = uint32(prio), true
				}
				break
			}
		}

		endidx := argc - 2
		for ; endidx > 0; endidx-- {
			if hasPrefix(argv[endidx], wakePIDPfix) {
				break
			}
		}
		if endidx <= 0 {
			return w, false
		}
		endidx--
		nb := newNameBuf()
		frag, fok := afterChar(argv[0], '=').Get()
		if !fok {
			return w, false
		}
		nb.push(frag)
		mergeArgs(argv, 1, endidx, &nb, true)
		name, nok := nb.bytes()
		if !nok {
			return w, false
		}
		w.Name = pool.Intern(name)

	default:
		return w, false
	}

	if ss := argv[argc-2]; hasPrefix(ss, wakeSuccPfix) {
		if v, vok := intAfterChar(ss, '='); vok {
			w.Success = v != 0
		}
	}
	return w, true
}

// ParseSchedMigrate decodes sched_migrate_task. The four trailing
// arguments are positional behind known prefixes; the leading comm=
// part is not needed and may be missing.
func ParseSchedMigrate(argv [][]byte) (SchedMigrate, bool) {
	var m SchedMigrate
	argc := len(argv)
	if argc < 4 {
		return m, false
	}
	pid, ok := intAfterPrefix(argv[argc-4], migratePIDPfix)
	if !ok {
		return m, false
	}
	prio, ok := uintAfterPrefix(argv[argc-3], migratePrio)
	if !ok {
		return m, false
	}
	orig, ok := uintAfterPrefix(argv[argc-2], migrateOrig)
	if !ok || orig >= MaxCPUs {
		return m, false
	}
	dest, ok := uintAfterPrefix(argv[argc-1], migrateDest)
	if !ok || dest >= MaxCPUs {
		return m, false
	}
	m.PID = int32(pid)
	m.Prio = uint32(prio)
	m.OrigCPU = uint16(orig)
	m.DestCPU = uint16(dest)
	return m, true
}

// ParseSchedFork decodes sched_process_fork. The child_pid= token is
// searched from the tail and the pid=/child_comm= pair from the head,
// which survives comm values containing the key strings.
func ParseSchedFork(argv [][]byte, pool *StringPool) (SchedFork, bool) {
	var f SchedFork
	argc := len(argv)
	if argc < 4 {
		return f, false
	}

	childpid, ok := intAfterPrefix(argv[argc-1], forkChildPID)
	if !ok {
		for i := argc - 2; i > 0; i-- {
			if hasPrefix(argv[i], forkChildPID) {
				childpid, ok = intAfterChar(argv[i], '=')
				break
			}
		}
		if !ok {
			return f, false
		}
	}
	f.ChildPID = int32(childpid)

	ok = false
	for i := 1; i < argc-1; i++ {
		if hasPrefix(argv[i], forkPIDPfix) && hasPrefix(argv[i+1], forkChildComm) {
			var ppid int64
			ppid, ok = intAfterChar(argv[i], '=')
			if ok {
				f.ParentPID = int32(ppid)
			}
			break
		}
	}
	if !ok {
		return f, false
	}

	// Child name: from the child_comm= fragment up to (not including)
	// the child_pid= token.
	ci := -1
	for i := 2; i <= argc-2; i++ {
		if hasPrefix(argv[i-1], forkPIDPfix) && hasPrefix(argv[i], forkChildComm) {
			ci = i
			break
		}
	}
	if ci < 0 {
		return f, false
	}
	nb := newNameBuf()
	frag, fok := afterChar(argv[ci], '=').Get()
	if !fok {
		return f, false
	}
	nb.push(frag)
	mergeArgs(argv, ci+1, argc-2, &nb, true)
	name, nok := nb.bytes()
	if !nok {
		return f, false
	}
	f.ChildName = pool.Intern(name)
	return f, true
}

// ParseSchedExit decodes sched_process_exit. The pid= argument
// normally sits second from last (before prio=), but a tail scan keeps
// us working when prio is absent.
func ParseSchedExit(argv [][]byte) (SchedExit, bool) {
	var e SchedExit
	argc := len(argv)
	if argc < 2 {
		return e, false
	}
	if pid, ok := intAfterPrefix(argv[argc-2], exitPIDPfix); ok {
		e.PID = int32(pid)
		return e, true
	}
	for i := argc - 1; i > 0; i-- {
		if hasPrefix(argv[i], exitPIDPfix) {
			if pid, ok := intAfterChar(argv[i], '='); ok {
				e.PID = int32(pid)
				return e, true
			}
		}
	}
	return e, false
}

// ParseCPUFreq decodes cpu_frequency: "state=FREQ cpu_id=CPU".
func ParseCPUFreq(argv [][]byte) (CPUFreq, bool) {
	var cf CPUFreq
	if len(argv) < 2 {
		return cf, false
	}
	freq, ok := uintAfterPrefix(argv[0], freqStatePfix)
	if !ok {
		return cf, false
	}
	cpu, ok := uintAfterPrefix(argv[1], freqCPUPfix)
	if !ok || cpu >= MaxCPUs {
		return cf, false
	}
	cf.Freq = freq
	cf.CPU = uint16(cpu)
	return cf, true
}

// ParseCPUIdle decodes cpu_idle: "state=STATE cpu_id=CPU". The state
// is printed as unsigned but is a signed value; 4294967295 is -1,
// leaving idle.
func ParseCPUIdle(argv [][]byte) (CPUIdle, bool) {
	var ci CPUIdle
	if len(argv) < 2 {
		return ci, false
	}
	ustate, ok := uintAfterPrefix(argv[0], freqStatePfix)
	if !ok {
		return ci, false
	}
	cpu, ok := uintAfterPrefix(argv[1], freqCPUPfix)
	if !ok || cpu >= MaxCPUs {
		return ci, false
	}
	ci.State = int32(uint32(ustate))
	ci.CPU = uint16(cpu)
	return ci, true
}

// Argv materializes an event's interned argument tokens as byte
// slices, for handing to the payload parsers. The scratch slice is
// reused when non-nil.
func (r *Result) Argv(ev *Event, scratch [][]byte) [][]byte {
	out := scratch[:0]
	for _, ref := range ev.Argv {
		out = append(out, r.Pool.Bytes(ref))
	}
	return out
}
