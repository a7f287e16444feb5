package trace

// TaskState is the bitmask form of the one- or two-character
// prev_state field of sched_switch.
type TaskState uint32

const (
	TaskStateRunnable TaskState = 1 << iota
	TaskStateInterruptible
	TaskStateUninterruptible
	TaskStateStopped
	TaskStateTraced
	TaskStateExitDead
	TaskStateExitZombie
	TaskStateIdle
	// TaskStateFlagPreempt marks the "+" suffix: the task was still
	// runnable when it was switched out.
	TaskStateFlagPreempt

	// TaskStateParserError is the sentinel for state strings we do not
	// recognize. The enclosing logic records the event with an unknown
	// sleep reason and continues.
	TaskStateParserError
)

var taskStateChars = map[byte]TaskState{
	'R': TaskStateRunnable,
	'S': TaskStateInterruptible,
	'D': TaskStateUninterruptible,
	'T': TaskStateStopped,
	't': TaskStateTraced,
	'X': TaskStateExitDead,
	'Z': TaskStateExitZombie,
	'I': TaskStateIdle,
}

// parseTaskState maps a state string such as "S", "R+" or "D|K" to a
// bitmask. Only the leading state character and a trailing '+' are
// meaningful; pipe-joined kernel-internal flags after the first
// character are ignored, as perf itself prints them inconsistently
// across versions.
func parseTaskState(b []byte) TaskState {
	if len(b) == 0 {
		return TaskStateParserError
	}
	st, ok := taskStateChars[b[0]]
	if !ok {
		return TaskStateParserError
	}
	if b[len(b)-1] == '+' {
		st |= TaskStateFlagPreempt
	}
	return st
}

// Runnable reports whether the task was still runnable when switched
// out (plain R or preempted).
func (st TaskState) Runnable() bool {
	return st&(TaskStateRunnable|TaskStateFlagPreempt) != 0
}

// Uninterruptible reports D-state sleep.
func (st TaskState) Uninterruptible() bool {
	return st&TaskStateUninterruptible != 0
}

// Preempted reports the "+" suffix.
func (st TaskState) Preempted() bool {
	return st&TaskStateFlagPreempt != 0
}

// Dead reports task exit states.
func (st TaskState) Dead() bool {
	return st&(TaskStateExitDead|TaskStateExitZombie) != 0
}
