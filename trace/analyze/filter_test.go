package analyze

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yorickbrunet/traceshark/container"
	"github.com/yorickbrunet/traceshark/trace"
)

func newPidSet(pids ...int32) container.Set[int32] {
	return container.NewSet[int32](pids...)
}

// Five events with PIDs 1, 2, 3, 1, 2 on CPUs 0, 1, 0, 1, 0.
const filterSample = `a-1 [000] 1.000000: cpu_idle: state=1 cpu_id=0
b-2 [001] 1.000001: cpu_idle: state=1 cpu_id=1
c-3 [000] 1.000002: cpu_idle: state=1 cpu_id=0
a-1 [001] 1.000003: cpu_idle: state=1 cpu_id=1
b-2 [000] 1.000004: sched_waking: comm=sleep pid=9 prio=120 target_cpu=000
`

func TestPidFilterInclusive(t *testing.T) {
	a := openTrace(t, filterSample)

	a.CreatePidFilter(newPidSet(2), false, true)
	assert.Equal(t, []trace.EventID{1, 4}, a.FilteredEvents)

	a.DisableAllFilters()
	assert.Nil(t, a.FilteredEvents)
}

func TestPidFilterExclusive(t *testing.T) {
	a := openTrace(t, filterSample)
	a.CreatePidFilter(newPidSet(2), false, false)
	assert.Equal(t, []trace.EventID{0, 2, 3}, a.FilteredEvents)
}

func TestFilterIdempotence(t *testing.T) {
	a := openTrace(t, filterSample)

	a.CreatePidFilter(newPidSet(2), false, true)
	first := append([]trace.EventID(nil), a.FilteredEvents...)
	a.CreatePidFilter(newPidSet(2), false, true)
	assert.Equal(t, first, a.FilteredEvents)
}

func TestFilterCommutativity(t *testing.T) {
	a := openTrace(t, filterSample)

	a.CreatePidFilter(newPidSet(1, 2), false, true)
	a.CreateCPUFilter(container.NewSet[uint16](0), false)
	pidThenCPU := append([]trace.EventID(nil), a.FilteredEvents...)

	a.DisableAllFilters()
	a.CreateCPUFilter(container.NewSet[uint16](0), false)
	a.CreatePidFilter(newPidSet(1, 2), false, true)
	assert.Equal(t, pidThenCPU, a.FilteredEvents)
	assert.Equal(t, []trace.EventID{0, 4}, a.FilteredEvents)
}

func TestEventTypeFilter(t *testing.T) {
	a := openTrace(t, filterSample)
	a.CreateEventFilter(container.NewSet(trace.EvSchedWaking), false)
	assert.Equal(t, []trace.EventID{4}, a.FilteredEvents)
}

func TestRegexFilter(t *testing.T) {
	a := openTrace(t, filterSample)

	require.NoError(t, a.CreateRegexFilter([]string{`comm=sl\w+`}, false))
	assert.Equal(t, []trace.EventID{4}, a.FilteredEvents)
}

func TestRegexFilterBadPattern(t *testing.T) {
	a := openTrace(t, filterSample)

	err := a.CreateRegexFilter([]string{"("}, false)
	require.Error(t, err)
	// The predicate stays disabled; no filtering happened.
	assert.False(t, a.FilterActive())
	assert.Nil(t, a.FilteredEvents)
}

func TestFilterOrLogic(t *testing.T) {
	a := openTrace(t, filterSample)

	// PID 3 or CPU 1: events 1, 2, 3.
	a.CreatePidFilter(newPidSet(3), false, true)
	a.CreateCPUFilter(container.NewSet[uint16](1), true)
	assert.Equal(t, []trace.EventID{1, 2, 3}, a.FilteredEvents)
}

func TestDisableSingleFilter(t *testing.T) {
	a := openTrace(t, filterSample)

	a.CreatePidFilter(newPidSet(2), false, true)
	a.CreateCPUFilter(container.NewSet[uint16](0), false)
	assert.Equal(t, []trace.EventID{4}, a.FilteredEvents)

	a.DisableFilter(FilterCPU)
	assert.Equal(t, []trace.EventID{1, 4}, a.FilteredEvents)
	assert.True(t, a.FilterActive())
}

func TestFilteredEventsAscending(t *testing.T) {
	a := openTrace(t, filterSample)
	a.CreatePidFilter(newPidSet(1, 2, 3), false, true)
	require.NoError(t, a.Validate())
	assert.Len(t, a.FilteredEvents, 5)
}
