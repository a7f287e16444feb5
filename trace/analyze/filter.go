package analyze

import (
	"fmt"
	"regexp"

	"go.uber.org/zap"
	"golang.org/x/exp/slices"

	"github.com/yorickbrunet/traceshark/container"
	"github.com/yorickbrunet/traceshark/trace"
)

// FilterKind names one stackable predicate. Predicates combine in
// declaration order; each carries its own and/or flag.
type FilterKind uint8

const (
	FilterPID FilterKind = iota
	FilterCPU
	FilterEventType
	FilterRegex

	filterKindCount
)

type predicate struct {
	enabled bool
	orLogic bool
}

type filterState struct {
	preds [filterKindCount]predicate

	pids         container.Set[int32]
	pidInclusive bool
	cpus         container.Set[uint16]
	types        container.Set[trace.EventType]
	regexes      []*regexp.Regexp
	patterns     []string
}

// CreatePidFilter enables the PID predicate. With inclusive=false the
// listed PIDs are filtered out instead of kept.
func (a *Analyzer) CreatePidFilter(pids container.Set[int32], orLogic, inclusive bool) {
	a.filters.pids = pids
	a.filters.pidInclusive = inclusive
	a.filters.preds[FilterPID] = predicate{enabled: true, orLogic: orLogic}
	a.rebuildFilter()
}

// CreateCPUFilter enables the CPU predicate.
func (a *Analyzer) CreateCPUFilter(cpus container.Set[uint16], orLogic bool) {
	a.filters.cpus = cpus
	a.filters.preds[FilterCPU] = predicate{enabled: true, orLogic: orLogic}
	a.rebuildFilter()
}

// CreateEventFilter enables the event-type predicate.
func (a *Analyzer) CreateEventFilter(types container.Set[trace.EventType], orLogic bool) {
	a.filters.types = types
	a.filters.preds[FilterEventType] = predicate{enabled: true, orLogic: orLogic}
	a.rebuildFilter()
}

// CreateRegexFilter compiles patterns and enables the regex predicate.
// Any compile failure leaves the predicate disabled and untouched.
func (a *Analyzer) CreateRegexFilter(patterns []string, orLogic bool) error {
	res := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return fmt.Errorf("analyze: bad filter regex %q: %w", p, err)
		}
		res = append(res, re)
	}
	a.filters.regexes = res
	a.filters.patterns = slices.Clone(patterns)
	a.filters.preds[FilterRegex] = predicate{enabled: true, orLogic: orLogic}
	a.rebuildFilter()
	return nil
}

// DisableFilter clears one predicate and rebuilds.
func (a *Analyzer) DisableFilter(kind FilterKind) {
	a.filters.preds[kind] = predicate{}
	a.rebuildFilter()
}

// DisableAllFilters clears every predicate and drops the index vector.
func (a *Analyzer) DisableAllFilters() {
	a.filters = filterState{}
	a.FilteredEvents = nil
}

// FilterActive reports whether any predicate is enabled.
func (a *Analyzer) FilterActive() bool {
	for _, p := range a.filters.preds {
		if p.enabled {
			return true
		}
	}
	return false
}

// rebuildFilter recomputes FilteredEvents in one linear pass over the
// event store. The store itself is never mutated, so indices stay
// stable across filter changes.
func (a *Analyzer) rebuildFilter() {
	if !a.FilterActive() {
		a.FilteredEvents = nil
		return
	}
	out := a.FilteredEvents[:0]
	for i := range a.Res.Events {
		if a.matchEvent(&a.Res.Events[i]) {
			out = append(out, trace.EventID(i))
		}
	}
	a.FilteredEvents = out
}

func (a *Analyzer) matchEvent(ev *trace.Event) bool {
	f := &a.filters
	first := true
	result := false

	combine := func(kind FilterKind, m bool) {
		if first {
			result = m
			first = false
		} else if f.preds[kind].orLogic {
			result = result || m
		} else {
			result = result && m
		}
	}

	if f.preds[FilterPID].enabled {
		m := f.pids.Has(ev.PID)
		if !f.pidInclusive {
			m = !m
		}
		combine(FilterPID, m)
	}
	if f.preds[FilterCPU].enabled {
		combine(FilterCPU, f.cpus.Has(ev.CPU))
	}
	if f.preds[FilterEventType].enabled {
		combine(FilterEventType, f.types.Has(ev.Type))
	}
	if f.preds[FilterRegex].enabled {
		args := a.Res.ArgString(ev)
		m := false
		for _, re := range f.regexes {
			if re.MatchString(args) {
				m = true
				break
			}
		}
		combine(FilterRegex, m)
	}
	return result
}

// restoreFilters re-applies the filter parameters persisted with the
// trace. Broken persisted regexes are dropped with a warning.
func (a *Analyzer) restoreFilters() {
	st := a.state
	if len(st.FilterPIDs) > 0 {
		pids := container.NewSet[int32](st.FilterPIDs...)
		a.CreatePidFilter(pids, false, st.FilterPIDInclusive)
	}
	if len(st.FilterCPUs) > 0 {
		a.CreateCPUFilter(container.NewSet[uint16](st.FilterCPUs...), false)
	}
	if len(st.FilterEvents) > 0 {
		types := container.NewSet[trace.EventType]()
		for _, name := range st.FilterEvents {
			for t := trace.EventType(0); t < trace.EvCount; t++ {
				if trace.EventDescriptions[t].Name == name {
					types.Add(t)
				}
			}
		}
		if len(types) > 0 {
			a.CreateEventFilter(types, false)
		}
	}
	if len(st.FilterRegexes) > 0 {
		if err := a.CreateRegexFilter(st.FilterRegexes, false); err != nil {
			a.log.Warn("persisted regex filter dropped", zap.Error(err))
		}
	}
}

// storeFilters captures the active filter parameters into the state.
func (a *Analyzer) storeFilters() {
	st := a.state
	st.FilterPIDs = nil
	st.FilterCPUs = nil
	st.FilterEvents = nil
	st.FilterRegexes = nil

	f := &a.filters
	if f.preds[FilterPID].enabled {
		for pid := range f.pids {
			st.FilterPIDs = append(st.FilterPIDs, pid)
		}
		slices.Sort(st.FilterPIDs)
		st.FilterPIDInclusive = f.pidInclusive
	}
	if f.preds[FilterCPU].enabled {
		for cpu := range f.cpus {
			st.FilterCPUs = append(st.FilterCPUs, cpu)
		}
		slices.Sort(st.FilterCPUs)
	}
	if f.preds[FilterEventType].enabled {
		for t := range f.types {
			st.FilterEvents = append(st.FilterEvents, trace.EventDescriptions[t].Name)
		}
		slices.Sort(st.FilterEvents)
	}
	if f.preds[FilterRegex].enabled {
		st.FilterRegexes = slices.Clone(f.patterns)
	}
}
