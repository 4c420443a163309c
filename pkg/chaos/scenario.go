package chaos

import (
	"fmt"
	"sort"
)

// Scenario is a named, fully-scripted timeline of fault events — built
// either by hand or by recording an Injector's schedule — paired with
// assertions to run against the system once the timeline has played out.
type Scenario struct {
	Name        string
	Description string
	Events      []Event
	Assertions  []Assertion
}

// Assertion checks one post-scenario property. Check receives nothing
// beyond closure state the caller captured when constructing it (e.g. a
// reference to the txnmgr.Manager under test).
type Assertion struct {
	Name  string
	Check func() error
}

// Result is the outcome of running a Scenario's assertions.
type Result struct {
	Scenario *Scenario
	Failures []string
}

// Success reports whether every assertion passed.
func (r *Result) Success() bool { return len(r.Failures) == 0 }

// Lines renders every event in the scenario, in tick order, as the
// textual commands the driver's input language expects — one fault per
// tick, which is how a hand-written input file would express it.
func (s *Scenario) Lines() []string {
	events := append([]Event(nil), s.Events...)
	sort.SliceStable(events, func(i, j int) bool { return events[i].Tick < events[j].Tick })
	out := make([]string, 0, len(events))
	for _, e := range events {
		out = append(out, e.Line())
	}
	return out
}

// Run executes every assertion and collects a Result; it never aborts
// early so every failing assertion is reported.
func (s *Scenario) Run() *Result {
	result := &Result{Scenario: s}
	for _, a := range s.Assertions {
		if err := a.Check(); err != nil {
			result.Failures = append(result.Failures, fmt.Sprintf("%s: %v", a.Name, err))
		}
	}
	return result
}

// Report renders a Result as a human-readable summary.
func (r *Result) Report() string {
	out := fmt.Sprintf("scenario %q: ", r.Scenario.Name)
	if r.Success() {
		return out + fmt.Sprintf("passed (%d assertions)\n", len(r.Scenario.Assertions))
	}
	out += fmt.Sprintf("FAILED (%d/%d assertions failed)\n", len(r.Failures), len(r.Scenario.Assertions))
	for _, f := range r.Failures {
		out += "  - " + f + "\n"
	}
	return out
}

// FromInjector builds a Scenario by running inj's schedule across
// [startTick, endTick] and capturing every event it produces.
func FromInjector(name, description string, inj *Injector, startTick, endTick int64) *Scenario {
	return &Scenario{
		Name:        name,
		Description: description,
		Events:      inj.Schedule(startTick, endTick),
	}
}

// SingleSiteFlap builds a scenario that fails one site at downTick and
// recovers it at upTick — the minimal repro for "does a transaction that
// visited a now-failed site get aborted, and does recovery correctly
// gate replicated reads behind readability".
func SingleSiteFlap(name string, site int, downTick, upTick int64) *Scenario {
	return &Scenario{
		Name:        name,
		Description: fmt.Sprintf("site %d down at tick %d, recovers at tick %d", site, downTick, upTick),
		Events: []Event{
			{Tick: downTick, Site: site, Type: FaultSiteDown},
			{Tick: upTick, Site: site, Type: FaultSiteUp},
		},
	}
}

// RollingFailures builds a scenario that fails every site in sites, in
// order, one tick apart starting at startTick, each recovering after
// downtime ticks — useful for exercising available-copies reads as the
// set of live replicas shrinks and then grows back.
func RollingFailures(name string, sites []int, startTick, downtime int64) *Scenario {
	var events []Event
	for i, site := range sites {
		down := startTick + int64(i)
		events = append(events,
			Event{Tick: down, Site: site, Type: FaultSiteDown},
			Event{Tick: down + downtime, Site: site, Type: FaultSiteUp},
		)
	}
	return &Scenario{
		Name:        name,
		Description: fmt.Sprintf("rolling failure across %d sites, %d ticks apart, %d tick downtime", len(sites), 1, downtime),
		Events:      events,
	}
}
