// Package chaos generates scripted and randomized site-failure scenarios
// for stress-testing the transaction manager's failure and recovery
// handling: sequences of fail/recover events interleaved across the
// logical clock, driven by a seeded random source so a run is
// reproducible.
package chaos

import (
	"fmt"
	"math/rand"
	"sort"

	"github.com/mnohosten/repcrec/pkg/command"
)

// FaultType identifies the kind of event a scenario can inject. The
// simulator has exactly one class of site-level fault: a site going
// down and, later, coming back up.
type FaultType int

const (
	FaultNone FaultType = iota
	FaultSiteDown
	FaultSiteUp
)

func (ft FaultType) String() string {
	switch ft {
	case FaultSiteDown:
		return "SiteDown"
	case FaultSiteUp:
		return "SiteUp"
	default:
		return "None"
	}
}

// FaultConfig configures how often a given site is knocked down and how
// long it stays down, in logical ticks.
type FaultConfig struct {
	Site            int
	Probability     float64 // chance per eligible tick that this site goes down
	MinDowntime     int64   // minimum ticks before a recover is scheduled
	MaxDowntime     int64   // maximum ticks before a recover is scheduled
}

// Event is one scheduled fault, tagged with the logical tick it fires at.
type Event struct {
	Tick int64
	Site int
	Type FaultType
}

// Command renders the event as the textual command the driver's input
// language expects.
func (e Event) Command() command.Command {
	switch e.Type {
	case FaultSiteDown:
		return command.Command{Kind: command.Fail, Site: e.Site}
	case FaultSiteUp:
		return command.Command{Kind: command.Recover, Site: e.Site}
	default:
		return command.Command{}
	}
}

// Line renders the event in the textual input language, e.g. "fail(3)".
func (e Event) Line() string {
	switch e.Type {
	case FaultSiteDown:
		return fmt.Sprintf("fail(%d)", e.Site)
	case FaultSiteUp:
		return fmt.Sprintf("recover(%d)", e.Site)
	default:
		return ""
	}
}

// Injector generates a deterministic schedule of site faults from a
// seeded random source, tracking each site's current up/down state so it
// never double-fails or double-recovers a site.
type Injector struct {
	rng     *rand.Rand
	faults  map[int]*FaultConfig
	siteUp  map[int]bool
	pending map[int]int64 // site -> tick a pending recover is scheduled
}

// NewInjector creates an Injector seeded deterministically by seed. A
// given seed always produces the same schedule.
func NewInjector(seed int64) *Injector {
	return &Injector{
		rng:     rand.New(rand.NewSource(seed)),
		faults:  make(map[int]*FaultConfig),
		siteUp:  make(map[int]bool),
		pending: make(map[int]int64),
	}
}

// Configure registers (or replaces) the fault configuration for one site.
func (inj *Injector) Configure(cfg FaultConfig) {
	inj.faults[cfg.Site] = &cfg
	if _, ok := inj.siteUp[cfg.Site]; !ok {
		inj.siteUp[cfg.Site] = true
	}
}

// Tick advances the schedule by one logical tick, returning any fault
// events that fire at this tick: a site configured for failure may go
// down (subject to its probability), and any site already down whose
// scheduled downtime has elapsed comes back up.
func (inj *Injector) Tick(now int64) []Event {
	var events []Event

	sites := make([]int, 0, len(inj.faults))
	for site := range inj.faults {
		sites = append(sites, site)
	}
	sort.Ints(sites)

	for _, site := range sites {
		if recoverAt, ok := inj.pending[site]; ok && now >= recoverAt {
			inj.siteUp[site] = true
			delete(inj.pending, site)
			events = append(events, Event{Tick: now, Site: site, Type: FaultSiteUp})
		}
	}

	for _, site := range sites {
		cfg := inj.faults[site]
		if !inj.siteUp[site] {
			continue
		}
		if _, alreadyPending := inj.pending[site]; alreadyPending {
			continue
		}
		if inj.rng.Float64() >= cfg.Probability {
			continue
		}
		inj.siteUp[site] = false
		downtime := cfg.MinDowntime
		if cfg.MaxDowntime > cfg.MinDowntime {
			downtime += inj.rng.Int63n(cfg.MaxDowntime - cfg.MinDowntime + 1)
		}
		inj.pending[site] = now + downtime
		events = append(events, Event{Tick: now, Site: site, Type: FaultSiteDown})
	}

	sort.SliceStable(events, func(i, j int) bool { return events[i].Site < events[j].Site })
	return events
}

// Schedule runs Tick from startTick through endTick inclusive and
// returns every event produced, in tick order.
func (inj *Injector) Schedule(startTick, endTick int64) []Event {
	var all []Event
	for t := startTick; t <= endTick; t++ {
		all = append(all, inj.Tick(t)...)
	}
	return all
}
