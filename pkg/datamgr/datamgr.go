// Package datamgr implements the per-site data manager: the component that
// owns one site's versioned store, lock table, and in-flight transaction
// bookkeeping, and exposes the read/write/commit/abort/fail/recover surface
// the transaction manager drives.
package datamgr

import (
	"errors"
	"fmt"

	"github.com/mnohosten/repcrec/pkg/locktable"
	"github.com/mnohosten/repcrec/pkg/mvstore"
)

// SiteCount and ItemCount are the simulator's fixed topology constants.
const (
	SiteCount = 10
	ItemCount = 20
)

// IsReplicated reports whether item is hosted on every site (even items)
// or on a single site (odd items).
func IsReplicated(item int) bool {
	return item%2 == 0
}

// HomeSite returns the single site that hosts a non-replicated item.
func HomeSite(item int) int {
	return 1 + item%10
}

// Hosts reports whether site hosts item, under the fixed placement rule.
func Hosts(site, item int) bool {
	return IsReplicated(item) || HomeSite(item) == site
}

// ErrUnsafeRead is an internal-invariant violation: the transaction manager
// asked a site to read an item its caller does not hold a lock for.
var ErrUnsafeRead = errors.New("datamgr: unsafe to read, no lock held")

// ErrUnsafeWrite is the write-side equivalent of ErrUnsafeRead.
var ErrUnsafeWrite = errors.New("datamgr: unsafe to write, no exclusive lock held")

// ErrUnhosted is returned by operations addressing an item this site does
// not host.
var ErrUnhosted = errors.New("datamgr: item not hosted at this site")

// ErrNotSafeToCommit reports that a transaction being committed still
// held a lock it also had a queued request for — an inconsistency worth
// diagnosing, but not a reason to refuse the commit: publish, release,
// and resolve still run, and the caller decides how loudly to report it.
var ErrNotSafeToCommit = errors.New("datamgr: transaction had a queued lock request alongside a lock it already held at commit time")

// Site is one site's data manager.
type Site struct {
	id         int
	up         bool
	lastUpTime mvstore.Tick

	store *mvstore.Store
	locks *locktable.Table

	readable map[int]bool
	modified map[int]map[int]bool // trans -> set of items modified on this site
}

// New creates a site's data manager, seeding every item it hosts with its
// initial value (10*item) at the sentinel commit tick.
func New(siteID int) *Site {
	s := &Site{
		id:         siteID,
		up:         true,
		lastUpTime: mvstore.InitialCommitTick,
		store:      mvstore.New(),
		locks:      locktable.New(),
		readable:   make(map[int]bool),
		modified:   make(map[int]map[int]bool),
	}
	for item := 1; item <= ItemCount; item++ {
		if Hosts(siteID, item) {
			s.store.Seed(item, item*10)
			s.readable[item] = true
		}
	}
	return s
}

// SiteID returns this site's id.
func (s *Site) SiteID() int { return s.id }

// IsUp reports whether the site is currently up.
func (s *Site) IsUp() bool { return s.up }

// LastUpTime returns the logical tick at which this site last came up
// (construction counts as coming up at the sentinel tick).
func (s *Site) LastUpTime() mvstore.Tick { return s.lastUpTime }

// Hosts reports whether this site hosts item.
func (s *Site) Hosts(item int) bool {
	return s.store.Hosts(item)
}

// GetReadLock attempts to grant trans a shared lock on item. It returns
// false immediately, without consulting the lock table, if the item is not
// currently readable (e.g. a replicated item on a site that has not yet
// seen a post-recovery commit).
func (s *Site) GetReadLock(trans, item int) bool {
	if !s.readable[item] {
		return false
	}
	return s.locks.Acquire(item, trans, locktable.Shared)
}

// GetWriteLock attempts to grant trans an exclusive lock on item.
func (s *Site) GetWriteLock(trans, item int) bool {
	return s.locks.Acquire(item, trans, locktable.Exclusive)
}

// Read returns the current working value of item on behalf of trans. The
// caller must already hold at least a shared lock; violating that is an
// internal-invariant error, not a normal failure mode.
func (s *Site) Read(trans, item int) (int, error) {
	if !s.readable[item] {
		return 0, fmt.Errorf("%w: x%d not readable at site %d", ErrUnhosted, item, s.id)
	}
	if !s.locks.AlreadyHolds(item, trans, locktable.Shared) {
		return 0, fmt.Errorf("%w: T%d on x%d at site %d", ErrUnsafeRead, trans, item, s.id)
	}
	value, ok := s.store.Working(item)
	if !ok {
		return 0, fmt.Errorf("%w: x%d", ErrUnhosted, item)
	}
	return value, nil
}

// Ronly serves a read-only transaction's snapshot read of item as of
// snapshotTick. ok is false when no eligible, sufficiently-recent version
// exists at this site (the caller should try another replica).
func (s *Site) Ronly(item int, snapshotTick mvstore.Tick) (value int, ok bool) {
	if !s.store.Hosts(item) {
		return 0, false
	}
	var minCommit *mvstore.Tick
	if IsReplicated(item) {
		lu := s.lastUpTime
		minCommit = &lu
	}
	return s.store.SnapshotAt(item, snapshotTick, minCommit)
}

// Write updates item's working copy to value on behalf of trans. The
// caller must already hold an exclusive lock.
func (s *Site) Write(trans, item, value int) error {
	if !s.locks.AlreadyHolds(item, trans, locktable.Exclusive) {
		return fmt.Errorf("%w: T%d on x%d at site %d", ErrUnsafeWrite, trans, item, s.id)
	}
	if err := s.store.SetWorking(item, value); err != nil {
		return err
	}
	if s.modified[trans] == nil {
		s.modified[trans] = make(map[int]bool)
	}
	s.modified[trans][item] = true
	return nil
}

// Commit publishes every item trans modified at this site as a new version
// at commitTick, marks those items readable, releases every lock trans
// holds, forgets the per-site transaction record, and resolves any queued
// requests that can now proceed. A non-nil return means a residue was
// found (see ResidueForTrans) — it is reported for diagnosis after the
// fact, never used to refuse the commit or skip cleanup.
func (s *Site) Commit(trans int, commitTick mvstore.Tick) error {
	residue := s.locks.ResidueForTrans(trans)

	for item := range s.modified[trans] {
		value, ok := s.store.Working(item)
		if !ok {
			return fmt.Errorf("%w: x%d", ErrUnhosted, item)
		}
		if err := s.store.CommitWrite(item, value, commitTick); err != nil {
			return err
		}
		s.readable[item] = true
	}

	s.locks.ReleaseAll(trans)
	delete(s.modified, trans)
	s.locks.TryResolve()

	if residue {
		return fmt.Errorf("%w: T%d at site %d", ErrNotSafeToCommit, trans, s.id)
	}
	return nil
}

// Abort restores the working copy of every item trans modified at this
// site back to the head committed version, releases every lock and queue
// entry trans holds, forgets the per-site transaction record, and resolves
// any queued requests that can now proceed.
func (s *Site) Abort(trans int) error {
	for item := range s.modified[trans] {
		if err := s.store.RestoreWorkingFromHead(item); err != nil {
			return err
		}
	}
	s.locks.ReleaseAll(trans)
	delete(s.modified, trans)
	s.locks.TryResolve()
	return nil
}

// Fail clears all of this site's volatile state — working copies,
// readable flags, lock table, and per-site transaction records — while
// preserving the versioned store.
func (s *Site) Fail() {
	s.up = false
	for _, item := range s.store.Items() {
		_ = s.store.ClearWorking(item)
	}
	s.readable = make(map[int]bool)
	s.modified = make(map[int]map[int]bool)
	s.locks.Reset()
}

// Recover brings the site back up at logical tick ts: working copies are
// reinitialized from the head version of every hosted item, and replicated
// items become non-readable until the next commit of a write to them;
// non-replicated items are immediately readable again.
func (s *Site) Recover(ts mvstore.Tick) {
	s.up = true
	s.lastUpTime = ts
	for _, item := range s.store.Items() {
		if head, ok := s.store.Current(item); ok {
			_ = s.store.SetWorking(item, head)
		}
		s.readable[item] = !IsReplicated(item)
	}
}

// WaitsForSubgraph returns this site's contribution to the global
// waits-for graph.
func (s *Site) WaitsForSubgraph() map[int]map[int]bool {
	return s.locks.WaitsForSubgraph()
}

// ReadableSnapshot returns a copy of the readable flag for every item this
// site hosts, for external read-only observers.
func (s *Site) ReadableSnapshot() map[int]bool {
	out := make(map[int]bool, len(s.readable))
	for item, ok := range s.readable {
		out[item] = ok
	}
	return out
}

// DumpItem returns the committed value of item at this site, or ok=false
// if this site does not host it.
func (s *Site) DumpItem(item int) (value int, ok bool) {
	return s.store.Current(item)
}

// DumpAll returns the committed value of every item this site hosts.
func (s *Site) DumpAll() map[int]int {
	out := make(map[int]int)
	for _, item := range s.store.Items() {
		if v, ok := s.store.Current(item); ok {
			out[item] = v
		}
	}
	return out
}
