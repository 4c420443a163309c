// Package txnmgr implements the transaction manager: the single
// coordinator that owns the logical clock, the transaction table, the
// pending operation queue, and global deadlock detection, and that drives
// every site's data manager through the read/write/commit/abort surface.
package txnmgr

import (
	"container/list"
	"fmt"
	"sort"
	"sync"

	"github.com/mnohosten/repcrec/pkg/command"
	"github.com/mnohosten/repcrec/pkg/datamgr"
	"github.com/mnohosten/repcrec/pkg/events"
	"github.com/mnohosten/repcrec/pkg/mvstore"
)

// ErrUnknownTransaction is an input error: a command referenced a
// transaction id the manager has no record of.
var ErrUnknownTransaction = fmt.Errorf("txnmgr: unknown transaction")

// ErrDuplicateTransaction is an input error: begin/beginRO named an id
// already in the transaction table.
var ErrDuplicateTransaction = fmt.Errorf("txnmgr: duplicate transaction id")

// InvariantError reports an internal-invariant violation: a lock was
// granted but the subsequent operation it was meant to protect failed
// anyway. This should be unreachable in a correct implementation; it
// exists so a violation surfaces loudly instead of silently corrupting
// state.
type InvariantError struct {
	Op  string
	Err error
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("txnmgr: invariant violated during %s: %v", e.Op, e.Err)
}

func (e *InvariantError) Unwrap() error { return e.Err }

type opKind int

const (
	opRead opKind = iota
	opWrite
	opRonly
)

type op struct {
	id    int
	kind  opKind
	trans int
	item  int
	value int
}

type transaction struct {
	startTs      mvstore.Tick
	isRonly      bool
	willAbort    bool
	visitedSites map[int]bool
}

// Manager is the transaction manager. One Manager is the whole system's
// singleton coordinator; there is no package-level global.
type Manager struct {
	mu sync.Mutex

	now      mvstore.Tick
	nextOpID int

	sites     map[int]*datamgr.Site
	siteOrder []int
	itemSites map[int][]int

	transactions map[int]*transaction
	queue        *list.List

	logger *events.Logger
}

// New creates a Manager with SiteCount sites, each seeded per the fixed
// placement rule, and wires it to the given event logger.
func New(logger *events.Logger) *Manager {
	m := &Manager{
		sites:        make(map[int]*datamgr.Site),
		itemSites:    make(map[int][]int),
		transactions: make(map[int]*transaction),
		queue:        list.New(),
		logger:       logger,
	}
	for s := 1; s <= datamgr.SiteCount; s++ {
		m.sites[s] = datamgr.New(s)
		m.siteOrder = append(m.siteOrder, s)
	}
	sort.Ints(m.siteOrder)
	for item := 1; item <= datamgr.ItemCount; item++ {
		for _, s := range m.siteOrder {
			if datamgr.Hosts(s, item) {
				m.itemSites[item] = append(m.itemSites[item], s)
			}
		}
	}
	return m
}

// Now returns the current logical tick.
func (m *Manager) Now() mvstore.Tick {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// BeginTick emits the tick banner for the current logical time.
func (m *Manager) BeginTick() {
	m.mu.Lock()
	now := m.now
	m.mu.Unlock()
	m.logger.Tick(int64(now))
}

// Advance moves the logical clock forward by one tick.
func (m *Manager) Advance() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now++
}

// ResolveDeadlocks repeatedly detects and aborts deadlock victims,
// draining the pending queue after each abort, until no cycle remains in
// the current waits-for graph.
func (m *Manager) ResolveDeadlocks() {
	for {
		victim, found := m.detectDeadlock()
		if !found {
			return
		}
		m.abortTransaction(victim, func(tick int64) { m.logger.DeadlockAbort(tick, victim) })
		m.DrainQueue()
	}
}

// DrainQueue re-attempts every pending op, in FIFO order, dropping ops
// whose transaction has since aborted and re-queueing every op that still
// cannot be dispatched.
func (m *Manager) DrainQueue() {
	m.mu.Lock()
	pending := m.queue
	m.queue = list.New()
	m.mu.Unlock()

	newQueue := list.New()
	for e := pending.Front(); e != nil; e = e.Next() {
		o := e.Value.(*op)

		m.mu.Lock()
		tx, ok := m.transactions[o.trans]
		aborted := !ok || tx.willAbort
		m.mu.Unlock()
		if aborted {
			continue
		}

		if !m.dispatchOp(o) {
			newQueue.PushBack(o)
		}
	}

	m.mu.Lock()
	newQueue.PushBackList(m.queue)
	m.queue = newQueue
	m.mu.Unlock()
}

// Execute applies one parsed command.
func (m *Manager) Execute(cmd command.Command) error {
	switch cmd.Kind {
	case command.Begin:
		return m.begin(cmd.Trans, false)
	case command.BeginRO:
		return m.begin(cmd.Trans, true)
	case command.End:
		return m.finish(cmd.Trans)
	case command.Read:
		return m.enqueueOp(cmd.Trans, cmd.Item, 0, false)
	case command.Write:
		return m.enqueueOp(cmd.Trans, cmd.Item, cmd.Value, true)
	case command.Fail:
		m.fail(cmd.Site)
		return nil
	case command.Recover:
		m.recover(cmd.Site)
		return nil
	case command.DumpAll:
		m.dumpAll()
		return nil
	case command.DumpSite:
		m.dumpSite(cmd.Site)
		return nil
	case command.DumpItem:
		m.dumpItem(cmd.Item)
		return nil
	default:
		return fmt.Errorf("txnmgr: unrecognized command kind %d", cmd.Kind)
	}
}

func (m *Manager) begin(trans int, isRonly bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.transactions[trans]; exists {
		return fmt.Errorf("%w: T%d", ErrDuplicateTransaction, trans)
	}
	m.transactions[trans] = &transaction{
		startTs:      m.now,
		isRonly:      isRonly,
		visitedSites: make(map[int]bool),
	}
	if isRonly {
		m.logger.Log(events.Event{Tick: int64(m.now), Kind: events.KindBeginReadOnly, Severity: events.Info,
			Trans: intp(trans), Message: fmt.Sprintf("Transaction T%d (read-only) started", trans)})
	} else {
		m.logger.Log(events.Event{Tick: int64(m.now), Kind: events.KindBegin, Severity: events.Info,
			Trans: intp(trans), Message: fmt.Sprintf("Transaction T%d started", trans)})
	}
	return nil
}

func intp(v int) *int { return &v }

func (m *Manager) finish(trans int) error {
	m.mu.Lock()
	tx, ok := m.transactions[trans]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: T%d", ErrUnknownTransaction, trans)
	}
	now := m.now
	willAbort := tx.willAbort
	m.mu.Unlock()

	if willAbort {
		m.logger.AlreadyAborted(int64(now), trans)
		m.mu.Lock()
		delete(m.transactions, trans)
		m.mu.Unlock()
		return nil
	}

	for _, siteID := range m.siteOrder {
		site := m.sites[siteID]
		if !site.IsUp() {
			continue
		}
		if err := site.Commit(trans, now); err != nil {
			m.logger.Internal(int64(now), fmt.Sprintf("T%d commit at site %d: %v", trans, siteID, err))
		}
	}
	m.logger.Committed(int64(now), trans)

	m.mu.Lock()
	delete(m.transactions, trans)
	m.mu.Unlock()
	return nil
}

func (m *Manager) enqueueOp(trans, item, value int, isWrite bool) error {
	m.mu.Lock()
	tx, ok := m.transactions[trans]
	if !ok {
		now := m.now
		m.mu.Unlock()
		m.logger.CommandError(int64(now), fmt.Sprintf("unknown transaction T%d", trans))
		return fmt.Errorf("%w: T%d", ErrUnknownTransaction, trans)
	}
	if tx.willAbort {
		now := m.now
		m.mu.Unlock()
		m.logger.AlreadyAborted(int64(now), trans)
		return nil
	}

	kind := opRead
	if isWrite {
		kind = opWrite
	} else if tx.isRonly {
		kind = opRonly
	}

	o := &op{id: m.nextOpID, kind: kind, trans: trans, item: item, value: value}
	m.nextOpID++
	m.queue.PushBack(o)
	m.mu.Unlock()
	return nil
}

// dispatchOp attempts to complete op against live sites. It returns true
// iff the op completed (and should be removed from the pending queue).
func (m *Manager) dispatchOp(o *op) bool {
	switch o.kind {
	case opRead:
		return m.dispatchRead(o)
	case opWrite:
		return m.dispatchWrite(o)
	case opRonly:
		return m.dispatchRonly(o)
	default:
		return false
	}
}

func (m *Manager) dispatchRead(o *op) bool {
	m.mu.Lock()
	sites := append([]int(nil), m.itemSites[o.item]...)
	m.mu.Unlock()

	for _, siteID := range sites {
		m.mu.Lock()
		site := m.sites[siteID]
		up := site.IsUp()
		m.mu.Unlock()
		if !up {
			continue
		}
		if !site.GetReadLock(o.trans, o.item) {
			continue
		}
		value, err := site.Read(o.trans, o.item)
		if err != nil {
			panic(&InvariantError{Op: "read", Err: err})
		}

		m.mu.Lock()
		if tx, ok := m.transactions[o.trans]; ok {
			tx.visitedSites[siteID] = true
		}
		now := m.now
		m.mu.Unlock()

		m.logger.ReadResponse(int64(now), o.id, o.trans, siteID, o.item, value)
		return true
	}
	return false
}

func (m *Manager) dispatchWrite(o *op) bool {
	m.mu.Lock()
	sites := append([]int(nil), m.itemSites[o.item]...)
	m.mu.Unlock()

	var live []int
	for _, siteID := range sites {
		m.mu.Lock()
		up := m.sites[siteID].IsUp()
		m.mu.Unlock()
		if up {
			live = append(live, siteID)
		}
	}
	if len(live) == 0 {
		return false
	}

	allGranted := true
	for _, siteID := range live {
		if !m.sites[siteID].GetWriteLock(o.trans, o.item) {
			allGranted = false
		}
	}
	if !allGranted {
		return false
	}

	m.mu.Lock()
	now := m.now
	m.mu.Unlock()

	for _, siteID := range live {
		if err := m.sites[siteID].Write(o.trans, o.item, o.value); err != nil {
			panic(&InvariantError{Op: "write", Err: err})
		}
		m.mu.Lock()
		if tx, ok := m.transactions[o.trans]; ok {
			tx.visitedSites[siteID] = true
		}
		m.mu.Unlock()
		m.logger.WriteResponse(int64(now), o.id, o.trans, siteID, o.item, o.value)
	}
	return true
}

func (m *Manager) dispatchRonly(o *op) bool {
	m.mu.Lock()
	sites := append([]int(nil), m.itemSites[o.item]...)
	tx := m.transactions[o.trans]
	var startTs mvstore.Tick
	if tx != nil {
		startTs = tx.startTs
	}
	now := m.now
	m.mu.Unlock()

	for _, siteID := range sites {
		m.mu.Lock()
		site := m.sites[siteID]
		up := site.IsUp()
		m.mu.Unlock()
		if !up {
			continue
		}
		value, ok := site.Ronly(o.item, startTs)
		if !ok {
			continue
		}
		m.logger.ReadResponse(int64(now), o.id, o.trans, siteID, o.item, value)
		return true
	}
	return false
}

func (m *Manager) fail(siteID int) {
	m.mu.Lock()
	site, exists := m.sites[siteID]
	now := m.now
	m.mu.Unlock()
	if !exists {
		return
	}
	if !site.IsUp() {
		m.logger.SiteAlreadyDown(int64(now), siteID)
		return
	}

	site.Fail()
	m.logger.SiteFailed(int64(now), siteID)

	m.mu.Lock()
	var victims []int
	for trans, tx := range m.transactions {
		if tx.isRonly || tx.willAbort {
			continue
		}
		if tx.visitedSites[siteID] {
			victims = append(victims, trans)
		}
	}
	m.mu.Unlock()
	sort.Ints(victims)

	for _, trans := range victims {
		trans := trans
		m.abortTransaction(trans, func(tick int64) { m.logger.SiteFailureAbort(tick, trans, siteID) })
	}
}

func (m *Manager) recover(siteID int) {
	m.mu.Lock()
	site, exists := m.sites[siteID]
	now := m.now
	m.mu.Unlock()
	if !exists {
		return
	}
	site.Recover(now)
	m.logger.SiteRecovered(int64(now), siteID)
}

// abortTransaction calls abort on every site, marks the transaction a
// tombstone so later ops from it are swallowed, and reports the abort
// through report (passed the current tick so callers can format their own
// message).
func (m *Manager) abortTransaction(trans int, report func(tick int64)) {
	m.mu.Lock()
	tx, ok := m.transactions[trans]
	if !ok || tx.willAbort {
		m.mu.Unlock()
		return
	}
	now := m.now
	m.mu.Unlock()

	for _, siteID := range m.siteOrder {
		site := m.sites[siteID]
		if site.IsUp() {
			if err := site.Abort(trans); err != nil {
				m.logger.Internal(int64(now), fmt.Sprintf("T%d abort at site %d: %v", trans, siteID, err))
			}
		}
	}

	m.mu.Lock()
	tx.willAbort = true
	m.mu.Unlock()

	report(int64(now))
}

func (m *Manager) detectDeadlock() (victim int, found bool) {
	m.mu.Lock()
	graph := make(map[int]map[int]bool)
	for _, siteID := range m.siteOrder {
		site := m.sites[siteID]
		if !site.IsUp() {
			continue
		}
		for from, edges := range site.WaitsForSubgraph() {
			if graph[from] == nil {
				graph[from] = make(map[int]bool)
			}
			for to := range edges {
				graph[from][to] = true
			}
		}
	}

	nodes := make([]int, 0, len(graph))
	for id := range graph {
		nodes = append(nodes, id)
	}
	sort.Ints(nodes)

	champion := -1
	var championStart mvstore.Tick
	for _, id := range nodes {
		if len(graph[id]) == 0 {
			continue
		}
		if !dfsCycle(id, id, graph, make(map[int]bool)) {
			continue
		}
		tx, ok := m.transactions[id]
		if !ok {
			continue
		}
		if champion == -1 || tx.startTs > championStart {
			champion = id
			championStart = tx.startTs
		}
	}
	m.mu.Unlock()

	if champion == -1 {
		return 0, false
	}
	return champion, true
}

func dfsCycle(curr, root int, graph map[int]map[int]bool, visited map[int]bool) bool {
	if visited[curr] {
		return false
	}
	visited[curr] = true
	for child := range graph[curr] {
		if child == root {
			return true
		}
		if dfsCycle(child, root, graph, visited) {
			return true
		}
	}
	return false
}

func (m *Manager) dumpAll() {
	m.mu.Lock()
	now := m.now
	m.mu.Unlock()
	for _, siteID := range m.siteOrder {
		m.logger.DumpLine(int64(now), siteID, formatDumpLine(siteID, m.sites[siteID].DumpAll()))
	}
}

func (m *Manager) dumpSite(siteID int) {
	m.mu.Lock()
	site, exists := m.sites[siteID]
	now := m.now
	m.mu.Unlock()
	if !exists {
		return
	}
	m.logger.DumpLine(int64(now), siteID, formatDumpLine(siteID, site.DumpAll()))
}

func (m *Manager) dumpItem(item int) {
	m.mu.Lock()
	sites := append([]int(nil), m.itemSites[item]...)
	now := m.now
	m.mu.Unlock()
	for _, siteID := range sites {
		value, ok := m.sites[siteID].DumpItem(item)
		if !ok {
			continue
		}
		m.logger.DumpLine(int64(now), siteID, formatDumpLine(siteID, map[int]int{item: value}))
	}
}

func formatDumpLine(siteID int, values map[int]int) string {
	items := make([]int, 0, len(values))
	for item := range values {
		items = append(items, item)
	}
	sort.Ints(items)

	line := fmt.Sprintf("site %d -", siteID)
	for i, item := range items {
		if i > 0 {
			line += ","
		}
		line += fmt.Sprintf(" x%d: %d", item, values[item])
	}
	return line
}

// SiteStatus is a read-only snapshot of one site's status, for external
// observers such as pkg/admin.
type SiteStatus struct {
	ID         int
	Up         bool
	LastUpTime int64
	Readable   map[int]bool
}

// TransactionStatus is a read-only snapshot of one transaction's record.
type TransactionStatus struct {
	ID           int
	StartTs      int64
	IsRonly      bool
	WillAbort    bool
	VisitedSites []int
}

// Sites returns a point-in-time snapshot of every site's status, ordered
// by site id.
func (m *Manager) Sites() []SiteStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]SiteStatus, 0, len(m.siteOrder))
	for _, id := range m.siteOrder {
		site := m.sites[id]
		out = append(out, SiteStatus{
			ID:         id,
			Up:         site.IsUp(),
			LastUpTime: int64(site.LastUpTime()),
			Readable:   site.ReadableSnapshot(),
		})
	}
	return out
}

// ItemValues returns a point-in-time snapshot of every item value hosted
// at siteID, as reported by that site's DumpAll. Used by pkg/admin's
// dump endpoint and by pkg/snapshot's state export.
func (m *Manager) ItemValues(siteID int) (map[int]int, bool) {
	m.mu.Lock()
	site, exists := m.sites[siteID]
	m.mu.Unlock()
	if !exists {
		return nil, false
	}
	return site.DumpAll(), true
}

// SiteIDs returns every configured site id, in ascending order.
func (m *Manager) SiteIDs() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int(nil), m.siteOrder...)
}

// Transactions returns a point-in-time snapshot of the live transaction
// table, ordered by transaction id.
func (m *Manager) Transactions() []TransactionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]int, 0, len(m.transactions))
	for id := range m.transactions {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	out := make([]TransactionStatus, 0, len(ids))
	for _, id := range ids {
		tx := m.transactions[id]
		visited := make([]int, 0, len(tx.visitedSites))
		for s := range tx.visitedSites {
			visited = append(visited, s)
		}
		sort.Ints(visited)
		out = append(out, TransactionStatus{
			ID:           id,
			StartTs:      int64(tx.startTs),
			IsRonly:      tx.isRonly,
			WillAbort:    tx.willAbort,
			VisitedSites: visited,
		})
	}
	return out
}

// WaitsFor returns a point-in-time snapshot of the global waits-for
// graph, as an adjacency list from a waiting transaction id to the ids of
// the transactions it waits on.
func (m *Manager) WaitsFor() map[int][]int {
	m.mu.Lock()
	sites := append([]int(nil), m.siteOrder...)
	m.mu.Unlock()

	merged := make(map[int]map[int]bool)
	for _, id := range sites {
		m.mu.Lock()
		site := m.sites[id]
		up := site.IsUp()
		m.mu.Unlock()
		if !up {
			continue
		}
		for from, edges := range site.WaitsForSubgraph() {
			if merged[from] == nil {
				merged[from] = make(map[int]bool)
			}
			for to := range edges {
				merged[from][to] = true
			}
		}
	}

	out := make(map[int][]int, len(merged))
	for from, edges := range merged {
		tos := make([]int, 0, len(edges))
		for to := range edges {
			tos = append(tos, to)
		}
		sort.Ints(tos)
		out[from] = tos
	}
	return out
}
