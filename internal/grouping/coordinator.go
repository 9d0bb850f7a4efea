package grouping

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/soundmesh-core/internal/infrastructure/config"
	"github.com/nerrad567/soundmesh-core/internal/speaker"
)

// Default timings for grouping episodes.
const (
	defaultSettleDelay     = time.Second
	defaultPostCommitDelay = 2 * time.Second
	defaultCommitTimeout   = 15 * time.Second

	// historyWriteTimeout bounds event-history inserts so a slow disk
	// never stalls a commit.
	historyWriteTimeout = 3 * time.Second
)

// Member is the coordinator's view of one registered speaker handle.
// *speaker.Handle satisfies it; tests substitute fakes.
type Member interface {
	ID() string
	Address() string
	Attributes() speaker.Attributes
	IsConnected() bool
	Group(ctx context.Context, slavesBefore, slavesAfter []string) error
	NotifyAll()
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Options holds the timing knobs for grouping episodes.
type Options struct {
	// SettleDelay is the debounce window between the first request of
	// an episode and the physical group call.
	SettleDelay time.Duration

	// PostCommitDelay is how long to wait after the group call for the
	// speakers' push events to arrive before clearing pending state.
	// Best-effort heuristic; the speaker protocol exposes no
	// quiescence signal to wait on.
	PostCommitDelay time.Duration

	// CommitTimeout bounds the physical group call.
	CommitTimeout time.Duration
}

// OptionsFromConfig builds grouping options from the loaded configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		SettleDelay:     cfg.GetSettleDelay(),
		PostCommitDelay: cfg.GetPostCommitDelay(),
		CommitTimeout:   cfg.GetCommitTimeout(),
	}
}

// applyDefaults fills zero-valued options.
func (o *Options) applyDefaults() {
	if o.SettleDelay <= 0 {
		o.SettleDelay = defaultSettleDelay
	}
	if o.PostCommitDelay < 0 {
		o.PostCommitDelay = defaultPostCommitDelay
	}
	if o.CommitTimeout <= 0 {
		o.CommitTimeout = defaultCommitTimeout
	}
}

// pendingOp is the single in-flight grouping episode.
//
// At most one exists process-wide. Created on the first join/leave
// request after idle, consumed when the settle timer fires and the
// commit completes (success or failure).
type pendingOp struct {
	id         string // operation id for logging and history
	masterID   string
	toAdd      []string // ordered, deduped
	toRemove   map[string]struct{}
	inProgress bool
	createdAt  time.Time
}

// Coordinator owns the speaker registry and the pending operation.
//
// Thread Safety: all methods are safe for concurrent use. A single
// mutex serialises request/commit interleavings around the inProgress
// check; ResolveMembers takes a read lock only.
type Coordinator struct {
	opts Options

	// Registry and pending state. order retains registration order
	// for deterministic resolution.
	mu      sync.RWMutex
	order   []string
	members map[string]Member
	pending *pendingOp

	// Topology consumers.
	topoSubs   map[int]func()
	nextTopoID int
	topoMu     sync.RWMutex

	// Hooks (optional).
	onCommitError func(masterID string, err error)
	hookMu        sync.RWMutex

	history   speaker.EventRepository
	historyMu sync.RWMutex

	logger   Logger
	loggerMu sync.RWMutex

	// Shutdown coordination.
	done     chan struct{}
	doneOnce sync.Once
	wg       sync.WaitGroup
}

// NewCoordinator creates a coordinator with the given timings.
func NewCoordinator(opts Options) *Coordinator {
	opts.applyDefaults()
	return &Coordinator{
		opts:     opts,
		members:  make(map[string]Member),
		topoSubs: make(map[int]func()),
		done:     make(chan struct{}),
	}
}

// Close cancels any armed settle timer and in-flight post-commit wait,
// then blocks until the commit worker exits. Safe to call multiple times.
func (c *Coordinator) Close() error {
	c.doneOnce.Do(func() { close(c.done) })
	c.wg.Wait()
	return nil
}

// =============================================================================
// Registry
// =============================================================================

// Register adds a speaker to the directory. Re-registering an id
// replaces the handle without disturbing its position. Side-effect-free
// beyond the registry itself.
func (c *Coordinator) Register(id string, member Member) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.members[id]; !exists {
		c.order = append(c.order, id)
	}
	c.members[id] = member
}

// Unregister removes a speaker from the directory. Unknown ids are
// ignored.
func (c *Coordinator) Unregister(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.members[id]; !exists {
		return
	}
	delete(c.members, id)
	for i, existing := range c.order {
		if existing == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

// Member returns the registered handle for an id, or nil.
func (c *Coordinator) Member(id string) Member {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.members[id]
}

// MemberIDs returns all registered ids in registration order.
func (c *Coordinator) MemberIDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.order...)
}

// =============================================================================
// Requests
// =============================================================================

// RequestAddToGroup validates that every id in memberIDs can legally
// join masterID's group, then merges them into the pending operation.
//
// The first request of an episode creates the operation and arms the
// settle timer; later requests only mutate the pending sets. On any
// violation the request fails with a grouping error and nothing is
// mutated. While a commit is in progress the request is rejected
// without validating.
//
// Parameters:
//   - masterID: The speaker that will lead (or keep leading) the group
//   - memberIDs: Speakers to add, order preserved into the commit
//
// Returns:
//   - error: nil on acceptance, otherwise a sentinel wrapping ErrGrouping
func (c *Coordinator) RequestAddToGroup(masterID string, memberIDs []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkPendingLocked(masterID); err != nil {
		return err
	}

	master, err := c.validateMasterLocked(masterID)
	if err != nil {
		return err
	}

	for _, memberID := range memberIDs {
		if err := c.validateMemberLocked(masterID, master, memberID); err != nil {
			return err
		}
	}

	// All validated: mutate the pending sets.
	p := c.ensurePendingLocked(masterID)
	for _, memberID := range memberIDs {
		delete(p.toRemove, memberID)
		if !contains(p.toAdd, memberID) {
			p.toAdd = append(p.toAdd, memberID)
		}
	}

	c.logDebug("add request accepted",
		"op", p.id,
		"master", masterID,
		"to_add", p.toAdd,
	)
	return nil
}

// RequestRemoveFromGroup validates that memberID is currently a slave
// of exactly masterID, then adds it to the pending removal set.
//
// Parameters:
//   - masterID: The group's master
//   - memberID: The slave to remove
//
// Returns:
//   - error: nil on acceptance, otherwise a sentinel wrapping ErrGrouping
func (c *Coordinator) RequestRemoveFromGroup(masterID, memberID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkPendingLocked(masterID); err != nil {
		return err
	}

	master, err := c.validateMasterLocked(masterID)
	if err != nil {
		return err
	}

	member, ok := c.members[memberID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotRegistered, memberID)
	}

	attrs := member.Attributes()
	if !attrs.IsSlave || attrs.MasterAddress != master.Address() {
		return fmt.Errorf("%w: %s under %s", ErrNotSlaveOfMaster, memberID, masterID)
	}
	if !contains(c.resolveLocked(masterID), memberID) {
		return fmt.Errorf("%w: %s not in resolved members of %s", ErrNotSlaveOfMaster, memberID, masterID)
	}

	p := c.ensurePendingLocked(masterID)
	p.toRemove[memberID] = struct{}{}
	p.toAdd = remove(p.toAdd, memberID)

	c.logDebug("remove request accepted",
		"op", p.id,
		"master", masterID,
		"member", memberID,
	)
	return nil
}

// checkPendingLocked enforces the single-operation invariant. Caller
// holds c.mu.
func (c *Coordinator) checkPendingLocked(masterID string) error {
	if c.pending == nil {
		return nil
	}
	if c.pending.inProgress {
		return fmt.Errorf("%w: commit for %s running", ErrOperationInProgress, c.pending.masterID)
	}
	if c.pending.masterID != masterID {
		return fmt.Errorf("%w: pending operation targets %s", ErrOperationInProgress, c.pending.masterID)
	}
	return nil
}

// validateMasterLocked checks the candidate master. Caller holds c.mu.
func (c *Coordinator) validateMasterLocked(masterID string) (Member, error) {
	master, ok := c.members[masterID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotRegistered, masterID)
	}
	if !master.IsConnected() {
		return nil, fmt.Errorf("%w: %s", ErrNotConnected, masterID)
	}

	attrs := master.Attributes()
	if attrs.IsSlave {
		return nil, fmt.Errorf("%w: %s", ErrMasterIsSlave, masterID)
	}

	// Split-brain check: a speaker already acting as master must have
	// a resolved slave set that exactly matches the set of speakers
	// reporting it as master. A mismatch means a previous operation
	// partially failed and topology must reconcile first.
	if attrs.IsMaster {
		resolved := make(map[string]struct{})
		for _, id := range c.resolveLocked(masterID) {
			if id != masterID {
				resolved[id] = struct{}{}
			}
		}

		reporting := make(map[string]struct{})
		for _, id := range c.order {
			if id == masterID {
				continue
			}
			if c.members[id].Attributes().MasterAddress == master.Address() {
				reporting[id] = struct{}{}
			}
		}

		if !sameSet(resolved, reporting) {
			return nil, fmt.Errorf("%w: master %s", ErrInconsistentGroup, masterID)
		}
	}

	return master, nil
}

// validateMemberLocked checks one candidate member. Caller holds c.mu.
func (c *Coordinator) validateMemberLocked(masterID string, master Member, memberID string) error {
	if memberID == masterID {
		return fmt.Errorf("%w: %s", ErrSelfMember, masterID)
	}

	member, ok := c.members[memberID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotRegistered, memberID)
	}

	attrs := member.Attributes()
	if attrs.IsMaster {
		return fmt.Errorf("%w: %s", ErrAlreadyMaster, memberID)
	}
	if attrs.IsSlave && attrs.MasterAddress != master.Address() {
		return fmt.Errorf("%w: %s", ErrSlaveOfOtherMaster, memberID)
	}

	return nil
}

// ensurePendingLocked returns the pending operation, creating it and
// arming the settle timer on first use. Caller holds c.mu.
//
// The timer is armed exactly once per episode: requests arriving while
// it is armed only mutate the sets, they never re-arm it.
func (c *Coordinator) ensurePendingLocked(masterID string) *pendingOp {
	if c.pending != nil {
		return c.pending
	}

	p := &pendingOp{
		id:        uuid.NewString(),
		masterID:  masterID,
		toRemove:  make(map[string]struct{}),
		createdAt: time.Now(),
	}
	c.pending = p

	c.logInfo("grouping episode opened",
		"op", p.id,
		"master", masterID,
		"settle_delay", c.opts.SettleDelay.String(),
	)

	c.wg.Add(1)
	go c.settleWorker(p)

	return p
}

// =============================================================================
// Commit phase
// =============================================================================

// settleWorker waits out the settle window and runs the commit.
// Shutdown cancels the wait and abandons the episode.
func (c *Coordinator) settleWorker(p *pendingOp) {
	defer c.wg.Done()

	timer := time.NewTimer(c.opts.SettleDelay)
	defer timer.Stop()

	select {
	case <-c.done:
		c.mu.Lock()
		if c.pending == p {
			c.pending = nil
		}
		c.mu.Unlock()
		return
	case <-timer.C:
	}

	c.commit(p)
}

// commit executes the physical group call for one episode.
//
// slavesBefore is computed from the resolved member list at commit
// time, not request time: push events arriving during the settle
// window legitimately reshape the baseline. Exactly one Group call is
// issued; failures are reported and dropped, never retried - the next
// push event reconciles actual topology.
func (c *Coordinator) commit(p *pendingOp) {
	c.mu.Lock()
	p.inProgress = true

	master, registered := c.members[p.masterID]

	var slavesBefore []string
	for _, id := range c.resolveLocked(p.masterID) {
		if id != p.masterID {
			slavesBefore = append(slavesBefore, id)
		}
	}

	slavesAfter := make([]string, 0, len(slavesBefore)+len(p.toAdd))
	for _, id := range slavesBefore {
		if _, removed := p.toRemove[id]; !removed {
			slavesAfter = append(slavesAfter, id)
		}
	}
	for _, id := range p.toAdd {
		if !contains(slavesAfter, id) {
			slavesAfter = append(slavesAfter, id)
		}
	}

	affected := affectedIDs(p.masterID, slavesBefore, slavesAfter)
	c.mu.Unlock()

	var err error
	if !registered {
		err = fmt.Errorf("%w: %s", ErrNotRegistered, p.masterID)
	} else {
		ctx, cancel := context.WithTimeout(context.Background(), c.opts.CommitTimeout)
		err = master.Group(ctx, slavesBefore, slavesAfter)
		cancel()
	}

	duration := time.Since(p.createdAt)
	if err != nil {
		c.logError("group commit failed", p.id, p.masterID, err)
		c.recordHistory(p.masterID, speaker.EventGroupFailed,
			fmt.Sprintf("op=%s err=%v", p.id, err))
		c.reportCommitError(p.masterID, err)
	} else {
		c.logInfo("group commit succeeded",
			"op", p.id,
			"master", p.masterID,
			"before", slavesBefore,
			"after", slavesAfter,
			"duration", duration.String(),
		)
		c.recordHistory(p.masterID, speaker.EventGroupCommitted,
			fmt.Sprintf("op=%s members=%d", p.id, len(slavesAfter)+1))
	}

	// Give the speakers' push events a window to arrive before the
	// pending slot reopens. Cancelled only by shutdown.
	if c.opts.PostCommitDelay > 0 {
		select {
		case <-c.done:
		case <-time.After(c.opts.PostCommitDelay):
		}
	}

	c.mu.Lock()
	if c.pending == p {
		c.pending = nil
	}
	c.mu.Unlock()

	// Success or failure, consumers re-derive their views and the
	// affected handles push a forced refresh.
	c.refreshHandles(affected)
	c.NotifyTopologyChanged()
}

// affectedIDs collects every id touched by a commit, master included.
func affectedIDs(masterID string, before, after []string) []string {
	out := []string{masterID}
	for _, id := range before {
		if !contains(out, id) {
			out = append(out, id)
		}
	}
	for _, id := range after {
		if !contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}

// refreshHandles forces a full-refresh notification on each handle.
func (c *Coordinator) refreshHandles(ids []string) {
	c.mu.RLock()
	handles := make([]Member, 0, len(ids))
	for _, id := range ids {
		if m, ok := c.members[id]; ok {
			handles = append(handles, m)
		}
	}
	c.mu.RUnlock()

	for _, m := range handles {
		m.NotifyAll()
	}
}

// reportCommitError invokes the commit-error hook if set. Without a
// consumer the failure is dropped after logging; callers see the next
// topology state on their following request.
func (c *Coordinator) reportCommitError(masterID string, err error) {
	c.hookMu.RLock()
	fn := c.onCommitError
	c.hookMu.RUnlock()
	if fn != nil {
		fn(masterID, err)
	}
}

// recordHistory appends a grouping event if a repository is attached.
func (c *Coordinator) recordHistory(masterID, eventType, detail string) {
	c.historyMu.RLock()
	history := c.history
	c.historyMu.RUnlock()
	if history == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), historyWriteTimeout)
	defer cancel()

	if err := history.RecordEvent(ctx, masterID, eventType, detail); err != nil {
		c.logError("recording grouping event failed", "", masterID, err)
	}
}

// =============================================================================
// Topology consumers
// =============================================================================

// SubscribeTopology registers a callback invoked whenever the derived
// topology may have changed (commit completed, grouping attributes
// moved, speaker reconnected).
//
// Returns:
//   - int: Subscription id for UnsubscribeTopology
func (c *Coordinator) SubscribeTopology(fn func()) int {
	c.topoMu.Lock()
	defer c.topoMu.Unlock()

	c.nextTopoID++
	id := c.nextTopoID
	c.topoSubs[id] = fn
	return id
}

// UnsubscribeTopology removes a topology subscriber.
func (c *Coordinator) UnsubscribeTopology(id int) {
	c.topoMu.Lock()
	defer c.topoMu.Unlock()
	delete(c.topoSubs, id)
}

// NotifyTopologyChanged fans a re-derivation signal out to every
// topology subscriber. Called internally after commits and wired to
// each handle's topology hook by the composition root.
func (c *Coordinator) NotifyTopologyChanged() {
	c.topoMu.RLock()
	snapshot := make([]func(), 0, len(c.topoSubs))
	for _, fn := range c.topoSubs {
		snapshot = append(snapshot, fn)
	}
	c.topoMu.RUnlock()

	for _, fn := range snapshot {
		fn()
	}
}

// =============================================================================
// Hooks
// =============================================================================

// SetOnCommitError registers a callback for failed commits. The
// callback runs on the commit worker; keep it fast.
func (c *Coordinator) SetOnCommitError(fn func(masterID string, err error)) {
	c.hookMu.Lock()
	c.onCommitError = fn
	c.hookMu.Unlock()
}

// SetEventRepository attaches the speaker event history.
func (c *Coordinator) SetEventRepository(history speaker.EventRepository) {
	c.historyMu.Lock()
	c.history = history
	c.historyMu.Unlock()
}

// SetLogger sets the logger for this coordinator.
func (c *Coordinator) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

// =============================================================================
// Logging helpers
// =============================================================================

func (c *Coordinator) logDebug(msg string, keysAndValues ...any) {
	c.loggerMu.RLock()
	logger := c.logger
	c.loggerMu.RUnlock()
	if logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}

func (c *Coordinator) logInfo(msg string, keysAndValues ...any) {
	c.loggerMu.RLock()
	logger := c.logger
	c.loggerMu.RUnlock()
	if logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

func (c *Coordinator) logError(msg, opID, masterID string, err error) {
	c.loggerMu.RLock()
	logger := c.logger
	c.loggerMu.RUnlock()
	if logger != nil {
		logger.Error(msg, "op", opID, "master", masterID, "error", err)
	}
}

// =============================================================================
// Small helpers
// =============================================================================

func contains(ids []string, id string) bool {
	for _, existing := range ids {
		if existing == id {
			return true
		}
	}
	return false
}

func remove(ids []string, id string) []string {
	for i, existing := range ids {
		if existing == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}

func sameSet(a, b map[string]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}
