// Package sim provides a simulated speaker transport.
//
// The simulated fleet implements the speaker.Client interface without
// any network I/O. It serves two purposes: it gives the binary a
// working transport for development (speakers marked simulated in the
// configuration), and it gives tests a scriptable speaker whose
// failures and push events are fully controlled.
//
// A Fleet links its speakers together so that a Group call on one
// master updates the grouping attributes of every affected slave and
// emits the same push events a real speaker would.
package sim

import (
	"context"
	"fmt"
	"sync"

	"github.com/nerrad567/soundmesh-core/internal/speaker"
)

// Fleet is a set of simulated speakers that share one virtual network.
type Fleet struct {
	mu       sync.RWMutex
	speakers map[string]*Speaker
}

// NewFleet creates an empty fleet.
func NewFleet() *Fleet {
	return &Fleet{speakers: make(map[string]*Speaker)}
}

// Add creates a simulated speaker and joins it to the fleet.
//
// Parameters:
//   - id: Stable speaker identifier
//   - address: Network address slaves report as MasterAddress
//   - name: Human-readable speaker name
//
// Returns:
//   - *Speaker: The simulated speaker, online by default
func (f *Fleet) Add(id, address, name string) *Speaker {
	s := &Speaker{
		id:      id,
		address: address,
		fleet:   f,
		attrs: speaker.Attributes{
			Name:            name,
			Model:           "SoundMesh Sim",
			SoftwareVersion: "1.0.0-sim",
			Volume:          20,
		},
	}

	f.mu.Lock()
	f.speakers[id] = s
	f.mu.Unlock()

	return s
}

// Get returns the fleet member with the given id, or nil.
func (f *Fleet) Get(id string) *Speaker {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.speakers[id]
}

// Speaker is one simulated speaker. It implements speaker.Client.
//
// Failure injection: SetOffline(true) makes every call fail with
// speaker.ErrConnectionFailed until SetOffline(false). SetTimeout(true)
// makes commands fail with speaker.ErrCallTimeout instead.
type Speaker struct {
	id      string
	address string
	fleet   *Fleet

	mu        sync.Mutex
	attrs     speaker.Attributes
	connected bool
	offline   bool
	timeout   bool
	onEvent   func(speaker.Delta)

	// Counters for test assertions.
	connectCalls int
	updateCalls  int
	groupCalls   int
	lastBefore   []string
	lastAfter    []string
}

// Compile-time interface check.
var _ speaker.Client = (*Speaker)(nil)

// ID returns the speaker identifier.
func (s *Speaker) ID() string { return s.id }

// Address returns the simulated network address.
func (s *Speaker) Address() string { return s.address }

// SetOffline scripts connection-class failures for every call.
func (s *Speaker) SetOffline(offline bool) {
	s.mu.Lock()
	s.offline = offline
	if offline {
		s.connected = false
	}
	s.mu.Unlock()
}

// SetTimeout scripts timeout failures for commands. Connect still
// works, mimicking a speaker that accepts sessions but responds slowly.
func (s *Speaker) SetTimeout(timeout bool) {
	s.mu.Lock()
	s.timeout = timeout
	s.mu.Unlock()
}

// ConnectCalls returns how many times Connect was invoked.
func (s *Speaker) ConnectCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connectCalls
}

// GroupCalls returns how many times Group was invoked, plus the
// before/after sets of the most recent call.
func (s *Speaker) GroupCalls() (count int, before, after []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.groupCalls, append([]string(nil), s.lastBefore...), append([]string(nil), s.lastAfter...)
}

// PushEvent simulates a push event from the speaker: the delta is
// merged into the simulated attributes and delivered to the handle.
func (s *Speaker) PushEvent(delta speaker.Delta) {
	s.mu.Lock()
	applyDelta(&s.attrs, delta)
	callback := s.onEvent
	s.mu.Unlock()

	if callback != nil {
		callback(delta)
	}
}

// =============================================================================
// speaker.Client implementation
// =============================================================================

// Connect establishes the simulated session.
func (s *Speaker) Connect(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.connectCalls++
	if s.offline {
		return fmt.Errorf("%w: %s unreachable", speaker.ErrConnectionFailed, s.address)
	}
	s.connected = true
	return nil
}

// Disconnect tears the simulated session down. Never fails.
func (s *Speaker) Disconnect(_ context.Context) error {
	s.mu.Lock()
	s.connected = false
	s.mu.Unlock()
	return nil
}

// Update refreshes the snapshot. A no-op beyond failure injection; the
// simulated attributes are always current.
func (s *Speaker) Update(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.updateCalls++
	if err := s.callErrLocked(); err != nil {
		return err
	}
	return nil
}

// Attributes returns the current simulated snapshot.
func (s *Speaker) Attributes() speaker.Attributes {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attrs
}

// Volume reads the simulated volume.
func (s *Speaker) Volume(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.callErrLocked(); err != nil {
		return 0, err
	}
	return s.attrs.Volume, nil
}

// SetVolume sets the simulated volume and pushes the delta.
func (s *Speaker) SetVolume(_ context.Context, volume int) error {
	s.mu.Lock()
	if err := s.callErrLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	s.attrs.Volume = volume
	callback := s.onEvent
	s.mu.Unlock()

	if callback != nil {
		callback(speaker.Delta{speaker.AttrVolume: volume})
	}
	return nil
}

// SetMuted mutes/unmutes and pushes the delta.
func (s *Speaker) SetMuted(_ context.Context, muted bool) error {
	s.mu.Lock()
	if err := s.callErrLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	s.attrs.Muted = muted
	callback := s.onEvent
	s.mu.Unlock()

	if callback != nil {
		callback(speaker.Delta{speaker.AttrMuted: muted})
	}
	return nil
}

// Play resumes simulated playback.
func (s *Speaker) Play(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.callErrLocked()
}

// Pause pauses simulated playback.
func (s *Speaker) Pause(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.callErrLocked()
}

// Group replaces this speaker's slave set and propagates grouping
// attributes across the fleet, emitting the push events a real
// grouping operation produces.
func (s *Speaker) Group(_ context.Context, slavesBefore, slavesAfter []string) error {
	s.mu.Lock()
	s.groupCalls++
	s.lastBefore = append([]string(nil), slavesBefore...)
	s.lastAfter = append([]string(nil), slavesAfter...)
	if err := s.callErrLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	// Snapshot the name before releasing the lock; concurrent push
	// events mutate s.attrs.
	masterName := s.attrs.Name
	s.mu.Unlock()

	removed := difference(slavesBefore, slavesAfter)
	added := difference(slavesAfter, slavesBefore)

	for _, id := range removed {
		if member := s.fleet.Get(id); member != nil {
			member.PushEvent(speaker.Delta{
				speaker.AttrIsSlave:       false,
				speaker.AttrMasterAddress: "",
				speaker.AttrGroupName:     "",
			})
		}
	}

	groupName := ""
	if len(slavesAfter) > 0 {
		groupName = masterName + " group"
	}

	for _, id := range added {
		if member := s.fleet.Get(id); member != nil {
			member.PushEvent(speaker.Delta{
				speaker.AttrIsSlave:       true,
				speaker.AttrMasterAddress: s.address,
				speaker.AttrGroupName:     groupName,
			})
		}
	}

	// The master reports its own new shape last.
	s.PushEvent(speaker.Delta{
		speaker.AttrIsMaster:        len(slavesAfter) > 0,
		speaker.AttrGroupName:       groupName,
		speaker.AttrNumberOfMembers: memberCount(slavesAfter),
	})

	return nil
}

// SetOnEvent registers the push-event callback.
func (s *Speaker) SetOnEvent(callback func(delta speaker.Delta)) {
	s.mu.Lock()
	s.onEvent = callback
	s.mu.Unlock()
}

// callErrLocked returns the scripted failure, if any. Caller holds s.mu.
func (s *Speaker) callErrLocked() error {
	if s.offline {
		return fmt.Errorf("%w: %s unreachable", speaker.ErrConnectionFailed, s.address)
	}
	if s.timeout {
		return fmt.Errorf("%w: %s did not respond", speaker.ErrCallTimeout, s.address)
	}
	if !s.connected {
		return fmt.Errorf("%w: no session to %s", speaker.ErrConnectionFailed, s.address)
	}
	return nil
}

// applyDelta mirrors the handle-side merge for the simulated snapshot.
func applyDelta(attrs *speaker.Attributes, delta speaker.Delta) {
	for name, value := range delta {
		switch name {
		case speaker.AttrName:
			if v, ok := value.(string); ok {
				attrs.Name = v
			}
		case speaker.AttrVolume:
			if v, ok := value.(int); ok {
				attrs.Volume = v
			}
		case speaker.AttrMuted:
			if v, ok := value.(bool); ok {
				attrs.Muted = v
			}
		case speaker.AttrIsMaster:
			if v, ok := value.(bool); ok {
				attrs.IsMaster = v
			}
		case speaker.AttrIsSlave:
			if v, ok := value.(bool); ok {
				attrs.IsSlave = v
			}
		case speaker.AttrMasterAddress:
			if v, ok := value.(string); ok {
				attrs.MasterAddress = v
			}
		case speaker.AttrGroupName:
			if v, ok := value.(string); ok {
				attrs.GroupName = v
			}
		case speaker.AttrNumberOfMembers:
			if v, ok := value.(int); ok {
				attrs.NumberOfMembers = v
			}
		}
	}
}

// difference returns the elements of a that are not in b, order preserved.
func difference(a, b []string) []string {
	inB := make(map[string]struct{}, len(b))
	for _, id := range b {
		inB[id] = struct{}{}
	}

	var out []string
	for _, id := range a {
		if _, ok := inB[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}

// memberCount is the group size including the master, 0 when ungrouped.
func memberCount(slaves []string) int {
	if len(slaves) == 0 {
		return 0
	}
	return len(slaves) + 1
}
