package grouping

// Membership resolution. Groups are never stored: the member list is
// reconstructed on demand from each speaker's own IsMaster/IsSlave/
// MasterAddress attributes plus the registry. Registration order makes
// the result deterministic.

// ResolveMembers returns the resolved group for a speaker.
//
// A master resolves to itself first, then its slaves in registration
// order. A slave resolves to its group's full list (master first). An
// ungrouped or unknown speaker resolves to nil.
//
// Pure query: side-effect-free and safe to call concurrently with
// everything else, including an in-flight commit.
//
// Parameters:
//   - id: Stable speaker identifier
//
// Returns:
//   - []string: [masterID, slave1, slave2, ...] or nil
func (c *Coordinator) ResolveMembers(id string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.resolveLocked(id)
}

// resolveLocked is the lock-free core of ResolveMembers. Caller holds
// c.mu (read or write).
func (c *Coordinator) resolveLocked(id string) []string {
	member, ok := c.members[id]
	if !ok {
		return nil
	}

	attrs := member.Attributes()

	var masterID string
	var masterAddress string

	switch {
	case attrs.IsMaster:
		masterID = id
		masterAddress = member.Address()
	case attrs.IsSlave:
		masterID = c.masterByAddressLocked(attrs.MasterAddress)
		if masterID == "" {
			// Slave pointing at an unknown or non-master address:
			// treat as ungrouped until the topology reconciles.
			return nil
		}
		masterAddress = attrs.MasterAddress
	default:
		return nil
	}

	members := []string{masterID}
	for _, candidate := range c.order {
		if candidate == masterID {
			continue
		}
		attrs := c.members[candidate].Attributes()
		if attrs.IsSlave && attrs.MasterAddress == masterAddress {
			members = append(members, candidate)
		}
	}

	return members
}

// masterByAddressLocked finds the registered speaker reporting itself
// master at the given address. Caller holds c.mu.
func (c *Coordinator) masterByAddressLocked(address string) string {
	if address == "" {
		return ""
	}
	for _, id := range c.order {
		member := c.members[id]
		if member.Address() == address && member.Attributes().IsMaster {
			return id
		}
	}
	return ""
}

// MasterOrSelf returns the id whose playback state represents the
// given speaker: the group master when the speaker is grouped, the
// speaker itself otherwise. Pure function over ResolveMembers; no
// back-references between sibling speakers.
func (c *Coordinator) MasterOrSelf(id string) string {
	members := c.ResolveMembers(id)
	if len(members) == 0 {
		return id
	}
	return members[0]
}
