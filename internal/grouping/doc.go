// Package grouping coordinates synchronized playback groups.
//
// The Coordinator is a process-wide singleton owning three things:
//
//   - A registry of speaker handles (insertion order retained, so
//     membership resolution is deterministic)
//   - The single pending group operation, debounced behind a settle
//     timer so bursts of individual join/leave requests collapse into
//     one physical group call
//   - Topology derivation: groups are never stored, they are
//     reconstructed on demand from each speaker's own grouping
//     attributes
//
// # Debounced commits
//
// The speaker protocol only supports whole-group replacement, not
// incremental add/remove. Selecting five speakers one at a time in a
// UI therefore must not issue five wire calls. The first request after
// idle creates the pending operation and arms a one-shot settle timer;
// further requests only mutate the pending sets. When the timer fires
// the coordinator computes the full before/after slave sets and issues
// exactly one Group call on the master. Commit failures are surfaced
// once (callback, log, history) and never retried internally - the
// next push event reconciles actual topology.
//
// # Usage
//
//	coord := grouping.NewCoordinator(grouping.OptionsFromConfig(cfg))
//	coord.SetLogger(logger)
//	defer coord.Close()
//
//	coord.Register("living-room", livingRoom)
//	coord.Register("kitchen", kitchen)
//
//	if err := coord.RequestAddToGroup("living-room", []string{"kitchen"}); err != nil {
//	    // validation rejection, nothing mutated
//	}
//
//	members := coord.ResolveMembers("kitchen") // ["living-room", "kitchen"]
package grouping
