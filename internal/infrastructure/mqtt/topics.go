package mqtt

import "fmt"

// Topic prefixes for the SoundMesh MQTT hierarchy.
//
// All topics use the flat scheme: soundmesh/{category}/{id}/{facet}
// so entity adapters can subscribe per speaker or per facet with a
// single wildcard level.
const (
	// TopicPrefix is the base for all SoundMesh topics.
	TopicPrefix = "soundmesh"

	// TopicPrefixSpeaker is the base for per-speaker topics.
	TopicPrefixSpeaker = "soundmesh/speaker"

	// TopicPrefixGroup is the base for group topology topics.
	TopicPrefixGroup = "soundmesh/group"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "soundmesh/system"
)

// Topics provides builders for SoundMesh MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	stateTopic := topics.SpeakerState("living-room")
//	// Returns: "soundmesh/speaker/living-room/state"
type Topics struct{}

// =============================================================================
// Speaker Topics
// =============================================================================

// SpeakerState returns the topic for speaker attribute updates.
//
// Example: soundmesh/speaker/living-room/state
func (Topics) SpeakerState(speakerID string) string {
	return fmt.Sprintf("%s/%s/state", TopicPrefixSpeaker, speakerID)
}

// SpeakerConnection returns the topic for connection state transitions.
//
// Example: soundmesh/speaker/living-room/connection
func (Topics) SpeakerConnection(speakerID string) string {
	return fmt.Sprintf("%s/%s/connection", TopicPrefixSpeaker, speakerID)
}

// SpeakerCommand returns the topic for commands addressed to a speaker.
//
// Example: soundmesh/speaker/living-room/command
func (Topics) SpeakerCommand(speakerID string) string {
	return fmt.Sprintf("%s/%s/command", TopicPrefixSpeaker, speakerID)
}

// =============================================================================
// Group Topics
// =============================================================================

// GroupTopology returns the topic for group membership changes.
// Published whenever the derived topology changes (grouping attributes
// moved, a commit completed, or a speaker reconnected).
//
// Example: soundmesh/group/topology
func (Topics) GroupTopology() string {
	return fmt.Sprintf("%s/topology", TopicPrefixGroup)
}

// GroupEvent returns the topic for grouping lifecycle events.
//
// Example: soundmesh/group/event/commit_failed
func (Topics) GroupEvent(eventType string) string {
	return fmt.Sprintf("%s/event/%s", TopicPrefixGroup, eventType)
}

// =============================================================================
// System Topics
// =============================================================================

// SystemStatus returns the system status topic.
//
// Example: soundmesh/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// =============================================================================
// Wildcard Patterns for Subscriptions
// =============================================================================

// AllSpeakerStates returns a pattern matching all speaker state updates.
//
// Pattern: soundmesh/speaker/+/state
func (Topics) AllSpeakerStates() string {
	return fmt.Sprintf("%s/+/state", TopicPrefixSpeaker)
}

// AllSpeakerConnections returns a pattern matching all connection transitions.
//
// Pattern: soundmesh/speaker/+/connection
func (Topics) AllSpeakerConnections() string {
	return fmt.Sprintf("%s/+/connection", TopicPrefixSpeaker)
}

// AllSpeakerCommands returns a pattern matching all speaker commands.
//
// Pattern: soundmesh/speaker/+/command
func (Topics) AllSpeakerCommands() string {
	return fmt.Sprintf("%s/+/command", TopicPrefixSpeaker)
}

// AllGroupEvents returns a pattern matching all grouping lifecycle events.
//
// Pattern: soundmesh/group/event/+
func (Topics) AllGroupEvents() string {
	return fmt.Sprintf("%s/event/+", TopicPrefixGroup)
}

// AllTopics returns a pattern matching all SoundMesh topics.
// Use with caution - this receives ALL traffic.
//
// Pattern: soundmesh/#
func (Topics) AllTopics() string {
	return "soundmesh/#"
}
