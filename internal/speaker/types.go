package speaker

import "time"

// ConnectionState describes the health of the link to one speaker.
//
// Transitions are driven only by the resilience engine, never by the
// grouping coordinator or API consumers.
type ConnectionState string

// Connection states.
const (
	// StateConnected means the speaker is reachable and current.
	StateConnected ConnectionState = "connected"

	// StateChecking means a liveness probe is in flight.
	StateChecking ConnectionState = "checking"

	// StateDisconnected means a probe or command confirmed the link is down.
	StateDisconnected ConnectionState = "disconnected"

	// StateReconnecting means the reconnect loop is running.
	StateReconnecting ConnectionState = "reconnecting"
)

// String returns the state name.
func (s ConnectionState) String() string {
	return string(s)
}

// Attribute names used in push-event deltas.
//
// A Delta maps these names to new values. Grouping attributes are the
// subset whose change means the group topology may have moved.
const (
	AttrName            = "name"
	AttrModel           = "model"
	AttrSoftwareVersion = "software_version"
	AttrVolume          = "volume"
	AttrMuted           = "muted"
	AttrIsMaster        = "is_master"
	AttrIsSlave         = "is_slave"
	AttrMasterAddress   = "master_address"
	AttrGroupName       = "group_name"
	AttrNumberOfMembers = "number_of_members"
)

// Delta is a partial set of changed attributes pushed by a speaker.
type Delta map[string]any

// groupingAttrs are the attributes that participate in topology derivation.
var groupingAttrs = map[string]struct{}{
	AttrIsMaster:        {},
	AttrIsSlave:         {},
	AttrMasterAddress:   {},
	AttrGroupName:       {},
	AttrNumberOfMembers: {},
}

// AffectsGrouping reports whether the delta touches any attribute the
// topology is derived from.
func (d Delta) AffectsGrouping() bool {
	for name := range d {
		if _, ok := groupingAttrs[name]; ok {
			return true
		}
	}
	return false
}

// Attributes is the last known snapshot of a speaker's state.
//
// Attributes are refreshed only from Device Client snapshots or push
// events; the core never invents values.
type Attributes struct {
	Name            string    `json:"name"`
	Model           string    `json:"model"`
	SoftwareVersion string    `json:"software_version"`
	Volume          int       `json:"volume"`
	Muted           bool      `json:"muted"`
	LastSeen        time.Time `json:"last_seen"`

	// Grouping attributes, reported by the speaker itself.
	IsMaster        bool   `json:"is_master"`
	IsSlave         bool   `json:"is_slave"`
	MasterAddress   string `json:"master_address"`
	GroupName       string `json:"group_name"`
	NumberOfMembers int    `json:"number_of_members"`
}

// apply merges a delta into the snapshot. Unknown attribute names are
// ignored; type mismatches leave the field unchanged.
func (a *Attributes) apply(delta Delta) {
	for name, value := range delta {
		switch name {
		case AttrName:
			if v, ok := value.(string); ok {
				a.Name = v
			}
		case AttrModel:
			if v, ok := value.(string); ok {
				a.Model = v
			}
		case AttrSoftwareVersion:
			if v, ok := value.(string); ok {
				a.SoftwareVersion = v
			}
		case AttrVolume:
			if v, ok := toInt(value); ok {
				a.Volume = v
			}
		case AttrMuted:
			if v, ok := value.(bool); ok {
				a.Muted = v
			}
		case AttrIsMaster:
			if v, ok := value.(bool); ok {
				a.IsMaster = v
			}
		case AttrIsSlave:
			if v, ok := value.(bool); ok {
				a.IsSlave = v
			}
		case AttrMasterAddress:
			if v, ok := value.(string); ok {
				a.MasterAddress = v
			}
		case AttrGroupName:
			if v, ok := value.(string); ok {
				a.GroupName = v
			}
		case AttrNumberOfMembers:
			if v, ok := toInt(value); ok {
				a.NumberOfMembers = v
			}
		}
	}
}

// toInt normalises numeric delta values. JSON decoding yields float64,
// native clients yield int.
func toInt(value any) (int, bool) {
	switch v := value.(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}
