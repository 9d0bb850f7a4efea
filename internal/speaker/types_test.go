package speaker

import "testing"

func TestDelta_AffectsGrouping(t *testing.T) {
	tests := []struct {
		name  string
		delta Delta
		want  bool
	}{
		{"empty", Delta{}, false},
		{"volume only", Delta{AttrVolume: 30}, false},
		{"is_master", Delta{AttrIsMaster: true}, true},
		{"master_address", Delta{AttrMasterAddress: "10.0.0.1:55001"}, true},
		{"mixed", Delta{AttrVolume: 30, AttrGroupName: "Living group"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.delta.AffectsGrouping(); got != tt.want {
				t.Errorf("AffectsGrouping() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAttributes_Apply(t *testing.T) {
	attrs := Attributes{Name: "Living Room", Volume: 20}

	attrs.apply(Delta{
		AttrVolume:          float64(45), // JSON decoding yields float64
		AttrMuted:           true,
		AttrIsSlave:         true,
		AttrMasterAddress:   "10.0.0.2:55001",
		AttrNumberOfMembers: 3,
		"unknown_attribute": "ignored",
	})

	if attrs.Volume != 45 {
		t.Errorf("Volume = %d, want 45", attrs.Volume)
	}
	if !attrs.Muted {
		t.Error("Muted = false, want true")
	}
	if !attrs.IsSlave {
		t.Error("IsSlave = false, want true")
	}
	if attrs.MasterAddress != "10.0.0.2:55001" {
		t.Errorf("MasterAddress = %q", attrs.MasterAddress)
	}
	if attrs.NumberOfMembers != 3 {
		t.Errorf("NumberOfMembers = %d, want 3", attrs.NumberOfMembers)
	}
	if attrs.Name != "Living Room" {
		t.Errorf("Name = %q, unchanged field modified", attrs.Name)
	}
}

func TestAttributes_ApplyTypeMismatch(t *testing.T) {
	attrs := Attributes{Volume: 20}

	// A type-mismatched value leaves the field unchanged.
	attrs.apply(Delta{AttrVolume: "loud"})

	if attrs.Volume != 20 {
		t.Errorf("Volume = %d after mismatched delta, want 20", attrs.Volume)
	}
}
