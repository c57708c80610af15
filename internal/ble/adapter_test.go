package ble

import "testing"

func TestMatchIdentifier(t *testing.T) {
	tests := []struct {
		name       string
		address    string
		advertised string
		identifier string
		wantBy     string
		wantMatch  bool
	}{
		{
			name:       "match by address",
			address:    "D0:CF:5E:D9:12:3D",
			advertised: "blinky",
			identifier: "D0:CF:5E:D9:12:3D",
			wantBy:     "address",
			wantMatch:  true,
		},
		{
			name:       "match by address case-insensitive",
			address:    "D0:CF:5E:D9:12:3D",
			advertised: "",
			identifier: "d0:cf:5e:d9:12:3d",
			wantBy:     "address",
			wantMatch:  true,
		},
		{
			name:       "match by name",
			address:    "D0:CF:5E:D9:12:3D",
			advertised: "blinky",
			identifier: "blinky",
			wantBy:     "name",
			wantMatch:  true,
		},
		{
			name:       "no match",
			address:    "AA:BB:CC:DD:EE:FF",
			advertised: "other",
			identifier: "blinky",
			wantMatch:  false,
		},
		{
			name:       "empty advertised name never matches empty-ish identifiers",
			address:    "AA:BB:CC:DD:EE:FF",
			advertised: "",
			identifier: "",
			wantMatch:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			by, match := MatchIdentifier(tt.address, tt.advertised, tt.identifier)
			if match != tt.wantMatch {
				t.Fatalf("MatchIdentifier() match = %v, want %v", match, tt.wantMatch)
			}
			if match && by != tt.wantBy {
				t.Errorf("MatchIdentifier() by = %q, want %q", by, tt.wantBy)
			}
		})
	}
}
