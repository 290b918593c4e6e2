package fleetproto

import "testing"

func TestParseCommandGrammar(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want Command
	}{
		{"unicast read", "3:READ", Command{NodeID: 3, Verb: VerbRead}},
		{"lowercase and spaces", " 3 : read ", Command{NodeID: 3, Verb: VerbRead}},
		{"group duty", "ALL:DUTY:50", Command{TargetAll: true, Verb: VerbDuty, Value: 50, HasValue: true}},
		{"self id zero", "0:STOP", Command{NodeID: 0, Verb: VerbStop}},
		{"bare integer short form", "75", Command{Verb: VerbDuty, Value: 75, HasValue: true}},
		{"duty short form", "duty:10", Command{Verb: VerbDuty, Value: 10, HasValue: true}},
		{"r short form", "r", Command{Verb: VerbRead}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseCommand([]byte(tc.in))
			if err != nil {
				t.Fatalf("ParseCommand(%q) error: %v", tc.in, err)
			}
			if got != tc.want {
				t.Errorf("ParseCommand(%q) = %+v, want %+v", tc.in, got, tc.want)
			}
		})
	}
}

func TestParseCommandErrors(t *testing.T) {
	cases := []struct {
		name    string
		in      string
		wantErr string
	}{
		{"empty", "", "ERROR:NO_COMMAND"},
		{"whitespace only", "   ", "ERROR:NO_COMMAND"},
		{"no colon, not numeric", "frob", "ERROR:NO_NODE_ID"},
		{"bad node id", "x:READ", "ERROR:INVALID_NODE"},
		{"unknown verb", "3:FROB", "ERROR:UNKNOWN_CMD:FROB"},
		{"duty missing value", "3:DUTY", "ERROR:INVALID_NODE"},
		{"duty non-numeric value", "3:DUTY:abc", "ERROR:INVALID_NODE"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseCommand([]byte(tc.in))
			if err == nil {
				t.Fatalf("ParseCommand(%q) expected error", tc.in)
			}
			if err.Error() != tc.wantErr {
				t.Errorf("ParseCommand(%q) error = %q, want %q", tc.in, err.Error(), tc.wantErr)
			}
		})
	}
}
