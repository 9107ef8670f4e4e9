package queue

import "testing"

func TestValidTransition(t *testing.T) {
	cases := []struct {
		from   string
		target string
		valid  bool
	}{
		{"waiting", "serving", true},
		{"serving", "serving", true},
		{"serving", "done", true},
		{"serving", "no_show", true},
		{"waiting", "done", false},
		{"waiting", "no_show", false},
		{"waiting", "waiting", false},
		{"serving", "waiting", false},
		{"done", "serving", false},
		{"done", "done", false},
		{"no_show", "serving", false},
		{"no_show", "no_show", false},
		{"waiting", "unknown", false},
		{"unknown", "serving", false},
	}

	for _, tt := range cases {
		if got := ValidTransition(tt.from, tt.target); got != tt.valid {
			t.Fatalf("ValidTransition(%q, %q)=%v, want %v", tt.from, tt.target, got, tt.valid)
		}
	}
}

func TestTerminal(t *testing.T) {
	cases := []struct {
		status   string
		terminal bool
	}{
		{"waiting", false},
		{"serving", false},
		{"done", true},
		{"no_show", true},
	}
	for _, tt := range cases {
		if got := Terminal(tt.status); got != tt.terminal {
			t.Fatalf("Terminal(%q)=%v, want %v", tt.status, got, tt.terminal)
		}
	}
}
