package model

import (
	"regexp"
	"testing"
)

// crockfordBase32 matches valid ULID strings (26 chars, Crockford Base32 alphabet).
var crockfordBase32 = regexp.MustCompile(`^[0123456789ABCDEFGHJKMNPQRSTVWXYZ]{26}$`)

func TestNewIDFormat(t *testing.T) {
	id := NewID()
	if !crockfordBase32.MatchString(id) {
		t.Errorf("NewID() = %q, does not match Crockford Base32 ULID format", id)
	}
}

func TestNewIDUniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := NewID()
		if seen[id] {
			t.Fatalf("NewID() produced duplicate: %s", id)
		}
		seen[id] = true
	}
}

func TestValidID(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{NewID(), true},
		{"", false},
		{"nope", false},
		{"01ARZ3NDEKTSV4RRFFQ69G5FA", false},
		{"01ARZ3NDEKTSV4RRFFQ69G5FAVX", false},
		{"01ARZ3NDEKTSV4RRFFQ69G5FAU", false},
	}
	for _, tt := range tests {
		if got := ValidID(tt.id); got != tt.want {
			t.Errorf("ValidID(%q) = %v, want %v", tt.id, got, tt.want)
		}
	}
}

func TestValidTransition(t *testing.T) {
	tests := []struct {
		from, to TaskState
		want     bool
	}{
		{TaskPending, TaskRunning, true},
		{TaskPending, TaskCancelled, true},
		{TaskPending, TaskSucceeded, false},
		{TaskRunning, TaskSucceeded, true},
		{TaskRunning, TaskFailed, true},
		{TaskRunning, TaskCancelled, true},
		{TaskRunning, TaskPending, false},
		{TaskRunning, TaskRunning, false},
	}
	for _, tt := range tests {
		if got := ValidTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("ValidTransition(%q, %q) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestTerminalStatesHaveNoExit(t *testing.T) {
	all := []TaskState{TaskPending, TaskRunning, TaskSucceeded, TaskFailed, TaskCancelled}
	for _, from := range []TaskState{TaskSucceeded, TaskFailed, TaskCancelled} {
		if !from.Terminal() {
			t.Errorf("%q should be terminal", from)
		}
		for _, to := range all {
			if ValidTransition(from, to) {
				t.Errorf("terminal state %q must not transition to %q", from, to)
			}
		}
	}
	if TaskPending.Terminal() || TaskRunning.Terminal() {
		t.Error("pending and running must not be terminal")
	}
}

func TestTaskStateConstants(t *testing.T) {
	states := []struct {
		constant TaskState
		expected string
	}{
		{TaskPending, "pending"},
		{TaskRunning, "running"},
		{TaskSucceeded, "succeeded"},
		{TaskFailed, "failed"},
		{TaskCancelled, "cancelled"},
	}
	for _, s := range states {
		if string(s.constant) != s.expected {
			t.Errorf("state constant = %q, want %q", s.constant, s.expected)
		}
	}
}
