package reconnect

import (
	"errors"
	"testing"
	"time"
)

func TestPolicy_Transitions(t *testing.T) {
	p := NewPolicy(time.Second, 3)

	if st := p.Snapshot(); st.Phase != PhaseIdle || st.Attempts != 0 || st.MaxAttempts != 3 {
		t.Fatalf("initial state = %+v", st)
	}

	lost := errors.New("lost")
	p.ConnectionLost(lost)
	if st := p.Snapshot(); st.Phase != PhaseAttempting || st.Attempts != 0 || st.LastError != lost {
		t.Fatalf("after loss = %+v", st)
	}

	if !p.AttemptFailed(errors.New("refused")) {
		t.Fatal("AttemptFailed() = false on first failure")
	}
	if st := p.Snapshot(); st.Phase != PhaseAttempting || st.Attempts != 1 {
		t.Fatalf("after one failure = %+v", st)
	}

	p.AttemptSucceeded()
	if st := p.Snapshot(); st.Phase != PhaseSucceeded || st.Attempts != 0 || st.LastError != nil {
		t.Fatalf("after success = %+v", st)
	}
}

func TestPolicy_Exhaustion(t *testing.T) {
	p := NewPolicy(time.Second, 3)
	p.ConnectionLost(nil)

	for i := 1; i <= 3; i++ {
		ok := p.AttemptFailed(errors.New("refused"))
		if want := i < 3; ok != want {
			t.Fatalf("AttemptFailed() #%d = %v, want %v", i, ok, want)
		}
	}

	st := p.Snapshot()
	if st.Phase != PhaseExhausted || st.Attempts != 3 {
		t.Fatalf("state = %+v, want exhausted with 3 attempts", st)
	}
	if p.CanAttempt() {
		t.Error("CanAttempt() = true when exhausted")
	}

	// Further losses do not leave the exhausted phase.
	p.ConnectionLost(errors.New("again"))
	if p.Snapshot().Phase != PhaseExhausted {
		t.Error("ConnectionLost left the exhausted phase")
	}

	p.Reset()
	st = p.Snapshot()
	if st.Phase != PhaseIdle || st.Attempts != 0 || st.LastError != nil {
		t.Fatalf("after reset = %+v", st)
	}
	if !p.CanAttempt() {
		t.Error("CanAttempt() = false after reset")
	}
}

func TestPolicy_NextDelay(t *testing.T) {
	p := NewPolicy(500*time.Millisecond, 5)

	tests := []struct {
		failures int
		want     time.Duration
	}{
		{0, 500 * time.Millisecond},
		{1, time.Second},
		{2, 1500 * time.Millisecond},
		{3, 2 * time.Second},
	}

	failed := 0
	for _, tt := range tests {
		for failed < tt.failures {
			p.AttemptFailed(nil)
			failed++
		}
		if got := p.NextDelay(); got != tt.want {
			t.Errorf("NextDelay() after %d failures = %v, want %v", tt.failures, got, tt.want)
		}
	}
}

func TestPolicy_Defaults(t *testing.T) {
	p := NewPolicy(0, 0)
	if st := p.Snapshot(); st.MaxAttempts != DefaultMaxAttempts {
		t.Errorf("MaxAttempts = %d, want %d", st.MaxAttempts, DefaultMaxAttempts)
	}
	if got := p.NextDelay(); got != DefaultBaseDelay {
		t.Errorf("NextDelay() = %v, want %v", got, DefaultBaseDelay)
	}
}

func TestPhase_String(t *testing.T) {
	tests := map[Phase]string{
		PhaseIdle:       "idle",
		PhaseAttempting: "attempting",
		PhaseSucceeded:  "succeeded",
		PhaseExhausted:  "exhausted",
	}
	for p, want := range tests {
		if got := p.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", p, got, want)
		}
	}
}
