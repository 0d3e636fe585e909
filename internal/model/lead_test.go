package model

import "testing"

func TestClassifyPrecedence(t *testing.T) {
	cases := []struct {
		booked, optedOut bool
		want             Outcome
	}{
		{true, true, OutcomeBooked}, // booked wins over opt-out
		{true, false, OutcomeBooked},
		{false, true, OutcomeOptedOut},
		{false, false, OutcomeCompleted},
	}
	for _, tc := range cases {
		if got := Classify(tc.booked, tc.optedOut); got != tc.want {
			t.Errorf("Classify(%v, %v) = %s, want %s", tc.booked, tc.optedOut, got, tc.want)
		}
	}
}
