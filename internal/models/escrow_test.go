package models

import (
	"testing"
	"time"
)

func TestIsValidEscrowTransition(t *testing.T) {
	tests := []struct {
		from     EscrowStatus
		to       EscrowStatus
		expected bool
	}{
		// Happy path
		{EscrowStatusNone, EscrowStatusFunded, true},
		{EscrowStatusFunded, EscrowStatusOutcomeReported, true},
		{EscrowStatusOutcomeReported, EscrowStatusSettled, true},

		// Dispute path
		{EscrowStatusOutcomeReported, EscrowStatusDisputed, true},
		{EscrowStatusDisputed, EscrowStatusSettled, true},
		{EscrowStatusDisputed, EscrowStatusRefunded, true},

		// Early refund (revocation, or no report ever filed)
		{EscrowStatusFunded, EscrowStatusRefunded, true},

		// Invalid transitions
		{EscrowStatusNone, EscrowStatusSettled, false},
		{EscrowStatusNone, EscrowStatusOutcomeReported, false},
		{EscrowStatusFunded, EscrowStatusSettled, false},
		{EscrowStatusFunded, EscrowStatusDisputed, false},
		{EscrowStatusOutcomeReported, EscrowStatusRefunded, false},
		{EscrowStatusOutcomeReported, EscrowStatusFunded, false},

		// Terminal states never move
		{EscrowStatusSettled, EscrowStatusRefunded, false},
		{EscrowStatusSettled, EscrowStatusFunded, false},
		{EscrowStatusRefunded, EscrowStatusSettled, false},
		{EscrowStatusRefunded, EscrowStatusFunded, false},

		// Unknown source
		{EscrowStatus(99), EscrowStatusFunded, false},
	}

	for _, tt := range tests {
		t.Run(tt.from.String()+"->"+tt.to.String(), func(t *testing.T) {
			result := IsValidEscrowTransition(tt.from, tt.to)
			if result != tt.expected {
				t.Errorf("IsValidEscrowTransition(%v, %v) = %v, want %v", tt.from, tt.to, result, tt.expected)
			}
		})
	}
}

func TestAllEscrowStatusesHaveTransitionEntry(t *testing.T) {
	allStatuses := []EscrowStatus{
		EscrowStatusNone, EscrowStatusFunded, EscrowStatusOutcomeReported,
		EscrowStatusDisputed, EscrowStatusSettled, EscrowStatusRefunded,
	}

	for _, status := range allStatuses {
		if _, ok := ValidEscrowTransitions[status]; !ok {
			t.Errorf("status %v missing from ValidEscrowTransitions map", status)
		}
	}
}

func TestDisputeWindowEnd(t *testing.T) {
	window := 24 * time.Hour

	unreported := &Escrow{}
	if !unreported.DisputeWindowEnd(window).IsZero() {
		t.Error("unreported escrow should have zero window end")
	}

	reportedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	reported := &Escrow{ReportedAt: reportedAt}
	want := reportedAt.Add(window)
	if got := reported.DisputeWindowEnd(window); !got.Equal(want) {
		t.Errorf("DisputeWindowEnd() = %v, want %v", got, want)
	}
}

func TestSettleable(t *testing.T) {
	window := 24 * time.Hour
	reportedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		status   EscrowStatus
		at       time.Time
		expected bool
	}{
		{"reported, window open", EscrowStatusOutcomeReported, reportedAt.Add(time.Hour), false},
		{"reported, window closed", EscrowStatusOutcomeReported, reportedAt.Add(window), true},
		{"disputed, window closed", EscrowStatusDisputed, reportedAt.Add(window + time.Hour), true},
		{"funded never settleable", EscrowStatusFunded, reportedAt.Add(window), false},
		{"settled never again", EscrowStatusSettled, reportedAt.Add(window), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := &Escrow{Status: tt.status, ReportedAt: reportedAt}
			if got := e.Settleable(tt.at, window); got != tt.expected {
				t.Errorf("Settleable() = %v, want %v", got, tt.expected)
			}
		})
	}
}
