package model

import "testing"

func TestCanTransition(t *testing.T) {
	all := []SubmissionStatus{
		SubmissionInProgress, SubmissionViva, SubmissionSubmitted,
		SubmissionGraded, SubmissionReleased, SubmissionForfeited,
	}
	allowed := map[[2]SubmissionStatus]bool{
		{SubmissionInProgress, SubmissionViva}:      true,
		{SubmissionInProgress, SubmissionForfeited}: true,
		{SubmissionViva, SubmissionSubmitted}:       true,
		{SubmissionViva, SubmissionForfeited}:       true,
		{SubmissionSubmitted, SubmissionGraded}:     true,
		{SubmissionGraded, SubmissionGraded}:        true,
		{SubmissionGraded, SubmissionReleased}:      true,
	}

	for _, from := range all {
		for _, to := range all {
			want := allowed[[2]SubmissionStatus{from, to}]
			if got := CanTransition(from, to); got != want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestSubmissionStatus_Open(t *testing.T) {
	tests := []struct {
		status SubmissionStatus
		want   bool
	}{
		{SubmissionInProgress, true},
		{SubmissionViva, true},
		{SubmissionSubmitted, false},
		{SubmissionForfeited, false},
		{SubmissionReleased, false},
	}
	for _, tt := range tests {
		if got := tt.status.Open(); got != tt.want {
			t.Errorf("%s.Open() = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestComputeResult(t *testing.T) {
	f := func(v float64) *float64 { return &v }

	tests := []struct {
		name      string
		sub       Submission
		wantTotal float64
		wantPct   float64
	}{
		{
			name:      "full marks",
			sub:       Submission{CodingScore: f(100), CodingTotal: 100, VivaScore: f(50), VivaTotal: 50},
			wantTotal: 150,
			wantPct:   100,
		},
		{
			name:      "rounded to two decimals",
			sub:       Submission{CodingScore: f(70), CodingTotal: 100, VivaScore: f(30), VivaTotal: 50},
			wantTotal: 100,
			wantPct:   66.67,
		},
		{
			name:      "ungraded counts as zero",
			sub:       Submission{CodingTotal: 100, VivaTotal: 50},
			wantTotal: 0,
			wantPct:   0,
		},
		{
			name:      "no totals",
			sub:       Submission{CodingScore: f(5)},
			wantTotal: 5,
			wantPct:   0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.sub.ComputeResult()
			if got.TotalScore != tt.wantTotal {
				t.Errorf("TotalScore = %v, want %v", got.TotalScore, tt.wantTotal)
			}
			if got.Percentage != tt.wantPct {
				t.Errorf("Percentage = %v, want %v", got.Percentage, tt.wantPct)
			}
			if got.TotalPossible != tt.sub.CodingTotal+tt.sub.VivaTotal {
				t.Errorf("TotalPossible = %d", got.TotalPossible)
			}
		})
	}
}

func TestProctorEventKind_Violation(t *testing.T) {
	for kind, want := range map[ProctorEventKind]bool{
		ProctorStarted:            false,
		ProctorFullscreenLost:     true,
		ProctorFullscreenRegained: false,
		ProctorForfeited:          true,
		ProctorTimeUp:             false,
	} {
		if got := kind.Violation(); got != want {
			t.Errorf("%s.Violation() = %v, want %v", kind, got, want)
		}
	}
}
