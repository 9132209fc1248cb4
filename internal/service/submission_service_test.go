package service

import (
	"errors"
	"testing"
	"time"

	"github.com/ctech/ctech-exam/internal/model"
)

func TestRemainingSeconds(t *testing.T) {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		now      time.Time
		duration int
		want     int
	}{
		{"just started", start, 2700, 2700},
		{"partial second is not counted", start.Add(1500 * time.Millisecond), 2700, 2699},
		{"ten minutes in", start.Add(10 * time.Minute), 2700, 2100},
		{"exactly expired", start.Add(45 * time.Minute), 2700, 0},
		{"long expired", start.Add(3 * time.Hour), 2700, 0},
		{"clock skew before start", start.Add(-5 * time.Second), 2700, 2700},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := remainingSeconds(start, tt.duration, tt.now); got != tt.want {
				t.Errorf("remainingSeconds() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestRedact(t *testing.T) {
	score := 42.0
	comments := "good"

	tests := []struct {
		status     model.SubmissionStatus
		wantScores bool
	}{
		{model.SubmissionSubmitted, false},
		{model.SubmissionGraded, false},
		{model.SubmissionReleased, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			sub := &model.Submission{Status: tt.status, CodingScore: &score, VivaScore: &score, TeacherComments: &comments}
			got := redact(sub)

			visible := got.CodingScore != nil && got.VivaScore != nil && got.TeacherComments != nil
			if visible != tt.wantScores {
				t.Errorf("scores visible = %v, want %v", visible, tt.wantScores)
			}
			if sub.CodingScore == nil {
				t.Error("redact modified its argument")
			}
		})
	}
}

func TestCheckScore(t *testing.T) {
	tests := []struct {
		score   float64
		total   int
		wantErr bool
	}{
		{0, 100, false},
		{100, 100, false},
		{72.5, 100, false},
		{100.5, 100, true},
		{-1, 50, true},
	}

	for _, tt := range tests {
		err := checkScore(tt.score, tt.total)
		if (err != nil) != tt.wantErr {
			t.Errorf("checkScore(%v, %d) error = %v, wantErr %v", tt.score, tt.total, err, tt.wantErr)
		}
		if err != nil && !errors.Is(err, ErrScoreOutOfRange) {
			t.Errorf("checkScore error %v is not ErrScoreOutOfRange", err)
		}
	}
}

func TestNormalizePage(t *testing.T) {
	tests := []struct {
		page, perPage         int
		wantPage, wantPerPage int
	}{
		{0, 0, 1, 20},
		{3, 10, 3, 10},
		{2, 500, 2, 100},
		{-4, -1, 1, 20},
	}

	for _, tt := range tests {
		page, perPage := normalizePage(tt.page, tt.perPage)
		if page != tt.wantPage || perPage != tt.wantPerPage {
			t.Errorf("normalizePage(%d, %d) = (%d, %d), want (%d, %d)",
				tt.page, tt.perPage, page, perPage, tt.wantPage, tt.wantPerPage)
		}
	}
}
