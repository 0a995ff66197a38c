package session

import (
	"reflect"
	"testing"
	"time"

	"github.com/civiclearn/sessioncore/pkg/backend"
)

func TestComputeScore(t *testing.T) {
	tests := []struct {
		name    string
		results map[string]SceneResult
		want    float64
	}{
		{
			name:    "no results scores zero",
			results: map[string]SceneResult{},
			want:    0,
		},
		{
			name: "zero max scores zero",
			results: map[string]SceneResult{
				"s1": {SceneID: "s1", Score: 10, MaxScore: 0},
			},
			want: 0,
		},
		{
			name: "mixed results average to ninety",
			results: map[string]SceneResult{
				"s1": {SceneID: "s1", Score: 80, MaxScore: 100},
				"s2": {SceneID: "s2", Score: 100, MaxScore: 100},
			},
			want: 90,
		},
		{
			name: "full marks",
			results: map[string]SceneResult{
				"s1": {SceneID: "s1", Score: 50, MaxScore: 50},
			},
			want: 100,
		},
		{
			name: "uneven scene weights",
			results: map[string]SceneResult{
				"s1": {SceneID: "s1", Score: 30, MaxScore: 60},
				"s2": {SceneID: "s2", Score: 20, MaxScore: 40},
			},
			want: 50,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ComputeScore(tt.results); got != tt.want {
				t.Errorf("ComputeScore() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDeriveAchievements(t *testing.T) {
	manyScenes := []string{"s1", "s2", "s3", "s4", "s5"}

	tests := []struct {
		name    string
		session *Session
		score   float64
		want    []string
	}{
		{
			name: "fast mobile perfect run earns everything",
			session: &Session{
				ActiveTime:      2 * time.Minute,
				CompletedScenes: manyScenes,
				DeviceClass:     DeviceMobile,
			},
			score: 100,
			want: []string{
				AchievementSpeed, AchievementSceneMaster,
				AchievementMobile, AchievementExcellence,
			},
		},
		{
			name: "slow desktop partial run earns nothing",
			session: &Session{
				ActiveTime:      20 * time.Minute,
				CompletedScenes: []string{"s1"},
				DeviceClass:     DeviceDesktop,
			},
			score: 60,
			want:  nil,
		},
		{
			name: "five scenes earn scene master",
			session: &Session{
				ActiveTime:      10 * time.Minute,
				CompletedScenes: manyScenes,
				DeviceClass:     DeviceDesktop,
			},
			score: 80,
			want:  []string{AchievementSceneMaster},
		},
		{
			name: "score of exactly ninety five earns excellence",
			session: &Session{
				ActiveTime:      10 * time.Minute,
				CompletedScenes: []string{"s1"},
				DeviceClass:     DeviceTablet,
			},
			score: 95,
			want:  []string{AchievementExcellence},
		},
		{
			name: "exactly five minutes is not fast enough",
			session: &Session{
				ActiveTime:      5 * time.Minute,
				CompletedScenes: []string{"s1"},
				DeviceClass:     DeviceDesktop,
			},
			score: 80,
			want:  nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DeriveAchievements(tt.session, tt.score); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("DeriveAchievements() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsResumable(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	window := 24 * time.Hour

	tests := []struct {
		name   string
		record backend.SessionRecord
		want   bool
	}{
		{
			name:   "open and recent",
			record: backend.SessionRecord{Status: backend.StatusOpen, LastActive: now.Add(-time.Hour)},
			want:   true,
		},
		{
			name:   "open exactly at the window edge",
			record: backend.SessionRecord{Status: backend.StatusOpen, LastActive: now.Add(-window)},
			want:   true,
		},
		{
			name:   "open but stale",
			record: backend.SessionRecord{Status: backend.StatusOpen, LastActive: now.Add(-window - time.Minute)},
			want:   false,
		},
		{
			name:   "completed moments ago",
			record: backend.SessionRecord{Status: backend.StatusCompleted, LastActive: now.Add(-time.Minute)},
			want:   false,
		},
		{
			name:   "abandoned",
			record: backend.SessionRecord{Status: backend.StatusAbandoned, LastActive: now.Add(-time.Hour)},
			want:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsResumable(tt.record, now, window); got != tt.want {
				t.Errorf("IsResumable() = %v, want %v", got, tt.want)
			}
		})
	}
}
