package session

import (
	"time"

	"github.com/civiclearn/sessioncore/pkg/backend"
)

// Achievement tags derived at completion.
const (
	AchievementSpeed       = "speed"
	AchievementSceneMaster = "scene-master"
	AchievementMobile      = "mobile"
	AchievementExcellence  = "excellence"
)

// Achievement rule thresholds.
const (
	speedThreshold       = 5 * time.Minute
	sceneMasterThreshold = 5
	excellenceThreshold  = 95.0
)

// ComputeScore returns the percentage score across all scored scenes: the
// sum of earned scores over the sum of maximum scores. A session with no
// scored scenes scores 0.
func ComputeScore(results map[string]SceneResult) float64 {
	var earned, possible float64
	for _, result := range results {
		earned += result.Score
		possible += result.MaxScore
	}
	if possible == 0 {
		return 0
	}
	return earned / possible * 100
}

// DeriveAchievements applies the fixed achievement rules to a finished
// session and its final score.
func DeriveAchievements(session *Session, score float64) []string {
	var tags []string
	if session.ActiveTime < speedThreshold {
		tags = append(tags, AchievementSpeed)
	}
	if len(session.CompletedScenes) >= sceneMasterThreshold {
		tags = append(tags, AchievementSceneMaster)
	}
	if session.DeviceClass == DeviceMobile {
		tags = append(tags, AchievementMobile)
	}
	if score >= excellenceThreshold {
		tags = append(tags, AchievementExcellence)
	}
	return tags
}

// IsResumable reports whether a stored session may still be picked up at
// now: it must be open and inside the resume window. Completed sessions are
// never resumable, no matter how recent.
func IsResumable(record backend.SessionRecord, now time.Time, window time.Duration) bool {
	if record.Status != backend.StatusOpen {
		return false
	}
	return now.Sub(record.LastActive) <= window
}
