// Package scorer computes the deterministic lead score from the five factors a
// prospect declares on the enquiry form.
package scorer

import "github.com/sells-group/leadsync/internal/model"

// MaxScore is the upper bound of a lead score.
const MaxScore = 20

// HotThreshold is the score at which a lead triggers a hot-lead notification.
const HotThreshold = 15

// Factors are the declared qualification answers, as submitted by the form.
type Factors struct {
	StudyTimeline   string
	ProgramType     string
	InvestmentRange string
	CareerGoals     string
	ExperienceLevel string
}

// FactorsFrom extracts the scoring factors from a submission.
func FactorsFrom(s model.LeadSubmission) Factors {
	return Factors{
		StudyTimeline:   s.StudyTimeline,
		ProgramType:     s.ProgramType,
		InvestmentRange: s.InvestmentRange,
		CareerGoals:     s.CareerGoals,
		ExperienceLevel: s.ExperienceLevel,
	}
}

// Weight tables. Values absent from a table score 0.
var (
	timelinePoints = map[string]int{
		"january-2026":   5,
		"may-2026":       4,
		"september-2026": 3,
		"researching":    1,
	}
	programPoints = map[string]int{
		"full-time-diploma":        4,
		"professional-certificate": 3,
		"foundation-certificate":   2,
		"weekend-parttime":         1,
	}
	investmentPoints = map[string]int{
		"500k-plus":       4,
		"300k-500k":       3,
		"100k-300k":       2,
		"under-100k":      1,
		"need-discussion": 2,
	}
	goalPoints = map[string]int{
		"career-change":     4,
		"start-business":    4,
		"skill-upgrade":     3,
		"university-prep":   2,
		"personal-interest": 1,
	}
	experiencePoints = map[string]int{
		"professional-upgrade": 3,
		"intermediate":         2,
		"some-experience":      2,
		"complete-beginner":    1,
		"formal-training":      2,
	}
)

// Score returns the lead score for the factors, clamped to [0, MaxScore].
func Score(f Factors) int {
	total := timelinePoints[f.StudyTimeline] +
		programPoints[f.ProgramType] +
		investmentPoints[f.InvestmentRange] +
		goalPoints[f.CareerGoals] +
		experiencePoints[f.ExperienceLevel]
	return clamp(total, 0, MaxScore)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Qualify maps a score to its qualification label and priority.
func Qualify(score int) model.Qualification {
	switch {
	case score >= HotThreshold:
		return model.Qualification{Label: "Hot Lead", Priority: "High"}
	case score >= 10:
		return model.Qualification{Label: "Warm Lead", Priority: "Medium"}
	case score >= 5:
		return model.Qualification{Label: "Cold Lead", Priority: "Low"}
	default:
		return model.Qualification{Label: "Unqualified", Priority: "Very Low"}
	}
}

// IsHot reports whether the score warrants an immediate notification.
func IsHot(score int) bool {
	return score >= HotThreshold
}
