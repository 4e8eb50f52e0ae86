package scorer

import "github.com/sells-group/leadsync/internal/model"

const notSpecified = "Not specified"

var (
	timelineLabels = map[string]string{
		"january-2026":   "January 2026 intake",
		"may-2026":       "May 2026 intake",
		"september-2026": "September 2026 intake",
		"researching":    "Just researching",
	}
	programLabels = map[string]string{
		"full-time-diploma":        "Full-time Diploma (2 years)",
		"professional-certificate": "Professional Certificate (6-12 months)",
		"foundation-certificate":   "Foundation Certificate (3-6 months)",
		"weekend-parttime":         "Weekend/Part-time classes",
	}
	investmentLabels = map[string]string{
		"under-100k":      "Under 100,000 KES",
		"100k-300k":       "100,000 - 300,000 KES",
		"300k-500k":       "300,000 - 500,000 KES",
		"500k-plus":       "500,000+ KES",
		"need-discussion": "Need to discuss payment options",
	}
	goalLabels = map[string]string{
		"career-change":     "Career change to creative industry",
		"skill-upgrade":     "Upgrade skills in current role",
		"start-business":    "Start my own creative business",
		"university-prep":   "Prepare for university studies",
		"personal-interest": "Personal interest/hobby",
	}
	experienceLabels = map[string]string{
		"complete-beginner":    "Complete beginner",
		"some-experience":      "Some basic experience",
		"intermediate":         "Intermediate level",
		"professional-upgrade": "Professional looking to upgrade",
		"formal-training":      "Have formal training elsewhere",
	}
)

// label returns the human-readable label for v. Unmapped values are echoed
// back unchanged; blank values read "Not specified".
func label(table map[string]string, v string) string {
	if v == "" {
		return notSpecified
	}
	if l, ok := table[v]; ok {
		return l
	}
	return v
}

// Labels renders the declared factors as human-readable text.
func Labels(f Factors) model.QualificationData {
	return model.QualificationData{
		StudyTimeline:   label(timelineLabels, f.StudyTimeline),
		ProgramType:     label(programLabels, f.ProgramType),
		InvestmentRange: label(investmentLabels, f.InvestmentRange),
		CareerGoals:     label(goalLabels, f.CareerGoals),
		ExperienceLevel: label(experienceLabels, f.ExperienceLevel),
	}
}
