package intake

import (
	"regexp"
	"strings"

	"github.com/sells-group/leadsync/internal/model"
)

// MaxFieldLen bounds every attribution string after sanitizing.
const MaxFieldLen = 200

var (
	testMarkers = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\s+Expected.*`),
		regexp.MustCompile(`(?i)\s+Test.*`),
	}
	emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
)

// Sanitize strips QA annotations that leak into tagged URLs (a whitespace
// followed by "Expected..." or "Test..."), trims, and truncates to
// MaxFieldLen runes.
func Sanitize(v string) string {
	for _, re := range testMarkers {
		v = re.ReplaceAllString(v, "")
	}
	v = strings.TrimSpace(v)
	if r := []rune(v); len(r) > MaxFieldLen {
		v = string(r[:MaxFieldLen])
	}
	return v
}

// sanitizeAttribution cleans every attribution field of s in place.
func sanitizeAttribution(s *model.LeadSubmission) {
	for _, f := range []*string{
		&s.UTMSource, &s.UTMMedium, &s.UTMCampaign, &s.UTMTerm, &s.UTMContent,
		&s.LandingPage, &s.Referrer, &s.CurrentPage,
		&s.FirstTouchSource, &s.FirstTouchMedium, &s.FirstTouchCampaign,
		&s.FirstTouchTerm, &s.FirstTouchContent, &s.FirstTouchTimestamp,
		&s.GAClientID,
	} {
		*f = Sanitize(*f)
	}
}

// ValidationError is a user-safe rejection of a submission.
type ValidationError struct {
	Message string
	Fields  []string
}

func (e *ValidationError) Error() string { return e.Message }

// Validate checks the required fields and the e-mail shape.
func Validate(s model.LeadSubmission) error {
	required := []struct {
		name string
		v    string
	}{
		{"firstName", s.FirstName},
		{"lastName", s.LastName},
		{"email", s.Email},
		{"phone", s.Phone},
		{"courseName", s.CourseName},
		{"studyTimeline", s.StudyTimeline},
		{"programType", s.ProgramType},
		{"careerGoals", s.CareerGoals},
		{"experienceLevel", s.ExperienceLevel},
	}
	var missing []string
	for _, f := range required {
		if strings.TrimSpace(f.v) == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return &ValidationError{Message: "Missing required fields", Fields: missing}
	}
	if !emailPattern.MatchString(strings.TrimSpace(s.Email)) {
		return &ValidationError{Message: "Invalid email format", Fields: []string{"email"}}
	}
	return nil
}
