// Package notify alerts the admissions team about hot leads.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"html/template"

	"github.com/rotisserie/eris"

	"github.com/sells-group/leadsync/internal/model"
)

// Notifier sends hot-lead alerts.
type Notifier interface {
	NotifyHotLead(ctx context.Context, lead HotLead) error
}

// HotLead is the content of a hot-lead alert.
type HotLead struct {
	FirstName     string
	LastName      string
	Email         string
	Phone         string
	Course        string
	Score         int
	Qualification model.Qualification
	Labels        model.QualificationData
	Source        string
	Medium        string
	Campaign      string
}

// HotLeadFrom builds an alert from a scored lead.
func HotLeadFrom(l model.Lead) HotLead {
	last := l.LastTouch.WithDefaults()
	return HotLead{
		FirstName:     l.FirstName,
		LastName:      l.LastName,
		Email:         l.Email,
		Phone:         l.Phone,
		Course:        l.Course,
		Score:         l.Score,
		Qualification: l.Qualification,
		Labels:        l.Labels,
		Source:        last.Source,
		Medium:        last.Medium,
		Campaign:      last.Campaign,
	}
}

// Address is an e-mail participant.
type Address struct {
	Name  string
	Email string
}

// Subject renders the alert subject line.
func Subject(l HotLead) string {
	return fmt.Sprintf("HOT LEAD ALERT: %s %s - Score: %d/20", l.FirstName, l.LastName, l.Score)
}

var bodyTmpl = template.Must(template.New("hot-lead").Parse(`<div style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto;">
  <div style="background-color: #d32f2f; padding: 20px; text-align: center;">
    <h1 style="color: white; margin: 0;">Hot Lead Alert</h1>
  </div>
  <div style="padding: 20px; background-color: #f8f9fa;">
    <h2 style="color: #d32f2f;">Lead Score: {{.Score}}/20 - {{.Qualification.Label}}</h2>
    <div style="background: white; padding: 15px; border-radius: 8px; margin: 15px 0;">
      <h3>Contact Information:</h3>
      <p><strong>Name:</strong> {{.FirstName}} {{.LastName}}</p>
      <p><strong>Email:</strong> {{.Email}}</p>
      <p><strong>Phone:</strong> {{.Phone}}</p>
    </div>
    <div style="background: white; padding: 15px; border-radius: 8px; margin: 15px 0;">
      <h3>Course Interest:</h3>
      <p><strong>Course:</strong> {{.Course}}</p>
      <p><strong>Timeline:</strong> {{.Labels.StudyTimeline}}</p>
      <p><strong>Program Type:</strong> {{.Labels.ProgramType}}</p>
      <p><strong>Investment Range:</strong> {{.Labels.InvestmentRange}}</p>
    </div>
    <div style="background: white; padding: 15px; border-radius: 8px; margin: 15px 0;">
      <h3>Goals &amp; Experience:</h3>
      <p><strong>Career Goals:</strong> {{.Labels.CareerGoals}}</p>
      <p><strong>Experience Level:</strong> {{.Labels.ExperienceLevel}}</p>
    </div>
    <div style="background: white; padding: 15px; border-radius: 8px; margin: 15px 0;">
      <h3>Lead Source:</h3>
      <p><strong>Source:</strong> {{.Source}}</p>
      <p><strong>Medium:</strong> {{.Medium}}</p>
      <p><strong>Campaign:</strong> {{.Campaign}}</p>
    </div>
    <div style="text-align: center; margin: 20px 0;">
      <p style="color: #d32f2f; font-weight: bold;">IMMEDIATE ACTION REQUIRED</p>
      <p>This is a high-priority lead. Contact within 1 hour for best conversion rates.</p>
    </div>
  </div>
</div>
`))

// Body renders the HTML alert body. All values are escaped.
func Body(l HotLead) (string, error) {
	var buf bytes.Buffer
	if err := bodyTmpl.Execute(&buf, l); err != nil {
		return "", eris.Wrap(err, "notify: render body")
	}
	return buf.String(), nil
}

// Noop discards alerts.
type Noop struct{}

// NotifyHotLead implements Notifier.
func (Noop) NotifyHotLead(context.Context, HotLead) error { return nil }
