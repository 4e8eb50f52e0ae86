package model

import (
	"strings"

	"github.com/rotisserie/eris"
)

// Stage is the pipeline stage a Deal occupies.
type Stage int

const (
	StageUnknown Stage = iota
	StageUnqualified
	StageMQL
	StageSQL
	StageApplied
	StageDecisionMaking
	StageEnrolled
	StageLost
)

// ConversionWorthyStages lists the stages that produce conversion events, in
// funnel order.
var ConversionWorthyStages = []Stage{
	StageMQL,
	StageSQL,
	StageApplied,
	StageDecisionMaking,
	StageEnrolled,
}

func (s Stage) String() string {
	switch s {
	case StageUnqualified:
		return "UNQUALIFIED"
	case StageMQL:
		return "MQL"
	case StageSQL:
		return "SQL"
	case StageApplied:
		return "APPLIED"
	case StageDecisionMaking:
		return "DECISION_MAKING"
	case StageEnrolled:
		return "ENROLLED"
	case StageLost:
		return "LOST"
	default:
		return "UNKNOWN"
	}
}

// ParseStage parses a stage name such as "DECISION_MAKING", "decision-making"
// or "Decision Making".
func ParseStage(name string) (Stage, error) {
	n := strings.ToUpper(strings.TrimSpace(name))
	n = strings.NewReplacer("-", "_", " ", "_").Replace(n)
	switch n {
	case "UNQUALIFIED":
		return StageUnqualified, nil
	case "MQL":
		return StageMQL, nil
	case "SQL":
		return StageSQL, nil
	case "APPLIED":
		return StageApplied, nil
	case "DECISION_MAKING", "DECISIONMAKING":
		return StageDecisionMaking, nil
	case "ENROLLED":
		return StageEnrolled, nil
	case "LOST":
		return StageLost, nil
	default:
		return StageUnknown, eris.Errorf("model: unknown stage %q", name)
	}
}

// ConversionWorthy reports whether a deal in this stage yields a conversion.
func (s Stage) ConversionWorthy() bool {
	_, ok := s.Conversion()
	return ok
}

// StageConversion is the conversion reported for a stage. Fraction is the
// assumed win probability applied to the baseline tuition value.
type StageConversion struct {
	Action   string
	Fraction float64
}

// Conversion returns the conversion action and value fraction for the stage.
// ok is false for stages that never convert.
func (s Stage) Conversion() (conv StageConversion, ok bool) {
	switch s {
	case StageMQL:
		return StageConversion{Action: "MQL - Marketing Qualified Lead", Fraction: 0.4}, true
	case StageSQL:
		return StageConversion{Action: "SQL - Sales Qualified Lead", Fraction: 0.6}, true
	case StageApplied:
		return StageConversion{Action: "Application Submitted", Fraction: 0.8}, true
	case StageDecisionMaking:
		return StageConversion{Action: "Decision Making", Fraction: 0.9}, true
	case StageEnrolled:
		return StageConversion{Action: "Enrolled Student", Fraction: 1.0}, true
	case StageUnknown, StageUnqualified, StageLost:
		return StageConversion{}, false
	}
	return StageConversion{}, false
}

// MarshalText implements encoding.TextMarshaler.
func (s Stage) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Stage) UnmarshalText(b []byte) error {
	if strings.EqualFold(string(b), "UNKNOWN") {
		*s = StageUnknown
		return nil
	}
	st, err := ParseStage(string(b))
	if err != nil {
		return err
	}
	*s = st
	return nil
}
