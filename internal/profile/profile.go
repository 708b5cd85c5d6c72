// Package profile turns a consumed voice profile into onboarding form data.
// Each select-style field is canonicalized against the form's own allowed
// option list; free-text fields are carried over with a trailing period
// stripped.
package profile

import (
	"context"
	"log/slog"
	"strings"

	"github.com/CampusCompass/VoiceIntake/internal/models"
)

// Allowed option lists per select-style form field.
var (
	EducationLevels = []string{"High School", "Bachelor's Degree", "Master's Degree", "PhD"}
	GraduationYears = []string{"2020", "2021", "2022", "2023", "2024", "2025", "2026"}
	IntendedDegrees = []string{"Bachelor's", "Master's", "MBA", "PhD"}
	TargetIntakes   = []string{"Fall 2025", "Spring 2025", "Fall 2026", "Spring 2026"}
	BudgetRanges    = []string{"Under $20K", "$20K - $40K", "$40K - $60K", "Over $60K"}
	FundingPlans    = []string{"Self-Funded", "Scholarship-Dependent", "Loan-Dependent"}
	StatusOptions   = []string{"Not Started", "In Progress", "Completed"}
)

// FormData is the onboarding wizard's field set.
type FormData struct {
	EducationLevel     string   `json:"educationLevel"`
	GraduationYear     string   `json:"graduationYear"`
	Major              string   `json:"major"`
	GPA                string   `json:"gpa"`
	IntendedDegree     string   `json:"intendedDegree"`
	FieldOfStudy       string   `json:"fieldOfStudy"`
	TargetIntake       string   `json:"targetIntake"`
	PreferredCountries []string `json:"preferredCountries"`
	BudgetRange        string   `json:"budgetRange"`
	FundingPlan        string   `json:"fundingPlan"`
	IELTSStatus        string   `json:"ieltsStatus"`
	GREStatus          string   `json:"greStatus"`
	SOPStatus          string   `json:"sopStatus"`
}

func clean(s string) string {
	return strings.TrimSpace(strings.ReplaceAll(strings.ToLower(s), ".", ""))
}

// Canonicalize matches a spoken value against an allowed option list. The
// match is a substring test in both directions, so "bachelors" finds
// "Bachelor's Degree" and "Completed" finds "completed". No match yields an
// empty string so the field stays blank in the form.
func Canonicalize(value string, allowed []string) string {
	v := clean(value)
	if v == "" {
		return ""
	}
	for _, opt := range allowed {
		cleaned := clean(opt)
		if strings.Contains(cleaned, v) || strings.Contains(v, cleaned) {
			return opt
		}
	}
	return ""
}

func freeText(v models.CanonicalValue) string {
	return strings.TrimSuffix(v.Text, ".")
}

// ApplyVoiceProfile maps a voice profile onto form data.
func ApplyVoiceProfile(p models.VoiceProfile) FormData {
	countries := p["preferredCountries"].List
	if countries == nil {
		countries = []string{}
	}
	return FormData{
		EducationLevel:     Canonicalize(p["educationLevel"].Text, EducationLevels),
		GraduationYear:     Canonicalize(p["graduationYear"].Text, GraduationYears),
		Major:              freeText(p["major"]),
		GPA:                freeText(p["gpa"]),
		IntendedDegree:     Canonicalize(p["intendedDegree"].Text, IntendedDegrees),
		FieldOfStudy:       freeText(p["fieldOfStudy"]),
		TargetIntake:       Canonicalize(p["targetIntake"].Text, TargetIntakes),
		PreferredCountries: countries,
		BudgetRange:        Canonicalize(p["budgetRange"].Text, BudgetRanges),
		FundingPlan:        Canonicalize(p["fundingPlan"].Text, FundingPlans),
		IELTSStatus:        Canonicalize(p["ieltsStatus"].Text, StatusOptions),
		GREStatus:          Canonicalize(p["greStatus"].Text, StatusOptions),
		SOPStatus:          Canonicalize(p["sopStatus"].Text, StatusOptions),
	}
}

// ValidateStep reports whether the wizard step's required fields are filled.
// Steps outside 1..4 are vacuously valid.
func ValidateStep(form FormData, step int) bool {
	switch step {
	case 1:
		return form.EducationLevel != "" && form.Major != "" && form.GraduationYear != ""
	case 2:
		return form.IntendedDegree != "" && form.FieldOfStudy != "" &&
			form.TargetIntake != "" && len(form.PreferredCountries) > 0
	case 3:
		return form.BudgetRange != "" && form.FundingPlan != ""
	case 4:
		return form.IELTSStatus != "" && form.SOPStatus != ""
	}
	return true
}

// ProfileSource is the store subset the prefiller reads from.
type ProfileSource interface {
	ConsumeVoiceProfile(ctx context.Context, participantID string) (models.VoiceProfile, error)
}

// Prefiller consumes pending voice profiles and produces form data.
type Prefiller struct {
	profiles ProfileSource
}

// NewPrefiller creates a Prefiller.
func NewPrefiller(profiles ProfileSource) *Prefiller {
	return &Prefiller{profiles: profiles}
}

// Prefill consumes the participant's pending voice profile and maps it onto
// form data. models.ErrNoHandoff means no profile is pending.
func (p *Prefiller) Prefill(ctx context.Context, participantID string) (FormData, error) {
	voiceProfile, err := p.profiles.ConsumeVoiceProfile(ctx, participantID)
	if err != nil {
		return FormData{}, err
	}
	form := ApplyVoiceProfile(voiceProfile)
	slog.Info("Prefilled onboarding form from voice profile", "participant", participantID, "fields", len(voiceProfile))
	return form, nil
}
