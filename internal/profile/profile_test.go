package profile

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/CampusCompass/VoiceIntake/internal/models"
	"github.com/CampusCompass/VoiceIntake/internal/store"
)

func TestCanonicalize(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		allowed []string
		want    string
	}{
		{"exact", "Bachelor's Degree", EducationLevels, "Bachelor's Degree"},
		{"value inside option", "bachelor's", EducationLevels, "Bachelor's Degree"},
		{"option inside value", "I would say completed by now", StatusOptions, "Completed"},
		{"period insensitive", "phd", EducationLevels, "PhD"},
		{"year", "2026", GraduationYears, "2026"},
		{"no match stays blank", "a diploma", EducationLevels, ""},
		{"empty", "", EducationLevels, ""},
		{"only punctuation", "...", EducationLevels, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Canonicalize(tt.value, tt.allowed); got != tt.want {
				t.Errorf("Canonicalize(%q) = %q, want %q", tt.value, got, tt.want)
			}
		})
	}
}

func sampleProfile() models.VoiceProfile {
	return models.VoiceProfile{
		"educationLevel":     {Text: "Bachelor's Degree"},
		"graduationYear":     {Text: "2026"},
		"major":              {Text: "Computer Science."},
		"gpa":                {Text: "8.2 CGPA"},
		"intendedDegree":     {Text: "Master's"},
		"fieldOfStudy":       {Text: "Artificial Intelligence"},
		"targetIntake":       {Text: "Fall 2026"},
		"preferredCountries": {List: []string{"USA", "Germany"}},
		"budgetRange":        {Text: "$40K - $60K"},
		"fundingPlan":        {Text: "Scholarship-Dependent"},
		"ieltsStatus":        {Text: "In Progress"},
		"sopStatus":          {Text: "Completed"},
	}
}

func TestApplyVoiceProfile(t *testing.T) {
	form := ApplyVoiceProfile(sampleProfile())

	if form.EducationLevel != "Bachelor's Degree" {
		t.Errorf("EducationLevel = %q", form.EducationLevel)
	}
	if form.Major != "Computer Science" {
		t.Errorf("Major = %q, trailing period should be stripped", form.Major)
	}
	if form.TargetIntake != "Fall 2026" {
		t.Errorf("TargetIntake = %q", form.TargetIntake)
	}
	if !reflect.DeepEqual(form.PreferredCountries, []string{"USA", "Germany"}) {
		t.Errorf("PreferredCountries = %v", form.PreferredCountries)
	}
	if form.GREStatus != "" {
		t.Errorf("GREStatus = %q, want blank for a field the interview never asks", form.GREStatus)
	}
}

func TestApplyVoiceProfileMissingFields(t *testing.T) {
	form := ApplyVoiceProfile(models.VoiceProfile{})
	if form.EducationLevel != "" || form.Major != "" {
		t.Errorf("empty profile produced non-blank fields: %+v", form)
	}
	if form.PreferredCountries == nil || len(form.PreferredCountries) != 0 {
		t.Errorf("PreferredCountries = %#v, want empty non-nil slice", form.PreferredCountries)
	}
}

func TestValidateStep(t *testing.T) {
	form := ApplyVoiceProfile(sampleProfile())
	for step := 1; step <= 4; step++ {
		if !ValidateStep(form, step) {
			t.Errorf("complete form fails step %d", step)
		}
	}

	incomplete := form
	incomplete.Major = ""
	if ValidateStep(incomplete, 1) {
		t.Error("step 1 passes without a major")
	}
	incomplete = form
	incomplete.PreferredCountries = nil
	if ValidateStep(incomplete, 2) {
		t.Error("step 2 passes without countries")
	}
	if !ValidateStep(FormData{}, 5) {
		t.Error("out-of-range step should be vacuously valid")
	}
}

func TestPrefillConsumesOnce(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	if err := st.SaveVoiceProfile(ctx, "p1", sampleProfile()); err != nil {
		t.Fatalf("SaveVoiceProfile failed: %v", err)
	}

	prefiller := NewPrefiller(st)
	form, err := prefiller.Prefill(ctx, "p1")
	if err != nil {
		t.Fatalf("Prefill failed: %v", err)
	}
	if form.EducationLevel != "Bachelor's Degree" {
		t.Errorf("EducationLevel = %q", form.EducationLevel)
	}

	if _, err := prefiller.Prefill(ctx, "p1"); !errors.Is(err, models.ErrNoHandoff) {
		t.Errorf("second prefill err = %v, want ErrNoHandoff", err)
	}
}
