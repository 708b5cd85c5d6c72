package flow

import (
	"errors"
	"strings"
	"testing"

	"github.com/CampusCompass/VoiceIntake/internal/models"
)

func TestOnboardingCatalog(t *testing.T) {
	catalog := OnboardingCatalog()
	if catalog.Len() != 12 {
		t.Fatalf("onboarding catalog has %d questions, want 12", catalog.Len())
	}
	seen := make(map[string]bool)
	for i, q := range catalog.Questions {
		if q.Key == "" {
			t.Errorf("question %d has no field key", i)
		}
		if seen[q.Key] {
			t.Errorf("duplicate field key %q", q.Key)
		}
		seen[q.Key] = true
		if q.Prompt == "" {
			t.Errorf("question %d (%s) has no prompt", i, q.Key)
		}
	}
	if catalog.Questions[0].Key != "educationLevel" {
		t.Errorf("first question key = %q, want educationLevel", catalog.Questions[0].Key)
	}
	if catalog.Questions[11].Key != "sopStatus" {
		t.Errorf("last question key = %q, want sopStatus", catalog.Questions[11].Key)
	}
}

func TestOnboardingCatalogReturnsCopy(t *testing.T) {
	first := OnboardingCatalog()
	first.Questions[0].Prompt = "mutated"
	if got := OnboardingCatalog().Questions[0].Prompt; got == "mutated" {
		t.Error("catalog mutation leaked into subsequent calls")
	}
}

func TestExamCatalog(t *testing.T) {
	ielts, err := ExamCatalog("ielts")
	if err != nil {
		t.Fatalf("ExamCatalog(ielts) failed: %v", err)
	}
	if ielts.Len() != 4 {
		t.Errorf("ielts catalog has %d questions, want 4", ielts.Len())
	}
	for i, q := range ielts.Questions {
		if q.Key != "" {
			t.Errorf("exam question %d has a field key %q, exam answers are positional", i, q.Key)
		}
	}

	gre, err := ExamCatalog("GRE")
	if err != nil {
		t.Fatalf("ExamCatalog(GRE) failed: %v", err)
	}
	if gre.Len() != 3 {
		t.Errorf("gre catalog has %d questions, want 3", gre.Len())
	}

	if _, err := ExamCatalog("sat"); !errors.Is(err, models.ErrUnknownExamType) {
		t.Errorf("ExamCatalog(sat) err = %v, want ErrUnknownExamType", err)
	}
}

func TestExamTypes(t *testing.T) {
	types := ExamTypes()
	for _, et := range types {
		if _, err := ExamCatalog(et); err != nil {
			t.Errorf("listed exam type %q has no catalog: %v", et, err)
		}
	}
	if len(types) != 2 {
		t.Errorf("ExamTypes() = %v, want ielts and gre", types)
	}
}

func TestSpokenPrompt(t *testing.T) {
	q := models.Question{Prompt: "What is your major?", FormatHint: "For example: Physics"}
	got := SpokenPrompt(q)
	if !strings.HasPrefix(got, q.Prompt) || !strings.Contains(got, q.FormatHint) {
		t.Errorf("SpokenPrompt = %q, want prompt followed by hint", got)
	}

	bare := models.Question{Prompt: "Tell me about yourself."}
	if got := SpokenPrompt(bare); got != bare.Prompt {
		t.Errorf("SpokenPrompt without hint = %q, want %q", got, bare.Prompt)
	}
}
