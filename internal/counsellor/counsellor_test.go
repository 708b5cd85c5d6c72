package counsellor

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/CampusCompass/VoiceIntake/internal/genai"
	"github.com/CampusCompass/VoiceIntake/internal/models"
	"github.com/CampusCompass/VoiceIntake/internal/store"
)

func sampleResult() models.ExamResult {
	return models.ExamResult{
		ExamType:   "ielts",
		University: "TU Munich",
		Responses: []models.ExamResponse{
			{Question: "Tell me about yourself.", Answer: "I am a software developer from Pune."},
			{Question: "Why do you want to study abroad?", Answer: "I want to work with leading researchers."},
		},
	}
}

func TestFormatResponses(t *testing.T) {
	got := FormatResponses(sampleResult().Responses)
	want := "Question 1: Tell me about yourself.\nAnswer: I am a software developer from Pune.\n\n" +
		"Question 2: Why do you want to study abroad?\nAnswer: I want to work with leading researchers."
	if got != want {
		t.Errorf("FormatResponses =\n%q\nwant\n%q", got, want)
	}
}

func TestBuildEvaluationPromptIELTS(t *testing.T) {
	prompt, err := BuildEvaluationPrompt(sampleResult())
	if err != nil {
		t.Fatalf("BuildEvaluationPrompt failed: %v", err)
	}
	for _, section := range []string{
		"IELTS Speaking Examiner",
		"Fluency and Coherence",
		"Lexical Resource",
		"Overall Band Score",
		"Improvement Plan",
		"Target University: TU Munich",
		"Question 1: Tell me about yourself.",
	} {
		if !strings.Contains(prompt, section) {
			t.Errorf("ielts prompt missing %q", section)
		}
	}
}

func TestBuildEvaluationPromptGRE(t *testing.T) {
	result := sampleResult()
	result.ExamType = "gre"
	prompt, err := BuildEvaluationPrompt(result)
	if err != nil {
		t.Fatalf("BuildEvaluationPrompt failed: %v", err)
	}
	for _, section := range []string{
		"GRE Verbal & Analytical Speaking Evaluator",
		"Logical Thinking",
		"Estimated GRE Verbal Score Range",
		"Candidate Responses:",
	} {
		if !strings.Contains(prompt, section) {
			t.Errorf("gre prompt missing %q", section)
		}
	}
	if strings.Contains(prompt, "Target University") {
		t.Error("gre prompt carries a target university section")
	}
}

func TestBuildEvaluationPromptErrors(t *testing.T) {
	bad := sampleResult()
	bad.ExamType = "sat"
	if _, err := BuildEvaluationPrompt(bad); !errors.Is(err, models.ErrUnknownExamType) {
		t.Errorf("unknown exam type err = %v", err)
	}

	empty := models.ExamResult{ExamType: "ielts"}
	if _, err := BuildEvaluationPrompt(empty); err == nil {
		t.Error("result without responses accepted")
	}
}

func TestEvaluatePendingConsumesOnce(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	if err := st.SaveExamResult(ctx, "p1", sampleResult()); err != nil {
		t.Fatalf("SaveExamResult failed: %v", err)
	}
	mock := &genai.MockClient{Response: "🎯 Overall Band Score\n7.5"}
	ev := NewEvaluator(st, mock)

	evaluation, err := ev.EvaluatePending(ctx, "p1")
	if err != nil {
		t.Fatalf("EvaluatePending failed: %v", err)
	}
	if !strings.Contains(evaluation, "7.5") {
		t.Errorf("evaluation = %q", evaluation)
	}
	if mock.Calls() != 1 {
		t.Errorf("generation called %d times, want 1", mock.Calls())
	}

	if _, err := ev.EvaluatePending(ctx, "p1"); !errors.Is(err, models.ErrNoHandoff) {
		t.Errorf("second evaluate err = %v, want ErrNoHandoff", err)
	}
	if mock.Calls() != 1 {
		t.Errorf("consumed result evaluated twice")
	}
}
