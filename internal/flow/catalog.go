package flow

import (
	"fmt"
	"strings"

	"github.com/CampusCompass/VoiceIntake/internal/models"
)

// Catalog is the immutable ordered question list a session walks through.
type Catalog struct {
	Name      string
	Questions []models.Question
}

// Len returns the number of questions.
func (c Catalog) Len() int { return len(c.Questions) }

// onboardingQuestions is the profile-building interview, one keyed question
// per onboarding form field.
var onboardingQuestions = []models.Question{
	{
		Key:        "educationLevel",
		Prompt:     "What is your current education level?",
		FormatHint: "You can say: Bachelor's degree",
	},
	{
		Key:        "graduationYear",
		Prompt:     "What is your expected graduation year?",
		FormatHint: "For example: 2026",
	},
	{
		Key:        "major",
		Prompt:     "What is your major or primary field of study?",
		FormatHint: "For example: Computer Science",
	},
	{
		Key:        "gpa",
		Prompt:     "What is your current GPA or percentage?",
		FormatHint: "For example: 8.2 CGPA",
	},
	{
		Key:        "intendedDegree",
		Prompt:     "Which degree are you planning to pursue for higher studies?",
		FormatHint: "You can say: Master's",
	},
	{
		Key:        "fieldOfStudy",
		Prompt:     "What field do you want to specialize in?",
		FormatHint: "For example: Computer Science",
	},
	{
		Key:        "targetIntake",
		Prompt:     "Which intake are you targeting?",
		FormatHint: "You can say: Fall 2025 or Spring 2025",
	},
	{
		Key:        "preferredCountries",
		Prompt:     "Which countries are you interested in studying in?",
		FormatHint: "You can say one or more countries like: USA, Germany",
	},
	{
		Key:        "budgetRange",
		Prompt:     "What is your approximate budget range for your studies?",
		FormatHint: "You can say: Under 20k or 40k",
	},
	{
		Key:        "fundingPlan",
		Prompt:     "How do you plan to fund your studies?",
		FormatHint: "You can say: Scholarship or loan dependent",
	},
	{
		Key:        "ieltsStatus",
		Prompt:     "What is your IELTS or TOEFL preparation status?",
		FormatHint: "You can say: Not started, In progress, or Completed",
	},
	{
		Key:        "sopStatus",
		Prompt:     "What is the status of your Statement of Purpose preparation?",
		FormatHint: "You can say: Not started, In progress, or Completed",
	},
}

// examQuestionSets holds the free-form question sets per exam type. Answers
// are stored positionally against the question text.
var examQuestionSets = map[string][]string{
	"ielts": {
		"Tell me about yourself.",
		"Why do you want to study abroad?",
		"Describe a challenge you recently faced.",
		"Do you prefer studying alone or in a group? Why?",
	},
	"gre": {
		"Describe a problem you solved logically.",
		"Explain a concept you recently learned.",
		"How do you handle time pressure?",
	},
}

// OnboardingCatalog returns the onboarding interview catalog.
func OnboardingCatalog() Catalog {
	questions := make([]models.Question, len(onboardingQuestions))
	copy(questions, onboardingQuestions)
	return Catalog{Name: string(models.FlowTypeOnboarding), Questions: questions}
}

// ExamCatalog returns the question catalog for the given exam type.
func ExamCatalog(examType string) (Catalog, error) {
	set, ok := examQuestionSets[strings.ToLower(examType)]
	if !ok {
		return Catalog{}, fmt.Errorf("%w: %q", models.ErrUnknownExamType, examType)
	}
	questions := make([]models.Question, 0, len(set))
	for _, prompt := range set {
		questions = append(questions, models.Question{Prompt: prompt})
	}
	return Catalog{Name: strings.ToLower(examType), Questions: questions}, nil
}

// ExamTypes lists the supported exam types.
func ExamTypes() []string {
	return []string{"ielts", "gre"}
}

// SpokenPrompt is what the agent actually says for a question: the prompt
// followed by its format hint, if any.
func SpokenPrompt(q models.Question) string {
	if q.FormatHint == "" {
		return q.Prompt
	}
	return q.Prompt + " " + q.FormatHint
}
