// Package counsellor turns finished exam sessions into AI evaluations. It
// consumes the pending exam result for a participant, renders the
// exam-specific evaluation prompt, and sends it through the GenAI client.
package counsellor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/openai/openai-go"

	"github.com/CampusCompass/VoiceIntake/internal/genai"
	"github.com/CampusCompass/VoiceIntake/internal/models"
)

// ielts and gre prompt templates. The style rules and section structure are
// what the chat surface renders, so they must stay byte-for-byte stable.
const ieltsPromptTemplate = `You are an IELTS Speaking Examiner inside a premium web application.

STRICT STYLE RULES:
No markdown.
No bullet symbols.
No numbering.
No bold text.

Use this structure only:

🗣 Fluency and Coherence
Short explanation.

📚 Lexical Resource
Short explanation.

✍️ Grammar Accuracy
Short explanation.

🔊 Pronunciation
Short explanation.

🎯 Overall Band Score
One clear band score.

💪 Strengths
Two short lines.

⚠️ Weaknesses
Two short lines.

🚀 Improvement Plan
Three short actionable tips.

Target University: %s

Candidate Responses:
%s`

const grePromptTemplate = `You are a GRE Verbal & Analytical Speaking Evaluator.

STRICT STYLE RULES:
No markdown.
No bullets.
No numbering.
Plain text only.

Evaluate based on:

🧠 Logical Thinking
Short explanation.

🗣 Clarity of Explanation
Short explanation.

📚 Vocabulary Usage
Short explanation.

✍️ Sentence Structure
Short explanation.

🎯 Estimated GRE Verbal Score Range
One range.

💪 Strengths
Two short lines.

⚠️ Weaknesses
Two short lines.

🚀 Improvement Plan
Three actionable tips.

Candidate Responses:
%s`

// FormatResponses renders the candidate's answers as numbered
// question/answer blocks.
func FormatResponses(responses []models.ExamResponse) string {
	blocks := make([]string, 0, len(responses))
	for i, r := range responses {
		blocks = append(blocks, fmt.Sprintf("Question %d: %s\nAnswer: %s", i+1, r.Question, r.Answer))
	}
	return strings.Join(blocks, "\n\n")
}

// BuildEvaluationPrompt renders the evaluation prompt for an exam result.
func BuildEvaluationPrompt(result models.ExamResult) (string, error) {
	if err := result.Validate(); err != nil {
		return "", fmt.Errorf("cannot evaluate exam result: %w", err)
	}
	formatted := FormatResponses(result.Responses)
	switch strings.ToLower(result.ExamType) {
	case "ielts":
		return fmt.Sprintf(ieltsPromptTemplate, result.University, formatted), nil
	case "gre":
		return fmt.Sprintf(grePromptTemplate, formatted), nil
	default:
		return "", fmt.Errorf("%w: %q", models.ErrUnknownExamType, result.ExamType)
	}
}

// ResultSource is the store subset the evaluator reads from.
type ResultSource interface {
	ConsumeExamResult(ctx context.Context, participantID string) (models.ExamResult, error)
}

// Evaluator consumes pending exam results and produces evaluations. Each
// pending result is evaluated at most once.
type Evaluator struct {
	results ResultSource
	ai      genai.ClientInterface
}

// NewEvaluator creates an Evaluator.
func NewEvaluator(results ResultSource, ai genai.ClientInterface) *Evaluator {
	return &Evaluator{results: results, ai: ai}
}

// EvaluatePending consumes the participant's pending exam result and
// returns the AI evaluation. models.ErrNoHandoff means nothing is pending.
func (e *Evaluator) EvaluatePending(ctx context.Context, participantID string) (string, error) {
	result, err := e.results.ConsumeExamResult(ctx, participantID)
	if err != nil {
		return "", err
	}
	prompt, err := BuildEvaluationPrompt(result)
	if err != nil {
		return "", err
	}
	slog.Info("Counsellor evaluating exam result", "participant", participantID, "examType", result.ExamType, "responses", len(result.Responses))
	evaluation, err := e.ai.GenerateWithMessages(ctx, []openai.ChatCompletionMessageParamUnion{
		openai.UserMessage(prompt),
	})
	if err != nil {
		return "", fmt.Errorf("evaluation generation failed: %w", err)
	}
	return evaluation, nil
}
