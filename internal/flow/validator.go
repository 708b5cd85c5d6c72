package flow

import "strings"

// AnswerValidator inspects a raw recognized answer before it is accepted.
// A rejected answer does not consume the question: the engine re-asks the
// same prompt prefixed with the returned reprompt line.
type AnswerValidator func(raw string) (ok bool, reprompt string)

// MinTokensValidator rejects answers with fewer than n space-separated
// tokens. The exam flow uses it to refuse one-word answers.
func MinTokensValidator(n int) AnswerValidator {
	return func(raw string) (bool, string) {
		if len(strings.Fields(raw)) < n {
			return false, "Please give a complete answer."
		}
		return true, ""
	}
}
