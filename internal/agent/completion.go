package agent

import "strings"

// DefaultCompletionWindow is how many trailing history entries are scanned
// for a completion phrase.
const DefaultCompletionWindow = 3

// DefaultCompletionPhrases end a session when the model says one of them.
var DefaultCompletionPhrases = []string{
	"task completed",
	"successfully completed",
	"finished the task",
	"new suspect",
}

// Completed reports whether any of the last window history entries contains
// one of phrases, ignoring case.
func Completed(history []string, phrases []string, window int) bool {
	if window <= 0 {
		window = DefaultCompletionWindow
	}
	start := len(history) - window
	if start < 0 {
		start = 0
	}
	for _, entry := range history[start:] {
		lower := strings.ToLower(entry)
		for _, phrase := range phrases {
			if phrase == "" {
				continue
			}
			if strings.Contains(lower, strings.ToLower(phrase)) {
				return true
			}
		}
	}
	return false
}
