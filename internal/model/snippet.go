package model

import "strings"

const snippetLen = 200

// Snippet derives the list-view preview for a message: the first 200
// characters of the text body, falling back to the subject.
func Snippet(textBody, subject string) string {
	src := strings.TrimSpace(textBody)
	if src == "" {
		src = strings.TrimSpace(subject)
	}
	runes := []rune(src)
	if len(runes) > snippetLen {
		return string(runes[:snippetLen])
	}
	return src
}
