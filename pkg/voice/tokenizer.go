package voice

import (
	"regexp"
	"strings"
)

var sentenceEnd = regexp.MustCompile(`[.!?]+\s+`)

// SentenceTokenizer splits agent text into chunks for TTS. A sentence shorter
// than MinSentenceLen characters is joined with the one after it.
type SentenceTokenizer struct {
	MinSentenceLen int
}

// Split returns the chunks of text in order. Blank input yields nil.
func (t SentenceTokenizer) Split(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var sentences []string
	start := 0
	for _, match := range sentenceEnd.FindAllStringIndex(text, -1) {
		if s := strings.TrimSpace(text[start:match[1]]); s != "" {
			sentences = append(sentences, s)
		}
		start = match[1]
	}
	if s := strings.TrimSpace(text[start:]); s != "" {
		sentences = append(sentences, s)
	}

	var chunks []string
	pending := ""
	for _, s := range sentences {
		if pending != "" {
			s = pending + " " + s
		}
		if len(s) < t.MinSentenceLen {
			pending = s
			continue
		}
		pending = ""
		chunks = append(chunks, s)
	}
	if pending != "" {
		if len(chunks) == 0 {
			return []string{pending}
		}
		chunks[len(chunks)-1] += " " + pending
	}
	return chunks
}
