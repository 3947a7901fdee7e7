package slack

import (
	"strings"
	"unicode/utf8"
)

// MaxMessageBytes is the longest text posted in one chat.postMessage call.
const MaxMessageBytes = 40000

// SplitMessage cuts text into chunks of at most max bytes, preferring
// newline boundaries and never splitting a UTF-8 sequence.
func SplitMessage(text string, max int) []string {
	if len(text) <= max {
		return []string{text}
	}
	var chunks []string
	for text != "" {
		if len(text) <= max {
			chunks = append(chunks, text)
			break
		}
		cut := strings.LastIndexByte(text[:max], '\n')
		if cut <= 0 {
			cut = max
			for cut > 0 && !utf8.RuneStart(text[cut]) {
				cut--
			}
			if cut == 0 {
				cut = max
			}
		}
		if chunk := strings.TrimRight(text[:cut], "\n"); chunk != "" {
			chunks = append(chunks, chunk)
		}
		text = strings.TrimLeft(text[cut:], "\n")
	}
	return chunks
}
