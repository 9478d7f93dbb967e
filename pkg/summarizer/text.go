package summarizer

import "strings"

// sentencesPerParagraph controls how ReflowParagraphs groups output.
const sentencesPerParagraph = 3

// TruncateTokens cuts text to at most max whitespace-delimited tokens.
// Token boundaries approximate the model tokenizer closely enough that a
// small max margin on the caller's side avoids overruns.
func TruncateTokens(text string, max int) string {
	if max <= 0 {
		return text
	}
	fields := strings.Fields(text)
	if len(fields) <= max {
		return strings.Join(fields, " ")
	}
	return strings.Join(fields[:max], " ")
}

// ReflowParagraphs normalizes model output into readable paragraphs:
// whitespace is collapsed and sentences are grouped a few at a time with
// blank lines between groups.
func ReflowParagraphs(text string) string {
	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return ""
	}

	var b strings.Builder
	for i, sentence := range sentences {
		if i > 0 {
			if i%sentencesPerParagraph == 0 {
				b.WriteString("\n\n")
			} else {
				b.WriteString(" ")
			}
		}
		b.WriteString(sentence)
	}
	return b.String()
}

// splitSentences splits on terminal punctuation, keeping the punctuation
// with its sentence. Good enough for model prose; not a linguistic parser.
func splitSentences(text string) []string {
	joined := strings.Join(strings.Fields(text), " ")
	if joined == "" {
		return nil
	}

	var sentences []string
	start := 0
	for i := 0; i < len(joined); i++ {
		switch joined[i] {
		case '.', '!', '?':
			// Absorb any run of terminal punctuation.
			end := i + 1
			for end < len(joined) && (joined[end] == '.' || joined[end] == '!' || joined[end] == '?') {
				end++
			}
			s := strings.TrimSpace(joined[start:end])
			if s != "" {
				sentences = append(sentences, s)
			}
			start = end
			i = end - 1
		}
	}
	if rest := strings.TrimSpace(joined[start:]); rest != "" {
		sentences = append(sentences, rest)
	}
	return sentences
}
