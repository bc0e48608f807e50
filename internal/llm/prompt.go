package llm

import (
	"fmt"
	"strings"
)

// truncationMarker is inserted into the prompt when article text exceeds the
// input budget, so the model knows it is seeing a partial article.
const truncationMarker = "[ARTICLE TRUNCATED FOR LENGTH]"

const promptTemplate = `You are a media analysis assistant. Analyze the following article for political slant and factual claims.

Respond with a single JSON object, and nothing else, in this exact shape:
{
  "slant": "<one of: far-left, left, center-left, center, center-right, right, far-right, unclear>",
  "claims": [
    {"statement": "<claim quoted or paraphrased from the article>", "verdict": "<one of: accurate, misleading, unverifiable, false>", "explanation": "<one sentence>"}
  ],
  "report": "<two to four sentence overall assessment>"
}

Write the report in language code %q.

Title: %s

Article:
%s`

// BuildPrompt renders the analysis prompt, truncating the article text to
// maxChars and tagging the truncation visibly.
func BuildPrompt(title, text, language string, maxChars int) string {
	if maxChars > 0 && len(text) > maxChars {
		cut := maxChars
		// Back up to a rune boundary so the cut never splits a character.
		for cut > 0 && !isRuneStart(text[cut]) {
			cut--
		}
		text = text[:cut] + "\n\n" + truncationMarker
	}
	return fmt.Sprintf(promptTemplate, language, strings.TrimSpace(title), text)
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
