package extraction

import "strings"

var lineEndings = strings.NewReplacer("\r\n", "\n", "\r", "\n", "\x00", "")

// Normalize makes extracted text valid UTF-8 with LF line endings, no NUL
// bytes and no surrounding whitespace
func Normalize(text string) string {
	text = strings.ToValidUTF8(text, "\uFFFD")
	text = lineEndings.Replace(text)
	return strings.TrimSpace(text)
}

func textStats(text string) map[string]interface{} {
	return map[string]interface{}{
		metaCharacterCount: len([]rune(text)),
		metaWordCount:      len(strings.Fields(text)),
	}
}
