package sanitize

import (
	"regexp"
	"strings"
)

var controlChars = regexp.MustCompile(`[\x00-\x1f\x7f]`)

// DisplayText cleans user-supplied display text such as call titles.
// Control characters and HTML tags are stripped; the text itself is kept
// verbatim since it is stored and rendered as plain text.
func DisplayText(input string) string {
	input = controlChars.ReplaceAllString(input, "")
	input = stripHTML(input)
	return strings.TrimSpace(input)
}

// ValidateStringLength checks if string length is within bounds
func ValidateStringLength(input string, minLen, maxLen int) bool {
	return len(input) >= minLen && len(input) <= maxLen
}

var (
	scriptRegex = regexp.MustCompile(`(?i)<script[^>]*>.*?</script>`)
	styleRegex  = regexp.MustCompile(`(?i)<style[^>]*>.*?</style>`)
	htmlRegex   = regexp.MustCompile(`<[^>]*>`)
)

func stripHTML(input string) string {
	input = scriptRegex.ReplaceAllString(input, "")
	input = styleRegex.ReplaceAllString(input, "")
	return htmlRegex.ReplaceAllString(input, "")
}
