package format

import (
	"strings"

	"github.com/mattn/go-runewidth"
)

// Preview condenses a message body for log output: newlines collapsed and
// the result truncated to the given display width (CJK-aware) with an
// ellipsis.
func Preview(text string, width int) string {
	text = strings.Join(strings.Fields(text), " ")
	if runewidth.StringWidth(text) <= width {
		return text
	}
	return runewidth.Truncate(text, width, "…")
}
