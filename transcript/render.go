package transcript

import (
	"strings"
	"unicode"

	"github.com/charmbracelet/x/ansi"
)

func (r Role) String() string {
	return Label(r)
}

// Label is the stable display label for a role.
func Label(r Role) string {
	switch r {
	case RoleUser:
		return "You"
	case RoleBot:
		return "Bot"
	case RoleError:
		return "Error"
	default:
		return "?"
	}
}

// Sanitize makes server-supplied text inert for a terminal: escape
// sequences are removed and remaining control characters other than
// newline and tab are dropped.
func Sanitize(text string) string {
	text = ansi.Strip(text)
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return strings.Map(func(r rune) rune {
		switch {
		case r == '\n' || r == '\t':
			return r
		case r == '\r':
			return '\n'
		case unicode.IsControl(r):
			return -1
		case unicode.Is(unicode.Bidi_Control, r):
			return -1
		}
		return r
	}, text)
}

// Format renders an entry as plain "Label: text" with sanitized text.
func Format(e Entry) string {
	return Label(e.Role) + ": " + Sanitize(e.Text)
}
