package qbxml

import "strings"

// qbXML rejects raw reserved characters in free-text fields. QuickBooks also
// chokes on control characters, so those are stripped rather than escaped.
var escaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&apos;",
)

// Escape sanitizes a free-text value for embedding in a qbXML element.
func Escape(s string) string {
	s = escaper.Replace(s)
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r < 0x20 && r != '\t' && r != '\n' && r != '\r' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
