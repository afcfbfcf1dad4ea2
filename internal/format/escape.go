package format

import "strings"

var markupEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

func escapeAll(s string) string { return markupEscaper.Replace(s) }

// escapeFirst replaces only the first occurrence of each reserved character,
// in the order &, <, >. Kept for receivers that depend on the legacy output.
func escapeFirst(s string) string {
	s = strings.Replace(s, "&", "&amp;", 1)
	s = strings.Replace(s, "<", "&lt;", 1)
	return strings.Replace(s, ">", "&gt;", 1)
}
