package protocol

import "strings"

// Escape markers reserved by the wire protocol for spaces, tabs, newlines
// and CRLF pairs in a DATA value, so a newline never ends the frame early.
// The separators '|', ',' and ':' have no marker and are sent verbatim; a
// ',' inside a value splits it into two DATA pairs on decode. The codec
// owns these; the engine never sees them (spec.md §9, "Escape markers are
// part of the wire protocol, not the engine").
const (
	markerSpace   = "__SPACE__"
	markerTab     = "__TAB__"
	markerNewline = "__NEWLINE__"
	markerCRLF    = "__CRLF__"
)

// escapeText replaces literal control characters with their wire markers,
// CRLF first so a "\r\n" pair is not double-escaped as "\r" + "\n".
func escapeText(s string) string {
	s = strings.ReplaceAll(s, "\r\n", markerCRLF)
	s = strings.ReplaceAll(s, "\n", markerNewline)
	s = strings.ReplaceAll(s, "\t", markerTab)
	s = strings.ReplaceAll(s, " ", markerSpace)
	return s
}

// unescapeText reverses escapeText, decoding wire markers back to literal
// characters before the value reaches the engine.
func unescapeText(s string) string {
	s = strings.ReplaceAll(s, markerCRLF, "\r\n")
	s = strings.ReplaceAll(s, markerNewline, "\n")
	s = strings.ReplaceAll(s, markerTab, "\t")
	s = strings.ReplaceAll(s, markerSpace, " ")
	return s
}
