package pgcopy

// appendEscaped appends s with COPY text escaping: a literal backslash,
// newline, carriage return or tab is prefixed with a backslash.
func appendEscaped(dst []byte, s string) []byte {
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '\\', '\n', '\r', '\t':
			dst = append(dst, '\\', c)
		default:
			dst = append(dst, c)
		}
	}
	return dst
}

// AppendArrayElem appends s escaped for use inside a double-quoted element
// of a text[] literal travelling through COPY: quote and backslash get an
// array-level backslash, and the result is COPY-escaped on top.
func AppendArrayElem(dst []byte, s string) []byte {
	return appendHashEscaped(dst, s)
}

// appendHashEscaped appends s escaped for use inside a double-quoted hstore
// literal that itself travels through COPY. The value is first escaped as a
// hash literal (quote and backslash get a backslash) and the result is then
// COPY-escaped, so each original backslash ends up as four backslashes on
// the wire. This byte layout is a compatibility contract; do not change it.
func appendHashEscaped(dst []byte, s string) []byte {
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '"':
			dst = append(dst, '\\', '\\', '"')
		case '\\':
			dst = append(dst, '\\', '\\', '\\', '\\')
		case '\n':
			dst = append(dst, '\\', '\n')
		case '\r':
			dst = append(dst, '\\', '\r')
		case '\t':
			dst = append(dst, '\\', '\t')
		default:
			dst = append(dst, c)
		}
	}
	return dst
}
