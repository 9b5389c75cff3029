package logger

import "strings"

// stripAnsiCodes removes \x1b[...X colour sequences so file records stay
// grep-friendly. Strings without an escape byte come back unchanged without
// allocating.
func stripAnsiCodes(s string) string {
	esc := strings.IndexByte(s, '\x1b')
	if esc < 0 {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))

	for {
		b.WriteString(s[:esc])
		s = s[esc:]

		if len(s) >= 2 && s[1] == '[' {
			// consume up to and including the terminating letter
			i := 2
			for i < len(s) && !isAsciiLetter(s[i]) {
				i++
			}
			if i < len(s) {
				i++
			}
			s = s[i:]
		} else {
			// a lone escape byte is not a colour sequence, keep it
			b.WriteByte(s[0])
			s = s[1:]
		}

		esc = strings.IndexByte(s, '\x1b')
		if esc < 0 {
			b.WriteString(s)
			return b.String()
		}
	}
}

func isAsciiLetter(c byte) bool {
	return (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z')
}
