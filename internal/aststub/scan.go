package aststub

import "strings"

// skipLiteral returns the index just past a comment or string literal
// starting at i, or i itself when none starts there. Single and double
// quoted strings end at a newline so stray apostrophes in JSX text only
// affect one line.
func skipLiteral(s string, i int) int {
	rest := s[i:]
	switch {
	case strings.HasPrefix(rest, "//"):
		if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
			return i + nl
		}
		return len(s)
	case strings.HasPrefix(rest, "/*"):
		if end := strings.Index(rest[2:], "*/"); end >= 0 {
			return i + 2 + end + 2
		}
		return len(s)
	}

	q := s[i]
	if q != '"' && q != '\'' && q != '`' {
		return i
	}
	for j := i + 1; j < len(s); j++ {
		switch s[j] {
		case '\\':
			j++
		case q:
			return j + 1
		case '\n':
			if q != '`' {
				return j
			}
		}
	}
	return len(s)
}

// matchPair returns the index of the closer matching the opener at open.
func matchPair(s string, open int, opener, closer byte) (int, bool) {
	depth := 0
	for i := open; i < len(s); {
		if j := skipLiteral(s, i); j != i {
			i = j
			continue
		}
		switch s[i] {
		case opener:
			depth++
		case closer:
			depth--
			if depth == 0 {
				return i, true
			}
		}
		i++
	}
	return 0, false
}

// topLevelReturn finds a return keyword directly inside the block spanning
// (open, close).
func topLevelReturn(s string, open, close int) (int, bool) {
	depth := 0
	for i := open + 1; i < close; {
		if j := skipLiteral(s, i); j != i {
			i = j
			continue
		}
		switch s[i] {
		case '{':
			depth++
		case '}':
			depth--
		case 'r':
			if depth == 0 && isWordAt(s, i, "return") {
				return i, true
			}
		}
		i++
	}
	return 0, false
}

func isWordAt(s string, i int, word string) bool {
	if !strings.HasPrefix(s[i:], word) {
		return false
	}
	if i > 0 && isIdent(s[i-1]) {
		return false
	}
	end := i + len(word)
	return end >= len(s) || !isIdent(s[end])
}

func isIdent(c byte) bool {
	return c == '_' || c == '$' ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// lineStart returns the offset of the first byte of the line containing i.
func lineStart(s string, i int) int {
	return strings.LastIndexByte(s[:i], '\n') + 1
}

// indentAt returns the leading whitespace of the line containing i.
func indentAt(s string, i int) string {
	start := lineStart(s, i)
	end := start
	for end < len(s) && (s[end] == ' ' || s[end] == '\t') {
		end++
	}
	return s[start:end]
}

// onlyIndentBefore reports whether the line containing i has nothing but
// whitespace before i.
func onlyIndentBefore(s string, i int) bool {
	return strings.TrimSpace(s[lineStart(s, i):i]) == ""
}

// indentLines prefixes every non-empty line of text with indent.
func indentLines(text, indent string) string {
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	for i, l := range lines {
		if strings.TrimSpace(l) != "" {
			lines[i] = indent + l
		}
	}
	return strings.Join(lines, "\n")
}

// collapse normalises whitespace so presence checks ignore formatting.
func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
