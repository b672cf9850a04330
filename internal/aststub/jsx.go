package aststub

import (
	"regexp"
	"strings"
)

type container struct {
	tag  string
	open *regexp.Regexp
}

// toolbarContainers are tried in order; the first one present wins.
var toolbarContainers = []container{
	{tag: "Toolbar", open: regexp.MustCompile(`<Toolbar\b`)},
	{tag: "AppBar", open: regexp.MustCompile(`<AppBar\b`)},
	{tag: "div", open: regexp.MustCompile(`<div\b[^>]*\b(?:className|class|id)\s*=[^>]*(?i:toolbar)`)},
	{tag: "header", open: regexp.MustCompile(`<header\b`)},
}

var returnedJSXRe = regexp.MustCompile(`\breturn\s*\(?\s*(<)([A-Za-z][\w.]*)?`)

// InsertJSXInToolbar inserts element before the closing tag of the first
// toolbar-like container. Without one it targets the outermost element of
// the first returned JSX tree, and as a last resort appends element to the
// end of the content. Nothing is inserted when the target already holds
// element.
func InsertJSXInToolbar(content, element string) (string, bool) {
	element = strings.TrimSpace(element)
	if element == "" {
		return "", false
	}

	for _, c := range toolbarContainers {
		loc := c.open.FindStringIndex(content)
		if loc == nil {
			continue
		}
		if out, ok := insertInto(content, c.tag, loc[0], element); ok {
			return out, true
		}
	}

	if start, tag, ok := returnedRoot(content); ok {
		if out, ok := insertInto(content, tag, start, element); ok {
			return out, true
		}
	}

	if strings.Contains(collapse(content), collapse(element)) {
		return content, true
	}
	if content == "" || strings.HasSuffix(content, "\n") {
		return content + element + "\n", true
	}
	return content + "\n" + element + "\n", true
}

// insertInto places element before the closing tag of the element whose
// opening tag starts at start.
func insertInto(content, tag string, start int, element string) (string, bool) {
	end, ok := tagEnd(content, start)
	if !ok || content[end-1] == '/' {
		return "", false
	}
	closeAt, ok := matchTag(content, tag, start)
	if !ok {
		return "", false
	}
	if strings.Contains(collapse(content[end+1:closeAt]), collapse(element)) {
		return content, true
	}

	if onlyIndentBefore(content, closeAt) {
		at := lineStart(content, closeAt)
		block := indentLines(element, indentAt(content, closeAt)+"  ") + "\n"
		return content[:at] + block + content[at:], true
	}
	return content[:closeAt] + element + content[closeAt:], true
}

// returnedRoot finds the opening tag of the first returned JSX tree. An
// empty tag denotes a fragment.
func returnedRoot(content string) (int, string, bool) {
	for _, m := range returnedJSXRe.FindAllStringSubmatchIndex(content, -1) {
		lt := m[2]
		if m[4] >= 0 {
			return lt, content[m[4]:m[5]], true
		}
		if lt+1 < len(content) && content[lt+1] == '>' {
			return lt, "", true
		}
	}
	return 0, "", false
}

// tagEnd returns the index of the '>' closing the tag that opens at start.
// Braced attribute expressions and quoted values are skipped.
func tagEnd(s string, start int) (int, bool) {
	depth := 0
	for i := start + 1; i < len(s); {
		if s[i] == '"' || s[i] == '\'' || (depth > 0 && s[i] == '`') {
			i = skipLiteral(s, i)
			continue
		}
		switch s[i] {
		case '{':
			depth++
		case '}':
			depth--
		case '>':
			if depth == 0 {
				return i, true
			}
		}
		i++
	}
	return 0, false
}

// matchTag returns the index of the closing tag matching the opening tag
// at start, accounting for nested and self-closing tags of the same name.
func matchTag(s, tag string, start int) (int, bool) {
	openTok, closeTok := "<"+tag, "</"+tag+">"
	if tag == "" {
		openTok = "<>"
	}

	depth := 0
	for i := start; i < len(s); {
		rest := s[i:]
		switch {
		case strings.HasPrefix(rest, closeTok):
			depth--
			if depth == 0 {
				return i, true
			}
			i += len(closeTok)
		case strings.HasPrefix(rest, openTok) && (tag == "" || len(rest) == len(openTok) || !isIdent(rest[len(openTok)])):
			end, ok := tagEnd(s, i)
			if !ok {
				return 0, false
			}
			if s[end-1] != '/' {
				depth++
			}
			i = end + 1
		default:
			i++
		}
	}
	return 0, false
}
