package aststub

import (
	"regexp"
	"strings"

	"github.com/fyrsmithlabs/patchd/internal/anchor"
)

// componentHeadingRe matches function and arrow component headings with a
// capitalised name. Group 1 is a function component, group 2 an arrow one.
var componentHeadingRe = regexp.MustCompile(
	`(?m)^[ \t]*(?:export\s+(?:default\s+)?)?` +
		`(?:function\s+([A-Z][\w$]*)\s*(?:<[^>\n]*>)?\s*\(` +
		`|(?:const|let|var)\s+([A-Z][\w$]*)\s*(?::[^=\n]+)?=\s*(?:async\s+)?(?:\([^)]*\)|[\w$]+)\s*(?::[^=\n]+)?=>\s*\{)`)

// effectKeyLen bounds the prefix used to detect an existing effect.
const effectKeyLen = 60

type component struct {
	name  string
	open  int // body opening brace
	close int // body closing brace
}

// findComponent locates the first component body, or the one called want.
func findComponent(content, want string) (component, bool) {
	for _, m := range componentHeadingRe.FindAllStringSubmatchIndex(content, -1) {
		var (
			name string
			open int
		)
		if m[2] >= 0 {
			name = content[m[2]:m[3]]
			closeParen, ok := matchPair(content, m[1]-1, '(', ')')
			if !ok {
				continue
			}
			rel := strings.IndexByte(content[closeParen:], '{')
			if rel < 0 {
				continue
			}
			open = closeParen + rel
		} else {
			name = content[m[4]:m[5]]
			open = m[1] - 1
		}
		if want != "" && name != want {
			continue
		}

		end, ok := matchPair(content, open, '{', '}')
		if !ok {
			continue
		}
		return component{name: name, open: open, close: end}, true
	}
	return component{}, false
}

// InsertUseEffect inserts an effect into a component body, before its
// top-level return when there is one and before the closing brace
// otherwise. Code that is not already a useEffect call is wrapped in one
// with an empty dependency list. The useEffect import from react is added
// when the effect calls it unqualified.
func InsertUseEffect(content, componentName, code string) (string, bool) {
	code = strings.TrimSpace(code)
	if code == "" {
		return "", false
	}
	effect := code
	if !strings.Contains(code, "useEffect(") {
		effect = "useEffect(() => {\n" + indentLines(code, "  ") + "\n}, []);"
	}

	c, ok := findComponent(content, strings.TrimSpace(componentName))
	if !ok {
		return "", false
	}
	if hasEffect(content[c.open:c.close], code) {
		return content, true
	}

	var at int
	var block string
	if ret, ok := topLevelReturn(content, c.open, c.close); ok {
		if onlyIndentBefore(content, ret) {
			at = lineStart(content, ret)
			block = indentLines(effect, indentAt(content, ret)) + "\n\n"
		} else {
			at = ret
			block = collapse(effect) + " "
		}
	} else if onlyIndentBefore(content, c.close) {
		at = lineStart(content, c.close)
		block = indentLines(effect, indentAt(content, c.close)+"  ") + "\n"
	} else {
		at = c.close
		block = "\n" + indentLines(effect, "  ") + "\n"
	}

	out := content[:at] + block + content[at:]
	if strings.Contains(effect, "useEffect(") && !strings.Contains(effect, "React.useEffect(") {
		out = anchor.EnsureImport(out, "useEffect", "react")
	}
	return out, true
}

// hasEffect reports whether body already contains a prefix of code.
func hasEffect(body, code string) bool {
	key := collapse(code)
	if len(key) > effectKeyLen {
		key = key[:effectKeyLen]
	}
	return strings.Contains(collapse(body), key)
}
