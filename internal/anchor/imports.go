package anchor

import (
	"regexp"
	"strings"
)

// importStmtRe matches a complete ES import statement, including
// multi-line named import lists and side-effect imports.
var importStmtRe = regexp.MustCompile(`(?m)^[ \t]*import\s*(?:[^;'"]*?\bfrom\s*)?(['"])[^'"\n]+['"][ \t]*;?`)

// EnsureImport makes sure content imports named from moduleName.
//
// It is idempotent: when an import from moduleName already binds named the
// content is returned unchanged. Otherwise an existing named import from the
// same module is extended, a default import from it gains a named list, or a
// new import statement is inserted after the last import (or after any
// shebang, directive and leading comments when the file has no imports).
func EnsureImport(content, named, moduleName string) string {
	named = strings.TrimSpace(named)
	moduleName = strings.TrimSpace(moduleName)
	if named == "" || moduleName == "" {
		return content
	}
	mod := regexp.QuoteMeta(moduleName)

	namedRe := regexp.MustCompile(`(?m)^[ \t]*import\s+(?:type\s+)?(?:([\w$]+)\s*,\s*)?\{([^}]*)\}\s*from\s*['"]` + mod + `['"]`)
	defaultRe := regexp.MustCompile(`(?m)^([ \t]*import\s+)([\w$]+)(\s+from\s*['"]` + mod + `['"])`)
	namespaceRe := regexp.MustCompile(`(?m)^[ \t]*import\s+(?:[\w$]+\s*,\s*)?\*\s+as\s+([\w$]+)\s+from\s*['"]` + mod + `['"]`)

	// Every import from the module is checked before any is extended.
	namedLocs := namedRe.FindAllStringSubmatchIndex(content, -1)
	for _, loc := range namedLocs {
		if loc[2] >= 0 && content[loc[2]:loc[3]] == named {
			return content
		}
		if bindsName(content[loc[4]:loc[5]], named) {
			return content
		}
	}
	defaultLocs := defaultRe.FindAllStringSubmatchIndex(content, -1)
	for _, loc := range defaultLocs {
		if content[loc[4]:loc[5]] == named {
			return content
		}
	}
	for _, m := range namespaceRe.FindAllStringSubmatch(content, -1) {
		if m[1] == named {
			return content
		}
	}

	if len(namedLocs) > 0 {
		loc := namedLocs[0]
		return content[:loc[4]] + extendList(content[loc[4]:loc[5]], named) + content[loc[5]:]
	}
	if len(defaultLocs) > 0 {
		loc := defaultLocs[0]
		return content[:loc[5]] + ", { " + named + " }" + content[loc[5]:]
	}

	quote, semi := importStyle(content)
	stmt := "import { " + named + " } from " + quote + moduleName + quote + semi

	if all := importStmtRe.FindAllStringIndex(content, -1); len(all) > 0 {
		end := all[len(all)-1][1]
		return content[:end] + "\n" + stmt + content[end:]
	}

	pos := preambleEnd(content)
	if pos >= len(content) && content != "" && !strings.HasSuffix(content, "\n") {
		return content + "\n" + stmt + "\n"
	}
	return content[:pos] + stmt + "\n" + content[pos:]
}

// bindsName reports whether a named import list binds name locally.
func bindsName(list, name string) bool {
	for _, entry := range strings.Split(list, ",") {
		entry = strings.TrimSpace(entry)
		entry = strings.TrimPrefix(entry, "type ")
		if entry == "" {
			continue
		}
		local := entry
		if i := strings.Index(entry, " as "); i >= 0 {
			local = strings.TrimSpace(entry[i+4:])
		}
		if local == name {
			return true
		}
	}
	return false
}

// extendList appends name to the inside of a brace list, keeping the
// list's trailing whitespace.
func extendList(list, name string) string {
	body := strings.TrimRight(list, " \t\r\n")
	tail := list[len(body):]
	switch {
	case strings.TrimSpace(body) == "":
		return " " + name + " "
	case strings.HasSuffix(body, ","):
		return body + " " + name + tail
	default:
		return body + ", " + name + tail
	}
}

// importStyle mirrors the quote and semicolon style of the first import.
func importStyle(content string) (quote, semi string) {
	quote, semi = "'", ";"
	m := importStmtRe.FindStringSubmatch(content)
	if m == nil {
		return quote, semi
	}
	quote = m[1]
	if !strings.HasSuffix(strings.TrimRight(m[0], " \t"), ";") {
		semi = ""
	}
	return quote, semi
}

// preambleEnd returns the offset after a shebang, directive prologue and
// leading comments.
func preambleEnd(content string) int {
	pos := 0
	if strings.HasPrefix(content, "#!") {
		nl := strings.IndexByte(content, '\n')
		if nl < 0 {
			return len(content)
		}
		pos = nl + 1
	}

	for pos < len(content) {
		rest := content[pos:]
		trimmed := strings.TrimLeft(rest, " \t\r\n")
		lead := len(rest) - len(trimmed)

		switch {
		case strings.HasPrefix(trimmed, "//"),
			strings.HasPrefix(trimmed, "'use "),
			strings.HasPrefix(trimmed, `"use `):
			nl := strings.IndexByte(trimmed, '\n')
			if nl < 0 {
				return len(content)
			}
			pos += lead + nl + 1
		case strings.HasPrefix(trimmed, "/*"):
			end := strings.Index(trimmed, "*/")
			if end < 0 {
				return len(content)
			}
			pos += lead + end + 2
			if pos < len(content) && content[pos] == '\n' {
				pos++
			}
		default:
			return pos
		}
	}
	return pos
}
