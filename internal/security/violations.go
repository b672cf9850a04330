package security

import "regexp"

// Pattern is a dangerous construct detected in paths or content.
type Pattern struct {
	ID          string
	Description string
	re          *regexp.Regexp
}

// DangerousPatterns is the catalogue scanned by CheckViolations.
var DangerousPatterns = []Pattern{
	// Network exposure
	{ID: "bind-all-ipv4", Description: "binds to all interfaces (0.0.0.0)", re: regexp.MustCompile(`\b0\.0\.0\.0\b`)},
	{ID: "bind-all-ipv6", Description: "binds to all interfaces (::)", re: regexp.MustCompile(`(?:^|[\s"'\[(=,])::(?:$|[\s"'\]),:])`)},

	// Dynamic code execution
	{ID: "eval", Description: "uses eval()", re: regexp.MustCompile(`\beval\s*\(`)},
	{ID: "function-constructor", Description: "uses the Function constructor", re: regexp.MustCompile(`\b(?:new\s+)?Function\s*\(`)},
	{ID: "timer-string", Description: "uses setTimeout/setInterval", re: regexp.MustCompile(`\bset(?:Timeout|Interval)\s*\(`)},

	// DOM injection
	{ID: "inner-html", Description: "assigns innerHTML/outerHTML directly", re: regexp.MustCompile(`\.(?:inner|outer)HTML\s*=[^=]`)},

	// Process spawning
	{ID: "child-process", Description: "imports child_process", re: regexp.MustCompile(`\bchild_process\b`)},
	{ID: "exec", Description: "spawns processes with exec()", re: regexp.MustCompile(`\bexec(?:Sync|File|FileSync)?\s*\(`)},
	{ID: "spawn", Description: "spawns processes with spawn()", re: regexp.MustCompile(`\bspawn(?:Sync)?\s*\(`)},

	// Destructive shell idioms
	{ID: "rm-rf", Description: "runs rm -rf", re: regexp.MustCompile(`\brm\s+-(?:rf|fr|r\s+-f|f\s+-r)\b`)},
	{ID: "sudo", Description: "runs sudo", re: regexp.MustCompile(`\bsudo\b`)},
	{ID: "chmod-777", Description: "runs chmod 777", re: regexp.MustCompile(`\bchmod\s+777\b`)},
	{ID: "chmod-recursive", Description: "runs chmod -R", re: regexp.MustCompile(`\bchmod\s+-R\b`)},
	{ID: "chown", Description: "runs chown", re: regexp.MustCompile(`\bchown\b`)},
}

// CheckViolations scans text (a path or file content) for dangerous
// patterns and returns the description of each match. An empty result
// means the text is clean.
func CheckViolations(text string) []string {
	var out []string
	for _, p := range DangerousPatterns {
		if p.re.MatchString(text) {
			out = append(out, p.Description)
		}
	}
	return out
}
