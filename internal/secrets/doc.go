// Package secrets redacts credentials from free text before it is persisted.
//
// Failure messages and anchors end up in the observation registry and in
// report files; both may be shared. Scrub replaces every match of the rule
// set with a redaction marker and reports which rules fired, never the
// matched value.
package secrets
