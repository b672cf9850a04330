// Package remediation turns classified patch failures into ranked fix
// suggestions.
//
// An ErrorReport describes one failed operation. The Planner maps it to a
// RemediationPlan whose suggested operations carry a confidence score in
// [0, 1]. The plan's confidence is the best suggestion's score (0.1 when
// there is none) and any plan below 0.8 requires confirmation.
//
// # Suggestion rules
//
//   - already_applied: a single no-op suggestion at 1.0
//   - anchor_mismatch: first-line anchor with offset+1 (0.7), fuzzy
//     strategy switch (0.5), half-length anchor for anchors over 10
//     characters (0.5)
//   - search_not_found: first-line search (0.6), fuzzy strategy switch
//     (0.5), half-length search (0.4)
//   - multiple_matches: add a line hint (0.6)
//   - anything else: retry with the opposite strategy (0.3)
//
// Suggestions are never applied here. A suggestion is marked auto-applicable
// only when auto-fix is enabled, its classification is whitelisted and its
// confidence reaches the auto-apply threshold. Callers resubmit accepted
// suggestions as new plans.
package remediation
