// Package plan defines the patch plan model shared by the engine, the
// security envelope and the service surface.
//
// A PatchPlan is an ordered list of operations. Each operation is one of
// three variants, modelled as a closed sum type behind the Operation
// interface:
//
//   - *SearchReplace: literal search text replaced by replacement text (strategy "strict")
//   - *Anchor: text inserted before or after a literal anchor (strategy "fuzzy")
//   - *AstStub: heuristic structural edit selected by a selector string (strategy "ast")
//
// The variant set is sealed: only types in this package implement
// Operation, so a type switch over the three variants is exhaustive.
//
// # JSON
//
// Operations carry a "type" discriminator ("search_replace", "anchor",
// "ast"). When "type" is absent the discriminator is derived from the
// "strategy" tag, so plans written against the strategy names decode as
// well:
//
//	{"id":"op-1","strategy":"fuzzy","filePath":"src/app.ts",
//	 "anchor":"function main()","insert":" // entry","position":"after"}
//
// # Results
//
// Execution produces one PatchResult per operation and a PatchPlanResult
// whose aggregate status is success when no operation failed, failure when
// none succeeded, and partial otherwise.
package plan
