// Package policy models Azure Policy definitions, initiatives, assignments
// and exemptions, and implements the rule evaluation used by the move
// simulator: a recursive condition-tree evaluator, a three-tier parameter
// resolver (assignment > initiative binding > definition default), and
// enforcement-mode effect substitution.
//
// Evaluation is deliberately conservative: a condition shape the evaluator
// cannot decide (count expressions, value functions, unknown operators,
// unresolvable aliases) never matches, so an unsupported rule can under-report
// but never produce a false violation. Callers that need to surface those
// cases use EvaluateDetailed, which keeps the indeterminate outcome distinct
// from a confirmed non-match.
package policy
