// Package validation evaluates plans against the active policy.
//
// Evaluation is deterministic and runs in a fixed order:
//
//  1. The permission for (role, table, operation) is resolved. A missing
//     entry denies with "no permission"; an explicit deny denies with
//     "permission denied".
//  2. A column-scoped permission denies with "column not permitted" when the
//     plan references a column outside the scope.
//  3. Safety rules run in document order and the first match decides. A deny
//     rule overrides the baseline to deny; a require-justification rule
//     downgrades allow to require-justification. A rule never upgrades a deny,
//     but a match against a denied plan is still recorded.
//
// Validation has no side effects. Callers decide whether to record a
// decision in the audit ledger.
package validation
