// Package domain defines the core campaign types for the conversation orchestrator.
//
// Types in this package are value objects. Behavior is limited to pure
// transforms that return new values (funnel advancement, queue progression)
// so callers can observe every change explicitly.
//
// Rules for this package:
//   - No imports from other internal/ packages
//   - No *sql.DB, no http.Request, no context.Context in struct fields
//   - JSON tags are allowed (they're metadata, not behavior)
//   - Transforms never mutate their receiver
//   - Constants and enums belong here
package domain
