// Package auth provides the authentication and authorization core for a
// multi-tenant recruiting backend: credential hashing, JWT issuance with
// refresh rotation, permission-scoped authorization, and HTTP guards.
//
// Sessions:
//   - Auther orchestrates registration, login, refresh rotation, logout, and
//     impersonation. Refresh tokens are stateful: the current token lives on
//     the user record and rotation is a compare-and-swap, so a consumed token
//     can never be replayed even when requests race.
//   - Registration bootstraps a full tenant: organization, Admin role with
//     every permission root, and the owning user.
//
// Permissions:
//   - Permissions are colon-delimited hierarchical strings
//     (resource[:action[:scope]]). A held permission satisfies any required
//     permission it prefixes, so "job" covers "job:create" and "job:delete".
//     ScopeFor extracts own/team/all hints for list queries.
//
// Activity sinks:
//   - ActivitySink is a light-weight audit emitter used by Auther and the
//     password reset and invite commands to describe login, impersonation,
//     and lifecycle events. Sinks run best-effort (errors are logged) so you
//     can forward to a database or queue without blocking authentication.
package auth
