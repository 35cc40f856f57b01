// Package internal holds private helpers: random secrets and tokens.
//
// Sub-packages:
//
//   - audit: activity records, sinks and the async dispatcher
//   - limiters: Redis fixed-window limiter for code requests
//   - health: liveness and readiness checks
//   - settings: daemon YAML settings
package internal
