// Package limiters provides Redis fixed-window limiters.
//
// [CodeRequestLimiter] counts code requests per (user, type, category).
// A nil limiter allows everything.
package limiters
