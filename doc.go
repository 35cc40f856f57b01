// Package goVerify issues and checks short-lived verification codes, runs the
// multi-factor login pipeline built on them, and manages the phone claim flow.
//
// Engine methods are safe to call from multiple goroutines once the engine is
// built through [Builder.Build].
//
// # Codes
//
// A [Code] is bound to a user, a [CodeType] and a [Category]. At most one code
// per triple is pending (not validated and not expired) at a time. Each code
// allows Config.Code.MaxAttempts tries; attempts against a terminal code are
// free and always fail. Concurrent attempts are serialized through the
// store's compare-and-set on Code.Version.
//
// # Login
//
// [Engine.Login] checks user state, password, the email login code, the phone
// login code when the user has a verified phone, and TOTP when enabled. Every
// stage is written to the [ActivitySink].
//
// # Architecture boundaries
//
// Storage, delivery, encryption and sessions are collaborators behind
// interfaces. Redis implementations ship in this package; PostgreSQL stores
// live in pgstore, the event consumer in eventmail.
package goVerify
