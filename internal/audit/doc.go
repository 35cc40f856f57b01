// Package audit carries the activity trail: one record per login or code
// stage, delivered to a Sink either inline or through the async Dispatcher.
//
// The package does not decide what to record. The engine does.
package audit
