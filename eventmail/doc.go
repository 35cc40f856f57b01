// Package eventmail turns signed domain events into localized emails.
//
// A Consumer subscribes to every configured exchange, verifies each message
// against the exchange's signer, picks the event configuration by routing
// key, resolves the target user and their language, applies the optional
// suppression Expression and hands the job to a Mailer through the
// Dispatcher. Messages are committed only after handling finishes.
//
// Handling failures are logged and the message is committed, with one
// exception: a storage connectivity failure halts the consumer without
// committing so the message is redelivered after a restart.
package eventmail
