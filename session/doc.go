// Package session stores authenticated sessions in Redis.
//
// Each session lives under <prefix>:<uid>:<sid> with a TTL, is indexed in a
// per-user set, and carries the anti-forgery token handed to the client at
// login. Records use a versioned binary encoding; IP and User-Agent are kept
// only as SHA-256 digests.
package session
