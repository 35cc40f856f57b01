// Package multisig signs and verifies JSON payloads carried in the JWS JSON
// general serialization, one signature per signer:
//
//	{"payload": b64(json), "signatures": [{"protected": b64({"alg": ...}), "header": {"kid": signer}, "signature": b64(sig)}]}
//
// Keys are configured per signer as base64url encoded PEM. RSA, ECDSA and
// Ed25519 keys are accepted; each signer may be limited to a set of
// algorithms.
//
// Verification fails closed. A signature that cannot be checked for any
// reason lands in Result.Unverified and is never trusted.
package multisig
