// Package password verifies stored password hashes.
//
// Two schemes are accepted and chosen by prefix: argon2id PHC strings
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// and bcrypt ($2a$, $2b$, $2y$), which account databases migrated from older
// stacks still carry. Hashing helpers exist for seeding and tests.
//
// This package never stores passwords and never logs them.
package password
