// Package pgstore implements the goVerify code, phone and user stores on
// PostgreSQL through database/sql and lib/pq.
//
// Codes are created under a transaction-scoped advisory lock keyed on
// (user, type, category), which keeps at most one pending code per triple.
// Updates are a compare-and-set on the version column.
//
// Connection-class failures are wrapped with goVerify.ErrStoreUnavailable so
// callers can tell an outage from a rejected request.
package pgstore
