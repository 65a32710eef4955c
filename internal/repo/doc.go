// Package repo is the typed persistence boundary for users, conversations,
// and messages. It owns the MongoDB collections, their indexes, and every
// invariant the core relies on (pin caps, monotonic status, uniqueness of
// a participant pair).
//
// Callers never see a driver error: every failure is translated into one
// of the kinds in errors.go before it crosses the package boundary.
package repo
