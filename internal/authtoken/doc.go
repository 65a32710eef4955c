// Package authtoken verifies the signed bearer token carried in the
// "x-access-token" cookie on every WebSocket upgrade and HTTP request.
//
// It never issues tokens: identity is provisioned by an external system
// (out of scope per the system's purpose statement) and this package's
// only job is to turn a cookie header into a Principal or a typed
// Unauthenticated failure, without panicking across the boundary.
//
// Design goals:
//   - Single source of truth for the HMAC signing key policy (env var,
//     minimum key length).
//   - Fail closed: any parse, signature, expiry, or claim-shape problem
//     collapses to the same ErrUnauthenticated so callers cannot
//     distinguish *why* a token was rejected.
package authtoken
