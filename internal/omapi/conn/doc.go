// Package conn implements the connection and listener object kinds.
//
// Ownership boundary:
// - socket lifecycle (connect, accept, half-close, close) on raw descriptors
//
// - input and output buffering with readiness gating for the dispatcher
//
// - mapping OS errors onto omapi.Status
//
// A connection sits outside its owner on the object chain: the owner is the
// connection's inner object, so values and signals the connection does not
// answer fall through to it. The dispatcher keeps a registered connection
// alive; Disconnect drops that registration.
package conn
