// Package realtime keeps the cache convergent with changes other clients
// make. A Subscription holds one live feed connection and walks an explicit
// state machine:
//
//	disconnected -> connecting -> connected -> error|closed -> connecting
//
// Every transition to connected invalidates all cached views, because the
// feed does not replay what happened while the connection was down. Events
// are dispatched through a table keyed by event type; the Reconciler tells
// echoes of this client's own mutations from genuine external changes.
package realtime
