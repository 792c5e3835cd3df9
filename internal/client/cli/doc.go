// Package cli provides the interactive pantry command-line client.
//
// It sits on top of app.App: every command goes through the record service,
// so edits made offline show up immediately and are replayed once the
// remote store is reachable again. Notifications from the event bus (failed
// mutations, records removed by other users, connectivity changes) are
// printed as they arrive.
//
// The REPL is started via App.Root(ctx), which blocks until the user exits.
package cli
