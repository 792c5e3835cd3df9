// Package cachestore persists the whole client cache, query views plus the
// mutation queue, as one snapshot value in BadgerDB.
//
// Every write replaces the previous snapshot entirely; there are no partial
// updates. Persister coalesces bursts of changes into a single write after a
// debounce interval and serializes concurrent writes.
package cachestore
