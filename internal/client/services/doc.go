// Package services applies user intent to the local cache immediately and
// turns it into queued mutations that are replayed against the remote store.
//
// RecordService is the optimistic cache manager. Every write captures a
// checkpoint of the affected record, applies the change to all cached views
// in one cache update, registers the change with the dedup tracker and
// enqueues the mutation with the checkpoint attached. The replay handlers
// registered by RegisterHandlers resolve pending image references, write to
// the remote store, reconcile the cache with the returned row on success
// and restore the checkpoint on terminal failure.
//
// ImageResolver turns image references into something displayable,
// ConnectivityWatcher pauses and resumes replay as the remote store comes
// and goes, and CollectOrphanBlobs removes pending images nothing refers to.
package services
