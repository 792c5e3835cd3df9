// Package blobstore is the durable store for image bytes captured while
// offline. Each blob gets an opaque id and is referenced from records as
// pending://<id> until a replayed mutation uploads it.
//
// The SQLite implementation keeps a blake2b checksum next to the bytes and
// reports ErrBlobCorrupt when a read does not match it. A missing id is
// ErrBlobNotFound, which callers treat as a soft condition.
//
//	db, _ := blobstore.Open(ctx, filepath.Join(dir, "blobs.db"))
//	store := blobstore.NewSQLiteStore(db)
//	blob, _ := store.Save(ctx, data, "image/jpeg", "milk.jpg")
//	ref := blobstore.PendingURI(blob.ID)
package blobstore
