package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dmitrijs2005/pantrysync/internal/client/blobstore"
	"github.com/dmitrijs2005/pantrysync/internal/client/client"
	"github.com/dmitrijs2005/pantrysync/internal/logging"
)

type ImageSource int

const (
	ImageNone ImageSource = iota
	// ImageLocal carries the bytes of a not yet uploaded image.
	ImageLocal
	// ImageRemote carries a signed URL.
	ImageRemote
	// ImagePlaceholder means the image is referenced but cannot be shown.
	ImagePlaceholder
)

func (s ImageSource) String() string {
	switch s {
	case ImageLocal:
		return "local"
	case ImageRemote:
		return "remote"
	case ImagePlaceholder:
		return "placeholder"
	}
	return "none"
}

type Image struct {
	Source    ImageSource
	Data      []byte
	MimeType  string
	URL       string
	ExpiresAt time.Time
}

// ImageResolver turns an image reference into displayable data. Signed URLs
// are cached until shortly before they expire.
type ImageResolver struct {
	blobs  blobstore.Repository
	remote client.BinaryStore
	ttl    time.Duration
	log    logging.Logger
	now    func() time.Time

	mu   sync.Mutex
	urls map[string]Image
}

func NewImageResolver(blobs blobstore.Repository, remote client.BinaryStore, ttl time.Duration, log logging.Logger) *ImageResolver {
	return &ImageResolver{
		blobs:  blobs,
		remote: remote,
		ttl:    ttl,
		log:    log.With("module", "images"),
		now:    time.Now,
		urls:   make(map[string]Image),
	}
}

// Resolve never fails on a missing image; it returns a placeholder. An error
// is returned only alongside a placeholder when the remote store could not
// be asked.
func (r *ImageResolver) Resolve(ctx context.Context, ref string) (Image, error) {
	if ref == "" {
		return Image{Source: ImageNone}, nil
	}

	if blobID, ok := blobstore.ParsePendingURI(ref); ok {
		b, err := r.blobs.Get(ctx, blobID)
		if errors.Is(err, blobstore.ErrBlobNotFound) || errors.Is(err, blobstore.ErrBlobCorrupt) {
			r.log.Debug(ctx, "pending image missing", "ref", ref, "error", err)
			return Image{Source: ImagePlaceholder}, nil
		}
		if err != nil {
			return Image{Source: ImagePlaceholder}, err
		}
		return Image{Source: ImageLocal, Data: b.Data, MimeType: b.MimeType}, nil
	}

	now := r.now()
	r.mu.Lock()
	cached, ok := r.urls[ref]
	r.mu.Unlock()
	if ok && now.Add(r.ttl/10).Before(cached.ExpiresAt) {
		return cached, nil
	}

	url, err := r.remote.SignedURL(ctx, ref, r.ttl)
	switch {
	case errors.Is(err, client.ErrObjectNotFound):
		r.log.Debug(ctx, "remote image missing", "ref", ref)
		r.forget(ref)
		return Image{Source: ImagePlaceholder}, nil
	case err != nil:
		if ok && now.Before(cached.ExpiresAt) {
			return cached, nil
		}
		return Image{Source: ImagePlaceholder}, err
	}

	img := Image{Source: ImageRemote, URL: url, ExpiresAt: now.Add(r.ttl)}
	r.mu.Lock()
	r.urls[ref] = img
	r.mu.Unlock()
	return img, nil
}

func (r *ImageResolver) forget(ref string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.urls, ref)
}
