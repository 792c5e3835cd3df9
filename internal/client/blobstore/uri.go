package blobstore

import (
	"strings"

	"github.com/dmitrijs2005/pantrysync/internal/common"
)

// PendingURI builds the image reference for a stored blob.
func PendingURI(id string) string {
	return common.PendingScheme + id
}

// IsPending reports whether ref points at a local blob.
func IsPending(ref string) bool {
	return strings.HasPrefix(ref, common.PendingScheme)
}

// ParsePendingURI extracts the blob id from ref.
func ParsePendingURI(ref string) (string, bool) {
	id, ok := strings.CutPrefix(ref, common.PendingScheme)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}
