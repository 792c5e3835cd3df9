package models

import "time"

// PendingBlob is image data captured while offline and not yet uploaded.
type PendingBlob struct {
	ID           string
	Data         []byte
	MimeType     string
	OriginalName string
	Checksum     []byte
	CreatedAt    time.Time
}
