package adapter

import "context"

// ObjectStore is content-addressable blob storage. Put returns a locator
// derived from the content (sha256 hex), which doubles as the content hash
// used for duplicate-submission detection.
type ObjectStore interface {
	Put(ctx context.Context, data []byte) (string, error)
	Get(ctx context.Context, locator string) ([]byte, error)
}
