package blob

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrNotFound is returned when the addressed object does not exist.
var ErrNotFound = errors.New("blob: object not found")

// Store is a path-addressable blob store supporting streamed reads/writes,
// prefix deletion, and time-limited signed download links.
type Store interface {
	// Put streams body into the object at key.
	Put(ctx context.Context, key string, body io.Reader, contentType string) error
	// Get opens the object at key for streaming. The caller closes the reader.
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	// Delete removes a single object. Deleting an absent object is not an error.
	Delete(ctx context.Context, key string) error
	// DeletePrefix removes every object under the prefix. An already-empty
	// prefix is success: the contract is "ensure absence".
	DeletePrefix(ctx context.Context, prefix string) error
	// PresignGet issues a signed download URL valid for ttl.
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
}
