package storage

import "context"

// ObjectStore persists generated media under the application's own domain.
type ObjectStore interface {
	// Write stores data at the given relative key and returns the
	// canonicalized key.
	Write(ctx context.Context, key string, data []byte, mime string) (string, error)
	// URL returns the public URL of a stored key. The URL always points at
	// the application's storage domain, never at a provider.
	URL(key string) string
}
