// Package session abstracts per-session key/value storage. The verification
// flow stores the serialized authentication token and CSRF material here and
// relies on the backing store to serialize writes per session.
package session

import "context"

// Store is one logical session's key/value view.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
}
