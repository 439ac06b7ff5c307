package ports

import "context"

// Unlocker is an interface that provides a way to retrieve the wallet secret
// automatically at startup
type Unlocker interface {
	// GetSecret retrieves the secret the channel key is derived from
	GetSecret(ctx context.Context) (string, error)
}
