package interfaces

import "context"

// TrustTokenStore persists the device-trust token between runs.
type TrustTokenStore interface {
	// Load returns nil, nil when no token has been stored yet.
	Load(ctx context.Context, accountName string) ([]byte, error)

	// Save overwrites any previously stored token.
	Save(ctx context.Context, accountName string, token []byte) error
}
