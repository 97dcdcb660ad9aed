// Package storage defines the boundary with the external decentralized
// storage network. The network itself is opaque: the engine only relies on
// content-addressed upload and download, with a checksum verification step on
// every read.
package storage

import (
	"context"
	"fmt"

	"github.com/mindfort/sovereign/src/crypto"
)

// Gateway provides access to an external content-addressed storage service.
// Implementations must be safe for concurrent use by multiple agents.
//
// The content id of stored data is the hex SHA256 checksum of its bytes, so
// uploading the same bytes twice yields the same id and retries are always
// safe. Gateways are treated as unreliable I/O: they return after a single
// attempt and leave retry policy to the caller.
type Gateway interface {
	// Upload stores the data and returns its content id and size.
	Upload(ctx context.Context, data []byte) (contentID string, size int, err error)

	// Download retrieves the data stored under contentID. Callers must verify
	// the checksum of the returned bytes before using them.
	Download(ctx context.Context, contentID string) ([]byte, error)
}

// ContentID derives the content id the gateway will assign to data.
func ContentID(data []byte) string {
	return crypto.Checksum(data)
}

// FetchEnvelope downloads an envelope and verifies that the retrieved bytes
// hash back to the requested content id before decoding. Tampered or
// corrupted downloads are rejected here and never reach the codec.
func FetchEnvelope(ctx context.Context, g Gateway, contentID string) (*Envelope, error) {
	data, err := g.Download(ctx, contentID)
	if err != nil {
		return nil, err
	}

	if got := ContentID(data); got != contentID {
		return nil, fmt.Errorf("downloaded bytes hash to %s, want %s", got, contentID)
	}

	envelope := new(Envelope)
	if err := envelope.Unmarshal(data); err != nil {
		return nil, fmt.Errorf("decoding envelope %s: %v", contentID, err)
	}

	return envelope, nil
}
