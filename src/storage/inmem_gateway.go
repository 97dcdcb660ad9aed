package storage

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// InmemGateway implements the Gateway interface with an in-memory blob map.
// It is used for testing and simulates the behaviour of a real storage
// network: configurable latency and injectable faults on either operation.
type InmemGateway struct {
	sync.RWMutex
	blobs map[string][]byte

	// Latency is applied to every call before anything else, interruptible by
	// context cancellation.
	Latency time.Duration

	// UploadErr and DownloadErr, when set, are returned by the corresponding
	// operation instead of performing it.
	UploadErr   error
	DownloadErr error

	uploads   int
	downloads int
}

// NewInmemGateway creates an empty InmemGateway.
func NewInmemGateway() *InmemGateway {
	return &InmemGateway{
		blobs: make(map[string][]byte),
	}
}

func (g *InmemGateway) sleep(ctx context.Context) error {
	if g.Latency <= 0 {
		return ctx.Err()
	}
	select {
	case <-time.After(g.Latency):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Upload implements the Gateway interface.
func (g *InmemGateway) Upload(ctx context.Context, data []byte) (string, int, error) {
	if err := g.sleep(ctx); err != nil {
		return "", 0, err
	}

	g.Lock()
	defer g.Unlock()

	if g.UploadErr != nil {
		return "", 0, g.UploadErr
	}

	contentID := ContentID(data)

	stored := make([]byte, len(data))
	copy(stored, data)
	g.blobs[contentID] = stored

	g.uploads++

	return contentID, len(data), nil
}

// Download implements the Gateway interface.
func (g *InmemGateway) Download(ctx context.Context, contentID string) ([]byte, error) {
	if err := g.sleep(ctx); err != nil {
		return nil, err
	}

	g.Lock()
	g.downloads++
	g.Unlock()

	g.RLock()
	defer g.RUnlock()

	if g.DownloadErr != nil {
		return nil, g.DownloadErr
	}

	data, ok := g.blobs[contentID]
	if !ok {
		return nil, fmt.Errorf("content id not found: %s", contentID)
	}

	out := make([]byte, len(data))
	copy(out, data)

	return out, nil
}

// Corrupt overwrites the blob stored under contentID, keeping it addressable
// under the original id. Used to test mandatory checksum verification.
func (g *InmemGateway) Corrupt(contentID string, data []byte) {
	g.Lock()
	defer g.Unlock()
	g.blobs[contentID] = data
}

// UploadCount returns the number of successful Upload calls.
func (g *InmemGateway) UploadCount() int {
	g.RLock()
	defer g.RUnlock()
	return g.uploads
}
