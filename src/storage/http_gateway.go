package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"

	"github.com/sirupsen/logrus"
)

// HTTPGateway implements the Gateway interface over a storage provider's HTTP
// bridge. The provider is expected to expose POST /v1/blobs accepting raw
// bytes and GET /v1/blobs/{content_id} returning them.
type HTTPGateway struct {
	endpoint string
	client   *http.Client
	logger   *logrus.Entry
}

// NewHTTPGateway creates an HTTPGateway for the given endpoint. Timeouts are
// controlled by the caller through the request context, not by the client.
func NewHTTPGateway(endpoint string, logger *logrus.Entry) *HTTPGateway {
	return &HTTPGateway{
		endpoint: endpoint,
		client:   &http.Client{},
		logger:   logger,
	}
}

type uploadResponse struct {
	ContentID string `json:"content_id"`
	Size      int    `json:"size"`
}

// Upload implements the Gateway interface. The provider's reported content id
// is cross-checked against the locally computed checksum; a provider that
// reports a different id is misbehaving and the upload is not trusted.
func (g *HTTPGateway) Upload(ctx context.Context, data []byte) (string, int, error) {
	localID := ContentID(data)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint+"/v1/blobs", bytes.NewReader(data))
	if err != nil {
		return "", 0, err
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", 0, fmt.Errorf("upload failed with status %d", resp.StatusCode)
	}

	var ur uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&ur); err != nil {
		return "", 0, fmt.Errorf("decoding upload response: %v", err)
	}

	if ur.ContentID != localID {
		return "", 0, fmt.Errorf("provider content id %s does not match local checksum %s", ur.ContentID, localID)
	}

	g.logger.WithFields(logrus.Fields{
		"content_id": ur.ContentID,
		"size":       ur.Size,
	}).Debug("Uploaded blob")

	return ur.ContentID, ur.Size, nil
}

// Download implements the Gateway interface.
func (g *HTTPGateway) Download(ctx context.Context, contentID string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.endpoint+"/v1/blobs/"+contentID, nil)
	if err != nil {
		return nil, err
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("content id not found: %s", contentID)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download failed with status %d", resp.StatusCode)
	}

	data, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	g.logger.WithFields(logrus.Fields{
		"content_id": contentID,
		"size":       len(data),
	}).Debug("Downloaded blob")

	return data, nil
}
