package registry

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/mindfort/sovereign/src/common"
	"github.com/mindfort/sovereign/src/crypto/keys"
	"github.com/sirupsen/logrus"
)

// HTTPRegistry implements the Client interface against an anchor service's
// HTTP bridge. The bridge submits the signed payloads as transactions to the
// underlying registry contract; this client never sees chain mechanics.
type HTTPRegistry struct {
	endpoint string
	key      *ecdsa.PrivateKey
	client   *http.Client
	logger   *logrus.Entry
}

// NewHTTPRegistry creates an HTTPRegistry. The key signs every write.
func NewHTTPRegistry(endpoint string, key *ecdsa.PrivateKey, logger *logrus.Entry) *HTTPRegistry {
	return &HTTPRegistry{
		endpoint: endpoint,
		key:      key,
		client:   &http.Client{},
		logger:   logger,
	}
}

type pointerUpdateRequest struct {
	ContentID string `json:"content_id"`
	Checksum  string `json:"checksum"`
	Timestamp int64  `json:"timestamp"`
	Signature string `json:"signature"`
	PublicKey string `json:"public_key"`
}

type transferRequest struct {
	CurrentOwner string `json:"current_owner"`
	NewOwner     string `json:"new_owner"`
	Signature    string `json:"signature"`
}

func (r *HTTPRegistry) post(ctx context.Context, url string, body interface{}) (*Receipt, error) {
	buf := new(bytes.Buffer)
	if err := json.NewEncoder(buf).Encode(body); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("registry write failed with status %d", resp.StatusCode)
	}

	receipt := new(Receipt)
	if err := json.NewDecoder(resp.Body).Decode(receipt); err != nil {
		return nil, fmt.Errorf("decoding receipt: %v", err)
	}

	return receipt, nil
}

// UpdatePointer implements the Client interface.
func (r *HTTPRegistry) UpdatePointer(ctx context.Context, agentID, contentID, checksum string) (*Receipt, error) {
	if r.key == nil {
		return nil, fmt.Errorf("signing key required for registry writes")
	}

	now := time.Now().Unix()

	digest, err := PointerHash(agentID, contentID, checksum, now)
	if err != nil {
		return nil, err
	}

	sigR, sigS, err := keys.Sign(r.key, digest)
	if err != nil {
		return nil, err
	}

	receipt, err := r.post(ctx, r.endpoint+"/v1/pointers/"+agentID, pointerUpdateRequest{
		ContentID: contentID,
		Checksum:  checksum,
		Timestamp: now,
		Signature: keys.EncodeSignature(sigR, sigS),
		PublicKey: keys.PublicKeyHex(&r.key.PublicKey),
	})
	if err != nil {
		return nil, err
	}

	r.logger.WithFields(logrus.Fields{
		"agent_id":   agentID,
		"content_id": contentID,
		"tx_hash":    receipt.TxHash,
	}).Debug("Updated storage pointer")

	return receipt, nil
}

// GetPointer implements the Client interface.
func (r *HTTPRegistry) GetPointer(ctx context.Context, agentID string) (*Pointer, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.endpoint+"/v1/pointers/"+agentID, nil)
	if err != nil {
		return nil, err
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, common.NewStoreErr("Pointer", common.KeyNotFound, agentID)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("pointer query failed with status %d", resp.StatusCode)
	}

	pointer := new(Pointer)
	if err := json.NewDecoder(resp.Body).Decode(pointer); err != nil {
		return nil, fmt.Errorf("decoding pointer: %v", err)
	}

	return pointer, nil
}

// OwnerOf implements the Client interface.
func (r *HTTPRegistry) OwnerOf(ctx context.Context, agentID string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.endpoint+"/v1/owners/"+agentID, nil)
	if err != nil {
		return "", err
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("owner query failed with status %d", resp.StatusCode)
	}

	var out struct {
		Owner string `json:"owner"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decoding owner: %v", err)
	}

	return out.Owner, nil
}

// TransferOwner implements the Client interface. The signature is forwarded
// untouched; verification is the registry's responsibility.
func (r *HTTPRegistry) TransferOwner(ctx context.Context, agentID, currentOwner, newOwner, sig string) (*Receipt, error) {
	receipt, err := r.post(ctx, r.endpoint+"/v1/transfers/"+agentID, transferRequest{
		CurrentOwner: currentOwner,
		NewOwner:     newOwner,
		Signature:    sig,
	})
	if err != nil {
		return nil, err
	}

	r.logger.WithFields(logrus.Fields{
		"agent_id":  agentID,
		"new_owner": newOwner,
		"tx_hash":   receipt.TxHash,
	}).Debug("Transferred ownership")

	return receipt, nil
}
