// Package custody verifies chains of memory snapshots. A custody chain is a
// sequence of content ids whose envelopes must link each snapshot to its
// predecessor and carry strictly increasing timestamps. Verification is
// fail-closed: a snapshot that cannot be fetched or fails its integrity
// check makes the whole chain invalid.
package custody

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	cm "github.com/mindfort/sovereign/src/common"
	"github.com/mindfort/sovereign/src/storage"
)

// Validator checks custody chains against a storage gateway.
type Validator struct {
	gateway storage.Gateway
	logger  *logrus.Entry
}

// NewValidator ...
func NewValidator(gateway storage.Gateway, logger *logrus.Entry) *Validator {
	return &Validator{
		gateway: gateway,
		logger:  logger,
	}
}

// Validate checks the custody chain of an agent, oldest content id first.
// Chains shorter than two snapshots are trivially valid. A broken link or a
// non-increasing timestamp yields false; a snapshot that cannot be fetched
// and verified yields false with an InvalidCustodyChain error.
func (v *Validator) Validate(ctx context.Context, agentID string, contentIDs []string) (bool, error) {
	if len(contentIDs) < 2 {
		return true, nil
	}

	prev, err := v.fetch(ctx, agentID, contentIDs[0])
	if err != nil {
		return false, err
	}

	for i := 1; i < len(contentIDs); i++ {
		curr, err := v.fetch(ctx, agentID, contentIDs[i])
		if err != nil {
			return false, err
		}

		if curr.PrevContentID != contentIDs[i-1] {
			v.logger.WithFields(logrus.Fields{
				"agent":    agentID,
				"position": i,
				"expected": contentIDs[i-1],
				"got":      curr.PrevContentID,
			}).Debug("Custody link broken")
			return false, nil
		}

		if curr.Timestamp <= prev.Timestamp {
			v.logger.WithFields(logrus.Fields{
				"agent":    agentID,
				"position": i,
			}).Debug("Custody timestamps not increasing")
			return false, nil
		}

		prev = curr
	}

	return true, nil
}

// fetch downloads a snapshot and checks it belongs to the agent. The
// gateway's content addressing already rejects blobs whose hash diverges
// from the content id.
func (v *Validator) fetch(ctx context.Context, agentID, contentID string) (*storage.Envelope, error) {
	envelope, err := storage.FetchEnvelope(ctx, v.gateway, contentID)
	if err != nil {
		return nil, cm.NewEngineErr(cm.InvalidCustodyChain, agentID, "validate_custody",
			fmt.Sprintf("snapshot %s: %v", contentID, err))
	}

	if envelope.AgentID != agentID {
		return nil, cm.NewEngineErr(cm.InvalidCustodyChain, agentID, "validate_custody",
			fmt.Sprintf("snapshot %s belongs to %s", contentID, envelope.AgentID))
	}

	return envelope, nil
}
