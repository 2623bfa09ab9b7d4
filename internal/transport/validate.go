package transport

import (
	"context"
	"encoding/json"
	"time"
)

// ValidationResult is the per-cache-type answer from the backend validation
// endpoint. When Invalidate is true and UpdatedItems carries a payload, the
// payload can be applied locally without a follow-up fetch.
type ValidationResult struct {
	Invalidate   bool            `json:"invalidate"`
	UpdatedItems json.RawMessage `json:"updatedItems,omitempty"`
}

// ValidateCaches sends the merged per-cache-type timestamp ledger to the
// backend and returns its invalidation verdicts.
func (c *Client) ValidateCaches(ctx context.Context, timestamps map[string]time.Time) (map[string]ValidationResult, error) {
	var results map[string]ValidationResult
	if err := c.Send(ctx, "/cache/validate", nil, timestamps, &results); err != nil {
		return nil, err
	}

	return results, nil
}
