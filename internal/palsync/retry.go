package palsync

import (
	"encoding/json"
	"time"
)

// RetryResult summarizes one manual sweep.
type RetryResult struct {
	Attempted int `json:"attempted"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
	Cleaned   int `json:"cleaned"`
}

// RetryItem re-attempts a single outbox entry regardless of backoff.
// A permanent rejection discovered here parks the entry but does not
// retract the optimistic copy an earlier transient failure left in the
// local store; the rejected outcome is the operator's cue to resolve it.
func (r *Reconciler) RetryItem(outboxID string) (Outcome, error) {
	if r.mode != DataModeRemote {
		return Outcome{}, ErrInvalidState
	}
	items, err := r.outbox.Items()
	if err != nil {
		return Outcome{}, err
	}
	for _, item := range items {
		if item.ID != outboxID {
			continue
		}
		if item.Status == OutboxSent {
			return Outcome{}, ErrInvalidState
		}
		clientID, entityID := entityRef(item)
		outcome := r.attempt(item, clientID, entityID, false)
		r.publish(outcome)
		return outcome, nil
	}
	return Outcome{}, ErrNotFound
}

// RetryAll sweeps every pending and failed entry, oldest first, honoring
// per-entry backoff unless force is set. Delivered history is trimmed at
// the end.
func (r *Reconciler) RetryAll(force bool) (RetryResult, error) {
	if r.mode != DataModeRemote {
		return RetryResult{}, ErrInvalidState
	}
	eligible, err := r.outbox.RetryEligible()
	if err != nil {
		return RetryResult{}, err
	}
	var result RetryResult
	for _, item := range eligible {
		if !force && !ShouldRetry(item, r.now()) {
			result.Skipped++
			continue
		}
		result.Attempted++
		clientID, entityID := entityRef(item)
		outcome := r.attempt(item, clientID, entityID, false)
		r.publish(outcome)
		if outcome.Kind == OutcomeApplied {
			result.Succeeded++
		} else {
			result.Failed++
		}
	}
	cleaned, err := r.outbox.CleanupSent()
	if err != nil {
		return result, err
	}
	result.Cleaned = cleaned
	r.log.Info().
		Int("attempted", result.Attempted).
		Int("succeeded", result.Succeeded).
		Int("failed", result.Failed).
		Int("skipped", result.Skipped).
		Msg("outbox retry sweep")
	return result, nil
}

// entityRef recovers the client and entity identifiers from an entry's
// payload for outcome reporting. Bulk notification ops have neither.
func entityRef(item OutboxItem) (clientID, entityID string) {
	var ref struct {
		ID       string `json:"id"`
		ClientID string `json:"clientId"`
	}
	if json.Unmarshal(item.Payload, &ref) == nil {
		return ref.ClientID, ref.ID
	}
	return "", ""
}

// PendingSince reports how long the oldest pending entry has been waiting.
// Zero means the queue is clean.
func (r *Reconciler) PendingSince(now time.Time) (time.Duration, error) {
	stats, err := r.outbox.Stats()
	if err != nil {
		return 0, err
	}
	if stats.OldestPending == nil {
		return 0, nil
	}
	return now.Sub(stats.OldestPending.CreatedAt), nil
}
