package palsync

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// maxSentHistory caps how many delivered outbox entries are retained for
// inspection before cleanup discards the oldest.
const maxSentHistory = 50

// OutboxOp names the remote operation an outbox entry carries.
type OutboxOp string

const (
	OpTaskCreate          OutboxOp = "task.create"
	OpTaskUpdate          OutboxOp = "task.update"
	OpApprovalUpdate      OutboxOp = "approval.update"
	OpCommentCreate       OutboxOp = "comment.create"
	OpContractCreate      OutboxOp = "contract.create"
	OpContractUpdate      OutboxOp = "contract.update"
	OpNotificationAdd     OutboxOp = "notification.add"
	OpNotificationRead    OutboxOp = "notification.markRead"
	OpNotificationDelete  OutboxOp = "notification.delete"
	OpNotificationClear   OutboxOp = "notification.clear"
	OpNotificationReadAll OutboxOp = "notification.markAllRead"
)

// OutboxStatus is the delivery state of an entry. Sent and failed are
// terminal for the automatic path; failed entries can still be picked up
// by a manual retry sweep.
type OutboxStatus string

const (
	OutboxPending OutboxStatus = "pending"
	OutboxSent    OutboxStatus = "sent"
	OutboxFailed  OutboxStatus = "failed"
)

// OutboxItem is one durable record of a remote write that has been
// acknowledged locally but not yet confirmed remotely.
type OutboxItem struct {
	ID            string          `json:"id"`
	Op            OutboxOp        `json:"op"`
	Payload       json.RawMessage `json:"payload"`
	CreatedAt     time.Time       `json:"createdAt"`
	RetryCount    int             `json:"retryCount"`
	LastAttemptAt time.Time       `json:"lastAttemptAt,omitempty"`
	LastError     string          `json:"lastError,omitempty"`
	Status        OutboxStatus    `json:"status"`
}

// OutboxStats summarizes the queue for the ops endpoint.
type OutboxStats struct {
	Total         int         `json:"total"`
	Pending       int         `json:"pending"`
	Failed        int         `json:"failed"`
	Sent          int         `json:"sent"`
	OldestPending *OutboxItem `json:"oldestPending,omitempty"`
	LatestFailed  *OutboxItem `json:"latestFailed,omitempty"`
}

// Outbox is the durable queue of unconfirmed remote writes, persisted in
// the local store so entries survive restarts. Mutations load, modify and
// rewrite the whole collection, so they serialize on a mutex.
type Outbox struct {
	store LocalStore

	mu sync.Mutex
}

func NewOutbox(store LocalStore) *Outbox {
	return &Outbox{store: store}
}

func (o *Outbox) items() ([]OutboxItem, error) {
	var items []OutboxItem
	if _, err := o.store.Get(CollectionOutbox, &items); err != nil {
		return nil, err
	}
	return items, nil
}

func (o *Outbox) save(items []OutboxItem) error {
	return o.store.Set(CollectionOutbox, items)
}

// Items returns every entry, oldest first.
func (o *Outbox) Items() ([]OutboxItem, error) {
	return o.items()
}

// Add enqueues a pending entry and returns its ID. The payload must be
// the minimal JSON document needed to replay the operation.
func (o *Outbox) Add(op OutboxOp, payload any, now time.Time) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	items, err := o.items()
	if err != nil {
		return "", err
	}
	item := OutboxItem{
		ID:        "outbox-" + uuid.NewString(),
		Op:        op,
		Payload:   raw,
		CreatedAt: now,
		Status:    OutboxPending,
	}
	items = append(items, item)
	if err := o.save(items); err != nil {
		return "", err
	}
	return item.ID, nil
}

// MarkSent records a confirmed delivery.
func (o *Outbox) MarkSent(id string, now time.Time) error {
	return o.update(id, func(item *OutboxItem) {
		item.Status = OutboxSent
		item.LastAttemptAt = now
		item.LastError = ""
	})
}

// MarkAttemptFailed records a delivery failure. Permanent failures park
// the entry as failed; transient ones leave it pending for the next sweep.
func (o *Outbox) MarkAttemptFailed(id string, cause error, permanent bool, now time.Time) error {
	return o.update(id, func(item *OutboxItem) {
		if permanent {
			item.Status = OutboxFailed
		} else {
			item.Status = OutboxPending
		}
		item.LastAttemptAt = now
		item.LastError = cause.Error()
		item.RetryCount++
	})
}

func (o *Outbox) update(id string, apply func(*OutboxItem)) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	items, err := o.items()
	if err != nil {
		return err
	}
	for i := range items {
		if items[i].ID == id {
			apply(&items[i])
			return o.save(items)
		}
	}
	return ErrNotFound
}

// Delete removes an entry regardless of status.
func (o *Outbox) Delete(id string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	items, err := o.items()
	if err != nil {
		return err
	}
	kept := items[:0]
	for _, item := range items {
		if item.ID != id {
			kept = append(kept, item)
		}
	}
	return o.save(kept)
}

// CleanupSent trims delivered entries down to the most recent
// maxSentHistory, leaving pending and failed entries untouched. Returns
// how many were discarded.
func (o *Outbox) CleanupSent() (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	items, err := o.items()
	if err != nil {
		return 0, err
	}
	var sent, other []OutboxItem
	for _, item := range items {
		if item.Status == OutboxSent {
			sent = append(sent, item)
		} else {
			other = append(other, item)
		}
	}
	removed := len(sent) - maxSentHistory
	if removed <= 0 {
		return 0, nil
	}
	other = append(other, sent[removed:]...)
	if err := o.save(other); err != nil {
		return 0, err
	}
	return removed, nil
}

// Clear drops every entry. Intended for operator resets, not normal flow.
func (o *Outbox) Clear() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.save([]OutboxItem{})
}

// Stats summarizes the queue, including the oldest still-pending entry
// and the most recently failed one.
func (o *Outbox) Stats() (OutboxStats, error) {
	items, err := o.items()
	if err != nil {
		return OutboxStats{}, err
	}
	stats := OutboxStats{Total: len(items)}
	var pending, failed []OutboxItem
	for _, item := range items {
		switch item.Status {
		case OutboxPending:
			pending = append(pending, item)
		case OutboxFailed:
			failed = append(failed, item)
		case OutboxSent:
			stats.Sent++
		}
	}
	stats.Pending = len(pending)
	stats.Failed = len(failed)
	if len(pending) > 0 {
		sort.Slice(pending, func(i, j int) bool {
			return pending[i].CreatedAt.Before(pending[j].CreatedAt)
		})
		oldest := pending[0]
		stats.OldestPending = &oldest
	}
	if len(failed) > 0 {
		sort.Slice(failed, func(i, j int) bool {
			return attemptTime(failed[i]).After(attemptTime(failed[j]))
		})
		latest := failed[0]
		stats.LatestFailed = &latest
	}
	return stats, nil
}

func attemptTime(item OutboxItem) time.Time {
	if !item.LastAttemptAt.IsZero() {
		return item.LastAttemptAt
	}
	return item.CreatedAt
}

// RetryEligible returns entries a manual sweep should attempt: everything
// pending or failed, oldest first.
func (o *Outbox) RetryEligible() ([]OutboxItem, error) {
	items, err := o.items()
	if err != nil {
		return nil, err
	}
	var out []OutboxItem
	for _, item := range items {
		if item.Status == OutboxPending || item.Status == OutboxFailed {
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// backoffDelays spaces repeat attempts for the same entry.
var backoffDelays = []time.Duration{
	time.Second,
	5 * time.Second,
	30 * time.Second,
	2 * time.Minute,
	10 * time.Minute,
}

// ShouldRetry reports whether enough time has passed since the last
// attempt, with the wait growing by retry count. Entries never attempted
// are always eligible.
func ShouldRetry(item OutboxItem, now time.Time) bool {
	if item.LastAttemptAt.IsZero() {
		return true
	}
	idx := item.RetryCount
	if idx >= len(backoffDelays) {
		idx = len(backoffDelays) - 1
	}
	return now.Sub(item.LastAttemptAt) >= backoffDelays[idx]
}
