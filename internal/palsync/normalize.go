package palsync

import (
	"hash/fnv"
	"time"
)

// Normalizer backfills missing lifecycle timestamps on read so that
// time-based signal derivation behaves consistently for legacy or
// externally-sourced records. Implementations must be pure: the same input
// entity and reference time always produce the same output, and fields the
// caller populated are never overwritten.
type Normalizer interface {
	NormalizeTask(task Task, now time.Time) Task
	NormalizeApproval(approval Approval, now time.Time) Approval
}

// HashNormalizer derives a deterministic pseudo-age from a stable hash of
// the entity identifier and synthesizes the missing timestamps from it.
type HashNormalizer struct{}

// NoopNormalizer passes entities through untouched. Swap it in once every
// stored record carries full lifecycle metadata.
type NoopNormalizer struct{}

func (NoopNormalizer) NormalizeTask(task Task, _ time.Time) Task {
	return task
}

func (NoopNormalizer) NormalizeApproval(approval Approval, _ time.Time) Approval {
	return approval
}

// hashDays maps an identifier onto a stable pseudo-age in days, always in
// the range 2..10.
func hashDays(id string) int {
	hasher := fnv.New32a()
	_, _ = hasher.Write([]byte(id))
	return int(hasher.Sum32()%9) + 2
}

func (HashNormalizer) NormalizeTask(task Task, now time.Time) Task {
	h := hashDays(task.ID)

	if task.CreatedAt.IsZero() {
		reference := now
		if !task.DueDate.IsZero() {
			reference = task.DueDate
		} else if !task.PostDate.IsZero() {
			reference = task.PostDate
		}
		task.CreatedAt = reference.AddDate(0, 0, -h)
	}

	if task.UpdatedAt.IsZero() {
		task.UpdatedAt = backfillUpdatedAt(task.CreatedAt, h, now)
	}

	if task.LastActivityAt.IsZero() {
		switch task.Status {
		case TaskCompleted:
			task.LastActivityAt = task.UpdatedAt
		case TaskInProgress, TaskAwaitingApproval:
			// Active work trails the last update by hours, not days.
			task.LastActivityAt = task.UpdatedAt.Add(-time.Duration(h*2) * time.Hour)
		default:
			task.LastActivityAt = task.UpdatedAt.AddDate(0, 0, -(h % 5))
		}
		if task.LastActivityAt.Before(task.CreatedAt) {
			task.LastActivityAt = task.CreatedAt
		}
	}

	if task.CompletedAt.IsZero() && task.Status == TaskCompleted {
		task.CompletedAt = task.UpdatedAt
	}

	return fillTaskDefaults(task, now)
}

func (HashNormalizer) NormalizeApproval(approval Approval, now time.Time) Approval {
	h := hashDays(approval.ID)

	if approval.CreatedAt.IsZero() {
		reference := now
		if !approval.SubmittedAt.IsZero() {
			reference = approval.SubmittedAt
		}
		approval.CreatedAt = reference.AddDate(0, 0, -h)
	}

	if approval.UpdatedAt.IsZero() {
		approval.UpdatedAt = backfillUpdatedAt(approval.CreatedAt, h, now)
	}

	if approval.CompletedAt.IsZero() && approval.Status.Terminal() {
		approval.CompletedAt = approval.UpdatedAt
	}

	if approval.Status == ApprovalRejected && approval.RejectedCount < 1 {
		approval.RejectedCount = 1
	}

	return fillApprovalDefaults(approval, now)
}

// backfillUpdatedAt picks a day between creation and now, offset from now
// by a value derived from the pseudo-age and clamped so the result never
// precedes the creation time.
func backfillUpdatedAt(createdAt time.Time, h int, now time.Time) time.Time {
	daysSinceCreation := int(now.Sub(createdAt).Hours() / 24)
	if daysSinceCreation < 0 {
		daysSinceCreation = 0
	}
	updateDaysAgo := h % (daysSinceCreation + 1)
	updatedAt := now.AddDate(0, 0, -updateDaysAgo)
	if updatedAt.Before(createdAt) {
		updatedAt = createdAt
	}
	return updatedAt
}

// fillTaskDefaults is the terminal safety net: signal derivation must never
// be blocked by a malformed record, so any lifecycle field still missing
// collapses to the reference time.
func fillTaskDefaults(task Task, now time.Time) Task {
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	if task.UpdatedAt.IsZero() {
		task.UpdatedAt = now
	}
	if task.LastActivityAt.IsZero() {
		task.LastActivityAt = now
	}
	return task
}

func fillApprovalDefaults(approval Approval, now time.Time) Approval {
	if approval.CreatedAt.IsZero() {
		approval.CreatedAt = now
	}
	if approval.UpdatedAt.IsZero() {
		approval.UpdatedAt = now
	}
	return approval
}

// NormalizeTasks applies the normalizer across a list.
func NormalizeTasks(n Normalizer, tasks []Task, now time.Time) []Task {
	out := make([]Task, len(tasks))
	for i, task := range tasks {
		out[i] = n.NormalizeTask(task, now)
	}
	return out
}

func NormalizeApprovals(n Normalizer, approvals []Approval, now time.Time) []Approval {
	out := make([]Approval, len(approvals))
	for i, approval := range approvals {
		out[i] = n.NormalizeApproval(approval, now)
	}
	return out
}
