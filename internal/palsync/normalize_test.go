package palsync

import (
	"testing"
	"time"
)

var testNow = time.Date(2024, 12, 13, 12, 0, 0, 0, time.UTC)

func TestHashDaysRange(t *testing.T) {
	ids := []string{"", "a", "task-1", "task-2", "7b1c2d3e", "client-aoba/task-99"}
	for _, id := range ids {
		h := hashDays(id)
		if h < 2 || h > 10 {
			t.Fatalf("hashDays(%q) = %d, want within [2,10]", id, h)
		}
		if h != hashDays(id) {
			t.Fatalf("hashDays(%q) not stable", id)
		}
	}
}

func TestNormalizeTaskDeterministic(t *testing.T) {
	task := Task{ID: "task-1", ClientID: "c1", Status: TaskInProgress, DueDate: testNow.AddDate(0, 0, 5)}
	n := HashNormalizer{}

	first := n.NormalizeTask(task, testNow)
	second := n.NormalizeTask(task, testNow)
	if first != second {
		t.Fatalf("normalization not deterministic:\n%+v\n%+v", first, second)
	}
}

func TestNormalizeTaskIdempotent(t *testing.T) {
	task := Task{ID: "task-1", ClientID: "c1", Status: TaskCompleted}
	n := HashNormalizer{}

	once := n.NormalizeTask(task, testNow)
	twice := n.NormalizeTask(once, testNow)
	if once != twice {
		t.Fatalf("re-normalizing a full record changed it:\n%+v\n%+v", once, twice)
	}
}

func TestNormalizeTaskKeepsCallerFields(t *testing.T) {
	createdAt := time.Date(2024, 11, 1, 0, 0, 0, 0, time.UTC)
	task := Task{ID: "task-1", ClientID: "c1", Status: TaskPending, CreatedAt: createdAt}

	got := HashNormalizer{}.NormalizeTask(task, testNow)
	if !got.CreatedAt.Equal(createdAt) {
		t.Fatalf("createdAt overwritten: got %v, want %v", got.CreatedAt, createdAt)
	}
}

func TestNormalizeTaskCreatedFromDueDate(t *testing.T) {
	due := time.Date(2024, 12, 20, 0, 0, 0, 0, time.UTC)
	task := Task{ID: "task-1", ClientID: "c1", Status: TaskPending, DueDate: due}

	got := HashNormalizer{}.NormalizeTask(task, testNow)
	want := due.AddDate(0, 0, -hashDays("task-1"))
	if !got.CreatedAt.Equal(want) {
		t.Fatalf("createdAt = %v, want %v (due - hash days)", got.CreatedAt, want)
	}
}

func TestNormalizeTaskMonotonicTimestamps(t *testing.T) {
	for _, status := range []TaskStatus{TaskPending, TaskInProgress, TaskAwaitingApproval, TaskCompleted} {
		task := Task{ID: "task-x-" + string(status), ClientID: "c1", Status: status}
		got := HashNormalizer{}.NormalizeTask(task, testNow)

		if got.UpdatedAt.Before(got.CreatedAt) {
			t.Errorf("status %s: updatedAt %v before createdAt %v", status, got.UpdatedAt, got.CreatedAt)
		}
		if got.LastActivityAt.Before(got.CreatedAt) {
			t.Errorf("status %s: lastActivityAt %v before createdAt %v", status, got.LastActivityAt, got.CreatedAt)
		}
		if status == TaskCompleted {
			if got.CompletedAt.IsZero() {
				t.Errorf("completed task missing completedAt")
			}
			if got.CompletedAt.Before(got.UpdatedAt) {
				t.Errorf("completedAt %v before updatedAt %v", got.CompletedAt, got.UpdatedAt)
			}
		} else if !got.CompletedAt.IsZero() {
			t.Errorf("status %s: completedAt set on open task", status)
		}
	}
}

func TestNormalizeTaskActiveStatusTrailsByHours(t *testing.T) {
	task := Task{ID: "task-1", ClientID: "c1", Status: TaskInProgress}
	got := HashNormalizer{}.NormalizeTask(task, testNow)

	gap := got.UpdatedAt.Sub(got.LastActivityAt)
	if gap < 0 || gap >= 24*time.Hour {
		t.Fatalf("active task activity gap = %v, want under a day", gap)
	}
}

func TestNormalizeApproval(t *testing.T) {
	approval := Approval{ID: "appr-1", ClientID: "c1", Type: ApprovalTypeVideo, Status: ApprovalRejected}
	got := HashNormalizer{}.NormalizeApproval(approval, testNow)

	if got.CreatedAt.IsZero() || got.UpdatedAt.IsZero() {
		t.Fatalf("lifecycle fields not backfilled: %+v", got)
	}
	if got.CompletedAt.IsZero() {
		t.Fatalf("terminal approval missing completedAt")
	}
	if got.RejectedCount < 1 {
		t.Fatalf("rejected approval has rejectedCount %d", got.RejectedCount)
	}
}

func TestNoopNormalizer(t *testing.T) {
	task := Task{ID: "task-1", ClientID: "c1", Status: TaskPending}
	if got := (NoopNormalizer{}).NormalizeTask(task, testNow); got != task {
		t.Fatalf("noop changed the task: %+v", got)
	}
}
