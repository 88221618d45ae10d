package palsync

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestCatalogUpsertTaskSkipsDuplicates(t *testing.T) {
	catalog := NewCatalog(NewMemoryStore())

	added, err := catalog.UpsertTask("c1", Task{ID: "t1", ClientID: "c1", Title: "first"})
	if err != nil || !added {
		t.Fatalf("first upsert: added=%v err=%v", added, err)
	}
	added, err = catalog.UpsertTask("c1", Task{ID: "t1", ClientID: "c1", Title: "second"})
	if err != nil || added {
		t.Fatalf("duplicate upsert: added=%v err=%v", added, err)
	}

	tasks, _ := catalog.ClientTasks("c1")
	if len(tasks) != 1 || tasks[0].Title != "first" {
		t.Fatalf("tasks = %+v", tasks)
	}

	if _, err := catalog.UpsertTask("", Task{ID: "t2"}); err == nil {
		t.Fatalf("missing client accepted")
	}
}

func TestCatalogMergeTaskReplacesOrAppends(t *testing.T) {
	catalog := NewCatalog(NewMemoryStore())
	if _, err := catalog.UpsertTask("c1", Task{ID: "t1", ClientID: "c1", Title: "optimistic"}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if err := catalog.MergeTask("c1", Task{ID: "t1", ClientID: "c1", Title: "canonical"}); err != nil {
		t.Fatalf("merge existing: %v", err)
	}
	if err := catalog.MergeTask("c1", Task{ID: "t2", ClientID: "c1", Title: "new"}); err != nil {
		t.Fatalf("merge new: %v", err)
	}

	tasks, _ := catalog.ClientTasks("c1")
	if len(tasks) != 2 || tasks[0].Title != "canonical" || tasks[1].ID != "t2" {
		t.Fatalf("tasks = %+v", tasks)
	}
}

func TestCatalogPatchTask(t *testing.T) {
	catalog := NewCatalog(NewMemoryStore())
	_, _ = catalog.UpsertTask("c1", Task{ID: "t1", ClientID: "c1", Status: TaskPending})

	status := TaskCompleted
	now := testNow
	found, err := catalog.PatchTask("c1", "t1", TaskPatch{Status: &status, UpdatedAt: &now})
	if err != nil || !found {
		t.Fatalf("patch: found=%v err=%v", found, err)
	}
	tasks, _ := catalog.ClientTasks("c1")
	if tasks[0].Status != TaskCompleted || !tasks[0].UpdatedAt.Equal(testNow) {
		t.Fatalf("task = %+v", tasks[0])
	}
	if tasks[0].CompletedAt.IsZero() {
		t.Fatalf("completion stamp missing: %+v", tasks[0])
	}

	found, err = catalog.PatchTask("c1", "missing", TaskPatch{Status: &status})
	if err != nil || found {
		t.Fatalf("missing: found=%v err=%v", found, err)
	}
}

func TestCatalogAllTasksOrderedByClient(t *testing.T) {
	catalog := NewCatalog(NewMemoryStore())
	_, _ = catalog.UpsertTask("c2", Task{ID: "t2", ClientID: "c2"})
	_, _ = catalog.UpsertTask("c1", Task{ID: "t1", ClientID: "c1"})

	all, err := catalog.AllTasks()
	if err != nil {
		t.Fatalf("all tasks: %v", err)
	}
	if len(all) != 2 || all[0].ClientID != "c1" || all[1].ClientID != "c2" {
		t.Fatalf("all = %+v", all)
	}
}

func TestCatalogClientCommentsSorted(t *testing.T) {
	catalog := NewCatalog(NewMemoryStore())
	base := testNow
	_ = catalog.AddComment(Comment{ID: "cm2", ClientID: "c1", Author: AuthorTeam, CreatedAt: base})
	_ = catalog.AddComment(Comment{ID: "cm1", ClientID: "c1", Author: AuthorClient, CreatedAt: base.Add(-time.Hour)})
	_ = catalog.AddComment(Comment{ID: "cm3", ClientID: "c2", Author: AuthorClient, CreatedAt: base})

	comments, err := catalog.ClientComments("c1")
	if err != nil {
		t.Fatalf("client comments: %v", err)
	}
	if len(comments) != 2 || comments[0].ID != "cm1" || comments[1].ID != "cm2" {
		t.Fatalf("comments = %+v", comments)
	}
}

func TestCatalogNotificationLifecycle(t *testing.T) {
	catalog := NewCatalog(NewMemoryStore())
	_, _ = catalog.UpsertNotification(Notification{ID: "n1", Title: "a"})
	_, _ = catalog.UpsertNotification(Notification{ID: "n2", Title: "b"})

	if err := catalog.MarkAllNotificationsRead(); err != nil {
		t.Fatalf("read all: %v", err)
	}
	notifications, _ := catalog.Notifications()
	for _, n := range notifications {
		if !n.Read {
			t.Fatalf("unread after read-all: %+v", n)
		}
	}

	found, err := catalog.DeleteNotification("n1")
	if err != nil || !found {
		t.Fatalf("delete: found=%v err=%v", found, err)
	}
	if found, _ := catalog.DeleteNotification("n1"); found {
		t.Fatalf("second delete reported found")
	}

	if err := catalog.ClearNotifications(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	notifications, _ = catalog.Notifications()
	if len(notifications) != 0 {
		t.Fatalf("notifications = %+v", notifications)
	}
}

func TestCatalogAddContractIdempotent(t *testing.T) {
	catalog := NewCatalog(NewMemoryStore())
	contract := Contract{ID: "ct1", ClientID: "c1", Status: ContractActive, MonthlyFee: 100000}
	if err := catalog.AddContract(contract); err != nil {
		t.Fatalf("add: %v", err)
	}
	contract.MonthlyFee = 999999
	if err := catalog.AddContract(contract); err != nil {
		t.Fatalf("re-add: %v", err)
	}
	contracts, _ := catalog.Contracts()
	if len(contracts) != 1 || contracts[0].MonthlyFee != 100000 {
		t.Fatalf("contracts = %+v", contracts)
	}

	fee := int64(120000)
	found, err := catalog.PatchContract("ct1", ContractPatch{MonthlyFee: &fee})
	if err != nil || !found {
		t.Fatalf("patch: found=%v err=%v", found, err)
	}
	contracts, _ = catalog.Contracts()
	if contracts[0].MonthlyFee != 120000 {
		t.Fatalf("contracts = %+v", contracts)
	}
}

func TestCatalogThresholdsFallBackToDefaults(t *testing.T) {
	catalog := NewCatalog(NewMemoryStore())

	thresholds, err := catalog.Thresholds()
	if err != nil {
		t.Fatalf("thresholds: %v", err)
	}
	if thresholds != DefaultThresholds() {
		t.Fatalf("thresholds = %+v", thresholds)
	}

	thresholds.StagnantDays = 14
	thresholds.KPIDefinition = "Z" // invalid, normalized on write
	if err := catalog.SetThresholds(thresholds); err != nil {
		t.Fatalf("set: %v", err)
	}
	stored, err := catalog.Thresholds()
	if err != nil {
		t.Fatalf("re-read: %v", err)
	}
	if stored.StagnantDays != 14 || stored.KPIDefinition != KPIDefinitionA {
		t.Fatalf("stored = %+v", stored)
	}
}

func TestCatalogConcurrentUpsertsKeepEveryTask(t *testing.T) {
	catalog := NewCatalog(NewMemoryStore())

	const writers = 50
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("t%d", i)
			if _, err := catalog.UpsertTask("c1", Task{ID: id, ClientID: "c1", Title: id}); err != nil {
				t.Errorf("upsert %s: %v", id, err)
			}
		}(i)
	}
	wg.Wait()

	tasks, err := catalog.ClientTasks("c1")
	if err != nil {
		t.Fatalf("client tasks: %v", err)
	}
	if len(tasks) != writers {
		t.Fatalf("catalog kept %d tasks, want %d", len(tasks), writers)
	}
}

func TestCatalogAddCommentIdempotent(t *testing.T) {
	catalog := NewCatalog(NewMemoryStore())
	comment := Comment{ID: "cm1", ClientID: "c1", Author: AuthorTeam, Body: "first"}
	if err := catalog.AddComment(comment); err != nil {
		t.Fatalf("add: %v", err)
	}
	comment.Body = "second"
	if err := catalog.AddComment(comment); err != nil {
		t.Fatalf("re-add: %v", err)
	}

	comments, _ := catalog.Comments()
	if len(comments) != 1 || comments[0].Body != "first" {
		t.Fatalf("comments = %+v", comments)
	}
}
