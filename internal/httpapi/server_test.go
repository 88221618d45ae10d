package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/palss/palsync/internal/palsync"
)

var testNow = time.Date(2024, 12, 13, 12, 0, 0, 0, time.UTC)

type apiFixture struct {
	catalog *palsync.Catalog
	server  *Server
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	store := palsync.NewMemoryStore()
	catalog := palsync.NewCatalog(store)
	outbox := palsync.NewOutbox(store)
	rec := palsync.NewReconciler(palsync.ReconcilerOptions{
		Mode:    palsync.DataModeLocal,
		Catalog: catalog,
		Outbox:  outbox,
		Logger:  zerolog.Nop(),
		Now:     func() time.Time { return testNow },
	})
	t.Cleanup(func() { _ = rec.Close() })

	server, err := NewServer(ServerOptions{
		Catalog:    catalog,
		Outbox:     outbox,
		Reconciler: rec,
		Signals:    palsync.NewSignalEngine(catalog, palsync.NoopNormalizer{}),
		Logger:     zerolog.Nop(),
		Now:        func() time.Time { return testNow },
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return &apiFixture{catalog: catalog, server: server}
}

func (fx *apiFixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	fx.server.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

func TestHealth(t *testing.T) {
	fx := newAPIFixture(t)
	rec := fx.do(t, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]string
	decodeBody(t, rec, &body)
	if body["status"] != "ok" || body["mode"] != "local" {
		t.Fatalf("body = %v", body)
	}
}

func TestCreateTaskAndList(t *testing.T) {
	fx := newAPIFixture(t)

	rec := fx.do(t, http.MethodPost, "/v1/tasks", `{"clientId":"c1","title":"Draft reel"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("create status = %d body = %s", rec.Code, rec.Body.String())
	}
	var created struct {
		OutboxID string       `json:"outboxId"`
		Data     palsync.Task `json:"data"`
	}
	decodeBody(t, rec, &created)
	if created.OutboxID != "" {
		t.Fatalf("local mode returned an outbox handle: %+v", created)
	}
	if created.Data.ID == "" || created.Data.Status != palsync.TaskPending {
		t.Fatalf("data = %+v", created.Data)
	}

	rec = fx.do(t, http.MethodGet, "/v1/clients/c1/tasks?normalize=false", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	var tasks []palsync.Task
	decodeBody(t, rec, &tasks)
	if len(tasks) != 1 || tasks[0].ID != created.Data.ID {
		t.Fatalf("tasks = %+v", tasks)
	}
}

func TestCreateTaskSchemaViolations(t *testing.T) {
	fx := newAPIFixture(t)
	for _, body := range []string{
		`{"title":"no client"}`,
		`{"clientId":"c1"}`,
		`{"clientId":"c1","title":"x","status":"bogus"}`,
		`not json`,
	} {
		rec := fx.do(t, http.MethodPost, "/v1/tasks", body)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("body %s: status = %d, want 400", body, rec.Code)
		}
	}
}

func TestPatchTask(t *testing.T) {
	fx := newAPIFixture(t)
	rec := fx.do(t, http.MethodPost, "/v1/tasks", `{"clientId":"c1","title":"Draft reel"}`)
	var created struct {
		Data palsync.Task `json:"data"`
	}
	decodeBody(t, rec, &created)

	rec = fx.do(t, http.MethodPatch, "/v1/clients/c1/tasks/"+created.Data.ID, `{"status":"completed"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("patch status = %d body = %s", rec.Code, rec.Body.String())
	}
	var patched struct {
		Data palsync.Task `json:"data"`
	}
	decodeBody(t, rec, &patched)
	if patched.Data.Status != palsync.TaskCompleted || patched.Data.CompletedAt.IsZero() {
		t.Fatalf("data = %+v", patched.Data)
	}

	rec = fx.do(t, http.MethodPatch, "/v1/clients/c1/tasks/"+created.Data.ID, `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("empty patch status = %d", rec.Code)
	}

	rec = fx.do(t, http.MethodPatch, "/v1/clients/c1/tasks/missing", `{"status":"pending"}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown task status = %d", rec.Code)
	}
}

func TestClientUpsert(t *testing.T) {
	fx := newAPIFixture(t)

	rec := fx.do(t, http.MethodPost, "/v1/clients", `{"id":"c1"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("nameless client status = %d", rec.Code)
	}

	rec = fx.do(t, http.MethodPost, "/v1/clients", `{"id":"c1","name":"Aoba Coffee"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d", rec.Code)
	}
	rec = fx.do(t, http.MethodPost, "/v1/clients", `{"id":"c1","name":"Aoba Coffee"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("re-create status = %d, want 200 for existing", rec.Code)
	}

	rec = fx.do(t, http.MethodGet, "/v1/clients", "")
	var clients []palsync.Client
	decodeBody(t, rec, &clients)
	if len(clients) != 1 {
		t.Fatalf("clients = %+v", clients)
	}
}

func TestThresholdsRoundTrip(t *testing.T) {
	fx := newAPIFixture(t)

	rec := fx.do(t, http.MethodGet, "/v1/thresholds", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	var current palsync.Thresholds
	decodeBody(t, rec, &current)
	if current.StagnantDays != 10 || current.NoReplyDays != 5 || current.RenewalDays != 30 {
		t.Fatalf("defaults = %+v", current)
	}

	rec = fx.do(t, http.MethodPut, "/v1/thresholds", `{"stagnantDays":14,"kpiDefinition":"B"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("put status = %d body = %s", rec.Code, rec.Body.String())
	}
	var updated palsync.Thresholds
	decodeBody(t, rec, &updated)
	if updated.StagnantDays != 14 || updated.KPIDefinition != palsync.KPIDefinitionB {
		t.Fatalf("updated = %+v", updated)
	}
	if updated.NoReplyDays != 5 {
		t.Fatalf("partial put clobbered untouched field: %+v", updated)
	}

	for _, body := range []string{
		`{"stagnantDays":0}`,
		`{"kpiDefinition":"C"}`,
		`{"aggregationPeriod":"fortnight"}`,
	} {
		rec = fx.do(t, http.MethodPut, "/v1/thresholds", body)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("body %s: status = %d, want 400", body, rec.Code)
		}
	}
}

func TestAlertsEndpoint(t *testing.T) {
	fx := newAPIFixture(t)
	if _, err := fx.catalog.UpsertClient(palsync.Client{ID: "c1", Name: "Aoba Coffee"}); err != nil {
		t.Fatalf("seed client: %v", err)
	}
	overdue := palsync.Task{
		ID:             "t-over",
		ClientID:       "c1",
		Title:          "Holiday campaign",
		Status:         palsync.TaskInProgress,
		DueDate:        testNow.AddDate(0, 0, -3),
		CreatedAt:      testNow.AddDate(0, 0, -10),
		UpdatedAt:      testNow.AddDate(0, 0, -1),
		LastActivityAt: testNow.AddDate(0, 0, -1),
	}
	if _, err := fx.catalog.UpsertTask("c1", overdue); err != nil {
		t.Fatalf("seed task: %v", err)
	}

	rec := fx.do(t, http.MethodGet, "/v1/alerts", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var alerts []palsync.Alert
	decodeBody(t, rec, &alerts)
	if len(alerts) != 1 || alerts[0].Kind != palsync.AlertOverdue || alerts[0].EntityID != "t-over" {
		t.Fatalf("alerts = %+v", alerts)
	}

	rec = fx.do(t, http.MethodGet, "/v1/alerts/overdue", "")
	var tasks []palsync.Task
	decodeBody(t, rec, &tasks)
	if len(tasks) != 1 || tasks[0].ID != "t-over" {
		t.Fatalf("overdue = %+v", tasks)
	}
}

func TestKPIEndpoints(t *testing.T) {
	fx := newAPIFixture(t)

	rec := fx.do(t, http.MethodGet, "/v1/kpis/direction", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("direction status = %d", rec.Code)
	}
	var direction palsync.DirectionKPI
	decodeBody(t, rec, &direction)

	rec = fx.do(t, http.MethodGet, "/v1/kpis/sales?clientId=c1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("sales status = %d", rec.Code)
	}
}

func TestOutboxEndpointsLocalMode(t *testing.T) {
	fx := newAPIFixture(t)

	rec := fx.do(t, http.MethodGet, "/v1/outbox", "")
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Fatalf("list = %d %q", rec.Code, rec.Body.String())
	}

	rec = fx.do(t, http.MethodGet, "/v1/outbox/stats", "")
	var stats palsync.OutboxStats
	decodeBody(t, rec, &stats)
	if stats.Total != 0 {
		t.Fatalf("stats = %+v", stats)
	}

	// Manual retry only applies when a remote is configured.
	rec = fx.do(t, http.MethodPost, "/v1/outbox/retry", "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("retry status = %d, want 409", rec.Code)
	}
}

func TestCommentLifecycle(t *testing.T) {
	fx := newAPIFixture(t)

	rec := fx.do(t, http.MethodPost, "/v1/comments", `{"clientId":"c1","author":"client","body":"When is the next draft due?"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("create status = %d body = %s", rec.Code, rec.Body.String())
	}

	rec = fx.do(t, http.MethodPost, "/v1/comments", `{"clientId":"c1","author":"visitor"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad author status = %d", rec.Code)
	}

	rec = fx.do(t, http.MethodGet, "/v1/clients/c1/comments", "")
	var comments []palsync.Comment
	decodeBody(t, rec, &comments)
	if len(comments) != 1 || comments[0].Author != palsync.AuthorClient {
		t.Fatalf("comments = %+v", comments)
	}
}

func TestNotificationEndpoints(t *testing.T) {
	fx := newAPIFixture(t)

	rec := fx.do(t, http.MethodPost, "/v1/notifications", `{"title":"Contract renewal due"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("create status = %d", rec.Code)
	}
	var created struct {
		Data palsync.Notification `json:"data"`
	}
	decodeBody(t, rec, &created)

	rec = fx.do(t, http.MethodPost, "/v1/notifications/"+created.Data.ID+"/read", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("read status = %d", rec.Code)
	}

	rec = fx.do(t, http.MethodGet, "/v1/notifications", "")
	var notifications []palsync.Notification
	decodeBody(t, rec, &notifications)
	if len(notifications) != 1 || !notifications[0].Read {
		t.Fatalf("notifications = %+v", notifications)
	}

	rec = fx.do(t, http.MethodDelete, "/v1/notifications/"+created.Data.ID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rec.Code)
	}
	rec = fx.do(t, http.MethodPost, "/v1/notifications/missing/read", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing read status = %d", rec.Code)
	}
}

func TestIntegrityEndpoint(t *testing.T) {
	fx := newAPIFixture(t)

	rec := fx.do(t, http.MethodGet, "/v1/admin/integrity", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("clean status = %d", rec.Code)
	}

	// A task filed under a client the catalog does not know is a finding.
	if _, err := fx.catalog.UpsertTask("ghost", palsync.Task{ID: "t1", ClientID: "ghost", Title: "orphan"}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	rec = fx.do(t, http.MethodGet, "/v1/admin/integrity", "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("dirty status = %d, want 409", rec.Code)
	}
}

func TestPatchContractSchemaViolations(t *testing.T) {
	fx := newAPIFixture(t)

	rec := fx.do(t, http.MethodPost, "/v1/contracts", `{"clientId":"c1","monthlyFee":90000}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("create status = %d body = %s", rec.Code, rec.Body.String())
	}
	var created struct {
		Data palsync.Contract `json:"data"`
	}
	decodeBody(t, rec, &created)

	for _, body := range []string{
		`{}`,
		`{"status":"cancelled"}`,
		`{"monthlyFee":-5}`,
	} {
		rec = fx.do(t, http.MethodPatch, "/v1/contracts/"+created.Data.ID, body)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("patch %s status = %d, want 400", body, rec.Code)
		}
	}

	rec = fx.do(t, http.MethodPatch, "/v1/contracts/"+created.Data.ID, `{"monthlyFee":120000}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("valid patch status = %d body = %s", rec.Code, rec.Body.String())
	}
	var patched struct {
		Data palsync.Contract `json:"data"`
	}
	decodeBody(t, rec, &patched)
	if patched.Data.MonthlyFee != 120000 {
		t.Fatalf("monthlyFee = %d", patched.Data.MonthlyFee)
	}
}

func TestCreateNotificationSchemaViolations(t *testing.T) {
	fx := newAPIFixture(t)

	for _, body := range []string{
		`{"body":"no title"}`,
		`{"title":""}`,
	} {
		rec := fx.do(t, http.MethodPost, "/v1/notifications", body)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("create %s status = %d, want 400", body, rec.Code)
		}
	}

	rec := fx.do(t, http.MethodPost, "/v1/notifications", `{"title":"Renewal due"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("valid create status = %d body = %s", rec.Code, rec.Body.String())
	}
}

func TestListTasksUsesConfiguredNormalizer(t *testing.T) {
	store := palsync.NewMemoryStore()
	catalog := palsync.NewCatalog(store)
	outbox := palsync.NewOutbox(store)
	rec := palsync.NewReconciler(palsync.ReconcilerOptions{
		Mode:    palsync.DataModeLocal,
		Catalog: catalog,
		Outbox:  outbox,
		Logger:  zerolog.Nop(),
		Now:     func() time.Time { return testNow },
	})
	t.Cleanup(func() { _ = rec.Close() })

	server, err := NewServer(ServerOptions{
		Catalog:    catalog,
		Outbox:     outbox,
		Reconciler: rec,
		Signals:    palsync.NewSignalEngine(catalog, palsync.NoopNormalizer{}),
		Normalizer: palsync.NoopNormalizer{},
		Logger:     zerolog.Nop(),
		Now:        func() time.Time { return testNow },
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	if _, err := catalog.UpsertTask("c1", palsync.Task{ID: "t1", ClientID: "c1", Title: "legacy"}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/clients/c1/tasks", nil)
	res := httptest.NewRecorder()
	server.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", res.Code, res.Body.String())
	}
	var tasks []palsync.Task
	if err := json.Unmarshal(res.Body.Bytes(), &tasks); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(tasks) != 1 {
		t.Fatalf("tasks = %+v", tasks)
	}
	if !tasks[0].CreatedAt.IsZero() {
		t.Fatalf("createdAt backfilled despite pass-through normalizer: %+v", tasks[0])
	}
}
