package palsync

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func newTestREST(t *testing.T, handler http.Handler) *restRepository {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewRESTRepository(RESTRepositoryOptions{
		BaseURL:       srv.URL,
		TokenProvider: StaticToken("test-token"),
		MaxRetries:    1,
		BaseDelay:     time.Millisecond,
		MaxDelay:      5 * time.Millisecond,
	})
}

func TestRESTCreateTaskSendsAuthAndReturnsCanonical(t *testing.T) {
	repo := newTestREST(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/tasks" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("authorization = %q", got)
		}
		var task Task
		if err := json.NewDecoder(r.Body).Decode(&task); err != nil {
			t.Errorf("decode: %v", err)
		}
		task.Title = task.Title + " [server]"
		_ = json.NewEncoder(w).Encode(task)
	}))

	got, err := repo.CreateTask(context.Background(), Task{ID: "t1", ClientID: "c1", Title: "Draft reel"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if got.Title != "Draft reel [server]" {
		t.Fatalf("canonical copy not returned: %+v", got)
	}
}

func TestRESTForbiddenIsPermanent(t *testing.T) {
	repo := newTestREST(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"message":"row-level security"}`))
	}))

	_, err := repo.CreateTask(context.Background(), Task{ID: "t1", ClientID: "c1"})
	if err == nil {
		t.Fatalf("forbidden response succeeded")
	}
	if Classify(err) != ErrorClassPermanent {
		t.Fatalf("classify = %v, want permanent: %v", Classify(err), err)
	}
}

func TestRESTNotFoundWrapsSentinel(t *testing.T) {
	repo := newTestREST(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))

	err := repo.MarkNotificationRead(context.Background(), "n1")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if Classify(err) != ErrorClassPermanent {
		t.Fatalf("classify = %v, want permanent", Classify(err))
	}
}

func TestRESTServerErrorRetriedThenTransient(t *testing.T) {
	var hits atomic.Int32
	repo := newTestREST(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))

	_, err := repo.CreateComment(context.Background(), Comment{ID: "cm1", ClientID: "c1", Author: AuthorTeam})
	if err == nil {
		t.Fatalf("persistent 500 succeeded")
	}
	if Classify(err) != ErrorClassTransient {
		t.Fatalf("classify = %v, want transient: %v", Classify(err), err)
	}
	if got := hits.Load(); got != 2 {
		t.Fatalf("attempts = %d, want initial call plus one retry", got)
	}
}

func TestRESTRecoversAfterRateLimit(t *testing.T) {
	var hits atomic.Int32
	repo := newTestREST(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_ = json.NewEncoder(w).Encode(Notification{ID: "n1", Title: "ok"})
	}))

	got, err := repo.AddNotification(context.Background(), Notification{Title: "ok"})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if got.ID != "n1" || hits.Load() != 2 {
		t.Fatalf("got=%+v hits=%d", got, hits.Load())
	}
}

func TestParseRetryAfterSeconds(t *testing.T) {
	if d := parseRetryAfterSeconds("3"); d != 3*time.Second {
		t.Fatalf("d = %v", d)
	}
	if d := parseRetryAfterSeconds("soon"); d != 0 {
		t.Fatalf("non-numeric header parsed: %v", d)
	}
	if d := parseRetryAfterSeconds(""); d != 0 {
		t.Fatalf("empty header parsed: %v", d)
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want ErrorClass
	}{
		{errors.New("new row violates RLS policy"), ErrorClassPermanent},
		{errors.New("permission denied for table tasks"), ErrorClassPermanent},
		{errors.New("status 403"), ErrorClassPermanent},
		{errors.New("unauthorized"), ErrorClassPermanent},
		{errors.New("connection refused"), ErrorClassTransient},
		{errors.New("i/o timeout"), ErrorClassTransient},
		{NewPermanentError("op", errors.New("gone")), ErrorClassPermanent},
		{NewTransientError("op", errors.New("busy")), ErrorClassTransient},
		{nil, ErrorClassTransient},
	}
	for _, tc := range cases {
		if got := Classify(tc.err); got != tc.want {
			t.Errorf("Classify(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}

func TestBuildRemoteRepositoryUsesConfiguredToken(t *testing.T) {
	var got atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.Store(r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)

	repo, err := BuildRemoteRepository(srv.URL, "env-token")
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })

	if err := repo.MarkAllNotificationsRead(context.Background()); err != nil {
		t.Fatalf("call: %v", err)
	}
	if auth, _ := got.Load().(string); auth != "Bearer env-token" {
		t.Fatalf("authorization = %q, want configured token", auth)
	}
}

func TestBuildRemoteRepositoryDSNTokenWins(t *testing.T) {
	var got atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.Store(r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)

	repo, err := BuildRemoteRepository(srv.URL+"?token=dsn-token", "env-token")
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })

	if err := repo.MarkAllNotificationsRead(context.Background()); err != nil {
		t.Fatalf("call: %v", err)
	}
	if auth, _ := got.Load().(string); auth != "Bearer dsn-token" {
		t.Fatalf("authorization = %q, want DSN token", auth)
	}
}
