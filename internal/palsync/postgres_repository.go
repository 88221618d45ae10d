package palsync

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/lib/pq"
)

func init() {
	// Postgres credentials travel in the DSN itself.
	factory := func(dsn *url.URL, _ string) (RemoteRepository, error) {
		return NewPostgresRepository(dsn)
	}
	RegisterRemote("postgres", factory)
	RegisterRemote("postgresql", factory)
}

// postgresRepository stores each entity as a JSON document keyed by ID, one
// table per collection. Documents round-trip through the same JSON shape
// the local store uses, so the remote stays the canonical copy without a
// separate column mapping.
type postgresRepository struct {
	db *sql.DB

	readyOnce sync.Once
	readyErr  error
}

// NewPostgresRepository opens a connection pool against the DSN. Schema
// setup is deferred until first use so constructing the repository never
// blocks on the network.
func NewPostgresRepository(dsn *url.URL) (RemoteRepository, error) {
	db, err := sql.Open("postgres", dsn.String())
	if err != nil {
		return nil, fmt.Errorf("postgres repository: open: %w", err)
	}
	db.SetMaxOpenConns(8)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &postgresRepository{db: db}, nil
}

const pgSchema = `
CREATE TABLE IF NOT EXISTS palsync_tasks (
	id         TEXT PRIMARY KEY,
	client_id  TEXT NOT NULL,
	doc        JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS palsync_approvals (
	id         TEXT PRIMARY KEY,
	client_id  TEXT NOT NULL,
	doc        JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS palsync_comments (
	id         TEXT PRIMARY KEY,
	client_id  TEXT NOT NULL,
	doc        JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS palsync_contracts (
	id         TEXT PRIMARY KEY,
	client_id  TEXT NOT NULL,
	doc        JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS palsync_notifications (
	id         TEXT PRIMARY KEY,
	doc        JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// ensureReady creates the schema exactly once per process. A failure is
// remembered and returned on every subsequent call rather than retried,
// matching how a broken DSN should surface.
func (r *postgresRepository) ensureReady(ctx context.Context) error {
	r.readyOnce.Do(func() {
		for _, stmt := range strings.Split(pgSchema, ";") {
			stmt = strings.TrimSpace(stmt)
			if stmt == "" {
				continue
			}
			if _, err := r.db.ExecContext(ctx, stmt); err != nil {
				r.readyErr = fmt.Errorf("postgres repository: ensure schema: %w", err)
				return
			}
		}
	})
	return r.readyErr
}

// classifyPG wraps a driver error in a RepoError. Authorization and
// policy rejections are permanent; everything else is assumed retryable,
// which mirrors how row-level-security denials differ from outages.
func classifyPG(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return NewPermanentError(op, ErrNotFound)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		code := string(pqErr.Code)
		switch {
		case code == "42501", strings.HasPrefix(code, "28"):
			return NewPermanentError(op, err)
		case strings.HasPrefix(code, "22"), strings.HasPrefix(code, "23"):
			return NewPermanentError(op, err)
		}
		return NewTransientError(op, err)
	}
	return NewTransientError(op, err)
}

func (r *postgresRepository) upsertDoc(ctx context.Context, op, table, id, clientID string, doc any) error {
	if err := r.ensureReady(ctx); err != nil {
		return NewTransientError(op, err)
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return NewPermanentError(op, err)
	}
	var query string
	args := []any{id, raw}
	if clientID == "" {
		query = fmt.Sprintf(`INSERT INTO %s (id, doc, updated_at) VALUES ($1, $2, now())
			ON CONFLICT (id) DO UPDATE SET doc = EXCLUDED.doc, updated_at = now()`, table)
	} else {
		query = fmt.Sprintf(`INSERT INTO %s (id, client_id, doc, updated_at) VALUES ($1, $3, $2, now())
			ON CONFLICT (id) DO UPDATE SET doc = EXCLUDED.doc, updated_at = now()`, table)
		args = append(args, clientID)
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return classifyPG(op, err)
	}
	return nil
}

func (r *postgresRepository) getDoc(ctx context.Context, op, table, id string, out any) error {
	if err := r.ensureReady(ctx); err != nil {
		return NewTransientError(op, err)
	}
	var raw []byte
	query := fmt.Sprintf(`SELECT doc FROM %s WHERE id = $1`, table)
	if err := r.db.QueryRowContext(ctx, query, id).Scan(&raw); err != nil {
		return classifyPG(op, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return NewPermanentError(op, err)
	}
	return nil
}

func (r *postgresRepository) CreateTask(ctx context.Context, task Task) (Task, error) {
	const op = "pg.task.create"
	if err := r.upsertDoc(ctx, op, "palsync_tasks", task.ID, task.ClientID, task); err != nil {
		return Task{}, err
	}
	return task, nil
}

func (r *postgresRepository) UpdateTask(ctx context.Context, clientID, taskID string, patch TaskPatch) (Task, error) {
	const op = "pg.task.update"
	var task Task
	if err := r.getDoc(ctx, op, "palsync_tasks", taskID, &task); err != nil {
		return Task{}, err
	}
	task = patch.Apply(task)
	if err := r.upsertDoc(ctx, op, "palsync_tasks", taskID, clientID, task); err != nil {
		return Task{}, err
	}
	return task, nil
}

func (r *postgresRepository) UpdateApproval(ctx context.Context, clientID, approvalID string, patch ApprovalPatch) (Approval, error) {
	const op = "pg.approval.update"
	var approval Approval
	if err := r.getDoc(ctx, op, "palsync_approvals", approvalID, &approval); err != nil {
		return Approval{}, err
	}
	approval = patch.Apply(approval)
	if err := r.upsertDoc(ctx, op, "palsync_approvals", approvalID, clientID, approval); err != nil {
		return Approval{}, err
	}
	return approval, nil
}

func (r *postgresRepository) CreateComment(ctx context.Context, comment Comment) (Comment, error) {
	const op = "pg.comment.create"
	if err := r.upsertDoc(ctx, op, "palsync_comments", comment.ID, comment.ClientID, comment); err != nil {
		return Comment{}, err
	}
	return comment, nil
}

func (r *postgresRepository) CreateContract(ctx context.Context, contract Contract) (Contract, error) {
	const op = "pg.contract.create"
	if err := r.upsertDoc(ctx, op, "palsync_contracts", contract.ID, contract.ClientID, contract); err != nil {
		return Contract{}, err
	}
	return contract, nil
}

func (r *postgresRepository) UpdateContract(ctx context.Context, contractID string, patch ContractPatch) (Contract, error) {
	const op = "pg.contract.update"
	var contract Contract
	if err := r.getDoc(ctx, op, "palsync_contracts", contractID, &contract); err != nil {
		return Contract{}, err
	}
	contract = patch.Apply(contract)
	if err := r.upsertDoc(ctx, op, "palsync_contracts", contractID, contract.ClientID, contract); err != nil {
		return Contract{}, err
	}
	return contract, nil
}

func (r *postgresRepository) AddNotification(ctx context.Context, notification Notification) (Notification, error) {
	const op = "pg.notification.add"
	if err := r.upsertDoc(ctx, op, "palsync_notifications", notification.ID, "", notification); err != nil {
		return Notification{}, err
	}
	return notification, nil
}

func (r *postgresRepository) MarkNotificationRead(ctx context.Context, notificationID string) error {
	const op = "pg.notification.markRead"
	var notification Notification
	if err := r.getDoc(ctx, op, "palsync_notifications", notificationID, &notification); err != nil {
		return err
	}
	notification.Read = true
	return r.upsertDoc(ctx, op, "palsync_notifications", notificationID, "", notification)
}

func (r *postgresRepository) DeleteNotification(ctx context.Context, notificationID string) error {
	const op = "pg.notification.delete"
	if err := r.ensureReady(ctx); err != nil {
		return NewTransientError(op, err)
	}
	if _, err := r.db.ExecContext(ctx, `DELETE FROM palsync_notifications WHERE id = $1`, notificationID); err != nil {
		return classifyPG(op, err)
	}
	return nil
}

func (r *postgresRepository) ClearNotifications(ctx context.Context) error {
	const op = "pg.notification.clear"
	if err := r.ensureReady(ctx); err != nil {
		return NewTransientError(op, err)
	}
	if _, err := r.db.ExecContext(ctx, `DELETE FROM palsync_notifications`); err != nil {
		return classifyPG(op, err)
	}
	return nil
}

func (r *postgresRepository) MarkAllNotificationsRead(ctx context.Context) error {
	const op = "pg.notification.markAllRead"
	if err := r.ensureReady(ctx); err != nil {
		return NewTransientError(op, err)
	}
	query := `UPDATE palsync_notifications SET doc = jsonb_set(doc, '{read}', 'true'), updated_at = now()`
	if _, err := r.db.ExecContext(ctx, query); err != nil {
		return classifyPG(op, err)
	}
	return nil
}

func (r *postgresRepository) Close() error {
	return r.db.Close()
}
