package palsync

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
)

// RemoteRepository is the canonical system of record behind the local
// store. Every mutating method returns the canonical entity as the remote
// persisted it, or an error classified via RepoError so callers can tell
// retryable failures from final ones.
type RemoteRepository interface {
	CreateTask(ctx context.Context, task Task) (Task, error)
	UpdateTask(ctx context.Context, clientID, taskID string, patch TaskPatch) (Task, error)
	UpdateApproval(ctx context.Context, clientID, approvalID string, patch ApprovalPatch) (Approval, error)
	CreateComment(ctx context.Context, comment Comment) (Comment, error)
	CreateContract(ctx context.Context, contract Contract) (Contract, error)
	UpdateContract(ctx context.Context, contractID string, patch ContractPatch) (Contract, error)
	AddNotification(ctx context.Context, notification Notification) (Notification, error)
	MarkNotificationRead(ctx context.Context, notificationID string) error
	DeleteNotification(ctx context.Context, notificationID string) error
	ClearNotifications(ctx context.Context) error
	MarkAllNotificationsRead(ctx context.Context) error
	Close() error
}

// RemoteFactory builds a repository from a parsed DSN plus the credential
// configured outside it. Implementations that embed credentials in the DSN
// may ignore the token.
type RemoteFactory func(dsn *url.URL, token string) (RemoteRepository, error)

var remoteRegistry = struct {
	mu        sync.RWMutex
	factories map[string]RemoteFactory
}{factories: map[string]RemoteFactory{}}

// RegisterRemote makes a repository implementation available under a DSN
// scheme. Later registrations for the same scheme win, which lets tests
// substitute doubles.
func RegisterRemote(scheme string, factory RemoteFactory) {
	remoteRegistry.mu.Lock()
	defer remoteRegistry.mu.Unlock()
	remoteRegistry.factories[strings.ToLower(scheme)] = factory
}

// BuildRemoteRepository selects an implementation by DSN scheme, for
// example postgres://... or https://api.example.com. The token is the
// credential configured alongside the DSN; a credential embedded in the
// DSN itself wins over it.
func BuildRemoteRepository(rawDSN, token string) (RemoteRepository, error) {
	if strings.TrimSpace(rawDSN) == "" {
		return nil, fmt.Errorf("remote repository: empty DSN")
	}
	dsn, err := url.Parse(rawDSN)
	if err != nil {
		return nil, fmt.Errorf("remote repository: parse DSN: %w", err)
	}
	remoteRegistry.mu.RLock()
	factory, ok := remoteRegistry.factories[strings.ToLower(dsn.Scheme)]
	remoteRegistry.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("remote repository: unsupported scheme %q (have %s)",
			dsn.Scheme, strings.Join(registeredRemoteSchemes(), ", "))
	}
	return factory(dsn, token)
}

func registeredRemoteSchemes() []string {
	remoteRegistry.mu.RLock()
	defer remoteRegistry.mu.RUnlock()
	schemes := make([]string, 0, len(remoteRegistry.factories))
	for scheme := range remoteRegistry.factories {
		schemes = append(schemes, scheme)
	}
	sort.Strings(schemes)
	return schemes
}
