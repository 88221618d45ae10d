package palsync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

func init() {
	RegisterRemote("http", newRESTFromDSN)
	RegisterRemote("https", newRESTFromDSN)
}

// AccessTokenProvider supplies the bearer token for each remote call.
type AccessTokenProvider func(ctx context.Context) (string, error)

// RESTRepositoryOptions configures the HTTP-backed repository.
type RESTRepositoryOptions struct {
	BaseURL       string
	TokenProvider AccessTokenProvider
	HTTPClient    *http.Client
	UserAgent     string
	MaxRetries    int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
}

// restRepository talks to the hosted dashboard API over JSON/HTTP. Rate
// limits and server errors are retried in place with backoff; the error
// that finally escapes carries a transient/permanent classification so the
// caller's fallback policy can act on it.
type restRepository struct {
	baseURL       string
	tokenProvider AccessTokenProvider
	httpClient    *http.Client
	userAgent     string
	maxRetries    int
	baseDelay     time.Duration
	maxDelay      time.Duration
}

func newRESTFromDSN(dsn *url.URL, token string) (RemoteRepository, error) {
	opts := RESTRepositoryOptions{BaseURL: dsn.Scheme + "://" + dsn.Host + dsn.Path}
	if embedded := dsn.Query().Get("token"); embedded != "" {
		token = embedded
	}
	if token != "" {
		opts.TokenProvider = StaticToken(token)
	}
	return NewRESTRepository(opts), nil
}

// StaticToken wraps a fixed credential as a token provider.
func StaticToken(token string) AccessTokenProvider {
	return func(context.Context) (string, error) { return token, nil }
}

func NewRESTRepository(opts RESTRepositoryOptions) *restRepository {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 20 * time.Second}
	}
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	baseDelay := opts.BaseDelay
	if baseDelay <= 0 {
		baseDelay = 100 * time.Millisecond
	}
	maxDelay := opts.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 2 * time.Second
	}
	return &restRepository{
		baseURL:       baseURL,
		tokenProvider: opts.TokenProvider,
		httpClient:    httpClient,
		userAgent:     strings.TrimSpace(opts.UserAgent),
		maxRetries:    maxRetries,
		baseDelay:     baseDelay,
		maxDelay:      maxDelay,
	}
}

// doJSON performs one logical call with in-place retries for 429/5xx and
// transport errors. out may be nil for calls with no response body.
func (r *restRepository) doJSON(ctx context.Context, op, method, path string, payload, out any) error {
	if r == nil {
		return NewPermanentError(op, fmt.Errorf("rest repository is nil"))
	}
	var bodyBytes []byte
	if payload != nil {
		var err error
		bodyBytes, err = json.Marshal(payload)
		if err != nil {
			return NewPermanentError(op, err)
		}
	}
	var token string
	if r.tokenProvider != nil {
		var err error
		token, err = r.tokenProvider(ctx)
		if err != nil {
			return NewTransientError(op, err)
		}
	}
	endpoint := r.baseURL + path

	for attempt := 0; ; attempt++ {
		var body io.Reader
		if bodyBytes != nil {
			body = bytes.NewReader(bodyBytes)
		}
		req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
		if err != nil {
			return NewPermanentError(op, err)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(token))
		}
		if bodyBytes != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if r.userAgent != "" {
			req.Header.Set("User-Agent", r.userAgent)
		}

		resp, err := r.httpClient.Do(req)
		if err != nil {
			if attempt < r.maxRetries {
				if waitErr := sleepContext(ctx, r.retryDelay(attempt+1, "")); waitErr != nil {
					return NewTransientError(op, waitErr)
				}
				continue
			}
			return NewTransientError(op, err)
		}

		respBody, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return NewTransientError(op, readErr)
		}
		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			if out == nil || len(respBody) == 0 {
				return nil
			}
			if err := json.Unmarshal(respBody, out); err != nil {
				return NewPermanentError(op, err)
			}
			return nil
		}

		retryable := resp.StatusCode == http.StatusTooManyRequests ||
			resp.StatusCode == http.StatusRequestTimeout ||
			(resp.StatusCode >= 500 && resp.StatusCode <= 599)
		if retryable && attempt < r.maxRetries {
			if waitErr := sleepContext(ctx, r.retryDelay(attempt+1, resp.Header.Get("Retry-After"))); waitErr != nil {
				return NewTransientError(op, waitErr)
			}
			continue
		}

		return classifyHTTPStatus(op, resp.StatusCode, respBody)
	}
}

// classifyHTTPStatus maps a non-success response to a RepoError. Client
// rejections, above all authorization failures, are final; everything the
// server might recover from stays retryable.
func classifyHTTPStatus(op string, status int, body []byte) error {
	message := strings.TrimSpace(string(body))
	var parsed struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &parsed) == nil && strings.TrimSpace(parsed.Message) != "" {
		message = parsed.Message
	}
	err := fmt.Errorf("remote write failed: status=%d message=%s", status, message)
	switch {
	case status == http.StatusNotFound:
		return NewPermanentError(op, fmt.Errorf("%w: %v", ErrNotFound, err))
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return NewPermanentError(op, err)
	case status >= 400 && status < 500 && status != http.StatusTooManyRequests && status != http.StatusRequestTimeout:
		return NewPermanentError(op, err)
	}
	return NewTransientError(op, err)
}

func (r *restRepository) retryDelay(attempt int, retryAfterHeader string) time.Duration {
	if retryAfter := parseRetryAfterSeconds(retryAfterHeader); retryAfter > 0 {
		if retryAfter > r.maxDelay {
			return r.maxDelay
		}
		return retryAfter
	}
	delay := r.baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= r.maxDelay {
			return r.maxDelay
		}
	}
	if delay > r.maxDelay {
		return r.maxDelay
	}
	return delay
}

func parseRetryAfterSeconds(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	seconds, err := strconv.Atoi(header)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (r *restRepository) CreateTask(ctx context.Context, task Task) (Task, error) {
	var out Task
	if err := r.doJSON(ctx, "rest.task.create", http.MethodPost, "/v1/tasks", task, &out); err != nil {
		return Task{}, err
	}
	return out, nil
}

func (r *restRepository) UpdateTask(ctx context.Context, clientID, taskID string, patch TaskPatch) (Task, error) {
	var out Task
	path := "/v1/clients/" + url.PathEscape(clientID) + "/tasks/" + url.PathEscape(taskID)
	if err := r.doJSON(ctx, "rest.task.update", http.MethodPatch, path, patch, &out); err != nil {
		return Task{}, err
	}
	return out, nil
}

func (r *restRepository) UpdateApproval(ctx context.Context, clientID, approvalID string, patch ApprovalPatch) (Approval, error) {
	var out Approval
	path := "/v1/clients/" + url.PathEscape(clientID) + "/approvals/" + url.PathEscape(approvalID)
	if err := r.doJSON(ctx, "rest.approval.update", http.MethodPatch, path, patch, &out); err != nil {
		return Approval{}, err
	}
	return out, nil
}

func (r *restRepository) CreateComment(ctx context.Context, comment Comment) (Comment, error) {
	var out Comment
	if err := r.doJSON(ctx, "rest.comment.create", http.MethodPost, "/v1/comments", comment, &out); err != nil {
		return Comment{}, err
	}
	return out, nil
}

func (r *restRepository) CreateContract(ctx context.Context, contract Contract) (Contract, error) {
	var out Contract
	if err := r.doJSON(ctx, "rest.contract.create", http.MethodPost, "/v1/contracts", contract, &out); err != nil {
		return Contract{}, err
	}
	return out, nil
}

func (r *restRepository) UpdateContract(ctx context.Context, contractID string, patch ContractPatch) (Contract, error) {
	var out Contract
	path := "/v1/contracts/" + url.PathEscape(contractID)
	if err := r.doJSON(ctx, "rest.contract.update", http.MethodPatch, path, patch, &out); err != nil {
		return Contract{}, err
	}
	return out, nil
}

func (r *restRepository) AddNotification(ctx context.Context, notification Notification) (Notification, error) {
	var out Notification
	if err := r.doJSON(ctx, "rest.notification.add", http.MethodPost, "/v1/notifications", notification, &out); err != nil {
		return Notification{}, err
	}
	return out, nil
}

func (r *restRepository) MarkNotificationRead(ctx context.Context, notificationID string) error {
	path := "/v1/notifications/" + url.PathEscape(notificationID) + "/read"
	return r.doJSON(ctx, "rest.notification.markRead", http.MethodPost, path, nil, nil)
}

func (r *restRepository) DeleteNotification(ctx context.Context, notificationID string) error {
	path := "/v1/notifications/" + url.PathEscape(notificationID)
	return r.doJSON(ctx, "rest.notification.delete", http.MethodDelete, path, nil, nil)
}

func (r *restRepository) ClearNotifications(ctx context.Context) error {
	return r.doJSON(ctx, "rest.notification.clear", http.MethodDelete, "/v1/notifications", nil, nil)
}

func (r *restRepository) MarkAllNotificationsRead(ctx context.Context) error {
	return r.doJSON(ctx, "rest.notification.markAllRead", http.MethodPost, "/v1/notifications/read-all", nil, nil)
}

func (r *restRepository) Close() error {
	r.httpClient.CloseIdleConnections()
	return nil
}
