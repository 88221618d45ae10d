package palsync

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// OutcomeKind is the terminal state of one reconciled mutation.
type OutcomeKind string

const (
	// OutcomeApplied means the write reached the system of record (or, in
	// local mode, the local store) and the canonical copy was merged.
	OutcomeApplied OutcomeKind = "applied"
	// OutcomeFallback means the remote write failed transiently: the
	// optimistic copy was kept locally and the outbox entry stays pending.
	OutcomeFallback OutcomeKind = "fallback"
	// OutcomeRejected means the remote refused the write permanently.
	// Nothing was written locally and the outbox entry is parked as failed.
	OutcomeRejected OutcomeKind = "rejected"
)

// Outcome reports how one mutation ended.
type Outcome struct {
	Kind     OutcomeKind `json:"kind"`
	Op       OutboxOp    `json:"op"`
	EntityID string      `json:"entityId,omitempty"`
	ClientID string      `json:"clientId,omitempty"`
	OutboxID string      `json:"outboxId,omitempty"`
	Error    string      `json:"error,omitempty"`
	At       time.Time   `json:"at"`
}

// Ticket is the handle returned from a mutation. The call itself returns
// optimistically; Done closes once the reconciliation settles, after which
// Outcome is stable.
type Ticket struct {
	OutboxID string

	done    chan struct{}
	outcome Outcome
}

func newTicket(outboxID string) *Ticket {
	return &Ticket{OutboxID: outboxID, done: make(chan struct{})}
}

func settledTicket(outcome Outcome) *Ticket {
	t := &Ticket{done: make(chan struct{}), outcome: outcome}
	close(t.done)
	return t
}

// Done closes when the mutation has settled.
func (t *Ticket) Done() <-chan struct{} {
	return t.done
}

// Outcome must only be read after Done closes.
func (t *Ticket) Outcome() Outcome {
	return t.outcome
}

func (t *Ticket) settle(outcome Outcome) {
	t.outcome = outcome
	close(t.done)
}

// Replay payloads. Each outbox entry carries exactly what is needed to
// re-issue the operation against the remote, nothing more.
type taskUpdatePayload struct {
	ClientID string    `json:"clientId"`
	ID       string    `json:"id"`
	Patch    TaskPatch `json:"patch"`
}

type approvalUpdatePayload struct {
	ClientID string        `json:"clientId"`
	ID       string        `json:"id"`
	Patch    ApprovalPatch `json:"patch"`
}

type contractUpdatePayload struct {
	ID    string        `json:"id"`
	Patch ContractPatch `json:"patch"`
}

type idPayload struct {
	ID string `json:"id"`
}

// ReconcilerOptions configures a Reconciler. Remote may be nil when Mode
// is local.
type ReconcilerOptions struct {
	Mode    DataMode
	Catalog *Catalog
	Outbox  *Outbox
	Remote  RemoteRepository
	Logger  zerolog.Logger
	// Now is the clock; defaults to time.Now. Tests pin it.
	Now func() time.Time
	// CallTimeout bounds each remote attempt. Defaults to 30s.
	CallTimeout time.Duration
}

// Reconciler is the dual-write coordinator. Every mutation is acknowledged
// optimistically, recorded durably in the outbox when a remote is
// configured, and settled asynchronously with a classified outcome. Local
// mode skips the outbox and writes through synchronously.
type Reconciler struct {
	mode        DataMode
	catalog     *Catalog
	outbox      *Outbox
	remote      RemoteRepository
	log         zerolog.Logger
	now         func() time.Time
	callTimeout time.Duration

	mu      sync.Mutex
	subs    map[int]chan Outcome
	nextSub int

	wg     sync.WaitGroup
	closed chan struct{}
}

func NewReconciler(opts ReconcilerOptions) *Reconciler {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	callTimeout := opts.CallTimeout
	if callTimeout <= 0 {
		callTimeout = 30 * time.Second
	}
	mode := opts.Mode
	if mode != DataModeRemote || opts.Remote == nil {
		mode = DataModeLocal
	}
	return &Reconciler{
		mode:        mode,
		catalog:     opts.Catalog,
		outbox:      opts.Outbox,
		remote:      opts.Remote,
		log:         opts.Logger,
		now:         now,
		callTimeout: callTimeout,
		subs:        map[int]chan Outcome{},
		closed:      make(chan struct{}),
	}
}

// Mode reports whether writes are being reconciled against a remote.
func (r *Reconciler) Mode() DataMode {
	return r.mode
}

// Subscribe returns a channel receiving every settled outcome, plus a
// cancel function. Slow subscribers drop outcomes rather than stall
// reconciliation.
func (r *Reconciler) Subscribe() (<-chan Outcome, func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextSub
	r.nextSub++
	ch := make(chan Outcome, 32)
	r.subs[id] = ch
	return ch, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if sub, ok := r.subs[id]; ok {
			delete(r.subs, id)
			close(sub)
		}
	}
}

func (r *Reconciler) publish(outcome Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ch := range r.subs {
		select {
		case ch <- outcome:
		default:
		}
	}
}

// beginOp registers an in-flight reconciliation. The closed check and the
// waitgroup add happen under one lock so an op cannot slip in after Close
// has started waiting.
func (r *Reconciler) beginOp() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	select {
	case <-r.closed:
		return false
	default:
	}
	r.wg.Add(1)
	return true
}

// Close waits for in-flight reconciliations to settle and closes all
// subscriber channels.
func (r *Reconciler) Close() error {
	r.mu.Lock()
	select {
	case <-r.closed:
		r.mu.Unlock()
		return nil
	default:
	}
	close(r.closed)
	r.mu.Unlock()
	r.wg.Wait()
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, ch := range r.subs {
		delete(r.subs, id)
		close(ch)
	}
	return nil
}

// stampCreate fills lifecycle fields a create is missing. Caller-supplied
// values are kept, so replays stamp identically.
func stampTaskCreate(task Task, now time.Time) Task {
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	if task.UpdatedAt.IsZero() {
		task.UpdatedAt = now
	}
	if task.LastActivityAt.IsZero() {
		task.LastActivityAt = now
	}
	if task.Status == "" {
		task.Status = TaskPending
	}
	if task.Status == TaskCompleted && task.CompletedAt.IsZero() {
		task.CompletedAt = now
	}
	return task
}

// stampTaskPatch forces the freshness fields on every update.
func stampTaskPatch(patch TaskPatch, now time.Time) TaskPatch {
	patch.UpdatedAt = &now
	patch.LastActivityAt = &now
	return patch
}

func stampApprovalPatch(patch ApprovalPatch, now time.Time) ApprovalPatch {
	patch.UpdatedAt = &now
	return patch
}

// CreateTask validates and stamps a new task, acknowledges it, and settles
// the remote write in the background. In local mode the task is stored
// synchronously.
func (r *Reconciler) CreateTask(task Task) (Task, *Ticket, error) {
	now := r.now()
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if task.ClientID == "" || (task.Status != "" && !task.Status.Valid()) {
		return Task{}, nil, ErrInvalidInput
	}
	task = stampTaskCreate(task, now)

	if r.mode == DataModeLocal {
		if _, err := r.catalog.UpsertTask(task.ClientID, task); err != nil {
			return Task{}, nil, err
		}
		return task, r.settleLocal(OpTaskCreate, task.ClientID, task.ID, now), nil
	}

	ticket, err := r.enqueue(OpTaskCreate, task, task.ClientID, task.ID, now)
	if err != nil {
		return Task{}, nil, err
	}
	return task, ticket, nil
}

// UpdateTask applies a partial update. The returned task is the optimistic
// projection of the patch over the current local copy.
func (r *Reconciler) UpdateTask(clientID, taskID string, patch TaskPatch) (Task, *Ticket, error) {
	now := r.now()
	if patch.Status != nil && !patch.Status.Valid() {
		return Task{}, nil, ErrInvalidInput
	}
	patch = stampTaskPatch(patch, now)

	tasks, err := r.catalog.ClientTasks(clientID)
	if err != nil {
		return Task{}, nil, err
	}
	var current *Task
	for i := range tasks {
		if tasks[i].ID == taskID {
			current = &tasks[i]
			break
		}
	}
	if current == nil {
		return Task{}, nil, ErrNotFound
	}
	projected := patch.Apply(*current)

	if r.mode == DataModeLocal {
		if _, err := r.catalog.PatchTask(clientID, taskID, patch); err != nil {
			return Task{}, nil, err
		}
		return projected, r.settleLocal(OpTaskUpdate, clientID, taskID, now), nil
	}

	payload := taskUpdatePayload{ClientID: clientID, ID: taskID, Patch: patch}
	ticket, err := r.enqueue(OpTaskUpdate, payload, clientID, taskID, now)
	if err != nil {
		return Task{}, nil, err
	}
	return projected, ticket, nil
}

// UpdateApproval applies a partial update to an approval.
func (r *Reconciler) UpdateApproval(clientID, approvalID string, patch ApprovalPatch) (Approval, *Ticket, error) {
	now := r.now()
	if patch.Status != nil && !patch.Status.Valid() {
		return Approval{}, nil, ErrInvalidInput
	}
	patch = stampApprovalPatch(patch, now)

	approvals, err := r.catalog.ClientApprovals(clientID)
	if err != nil {
		return Approval{}, nil, err
	}
	var current *Approval
	for i := range approvals {
		if approvals[i].ID == approvalID {
			current = &approvals[i]
			break
		}
	}
	if current == nil {
		return Approval{}, nil, ErrNotFound
	}
	projected := patch.Apply(*current)

	if r.mode == DataModeLocal {
		if _, err := r.catalog.PatchApproval(clientID, approvalID, patch); err != nil {
			return Approval{}, nil, err
		}
		return projected, r.settleLocal(OpApprovalUpdate, clientID, approvalID, now), nil
	}

	payload := approvalUpdatePayload{ClientID: clientID, ID: approvalID, Patch: patch}
	ticket, err := r.enqueue(OpApprovalUpdate, payload, clientID, approvalID, now)
	if err != nil {
		return Approval{}, nil, err
	}
	return projected, ticket, nil
}

// AddComment appends to the client's communication stream.
func (r *Reconciler) AddComment(comment Comment) (Comment, *Ticket, error) {
	now := r.now()
	if comment.ID == "" {
		comment.ID = uuid.NewString()
	}
	if comment.ClientID == "" || comment.Author == "" {
		return Comment{}, nil, ErrInvalidInput
	}
	if comment.CreatedAt.IsZero() {
		comment.CreatedAt = now
	}

	if r.mode == DataModeLocal {
		if err := r.catalog.AddComment(comment); err != nil {
			return Comment{}, nil, err
		}
		return comment, r.settleLocal(OpCommentCreate, comment.ClientID, comment.ID, now), nil
	}

	ticket, err := r.enqueue(OpCommentCreate, comment, comment.ClientID, comment.ID, now)
	if err != nil {
		return Comment{}, nil, err
	}
	return comment, ticket, nil
}

// CreateContract records a new contract.
func (r *Reconciler) CreateContract(contract Contract) (Contract, *Ticket, error) {
	now := r.now()
	if contract.ID == "" {
		contract.ID = uuid.NewString()
	}
	if contract.ClientID == "" {
		return Contract{}, nil, ErrInvalidInput
	}
	if contract.Status == "" {
		contract.Status = ContractNegotiating
	}
	if contract.CreatedAt.IsZero() {
		contract.CreatedAt = now
	}

	if r.mode == DataModeLocal {
		if err := r.catalog.AddContract(contract); err != nil {
			return Contract{}, nil, err
		}
		return contract, r.settleLocal(OpContractCreate, contract.ClientID, contract.ID, now), nil
	}

	ticket, err := r.enqueue(OpContractCreate, contract, contract.ClientID, contract.ID, now)
	if err != nil {
		return Contract{}, nil, err
	}
	return contract, ticket, nil
}

// UpdateContract applies a partial update to a contract.
func (r *Reconciler) UpdateContract(contractID string, patch ContractPatch) (Contract, *Ticket, error) {
	now := r.now()
	contracts, err := r.catalog.Contracts()
	if err != nil {
		return Contract{}, nil, err
	}
	var current *Contract
	for i := range contracts {
		if contracts[i].ID == contractID {
			current = &contracts[i]
			break
		}
	}
	if current == nil {
		return Contract{}, nil, ErrNotFound
	}
	projected := patch.Apply(*current)

	if r.mode == DataModeLocal {
		if _, err := r.catalog.PatchContract(contractID, patch); err != nil {
			return Contract{}, nil, err
		}
		return projected, r.settleLocal(OpContractUpdate, projected.ClientID, contractID, now), nil
	}

	payload := contractUpdatePayload{ID: contractID, Patch: patch}
	ticket, err := r.enqueue(OpContractUpdate, payload, projected.ClientID, contractID, now)
	if err != nil {
		return Contract{}, nil, err
	}
	return projected, ticket, nil
}

// AddNotification records a notification for the operators.
func (r *Reconciler) AddNotification(notification Notification) (Notification, *Ticket, error) {
	now := r.now()
	if notification.ID == "" {
		notification.ID = uuid.NewString()
	}
	if notification.Title == "" {
		return Notification{}, nil, ErrInvalidInput
	}
	if notification.CreatedAt.IsZero() {
		notification.CreatedAt = now
	}
	if notification.UpdatedAt.IsZero() {
		notification.UpdatedAt = now
	}

	if r.mode == DataModeLocal {
		if _, err := r.catalog.UpsertNotification(notification); err != nil {
			return Notification{}, nil, err
		}
		return notification, r.settleLocal(OpNotificationAdd, notification.ClientID, notification.ID, now), nil
	}

	ticket, err := r.enqueue(OpNotificationAdd, notification, notification.ClientID, notification.ID, now)
	if err != nil {
		return Notification{}, nil, err
	}
	return notification, ticket, nil
}

// MarkNotificationRead flips the read flag.
func (r *Reconciler) MarkNotificationRead(notificationID string) (*Ticket, error) {
	now := r.now()
	if r.mode == DataModeLocal {
		read := true
		found, err := r.catalog.PatchNotification(notificationID, NotificationPatch{Read: &read, UpdatedAt: &now})
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, ErrNotFound
		}
		return r.settleLocal(OpNotificationRead, "", notificationID, now), nil
	}
	return r.enqueue(OpNotificationRead, idPayload{ID: notificationID}, "", notificationID, now)
}

// DeleteNotification removes a notification.
func (r *Reconciler) DeleteNotification(notificationID string) (*Ticket, error) {
	now := r.now()
	if r.mode == DataModeLocal {
		found, err := r.catalog.DeleteNotification(notificationID)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, ErrNotFound
		}
		return r.settleLocal(OpNotificationDelete, "", notificationID, now), nil
	}
	return r.enqueue(OpNotificationDelete, idPayload{ID: notificationID}, "", notificationID, now)
}

// ClearNotifications drops all notifications.
func (r *Reconciler) ClearNotifications() (*Ticket, error) {
	now := r.now()
	if r.mode == DataModeLocal {
		if err := r.catalog.ClearNotifications(); err != nil {
			return nil, err
		}
		return r.settleLocal(OpNotificationClear, "", "", now), nil
	}
	return r.enqueue(OpNotificationClear, struct{}{}, "", "", now)
}

// MarkAllNotificationsRead flips every read flag.
func (r *Reconciler) MarkAllNotificationsRead() (*Ticket, error) {
	now := r.now()
	if r.mode == DataModeLocal {
		if err := r.catalog.MarkAllNotificationsRead(); err != nil {
			return nil, err
		}
		return r.settleLocal(OpNotificationReadAll, "", "", now), nil
	}
	return r.enqueue(OpNotificationReadAll, struct{}{}, "", "", now)
}

func (r *Reconciler) settleLocal(op OutboxOp, clientID, entityID string, now time.Time) *Ticket {
	outcome := Outcome{Kind: OutcomeApplied, Op: op, EntityID: entityID, ClientID: clientID, At: now}
	r.publish(outcome)
	return settledTicket(outcome)
}

// enqueue records the operation durably and kicks off the asynchronous
// remote attempt. The mutation is already acknowledged to the caller at
// this point; only the outbox write can still fail it.
func (r *Reconciler) enqueue(op OutboxOp, payload any, clientID, entityID string, now time.Time) (*Ticket, error) {
	if !r.beginOp() {
		return nil, ErrInvalidState
	}
	outboxID, err := r.outbox.Add(op, payload, now)
	if err != nil {
		r.wg.Done()
		return nil, err
	}
	ticket := newTicket(outboxID)
	go func() {
		defer r.wg.Done()
		items, err := r.outbox.Items()
		if err != nil {
			r.settleError(ticket, op, clientID, entityID, outboxID, err)
			return
		}
		for _, item := range items {
			if item.ID == outboxID {
				outcome := r.attempt(item, clientID, entityID, true)
				r.publish(outcome)
				ticket.settle(outcome)
				return
			}
		}
		r.settleError(ticket, op, clientID, entityID, outboxID, ErrNotFound)
	}()
	return ticket, nil
}

func (r *Reconciler) settleError(ticket *Ticket, op OutboxOp, clientID, entityID, outboxID string, err error) {
	outcome := Outcome{
		Kind:     OutcomeFallback,
		Op:       op,
		EntityID: entityID,
		ClientID: clientID,
		OutboxID: outboxID,
		Error:    err.Error(),
		At:       r.now(),
	}
	r.publish(outcome)
	ticket.settle(outcome)
}

// attempt executes one remote delivery for an outbox entry and settles its
// status. With applyFallback set, a transient failure writes the optimistic
// copy into the local store so the operator keeps seeing their change; the
// manual retry sweep passes false because the fallback already happened on
// the first attempt.
func (r *Reconciler) attempt(item OutboxItem, clientID, entityID string, applyFallback bool) Outcome {
	ctx, cancel := context.WithTimeout(context.Background(), r.callTimeout)
	defer cancel()
	now := r.now()

	merge, applyLocal, err := r.deliver(ctx, item)
	if err == nil {
		if markErr := r.outbox.MarkSent(item.ID, now); markErr != nil {
			r.log.Error().Err(markErr).Str("outbox_id", item.ID).Msg("mark outbox entry sent")
		}
		if merge != nil {
			if mergeErr := merge(); mergeErr != nil {
				r.log.Error().Err(mergeErr).Str("outbox_id", item.ID).Msg("merge canonical copy")
			}
		}
		r.log.Info().Str("op", string(item.Op)).Str("outbox_id", item.ID).Msg("remote write confirmed")
		return Outcome{Kind: OutcomeApplied, Op: item.Op, EntityID: entityID, ClientID: clientID, OutboxID: item.ID, At: now}
	}

	permanent := Classify(err) == ErrorClassPermanent
	if markErr := r.outbox.MarkAttemptFailed(item.ID, err, permanent, now); markErr != nil {
		r.log.Error().Err(markErr).Str("outbox_id", item.ID).Msg("mark outbox attempt failed")
	}

	if permanent {
		r.log.Warn().Err(err).Str("op", string(item.Op)).Str("outbox_id", item.ID).Msg("remote write rejected")
		return Outcome{Kind: OutcomeRejected, Op: item.Op, EntityID: entityID, ClientID: clientID, OutboxID: item.ID, Error: err.Error(), At: now}
	}

	if applyFallback && applyLocal != nil {
		if localErr := applyLocal(); localErr != nil {
			r.log.Error().Err(localErr).Str("outbox_id", item.ID).Msg("apply local fallback")
		}
	}
	r.log.Warn().Err(err).Str("op", string(item.Op)).Str("outbox_id", item.ID).Msg("remote write deferred")
	return Outcome{Kind: OutcomeFallback, Op: item.Op, EntityID: entityID, ClientID: clientID, OutboxID: item.ID, Error: err.Error(), At: now}
}

// deliver decodes the entry and issues the remote call. It returns two
// closures: merge writes the canonical remote copy into the local store
// after success, applyLocal writes the optimistic copy after a transient
// failure. Either may be nil.
func (r *Reconciler) deliver(ctx context.Context, item OutboxItem) (merge func() error, applyLocal func() error, err error) {
	switch item.Op {
	case OpTaskCreate:
		var task Task
		if err := json.Unmarshal(item.Payload, &task); err != nil {
			return nil, nil, NewPermanentError(string(item.Op), err)
		}
		canonical, err := r.remote.CreateTask(ctx, task)
		if err != nil {
			return nil, func() error {
				_, upsertErr := r.catalog.UpsertTask(task.ClientID, task)
				return upsertErr
			}, err
		}
		return func() error { return r.catalog.MergeTask(canonical.ClientID, canonical) }, nil, nil

	case OpTaskUpdate:
		var payload taskUpdatePayload
		if err := json.Unmarshal(item.Payload, &payload); err != nil {
			return nil, nil, NewPermanentError(string(item.Op), err)
		}
		canonical, err := r.remote.UpdateTask(ctx, payload.ClientID, payload.ID, payload.Patch)
		if err != nil {
			return nil, func() error {
				_, patchErr := r.catalog.PatchTask(payload.ClientID, payload.ID, payload.Patch)
				return patchErr
			}, err
		}
		return func() error { return r.catalog.MergeTask(payload.ClientID, canonical) }, nil, nil

	case OpApprovalUpdate:
		var payload approvalUpdatePayload
		if err := json.Unmarshal(item.Payload, &payload); err != nil {
			return nil, nil, NewPermanentError(string(item.Op), err)
		}
		canonical, err := r.remote.UpdateApproval(ctx, payload.ClientID, payload.ID, payload.Patch)
		if err != nil {
			return nil, func() error {
				_, patchErr := r.catalog.PatchApproval(payload.ClientID, payload.ID, payload.Patch)
				return patchErr
			}, err
		}
		return func() error { return r.catalog.MergeApproval(payload.ClientID, canonical) }, nil, nil

	case OpCommentCreate:
		var comment Comment
		if err := json.Unmarshal(item.Payload, &comment); err != nil {
			return nil, nil, NewPermanentError(string(item.Op), err)
		}
		canonical, err := r.remote.CreateComment(ctx, comment)
		if err != nil {
			return nil, func() error { return r.catalog.AddComment(comment) }, err
		}
		return func() error { return r.catalog.AddComment(canonical) }, nil, nil

	case OpContractCreate:
		var contract Contract
		if err := json.Unmarshal(item.Payload, &contract); err != nil {
			return nil, nil, NewPermanentError(string(item.Op), err)
		}
		canonical, err := r.remote.CreateContract(ctx, contract)
		if err != nil {
			return nil, func() error { return r.catalog.AddContract(contract) }, err
		}
		return func() error { return r.catalog.MergeContract(canonical) }, nil, nil

	case OpContractUpdate:
		var payload contractUpdatePayload
		if err := json.Unmarshal(item.Payload, &payload); err != nil {
			return nil, nil, NewPermanentError(string(item.Op), err)
		}
		canonical, err := r.remote.UpdateContract(ctx, payload.ID, payload.Patch)
		if err != nil {
			return nil, func() error {
				_, patchErr := r.catalog.PatchContract(payload.ID, payload.Patch)
				return patchErr
			}, err
		}
		return func() error { return r.catalog.MergeContract(canonical) }, nil, nil

	case OpNotificationAdd:
		var notification Notification
		if err := json.Unmarshal(item.Payload, &notification); err != nil {
			return nil, nil, NewPermanentError(string(item.Op), err)
		}
		canonical, err := r.remote.AddNotification(ctx, notification)
		if err != nil {
			return nil, func() error {
				_, upsertErr := r.catalog.UpsertNotification(notification)
				return upsertErr
			}, err
		}
		return func() error { return r.catalog.MergeNotification(canonical) }, nil, nil

	case OpNotificationRead:
		var payload idPayload
		if err := json.Unmarshal(item.Payload, &payload); err != nil {
			return nil, nil, NewPermanentError(string(item.Op), err)
		}
		markRead := func() error {
			read := true
			now := r.now()
			_, patchErr := r.catalog.PatchNotification(payload.ID, NotificationPatch{Read: &read, UpdatedAt: &now})
			return patchErr
		}
		if err := r.remote.MarkNotificationRead(ctx, payload.ID); err != nil {
			return nil, markRead, err
		}
		return markRead, nil, nil

	case OpNotificationDelete:
		var payload idPayload
		if err := json.Unmarshal(item.Payload, &payload); err != nil {
			return nil, nil, NewPermanentError(string(item.Op), err)
		}
		remove := func() error {
			_, delErr := r.catalog.DeleteNotification(payload.ID)
			return delErr
		}
		if err := r.remote.DeleteNotification(ctx, payload.ID); err != nil {
			return nil, remove, err
		}
		return remove, nil, nil

	case OpNotificationClear:
		if err := r.remote.ClearNotifications(ctx); err != nil {
			return nil, r.catalog.ClearNotifications, err
		}
		return r.catalog.ClearNotifications, nil, nil

	case OpNotificationReadAll:
		if err := r.remote.MarkAllNotificationsRead(ctx); err != nil {
			return nil, r.catalog.MarkAllNotificationsRead, err
		}
		return r.catalog.MarkAllNotificationsRead, nil, nil
	}

	return nil, nil, NewPermanentError(string(item.Op), ErrNotImplemented)
}
