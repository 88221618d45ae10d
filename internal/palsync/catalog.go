package palsync

import (
	"sort"
	"sync"
)

// Catalog is the typed view over the LocalStore collections. Per-client
// task and approval lists live keyed by client ID; everything else is a
// flat list. All mutations are merge-only: an upsert with an already-known
// identifier is treated as already applied and skipped. Every mutation
// loads, modifies and rewrites a whole collection, so mutators serialize
// on a mutex; reads take a single-snapshot Get and need no lock.
type Catalog struct {
	store LocalStore

	mu sync.Mutex
}

func NewCatalog(store LocalStore) *Catalog {
	return &Catalog{store: store}
}

func (c *Catalog) Store() LocalStore {
	return c.store
}

func (c *Catalog) TasksByClient() (map[string][]Task, error) {
	all := map[string][]Task{}
	if _, err := c.store.Get(CollectionTasks, &all); err != nil {
		return nil, err
	}
	return all, nil
}

func (c *Catalog) ClientTasks(clientID string) ([]Task, error) {
	all, err := c.TasksByClient()
	if err != nil {
		return nil, err
	}
	return all[clientID], nil
}

func (c *Catalog) AllTasks() ([]Task, error) {
	byClient, err := c.TasksByClient()
	if err != nil {
		return nil, err
	}
	clientIDs := make([]string, 0, len(byClient))
	for id := range byClient {
		clientIDs = append(clientIDs, id)
	}
	sort.Strings(clientIDs)
	var tasks []Task
	for _, id := range clientIDs {
		tasks = append(tasks, byClient[id]...)
	}
	return tasks, nil
}

// UpsertTask appends the task to its client's list unless a task with the
// same identifier is already present. Reports whether the task was added.
func (c *Catalog) UpsertTask(clientID string, task Task) (bool, error) {
	if clientID == "" || task.ID == "" {
		return false, ErrInvalidInput
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	all, err := c.TasksByClient()
	if err != nil {
		return false, err
	}
	for _, existing := range all[clientID] {
		if existing.ID == task.ID {
			return false, nil
		}
	}
	all[clientID] = append(all[clientID], task)
	if err := c.store.Set(CollectionTasks, all); err != nil {
		return false, err
	}
	return true, nil
}

// PatchTask applies the patch to the matching task in place. Reports
// whether a task with the given identifier existed.
func (c *Catalog) PatchTask(clientID, taskID string, patch TaskPatch) (bool, error) {
	if clientID == "" || taskID == "" {
		return false, ErrInvalidInput
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	all, err := c.TasksByClient()
	if err != nil {
		return false, err
	}
	tasks := all[clientID]
	for i, existing := range tasks {
		if existing.ID != taskID {
			continue
		}
		tasks[i] = patch.Apply(existing)
		all[clientID] = tasks
		if err := c.store.Set(CollectionTasks, all); err != nil {
			return false, err
		}
		return true, nil
	}
	return false, nil
}

func (c *Catalog) ApprovalsByClient() (map[string][]Approval, error) {
	all := map[string][]Approval{}
	if _, err := c.store.Get(CollectionApprovals, &all); err != nil {
		return nil, err
	}
	return all, nil
}

func (c *Catalog) ClientApprovals(clientID string) ([]Approval, error) {
	all, err := c.ApprovalsByClient()
	if err != nil {
		return nil, err
	}
	return all[clientID], nil
}

func (c *Catalog) AllApprovals() ([]Approval, error) {
	byClient, err := c.ApprovalsByClient()
	if err != nil {
		return nil, err
	}
	clientIDs := make([]string, 0, len(byClient))
	for id := range byClient {
		clientIDs = append(clientIDs, id)
	}
	sort.Strings(clientIDs)
	var approvals []Approval
	for _, id := range clientIDs {
		approvals = append(approvals, byClient[id]...)
	}
	return approvals, nil
}

func (c *Catalog) UpsertApproval(clientID string, approval Approval) (bool, error) {
	if clientID == "" || approval.ID == "" {
		return false, ErrInvalidInput
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	all, err := c.ApprovalsByClient()
	if err != nil {
		return false, err
	}
	for _, existing := range all[clientID] {
		if existing.ID == approval.ID {
			return false, nil
		}
	}
	all[clientID] = append(all[clientID], approval)
	if err := c.store.Set(CollectionApprovals, all); err != nil {
		return false, err
	}
	return true, nil
}

func (c *Catalog) PatchApproval(clientID, approvalID string, patch ApprovalPatch) (bool, error) {
	if clientID == "" || approvalID == "" {
		return false, ErrInvalidInput
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	all, err := c.ApprovalsByClient()
	if err != nil {
		return false, err
	}
	approvals := all[clientID]
	for i, existing := range approvals {
		if existing.ID != approvalID {
			continue
		}
		approvals[i] = patch.Apply(existing)
		all[clientID] = approvals
		if err := c.store.Set(CollectionApprovals, all); err != nil {
			return false, err
		}
		return true, nil
	}
	return false, nil
}

func (c *Catalog) Clients() ([]Client, error) {
	var clients []Client
	if _, err := c.store.Get(CollectionClients, &clients); err != nil {
		return nil, err
	}
	return clients, nil
}

func (c *Catalog) UpsertClient(client Client) (bool, error) {
	if client.ID == "" {
		return false, ErrInvalidInput
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	clients, err := c.Clients()
	if err != nil {
		return false, err
	}
	for _, existing := range clients {
		if existing.ID == client.ID {
			return false, nil
		}
	}
	clients = append(clients, client)
	if err := c.store.Set(CollectionClients, clients); err != nil {
		return false, err
	}
	return true, nil
}

func (c *Catalog) PatchClient(clientID string, patch ClientPatch) (bool, error) {
	if clientID == "" {
		return false, ErrInvalidInput
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	clients, err := c.Clients()
	if err != nil {
		return false, err
	}
	for i, existing := range clients {
		if existing.ID != clientID {
			continue
		}
		clients[i] = patch.Apply(existing)
		if err := c.store.Set(CollectionClients, clients); err != nil {
			return false, err
		}
		return true, nil
	}
	return false, nil
}

func (c *Catalog) Notifications() ([]Notification, error) {
	var notifications []Notification
	if _, err := c.store.Get(CollectionNotifications, &notifications); err != nil {
		return nil, err
	}
	return notifications, nil
}

func (c *Catalog) UpsertNotification(notification Notification) (bool, error) {
	if notification.ID == "" {
		return false, ErrInvalidInput
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	notifications, err := c.Notifications()
	if err != nil {
		return false, err
	}
	for _, existing := range notifications {
		if existing.ID == notification.ID {
			return false, nil
		}
	}
	notifications = append(notifications, notification)
	if err := c.store.Set(CollectionNotifications, notifications); err != nil {
		return false, err
	}
	return true, nil
}

func (c *Catalog) PatchNotification(notificationID string, patch NotificationPatch) (bool, error) {
	if notificationID == "" {
		return false, ErrInvalidInput
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	notifications, err := c.Notifications()
	if err != nil {
		return false, err
	}
	for i, existing := range notifications {
		if existing.ID != notificationID {
			continue
		}
		notifications[i] = patch.Apply(existing)
		if err := c.store.Set(CollectionNotifications, notifications); err != nil {
			return false, err
		}
		return true, nil
	}
	return false, nil
}

func (c *Catalog) Comments() ([]Comment, error) {
	var comments []Comment
	if _, err := c.store.Get(CollectionComments, &comments); err != nil {
		return nil, err
	}
	return comments, nil
}

// ClientComments returns the client's comments in ascending timestamp order.
func (c *Catalog) ClientComments(clientID string) ([]Comment, error) {
	comments, err := c.Comments()
	if err != nil {
		return nil, err
	}
	var filtered []Comment
	for _, comment := range comments {
		if comment.ClientID == clientID {
			filtered = append(filtered, comment)
		}
	}
	sort.Slice(filtered, func(i, j int) bool {
		return filtered[i].CreatedAt.Before(filtered[j].CreatedAt)
	})
	return filtered, nil
}

// AddComment appends the comment unless one with the same identifier is
// already present, so confirming a retried delivery cannot duplicate it.
func (c *Catalog) AddComment(comment Comment) error {
	if comment.ID == "" || comment.ClientID == "" {
		return ErrInvalidInput
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	comments, err := c.Comments()
	if err != nil {
		return err
	}
	for _, existing := range comments {
		if existing.ID == comment.ID {
			return nil
		}
	}
	comments = append(comments, comment)
	return c.store.Set(CollectionComments, comments)
}

func (c *Catalog) Contracts() ([]Contract, error) {
	var contracts []Contract
	if _, err := c.store.Get(CollectionContracts, &contracts); err != nil {
		return nil, err
	}
	return contracts, nil
}

func (c *Catalog) AddContract(contract Contract) error {
	if contract.ID == "" || contract.ClientID == "" {
		return ErrInvalidInput
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	contracts, err := c.Contracts()
	if err != nil {
		return err
	}
	for _, existing := range contracts {
		if existing.ID == contract.ID {
			return nil
		}
	}
	contracts = append(contracts, contract)
	return c.store.Set(CollectionContracts, contracts)
}

// PatchContract applies a partial update to a stored contract and reports
// whether the contract was found.
func (c *Catalog) PatchContract(contractID string, patch ContractPatch) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	contracts, err := c.Contracts()
	if err != nil {
		return false, err
	}
	for i, contract := range contracts {
		if contract.ID == contractID {
			contracts[i] = patch.Apply(contract)
			if err := c.store.Set(CollectionContracts, contracts); err != nil {
				return false, err
			}
			return true, nil
		}
	}
	return false, nil
}

// MergeTask writes the canonical copy of a task, replacing any local
// version with the same identifier. Used when a remote write confirms.
func (c *Catalog) MergeTask(clientID string, task Task) error {
	if clientID == "" || task.ID == "" {
		return ErrInvalidInput
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	all, err := c.TasksByClient()
	if err != nil {
		return err
	}
	tasks := all[clientID]
	replaced := false
	for i, existing := range tasks {
		if existing.ID == task.ID {
			tasks[i] = task
			replaced = true
			break
		}
	}
	if !replaced {
		tasks = append(tasks, task)
	}
	all[clientID] = tasks
	return c.store.Set(CollectionTasks, all)
}

func (c *Catalog) MergeApproval(clientID string, approval Approval) error {
	if clientID == "" || approval.ID == "" {
		return ErrInvalidInput
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	all, err := c.ApprovalsByClient()
	if err != nil {
		return err
	}
	approvals := all[clientID]
	replaced := false
	for i, existing := range approvals {
		if existing.ID == approval.ID {
			approvals[i] = approval
			replaced = true
			break
		}
	}
	if !replaced {
		approvals = append(approvals, approval)
	}
	all[clientID] = approvals
	return c.store.Set(CollectionApprovals, all)
}

func (c *Catalog) MergeContract(contract Contract) error {
	if contract.ID == "" {
		return ErrInvalidInput
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	contracts, err := c.Contracts()
	if err != nil {
		return err
	}
	replaced := false
	for i, existing := range contracts {
		if existing.ID == contract.ID {
			contracts[i] = contract
			replaced = true
			break
		}
	}
	if !replaced {
		contracts = append(contracts, contract)
	}
	return c.store.Set(CollectionContracts, contracts)
}

func (c *Catalog) MergeNotification(notification Notification) error {
	if notification.ID == "" {
		return ErrInvalidInput
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	notifications, err := c.Notifications()
	if err != nil {
		return err
	}
	replaced := false
	for i, existing := range notifications {
		if existing.ID == notification.ID {
			notifications[i] = notification
			replaced = true
			break
		}
	}
	if !replaced {
		notifications = append(notifications, notification)
	}
	return c.store.Set(CollectionNotifications, notifications)
}

// DeleteNotification removes a notification and reports whether it existed.
func (c *Catalog) DeleteNotification(notificationID string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	notifications, err := c.Notifications()
	if err != nil {
		return false, err
	}
	kept := notifications[:0]
	found := false
	for _, existing := range notifications {
		if existing.ID == notificationID {
			found = true
			continue
		}
		kept = append(kept, existing)
	}
	if !found {
		return false, nil
	}
	return true, c.store.Set(CollectionNotifications, kept)
}

func (c *Catalog) ClearNotifications() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.Set(CollectionNotifications, []Notification{})
}

func (c *Catalog) MarkAllNotificationsRead() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	notifications, err := c.Notifications()
	if err != nil {
		return err
	}
	for i := range notifications {
		notifications[i].Read = true
	}
	return c.store.Set(CollectionNotifications, notifications)
}

// Thresholds returns the stored threshold record, falling back to defaults
// when the record is missing or partially populated.
func (c *Catalog) Thresholds() (Thresholds, error) {
	thresholds := DefaultThresholds()
	found, err := c.store.Get(CollectionThresholds, &thresholds)
	if err != nil {
		return DefaultThresholds(), err
	}
	if !found {
		return DefaultThresholds(), nil
	}
	return thresholds.normalize(), nil
}

func (c *Catalog) SetThresholds(thresholds Thresholds) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.Set(CollectionThresholds, thresholds.normalize())
}
