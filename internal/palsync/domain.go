package palsync

import (
	"strings"
	"time"
)

type TaskStatus string

const (
	TaskPending          TaskStatus = "pending"
	TaskInProgress       TaskStatus = "in-progress"
	TaskAwaitingApproval TaskStatus = "awaiting-approval"
	TaskRejected         TaskStatus = "rejected"
	TaskCompleted        TaskStatus = "completed"
)

func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted
}

func (s TaskStatus) Valid() bool {
	switch s {
	case TaskPending, TaskInProgress, TaskAwaitingApproval, TaskRejected, TaskCompleted:
		return true
	}
	return false
}

// Task is one unit of content-production work, owned by exactly one client.
type Task struct {
	ID             string     `json:"id"`
	ClientID       string     `json:"clientId"`
	Title          string     `json:"title"`
	Status         TaskStatus `json:"status"`
	Assignee       string     `json:"assignee,omitempty"`
	PostDate       time.Time  `json:"postDate,omitempty"`
	DueDate        time.Time  `json:"dueDate,omitempty"`
	CreatedAt      time.Time  `json:"createdAt,omitempty"`
	UpdatedAt      time.Time  `json:"updatedAt,omitempty"`
	LastActivityAt time.Time  `json:"lastActivityAt,omitempty"`
	CompletedAt    time.Time  `json:"completedAt,omitempty"`
}

// TaskPatch carries a partial task update. Nil fields are left untouched.
type TaskPatch struct {
	Title          *string     `json:"title,omitempty"`
	Status         *TaskStatus `json:"status,omitempty"`
	Assignee       *string     `json:"assignee,omitempty"`
	PostDate       *time.Time  `json:"postDate,omitempty"`
	DueDate        *time.Time  `json:"dueDate,omitempty"`
	UpdatedAt      *time.Time  `json:"updatedAt,omitempty"`
	LastActivityAt *time.Time  `json:"lastActivityAt,omitempty"`
	CompletedAt    *time.Time  `json:"completedAt,omitempty"`
}

// Apply returns a copy of t with the non-nil patch fields applied. When the
// patch moves a task into completed and no completion time was supplied, the
// patch timestamp doubles as completedAt so the status/completedAt invariant
// holds.
func (p TaskPatch) Apply(t Task) Task {
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.Status != nil {
		t.Status = *p.Status
	}
	if p.Assignee != nil {
		t.Assignee = *p.Assignee
	}
	if p.PostDate != nil {
		t.PostDate = *p.PostDate
	}
	if p.DueDate != nil {
		t.DueDate = *p.DueDate
	}
	if p.UpdatedAt != nil {
		t.UpdatedAt = *p.UpdatedAt
	}
	if p.LastActivityAt != nil {
		t.LastActivityAt = *p.LastActivityAt
	}
	if p.CompletedAt != nil {
		t.CompletedAt = *p.CompletedAt
	}
	if t.Status == TaskCompleted && t.CompletedAt.IsZero() && p.UpdatedAt != nil {
		t.CompletedAt = *p.UpdatedAt
	}
	if t.Status != TaskCompleted {
		t.CompletedAt = time.Time{}
	}
	return t
}

type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
	ApprovalRevision ApprovalStatus = "revision"
)

func (s ApprovalStatus) Terminal() bool {
	return s == ApprovalApproved || s == ApprovalRejected
}

func (s ApprovalStatus) Valid() bool {
	switch s {
	case ApprovalPending, ApprovalApproved, ApprovalRejected, ApprovalRevision:
		return true
	}
	return false
}

type ApprovalType string

const (
	ApprovalTypeVideo ApprovalType = "video"
	ApprovalTypeImage ApprovalType = "image"
	ApprovalTypeCopy  ApprovalType = "copy"
)

// Approval is a review request tied to a task-like artifact.
type Approval struct {
	ID            string         `json:"id"`
	ClientID      string         `json:"clientId"`
	Title         string         `json:"title,omitempty"`
	Type          ApprovalType   `json:"type"`
	Status        ApprovalStatus `json:"status"`
	Reviewer      string         `json:"reviewer,omitempty"`
	RejectedCount int            `json:"rejectedCount"`
	SubmittedAt   time.Time      `json:"submittedAt,omitempty"`
	CreatedAt     time.Time      `json:"createdAt,omitempty"`
	UpdatedAt     time.Time      `json:"updatedAt,omitempty"`
	CompletedAt   time.Time      `json:"completedAt,omitempty"`
}

type ApprovalPatch struct {
	Title         *string         `json:"title,omitempty"`
	Status        *ApprovalStatus `json:"status,omitempty"`
	Reviewer      *string         `json:"reviewer,omitempty"`
	RejectedCount *int            `json:"rejectedCount,omitempty"`
	UpdatedAt     *time.Time      `json:"updatedAt,omitempty"`
	CompletedAt   *time.Time      `json:"completedAt,omitempty"`
}

func (p ApprovalPatch) Apply(a Approval) Approval {
	if p.Title != nil {
		a.Title = *p.Title
	}
	if p.Status != nil {
		a.Status = *p.Status
	}
	if p.Reviewer != nil {
		a.Reviewer = *p.Reviewer
	}
	if p.RejectedCount != nil {
		a.RejectedCount = *p.RejectedCount
	}
	if p.UpdatedAt != nil {
		a.UpdatedAt = *p.UpdatedAt
	}
	if p.CompletedAt != nil {
		a.CompletedAt = *p.CompletedAt
	}
	if a.Status == ApprovalRejected && a.RejectedCount < 1 {
		a.RejectedCount = 1
	}
	if a.Status.Terminal() && a.CompletedAt.IsZero() && p.UpdatedAt != nil {
		a.CompletedAt = *p.UpdatedAt
	}
	return a
}

// Client is the tenant that tasks, approvals, comments and contracts hang
// off. Beyond identity it carries only display fields.
type Client struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Industry  string    `json:"industry,omitempty"`
	CreatedAt time.Time `json:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

type ClientPatch struct {
	Name      *string    `json:"name,omitempty"`
	Industry  *string    `json:"industry,omitempty"`
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`
}

func (p ClientPatch) Apply(c Client) Client {
	if p.Name != nil {
		c.Name = *p.Name
	}
	if p.Industry != nil {
		c.Industry = *p.Industry
	}
	if p.UpdatedAt != nil {
		c.UpdatedAt = *p.UpdatedAt
	}
	return c
}

type Notification struct {
	ID        string    `json:"id"`
	ClientID  string    `json:"clientId,omitempty"`
	Title     string    `json:"title"`
	Body      string    `json:"body,omitempty"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

type NotificationPatch struct {
	Read      *bool      `json:"read,omitempty"`
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`
}

func (p NotificationPatch) Apply(n Notification) Notification {
	if p.Read != nil {
		n.Read = *p.Read
	}
	if p.UpdatedAt != nil {
		n.UpdatedAt = *p.UpdatedAt
	}
	return n
}

type AuthorKind string

const (
	AuthorClient AuthorKind = "client"
	AuthorTeam   AuthorKind = "team"
)

// Comment is one entry in the per-client communication stream. Only the
// most recent entry per client matters to no-reply derivation.
type Comment struct {
	ID        string     `json:"id"`
	ClientID  string     `json:"clientId"`
	Author    AuthorKind `json:"author"`
	Body      string     `json:"body,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
}

type ContractStatus string

const (
	ContractActive      ContractStatus = "active"
	ContractNegotiating ContractStatus = "negotiating"
)

type Contract struct {
	ID          string         `json:"id"`
	ClientID    string         `json:"clientId"`
	Status      ContractStatus `json:"status"`
	MonthlyFee  int64          `json:"monthlyFee"`
	StartDate   time.Time      `json:"startDate,omitempty"`
	EndDate     time.Time      `json:"endDate,omitempty"`
	RenewalDate time.Time      `json:"renewalDate,omitempty"`
	CreatedAt   time.Time      `json:"createdAt,omitempty"`
}

type ContractPatch struct {
	Status      *ContractStatus `json:"status,omitempty"`
	MonthlyFee  *int64          `json:"monthlyFee,omitempty"`
	StartDate   *time.Time      `json:"startDate,omitempty"`
	EndDate     *time.Time      `json:"endDate,omitempty"`
	RenewalDate *time.Time      `json:"renewalDate,omitempty"`
}

func (p ContractPatch) Apply(c Contract) Contract {
	if p.Status != nil {
		c.Status = *p.Status
	}
	if p.MonthlyFee != nil {
		c.MonthlyFee = *p.MonthlyFee
	}
	if p.StartDate != nil {
		c.StartDate = *p.StartDate
	}
	if p.EndDate != nil {
		c.EndDate = *p.EndDate
	}
	if p.RenewalDate != nil {
		c.RenewalDate = *p.RenewalDate
	}
	return c
}

// RenewalAnchor is the date renewal proximity is measured against:
// renewalDate when set, otherwise endDate.
func (c Contract) RenewalAnchor() time.Time {
	if !c.RenewalDate.IsZero() {
		return c.RenewalDate
	}
	return c.EndDate
}

type DataMode string

const (
	DataModeLocal  DataMode = "local"
	DataModeRemote DataMode = "remote"
)

func ParseDataMode(raw string) (DataMode, error) {
	switch DataMode(strings.ToLower(strings.TrimSpace(raw))) {
	case DataModeLocal, "":
		return DataModeLocal, nil
	case DataModeRemote:
		return DataModeRemote, nil
	}
	return "", ErrInvalidInput
}
