package palsync

import (
	"sort"
	"time"
)

// KPIDefinition selects which pair of formulas the KPI calculator uses.
// Definition A measures delivery against deadlines; definition B measures
// approval throughput.
type KPIDefinition string

const (
	KPIDefinitionA KPIDefinition = "A"
	KPIDefinitionB KPIDefinition = "B"
)

// DeadlineBasis selects which task date counts as the deadline.
type DeadlineBasis string

const (
	DeadlineDueDate  DeadlineBasis = "dueDate"
	DeadlinePostDate DeadlineBasis = "postDate"
)

// AggregationWindow selects how KPI reporting periods are cut.
type AggregationWindow string

const (
	WindowCurrentMonth AggregationWindow = "currentMonth"
	WindowLast30Days   AggregationWindow = "last30Days"
	WindowLast7Days    AggregationWindow = "last7Days"
)

// PeriodBasis selects which task date assigns a task to a reporting period.
type PeriodBasis string

const (
	PeriodByCreatedAt PeriodBasis = "createdAt"
	PeriodByDueDate   PeriodBasis = "dueDate"
)

// Thresholds is the operator-tunable configuration for signal derivation
// and KPI aggregation. It is stored as a single record so the whole set
// swaps atomically.
type Thresholds struct {
	StagnantDays      int               `json:"stagnantDays"`
	NoReplyDays       int               `json:"noReplyDays"`
	RenewalDays       int               `json:"renewalDays"`
	KPIDefinition     KPIDefinition     `json:"kpiDefinition"`
	DeadlineBasis     DeadlineBasis     `json:"deadlineBase"`
	AggregationWindow AggregationWindow `json:"aggregationPeriod"`
	PeriodBasis       PeriodBasis       `json:"kpiPeriodBase"`
}

// DefaultThresholds returns the shipped configuration.
func DefaultThresholds() Thresholds {
	return Thresholds{
		StagnantDays:      10,
		NoReplyDays:       5,
		RenewalDays:       30,
		KPIDefinition:     KPIDefinitionA,
		DeadlineBasis:     DeadlineDueDate,
		AggregationWindow: WindowCurrentMonth,
		PeriodBasis:       PeriodByCreatedAt,
	}
}

// normalize replaces out-of-range or unset fields with their defaults, so
// a partially-written thresholds record never disables a signal.
func (t Thresholds) normalize() Thresholds {
	defaults := DefaultThresholds()
	if t.StagnantDays <= 0 {
		t.StagnantDays = defaults.StagnantDays
	}
	if t.NoReplyDays <= 0 {
		t.NoReplyDays = defaults.NoReplyDays
	}
	if t.RenewalDays <= 0 {
		t.RenewalDays = defaults.RenewalDays
	}
	if t.KPIDefinition != KPIDefinitionA && t.KPIDefinition != KPIDefinitionB {
		t.KPIDefinition = defaults.KPIDefinition
	}
	if t.DeadlineBasis != DeadlineDueDate && t.DeadlineBasis != DeadlinePostDate {
		t.DeadlineBasis = defaults.DeadlineBasis
	}
	switch t.AggregationWindow {
	case WindowCurrentMonth, WindowLast30Days, WindowLast7Days:
	default:
		t.AggregationWindow = defaults.AggregationWindow
	}
	if t.PeriodBasis != PeriodByCreatedAt && t.PeriodBasis != PeriodByDueDate {
		t.PeriodBasis = defaults.PeriodBasis
	}
	return t
}

// deadline resolves the date a task is measured against. A task with no
// date on the configured basis falls back to the other one.
func (t Thresholds) deadline(task Task) time.Time {
	primary, secondary := task.DueDate, task.PostDate
	if t.DeadlineBasis == DeadlinePostDate {
		primary, secondary = task.PostDate, task.DueDate
	}
	if primary.IsZero() {
		return secondary
	}
	return primary
}

// periodDate resolves the date that buckets a task into a reporting period.
func (t Thresholds) periodDate(task Task) time.Time {
	if t.PeriodBasis == PeriodByDueDate && !task.DueDate.IsZero() {
		return task.DueDate
	}
	return task.CreatedAt
}

// AlertKind labels the derived condition an alert reports.
type AlertKind string

const (
	AlertOverdue  AlertKind = "overdue"
	AlertStagnant AlertKind = "stagnant"
	AlertNoReply  AlertKind = "no-reply"
	AlertRenewal  AlertKind = "contract-renewal"
)

// Alert is one derived condition needing operator attention.
type Alert struct {
	Kind     AlertKind `json:"kind"`
	ClientID string    `json:"clientId"`
	EntityID string    `json:"entityId,omitempty"`
	Title    string    `json:"title,omitempty"`
	Days     int       `json:"days,omitempty"`
}

// OverdueTasks returns open tasks whose deadline is strictly before now.
// Tasks without any deadline date are never overdue.
func OverdueTasks(tasks []Task, thresholds Thresholds, now time.Time) []Task {
	var out []Task
	for _, task := range tasks {
		if task.Status.Terminal() {
			continue
		}
		deadline := thresholds.deadline(task)
		if deadline.IsZero() || !deadline.Before(now) {
			continue
		}
		out = append(out, task)
	}
	return out
}

// StagnantTasks returns open tasks whose last activity is at least
// StagnantDays in the past.
func StagnantTasks(tasks []Task, thresholds Thresholds, now time.Time) []Task {
	cutoff := time.Duration(thresholds.StagnantDays) * 24 * time.Hour
	var out []Task
	for _, task := range tasks {
		if task.Status.Terminal() || task.LastActivityAt.IsZero() {
			continue
		}
		if now.Sub(task.LastActivityAt) >= cutoff {
			out = append(out, task)
		}
	}
	return out
}

// NoReplyClients returns the IDs of clients whose most recent comment was
// written by the client at least NoReplyDays whole days ago with no team
// reply after it. The result is sorted for stable output.
func NoReplyClients(comments []Comment, thresholds Thresholds, now time.Time) []string {
	latest := map[string]Comment{}
	for _, comment := range comments {
		current, ok := latest[comment.ClientID]
		if !ok || comment.CreatedAt.After(current.CreatedAt) {
			latest[comment.ClientID] = comment
		}
	}
	var out []string
	for clientID, comment := range latest {
		if comment.Author != AuthorClient {
			continue
		}
		daysSince := int(now.Sub(comment.CreatedAt).Hours() / 24)
		if daysSince >= thresholds.NoReplyDays {
			out = append(out, clientID)
		}
	}
	sort.Strings(out)
	return out
}

// RenewalDueContracts returns contracts whose renewal anchor falls inside
// [now, now+RenewalDays]. Contracts without any anchor date are skipped.
func RenewalDueContracts(contracts []Contract, thresholds Thresholds, now time.Time) []Contract {
	horizon := now.AddDate(0, 0, thresholds.RenewalDays)
	var out []Contract
	for _, contract := range contracts {
		anchor := contract.RenewalAnchor()
		if anchor.IsZero() {
			continue
		}
		if anchor.Before(now) || anchor.After(horizon) {
			continue
		}
		out = append(out, contract)
	}
	return out
}

// SignalEngine derives attention signals over the local catalog. All reads
// pass through the normalizer so that records missing lifecycle metadata
// still participate.
type SignalEngine struct {
	catalog    *Catalog
	normalizer Normalizer
}

func NewSignalEngine(catalog *Catalog, normalizer Normalizer) *SignalEngine {
	if normalizer == nil {
		normalizer = HashNormalizer{}
	}
	return &SignalEngine{catalog: catalog, normalizer: normalizer}
}

func (e *SignalEngine) normalizedTasks(now time.Time) ([]Task, error) {
	tasks, err := e.catalog.AllTasks()
	if err != nil {
		return nil, err
	}
	return NormalizeTasks(e.normalizer, tasks, now), nil
}

// Overdue lists open tasks past their deadline.
func (e *SignalEngine) Overdue(now time.Time) ([]Task, error) {
	thresholds, err := e.catalog.Thresholds()
	if err != nil {
		return nil, err
	}
	tasks, err := e.normalizedTasks(now)
	if err != nil {
		return nil, err
	}
	return OverdueTasks(tasks, thresholds, now), nil
}

// Stagnant lists open tasks with no recent activity.
func (e *SignalEngine) Stagnant(now time.Time) ([]Task, error) {
	thresholds, err := e.catalog.Thresholds()
	if err != nil {
		return nil, err
	}
	tasks, err := e.normalizedTasks(now)
	if err != nil {
		return nil, err
	}
	return StagnantTasks(tasks, thresholds, now), nil
}

// NoReply lists clients waiting on a team response.
func (e *SignalEngine) NoReply(now time.Time) ([]string, error) {
	thresholds, err := e.catalog.Thresholds()
	if err != nil {
		return nil, err
	}
	comments, err := e.catalog.Comments()
	if err != nil {
		return nil, err
	}
	return NoReplyClients(comments, thresholds, now), nil
}

// RenewalsDue lists contracts entering their renewal window.
func (e *SignalEngine) RenewalsDue(now time.Time) ([]Contract, error) {
	thresholds, err := e.catalog.Thresholds()
	if err != nil {
		return nil, err
	}
	contracts, err := e.catalog.Contracts()
	if err != nil {
		return nil, err
	}
	return RenewalDueContracts(contracts, thresholds, now), nil
}

// Alerts derives the full attention feed in one pass, ordered by kind and
// then by client so repeated calls with the same data produce identical
// output.
func (e *SignalEngine) Alerts(now time.Time) ([]Alert, error) {
	thresholds, err := e.catalog.Thresholds()
	if err != nil {
		return nil, err
	}
	tasks, err := e.normalizedTasks(now)
	if err != nil {
		return nil, err
	}
	comments, err := e.catalog.Comments()
	if err != nil {
		return nil, err
	}
	contracts, err := e.catalog.Contracts()
	if err != nil {
		return nil, err
	}

	var alerts []Alert
	for _, task := range OverdueTasks(tasks, thresholds, now) {
		deadline := thresholds.deadline(task)
		alerts = append(alerts, Alert{
			Kind:     AlertOverdue,
			ClientID: task.ClientID,
			EntityID: task.ID,
			Title:    task.Title,
			Days:     int(now.Sub(deadline).Hours() / 24),
		})
	}
	for _, task := range StagnantTasks(tasks, thresholds, now) {
		alerts = append(alerts, Alert{
			Kind:     AlertStagnant,
			ClientID: task.ClientID,
			EntityID: task.ID,
			Title:    task.Title,
			Days:     int(now.Sub(task.LastActivityAt).Hours() / 24),
		})
	}
	for _, clientID := range NoReplyClients(comments, thresholds, now) {
		alerts = append(alerts, Alert{Kind: AlertNoReply, ClientID: clientID})
	}
	for _, contract := range RenewalDueContracts(contracts, thresholds, now) {
		alerts = append(alerts, Alert{
			Kind:     AlertRenewal,
			ClientID: contract.ClientID,
			EntityID: contract.ID,
			Days:     int(contract.RenewalAnchor().Sub(now).Hours() / 24),
		})
	}

	sort.SliceStable(alerts, func(i, j int) bool {
		if alerts[i].Kind != alerts[j].Kind {
			return alerts[i].Kind < alerts[j].Kind
		}
		if alerts[i].ClientID != alerts[j].ClientID {
			return alerts[i].ClientID < alerts[j].ClientID
		}
		return alerts[i].EntityID < alerts[j].EntityID
	})
	return alerts, nil
}
