package palsync

import (
	"time"
)

// DirectionKPI is the production-side scorecard for one reporting period,
// with percentage change against the preceding period of the same shape.
type DirectionKPI struct {
	OnTimeRate          float64 `json:"onTimeRate"`
	RejectionRate       float64 `json:"rejectionRate"`
	AverageLeadTime     float64 `json:"averageLeadTime"`
	OnTimeRateChange    float64 `json:"onTimeRateChange"`
	RejectionRateChange float64 `json:"rejectionRateChange"`
	LeadTimeChange      float64 `json:"leadTimeChange"`
}

// SalesKPI is the contract-side scorecard for the current calendar month,
// with percentage change against the previous month.
type SalesKPI struct {
	MonthlyRevenue       int64   `json:"monthlyRevenue"`
	MonthlyDeals         int     `json:"monthlyDeals"`
	MonthlyProposals     int     `json:"monthlyProposals"`
	ConversionRate       float64 `json:"conversionRate"`
	RevenueChange        float64 `json:"revenueChange"`
	DealsChange          float64 `json:"dealsChange"`
	ProposalsChange      float64 `json:"proposalsChange"`
	ConversionRateChange float64 `json:"conversionRateChange"`
}

// periodRange cuts the reporting window ending at (or containing) now.
// offset 0 is the current period, offset 1 the one before it. currentMonth
// windows are calendar months; the rolling windows step back by their own
// length per offset.
func periodRange(window AggregationWindow, offset int, now time.Time) (time.Time, time.Time) {
	switch window {
	case WindowLast30Days:
		return rollingRange(now, 30, offset)
	case WindowLast7Days:
		return rollingRange(now, 7, offset)
	default:
		start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location()).AddDate(0, -offset, 0)
		end := start.AddDate(0, 1, 0).Add(-time.Nanosecond)
		return start, end
	}
}

func rollingRange(now time.Time, days, offset int) (time.Time, time.Time) {
	end := time.Date(now.Year(), now.Month(), now.Day(), 23, 59, 59, 0, now.Location())
	end = end.AddDate(0, 0, -days*offset)
	start := time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, end.Location())
	start = start.AddDate(0, 0, -(days - 1))
	return start, end
}

func inRange(t, start, end time.Time) bool {
	return !t.IsZero() && !t.Before(start) && !t.After(end)
}

func tasksInPeriod(tasks []Task, thresholds Thresholds, offset int, now time.Time) []Task {
	start, end := periodRange(thresholds.AggregationWindow, offset, now)
	var out []Task
	for _, task := range tasks {
		if inRange(thresholds.periodDate(task), start, end) {
			out = append(out, task)
		}
	}
	return out
}

// Approvals always bucket by creation time regardless of the period basis.
func approvalsInPeriod(approvals []Approval, thresholds Thresholds, offset int, now time.Time) []Approval {
	start, end := periodRange(thresholds.AggregationWindow, offset, now)
	var out []Approval
	for _, approval := range approvals {
		if inRange(approval.CreatedAt, start, end) {
			out = append(out, approval)
		}
	}
	return out
}

// onTimeRate is the share of tasks completed at or before their deadline,
// as a percentage. Definition A divides by completed tasks, definition B
// by all tasks in the period. Tasks missing the deadline date on the
// configured basis count as late.
func onTimeRate(tasks []Task, thresholds Thresholds) float64 {
	var completed, onTime int
	for _, task := range tasks {
		if task.Status != TaskCompleted {
			continue
		}
		completed++
		if task.CompletedAt.IsZero() {
			continue
		}
		var deadline time.Time
		if thresholds.DeadlineBasis == DeadlinePostDate {
			deadline = task.PostDate
		} else {
			deadline = task.DueDate
		}
		if !deadline.IsZero() && !task.CompletedAt.After(deadline) {
			onTime++
		}
	}
	if thresholds.KPIDefinition == KPIDefinitionA {
		return ratio(onTime, completed)
	}
	return ratio(onTime, len(tasks))
}

// rejectionRate is the share of approvals sent back, as a percentage.
// Definition A divides by decided approvals (approved + rejected),
// definition B by all approvals in the period.
func rejectionRate(approvals []Approval, thresholds Thresholds) float64 {
	var approved, rejected int
	for _, approval := range approvals {
		switch approval.Status {
		case ApprovalApproved:
			approved++
		case ApprovalRejected:
			rejected++
		}
	}
	if thresholds.KPIDefinition == KPIDefinitionA {
		return ratio(rejected, approved+rejected)
	}
	return ratio(rejected, len(approvals))
}

// averageLeadTime is measured in days. Definition A averages creation to
// completion over completed tasks; definition B averages creation to post
// date over tasks that have one.
func averageLeadTime(tasks []Task, thresholds Thresholds) float64 {
	var total float64
	var count int
	for _, task := range tasks {
		if task.CreatedAt.IsZero() {
			continue
		}
		var until time.Time
		if thresholds.KPIDefinition == KPIDefinitionA {
			if task.Status != TaskCompleted || task.CompletedAt.IsZero() {
				continue
			}
			until = task.CompletedAt
		} else {
			if task.PostDate.IsZero() {
				continue
			}
			until = task.PostDate
		}
		total += until.Sub(task.CreatedAt).Hours() / 24
		count++
	}
	if count == 0 {
		return 0
	}
	return total / float64(count)
}

func ratio(part, whole int) float64 {
	if whole == 0 {
		return 0
	}
	return float64(part) / float64(whole) * 100
}

// percentChange expresses current against previous as a percentage delta.
// A previous value of zero yields zero rather than a division blowup.
func percentChange(current, previous float64) float64 {
	if previous <= 0 {
		return 0
	}
	return (current - previous) / previous * 100
}

// ComputeDirectionKPI evaluates the production scorecard over normalized
// tasks and approvals. An empty clientID aggregates every client.
func ComputeDirectionKPI(tasks []Task, approvals []Approval, thresholds Thresholds, clientID string, now time.Time) DirectionKPI {
	if clientID != "" {
		tasks = filterTasksByClient(tasks, clientID)
		approvals = filterApprovalsByClient(approvals, clientID)
	}

	currentTasks := tasksInPeriod(tasks, thresholds, 0, now)
	currentApprovals := approvalsInPeriod(approvals, thresholds, 0, now)
	previousTasks := tasksInPeriod(tasks, thresholds, 1, now)
	previousApprovals := approvalsInPeriod(approvals, thresholds, 1, now)

	kpi := DirectionKPI{
		OnTimeRate:      onTimeRate(currentTasks, thresholds),
		RejectionRate:   rejectionRate(currentApprovals, thresholds),
		AverageLeadTime: averageLeadTime(currentTasks, thresholds),
	}
	kpi.OnTimeRateChange = percentChange(kpi.OnTimeRate, onTimeRate(previousTasks, thresholds))
	kpi.RejectionRateChange = percentChange(kpi.RejectionRate, rejectionRate(previousApprovals, thresholds))
	kpi.LeadTimeChange = percentChange(kpi.AverageLeadTime, averageLeadTime(previousTasks, thresholds))
	return kpi
}

// contractsInMonth buckets contracts into the calendar month offset months
// before the one containing now. Active contracts bucket by start date,
// negotiating ones by creation date.
func contractsInMonth(contracts []Contract, status ContractStatus, offset int, now time.Time) []Contract {
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location()).AddDate(0, -offset, 0)
	end := start.AddDate(0, 1, 0).Add(-time.Nanosecond)
	var out []Contract
	for _, contract := range contracts {
		if contract.Status != status {
			continue
		}
		anchor := contract.StartDate
		if status == ContractNegotiating {
			anchor = contract.CreatedAt
		}
		if inRange(anchor, start, end) {
			out = append(out, contract)
		}
	}
	return out
}

// ComputeSalesKPI evaluates the contract scorecard for the calendar month
// containing now. An empty clientID aggregates every client.
func ComputeSalesKPI(contracts []Contract, clientID string, now time.Time) SalesKPI {
	if clientID != "" {
		var filtered []Contract
		for _, contract := range contracts {
			if contract.ClientID == clientID {
				filtered = append(filtered, contract)
			}
		}
		contracts = filtered
	}

	currentActive := contractsInMonth(contracts, ContractActive, 0, now)
	currentNegotiating := contractsInMonth(contracts, ContractNegotiating, 0, now)
	previousActive := contractsInMonth(contracts, ContractActive, 1, now)
	previousNegotiating := contractsInMonth(contracts, ContractNegotiating, 1, now)

	kpi := SalesKPI{
		MonthlyDeals:     len(currentActive),
		MonthlyProposals: len(currentNegotiating),
	}
	for _, contract := range currentActive {
		kpi.MonthlyRevenue += contract.MonthlyFee
	}
	kpi.ConversionRate = ratio(kpi.MonthlyDeals, kpi.MonthlyDeals+kpi.MonthlyProposals)

	var prevRevenue int64
	for _, contract := range previousActive {
		prevRevenue += contract.MonthlyFee
	}
	prevDeals := len(previousActive)
	prevProposals := len(previousNegotiating)
	prevConversion := ratio(prevDeals, prevDeals+prevProposals)

	kpi.RevenueChange = percentChange(float64(kpi.MonthlyRevenue), float64(prevRevenue))
	kpi.DealsChange = percentChange(float64(kpi.MonthlyDeals), float64(prevDeals))
	kpi.ProposalsChange = percentChange(float64(kpi.MonthlyProposals), float64(prevProposals))
	kpi.ConversionRateChange = percentChange(kpi.ConversionRate, prevConversion)
	return kpi
}

func filterTasksByClient(tasks []Task, clientID string) []Task {
	var out []Task
	for _, task := range tasks {
		if task.ClientID == clientID {
			out = append(out, task)
		}
	}
	return out
}

func filterApprovalsByClient(approvals []Approval, clientID string) []Approval {
	var out []Approval
	for _, approval := range approvals {
		if approval.ClientID == clientID {
			out = append(out, approval)
		}
	}
	return out
}

// DirectionKPIForClient is the catalog-backed entry point used by the API
// layer: it reads, normalizes, and evaluates in one call.
func (e *SignalEngine) DirectionKPIForClient(clientID string, now time.Time) (DirectionKPI, error) {
	thresholds, err := e.catalog.Thresholds()
	if err != nil {
		return DirectionKPI{}, err
	}
	tasks, err := e.normalizedTasks(now)
	if err != nil {
		return DirectionKPI{}, err
	}
	approvals, err := e.catalog.AllApprovals()
	if err != nil {
		return DirectionKPI{}, err
	}
	approvals = NormalizeApprovals(e.normalizer, approvals, now)
	return ComputeDirectionKPI(tasks, approvals, thresholds, clientID, now), nil
}

// SalesKPIForClient evaluates the sales scorecard over the stored contracts.
func (e *SignalEngine) SalesKPIForClient(clientID string, now time.Time) (SalesKPI, error) {
	contracts, err := e.catalog.Contracts()
	if err != nil {
		return SalesKPI{}, err
	}
	return ComputeSalesKPI(contracts, clientID, now), nil
}
