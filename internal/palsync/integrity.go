package palsync

import (
	"sort"
)

// IntegrityIssue is one dangling reference found in the local store.
type IntegrityIssue struct {
	Collection string `json:"collection"`
	EntityID   string `json:"entityId"`
	ClientID   string `json:"clientId"`
	Detail     string `json:"detail"`
}

// IntegrityReport is the result of a full referential scan.
type IntegrityReport struct {
	Checked int              `json:"checked"`
	Issues  []IntegrityIssue `json:"issues"`
}

func (r IntegrityReport) Clean() bool {
	return len(r.Issues) == 0
}

// CheckIntegrity scans every collection for references to clients that do
// not exist. The scan is read-only; repairing is an operator decision.
func CheckIntegrity(catalog *Catalog) (IntegrityReport, error) {
	clients, err := catalog.Clients()
	if err != nil {
		return IntegrityReport{}, err
	}
	known := map[string]bool{}
	for _, client := range clients {
		known[client.ID] = true
	}

	report := IntegrityReport{}
	add := func(collection, entityID, clientID, detail string) {
		report.Issues = append(report.Issues, IntegrityIssue{
			Collection: collection,
			EntityID:   entityID,
			ClientID:   clientID,
			Detail:     detail,
		})
	}

	tasksByClient, err := catalog.TasksByClient()
	if err != nil {
		return IntegrityReport{}, err
	}
	clientIDs := make([]string, 0, len(tasksByClient))
	for clientID := range tasksByClient {
		clientIDs = append(clientIDs, clientID)
	}
	sort.Strings(clientIDs)
	for _, clientID := range clientIDs {
		for _, task := range tasksByClient[clientID] {
			report.Checked++
			if !known[clientID] {
				add(CollectionTasks, task.ID, clientID, "task bucketed under unknown client")
			} else if task.ClientID != "" && task.ClientID != clientID {
				add(CollectionTasks, task.ID, clientID, "task clientId disagrees with its bucket")
			}
		}
	}

	approvalsByClient, err := catalog.ApprovalsByClient()
	if err != nil {
		return IntegrityReport{}, err
	}
	clientIDs = clientIDs[:0]
	for clientID := range approvalsByClient {
		clientIDs = append(clientIDs, clientID)
	}
	sort.Strings(clientIDs)
	for _, clientID := range clientIDs {
		for _, approval := range approvalsByClient[clientID] {
			report.Checked++
			if !known[clientID] {
				add(CollectionApprovals, approval.ID, clientID, "approval bucketed under unknown client")
			} else if approval.ClientID != "" && approval.ClientID != clientID {
				add(CollectionApprovals, approval.ID, clientID, "approval clientId disagrees with its bucket")
			}
		}
	}

	comments, err := catalog.Comments()
	if err != nil {
		return IntegrityReport{}, err
	}
	for _, comment := range comments {
		report.Checked++
		if !known[comment.ClientID] {
			add(CollectionComments, comment.ID, comment.ClientID, "comment references unknown client")
		}
	}

	contracts, err := catalog.Contracts()
	if err != nil {
		return IntegrityReport{}, err
	}
	for _, contract := range contracts {
		report.Checked++
		if !known[contract.ClientID] {
			add(CollectionContracts, contract.ID, contract.ClientID, "contract references unknown client")
		}
	}

	notifications, err := catalog.Notifications()
	if err != nil {
		return IntegrityReport{}, err
	}
	for _, notification := range notifications {
		report.Checked++
		if notification.ClientID != "" && !known[notification.ClientID] {
			add(CollectionNotifications, notification.ID, notification.ClientID, "notification references unknown client")
		}
	}

	return report, nil
}
