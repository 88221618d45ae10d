package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/palss/palsync/internal/config"
	"github.com/palss/palsync/internal/palsync"
)

// seedCmd loads a small development dataset into the local store so the
// dashboard endpoints return something before a remote is wired up.
func seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Populate the local store with development data",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := newLogger(cfg.LogLevel)

			store, err := palsync.BuildLocalStoreFromDSN(cfg.LocalStoreDSN)
			if err != nil {
				return err
			}
			defer store.Close()

			catalog := palsync.NewCatalog(store)
			now := time.Now()

			clients := []palsync.Client{
				{ID: "client-aoba", Name: "Aoba Foods", Industry: "food"},
				{ID: "client-kanda", Name: "Kanda Fitness", Industry: "fitness"},
				{ID: "client-sumida", Name: "Sumida Clinic", Industry: "healthcare"},
			}
			for _, client := range clients {
				client.CreatedAt = now.AddDate(0, -3, 0)
				client.UpdatedAt = now
				if _, err := catalog.UpsertClient(client); err != nil {
					return err
				}
			}

			tasks := []palsync.Task{
				{ID: "task-aoba-1", ClientID: "client-aoba", Title: "October reel batch", Status: palsync.TaskInProgress, DueDate: now.AddDate(0, 0, 3)},
				{ID: "task-aoba-2", ClientID: "client-aoba", Title: "Menu photo retouch", Status: palsync.TaskPending, DueDate: now.AddDate(0, 0, -2)},
				{ID: "task-kanda-1", ClientID: "client-kanda", Title: "Trainer interview edit", Status: palsync.TaskAwaitingApproval, PostDate: now.AddDate(0, 0, 5)},
				{ID: "task-sumida-1", ClientID: "client-sumida", Title: "Flu season carousel", Status: palsync.TaskCompleted, DueDate: now.AddDate(0, 0, -6)},
			}
			for _, task := range tasks {
				if _, err := catalog.UpsertTask(task.ClientID, task); err != nil {
					return err
				}
			}

			approvals := []palsync.Approval{
				{ID: "appr-kanda-1", ClientID: "client-kanda", Title: "Trainer interview cut", Type: palsync.ApprovalTypeVideo, Status: palsync.ApprovalPending},
				{ID: "appr-aoba-1", ClientID: "client-aoba", Title: "Autumn campaign copy", Type: palsync.ApprovalTypeCopy, Status: palsync.ApprovalRejected, RejectedCount: 1},
			}
			for _, approval := range approvals {
				if _, err := catalog.UpsertApproval(approval.ClientID, approval); err != nil {
					return err
				}
			}

			comments := []palsync.Comment{
				{ID: "cmt-aoba-1", ClientID: "client-aoba", Author: palsync.AuthorClient, Body: "Can we brighten the second cut?", CreatedAt: now.AddDate(0, 0, -7)},
				{ID: "cmt-kanda-1", ClientID: "client-kanda", Author: palsync.AuthorTeam, Body: "New draft uploaded.", CreatedAt: now.AddDate(0, 0, -1)},
			}
			for _, comment := range comments {
				if err := catalog.AddComment(comment); err != nil {
					return err
				}
			}

			contracts := []palsync.Contract{
				{ID: "ctr-aoba-1", ClientID: "client-aoba", Status: palsync.ContractActive, MonthlyFee: 250000, StartDate: now.AddDate(0, -3, 0), EndDate: now.AddDate(0, 0, 20)},
				{ID: "ctr-kanda-1", ClientID: "client-kanda", Status: palsync.ContractActive, MonthlyFee: 180000, StartDate: now.AddDate(0, 0, -10), RenewalDate: now.AddDate(0, 6, 0)},
				{ID: "ctr-sumida-1", ClientID: "client-sumida", Status: palsync.ContractNegotiating, MonthlyFee: 300000, CreatedAt: now.AddDate(0, 0, -4)},
			}
			for _, contract := range contracts {
				if err := catalog.AddContract(contract); err != nil {
					return err
				}
			}

			if err := catalog.SetThresholds(palsync.DefaultThresholds()); err != nil {
				return err
			}

			logger.Info().
				Int("clients", len(clients)).
				Int("tasks", len(tasks)).
				Int("contracts", len(contracts)).
				Str("local_store", cfg.LocalStoreDSN).
				Msg("seeded")
			return nil
		},
	}
}
