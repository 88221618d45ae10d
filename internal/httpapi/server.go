package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/palss/palsync/internal/palsync"
)

// ServerOptions wires the API surface to the reconciliation core.
type ServerOptions struct {
	Catalog    *palsync.Catalog
	Outbox     *palsync.Outbox
	Reconciler *palsync.Reconciler
	Signals    *palsync.SignalEngine
	// Normalizer backfills missing metadata on list responses. Defaults
	// to HashNormalizer so it matches the signal engine's default.
	Normalizer palsync.Normalizer
	Logger     zerolog.Logger
	// Now is the clock used for signal and KPI evaluation. Defaults to
	// time.Now; tests pin it.
	Now          func() time.Time
	MaxBodyBytes int64
}

type Server struct {
	catalog    *palsync.Catalog
	outbox     *palsync.Outbox
	reconciler *palsync.Reconciler
	signals    *palsync.SignalEngine
	normalizer palsync.Normalizer
	log        zerolog.Logger
	now        func() time.Time
	schemas    *schemaSet
	maxBody    int64
	router     chi.Router
}

func NewServer(opts ServerOptions) (*Server, error) {
	schemas, err := compileSchemas()
	if err != nil {
		return nil, err
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	maxBody := opts.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 1 << 20
	}
	normalizer := opts.Normalizer
	if normalizer == nil {
		normalizer = palsync.HashNormalizer{}
	}
	s := &Server{
		catalog:    opts.Catalog,
		outbox:     opts.Outbox,
		reconciler: opts.Reconciler,
		signals:    opts.Signals,
		normalizer: normalizer,
		log:        opts.Logger,
		now:        now,
		schemas:    schemas,
		maxBody:    maxBody,
	}
	s.router = s.routes()
	return s, nil
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/clients", s.handleListClients)
		r.Post("/clients", s.handleCreateClient)
		r.Route("/clients/{clientID}", func(r chi.Router) {
			r.Get("/tasks", s.handleListTasks)
			r.Patch("/tasks/{taskID}", s.handlePatchTask)
			r.Get("/approvals", s.handleListApprovals)
			r.Patch("/approvals/{approvalID}", s.handlePatchApproval)
			r.Get("/comments", s.handleListComments)
		})

		r.Post("/tasks", s.handleCreateTask)
		r.Post("/comments", s.handleCreateComment)

		r.Get("/contracts", s.handleListContracts)
		r.Post("/contracts", s.handleCreateContract)
		r.Patch("/contracts/{contractID}", s.handlePatchContract)

		r.Get("/notifications", s.handleListNotifications)
		r.Post("/notifications", s.handleCreateNotification)
		r.Post("/notifications/read-all", s.handleReadAllNotifications)
		r.Delete("/notifications", s.handleClearNotifications)
		r.Post("/notifications/{notificationID}/read", s.handleReadNotification)
		r.Delete("/notifications/{notificationID}", s.handleDeleteNotification)

		r.Get("/alerts", s.handleAlerts)
		r.Get("/alerts/overdue", s.handleOverdue)
		r.Get("/alerts/stagnant", s.handleStagnant)
		r.Get("/alerts/no-reply", s.handleNoReply)
		r.Get("/alerts/renewals", s.handleRenewals)

		r.Get("/kpis/direction", s.handleDirectionKPI)
		r.Get("/kpis/sales", s.handleSalesKPI)

		r.Get("/outbox", s.handleListOutbox)
		r.Get("/outbox/stats", s.handleOutboxStats)
		r.Post("/outbox/retry", s.handleRetryAll)
		r.Post("/outbox/{outboxID}/retry", s.handleRetryItem)
		r.Delete("/outbox/{outboxID}", s.handleDeleteOutboxItem)

		r.Get("/thresholds", s.handleGetThresholds)
		r.Put("/thresholds", s.handlePutThresholds)

		r.Get("/admin/integrity", s.handleIntegrity)

		r.Get("/events", s.handleEvents)
	})
	return r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Run serves until SIGINT/SIGTERM, then drains connections within the
// shutdown timeout.
func (s *Server) Run(addr string, shutdownTimeout time.Duration) error {
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      s,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", addr).Msg("http server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		s.log.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return httpServer.Shutdown(ctx)
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.Error().Err(err).Msg("encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, palsync.ErrNotFound):
		s.writeError(w, http.StatusNotFound, err)
	case errors.Is(err, palsync.ErrInvalidInput):
		s.writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, palsync.ErrInvalidState):
		s.writeError(w, http.StatusConflict, err)
	default:
		s.writeError(w, http.StatusInternalServerError, err)
	}
}

func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBody))
	if err != nil {
		s.writeError(w, http.StatusRequestEntityTooLarge, err)
		return nil, false
	}
	return body, true
}

// mutationResponse pairs the optimistic entity with the outbox handle the
// client can poll, mirroring how the reconciler acknowledges before
// settling.
type mutationResponse struct {
	OutboxID string `json:"outboxId,omitempty"`
	Data     any    `json:"data,omitempty"`
}

func (s *Server) respondMutation(w http.ResponseWriter, ticket *palsync.Ticket, data any) {
	status := http.StatusAccepted
	outboxID := ""
	if ticket != nil {
		outboxID = ticket.OutboxID
		if outboxID == "" {
			// Settled synchronously (local mode).
			status = http.StatusOK
		}
	}
	s.writeJSON(w, status, mutationResponse{OutboxID: outboxID, Data: data})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"mode":   string(s.reconciler.Mode()),
	})
}

func (s *Server) handleListClients(w http.ResponseWriter, _ *http.Request) {
	clients, err := s.catalog.Clients()
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if clients == nil {
		clients = []palsync.Client{}
	}
	s.writeJSON(w, http.StatusOK, clients)
}

func (s *Server) handleCreateClient(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}
	var client palsync.Client
	if err := json.Unmarshal(body, &client); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if client.ID == "" || client.Name == "" {
		s.writeError(w, http.StatusBadRequest, palsync.ErrInvalidInput)
		return
	}
	now := s.now()
	if client.CreatedAt.IsZero() {
		client.CreatedAt = now
	}
	client.UpdatedAt = now
	added, err := s.catalog.UpsertClient(client)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	status := http.StatusCreated
	if !added {
		status = http.StatusOK
	}
	s.writeJSON(w, status, client)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.catalog.ClientTasks(chi.URLParam(r, "clientID"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if r.URL.Query().Get("normalize") != "false" {
		tasks = palsync.NormalizeTasks(s.normalizer, tasks, s.now())
	}
	if tasks == nil {
		tasks = []palsync.Task{}
	}
	s.writeJSON(w, http.StatusOK, tasks)
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}
	if err := validate(s.schemas.taskCreate, body); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	var task palsync.Task
	if err := json.Unmarshal(body, &task); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	created, ticket, err := s.reconciler.CreateTask(task)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.respondMutation(w, ticket, created)
}

func (s *Server) handlePatchTask(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}
	if err := validate(s.schemas.taskPatch, body); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	var patch palsync.TaskPatch
	if err := json.Unmarshal(body, &patch); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	updated, ticket, err := s.reconciler.UpdateTask(chi.URLParam(r, "clientID"), chi.URLParam(r, "taskID"), patch)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.respondMutation(w, ticket, updated)
}

func (s *Server) handleListApprovals(w http.ResponseWriter, r *http.Request) {
	approvals, err := s.catalog.ClientApprovals(chi.URLParam(r, "clientID"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if r.URL.Query().Get("normalize") != "false" {
		approvals = palsync.NormalizeApprovals(s.normalizer, approvals, s.now())
	}
	if approvals == nil {
		approvals = []palsync.Approval{}
	}
	s.writeJSON(w, http.StatusOK, approvals)
}

func (s *Server) handlePatchApproval(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}
	if err := validate(s.schemas.approvalPatch, body); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	var patch palsync.ApprovalPatch
	if err := json.Unmarshal(body, &patch); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	updated, ticket, err := s.reconciler.UpdateApproval(chi.URLParam(r, "clientID"), chi.URLParam(r, "approvalID"), patch)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.respondMutation(w, ticket, updated)
}

func (s *Server) handleListComments(w http.ResponseWriter, r *http.Request) {
	comments, err := s.catalog.ClientComments(chi.URLParam(r, "clientID"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if comments == nil {
		comments = []palsync.Comment{}
	}
	s.writeJSON(w, http.StatusOK, comments)
}

func (s *Server) handleCreateComment(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}
	if err := validate(s.schemas.commentCreate, body); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	var comment palsync.Comment
	if err := json.Unmarshal(body, &comment); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	created, ticket, err := s.reconciler.AddComment(comment)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.respondMutation(w, ticket, created)
}

func (s *Server) handleListContracts(w http.ResponseWriter, _ *http.Request) {
	contracts, err := s.catalog.Contracts()
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if contracts == nil {
		contracts = []palsync.Contract{}
	}
	s.writeJSON(w, http.StatusOK, contracts)
}

func (s *Server) handleCreateContract(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}
	if err := validate(s.schemas.contractCreate, body); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	var contract palsync.Contract
	if err := json.Unmarshal(body, &contract); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	created, ticket, err := s.reconciler.CreateContract(contract)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.respondMutation(w, ticket, created)
}

func (s *Server) handlePatchContract(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}
	if err := validate(s.schemas.contractPatch, body); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	var patch palsync.ContractPatch
	if err := json.Unmarshal(body, &patch); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	updated, ticket, err := s.reconciler.UpdateContract(chi.URLParam(r, "contractID"), patch)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.respondMutation(w, ticket, updated)
}

func (s *Server) handleListNotifications(w http.ResponseWriter, _ *http.Request) {
	notifications, err := s.catalog.Notifications()
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if notifications == nil {
		notifications = []palsync.Notification{}
	}
	s.writeJSON(w, http.StatusOK, notifications)
}

func (s *Server) handleCreateNotification(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}
	if err := validate(s.schemas.notificationCreate, body); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	var notification palsync.Notification
	if err := json.Unmarshal(body, &notification); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	created, ticket, err := s.reconciler.AddNotification(notification)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.respondMutation(w, ticket, created)
}

func (s *Server) handleReadNotification(w http.ResponseWriter, r *http.Request) {
	ticket, err := s.reconciler.MarkNotificationRead(chi.URLParam(r, "notificationID"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.respondMutation(w, ticket, nil)
}

func (s *Server) handleDeleteNotification(w http.ResponseWriter, r *http.Request) {
	ticket, err := s.reconciler.DeleteNotification(chi.URLParam(r, "notificationID"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.respondMutation(w, ticket, nil)
}

func (s *Server) handleClearNotifications(w http.ResponseWriter, _ *http.Request) {
	ticket, err := s.reconciler.ClearNotifications()
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.respondMutation(w, ticket, nil)
}

func (s *Server) handleReadAllNotifications(w http.ResponseWriter, _ *http.Request) {
	ticket, err := s.reconciler.MarkAllNotificationsRead()
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.respondMutation(w, ticket, nil)
}

func (s *Server) handleAlerts(w http.ResponseWriter, _ *http.Request) {
	alerts, err := s.signals.Alerts(s.now())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if alerts == nil {
		alerts = []palsync.Alert{}
	}
	s.writeJSON(w, http.StatusOK, alerts)
}

func (s *Server) handleOverdue(w http.ResponseWriter, _ *http.Request) {
	tasks, err := s.signals.Overdue(s.now())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if tasks == nil {
		tasks = []palsync.Task{}
	}
	s.writeJSON(w, http.StatusOK, tasks)
}

func (s *Server) handleStagnant(w http.ResponseWriter, _ *http.Request) {
	tasks, err := s.signals.Stagnant(s.now())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if tasks == nil {
		tasks = []palsync.Task{}
	}
	s.writeJSON(w, http.StatusOK, tasks)
}

func (s *Server) handleNoReply(w http.ResponseWriter, _ *http.Request) {
	clientIDs, err := s.signals.NoReply(s.now())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if clientIDs == nil {
		clientIDs = []string{}
	}
	s.writeJSON(w, http.StatusOK, clientIDs)
}

func (s *Server) handleRenewals(w http.ResponseWriter, _ *http.Request) {
	contracts, err := s.signals.RenewalsDue(s.now())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if contracts == nil {
		contracts = []palsync.Contract{}
	}
	s.writeJSON(w, http.StatusOK, contracts)
}

func (s *Server) handleDirectionKPI(w http.ResponseWriter, r *http.Request) {
	kpi, err := s.signals.DirectionKPIForClient(r.URL.Query().Get("clientId"), s.now())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, kpi)
}

func (s *Server) handleSalesKPI(w http.ResponseWriter, r *http.Request) {
	kpi, err := s.signals.SalesKPIForClient(r.URL.Query().Get("clientId"), s.now())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, kpi)
}

func (s *Server) handleListOutbox(w http.ResponseWriter, _ *http.Request) {
	items, err := s.outbox.Items()
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if items == nil {
		items = []palsync.OutboxItem{}
	}
	s.writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleOutboxStats(w http.ResponseWriter, _ *http.Request) {
	stats, err := s.outbox.Stats()
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleRetryAll(w http.ResponseWriter, r *http.Request) {
	force := r.URL.Query().Get("force") == "true"
	result, err := s.reconciler.RetryAll(force)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleRetryItem(w http.ResponseWriter, r *http.Request) {
	outcome, err := s.reconciler.RetryItem(chi.URLParam(r, "outboxID"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, outcome)
}

func (s *Server) handleDeleteOutboxItem(w http.ResponseWriter, r *http.Request) {
	if err := s.outbox.Delete(chi.URLParam(r, "outboxID")); err != nil {
		s.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetThresholds(w http.ResponseWriter, _ *http.Request) {
	thresholds, err := s.catalog.Thresholds()
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, thresholds)
}

func (s *Server) handlePutThresholds(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}
	if err := validate(s.schemas.thresholds, body); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	thresholds, err := s.catalog.Thresholds()
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if err := json.Unmarshal(body, &thresholds); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.catalog.SetThresholds(thresholds); err != nil {
		s.writeDomainError(w, err)
		return
	}
	updated, err := s.catalog.Thresholds()
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleIntegrity(w http.ResponseWriter, _ *http.Request) {
	report, err := palsync.CheckIntegrity(s.catalog)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	status := http.StatusOK
	if !report.Clean() {
		status = http.StatusConflict
	}
	s.writeJSON(w, status, report)
}
