package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"escrowflow/dispute"
	"escrowflow/escrow"
	"escrowflow/identity"
	"escrowflow/job"
	"escrowflow/ledger"
)

// APIHandlers exposes HTTP handlers for the settlement REST API.
type APIHandlers struct {
	logger   *slog.Logger
	identity *identity.Service
	jobs     *job.Service
	escrow   *escrow.Engine
	disputes *dispute.Engine
}

// NewAPIHandlers constructs an APIHandlers instance.
func NewAPIHandlers(logger *slog.Logger, ident *identity.Service, jobs *job.Service, esc *escrow.Engine, disp *dispute.Engine) *APIHandlers {
	return &APIHandlers{
		logger:   logger,
		identity: ident,
		jobs:     jobs,
		escrow:   esc,
		disputes: disp,
	}
}

func (h *APIHandlers) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		userID, _, err := h.identity.VerifyToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		ctx := withCaller(r.Context(), userID)
		next(w, r.WithContext(ctx))
	}
}

// --- auth ---

type userResponse struct {
	ID         string  `json:"id"`
	Email      string  `json:"email"`
	FullName   string  `json:"full_name"`
	Role       string  `json:"role"`
	Reputation float64 `json:"reputation"`
}

func toUserResponse(u identity.User) userResponse {
	return userResponse{
		ID:         u.ID,
		Email:      u.Email,
		FullName:   u.FullName,
		Role:       string(u.Role),
		Reputation: u.Reputation,
	}
}

func (h *APIHandlers) register(w http.ResponseWriter, r *http.Request) {
	var req identity.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := h.identity.Register(r.Context(), req)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, toUserResponse(*user))
}

func (h *APIHandlers) login(w http.ResponseWriter, r *http.Request) {
	var req identity.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.identity.Login(r.Context(), req)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"token": result.Token,
		"user":  toUserResponse(result.User),
	})
}

// --- jobs ---

type milestoneResponse struct {
	ID          int        `json:"id"`
	Description string     `json:"description"`
	Amount      uint64     `json:"amount"`
	Status      string     `json:"status"`
	SubmittedAt *time.Time `json:"submitted_at,omitempty"`
	ApprovedAt  *time.Time `json:"approved_at,omitempty"`
	ReleasedAt  *time.Time `json:"released_at,omitempty"`
}

type jobResponse struct {
	ID          uint64              `json:"id"`
	Client      string              `json:"client"`
	Freelancer  string              `json:"freelancer,omitempty"`
	Title       string              `json:"title"`
	TotalAmount uint64              `json:"total_amount"`
	FeeBps      uint32              `json:"fee_bps"`
	Status      string              `json:"status"`
	Milestones  []milestoneResponse `json:"milestones"`
	CreatedAt   time.Time           `json:"created_at"`
}

func toJobResponse(j job.Job) jobResponse {
	resp := jobResponse{
		ID:          j.ID,
		Client:      j.Client,
		Freelancer:  j.Freelancer,
		Title:       j.Title,
		TotalAmount: j.TotalAmount,
		FeeBps:      j.FeeBps,
		Status:      string(j.Status),
		Milestones:  make([]milestoneResponse, 0, len(j.Milestones)),
		CreatedAt:   j.CreatedAt,
	}
	for _, m := range j.Milestones {
		resp.Milestones = append(resp.Milestones, milestoneResponse{
			ID:          m.ID,
			Description: m.Description,
			Amount:      m.Amount,
			Status:      string(m.Status),
			SubmittedAt: m.SubmittedAt,
			ApprovedAt:  m.ApprovedAt,
			ReleasedAt:  m.ReleasedAt,
		})
	}
	return resp
}

func (h *APIHandlers) createJob(w http.ResponseWriter, r *http.Request) {
	var params job.CreateParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	j, err := h.jobs.Create(r.Context(), callerFrom(r.Context()), params)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, toJobResponse(j))
}

func (h *APIHandlers) listJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.jobs.ListByParty(r.Context(), callerFrom(r.Context()))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	out := make([]jobResponse, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, toJobResponse(j))
	}
	respondJSON(w, http.StatusOK, out)
}

func (h *APIHandlers) getJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	j, err := h.jobs.Get(r.Context(), jobID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toJobResponse(j))
}

func (h *APIHandlers) assignFreelancer(w http.ResponseWriter, r *http.Request) {
	jobID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		FreelancerID string `json:"freelancer_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.FreelancerID == "" {
		writeError(w, http.StatusBadRequest, "freelancer_id is required")
		return
	}

	j, err := h.jobs.AssignFreelancer(r.Context(), callerFrom(r.Context()), jobID, req.FreelancerID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toJobResponse(j))
}

func (h *APIHandlers) startJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	j, err := h.jobs.Start(r.Context(), callerFrom(r.Context()), jobID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toJobResponse(j))
}

func (h *APIHandlers) cancelJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	j, err := h.jobs.Cancel(r.Context(), callerFrom(r.Context()), jobID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toJobResponse(j))
}

func (h *APIHandlers) submitMilestone(w http.ResponseWriter, r *http.Request) {
	jobID, milestoneID, ok := pathJobMilestone(w, r)
	if !ok {
		return
	}
	j, err := h.jobs.SubmitMilestone(r.Context(), callerFrom(r.Context()), jobID, milestoneID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toJobResponse(j))
}

func (h *APIHandlers) approveMilestone(w http.ResponseWriter, r *http.Request) {
	jobID, milestoneID, ok := pathJobMilestone(w, r)
	if !ok {
		return
	}
	j, err := h.jobs.ApproveMilestone(r.Context(), callerFrom(r.Context()), jobID, milestoneID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toJobResponse(j))
}

// --- escrow ---

type escrowAccountResponse struct {
	JobID          uint64 `json:"job_id"`
	Client         string `json:"client"`
	Freelancer     string `json:"freelancer,omitempty"`
	TotalAmount    uint64 `json:"total_amount"`
	PlatformFee    uint64 `json:"platform_fee"`
	ReleasedAmount uint64 `json:"released_amount"`
	Remaining      uint64 `json:"remaining"`
}

type transactionResponse struct {
	ID            uint64    `json:"id"`
	JobID         uint64    `json:"job_id"`
	MilestoneID   *int      `json:"milestone_id,omitempty"`
	Source        string    `json:"source"`
	Destination   string    `json:"destination"`
	Amount        uint64    `json:"amount"`
	Kind          string    `json:"kind"`
	SettlementRef uint64    `json:"settlement_ref"`
	CreatedAt     time.Time `json:"created_at"`
}

func (h *APIHandlers) escrowAccount(w http.ResponseWriter, r *http.Request) {
	jobID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	acct, err := h.escrow.Account(r.Context(), callerFrom(r.Context()), jobID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, escrowAccountResponse{
		JobID:          acct.JobID,
		Client:         acct.Client,
		Freelancer:     acct.Freelancer,
		TotalAmount:    acct.TotalAmount,
		PlatformFee:    acct.PlatformFee,
		ReleasedAmount: acct.ReleasedAmount,
		Remaining:      acct.Remaining(),
	})
}

func (h *APIHandlers) escrowTransactions(w http.ResponseWriter, r *http.Request) {
	jobID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	txs, err := h.escrow.Transactions(r.Context(), callerFrom(r.Context()), jobID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	out := make([]transactionResponse, 0, len(txs))
	for _, tx := range txs {
		out = append(out, transactionResponse{
			ID:            tx.ID,
			JobID:         tx.JobID,
			MilestoneID:   tx.MilestoneID,
			Source:        tx.Source,
			Destination:   tx.Destination,
			Amount:        tx.Amount,
			Kind:          string(tx.Kind),
			SettlementRef: tx.SettlementRef,
			CreatedAt:     tx.CreatedAt,
		})
	}
	respondJSON(w, http.StatusOK, out)
}

// --- disputes ---

type disputeResponse struct {
	ID          uint64              `json:"id"`
	JobID       uint64              `json:"job_id"`
	MilestoneID *int                `json:"milestone_id,omitempty"`
	Client      string              `json:"client"`
	Freelancer  string              `json:"freelancer"`
	RaisedBy    string              `json:"raised_by"`
	Reason      string              `json:"reason"`
	Status      string              `json:"status"`
	Arbitrator  string              `json:"arbitrator,omitempty"`
	Resolution  *dispute.Resolution `json:"resolution,omitempty"`
	CreatedAt   time.Time           `json:"created_at"`
	ResolvedAt  *time.Time          `json:"resolved_at,omitempty"`
}

func toDisputeResponse(d dispute.Dispute) disputeResponse {
	return disputeResponse{
		ID:          d.ID,
		JobID:       d.JobID,
		MilestoneID: d.MilestoneID,
		Client:      d.Client,
		Freelancer:  d.Freelancer,
		RaisedBy:    d.RaisedBy,
		Reason:      d.Reason,
		Status:      string(d.Status),
		Arbitrator:  d.Arbitrator,
		Resolution:  d.Resolution,
		CreatedAt:   d.CreatedAt,
		ResolvedAt:  d.ResolvedAt,
	}
}

func (h *APIHandlers) raiseDispute(w http.ResponseWriter, r *http.Request) {
	jobID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		MilestoneID *int   `json:"milestone_id"`
		Reason      string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	d, err := h.jobs.RaiseDispute(r.Context(), callerFrom(r.Context()), jobID, req.MilestoneID, req.Reason)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, toDisputeResponse(d))
}

func (h *APIHandlers) getDispute(w http.ResponseWriter, r *http.Request) {
	disputeID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	d, err := h.disputes.Get(r.Context(), callerFrom(r.Context()), disputeID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toDisputeResponse(d))
}

func (h *APIHandlers) submitEvidence(w http.ResponseWriter, r *http.Request) {
	disputeID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		Description string `json:"description"`
		Attachment  string `json:"attachment"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ev, err := h.disputes.SubmitEvidence(r.Context(), callerFrom(r.Context()), disputeID, req.Description, req.Attachment)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{
		"id":          ev.ID,
		"dispute_id":  ev.DisputeID,
		"submitter":   ev.Submitter,
		"description": ev.Description,
		"attachment":  ev.Attachment,
		"created_at":  ev.CreatedAt,
	})
}

func (h *APIHandlers) listEvidence(w http.ResponseWriter, r *http.Request) {
	disputeID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	evidence, err := h.disputes.Evidence(r.Context(), callerFrom(r.Context()), disputeID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, evidence)
}

func (h *APIHandlers) sendMessage(w http.ResponseWriter, r *http.Request) {
	disputeID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		Body    string `json:"body"`
		Private bool   `json:"private"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	msg, err := h.disputes.SendMessage(r.Context(), callerFrom(r.Context()), disputeID, req.Body, req.Private)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, msg)
}

func (h *APIHandlers) listMessages(w http.ResponseWriter, r *http.Request) {
	disputeID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	msgs, err := h.disputes.Messages(r.Context(), callerFrom(r.Context()), disputeID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, msgs)
}

func (h *APIHandlers) listVotes(w http.ResponseWriter, r *http.Request) {
	disputeID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	votes, err := h.disputes.Votes(r.Context(), callerFrom(r.Context()), disputeID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, votes)
}

func (h *APIHandlers) updateStage(w http.ResponseWriter, r *http.Request) {
	disputeID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		Stage string `json:"stage"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	d, err := h.disputes.UpdateStage(r.Context(), callerFrom(r.Context()), disputeID, dispute.Status(req.Stage))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toDisputeResponse(d))
}

func (h *APIHandlers) resolveDispute(w http.ResponseWriter, r *http.Request) {
	disputeID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req dispute.Resolution
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	d, err := h.disputes.Resolve(r.Context(), callerFrom(r.Context()), disputeID, req)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toDisputeResponse(d))
}

func (h *APIHandlers) assignArbitrator(w http.ResponseWriter, r *http.Request) {
	disputeID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		ArbitratorID string `json:"arbitrator_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ArbitratorID == "" {
		writeError(w, http.StatusBadRequest, "arbitrator_id is required")
		return
	}

	d, err := h.jobs.AssignArbitrator(r.Context(), callerFrom(r.Context()), disputeID, req.ArbitratorID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toDisputeResponse(d))
}

func (h *APIHandlers) cancelDispute(w http.ResponseWriter, r *http.Request) {
	disputeID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	d, err := h.jobs.CancelDispute(r.Context(), callerFrom(r.Context()), disputeID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toDisputeResponse(d))
}

func (h *APIHandlers) addArbitrator(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	if err := h.jobs.AddArbitrator(r.Context(), callerFrom(r.Context()), req.UserID); err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]string{"user_id": req.UserID})
}

func (h *APIHandlers) removeArbitrator(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "arbitrator id is required")
		return
	}

	if err := h.jobs.RemoveArbitrator(r.Context(), callerFrom(r.Context()), userID); err != nil {
		h.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- helpers ---

func pathID(w http.ResponseWriter, r *http.Request, name string) (uint64, bool) {
	id, err := strconv.ParseUint(r.PathValue(name), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}

func pathJobMilestone(w http.ResponseWriter, r *http.Request) (uint64, int, bool) {
	jobID, ok := pathID(w, r, "id")
	if !ok {
		return 0, 0, false
	}
	milestoneID, err := strconv.Atoi(r.PathValue("mid"))
	if err != nil || milestoneID < 0 {
		writeError(w, http.StatusBadRequest, "invalid milestone id")
		return 0, 0, false
	}
	return jobID, milestoneID, true
}

func (h *APIHandlers) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusForError(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeError(w, status, "internal error")
		return
	}
	writeError(w, status, err.Error())
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, job.ErrNotFound),
		errors.Is(err, escrow.ErrAccountNotFound),
		errors.Is(err, dispute.ErrNotFound),
		errors.Is(err, identity.ErrUserNotFound),
		errors.Is(err, job.ErrMilestoneNotFound),
		errors.Is(err, dispute.ErrUnknownArbitrator):
		return http.StatusNotFound

	case errors.Is(err, identity.ErrInvalidCredentials):
		return http.StatusUnauthorized

	case errors.Is(err, job.ErrNotClient),
		errors.Is(err, job.ErrNotFreelancer),
		errors.Is(err, job.ErrNotParty),
		errors.Is(err, job.ErrNotOperator),
		errors.Is(err, escrow.ErrNotAuthorized),
		errors.Is(err, escrow.ErrNotClient),
		errors.Is(err, escrow.ErrNotParty),
		errors.Is(err, dispute.ErrNotAuthorized),
		errors.Is(err, dispute.ErrNotParty),
		errors.Is(err, dispute.ErrNotArbitrator):
		return http.StatusForbidden

	case errors.Is(err, identity.ErrDuplicateEmail),
		errors.Is(err, escrow.ErrAccountExists),
		errors.Is(err, job.ErrWrongStatus),
		errors.Is(err, job.ErrMilestoneStatus),
		errors.Is(err, escrow.ErrOverRelease),
		errors.Is(err, escrow.ErrNothingToRefund),
		errors.Is(err, dispute.ErrClosed),
		errors.Is(err, dispute.ErrBadStatus),
		errors.Is(err, dispute.ErrDuplicateArbitrator):
		return http.StatusConflict

	case errors.Is(err, identity.ErrWeakPassword),
		errors.Is(err, job.ErrNoMilestones),
		errors.Is(err, job.ErrBadAmount),
		errors.Is(err, job.ErrAmountOverflow),
		errors.Is(err, job.ErrReasonTooShort),
		errors.Is(err, job.ErrNotRegistered),
		errors.Is(err, job.ErrNoFreelancer),
		errors.Is(err, escrow.ErrFeeTooHigh),
		errors.Is(err, escrow.ErrAmountTooSmall),
		errors.Is(err, escrow.ErrNoFreelancer),
		errors.Is(err, dispute.ErrReasonTooShort),
		errors.Is(err, dispute.ErrBadResolution):
		return http.StatusBadRequest
	}

	if transferErr, ok := ledger.AsTransferError(err); ok {
		if transferErr.Code == ledger.CodeInsufficientFunds {
			return http.StatusPaymentRequired
		}
		return http.StatusBadGateway
	}

	return http.StatusInternalServerError
}
