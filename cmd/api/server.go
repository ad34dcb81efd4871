package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"roadflow/assignment"
	"roadflow/auth"
	"roadflow/bid"
	"roadflow/claim"
	"roadflow/db"
	"roadflow/job"
	"roadflow/provider"
)

type ctxKey string

const ctxKeyCaller ctxKey = "caller"

// jobEngine is the slice of job.Service the handlers use.
type jobEngine interface {
	Create(ctx context.Context, caller auth.CallerContext, params job.CreateParams) (job.Job, error)
	Get(ctx context.Context, id string) (job.Job, error)
	List(ctx context.Context, filters job.Filters) ([]job.Job, int, error)
}

type statusEngine interface {
	Transition(ctx context.Context, caller auth.CallerContext, jobID string, next job.Status) (job.Job, error)
}

type bidEngine interface {
	PlaceOrUpdate(ctx context.Context, caller auth.CallerContext, params bid.PlaceParams) (bid.Bid, error)
	Accept(ctx context.Context, caller auth.CallerContext, jobID, bidID string) (bid.AcceptResult, error)
	Reject(ctx context.Context, caller auth.CallerContext, jobID, bidID string) (bid.Bid, error)
	SubmitCounter(ctx context.Context, caller auth.CallerContext, params bid.CounterParams) (bid.Bid, error)
	RespondToCounter(ctx context.Context, caller auth.CallerContext, jobID, bidID string, decision bid.Decision) (bid.Bid, error)
	ListForJob(ctx context.Context, jobID string) ([]bid.Bid, error)
}

type assignEngine interface {
	AssignTechnician(ctx context.Context, caller auth.CallerContext, jobID string, employeeID *string) (job.Job, error)
}

type claimEngine interface {
	Issue(ctx context.Context, caller auth.CallerContext, jobID string, ttl time.Duration) (claim.IssuedToken, error)
	Claim(ctx context.Context, jobID, rawSecret, customerUID string) error
}

// Server wires HTTP routes to the engine services.
type Server struct {
	authService     *auth.Service
	jobService      jobEngine
	statusService   statusEngine
	bidService      bidEngine
	assignService   assignEngine
	claimService    claimEngine
	providerService *provider.Service
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/register", s.handleRegister)
	mux.HandleFunc("/api/auth/login", s.handleLogin)
	mux.HandleFunc("/api/jobs", s.authed(s.handleJobs))
	mux.HandleFunc("/api/jobs/", s.authed(s.handleJobDetail))
	mux.HandleFunc("/api/providers/", s.handleProvider)
	mux.HandleFunc("/api/locations/", s.handleLocation)
	return mux
}

// authed resolves the bearer token into a caller context before invoking the
// handler. Handlers read the caller back out with callerFrom.
func (s *Server) authed(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		caller, err := s.authService.VerifyToken(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), ctxKeyCaller, caller)))
	}
}

func callerFrom(r *http.Request) (auth.CallerContext, bool) {
	caller, ok := r.Context().Value(ctxKeyCaller).(auth.CallerContext)
	return caller, ok
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req auth.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := s.authService.Register(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toUserResponse(*user))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req auth.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := s.authService.Login(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{
		Token: result.Token,
		User:  toUserResponse(result.User),
	})
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing caller")
		return
	}

	switch r.Method {
	case http.MethodPost:
		var req createJobRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		created, err := s.jobService.Create(r.Context(), caller, job.CreateParams{
			IssueKind:      req.IssueKind,
			PickupAddress:  req.PickupAddress,
			DropoffAddress: req.DropoffAddress,
			ContactPhone:   req.ContactPhone,
			LocationID:     req.LocationID,
		})
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toJobResponse(created))

	case http.MethodGet:
		q := r.URL.Query()
		filters := job.Filters{
			CustomerUID: q.Get("customer"),
			ProviderID:  q.Get("provider"),
			Status:      job.Status(q.Get("status")),
			Page:        parseIntDefault(q.Get("page"), 1),
			PageSize:    parseIntDefault(q.Get("pageSize"), 20),
		}
		jobs, total, err := s.jobService.List(r.Context(), filters)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		items := make([]jobResponse, 0, len(jobs))
		for _, j := range jobs {
			items = append(items, toJobResponse(j))
		}
		writeJSON(w, http.StatusOK, listResponse[jobResponse]{Items: items, Total: total})

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleJobDetail dispatches /api/jobs/{id}[/...] by path segments.
func (s *Server) handleJobDetail(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		writeError(w, http.StatusBadRequest, "job id required")
		return
	}
	jobID := parts[0]

	switch {
	case len(parts) == 1:
		s.handleJob(w, r, jobID)
	case len(parts) == 2 && parts[1] == "status":
		s.handleJobStatus(w, r, jobID)
	case len(parts) == 2 && parts[1] == "bids":
		s.handleJobBids(w, r, jobID)
	case len(parts) == 4 && parts[1] == "bids":
		s.handleBidAction(w, r, jobID, parts[2], parts[3])
	case len(parts) == 2 && parts[1] == "assignee":
		s.handleJobAssignee(w, r, jobID)
	case len(parts) == 2 && parts[1] == "claim-token":
		s.handleClaimToken(w, r, jobID)
	case len(parts) == 2 && parts[1] == "claim":
		s.handleClaim(w, r, jobID)
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request, jobID string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	j, err := s.jobService.Get(r.Context(), jobID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toJobResponse(j))
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request, jobID string) {
	if r.Method != http.MethodPatch {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	caller, ok := callerFrom(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing caller")
		return
	}

	var req struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Status == "" {
		writeError(w, http.StatusBadRequest, "status required")
		return
	}

	updated, err := s.statusService.Transition(r.Context(), caller, jobID, job.Status(req.Status))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toJobResponse(updated))
}

func (s *Server) handleJobBids(w http.ResponseWriter, r *http.Request, jobID string) {
	caller, ok := callerFrom(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing caller")
		return
	}

	switch r.Method {
	case http.MethodPost:
		var req placeBidRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		placed, err := s.bidService.PlaceOrUpdate(r.Context(), caller, bid.PlaceParams{
			JobID:      jobID,
			Amount:     req.Amount,
			ETAMinutes: req.ETAMinutes,
			Message:    req.Message,
		})
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toBidResponse(placed))

	case http.MethodGet:
		bids, err := s.bidService.ListForJob(r.Context(), jobID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		items := make([]bidResponse, 0, len(bids))
		for _, b := range bids {
			items = append(items, toBidResponse(b))
		}
		writeJSON(w, http.StatusOK, listResponse[bidResponse]{Items: items, Total: len(items)})

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleBidAction(w http.ResponseWriter, r *http.Request, jobID, bidID, action string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	caller, ok := callerFrom(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing caller")
		return
	}

	switch action {
	case "accept":
		result, err := s.bidService.Accept(r.Context(), caller, jobID, bidID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, acceptResponse{
			Bid: toBidResponse(result.Bid),
			Job: toJobResponse(result.Job),
		})

	case "reject":
		rejected, err := s.bidService.Reject(r.Context(), caller, jobID, bidID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toBidResponse(rejected))

	case "counter":
		var req counterRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		countered, err := s.bidService.SubmitCounter(r.Context(), caller, bid.CounterParams{
			JobID:             jobID,
			BidID:             bidID,
			CounterAmount:     req.Amount,
			CounterETAMinutes: req.ETAMinutes,
			CounterMessage:    req.Message,
		})
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toBidResponse(countered))

	case "respond":
		var req struct {
			Decision string `json:"decision"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Decision == "" {
			writeError(w, http.StatusBadRequest, "decision required")
			return
		}
		resolved, err := s.bidService.RespondToCounter(r.Context(), caller, jobID, bidID, bid.Decision(req.Decision))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toBidResponse(resolved))

	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (s *Server) handleJobAssignee(w http.ResponseWriter, r *http.Request, jobID string) {
	if r.Method != http.MethodPut {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	caller, ok := callerFrom(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing caller")
		return
	}

	var req struct {
		EmployeeID *string `json:"employeeId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	updated, err := s.assignService.AssignTechnician(r.Context(), caller, jobID, req.EmployeeID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toJobResponse(updated))
}

func (s *Server) handleClaimToken(w http.ResponseWriter, r *http.Request, jobID string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	caller, ok := callerFrom(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing caller")
		return
	}

	var req struct {
		TTLMinutes int `json:"ttlMinutes"`
	}
	// An empty body means the default TTL.
	_ = json.NewDecoder(r.Body).Decode(&req)

	token, err := s.claimService.Issue(r.Context(), caller, jobID, time.Duration(req.TTLMinutes)*time.Minute)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, claimTokenResponse{
		JobID:     token.JobID,
		Code:      token.Secret,
		ExpiresAt: token.ExpiresAt.Format(time.RFC3339),
	})
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request, jobID string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	caller, ok := callerFrom(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing caller")
		return
	}

	var req struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Code == "" {
		writeError(w, http.StatusBadRequest, "claim code required")
		return
	}

	if err := s.claimService.Claim(r.Context(), jobID, req.Code, caller.UserID); err != nil {
		writeError(w, claimStatusFor(err), claim.PublicMessage(err))
		return
	}

	j, err := s.jobService.Get(r.Context(), jobID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toJobResponse(j))
}

func (s *Server) handleProvider(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/providers/"), "/")
	if id == "" {
		writeError(w, http.StatusBadRequest, "provider id required")
		return
	}

	p, err := s.providerService.GetByID(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, providerResponse{
		ID:        p.ID,
		Name:      p.Name,
		Phone:     p.Phone,
		Verified:  p.Verified,
		CreatedAt: p.CreatedAt.Format(time.RFC3339),
	})
}

func (s *Server) handleLocation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/locations/"), "/")
	if id == "" {
		writeError(w, http.StatusBadRequest, "location id required")
		return
	}

	loc, err := s.providerService.GetLocation(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	roster, err := s.providerService.Roster(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	entries := make([]rosterEntryResponse, 0, len(roster))
	for _, e := range roster {
		entries = append(entries, rosterEntryResponse{EmployeeID: e.EmployeeID, Role: e.Role})
	}
	writeJSON(w, http.StatusOK, locationResponse{
		ID:          loc.ID,
		ProviderID:  loc.ProviderID,
		Name:        loc.Name,
		AddressLine: loc.AddressLine,
		City:        loc.City,
		State:       loc.State,
		PostalCode:  loc.PostalCode,
		Roster:      entries,
	})
}

// claimStatusFor keeps one status code for every token-verification failure
// so responses give no oracle for guessing codes.
func claimStatusFor(err error) int {
	switch {
	case errors.Is(err, claim.ErrNoActiveToken), errors.Is(err, claim.ErrTokenExpired), errors.Is(err, claim.ErrInvalidToken):
		return http.StatusBadRequest
	case errors.Is(err, claim.ErrAlreadyClaimedByOther):
		return http.StatusConflict
	case errors.Is(err, claim.ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, db.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "invalid credentials")
	case errors.Is(err, auth.ErrWeakPassword),
		errors.Is(err, bid.ErrInvalidAmount):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, job.ErrForbidden),
		errors.Is(err, bid.ErrForbidden),
		errors.Is(err, assignment.ErrForbidden),
		errors.Is(err, claim.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, job.ErrNotFound),
		errors.Is(err, bid.ErrBidNotFound),
		errors.Is(err, claim.ErrJobNotFound),
		errors.Is(err, provider.ErrNotFound),
		errors.Is(err, provider.ErrLocationNotFound),
		errors.Is(err, auth.ErrUserNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, job.ErrInvalidTransition),
		errors.Is(err, bid.ErrJobNotBiddable),
		errors.Is(err, bid.ErrNoPendingCounter),
		errors.Is(err, assignment.ErrAssignmentLocked),
		errors.Is(err, assignment.ErrEmployeeNotInLocation),
		errors.Is(err, claim.ErrAlreadyClaimed),
		errors.Is(err, auth.ErrDuplicateEmail),
		errors.Is(err, db.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	default:
		log.Printf("api: internal error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("api: encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func parseIntDefault(s string, def int) int {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
