package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/pmehta/loanbook/pkg/auth"
	"github.com/pmehta/loanbook/pkg/config"
	"github.com/pmehta/loanbook/pkg/ledger"
	"github.com/pmehta/loanbook/pkg/models"
	"github.com/pmehta/loanbook/pkg/store"
)

// Server holds the ledger instance and the token issuer.
type Server struct {
	ledger  *ledger.Ledger
	tokens  *auth.TokenIssuer
	devMode bool
}

func NewServer(s store.Storage, cfg config.Server) *Server {
	return &Server{
		ledger:  ledger.NewLedger(s),
		tokens:  auth.NewTokenIssuer(cfg.JWTSigningKey, cfg.TokenTTL),
		devMode: cfg.DevMode,
	}
}

func (s *Server) routes() *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/auth/token", s.devTokenHandler).Methods("POST")
	router.HandleFunc("/admins", s.registerAdminHandler).Methods("POST")

	router.HandleFunc("/loans", s.withAuth(s.applyLoanHandler)).Methods("POST")
	router.HandleFunc("/loans", s.withAuth(s.listLoansHandler)).Methods("GET")
	router.HandleFunc("/my/loans", s.withAuth(s.myLoansHandler)).Methods("GET")
	router.HandleFunc("/loans/{id}", s.withAuth(s.getLoanHandler)).Methods("GET")
	router.HandleFunc("/loans/{id}/approve", s.withAuth(s.approveLoanHandler)).Methods("POST")
	router.HandleFunc("/loans/{id}/reject", s.withAuth(s.rejectLoanHandler)).Methods("POST")
	router.HandleFunc("/loans/{id}/disburse", s.withAuth(s.disburseLoanHandler)).Methods("POST")
	router.HandleFunc("/loans/{id}/repayments", s.withAuth(s.repayHandler)).Methods("POST")
	router.HandleFunc("/loans/{id}/repayments", s.withAuth(s.listRepaymentsHandler)).Methods("GET")

	return router
}

// withAuth resolves the bearer token and hands the identity to the
// wrapped handler.
func (s *Server) withAuth(next func(http.ResponseWriter, *http.Request, auth.Identity)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}
		identity, err := s.tokens.Resolve(header[len(prefix):])
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		next(w, r, *identity)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeDomainError maps ledger errors onto HTTP statuses: validation
// failures are 400, authorization 403, missing entities 404, state
// conflicts 409.
func writeDomainError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ledger.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, ledger.ErrNotFound), errors.Is(err, ledger.ErrAdminNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ledger.ErrAlreadyInStatus),
		errors.Is(err, ledger.ErrInvalidOperation),
		errors.Is(err, ledger.ErrWrongStatus):
		status = http.StatusConflict
	case errors.Is(err, ledger.ErrTooManyActiveLoans),
		errors.Is(err, ledger.ErrDuplicateLoanType),
		errors.Is(err, ledger.ErrInvalidLoanType),
		errors.Is(err, ledger.ErrInvalidPrincipal),
		errors.Is(err, ledger.ErrInvalidCreditScore),
		errors.Is(err, ledger.ErrInvalidTenure),
		errors.Is(err, ledger.ErrInvalidAmount):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		log.Printf("internal error: %v", err)
		http.Error(w, "internal error", status)
		return
	}
	http.Error(w, err.Error(), status)
}

// devTokenHandler mints a token for an arbitrary subject/role. It
// stands in for an external identity provider and only exists in dev
// mode.
func (s *Server) devTokenHandler(w http.ResponseWriter, r *http.Request) {
	if !s.devMode {
		http.NotFound(w, r)
		return
	}
	var req struct {
		Subject string      `json:"subject"`
		Role    models.Role `json:"role"`
		Name    string      `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Subject == "" || (req.Role != models.RoleBorrower && req.Role != models.RoleAdmin) {
		http.Error(w, "subject and a valid role are required", http.StatusBadRequest)
		return
	}
	token, err := s.tokens.Issue(auth.Identity{Subject: req.Subject, Role: req.Role, Name: req.Name})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (s *Server) registerAdminHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.FirstName == "" {
		http.Error(w, "first_name is required", http.StatusBadRequest)
		return
	}

	admin, err := s.ledger.RegisterAdmin(req.FirstName, req.LastName)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	token, err := s.tokens.Issue(auth.Identity{
		Subject: admin.ID.String(),
		Role:    models.RoleAdmin,
		Name:    admin.DisplayName(),
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"admin": admin, "token": token})
}

func (s *Server) applyLoanHandler(w http.ResponseWriter, r *http.Request, identity auth.Identity) {
	var req struct {
		LoanType     models.LoanType `json:"loan_type"`
		CreditScore  int             `json:"credit_score"`
		Principal    decimal.Decimal `json:"principal"`
		TenureMonths int             `json:"tenure_months"`
		AnnualRate   *float64        `json:"annual_rate,omitempty"`
		StartDate    *time.Time      `json:"start_date,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	loan, err := s.ledger.Apply(ledger.Application{
		CustomerID:   identity.Subject,
		Role:         identity.Role,
		LoanType:     req.LoanType,
		CreditScore:  req.CreditScore,
		Principal:    req.Principal,
		TenureMonths: req.TenureMonths,
		AnnualRate:   req.AnnualRate,
		StartDate:    req.StartDate,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, loan)
}

func (s *Server) listLoansHandler(w http.ResponseWriter, r *http.Request, identity auth.Identity) {
	if identity.Role != models.RoleAdmin {
		http.Error(w, "ADMIN role required", http.StatusForbidden)
		return
	}
	status := models.LoanStatus(r.URL.Query().Get("status"))
	switch status {
	case models.StatusApplied, models.StatusApproved, models.StatusDisbursed, models.StatusRejected, models.StatusClosed:
	default:
		http.Error(w, "status must be one of APPLIED, APPROVED, DISBURSED, REJECTED, CLOSED", http.StatusBadRequest)
		return
	}
	loans, err := s.ledger.LoansByStatus(status)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if loans == nil {
		loans = []*models.Loan{}
	}
	writeJSON(w, http.StatusOK, loans)
}

func (s *Server) myLoansHandler(w http.ResponseWriter, r *http.Request, identity auth.Identity) {
	if identity.Role != models.RoleBorrower {
		http.Error(w, "BORROWER role required", http.StatusForbidden)
		return
	}
	loans, err := s.ledger.LoansForCustomer(identity.Subject)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if loans == nil {
		loans = []*models.Loan{}
	}
	writeJSON(w, http.StatusOK, loans)
}

func loanIDFromRequest(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	loanID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "Invalid loan ID", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return loanID, true
}

func (s *Server) getLoanHandler(w http.ResponseWriter, r *http.Request, identity auth.Identity) {
	loanID, ok := loanIDFromRequest(w, r)
	if !ok {
		return
	}

	var loan *models.Loan
	var err error
	if identity.Role == models.RoleAdmin {
		loan, err = s.ledger.GetLoan(loanID)
	} else {
		loan, err = s.ledger.GetLoanOwned(loanID, identity.Subject)
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loan)
}

func (s *Server) adminIDFromIdentity(w http.ResponseWriter, identity auth.Identity) (uuid.UUID, bool) {
	if identity.Role != models.RoleAdmin {
		http.Error(w, "ADMIN role required", http.StatusForbidden)
		return uuid.Nil, false
	}
	adminID, err := uuid.Parse(identity.Subject)
	if err != nil {
		http.Error(w, "Invalid admin ID", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return adminID, true
}

func (s *Server) approveLoanHandler(w http.ResponseWriter, r *http.Request, identity auth.Identity) {
	loanID, ok := loanIDFromRequest(w, r)
	if !ok {
		return
	}
	adminID, ok := s.adminIDFromIdentity(w, identity)
	if !ok {
		return
	}
	loan, err := s.ledger.Approve(loanID, adminID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loan)
}

func (s *Server) rejectLoanHandler(w http.ResponseWriter, r *http.Request, identity auth.Identity) {
	loanID, ok := loanIDFromRequest(w, r)
	if !ok {
		return
	}
	adminID, ok := s.adminIDFromIdentity(w, identity)
	if !ok {
		return
	}
	var req struct {
		Reason string `json:"reason"`
	}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}
	loan, err := s.ledger.Reject(loanID, adminID, req.Reason)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loan)
}

func (s *Server) disburseLoanHandler(w http.ResponseWriter, r *http.Request, identity auth.Identity) {
	loanID, ok := loanIDFromRequest(w, r)
	if !ok {
		return
	}
	adminID, ok := s.adminIDFromIdentity(w, identity)
	if !ok {
		return
	}
	loan, err := s.ledger.Disburse(loanID, adminID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loan)
}

func (s *Server) repayHandler(w http.ResponseWriter, r *http.Request, identity auth.Identity) {
	loanID, ok := loanIDFromRequest(w, r)
	if !ok {
		return
	}
	if identity.Role != models.RoleBorrower {
		http.Error(w, "BORROWER role required", http.StatusForbidden)
		return
	}
	var req struct {
		Amount decimal.Decimal `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	result, err := s.ledger.Repay(loanID, identity.Subject, req.Amount)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (s *Server) listRepaymentsHandler(w http.ResponseWriter, r *http.Request, identity auth.Identity) {
	loanID, ok := loanIDFromRequest(w, r)
	if !ok {
		return
	}
	if identity.Role != models.RoleAdmin {
		if _, err := s.ledger.GetLoanOwned(loanID, identity.Subject); err != nil {
			writeDomainError(w, err)
			return
		}
	}
	records, err := s.ledger.Repayments(loanID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if records == nil {
		records = []*models.RepaymentRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

func main() {
	cfg := config.FromEnv()

	sqliteStore, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to initialize SQLite store: %v", err)
	}
	defer sqliteStore.Close()

	server := NewServer(sqliteStore, cfg)
	httpServer := &http.Server{Addr: cfg.Addr, Handler: server.routes()}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("Server starting on %s", cfg.Addr)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
