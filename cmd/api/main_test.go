package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pmehta/loanbook/pkg/config"
	"github.com/pmehta/loanbook/pkg/models"
	"github.com/pmehta/loanbook/pkg/store"
)

func newTestServer(t *testing.T) (*Server, *mux.Router) {
	t.Helper()
	cfg := config.Server{
		JWTSigningKey: "test-secret",
		TokenTTL:      time.Hour,
		DevMode:       true,
	}
	server := NewServer(store.NewMemoryStore(), cfg)
	return server, server.routes()
}

func doRequest(t *testing.T, router *mux.Router, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rr.Body).Decode(v), "body: %s", rr.Body.String())
}

func borrowerToken(t *testing.T, router *mux.Router, subject string) string {
	t.Helper()
	rr := doRequest(t, router, "POST", "/auth/token", "", map[string]string{
		"subject": subject,
		"role":    "BORROWER",
		"name":    "Test Borrower",
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var resp map[string]string
	decodeBody(t, rr, &resp)
	return resp["token"]
}

func adminToken(t *testing.T, router *mux.Router) string {
	t.Helper()
	rr := doRequest(t, router, "POST", "/admins", "", map[string]string{
		"first_name": "Ada",
		"last_name":  "Admin",
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var resp struct {
		Admin models.Admin `json:"admin"`
		Token string       `json:"token"`
	}
	decodeBody(t, rr, &resp)
	require.NotEmpty(t, resp.Token)
	return resp.Token
}

func applyBody(loanType string, principal string) map[string]interface{} {
	return map[string]interface{}{
		"loan_type":     loanType,
		"credit_score":  720,
		"principal":     json.RawMessage(principal),
		"tenure_months": 12,
		"annual_rate":   9.0,
	}
}

func TestAuthRequired(t *testing.T) {
	_, router := newTestServer(t)

	rr := doRequest(t, router, "POST", "/loans", "", applyBody("GOLD", "120000"))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = doRequest(t, router, "POST", "/loans", "not-a-token", applyBody("GOLD", "120000"))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestDevTokenDisabledOutsideDevMode(t *testing.T) {
	cfg := config.Server{JWTSigningKey: "test-secret", TokenTTL: time.Hour, DevMode: false}
	server := NewServer(store.NewMemoryStore(), cfg)
	router := server.routes()

	rr := doRequest(t, router, "POST", "/auth/token", "", map[string]string{
		"subject": "cust-1", "role": "BORROWER",
	})
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestLoanLifecycleOverHTTP(t *testing.T) {
	_, router := newTestServer(t)
	admin := adminToken(t, router)
	borrower := borrowerToken(t, router, "cust-1")

	// Apply.
	rr := doRequest(t, router, "POST", "/loans", borrower, applyBody("GOLD", "120000"))
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var loan models.Loan
	decodeBody(t, rr, &loan)
	assert.Equal(t, "cust-1", loan.CustomerID)
	assert.Equal(t, models.StatusApplied, loan.Status)
	assert.Equal(t, "10494.18", loan.EMIAmount.String())
	assert.Equal(t, "125930.13", loan.TotalPayable.String())
	assert.Len(t, loan.Schedule, 12)

	// The borrower sees their own loan, another borrower does not.
	rr = doRequest(t, router, "GET", "/loans/"+loan.ID.String(), borrower, nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	stranger := borrowerToken(t, router, "cust-2")
	rr = doRequest(t, router, "GET", "/loans/"+loan.ID.String(), stranger, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	// Approve, then disburse.
	rr = doRequest(t, router, "POST", fmt.Sprintf("/loans/%s/approve", loan.ID), admin, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	decodeBody(t, rr, &loan)
	assert.Equal(t, models.StatusApproved, loan.Status)
	assert.Equal(t, "Ada Admin", loan.ApprovedBy)

	rr = doRequest(t, router, "POST", fmt.Sprintf("/loans/%s/approve", loan.ID), admin, nil)
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = doRequest(t, router, "POST", fmt.Sprintf("/loans/%s/disburse", loan.ID), admin, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	decodeBody(t, rr, &loan)
	assert.Equal(t, models.StatusDisbursed, loan.Status)

	// One EMI payment.
	rr = doRequest(t, router, "POST", fmt.Sprintf("/loans/%s/repayments", loan.ID), borrower,
		map[string]interface{}{"amount": json.RawMessage("10494.18")})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var result struct {
		RemainingBalance decimal.Decimal   `json:"remaining_balance"`
		Status           models.LoanStatus `json:"status"`
	}
	decodeBody(t, rr, &result)
	assert.Equal(t, "115435.95", result.RemainingBalance.String())
	assert.Equal(t, models.StatusDisbursed, result.Status)

	// Overpaying the remaining balance is rejected.
	rr = doRequest(t, router, "POST", fmt.Sprintf("/loans/%s/repayments", loan.ID), borrower,
		map[string]interface{}{"amount": json.RawMessage("200000")})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	// Settle the rest and confirm closure.
	rr = doRequest(t, router, "POST", fmt.Sprintf("/loans/%s/repayments", loan.ID), borrower,
		map[string]interface{}{"amount": json.RawMessage("115435.95")})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	decodeBody(t, rr, &result)
	assert.True(t, result.RemainingBalance.IsZero())
	assert.Equal(t, models.StatusClosed, result.Status)

	// History is visible to both owner and admin.
	for _, token := range []string{borrower, admin} {
		rr = doRequest(t, router, "GET", fmt.Sprintf("/loans/%s/repayments", loan.ID), token, nil)
		require.Equal(t, http.StatusOK, rr.Code)
		var records []models.RepaymentRecord
		decodeBody(t, rr, &records)
		assert.Len(t, records, 2)
	}

	// A payment against the closed loan conflicts.
	rr = doRequest(t, router, "POST", fmt.Sprintf("/loans/%s/repayments", loan.ID), borrower,
		map[string]interface{}{"amount": json.RawMessage("10")})
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestRoleEnforcement(t *testing.T) {
	_, router := newTestServer(t)
	admin := adminToken(t, router)
	borrower := borrowerToken(t, router, "cust-1")

	// Admins cannot apply for loans.
	rr := doRequest(t, router, "POST", "/loans", admin, applyBody("GOLD", "120000"))
	assert.Equal(t, http.StatusForbidden, rr.Code)

	// Borrowers cannot run admin actions or list by status.
	rr = doRequest(t, router, "POST", "/loans", borrower, applyBody("GOLD", "120000"))
	require.Equal(t, http.StatusCreated, rr.Code)
	var loan models.Loan
	decodeBody(t, rr, &loan)

	rr = doRequest(t, router, "POST", fmt.Sprintf("/loans/%s/approve", loan.ID), borrower, nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = doRequest(t, router, "GET", "/loans?status=APPLIED", borrower, nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	// Admins have no personal loan list.
	rr = doRequest(t, router, "GET", "/my/loans", admin, nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestListLoans(t *testing.T) {
	_, router := newTestServer(t)
	admin := adminToken(t, router)
	borrower := borrowerToken(t, router, "cust-1")

	rr := doRequest(t, router, "GET", "/loans?status=PENDING", admin, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = doRequest(t, router, "GET", "/loans?status=APPLIED", admin, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var loans []models.Loan
	decodeBody(t, rr, &loans)
	assert.Empty(t, loans)

	rr = doRequest(t, router, "POST", "/loans", borrower, applyBody("VEHICLE", "250000"))
	require.Equal(t, http.StatusCreated, rr.Code)

	rr = doRequest(t, router, "GET", "/loans?status=APPLIED", admin, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	decodeBody(t, rr, &loans)
	require.Len(t, loans, 1)
	assert.Equal(t, "cust-1", loans[0].CustomerID)

	rr = doRequest(t, router, "GET", "/my/loans", borrower, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	decodeBody(t, rr, &loans)
	assert.Len(t, loans, 1)
}

func TestApplyValidationOverHTTP(t *testing.T) {
	_, router := newTestServer(t)
	borrower := borrowerToken(t, router, "cust-1")

	body := applyBody("YACHT", "120000")
	rr := doRequest(t, router, "POST", "/loans", borrower, body)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	body = applyBody("GOLD", "120000")
	body["credit_score"] = 500
	rr = doRequest(t, router, "POST", "/loans", borrower, body)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = doRequest(t, router, "GET", "/loans/not-a-uuid", borrower, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestEligibilityOverHTTP(t *testing.T) {
	_, router := newTestServer(t)
	borrower := borrowerToken(t, router, "cust-1")

	rr := doRequest(t, router, "POST", "/loans", borrower, applyBody("GOLD", "120000"))
	require.Equal(t, http.StatusCreated, rr.Code)

	// Second active loan of the same type is refused.
	rr = doRequest(t, router, "POST", "/loans", borrower, applyBody("GOLD", "50000"))
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = doRequest(t, router, "POST", "/loans", borrower, applyBody("VEHICLE", "250000"))
	require.Equal(t, http.StatusCreated, rr.Code)

	// Third active loan breaches the cap regardless of type.
	rr = doRequest(t, router, "POST", "/loans", borrower, applyBody("EDUCATION", "80000"))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}
